package payments

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func ensureIndexes(col *mongo.Collection, models []mongo.IndexModel) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := col.Indexes().CreateMany(ctx, models)
	return err
}

func txQuery(f TxFilter) bson.M {
	q := bson.M{}
	if f.UserID != "" {
		q["user_id"] = f.UserID
	}
	if f.Type != "" {
		q["transaction_type"] = f.Type
	}
	if f.Status != "" {
		q["status"] = f.Status
	}
	if f.Provider != "" {
		q["provider"] = f.Provider
	}
	if f.RefundOf != "" {
		q["refund_of"] = f.RefundOf
	}
	if !f.Since.IsZero() {
		q["created_at"] = bson.M{"$gte": f.Since}
	}
	return q
}

type MongoTransactions struct {
	col *mongo.Collection
}

func NewMongoTransactions(db *mongo.Database) (*MongoTransactions, error) {
	col := db.Collection("payment_transactions")
	err := ensureIndexes(col, []mongo.IndexModel{
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "refund_of", Value: 1}}, Options: options.Index().SetSparse(true)},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: -1}}},
	})
	if err != nil {
		return nil, err
	}
	return &MongoTransactions{col: col}, nil
}

func (r *MongoTransactions) Create(ctx context.Context, t *Transaction) error {
	_, err := r.col.InsertOne(ctx, t)
	return err
}

func (r *MongoTransactions) Update(ctx context.Context, t *Transaction) error {
	res, err := r.col.ReplaceOne(ctx, bson.M{"_id": t.ID}, t)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *MongoTransactions) Settle(ctx context.Context, t *Transaction) (bool, error) {
	res, err := r.col.ReplaceOne(ctx, bson.M{"_id": t.ID, "status": TxPending}, t)
	if err != nil {
		return false, err
	}
	return res.MatchedCount == 1, nil
}

func (r *MongoTransactions) Get(ctx context.Context, id string) (*Transaction, error) {
	var t Transaction
	if err := r.col.FindOne(ctx, bson.M{"_id": id}).Decode(&t); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}

func (r *MongoTransactions) List(ctx context.Context, f TxFilter) ([]*Transaction, int64, error) {
	q := txQuery(f)
	total, err := r.col.CountDocuments(ctx, q)
	if err != nil {
		return nil, 0, err
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}).SetSkip(f.Skip)
	if f.Limit > 0 {
		opts.SetLimit(f.Limit)
	}
	cur, err := r.col.Find(ctx, q, opts)
	if err != nil {
		return nil, 0, err
	}
	defer cur.Close(ctx)
	out := []*Transaction{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (r *MongoTransactions) group(ctx context.Context, f TxFilter, key interface{}, sort bool) (*mongo.Cursor, error) {
	pipe := mongo.Pipeline{
		{{Key: "$match", Value: txQuery(f)}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: key},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
			{Key: "amount", Value: bson.D{{Key: "$sum", Value: "$amount"}}},
		}}},
	}
	if sort {
		pipe = append(pipe, bson.D{{Key: "$sort", Value: bson.D{{Key: "_id", Value: 1}}}})
	}
	return r.col.Aggregate(ctx, pipe)
}

func (r *MongoTransactions) TotalsBy(ctx context.Context, f TxFilter, field string) (map[string]Total, error) {
	switch field {
	case "transaction_type", "status", "provider":
	default:
		return nil, fmt.Errorf("unsupported grouping %s", field)
	}
	cur, err := r.group(ctx, f, "$"+field, false)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	out := map[string]Total{}
	for cur.Next(ctx) {
		var row struct {
			ID    string `bson:"_id"`
			Total `bson:",inline"`
		}
		if err := cur.Decode(&row); err != nil {
			return nil, err
		}
		out[row.ID] = row.Total
	}
	return out, cur.Err()
}

func (r *MongoTransactions) Monthly(ctx context.Context, f TxFilter) ([]MonthTotal, error) {
	key := bson.D{{Key: "$dateToString", Value: bson.D{{Key: "format", Value: "%Y-%m"}, {Key: "date", Value: "$created_at"}}}}
	cur, err := r.group(ctx, f, key, true)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	out := []MonthTotal{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

type MongoPromotions struct {
	col *mongo.Collection
}

func NewMongoPromotions(db *mongo.Database) (*MongoPromotions, error) {
	col := db.Collection("promotions")
	err := ensureIndexes(col, []mongo.IndexModel{
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "listing_id", Value: 1}, {Key: "status", Value: 1}}},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "ends_at", Value: 1}}},
	})
	if err != nil {
		return nil, err
	}
	return &MongoPromotions{col: col}, nil
}

func (r *MongoPromotions) Create(ctx context.Context, p *Promotion) error {
	_, err := r.col.InsertOne(ctx, p)
	return err
}

func (r *MongoPromotions) Update(ctx context.Context, p *Promotion) error {
	res, err := r.col.ReplaceOne(ctx, bson.M{"_id": p.ID}, p)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *MongoPromotions) Get(ctx context.Context, id string) (*Promotion, error) {
	var p Promotion
	if err := r.col.FindOne(ctx, bson.M{"_id": id}).Decode(&p); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

func (r *MongoPromotions) List(ctx context.Context, userID, status string, skip, limit int64) ([]*Promotion, int64, error) {
	q := bson.M{"user_id": userID}
	if status != "" {
		q["status"] = status
	}
	total, err := r.col.CountDocuments(ctx, q)
	if err != nil {
		return nil, 0, err
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}).SetSkip(skip)
	if limit > 0 {
		opts.SetLimit(limit)
	}
	cur, err := r.col.Find(ctx, q, opts)
	if err != nil {
		return nil, 0, err
	}
	defer cur.Close(ctx)
	out := []*Promotion{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (r *MongoPromotions) ActiveFlag(ctx context.Context, listingID, flag, exceptID string) (bool, error) {
	n, err := r.col.CountDocuments(ctx, bson.M{
		"listing_id": listingID, "flag": flag, "status": PromoActive, "_id": bson.M{"$ne": exceptID},
	}, options.Count().SetLimit(1))
	return n > 0, err
}

func (r *MongoPromotions) Due(ctx context.Context, now time.Time) ([]*Promotion, error) {
	cur, err := r.col.Find(ctx, bson.M{"status": PromoActive, "ends_at": bson.M{"$lte": now}})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	out := []*Promotion{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// MongoServices keeps the price list in promotion_services, seeded from
// DefaultServices on first start.
type MongoServices struct {
	col *mongo.Collection
}

func NewMongoServices(db *mongo.Database) (*MongoServices, error) {
	col := db.Collection("promotion_services")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, s := range DefaultServices {
		if _, err := col.InsertOne(ctx, s); err != nil && !mongo.IsDuplicateKeyError(err) {
			return nil, err
		}
	}
	return &MongoServices{col: col}, nil
}

func (r *MongoServices) List(ctx context.Context) ([]PromotionService, error) {
	cur, err := r.col.Find(ctx, bson.M{"is_active": true}, options.Find().SetSort(bson.D{{Key: "sort_order", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	out := []PromotionService{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *MongoServices) Get(ctx context.Context, code string) (*PromotionService, error) {
	var s PromotionService
	if err := r.col.FindOne(ctx, bson.M{"_id": code}).Decode(&s); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}
