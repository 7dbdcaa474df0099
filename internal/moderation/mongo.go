package moderation

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func countBy(ctx context.Context, col *mongo.Collection, match bson.M, field string) (map[string]int64, error) {
	cur, err := col.Aggregate(ctx, mongo.Pipeline{
		{{Key: "$match", Value: match}},
		{{Key: "$group", Value: bson.D{{Key: "_id", Value: "$" + field}, {Key: "n", Value: bson.D{{Key: "$sum", Value: 1}}}}}},
	})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	out := map[string]int64{}
	for cur.Next(ctx) {
		var row struct {
			ID string `bson:"_id"`
			N  int64  `bson:"n"`
		}
		if err := cur.Decode(&row); err != nil {
			return nil, err
		}
		out[row.ID] = row.N
	}
	return out, cur.Err()
}

func findOne[T any](ctx context.Context, col *mongo.Collection, filter bson.M, opts ...*options.FindOneOptions) (*T, error) {
	var v T
	if err := col.FindOne(ctx, filter, opts...).Decode(&v); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, err
	}
	return &v, nil
}

func findPage[T any](ctx context.Context, col *mongo.Collection, filter bson.M, sort bson.D, skip, limit int64) ([]*T, int64, error) {
	total, err := col.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	opts := options.Find().SetSort(sort).SetSkip(skip)
	if limit > 0 {
		opts.SetLimit(limit)
	}
	cur, err := col.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, err
	}
	defer cur.Close(ctx)
	out := []*T{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func replace(ctx context.Context, col *mongo.Collection, id string, doc interface{}) error {
	res, err := col.ReplaceOne(ctx, bson.M{"_id": id}, doc)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func statusFilter(status string) bson.M {
	if status == "" {
		return bson.M{}
	}
	return bson.M{"status": status}
}

// MongoItemRepository implements ItemRepository on moderation_queue.
type MongoItemRepository struct {
	col *mongo.Collection
}

func NewMongoItemRepository(col *mongo.Collection) (*MongoItemRepository, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := col.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "priority", Value: -1}, {Key: "created_at", Value: 1}}},
		{Keys: bson.D{{Key: "listing_id", Value: 1}, {Key: "created_at", Value: -1}}},
	})
	if err != nil {
		return nil, err
	}
	return &MongoItemRepository{col: col}, nil
}

func (r *MongoItemRepository) Create(ctx context.Context, it *Item) error {
	_, err := r.col.InsertOne(ctx, it)
	return err
}

func (r *MongoItemRepository) Update(ctx context.Context, it *Item) error {
	return replace(ctx, r.col, it.ID, it)
}

func (r *MongoItemRepository) Get(ctx context.Context, id string) (*Item, error) {
	return findOne[Item](ctx, r.col, bson.M{"_id": id})
}

func (r *MongoItemRepository) Latest(ctx context.Context, listingID string) (*Item, error) {
	return findOne[Item](ctx, r.col, bson.M{"listing_id": listingID},
		options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}}))
}

func (r *MongoItemRepository) List(ctx context.Context, status string, skip, limit int64) ([]*Item, int64, error) {
	return findPage[Item](ctx, r.col, statusFilter(status),
		bson.D{{Key: "priority", Value: -1}, {Key: "created_at", Value: 1}}, skip, limit)
}

func (r *MongoItemRepository) CountByStatus(ctx context.Context) (map[string]int64, error) {
	return countBy(ctx, r.col, bson.M{}, "status")
}

func (r *MongoItemRepository) CountDecidedSince(ctx context.Context, since time.Time) (map[string]int64, error) {
	return countBy(ctx, r.col, bson.M{"decided_at": bson.M{"$gte": since}}, "status")
}

// MongoReportRepository implements ReportRepository on reports.
type MongoReportRepository struct {
	col *mongo.Collection
}

func NewMongoReportRepository(col *mongo.Collection) (*MongoReportRepository, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := col.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "reporter_id", Value: 1}, {Key: "entity_type", Value: 1}, {Key: "entity_id", Value: 1}}},
	})
	if err != nil {
		return nil, err
	}
	return &MongoReportRepository{col: col}, nil
}

func (r *MongoReportRepository) Create(ctx context.Context, rep *Report) error {
	_, err := r.col.InsertOne(ctx, rep)
	return err
}

func (r *MongoReportRepository) Update(ctx context.Context, rep *Report) error {
	return replace(ctx, r.col, rep.ID, rep)
}

func (r *MongoReportRepository) Get(ctx context.Context, id string) (*Report, error) {
	return findOne[Report](ctx, r.col, bson.M{"_id": id})
}

func (r *MongoReportRepository) FindPending(ctx context.Context, reporterID, entityType, entityID string) (*Report, error) {
	return findOne[Report](ctx, r.col, bson.M{
		"reporter_id": reporterID, "entity_type": entityType, "entity_id": entityID, "status": ReportPending,
	})
}

func (r *MongoReportRepository) List(ctx context.Context, status string, skip, limit int64) ([]*Report, int64, error) {
	return findPage[Report](ctx, r.col, statusFilter(status), bson.D{{Key: "created_at", Value: -1}}, skip, limit)
}

func (r *MongoReportRepository) CountByStatus(ctx context.Context) (map[string]int64, error) {
	return countBy(ctx, r.col, bson.M{}, "status")
}

func (r *MongoReportRepository) CountSince(ctx context.Context, since time.Time) (int64, error) {
	return r.col.CountDocuments(ctx, bson.M{"created_at": bson.M{"$gte": since}})
}
