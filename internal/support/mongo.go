package support

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func findOne[T any](ctx context.Context, col *mongo.Collection, filter bson.M) (*T, error) {
	var v T
	if err := col.FindOne(ctx, filter).Decode(&v); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, err
	}
	return &v, nil
}

// MongoTickets implements TicketRepository on support_tickets.
type MongoTickets struct {
	col *mongo.Collection
}

func NewMongoTickets(db *mongo.Database) (*MongoTickets, error) {
	col := db.Collection("support_tickets")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := col.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "ticket_number", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "priority_level", Value: -1}, {Key: "created_at", Value: -1}}},
	})
	if err != nil {
		return nil, err
	}
	return &MongoTickets{col: col}, nil
}

func (r *MongoTickets) Create(ctx context.Context, t *Ticket) error {
	_, err := r.col.InsertOne(ctx, t)
	if mongo.IsDuplicateKeyError(err) {
		return ErrDuplicate
	}
	return err
}

func (r *MongoTickets) Update(ctx context.Context, t *Ticket) error {
	res, err := r.col.ReplaceOne(ctx, bson.M{"_id": t.ID}, t)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *MongoTickets) Get(ctx context.Context, id string) (*Ticket, error) {
	return findOne[Ticket](ctx, r.col, bson.M{"_id": id})
}

func (r *MongoTickets) List(ctx context.Context, f TicketFilter) ([]*Ticket, int64, error) {
	filter := bson.M{}
	for k, v := range map[string]string{
		"user_id": f.UserID, "status": f.Status, "priority": f.Priority,
		"assigned_to": f.AssignedTo, "category_id": f.CategoryID,
	} {
		if v != "" {
			filter[k] = v
		}
	}
	total, err := r.col.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	sort := bson.D{{Key: "created_at", Value: -1}}
	if f.ByPriority {
		sort = append(bson.D{{Key: "priority_level", Value: -1}}, sort...)
	}
	opts := options.Find().SetSort(sort).SetSkip(f.Skip)
	if f.Limit > 0 {
		opts.SetLimit(f.Limit)
	}
	cur, err := r.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, err
	}
	defer cur.Close(ctx)
	out := []*Ticket{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (r *MongoTickets) CountBy(ctx context.Context, field string) (map[string]int64, error) {
	cur, err := r.col.Aggregate(ctx, mongo.Pipeline{
		{{Key: "$match", Value: bson.M{field: bson.M{"$exists": true, "$ne": ""}}}},
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

func secondsSince(field string) bson.D {
	return bson.D{{Key: "$avg", Value: bson.D{{Key: "$divide", Value: bson.A{
		bson.D{{Key: "$subtract", Value: bson.A{"$" + field, "$created_at"}}}, 1000,
	}}}}}
}

func (r *MongoTickets) Averages(ctx context.Context) (*Averages, error) {
	cur, err := r.col.Aggregate(ctx, mongo.Pipeline{
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: nil},
			{Key: "response_seconds", Value: secondsSince("first_response_at")},
			{Key: "resolution_seconds", Value: secondsSince("resolved_at")},
			{Key: "satisfaction", Value: bson.D{{Key: "$avg", Value: "$satisfaction"}}},
		}}},
	})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var out Averages
	if cur.Next(ctx) {
		var row struct {
			Response   *float64 `bson:"response_seconds"`
			Resolution *float64 `bson:"resolution_seconds"`
			Sat        *float64 `bson:"satisfaction"`
		}
		if err := cur.Decode(&row); err != nil {
			return nil, err
		}
		out.ResponseSeconds = deref(row.Response)
		out.ResolutionSeconds = deref(row.Resolution)
		out.Satisfaction = deref(row.Sat)
	}
	return &out, cur.Err()
}

func deref(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}

// MongoResponses implements ResponseRepository on ticket_responses.
type MongoResponses struct {
	col *mongo.Collection
}

func NewMongoResponses(db *mongo.Database) (*MongoResponses, error) {
	col := db.Collection("ticket_responses")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := col.Indexes().CreateOne(ctx, mongo.IndexModel{Keys: bson.D{{Key: "ticket_id", Value: 1}, {Key: "created_at", Value: 1}}})
	if err != nil {
		return nil, err
	}
	return &MongoResponses{col: col}, nil
}

func (r *MongoResponses) Create(ctx context.Context, resp *Response) error {
	_, err := r.col.InsertOne(ctx, resp)
	return err
}

func (r *MongoResponses) List(ctx context.Context, ticketID string, withInternal bool) ([]*Response, error) {
	filter := bson.M{"ticket_id": ticketID}
	if !withInternal {
		filter["is_internal"] = false
	}
	cur, err := r.col.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	out := []*Response{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// MongoContent implements ContentRepository on support_categories and
// support_faq.
type MongoContent struct {
	categories *mongo.Collection
	faq        *mongo.Collection
}

func NewMongoContent(db *mongo.Database) (*MongoContent, error) {
	c := &MongoContent{categories: db.Collection("support_categories"), faq: db.Collection("support_faq")}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := c.faq.Indexes().CreateOne(ctx, mongo.IndexModel{Keys: bson.D{{Key: "category_id", Value: 1}, {Key: "sort_order", Value: 1}}})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// SeedDefaults inserts the built-in categories and FAQ, keeping documents
// that already exist.
func (c *MongoContent) SeedDefaults(ctx context.Context) (int, error) {
	d, err := Seed()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, cat := range d.Categories {
		if _, err := c.categories.InsertOne(ctx, cat); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				continue
			}
			return n, err
		}
		n++
	}
	for _, f := range d.FAQ {
		if _, err := c.faq.InsertOne(ctx, f); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				continue
			}
			return n, err
		}
		n++
	}
	return n, nil
}

func (c *MongoContent) Categories(ctx context.Context) ([]Category, error) {
	cur, err := c.categories.Find(ctx, bson.M{"is_active": true}, options.Find().SetSort(bson.D{{Key: "sort_order", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	out := []Category{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *MongoContent) Category(ctx context.Context, id string) (*Category, error) {
	return findOne[Category](ctx, c.categories, bson.M{"_id": id})
}

func (c *MongoContent) FAQ(ctx context.Context, categoryID string) ([]FAQ, error) {
	filter := bson.M{"is_published": true}
	if categoryID != "" {
		filter["category_id"] = categoryID
	}
	cur, err := c.faq.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "sort_order", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	out := []FAQ{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *MongoContent) ViewFAQ(ctx context.Context, id string) (*FAQ, error) {
	var f FAQ
	err := c.faq.FindOneAndUpdate(ctx, bson.M{"_id": id, "is_published": true},
		bson.M{"$inc": bson.M{"view_count": 1}},
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&f)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}
