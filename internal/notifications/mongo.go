package notifications

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoRepository implements Repository on the notifications collection.
type MongoRepository struct {
	col *mongo.Collection
}

func NewMongoRepository(col *mongo.Collection) (*MongoRepository, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := col.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "channel", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "is_read", Value: 1}}},
	})
	if err != nil {
		return nil, err
	}
	return &MongoRepository{col: col}, nil
}

func (r *MongoRepository) Create(ctx context.Context, n *Notification) error {
	_, err := r.col.InsertOne(ctx, n)
	return err
}

func (r *MongoRepository) Update(ctx context.Context, n *Notification) error {
	res, err := r.col.ReplaceOne(ctx, bson.M{"_id": n.ID}, n)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *MongoRepository) Get(ctx context.Context, id string) (*Notification, error) {
	var n Notification
	if err := r.col.FindOne(ctx, bson.M{"_id": id}).Decode(&n); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, err
	}
	return &n, nil
}

func inboxFilter(userID string) bson.M {
	return bson.M{"user_id": userID, "channel": ChannelInApp}
}

func (r *MongoRepository) ListByUser(ctx context.Context, userID string, unreadOnly bool, skip, limit int64) ([]*Notification, int64, error) {
	q := inboxFilter(userID)
	if unreadOnly {
		q["is_read"] = false
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
	out := []*Notification{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func readUpdate(at time.Time) bson.M {
	return bson.M{"$set": bson.M{"is_read": true, "read_at": at, "status": StatusRead}}
}

func (r *MongoRepository) MarkRead(ctx context.Context, userID, id string, at time.Time) (bool, error) {
	res, err := r.col.UpdateOne(ctx, bson.M{"_id": id, "user_id": userID}, readUpdate(at))
	if err != nil {
		return false, err
	}
	return res.MatchedCount > 0, nil
}

func (r *MongoRepository) MarkAllRead(ctx context.Context, userID string, at time.Time) (int64, error) {
	q := inboxFilter(userID)
	q["is_read"] = false
	res, err := r.col.UpdateMany(ctx, q, readUpdate(at))
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

func (r *MongoRepository) UnreadCount(ctx context.Context, userID string) (int64, error) {
	q := inboxFilter(userID)
	q["is_read"] = false
	return r.col.CountDocuments(ctx, q)
}

func (r *MongoRepository) DeleteReadBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.col.DeleteMany(ctx, bson.M{"is_read": true, "created_at": bson.M{"$lt": before}})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

// MongoSettingsRepository keeps one settings document per user.
type MongoSettingsRepository struct {
	col *mongo.Collection
}

func NewMongoSettingsRepository(col *mongo.Collection) *MongoSettingsRepository {
	return &MongoSettingsRepository{col: col}
}

func (r *MongoSettingsRepository) Get(ctx context.Context, userID string) (*Settings, error) {
	var s Settings
	if err := r.col.FindOne(ctx, bson.M{"_id": userID}).Decode(&s); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

func (r *MongoSettingsRepository) Save(ctx context.Context, s *Settings) error {
	_, err := r.col.ReplaceOne(ctx, bson.M{"_id": s.UserID}, s, options.Replace().SetUpsert(true))
	return err
}
