package conversations

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type MongoRepository struct {
	col *mongo.Collection
}

func NewMongoRepository(db *mongo.Database) (*MongoRepository, error) {
	col := db.Collection("conversations")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := col.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "participants.user_id", Value: 1}, {Key: "last_message_at", Value: -1}}},
		{Keys: bson.D{{Key: "listing_id", Value: 1}}},
	})
	if err != nil {
		return nil, err
	}
	return &MongoRepository{col: col}, nil
}

func (r *MongoRepository) Create(ctx context.Context, c *Conversation) error {
	_, err := r.col.InsertOne(ctx, c)
	return err
}

func (r *MongoRepository) Update(ctx context.Context, c *Conversation) error {
	res, err := r.col.ReplaceOne(ctx, bson.M{"_id": c.ID}, c)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *MongoRepository) findOne(ctx context.Context, filter bson.M) (*Conversation, error) {
	var c Conversation
	if err := r.col.FindOne(ctx, filter).Decode(&c); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

func (r *MongoRepository) Get(ctx context.Context, id string) (*Conversation, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

func (r *MongoRepository) FindDirect(ctx context.Context, a, b, listingID string) (*Conversation, error) {
	filter := bson.M{
		"conversation_type": TypeUserChat,
		"participants":      bson.M{"$size": 2},
		"$and": bson.A{
			bson.M{"participants.user_id": a},
			bson.M{"participants.user_id": b},
		},
	}
	if listingID == "" {
		filter["listing_id"] = bson.M{"$exists": false}
	} else {
		filter["listing_id"] = listingID
	}
	return r.findOne(ctx, filter)
}

func (r *MongoRepository) ListByUser(ctx context.Context, userID string, skip, limit int64) ([]*Conversation, int64, error) {
	filter := bson.M{"participants": bson.M{"$elemMatch": bson.M{"user_id": userID, "is_active": true}}}
	total, err := r.col.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "last_message_at", Value: -1}, {Key: "created_at", Value: -1}}).
		SetSkip(skip)
	if limit > 0 {
		opts.SetLimit(limit)
	}
	cur, err := r.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, err
	}
	defer cur.Close(ctx)
	out := []*Conversation{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

type MongoMessageRepository struct {
	col *mongo.Collection
}

func NewMongoMessageRepository(db *mongo.Database) (*MongoMessageRepository, error) {
	col := db.Collection("messages")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := col.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "created_at", Value: -1}},
	})
	if err != nil {
		return nil, err
	}
	return &MongoMessageRepository{col: col}, nil
}

func (r *MongoMessageRepository) Create(ctx context.Context, m *Message) error {
	_, err := r.col.InsertOne(ctx, m)
	return err
}

func (r *MongoMessageRepository) Update(ctx context.Context, m *Message) error {
	res, err := r.col.ReplaceOne(ctx, bson.M{"_id": m.ID}, m)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *MongoMessageRepository) Get(ctx context.Context, id string) (*Message, error) {
	var m Message
	if err := r.col.FindOne(ctx, bson.M{"_id": id}).Decode(&m); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, err
	}
	return &m, nil
}

func (r *MongoMessageRepository) List(ctx context.Context, conversationID string, before *time.Time, limit int64) ([]*Message, error) {
	filter := bson.M{"conversation_id": conversationID}
	if before != nil {
		filter["created_at"] = bson.M{"$lt": *before}
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	if limit > 0 {
		opts.SetLimit(limit)
	}
	cur, err := r.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	out := []*Message{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (r *MongoMessageRepository) CountUnread(ctx context.Context, conversationID, userID string, since *time.Time) (int64, error) {
	filter := bson.M{
		"conversation_id": conversationID,
		"sender_id":       bson.M{"$ne": userID},
		"is_deleted":      false,
	}
	if since != nil {
		filter["created_at"] = bson.M{"$gt": *since}
	}
	return r.col.CountDocuments(ctx, filter)
}
