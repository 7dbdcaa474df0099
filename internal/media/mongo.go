package media

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
	col := db.Collection("media_files")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := col.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "entity_type", Value: 1}, {Key: "entity_id", Value: 1}, {Key: "sort_order", Value: 1}}},
		{Keys: bson.D{{Key: "user_id", Value: 1}}},
	})
	if err != nil {
		return nil, err
	}
	return &MongoRepository{col: col}, nil
}

func (r *MongoRepository) Create(ctx context.Context, m *Media) error {
	_, err := r.col.InsertOne(ctx, m)
	return err
}

func (r *MongoRepository) Update(ctx context.Context, m *Media) error {
	res, err := r.col.ReplaceOne(ctx, bson.M{"_id": m.ID}, m)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *MongoRepository) Get(ctx context.Context, id string) (*Media, error) {
	var m Media
	if err := r.col.FindOne(ctx, bson.M{"_id": id}).Decode(&m); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, err
	}
	return &m, nil
}

func (r *MongoRepository) Delete(ctx context.Context, id string) error {
	res, err := r.col.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *MongoRepository) ListByEntity(ctx context.Context, entityType, entityID string) ([]*Media, error) {
	opts := options.Find().SetSort(bson.D{{Key: "sort_order", Value: 1}, {Key: "created_at", Value: 1}})
	cur, err := r.col.Find(ctx, bson.M{"entity_type": entityType, "entity_id": entityID}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	out := []*Media{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *MongoRepository) CountByEntity(ctx context.Context, entityType, entityID string) (int64, error) {
	return r.col.CountDocuments(ctx, bson.M{"entity_type": entityType, "entity_id": entityID})
}

func (r *MongoRepository) StatsByUser(ctx context.Context, userID string) (map[string]TypeStats, error) {
	cur, err := r.col.Aggregate(ctx, mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"user_id": userID}}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$media_type"},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
			{Key: "bytes", Value: bson.D{{Key: "$sum", Value: "$file_size"}}},
		}}},
	})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	out := map[string]TypeStats{}
	for cur.Next(ctx) {
		var row struct {
			ID        string `bson:"_id"`
			TypeStats `bson:",inline"`
		}
		if err := cur.Decode(&row); err != nil {
			return nil, err
		}
		out[row.ID] = row.TypeStats
	}
	return out, cur.Err()
}

func (r *MongoRepository) EntityIDs(ctx context.Context, entityType string) ([]string, error) {
	vals, err := r.col.Distinct(ctx, "entity_id", bson.M{"entity_type": entityType})
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		if id, ok := v.(string); ok {
			out = append(out, id)
		}
	}
	return out, nil
}
