package catalog

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

//go:embed seed/cars.json
var seedJSON []byte

// Seed returns the built-in catalog.
func Seed() (*Data, error) {
	var d Data
	if err := json.Unmarshal(seedJSON, &d); err != nil {
		return nil, fmt.Errorf("catalog seed: %w", err)
	}
	return &d, nil
}

// Repository loads and stores the whole catalog.
type Repository interface {
	Load(ctx context.Context) (*Data, error)
	Save(ctx context.Context, d *Data) error
}

// MemoryRepository keeps the catalog in memory, seeded from the embedded data.
type MemoryRepository struct {
	mu   sync.RWMutex
	data *Data
}

func NewMemoryRepository() (*MemoryRepository, error) {
	d, err := Seed()
	if err != nil {
		return nil, err
	}
	return &MemoryRepository{data: d}, nil
}

func (m *MemoryRepository) Load(ctx context.Context) (*Data, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data, nil
}

func (m *MemoryRepository) Save(ctx context.Context, d *Data) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = d
	return nil
}

const referencesID = "references"

// MongoRepository stores brands, models and generations in their own
// collections and the dictionaries as one document.
type MongoRepository struct {
	brands      *mongo.Collection
	models      *mongo.Collection
	generations *mongo.Collection
	references  *mongo.Collection
}

func NewMongoRepository(db *mongo.Database) (*MongoRepository, error) {
	r := &MongoRepository{
		brands:      db.Collection("car_brands"),
		models:      db.Collection("car_models"),
		generations: db.Collection("car_generations"),
		references:  db.Collection("car_references"),
	}
	ctx := context.Background()
	if _, err := r.models.Indexes().CreateOne(ctx, mongo.IndexModel{Keys: bson.D{{Key: "brand_id", Value: 1}}}); err != nil {
		return nil, err
	}
	if _, err := r.generations.Indexes().CreateOne(ctx, mongo.IndexModel{Keys: bson.D{{Key: "model_id", Value: 1}}}); err != nil {
		return nil, err
	}
	return r, nil
}

func findAll[T any](ctx context.Context, col *mongo.Collection) ([]T, error) {
	cur, err := col.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	out := []T{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *MongoRepository) Load(ctx context.Context) (*Data, error) {
	var d Data
	var err error
	if d.Brands, err = findAll[Brand](ctx, r.brands); err != nil {
		return nil, err
	}
	if d.Models, err = findAll[Model](ctx, r.models); err != nil {
		return nil, err
	}
	if d.Generations, err = findAll[Generation](ctx, r.generations); err != nil {
		return nil, err
	}
	if err := r.references.FindOne(ctx, bson.M{"_id": referencesID}).Decode(&d.References); err != nil && err != mongo.ErrNoDocuments {
		return nil, err
	}
	return &d, nil
}

// Save upserts every document; existing entries are replaced.
func (r *MongoRepository) Save(ctx context.Context, d *Data) error {
	upsert := options.Replace().SetUpsert(true)
	for _, b := range d.Brands {
		if _, err := r.brands.ReplaceOne(ctx, bson.M{"_id": b.ID}, b, upsert); err != nil {
			return err
		}
	}
	for _, m := range d.Models {
		if _, err := r.models.ReplaceOne(ctx, bson.M{"_id": m.ID}, m, upsert); err != nil {
			return err
		}
	}
	for _, g := range d.Generations {
		if _, err := r.generations.ReplaceOne(ctx, bson.M{"_id": g.ID}, g, upsert); err != nil {
			return err
		}
	}
	_, err := r.references.ReplaceOne(ctx, bson.M{"_id": referencesID}, d.References, upsert)
	return err
}
