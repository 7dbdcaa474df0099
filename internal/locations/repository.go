package locations

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

//go:embed seed/locations.json
var seedJSON []byte

func Seed() (*Data, error) {
	var d Data
	if err := json.Unmarshal(seedJSON, &d); err != nil {
		return nil, fmt.Errorf("locations seed: %w", err)
	}
	return &d, nil
}

type Repository interface {
	Load(ctx context.Context) (*Data, error)
	Save(ctx context.Context, d *Data) error
}

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

// MongoRepository stores locations in the countries, regions and cities
// collections.
type MongoRepository struct {
	countries *mongo.Collection
	regions   *mongo.Collection
	cities    *mongo.Collection
}

func NewMongoRepository(db *mongo.Database) (*MongoRepository, error) {
	r := &MongoRepository{
		countries: db.Collection("countries"),
		regions:   db.Collection("regions"),
		cities:    db.Collection("cities"),
	}
	ctx := context.Background()
	if _, err := r.regions.Indexes().CreateOne(ctx, mongo.IndexModel{Keys: bson.D{{Key: "country_id", Value: 1}}}); err != nil {
		return nil, err
	}
	if _, err := r.cities.Indexes().CreateOne(ctx, mongo.IndexModel{Keys: bson.D{{Key: "region_id", Value: 1}}}); err != nil {
		return nil, err
	}
	return r, nil
}

func findAll[T any](ctx context.Context, col *mongo.Collection) ([]T, error) {
	cur, err := col.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "sort_order", Value: 1}}))
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
	var (
		d   Data
		err error
	)
	if d.Countries, err = findAll[Country](ctx, r.countries); err != nil {
		return nil, fmt.Errorf("load countries: %w", err)
	}
	if d.Regions, err = findAll[Region](ctx, r.regions); err != nil {
		return nil, fmt.Errorf("load regions: %w", err)
	}
	if d.Cities, err = findAll[City](ctx, r.cities); err != nil {
		return nil, fmt.Errorf("load cities: %w", err)
	}
	return &d, nil
}

// Save upserts every document by id.
func (r *MongoRepository) Save(ctx context.Context, d *Data) error {
	opts := options.Replace().SetUpsert(true)
	for _, c := range d.Countries {
		if _, err := r.countries.ReplaceOne(ctx, bson.M{"_id": c.ID}, c, opts); err != nil {
			return fmt.Errorf("save country %s: %w", c.ID, err)
		}
	}
	for _, rg := range d.Regions {
		if _, err := r.regions.ReplaceOne(ctx, bson.M{"_id": rg.ID}, rg, opts); err != nil {
			return fmt.Errorf("save region %s: %w", rg.ID, err)
		}
	}
	for _, c := range d.Cities {
		if _, err := r.cities.ReplaceOne(ctx, bson.M{"_id": c.ID}, c, opts); err != nil {
			return fmt.Errorf("save city %s: %w", c.ID, err)
		}
	}
	return nil
}
