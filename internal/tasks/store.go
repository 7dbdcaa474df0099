package tasks

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Run is one execution of a job as stored in job_runs.
type Run struct {
	ID         string                 `bson:"_id" json:"id"`
	Job        string                 `bson:"job" json:"job"`
	Status     string                 `bson:"status" json:"status"`
	StartedAt  time.Time              `bson:"started_at" json:"started_at"`
	FinishedAt *time.Time             `bson:"finished_at,omitempty" json:"finished_at,omitempty"`
	Result     map[string]interface{} `bson:"result,omitempty" json:"result,omitempty"`
	Error      string                 `bson:"error,omitempty" json:"error,omitempty"`
}

const (
	StatusRunning = "running"
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

type Store interface {
	// Save upserts a run by id.
	Save(ctx context.Context, r *Run) error
	// Recent returns the latest runs of a job, newest first.
	Recent(ctx context.Context, job string, limit int) ([]*Run, error)
}

// MongoStore keeps runs in job_runs.
type MongoStore struct {
	col *mongo.Collection
}

func NewMongoStore(db *mongo.Database) (*MongoStore, error) {
	col := db.Collection("job_runs")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := col.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "job", Value: 1}, {Key: "started_at", Value: -1}}},
		// runs are kept for 90 days
		{Keys: bson.D{{Key: "started_at", Value: 1}}, Options: options.Index().SetExpireAfterSeconds(90 * 24 * 3600)},
	})
	if err != nil {
		return nil, err
	}
	return &MongoStore{col: col}, nil
}

func (s *MongoStore) Save(ctx context.Context, r *Run) error {
	_, err := s.col.UpdateOne(ctx, bson.M{"_id": r.ID}, bson.M{"$set": r}, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("save job run: %w", err)
	}
	return nil
}

func (s *MongoStore) Recent(ctx context.Context, job string, limit int) ([]*Run, error) {
	cur, err := s.col.Find(ctx, bson.M{"job": job},
		options.Find().SetSort(bson.D{{Key: "started_at", Value: -1}}).SetLimit(int64(limit)))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	out := []*Run{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

type MemoryStore struct {
	mu   sync.Mutex
	runs map[string]*Run
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{runs: map[string]*Run{}} }

func (s *MemoryStore) Save(ctx context.Context, r *Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	s.runs[r.ID] = &cp
	return nil
}

func (s *MemoryStore) Recent(ctx context.Context, job string, limit int) ([]*Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []*Run{}
	for _, r := range s.runs {
		if r.Job == job {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
