// Package tasks runs the periodic maintenance jobs of the marketplace.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/kolesa/kolesa/backend/go-services/pkg/logger"
	"github.com/kolesa/kolesa/backend/go-services/pkg/metrics"
)

// Func does the work of a job and reports what it did.
type Func func(ctx context.Context) (map[string]interface{}, error)

type Job struct {
	Name string
	// Schedule is a five-field cron expression.
	Schedule string
	Timeout  time.Duration
	Run      Func
}

type Runner struct {
	store Store
	now   func() time.Time

	mu      sync.Mutex
	jobs    map[string]Job
	running map[string]bool
}

// NewRunner records runs in store; a nil store keeps no history.
func NewRunner(store Store) *Runner {
	return &Runner{
		store: store, jobs: map[string]Job{}, running: map[string]bool{},
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (r *Runner) Register(jobs ...Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, j := range jobs {
		if j.Timeout <= 0 {
			j.Timeout = 10 * time.Minute
		}
		r.jobs[j.Name] = j
	}
}

// Jobs lists the registered job names in order.
func (r *Runner) Jobs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.jobs))
	for name := range r.jobs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// ErrBusy is returned when the job is already running in this process.
var ErrBusy = errors.New("job is already running")

// Run executes a job once. The run is stored whatever its outcome.
func (r *Runner) Run(ctx context.Context, name string) (*Run, error) {
	r.mu.Lock()
	job, ok := r.jobs[name]
	if !ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("unknown job %q", name)
	}
	if r.running[name] {
		r.mu.Unlock()
		return nil, ErrBusy
	}
	r.running[name] = true
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.running, name)
		r.mu.Unlock()
	}()

	run := &Run{ID: uuid.NewString(), Job: name, Status: StatusRunning, StartedAt: r.now()}
	r.save(ctx, run)

	jctx, cancel := context.WithTimeout(ctx, job.Timeout)
	defer cancel()
	result, err := r.call(jctx, job)

	done := r.now()
	run.FinishedAt = &done
	run.Result = result
	if err != nil {
		run.Status = StatusFailed
		run.Error = err.Error()
		logger.Errorf("job %s failed after %s: %v", name, done.Sub(run.StartedAt), err)
	} else {
		run.Status = StatusSuccess
		logger.Infof("job %s finished in %s: %v", name, done.Sub(run.StartedAt), result)
	}
	metrics.JobRuns.WithLabelValues(name, run.Status).Inc()
	r.save(ctx, run)
	return run, err
}

// call turns a panic inside a job into a failed run.
func (r *Runner) call(ctx context.Context, job Job) (result map[string]interface{}, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return job.Run(ctx)
}

func (r *Runner) save(ctx context.Context, run *Run) {
	if r.store == nil {
		return
	}
	if err := r.store.Save(context.WithoutCancel(ctx), run); err != nil {
		logger.Warnf("job %s: %v", run.Job, err)
	}
}

func (r *Runner) History(ctx context.Context, job string, limit int) ([]*Run, error) {
	if r.store == nil {
		return []*Run{}, nil
	}
	return r.store.Recent(ctx, job, limit)
}

// Schedule adds every job with a schedule to c. Runs started by the
// scheduler use ctx as their parent.
func (r *Runner) Schedule(ctx context.Context, c *cron.Cron) error {
	r.mu.Lock()
	jobs := make([]Job, 0, len(r.jobs))
	for _, j := range r.jobs {
		jobs = append(jobs, j)
	}
	r.mu.Unlock()
	for _, j := range jobs {
		if j.Schedule == "" {
			continue
		}
		name := j.Name
		if _, err := c.AddFunc(j.Schedule, func() {
			if _, err := r.Run(ctx, name); errors.Is(err, ErrBusy) {
				logger.Warnf("job %s skipped: previous run still in progress", name)
			}
		}); err != nil {
			return fmt.Errorf("schedule %s: %w", name, err)
		}
		logger.Infof("job %s scheduled at %q", name, j.Schedule)
	}
	return nil
}
