// Package reconcile repairs denormalized counters in bulk. The sweeper
// walks every user and every course in id order and asks the owning
// managers to recompute their counters. It runs as a scheduled job.
package reconcile

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/taosiq/p2pskillx-sub000/internal/application/enrollment"
	"github.com/taosiq/p2pskillx-sub000/internal/application/social"
	"github.com/taosiq/p2pskillx-sub000/internal/domain/store"
	"github.com/taosiq/p2pskillx-sub000/pkg/logger"
)

// FollowCounters reconciles one user's follow counters.
type FollowCounters interface {
	Reconcile(ctx context.Context, userID string) (social.ReconcileResult, error)
}

// EnrollmentCounters reconciles one course's enrollment counter.
type EnrollmentCounters interface {
	ReconcileCourse(ctx context.Context, courseID string) (enrollment.CounterResult, error)
}

// Config tunes a sweep.
type Config struct {
	// BatchSize is the page size of the id scan.
	BatchSize int
	// Concurrency bounds parallel reconciles within a page.
	Concurrency int
	// Timeout caps one whole sweep. Zero means no cap.
	Timeout time.Duration
	// MaxFailureRatio fails the run when more documents than this share
	// could not be reconciled.
	MaxFailureRatio float64
}

// DefaultConfig returns the defaults used by the worker.
func DefaultConfig() Config {
	return Config{
		BatchSize:       100,
		Concurrency:     4,
		Timeout:         10 * time.Minute,
		MaxFailureRatio: 0.5,
	}
}

// Stats summarises one sweep.
type Stats struct {
	StartedAt       time.Time
	CompletedAt     time.Time
	Duration        time.Duration
	UsersScanned    int
	UsersRepaired   int
	CoursesScanned  int
	CoursesRepaired int
	Failed          int
	Errors          []ItemError
}

// ItemError records a document the sweep could not reconcile.
type ItemError struct {
	Collection string
	ID         string
	Err        error
}

// Sweeper is a scheduler job that reconciles every counter in the store.
type Sweeper struct {
	store   store.Store
	follows FollowCounters
	courses EnrollmentCounters
	log     *logger.Logger
	cfg     Config

	last atomic.Pointer[Stats]
}

// NewSweeper creates a Sweeper. Either reconciler may be nil to skip that
// collection.
func NewSweeper(st store.Store, follows FollowCounters, courses EnrollmentCounters, log *logger.Logger, cfg Config) *Sweeper {
	if log == nil {
		log = logger.Nop()
	}
	def := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.MaxFailureRatio <= 0 {
		cfg.MaxFailureRatio = def.MaxFailureRatio
	}
	return &Sweeper{
		store:   st,
		follows: follows,
		courses: courses,
		log:     log.With(logger.Component("reconcile_sweeper")),
		cfg:     cfg,
	}
}

// Name returns the job name.
func (s *Sweeper) Name() string { return "reconcile_counters" }

// Description returns a human-readable description.
func (s *Sweeper) Description() string {
	return "Recomputes follow counters of every user and enrollment counters of every course"
}

// Run executes one sweep. Individual failures are collected; the run only
// fails when the failure ratio is exceeded or the scan itself breaks.
func (s *Sweeper) Run(ctx context.Context) error {
	_, err := s.Sweep(ctx)
	return err
}

// Sweep runs once and returns its statistics.
func (s *Sweeper) Sweep(ctx context.Context) (*Stats, error) {
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	stats := &Stats{StartedAt: time.Now()}
	var mu sync.Mutex
	fail := func(collection, id string, err error) {
		mu.Lock()
		defer mu.Unlock()
		stats.Failed++
		stats.Errors = append(stats.Errors, ItemError{Collection: collection, ID: id, Err: err})
		s.log.Warn("reconcile failed", logger.Collection(collection), logger.String("id", id), logger.Err(err))
	}

	if s.follows != nil {
		err := s.scan(ctx, store.Users, func(ctx context.Context, id string) {
			res, err := s.follows.Reconcile(ctx, id)
			mu.Lock()
			stats.UsersScanned++
			if err == nil && res.Changed {
				stats.UsersRepaired++
			}
			mu.Unlock()
			if err != nil {
				fail(store.Users, id, err)
			}
		})
		if err != nil {
			return s.finish(stats), fmt.Errorf("failed to scan users: %w", err)
		}
	}

	if s.courses != nil {
		err := s.scan(ctx, store.Courses, func(ctx context.Context, id string) {
			res, err := s.courses.ReconcileCourse(ctx, id)
			mu.Lock()
			stats.CoursesScanned++
			if err == nil && res.Changed {
				stats.CoursesRepaired++
			}
			mu.Unlock()
			if err != nil {
				fail(store.Courses, id, err)
			}
		})
		if err != nil {
			return s.finish(stats), fmt.Errorf("failed to scan courses: %w", err)
		}
	}

	s.finish(stats)
	s.log.Info("reconcile sweep completed",
		logger.Latency(stats.Duration),
		logger.Int("users_scanned", stats.UsersScanned),
		logger.Int("users_repaired", stats.UsersRepaired),
		logger.Int("courses_scanned", stats.CoursesScanned),
		logger.Int("courses_repaired", stats.CoursesRepaired),
		logger.Int("failed", stats.Failed),
	)

	total := stats.UsersScanned + stats.CoursesScanned
	if total > 0 && float64(stats.Failed)/float64(total) > s.cfg.MaxFailureRatio {
		return stats, fmt.Errorf("reconcile failed for %d of %d documents", stats.Failed, total)
	}
	return stats, nil
}

// LastStats returns the statistics of the most recent sweep, or nil.
func (s *Sweeper) LastStats() *Stats {
	return s.last.Load()
}

func (s *Sweeper) finish(stats *Stats) *Stats {
	stats.CompletedAt = time.Now()
	stats.Duration = stats.CompletedAt.Sub(stats.StartedAt)
	s.last.Store(stats)
	return stats
}

// scan pages through a collection in id order and calls visit for every
// id, at most cfg.Concurrency at a time within a page.
func (s *Sweeper) scan(ctx context.Context, collection string, visit func(context.Context, string)) error {
	for offset := 0; ; offset += s.cfg.BatchSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		page, err := s.store.Query(ctx, store.Query{
			Collection: collection,
			Limit:      s.cfg.BatchSize,
			Offset:     offset,
		})
		if err != nil {
			return err
		}

		var g errgroup.Group
		g.SetLimit(s.cfg.Concurrency)
		for _, doc := range page {
			id := doc.ID()
			if id == "" {
				continue
			}
			g.Go(func() error {
				visit(ctx, id)
				return nil
			})
		}
		// visit never fails; errors are recorded by the caller.
		_ = g.Wait()

		if len(page) < s.cfg.BatchSize {
			return nil
		}
	}
}
