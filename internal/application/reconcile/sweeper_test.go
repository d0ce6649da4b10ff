package reconcile

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taosiq/p2pskillx-sub000/internal/application/credit"
	"github.com/taosiq/p2pskillx-sub000/internal/application/enrollment"
	"github.com/taosiq/p2pskillx-sub000/internal/application/social"
	"github.com/taosiq/p2pskillx-sub000/internal/domain/store"
	"github.com/taosiq/p2pskillx-sub000/internal/infrastructure/persistence/memory"
	"github.com/taosiq/p2pskillx-sub000/pkg/logger"
)

func newSweeper(st *memory.Store, cfg Config) *Sweeper {
	follows := social.NewManager(st, nil, logger.Nop())
	courses := enrollment.NewManager(st, credit.NewLedger(st, logger.Nop()), nil, logger.Nop())
	return NewSweeper(st, follows, courses, logger.Nop(), cfg)
}

func TestSweep_RepairsDrift(t *testing.T) {
	st := memory.New()
	require.NoError(t, st.Seed(store.Users, "a", map[string]any{
		"following": []string{"b"}, "followingCount": 5,
		"followers": []string{}, "followersCount": 0,
		"enrolledCourses": map[string]any{"c1": map[string]any{"creditsSpent": 10}},
	}))
	require.NoError(t, st.Seed(store.Users, "b", map[string]any{
		"following": []string{}, "followingCount": 0,
		"followers": []string{"a"}, "followersCount": 1,
	}))
	require.NoError(t, st.Seed(store.Courses, "c1", map[string]any{"creatorId": "b", "enrollments": 3}))
	require.NoError(t, st.Seed(store.Courses, "c2", map[string]any{"creatorId": "b", "enrollments": 0}))

	sw := newSweeper(st, Config{BatchSize: 1, Concurrency: 2})
	stats, err := sw.Sweep(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, stats.UsersScanned)
	assert.Equal(t, 1, stats.UsersRepaired)
	assert.Equal(t, 2, stats.CoursesScanned)
	assert.Equal(t, 1, stats.CoursesRepaired)
	assert.Zero(t, stats.Failed)
	assert.Same(t, stats, sw.LastStats())

	a, _ := st.Peek(store.Users, "a")
	assert.Equal(t, float64(1), a["followingCount"])
	c1, _ := st.Peek(store.Courses, "c1")
	assert.Equal(t, float64(1), c1["enrollments"])

	again, err := sw.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, again.UsersRepaired+again.CoursesRepaired)
}

func TestSweep_PagesThroughEveryDocument(t *testing.T) {
	st := memory.New()
	for i := 0; i < 7; i++ {
		require.NoError(t, st.Seed(store.Users, fmt.Sprintf("u%02d", i), map[string]any{"followersCount": 2}))
	}

	stats, err := newSweeper(st, Config{BatchSize: 3}).Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, stats.UsersScanned)
	assert.Equal(t, 7, stats.UsersRepaired)
	assert.Equal(t, 4, st.Calls(memory.MethodQuery), "three user pages and one course page")
}

type failing struct{ err error }

func (f failing) Reconcile(context.Context, string) (social.ReconcileResult, error) {
	return social.ReconcileResult{}, f.err
}

func TestSweep_FailureRatio(t *testing.T) {
	st := memory.New()
	require.NoError(t, st.Seed(store.Users, "a", map[string]any{}))
	require.NoError(t, st.Seed(store.Users, "b", map[string]any{}))

	sw := NewSweeper(st, failing{errors.New("boom")}, nil, logger.Nop(), Config{})
	stats, err := sw.Sweep(context.Background())
	require.Error(t, err)
	assert.Equal(t, 2, stats.Failed)
	require.Len(t, stats.Errors, 2)
	assert.Equal(t, store.Users, stats.Errors[0].Collection)
}

func TestSweep_ScanErrorFailsRun(t *testing.T) {
	st := memory.New()
	st.InjectFault(memory.Fault{Method: memory.MethodQuery, Collection: store.Courses})

	err := newSweeper(st, Config{}).Run(context.Background())
	assert.ErrorIs(t, err, memory.ErrInjected)
}

func TestSweeper_JobIdentity(t *testing.T) {
	sw := newSweeper(memory.New(), Config{})
	assert.Equal(t, "reconcile_counters", sw.Name())
	assert.NotEmpty(t, sw.Description())
}
