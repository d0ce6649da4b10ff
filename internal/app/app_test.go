package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taosiq/p2pskillx-sub000/config"
	"github.com/taosiq/p2pskillx-sub000/internal/domain/shared"
	"github.com/taosiq/p2pskillx-sub000/internal/infrastructure/messaging"
	"github.com/taosiq/p2pskillx-sub000/pkg/logger"
)

func memoryConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("STORE_DRIVER", config.DriverMemory)
	t.Setenv("REDIS_DISABLED", "true")
	t.Setenv("APP_ENV", "development")
	cfg, err := config.FromEnv()
	require.NoError(t, err)
	return cfg
}

func TestNew_MemoryDriver(t *testing.T) {
	cfg := memoryConfig(t)
	a, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer a.Close(context.Background())

	assert.Nil(t, a.Cache)
	deps := a.HTTPDependencies()
	assert.NotNil(t, deps.Accounts)
	assert.NotNil(t, deps.Enroller)
	assert.NotNil(t, deps.Inbox)

	status := a.Health.Check(context.Background())
	assert.True(t, status.Healthy)
	assert.Contains(t, status.Checks, "store")

	sw := a.Sweeper()
	stats, err := sw.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.UsersScanned)
}

func TestNew_UnknownDriver(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.Store.Driver = "sqlite"
	_, err := New(context.Background(), cfg, nil)
	assert.ErrorContains(t, err, "unknown store driver")
}

type recordingInvalidator struct {
	mu    sync.Mutex
	users []string
	err   error
}

func (r *recordingInvalidator) Invalidate(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users = append(r.users, userID)
	return r.err
}

func TestSubscribeInvalidation(t *testing.T) {
	bus := messaging.NewInMemoryEventBus(messaging.Config{})
	inv := &recordingInvalidator{}
	require.NoError(t, SubscribeInvalidation(bus, inv, logger.Nop()))

	require.NoError(t, bus.Publish(shared.NewFollowEdgeEvent(shared.EventFollowed, "bob", "alice")))
	require.NoError(t, bus.Publish(shared.NewEnrollmentCompletedEvent("carol", "c1", "alice", 20)))
	require.NoError(t, bus.Publish(shared.NewEntityEvent(shared.EventCourseCreated, "c2", "alice")))

	assert.Equal(t, []string{"bob", "carol"}, inv.users)
	assert.Zero(t, bus.Metrics().Snapshot().HandlerFailures)

	inv.err = errors.New("redis down")
	require.NoError(t, bus.Publish(shared.NewEntityEvent(shared.EventSkillVerified, "dave", "dave")))
	assert.Equal(t, int64(1), bus.Metrics().Snapshot().HandlerFailures)
}

func TestClose_RunsInReverse(t *testing.T) {
	var order []int
	a := &App{}
	for i := 0; i < 3; i++ {
		a.closers = append(a.closers, func(context.Context) error { order = append(order, i); return nil })
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, a.Close(ctx))
	assert.Equal(t, []int{2, 1, 0}, order)
}
