package social

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taosiq/p2pskillx-sub000/internal/domain/notification"
	"github.com/taosiq/p2pskillx-sub000/internal/domain/shared"
	"github.com/taosiq/p2pskillx-sub000/internal/domain/store"
	"github.com/taosiq/p2pskillx-sub000/internal/domain/user"
	"github.com/taosiq/p2pskillx-sub000/internal/infrastructure/persistence/memory"
	"github.com/taosiq/p2pskillx-sub000/pkg/logger"
)

type recordingEvents struct {
	mu     sync.Mutex
	events []shared.Event
}

func (r *recordingEvents) Publish(e shared.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recordingEvents) types() []shared.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]shared.EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.EventType()
	}
	return out
}

type notified struct {
	kind notification.Kind
	to   string
}

type fixture struct {
	store  *memory.Store
	events *recordingEvents
	sent   []notified
	mgr    *Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{store: memory.New(), events: &recordingEvents{}}
	n := notification.NotifierFunc(func(_ context.Context, k notification.Kind, to string, _ map[string]any) error {
		f.sent = append(f.sent, notified{k, to})
		return nil
	})
	f.mgr = NewManager(f.store, n, logger.Nop(), WithEvents(f.events))
	return f
}

func (f *fixture) seed(t *testing.T, id string, mutate func(u *user.User)) {
	t.Helper()
	u := user.New(user.NewParams{ID: id}, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	if mutate != nil {
		mutate(u)
	}
	require.NoError(t, f.store.Seed(store.Users, id, u))
}

func (f *fixture) user(t *testing.T, id string) *user.User {
	t.Helper()
	doc, ok := f.store.Peek(store.Users, id)
	require.True(t, ok)
	u, err := user.FromDocument(doc)
	require.NoError(t, err)
	return u
}

func assertConsistent(t *testing.T, u *user.User) {
	t.Helper()
	assert.Equal(t, len(u.Followers), u.FollowersCount, "followersCount of %s", u.ID)
	assert.Equal(t, len(u.Following), u.FollowingCount, "followingCount of %s", u.ID)
}

func TestFollow_Success(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "alice", nil)
	f.seed(t, "bob", nil)

	res, err := f.mgr.Follow(context.Background(), "alice", "bob")
	require.NoError(t, err)
	assert.Equal(t, &Result{Success: true}, res)

	alice, bob := f.user(t, "alice"), f.user(t, "bob")
	assert.Equal(t, []string{"bob"}, alice.Following)
	assert.Equal(t, 1, alice.FollowingCount)
	assert.Equal(t, []string{"alice"}, bob.Followers)
	assert.Equal(t, 1, bob.FollowersCount)

	assert.Equal(t, []notified{{notification.KindFollow, "bob"}}, f.sent)
	assert.Equal(t, []shared.EventType{shared.EventFollowed}, f.events.types())
}

func TestFollow_Idempotent(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "alice", nil)
	f.seed(t, "bob", nil)
	ctx := context.Background()

	_, err := f.mgr.Follow(ctx, "alice", "bob")
	require.NoError(t, err)
	f.store.ResetCalls()

	res, err := f.mgr.Follow(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.True(t, res.AlreadyFollowing)
	assert.Equal(t, 0, f.store.Writes())
	assert.Equal(t, 1, f.user(t, "bob").FollowersCount)
}

func TestFollow_SelfRejectedWithoutStoreAccess(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "alice", nil)

	_, err := f.mgr.Follow(context.Background(), "alice", "alice")
	assert.ErrorIs(t, err, shared.ErrSelfFollowNotAllowed)
	assert.True(t, shared.IsValidation(err))
	assert.Equal(t, 0, f.store.Calls(memory.MethodGet))
	assert.Equal(t, 0, f.store.Writes())
}

func TestFollow_MissingUsers(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "alice", nil)
	ctx := context.Background()

	_, err := f.mgr.Follow(ctx, "alice", "ghost")
	assert.ErrorIs(t, err, shared.ErrUserNotFound)

	_, err = f.mgr.Follow(ctx, "ghost", "alice")
	assert.ErrorIs(t, err, shared.ErrActorProfileMissing)
	assert.Equal(t, 0, f.store.Writes())
}

func TestFollow_TargetWriteFailureIsCompensated(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "alice", func(u *user.User) {
		u.Following = []string{"carol"}
		u.FollowingCount = 1
	})
	f.seed(t, "bob", nil)
	f.store.InjectFault(memory.Fault{Method: memory.MethodUpdate, ID: "bob"})

	_, err := f.mgr.Follow(context.Background(), "alice", "bob")

	assert.ErrorIs(t, err, shared.ErrFollowPartiallyFailed)
	assert.True(t, shared.IsPartialFailure(err))
	alice := f.user(t, "alice")
	assert.Equal(t, []string{"carol"}, alice.Following)
	assert.Equal(t, 1, alice.FollowingCount)
	assert.Empty(t, f.sent)
	assert.Empty(t, f.events.types())
}

func TestFollow_FirstWriteFailureWritesNothing(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "alice", nil)
	f.seed(t, "bob", nil)
	f.store.InjectFault(memory.Fault{Method: memory.MethodUpdate, ID: "alice"})

	_, err := f.mgr.Follow(context.Background(), "alice", "bob")
	assert.ErrorIs(t, err, memory.ErrInjected)
	assert.Equal(t, 1, f.store.Writes())
	assert.Empty(t, f.user(t, "bob").Followers)
}

func TestFollowUnfollow_RoundTrip(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "alice", func(u *user.User) {
		u.Following = []string{"carol"}
		u.FollowingCount = 1
	})
	f.seed(t, "bob", func(u *user.User) {
		u.Followers = []string{"dave"}
		u.FollowersCount = 1
	})
	ctx := context.Background()
	aliceBefore, bobBefore := f.user(t, "alice"), f.user(t, "bob")

	_, err := f.mgr.Follow(ctx, "alice", "bob")
	require.NoError(t, err)
	res, err := f.mgr.Unfollow(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.Equal(t, &Result{Success: true}, res)

	aliceAfter, bobAfter := f.user(t, "alice"), f.user(t, "bob")
	assert.Equal(t, aliceBefore.Following, aliceAfter.Following)
	assert.Equal(t, aliceBefore.FollowingCount, aliceAfter.FollowingCount)
	assert.Equal(t, bobBefore.Followers, bobAfter.Followers)
	assert.Equal(t, bobBefore.FollowersCount, bobAfter.FollowersCount)
	assert.Equal(t, []shared.EventType{shared.EventFollowed, shared.EventUnfollowed}, f.events.types())
}

func TestUnfollow_NotFollowingIsNoop(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "alice", nil)
	f.seed(t, "bob", nil)

	res, err := f.mgr.Unfollow(context.Background(), "alice", "bob")
	require.NoError(t, err)
	assert.True(t, res.NotFollowing)
	assert.Equal(t, 0, f.store.Writes())
}

func TestUnfollow_CountersNeverNegative(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "alice", func(u *user.User) { u.Following = []string{"bob"} })
	f.seed(t, "bob", func(u *user.User) { u.Followers = []string{"alice"} })

	_, err := f.mgr.Unfollow(context.Background(), "alice", "bob")
	require.NoError(t, err)
	assert.Equal(t, 0, f.user(t, "alice").FollowingCount)
	assert.Equal(t, 0, f.user(t, "bob").FollowersCount)
}

func TestUnfollow_TargetWriteFailureIsCompensated(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "alice", func(u *user.User) {
		u.Following = []string{"bob"}
		u.FollowingCount = 1
	})
	f.seed(t, "bob", func(u *user.User) {
		u.Followers = []string{"alice"}
		u.FollowersCount = 1
	})
	f.store.InjectFault(memory.Fault{Method: memory.MethodUpdate, ID: "bob"})

	_, err := f.mgr.Unfollow(context.Background(), "alice", "bob")
	assert.ErrorIs(t, err, shared.ErrUnfollowPartiallyFailed)

	alice := f.user(t, "alice")
	assert.Equal(t, []string{"bob"}, alice.Following)
	assert.Equal(t, 1, alice.FollowingCount)
}

func TestUnfollow_OpportunisticReconcileErrorsAreSwallowed(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "alice", func(u *user.User) {
		u.Following = []string{"bob"}
		u.FollowingCount = 5
	})
	f.seed(t, "bob", func(u *user.User) {
		u.Followers = []string{"alice"}
		u.FollowersCount = 1
	})
	// Let both edge writes through, then fail every counter repair.
	f.store.InjectFault(memory.Fault{Method: memory.MethodUpdate, Skip: 2})

	res, err := f.mgr.Unfollow(context.Background(), "alice", "bob")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 4, f.user(t, "alice").FollowingCount)
}

func TestRemoveFollower(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "alice", func(u *user.User) {
		u.Followers = []string{"bob", "carol"}
		u.FollowersCount = 2
	})
	f.seed(t, "bob", func(u *user.User) {
		u.Following = []string{"alice"}
		u.FollowingCount = 1
	})
	ctx := context.Background()

	res, err := f.mgr.RemoveFollower(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.True(t, res.Success)

	alice, bob := f.user(t, "alice"), f.user(t, "bob")
	assert.Equal(t, []string{"carol"}, alice.Followers)
	assert.Equal(t, 1, alice.FollowersCount)
	assert.Empty(t, bob.Following)
	assert.Equal(t, 0, bob.FollowingCount)
	assert.Equal(t, []shared.EventType{shared.EventFollowerRemoved}, f.events.types())

	res, err = f.mgr.RemoveFollower(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.True(t, res.NotFollowing)
}

func TestRemoveFollower_FollowerWriteFailureIsCompensated(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "alice", func(u *user.User) {
		u.Followers = []string{"bob"}
		u.FollowersCount = 1
	})
	f.seed(t, "bob", func(u *user.User) {
		u.Following = []string{"alice"}
		u.FollowingCount = 1
	})
	f.store.InjectFault(memory.Fault{Method: memory.MethodUpdate, ID: "bob"})

	_, err := f.mgr.RemoveFollower(context.Background(), "alice", "bob")
	assert.ErrorIs(t, err, shared.ErrRemoveFollowerPartiallyFailed)

	alice := f.user(t, "alice")
	assert.Equal(t, []string{"bob"}, alice.Followers)
	assert.Equal(t, 1, alice.FollowersCount)
}

func TestReconcile(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "alice", func(u *user.User) {
		u.Followers = []string{"bob", "carol"}
		u.FollowersCount = 7
		u.Following = []string{"bob"}
		u.FollowingCount = 0
	})
	ctx := context.Background()

	res, err := f.mgr.Reconcile(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, ReconcileResult{
		UserID:          "alice",
		FollowersBefore: 7,
		FollowersAfter:  2,
		FollowingBefore: 0,
		FollowingAfter:  1,
		Changed:         true,
	}, res)
	assertConsistent(t, f.user(t, "alice"))
	assert.Equal(t, []shared.EventType{shared.EventCountersReconciled}, f.events.types())

	f.store.ResetCalls()
	res, err = f.mgr.Reconcile(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, res.Changed)
	assert.Equal(t, 0, f.store.Writes())

	_, err = f.mgr.Reconcile(ctx, "ghost")
	assert.ErrorIs(t, err, shared.ErrUserNotFound)
}

func TestReconcile_RepairsDriftFromFailedCompensation(t *testing.T) {
	f := newFixture(t)
	for _, id := range []string{"a", "b", "c"} {
		f.seed(t, id, nil)
	}
	ctx := context.Background()

	_, err := f.mgr.Follow(ctx, "a", "b")
	require.NoError(t, err)

	// c's edge write to b fails and so does undoing the write to c.
	f.store.InjectFault(memory.Fault{Method: memory.MethodUpdate, ID: "b"})
	f.store.InjectFault(memory.Fault{Method: memory.MethodUpdate, ID: "c", Skip: 1})
	_, err = f.mgr.Follow(ctx, "c", "b")
	assert.ErrorIs(t, err, shared.ErrNeedsReconciliation)
	assert.False(t, shared.IsRetryable(err))
	var nr *NeedsReconciliationError
	require.ErrorAs(t, err, &nr)
	assert.Equal(t, "Follow", nr.Op)
	assert.Equal(t, "c", nr.ActorID)
	assert.Equal(t, "b", nr.TargetID)
	f.store.ClearFaults()

	// The edge stays one-sided, so a retry sees it as already followed.
	res, err := f.mgr.Follow(ctx, "c", "b")
	require.NoError(t, err)
	assert.True(t, res.AlreadyFollowing)
	assert.NotContains(t, f.user(t, "b").Followers, "c")

	_, err = f.mgr.Unfollow(ctx, "a", "b")
	require.NoError(t, err)

	for _, id := range []string{"a", "b", "c"} {
		_, err := f.mgr.Reconcile(ctx, id)
		require.NoError(t, err)
		assertConsistent(t, f.user(t, id))
	}
}

func TestReads(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "alice", func(u *user.User) {
		u.Followers = []string{"bob"}
		u.Following = []string{"carol"}
	})
	ctx := context.Background()

	followers, err := f.mgr.Followers(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, followers)

	following, err := f.mgr.Following(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"carol"}, following)

	ok, err := f.mgr.IsFollowing(ctx, "alice", "carol")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = f.mgr.Followers(ctx, "ghost")
	assert.ErrorIs(t, err, shared.ErrUserNotFound)
}
