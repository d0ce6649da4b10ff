// Package social maintains the follow graph. Each edge lives twice, in the
// actor's following set and in the target's followers set, next to
// denormalized counters. The two documents are written separately; a
// failed second write undoes the first, and Reconcile repairs counter drift.
package social

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/taosiq/p2pskillx-sub000/internal/application/saga"
	"github.com/taosiq/p2pskillx-sub000/internal/domain/notification"
	"github.com/taosiq/p2pskillx-sub000/internal/domain/shared"
	"github.com/taosiq/p2pskillx-sub000/internal/domain/store"
	"github.com/taosiq/p2pskillx-sub000/internal/domain/user"
	"github.com/taosiq/p2pskillx-sub000/pkg/logger"
	"github.com/taosiq/p2pskillx-sub000/pkg/retry"
)

const (
	StepWriteActor  = "write_actor"
	StepWriteTarget = "write_target"
	StepNotify      = "notify_target"
)

// Result of a graph mutation. AlreadyFollowing and NotFollowing are
// idempotent no-ops: nothing was written.
type Result struct {
	Success          bool `json:"success"`
	AlreadyFollowing bool `json:"alreadyFollowing,omitempty"`
	NotFollowing     bool `json:"notFollowing,omitempty"`
}

// NeedsReconciliationError is returned when a graph write failed and
// undoing the first write failed too. The edge is then recorded on one side
// only; retrying does not repair it.
type NeedsReconciliationError struct {
	Op       string
	ActorID  string
	TargetID string
	Cause    error
}

func (e *NeedsReconciliationError) Error() string {
	return fmt.Sprintf("%s %s -> %s left a one-sided edge: %v", e.Op, e.ActorID, e.TargetID, e.Cause)
}

func (e *NeedsReconciliationError) Unwrap() error { return e.Cause }

func (e *NeedsReconciliationError) Is(target error) bool {
	return target == shared.ErrNeedsReconciliation
}

// Manager mutates the follow graph.
type Manager struct {
	store    store.Store
	notifier notification.Notifier
	events   shared.EventPublisher
	runner   *saga.Runner
	retrier  *retry.Retrier
	log      *logger.Logger
	now      func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

func WithEvents(p shared.EventPublisher) Option { return func(m *Manager) { m.events = p } }
func WithClock(now func() time.Time) Option     { return func(m *Manager) { m.now = now } }

// NewManager wires a Manager. notifier may be nil.
func NewManager(s store.Store, notifier notification.Notifier, log *logger.Logger, opts ...Option) *Manager {
	if log == nil {
		log = logger.Nop()
	}
	if notifier == nil {
		notifier = notification.Nop
	}
	m := &Manager{
		store:    s,
		notifier: notifier,
		log:      log.With(logger.Component("social")),
		now:      time.Now,
		retrier: retry.ConflictRetrier(func(err error) bool {
			return errors.Is(err, store.ErrPreconditionFailed)
		}),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.runner = saga.NewRunner("social", m.log)
	return m
}

// ═══════════════════════════════════════════════════════════════════════════
// FOLLOW
// ═══════════════════════════════════════════════════════════════════════════

// Follow makes actorID follow targetID.
func (m *Manager) Follow(ctx context.Context, actorID, targetID string) (*Result, error) {
	if actorID == targetID {
		return nil, shared.ErrSelfFollowNotAllowed
	}
	if err := validateIDs(actorID, targetID); err != nil {
		return nil, err
	}
	log := m.log.With(logger.ActorID(actorID), logger.TargetID(targetID), logger.Operation("follow"))

	target, err := m.load(ctx, targetID, shared.ErrUserNotFound)
	if err != nil {
		return nil, err
	}
	actor, err := m.load(ctx, actorID, shared.ErrActorProfileMissing)
	if err != nil {
		return nil, err
	}

	// actor.following is the source of truth for the edge.
	if actor.IsFollowing(targetID) {
		return &Result{Success: true, AlreadyFollowing: true}, nil
	}

	now := m.now().UTC()
	steps := []saga.Step{
		{
			Name: StepWriteActor,
			Action: func(ctx context.Context) error {
				return m.store.Update(ctx, store.Users, actorID, []store.Op{
					store.AddToSet(user.FieldFollowing, targetID),
					store.Set(user.FieldFollowingCount, actor.FollowingCount+1),
					store.Set(user.FieldUpdatedAt, now),
				})
			},
			Compensate: func(ctx context.Context) error {
				return m.store.Update(ctx, store.Users, actorID, []store.Op{
					store.RemoveFromSet(user.FieldFollowing, targetID),
					store.Set(user.FieldFollowingCount, actor.FollowingCount),
				})
			},
		},
		{
			Name: StepWriteTarget,
			Action: func(ctx context.Context) error {
				return m.store.Update(ctx, store.Users, targetID, []store.Op{
					store.AddToSet(user.FieldFollowers, actorID),
					store.Set(user.FieldFollowersCount, target.FollowersCount+1),
					store.Set(user.FieldUpdatedAt, now),
				})
			},
		},
		{
			Name:       StepNotify,
			BestEffort: true,
			Action: func(ctx context.Context) error {
				return m.notifier.Notify(ctx, notification.KindFollow, targetID, map[string]any{
					notification.PayloadActorID: actorID,
				})
			},
		},
	}

	if _, err := m.runner.Run(ctx, steps...); err != nil {
		return nil, m.failure(log, err, shared.ErrFollowPartiallyFailed, actorID, targetID)
	}

	m.publish(log, shared.NewFollowEdgeEvent(shared.EventFollowed, actorID, targetID))
	log.Info("user followed")
	return &Result{Success: true}, nil
}

// ═══════════════════════════════════════════════════════════════════════════
// UNFOLLOW / REMOVE FOLLOWER
// ═══════════════════════════════════════════════════════════════════════════

// Unfollow removes the actorID → targetID edge.
func (m *Manager) Unfollow(ctx context.Context, actorID, targetID string) (*Result, error) {
	if actorID == targetID {
		return nil, shared.ErrSelfFollowNotAllowed
	}
	if err := validateIDs(actorID, targetID); err != nil {
		return nil, err
	}
	log := m.log.With(logger.ActorID(actorID), logger.TargetID(targetID), logger.Operation("unfollow"))

	target, err := m.load(ctx, targetID, shared.ErrUserNotFound)
	if err != nil {
		return nil, err
	}
	actor, err := m.load(ctx, actorID, shared.ErrActorProfileMissing)
	if err != nil {
		return nil, err
	}
	if !actor.IsFollowing(targetID) {
		return &Result{Success: true, NotFollowing: true}, nil
	}

	if err := m.cut(ctx, actor, target, shared.ErrUnfollowPartiallyFailed, log); err != nil {
		return nil, err
	}

	m.publish(log, shared.NewFollowEdgeEvent(shared.EventUnfollowed, actorID, targetID))
	m.reconcileQuietly(ctx, log, actorID, targetID)
	log.Info("user unfollowed")
	return &Result{Success: true}, nil
}

// RemoveFollower drops followerID from actorID's followers. It is Unfollow
// started from the followed side.
func (m *Manager) RemoveFollower(ctx context.Context, actorID, followerID string) (*Result, error) {
	if actorID == followerID {
		return nil, shared.ErrSelfFollowNotAllowed
	}
	if err := validateIDs(actorID, followerID); err != nil {
		return nil, err
	}
	log := m.log.With(logger.ActorID(actorID), logger.TargetID(followerID), logger.Operation("remove_follower"))

	actor, err := m.load(ctx, actorID, shared.ErrActorProfileMissing)
	if err != nil {
		return nil, err
	}
	follower, err := m.load(ctx, followerID, shared.ErrUserNotFound)
	if err != nil {
		return nil, err
	}
	if !actor.HasFollower(followerID) {
		return &Result{Success: true, NotFollowing: true}, nil
	}

	// The edge is follower → actor; the actor's document is written first.
	if err := m.cutFrom(ctx, follower, actor, true, shared.ErrRemoveFollowerPartiallyFailed, log); err != nil {
		return nil, err
	}

	m.publish(log, shared.NewFollowEdgeEvent(shared.EventFollowerRemoved, followerID, actorID))
	m.reconcileQuietly(ctx, log, actorID, followerID)
	log.Info("follower removed")
	return &Result{Success: true}, nil
}

// cut removes the follower → followee edge writing the follower first.
func (m *Manager) cut(ctx context.Context, follower, followee *user.User, kind *shared.DomainError, log *logger.Logger) error {
	return m.cutFrom(ctx, follower, followee, false, kind, log)
}

// cutFrom removes the follower → followee edge. When followeeFirst is set
// the followee's document is written (and compensated) first.
func (m *Manager) cutFrom(ctx context.Context, follower, followee *user.User, followeeFirst bool, kind *shared.DomainError, log *logger.Logger) error {
	now := m.now().UTC()

	followerSide := saga.Step{
		Name: StepWriteActor,
		Action: func(ctx context.Context) error {
			return m.store.Update(ctx, store.Users, follower.ID, []store.Op{
				store.RemoveFromSet(user.FieldFollowing, followee.ID),
				store.Set(user.FieldFollowingCount, decrement(follower.FollowingCount)),
				store.Set(user.FieldUpdatedAt, now),
			})
		},
		Compensate: func(ctx context.Context) error {
			return m.store.Update(ctx, store.Users, follower.ID, []store.Op{
				store.AddToSet(user.FieldFollowing, followee.ID),
				store.Set(user.FieldFollowingCount, follower.FollowingCount),
			})
		},
	}
	followeeSide := saga.Step{
		Name: StepWriteTarget,
		Action: func(ctx context.Context) error {
			return m.store.Update(ctx, store.Users, followee.ID, []store.Op{
				store.RemoveFromSet(user.FieldFollowers, follower.ID),
				store.Set(user.FieldFollowersCount, decrement(followee.FollowersCount)),
				store.Set(user.FieldUpdatedAt, now),
			})
		},
		Compensate: func(ctx context.Context) error {
			return m.store.Update(ctx, store.Users, followee.ID, []store.Op{
				store.AddToSet(user.FieldFollowers, follower.ID),
				store.Set(user.FieldFollowersCount, followee.FollowersCount),
			})
		},
	}

	steps := []saga.Step{followerSide, followeeSide}
	if followeeFirst {
		followeeSide.Name, followerSide.Name = StepWriteActor, StepWriteTarget
		steps = []saga.Step{followeeSide, followerSide}
	}
	if _, err := m.runner.Run(ctx, steps...); err != nil {
		if followeeFirst {
			return m.failure(log, err, kind, followee.ID, follower.ID)
		}
		return m.failure(log, err, kind, follower.ID, followee.ID)
	}
	return nil
}

// failure maps a failed graph saga to the caller-facing error.
func (m *Manager) failure(log *logger.Logger, err error, kind *shared.DomainError, actorID, targetID string) error {
	se, ok := saga.AsError(err)
	if !ok {
		return err
	}
	if se.Step == StepWriteActor {
		// Nothing was written.
		return fmt.Errorf("%s: %w", kind.Op, se.Cause)
	}
	if !se.Compensated() {
		log.Error("graph left inconsistent, needs manual reconciliation",
			logger.Err(se.Cause), logger.F("compensation_error", se.CompensationErr.Error()))
		return &NeedsReconciliationError{
			Op:       kind.Op,
			ActorID:  actorID,
			TargetID: targetID,
			Cause:    errors.Join(se.Cause, se.CompensationErr),
		}
	}
	return shared.WrapError(kind.Domain, kind.Op, kind, kind.Message, se.Cause)
}

func (m *Manager) reconcileQuietly(ctx context.Context, log *logger.Logger, ids ...string) {
	ctx = context.WithoutCancel(ctx)
	for _, id := range ids {
		if _, err := m.Reconcile(ctx, id); err != nil {
			log.Debug("opportunistic reconcile failed", logger.UserID(id), logger.Err(err))
		}
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// READS
// ═══════════════════════════════════════════════════════════════════════════

// Followers returns the follower ids of userID.
func (m *Manager) Followers(ctx context.Context, userID string) ([]string, error) {
	u, err := m.load(ctx, userID, shared.ErrUserNotFound)
	if err != nil {
		return nil, err
	}
	return u.Followers, nil
}

// Following returns the ids userID follows.
func (m *Manager) Following(ctx context.Context, userID string) ([]string, error) {
	u, err := m.load(ctx, userID, shared.ErrUserNotFound)
	if err != nil {
		return nil, err
	}
	return u.Following, nil
}

// IsFollowing reports whether actorID follows targetID.
func (m *Manager) IsFollowing(ctx context.Context, actorID, targetID string) (bool, error) {
	u, err := m.load(ctx, actorID, shared.ErrActorProfileMissing)
	if err != nil {
		return false, err
	}
	return u.IsFollowing(targetID), nil
}

// ═══════════════════════════════════════════════════════════════════════════
// HELPERS
// ═══════════════════════════════════════════════════════════════════════════

func (m *Manager) load(ctx context.Context, id string, missing error) (*user.User, error) {
	doc, err := m.store.Get(ctx, store.Users, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, missing
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user %s: %w", id, err)
	}
	return user.FromDocument(doc)
}

func (m *Manager) publish(log *logger.Logger, e shared.Event) {
	if m.events == nil {
		return
	}
	if err := m.events.Publish(e); err != nil {
		log.Warn("failed to publish event", logger.String("event", string(e.EventType())), logger.Err(err))
	}
}

func validateIDs(ids ...string) error {
	for _, id := range ids {
		if err := shared.ValidateID(id); err != nil {
			return err
		}
	}
	return nil
}

func decrement(n int) int {
	return max(n-1, 0)
}
