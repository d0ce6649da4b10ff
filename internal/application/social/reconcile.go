package social

import (
	"context"
	"errors"
	"fmt"

	"github.com/taosiq/p2pskillx-sub000/internal/domain/shared"
	"github.com/taosiq/p2pskillx-sub000/internal/domain/store"
	"github.com/taosiq/p2pskillx-sub000/internal/domain/user"
	"github.com/taosiq/p2pskillx-sub000/pkg/logger"
	"github.com/taosiq/p2pskillx-sub000/pkg/retry"
)

// ReconcileResult reports the counters before and after a reconcile pass.
type ReconcileResult struct {
	UserID          string `json:"userId"`
	FollowersBefore int    `json:"followersBefore"`
	FollowersAfter  int    `json:"followersAfter"`
	FollowingBefore int    `json:"followingBefore"`
	FollowingAfter  int    `json:"followingAfter"`
	Changed         bool   `json:"changed"`
}

// Reconcile recomputes followersCount and followingCount from the sets and
// overwrites them on drift. It is idempotent and safe at any time. Edge
// asymmetry between two users is left alone.
func (m *Manager) Reconcile(ctx context.Context, userID string) (ReconcileResult, error) {
	if err := shared.ValidateID(userID); err != nil {
		return ReconcileResult{}, err
	}
	res, err := retry.DoWithData(ctx, m.retrier, func(ctx context.Context) (ReconcileResult, error) {
		return m.reconcileOnce(ctx, userID)
	})
	if errors.Is(err, store.ErrPreconditionFailed) {
		return res, shared.WrapError("social", "Reconcile", shared.ErrConcurrentModification,
			"follow sets kept changing", err)
	}
	if err != nil {
		return res, err
	}

	if res.Changed {
		m.log.Info("follow counters reconciled",
			logger.UserID(userID),
			logger.Int("followers_before", res.FollowersBefore),
			logger.Int("followers_after", res.FollowersAfter),
			logger.Int("following_before", res.FollowingBefore),
			logger.Int("following_after", res.FollowingAfter),
		)
		m.publish(m.log, shared.CountersReconciledEvent{
			BaseEvent:       shared.NewBaseEvent(shared.EventCountersReconciled, userID),
			UserID:          userID,
			FollowersBefore: res.FollowersBefore,
			FollowersAfter:  res.FollowersAfter,
			FollowingBefore: res.FollowingBefore,
			FollowingAfter:  res.FollowingAfter,
		})
	}
	return res, nil
}

func (m *Manager) reconcileOnce(ctx context.Context, userID string) (ReconcileResult, error) {
	doc, err := m.store.Get(ctx, store.Users, userID)
	if errors.Is(err, store.ErrNotFound) {
		return ReconcileResult{}, retry.Permanent(shared.ErrUserNotFound)
	}
	if err != nil {
		return ReconcileResult{}, retry.Permanent(fmt.Errorf("failed to load user %s: %w", userID, err))
	}

	followers, _ := store.Lookup(doc, user.FieldFollowers)
	following, _ := store.Lookup(doc, user.FieldFollowing)
	followersCount, _ := store.Lookup(doc, user.FieldFollowersCount)
	followingCount, _ := store.Lookup(doc, user.FieldFollowingCount)

	res := ReconcileResult{
		UserID:          userID,
		FollowersBefore: store.AsInt(followersCount),
		FollowersAfter:  distinct(store.AsStrings(followers)),
		FollowingBefore: store.AsInt(followingCount),
		FollowingAfter:  distinct(store.AsStrings(following)),
	}
	if res.FollowersBefore == res.FollowersAfter && res.FollowingBefore == res.FollowingAfter {
		return res, nil
	}

	// The sets must not change between the read and the counter write.
	err = m.store.Update(ctx, store.Users, userID,
		[]store.Op{
			store.Set(user.FieldFollowersCount, res.FollowersAfter),
			store.Set(user.FieldFollowingCount, res.FollowingAfter),
		},
		unchanged(user.FieldFollowers, followers),
		unchanged(user.FieldFollowing, following),
	)
	if err != nil {
		if errors.Is(err, store.ErrPreconditionFailed) {
			return res, err
		}
		return res, retry.Permanent(fmt.Errorf("failed to write counters of %s: %w", userID, err))
	}
	res.Changed = true
	return res, nil
}

func unchanged(path string, v any) store.Precondition {
	if v == nil {
		return store.Absent(path)
	}
	return store.Equals(path, v)
}

func distinct(ids []string) int {
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		seen[id] = struct{}{}
	}
	return len(seen)
}
