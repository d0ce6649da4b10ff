package app

import (
	"context"
	"time"

	"github.com/taosiq/p2pskillx-sub000/internal/domain/shared"
	"github.com/taosiq/p2pskillx-sub000/pkg/logger"
)

// Invalidator drops a user's cached recommendations.
type Invalidator interface {
	Invalidate(ctx context.Context, userID string) error
}

// Events that change the inputs of the acting user's ranking. Each one is
// aggregated on that user.
var invalidatingEvents = []shared.EventType{
	shared.EventFollowed,
	shared.EventUnfollowed,
	shared.EventFollowerRemoved,
	shared.EventEnrollmentCompleted,
	shared.EventEnrollmentRefunded,
	shared.EventSkillVerified,
}

// SubscribeInvalidation clears cached recommendations when a user's graph,
// enrollments or verified skills change.
func SubscribeInvalidation(sub shared.EventSubscriber, inv Invalidator, log *logger.Logger) error {
	handler := func(e shared.Event) error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := inv.Invalidate(ctx, e.AggregateID()); err != nil {
			log.Warn("failed to invalidate recommendations",
				logger.UserID(e.AggregateID()),
				logger.String("event_type", string(e.EventType())),
				logger.Err(err),
			)
			return err
		}
		return nil
	}
	for _, t := range invalidatingEvents {
		if err := sub.Subscribe(t, handler); err != nil {
			return err
		}
	}
	return nil
}
