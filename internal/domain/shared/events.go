package shared

import (
	"encoding/json"
	"time"
)

// EventType names a domain event.
type EventType string

const (
	EventUserRegistered EventType = "user.registered"
	EventSkillVerified  EventType = "user.skill_verified"

	EventEnrollmentCompleted EventType = "enrollment.completed"
	EventEnrollmentRefunded  EventType = "enrollment.refunded"

	EventFollowed           EventType = "social.followed"
	EventUnfollowed         EventType = "social.unfollowed"
	EventFollowerRemoved    EventType = "social.follower_removed"
	EventCountersReconciled EventType = "social.counters_reconciled"

	EventCourseCreated EventType = "course.created"
	EventCourseDeleted EventType = "course.deleted"
	EventPostCreated   EventType = "feed.post_created"
)

// Event is something that already happened in the domain.
type Event interface {
	EventType() EventType
	OccurredAt() time.Time
	// AggregateID is the id of the document the event is about.
	AggregateID() string
	Payload() map[string]any
}

// BaseEvent implements the bookkeeping half of Event.
type BaseEvent struct {
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	AggregateId   string    `json:"aggregate_id"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

func (e BaseEvent) EventType() EventType  { return e.Type }
func (e BaseEvent) OccurredAt() time.Time { return e.Timestamp }
func (e BaseEvent) AggregateID() string   { return e.AggregateId }

// NewBaseEvent stamps an event with the current UTC time.
func NewBaseEvent(eventType EventType, aggregateID string) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   time.Now().UTC(),
		AggregateId: aggregateID,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// ENROLLMENT EVENTS
// ═══════════════════════════════════════════════════════════════════════════

// EnrollmentCompletedEvent is emitted once credits are debited and the
// enrollment record is written.
type EnrollmentCompletedEvent struct {
	BaseEvent
	UserID       string `json:"user_id"`
	CourseID     string `json:"course_id"`
	CreatorID    string `json:"creator_id"`
	CreditsSpent int    `json:"credits_spent"`
}

func (e EnrollmentCompletedEvent) Payload() map[string]any {
	return map[string]any{
		"user_id":       e.UserID,
		"course_id":     e.CourseID,
		"creator_id":    e.CreatorID,
		"credits_spent": e.CreditsSpent,
	}
}

func NewEnrollmentCompletedEvent(userID, courseID, creatorID string, credits int) EnrollmentCompletedEvent {
	return EnrollmentCompletedEvent{
		BaseEvent:    NewBaseEvent(EventEnrollmentCompleted, userID),
		UserID:       userID,
		CourseID:     courseID,
		CreatorID:    creatorID,
		CreditsSpent: credits,
	}
}

// EnrollmentRefundedEvent is emitted when a debit was rolled back.
type EnrollmentRefundedEvent struct {
	BaseEvent
	UserID   string `json:"user_id"`
	CourseID string `json:"course_id"`
	Amount   int    `json:"amount"`
	Reason   string `json:"reason"`
}

func (e EnrollmentRefundedEvent) Payload() map[string]any {
	return map[string]any{
		"user_id":   e.UserID,
		"course_id": e.CourseID,
		"amount":    e.Amount,
		"reason":    e.Reason,
	}
}

func NewEnrollmentRefundedEvent(userID, courseID string, amount int, reason string) EnrollmentRefundedEvent {
	return EnrollmentRefundedEvent{
		BaseEvent: NewBaseEvent(EventEnrollmentRefunded, userID),
		UserID:    userID,
		CourseID:  courseID,
		Amount:    amount,
		Reason:    reason,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// SOCIAL EVENTS
// ═══════════════════════════════════════════════════════════════════════════

// FollowEdgeEvent covers follow, unfollow and follower removal; Type tells
// them apart.
type FollowEdgeEvent struct {
	BaseEvent
	FollowerID string `json:"follower_id"`
	FolloweeID string `json:"followee_id"`
}

func (e FollowEdgeEvent) Payload() map[string]any {
	return map[string]any{
		"follower_id": e.FollowerID,
		"followee_id": e.FolloweeID,
	}
}

func NewFollowEdgeEvent(t EventType, followerID, followeeID string) FollowEdgeEvent {
	return FollowEdgeEvent{
		BaseEvent:  NewBaseEvent(t, followerID),
		FollowerID: followerID,
		FolloweeID: followeeID,
	}
}

// CountersReconciledEvent is emitted only when a reconcile pass corrected drift.
type CountersReconciledEvent struct {
	BaseEvent
	UserID          string `json:"user_id"`
	FollowersBefore int    `json:"followers_before"`
	FollowersAfter  int    `json:"followers_after"`
	FollowingBefore int    `json:"following_before"`
	FollowingAfter  int    `json:"following_after"`
}

func (e CountersReconciledEvent) Payload() map[string]any {
	return map[string]any{
		"user_id":          e.UserID,
		"followers_before": e.FollowersBefore,
		"followers_after":  e.FollowersAfter,
		"following_before": e.FollowingBefore,
		"following_after":  e.FollowingAfter,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// CATALOG, FEED AND ACCOUNT EVENTS
// ═══════════════════════════════════════════════════════════════════════════

// EntityEvent is a generic event for documents created or deleted by an
// owner (courses, posts, users).
type EntityEvent struct {
	BaseEvent
	OwnerID string `json:"owner_id"`
}

func (e EntityEvent) Payload() map[string]any {
	return map[string]any{"id": e.AggregateId, "owner_id": e.OwnerID}
}

func NewEntityEvent(t EventType, id, ownerID string) EntityEvent {
	return EntityEvent{BaseEvent: NewBaseEvent(t, id), OwnerID: ownerID}
}

// ═══════════════════════════════════════════════════════════════════════════
// TRANSPORT
// ═══════════════════════════════════════════════════════════════════════════

// EventEnvelope is the wire form of an event.
type EventEnvelope struct {
	Type        EventType       `json:"type"`
	AggregateID string          `json:"aggregate_id"`
	Timestamp   time.Time       `json:"timestamp"`
	Payload     json.RawMessage `json:"payload"`
}

// NewEnvelope serializes an event's payload.
func NewEnvelope(e Event) (EventEnvelope, error) {
	payload, err := json.Marshal(e.Payload())
	if err != nil {
		return EventEnvelope{}, err
	}
	return EventEnvelope{
		Type:        e.EventType(),
		AggregateID: e.AggregateID(),
		Timestamp:   e.OccurredAt(),
		Payload:     payload,
	}, nil
}

// EventHandler handles one event.
type EventHandler func(event Event) error

// EventPublisher publishes events. Publishing is best effort for callers.
type EventPublisher interface {
	Publish(event Event) error
}

// EventSubscriber registers handlers.
type EventSubscriber interface {
	Subscribe(eventType EventType, handler EventHandler) error
	SubscribeAll(handler EventHandler) error
}

// EventBus combines both sides.
type EventBus interface {
	EventPublisher
	EventSubscriber
}
