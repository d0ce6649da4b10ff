// Package notification defines the notifications SkillX emits and the
// Notifier capability the application layer depends on. Delivery is fire
// and forget: a failed notification never fails the operation behind it.
package notification

import (
	"context"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// KIND
// ══════════════════════════════════════════════════════════════════════════════

// Kind identifies what happened.
type Kind string

const (
	// KindCreditDeduction goes to a user whose credits were spent.
	KindCreditDeduction Kind = "credit-deduction"
	// KindCourseEnrollment goes to a course creator when someone enrolls.
	KindCourseEnrollment Kind = "course-enrollment"
	// KindFollow goes to the user who gained a follower.
	KindFollow      Kind = "follow"
	KindPostLike    Kind = "post-like"
	KindPostComment Kind = "post-comment"
	// KindFollowingPost goes to followers when someone they follow posts.
	KindFollowingPost Kind = "following-post"
	// KindFollowingCourse goes to followers when someone they follow
	// publishes a course.
	KindFollowingCourse Kind = "following-course"
)

func (k Kind) IsValid() bool {
	switch k {
	case KindCreditDeduction, KindCourseEnrollment, KindFollow,
		KindPostLike, KindPostComment, KindFollowingPost, KindFollowingCourse:
		return true
	default:
		return false
	}
}

func (k Kind) String() string { return string(k) }

// ══════════════════════════════════════════════════════════════════════════════
// NOTIFICATION
// ══════════════════════════════════════════════════════════════════════════════

// Notification is the notifications/<id> document.
type Notification struct {
	ID          string         `json:"id"`
	Kind        Kind           `json:"kind"`
	RecipientID string         `json:"recipientId"`
	Payload     map[string]any `json:"payload"`
	Read        bool           `json:"read"`
	CreatedAt   time.Time      `json:"createdAt"`
}

// Payload keys shared by producers.
const (
	PayloadActorID   = "actorId"
	PayloadCourseID  = "courseId"
	PayloadPostID    = "postId"
	PayloadAmount    = "amount"
	PayloadTitle     = "title"
	PayloadRemaining = "remainingCredits"
)

// ══════════════════════════════════════════════════════════════════════════════
// NOTIFIER
// ══════════════════════════════════════════════════════════════════════════════

// Notifier delivers a notification. Callers log a returned error and move on.
type Notifier interface {
	Notify(ctx context.Context, kind Kind, recipientID string, payload map[string]any) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, kind Kind, recipientID string, payload map[string]any) error

func (f NotifierFunc) Notify(ctx context.Context, kind Kind, recipientID string, payload map[string]any) error {
	return f(ctx, kind, recipientID, payload)
}

// Nop discards notifications.
var Nop Notifier = NotifierFunc(func(context.Context, Kind, string, map[string]any) error { return nil })
