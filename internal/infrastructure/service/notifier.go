// Package service holds the infrastructure implementations of application
// capabilities. StoreNotifier persists notifications to the notifications
// collection and pushes them to a pub/sub channel for live delivery.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/taosiq/p2pskillx-sub000/internal/domain/notification"
	"github.com/taosiq/p2pskillx-sub000/internal/domain/shared"
	"github.com/taosiq/p2pskillx-sub000/internal/domain/store"
	"github.com/taosiq/p2pskillx-sub000/pkg/circuitbreaker"
	"github.com/taosiq/p2pskillx-sub000/pkg/logger"
)

// ErrUnknownKind rejects notifications of an unregistered kind.
var ErrUnknownKind = errors.New("notifier: unknown notification kind")

// ChannelPublisher pushes a message to a pub/sub channel.
type ChannelPublisher interface {
	Publish(ctx context.Context, channel string, message any) error
}

// StoreNotifier implements notification.Notifier.
type StoreNotifier struct {
	store   store.Store
	pub     ChannelPublisher
	channel string
	breaker *circuitbreaker.CircuitBreaker
	log     *logger.Logger
	now     func() time.Time
}

var _ notification.Notifier = (*StoreNotifier)(nil)

// NotifierOption configures a StoreNotifier.
type NotifierOption func(*StoreNotifier)

// WithChannel also publishes each notification to channel.
func WithChannel(pub ChannelPublisher, channel string) NotifierOption {
	return func(n *StoreNotifier) { n.pub, n.channel = pub, channel }
}

func WithBreaker(cb *circuitbreaker.CircuitBreaker) NotifierOption {
	return func(n *StoreNotifier) { n.breaker = cb }
}

func WithClock(now func() time.Time) NotifierOption {
	return func(n *StoreNotifier) { n.now = now }
}

// NewStoreNotifier creates a notifier writing to st.
func NewStoreNotifier(st store.Store, log *logger.Logger, opts ...NotifierOption) *StoreNotifier {
	if log == nil {
		log = logger.Nop()
	}
	n := &StoreNotifier{store: st, log: log.With(logger.Component("notifier")), now: time.Now}
	for _, opt := range opts {
		opt(n)
	}
	if n.breaker == nil {
		n.breaker = circuitbreaker.NotificationBreaker(func(name string, from, to circuitbreaker.State) {
			n.log.Warn("circuit breaker state changed",
				logger.String("breaker", name),
				logger.String("from", from.String()),
				logger.String("to", to.String()),
			)
		})
	}
	return n
}

// Notify stores the notification and, when a channel is configured,
// publishes it. The channel push is best effort once the document exists.
func (n *StoreNotifier) Notify(ctx context.Context, kind notification.Kind, recipientID string, payload map[string]any) error {
	if !kind.IsValid() {
		return fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	if recipientID == "" {
		return errors.New("notifier: recipient is required")
	}
	if payload == nil {
		payload = map[string]any{}
	}
	note := notification.Notification{
		ID:          uuid.NewString(),
		Kind:        kind,
		RecipientID: recipientID,
		Payload:     payload,
		CreatedAt:   n.now().UTC(),
	}

	return n.breaker.Execute(ctx, func(ctx context.Context) error {
		doc, err := store.Encode(note)
		if err != nil {
			return err
		}
		if err := n.store.Set(ctx, store.Notifications, note.ID, doc); err != nil {
			return fmt.Errorf("failed to store notification: %w", err)
		}
		if n.pub != nil {
			if err := n.pub.Publish(ctx, n.channel, note); err != nil {
				n.log.Warn("failed to push notification",
					logger.NotificationKind(string(kind)), logger.UserID(recipientID), logger.Err(err))
			}
		}
		return nil
	})
}

// ListForRecipient returns a user's notifications, newest first.
func (n *StoreNotifier) ListForRecipient(ctx context.Context, recipientID string, limit int) ([]notification.Notification, error) {
	docs, err := n.store.Query(ctx, store.Query{
		Collection: store.Notifications,
		Filters:    []store.Filter{store.Eq("recipientId", recipientID)},
		OrderBy:    "createdAt",
		Descending: true,
		Limit:      limit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	out := make([]notification.Notification, 0, len(docs))
	for _, d := range docs {
		var note notification.Notification
		if err := store.Decode(d, &note); err != nil {
			return nil, err
		}
		out = append(out, note)
	}
	return out, nil
}

// MarkRead flags a notification as read by its recipient. Another user's
// notification is reported as not found.
func (n *StoreNotifier) MarkRead(ctx context.Context, recipientID, id string) error {
	err := n.store.Update(ctx, store.Notifications, id,
		[]store.Op{store.Set("read", true)},
		store.Equals("recipientId", recipientID))
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrPreconditionFailed) {
		return shared.WrapError("notification", "MarkRead", shared.ErrNotFound, "notification "+id, nil)
	}
	if err != nil {
		return fmt.Errorf("failed to mark notification %s read: %w", id, err)
	}
	return nil
}
