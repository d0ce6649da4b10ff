package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taosiq/p2pskillx-sub000/internal/domain/notification"
	"github.com/taosiq/p2pskillx-sub000/internal/domain/shared"
	"github.com/taosiq/p2pskillx-sub000/internal/domain/store"
	"github.com/taosiq/p2pskillx-sub000/internal/infrastructure/persistence/memory"
	"github.com/taosiq/p2pskillx-sub000/pkg/circuitbreaker"
)

type recordingPublisher struct {
	channel string
	sent    []any
	err     error
}

func (p *recordingPublisher) Publish(_ context.Context, channel string, message any) error {
	p.channel = channel
	p.sent = append(p.sent, message)
	return p.err
}

func fixedClock() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) }

func TestStoreNotifier_PersistsAndPublishes(t *testing.T) {
	st := memory.New()
	pub := &recordingPublisher{}
	n := NewStoreNotifier(st, nil, WithChannel(pub, "pubsub:notifications"), WithClock(fixedClock))
	ctx := context.Background()

	err := n.Notify(ctx, notification.KindFollow, "bob", map[string]any{notification.PayloadActorID: "alice"})
	require.NoError(t, err)

	require.Len(t, pub.sent, 1)
	assert.Equal(t, "pubsub:notifications", pub.channel)
	sent := pub.sent[0].(notification.Notification)

	doc, ok := st.Peek(store.Notifications, sent.ID)
	require.True(t, ok)
	assert.Equal(t, "follow", doc["kind"])
	assert.Equal(t, "bob", doc["recipientId"])
	assert.Equal(t, false, doc["read"])

	list, err := n.ListForRecipient(ctx, "bob", 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "alice", list[0].Payload[notification.PayloadActorID])
	assert.True(t, list[0].CreatedAt.Equal(fixedClock()))

	require.NoError(t, n.MarkRead(ctx, "bob", sent.ID))
	doc, _ = st.Peek(store.Notifications, sent.ID)
	assert.Equal(t, true, doc["read"])

	assert.True(t, shared.IsNotFound(n.MarkRead(ctx, "mallory", sent.ID)))
	assert.True(t, shared.IsNotFound(n.MarkRead(ctx, "bob", "missing")))
}

func TestStoreNotifier_RejectsInvalidInput(t *testing.T) {
	n := NewStoreNotifier(memory.New(), nil)
	ctx := context.Background()

	assert.ErrorIs(t, n.Notify(ctx, notification.Kind("spam"), "bob", nil), ErrUnknownKind)
	assert.Error(t, n.Notify(ctx, notification.KindFollow, "", nil))
}

func TestStoreNotifier_PublishFailureIsNotFatal(t *testing.T) {
	st := memory.New()
	pub := &recordingPublisher{err: errors.New("redis down")}
	n := NewStoreNotifier(st, nil, WithChannel(pub, "pubsub:notifications"))

	require.NoError(t, n.Notify(context.Background(), notification.KindCourseEnrollment, "bob", nil))
	assert.Equal(t, 1, st.Writes())
}

func TestStoreNotifier_OpensCircuit(t *testing.T) {
	st := memory.New()
	st.InjectFault(memory.Fault{Method: memory.MethodSet, Collection: store.Notifications})

	var transitions []circuitbreaker.State
	cb := circuitbreaker.New("notifications",
		circuitbreaker.WithFailureThreshold(3),
		circuitbreaker.WithCooldown(time.Hour),
		circuitbreaker.WithOnStateChange(func(_ string, _, to circuitbreaker.State) {
			transitions = append(transitions, to)
		}),
	)
	n := NewStoreNotifier(st, nil, WithBreaker(cb))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, n.Notify(ctx, notification.KindFollow, "bob", nil), memory.ErrInjected)
	}
	assert.Equal(t, 3, st.Calls(memory.MethodSet))

	err := n.Notify(ctx, notification.KindFollow, "bob", nil)
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitOpen)
	assert.Equal(t, 3, st.Calls(memory.MethodSet))
	assert.Equal(t, []circuitbreaker.State{circuitbreaker.StateOpen}, transitions)
}
