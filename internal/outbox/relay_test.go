package outbox_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/uuid"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Bernabe-03/oplaisir/internal/catalog"
	"github.com/Bernabe-03/oplaisir/internal/order"
	"github.com/Bernabe-03/oplaisir/internal/outbox"
	"github.com/Bernabe-03/oplaisir/internal/storage/memory"
)

type recordingPublisher struct {
	mu   sync.Mutex
	seen []string
	err  error
}

func (p *recordingPublisher) Publish(_ context.Context, msg outbox.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seen = append(p.seen, msg.Type)
	return p.err
}

// seedOrders creates n orders straight through the repository, each of which
// leaves one order.created message behind.
func seedOrders(t *testing.T, store *memory.Store, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		o := &order.Order{
			CustomerName: "Awa",
			Status:       order.StatusPending,
			Items: []order.LineItem{
				{Ref: catalog.ProductRef(uuid.Must(uuid.NewV4())), Name: "Moët", Quantity: 1},
			},
			CreatedAt: time.Date(2025, 2, 1, 8, 0, i, 0, time.UTC),
		}
		require.NoError(t, store.CreateOrder(context.Background(), o))
	}
}

func TestRelay_PublishesPendingInOrder(t *testing.T) {
	store := memory.New()
	seedOrders(t, store, 3)
	pub := &recordingPublisher{}

	relay := outbox.NewRelay(store, pub, outbox.RelayConfig{BatchSize: 2})

	n, err := relay.RelayOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = relay.RelayOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = relay.RelayOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	assert.Len(t, pub.seen, 3)
	for _, msg := range store.Messages() {
		assert.Equal(t, outbox.StatusPublished, msg.Status)
		assert.Equal(t, 1, msg.Attempts)
		require.NotNil(t, msg.PublishedAt)
	}
}

func TestRelay_FailedMessagesRetryThenDie(t *testing.T) {
	store := memory.New()
	seedOrders(t, store, 1)
	pub := &recordingPublisher{err: errors.New("broker unreachable")}

	relay := outbox.NewRelay(store, pub, outbox.RelayConfig{MaxAttempts: 3})

	for i := 0; i < 3; i++ {
		n, err := relay.RelayOnce(context.Background())
		require.NoError(t, err)
		assert.Zero(t, n)
	}

	msgs := store.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, outbox.StatusDead, msgs[0].Status)
	assert.Equal(t, 3, msgs[0].Attempts)
	assert.Equal(t, "broker unreachable", msgs[0].LastError)

	n, err := relay.RelayOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, pub.seen, 3)
}

func TestRelay_RunStopsOnCancel(t *testing.T) {
	store := memory.New()
	seedOrders(t, store, 1)
	pub := &recordingPublisher{}
	relay := outbox.NewRelay(store, pub, outbox.RelayConfig{PollInterval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()

	require.Eventually(t, func() bool {
		return store.Messages()[0].Status == outbox.StatusPublished
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("relay did not stop after cancel")
	}
}

func TestFanOut_JoinsErrors(t *testing.T) {
	ok := &recordingPublisher{}
	failing := &recordingPublisher{err: errors.New("kafka down")}

	msg, err := outbox.NewMessage(order.EventOrderCreated, "order-1", map[string]int{"n": 1}, time.Now())
	require.NoError(t, err)

	err = outbox.FanOut{ok, failing}.Publish(context.Background(), msg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kafka down")
	assert.Len(t, ok.seen, 1)
	assert.Len(t, failing.seen, 1)

	assert.NoError(t, outbox.FanOut{ok}.Publish(context.Background(), msg))
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	calls := 0
	next := outbox.PublisherFunc(func(context.Context, outbox.Message) error {
		calls++
		return errors.New("connection refused")
	})
	b := outbox.NewBreaker("test-broker", next)

	msg, err := outbox.NewMessage(order.EventOrderCreated, "order-1", nil, time.Now())
	require.NoError(t, err)

	for i := 0; i < 6; i++ {
		assert.Error(t, b.Publish(context.Background(), msg))
	}
	assert.Equal(t, gobreaker.StateOpen, b.State())

	err = b.Publish(context.Background(), msg)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 6, calls)
}

func TestNewMessage_IDsSortByTime(t *testing.T) {
	early, err := outbox.NewMessage("a", "x", nil, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	late, err := outbox.NewMessage("a", "x", nil, time.Date(2025, 1, 1, 0, 0, 1, 0, time.UTC))
	require.NoError(t, err)

	assert.Less(t, early.ID, late.ID)
	assert.Equal(t, outbox.StatusPending, early.Status)
	assert.JSONEq(t, "null", string(early.Payload))
}
