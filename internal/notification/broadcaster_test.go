package notification

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisBroadcaster_Broadcast(t *testing.T) {
	db, mock := redismock.NewClientMock()
	at := time.Date(2025, 6, 14, 9, 30, 0, 0, time.UTC)

	b := NewRedisBroadcaster(db, "oplaisir:admin")
	b.now = func() time.Time { return at }

	payload := map[string]any{"count": 3}
	body, err := encodeEnvelope(EventPendingCheck, payload, at)
	require.NoError(t, err)

	mock.ExpectPublish("oplaisir:admin", body).SetVal(1)

	require.NoError(t, b.Broadcast(context.Background(), EventPendingCheck, payload))
	require.NoError(t, mock.ExpectationsWereMet())

	var env Envelope
	require.NoError(t, json.Unmarshal(body, &env))
	assert.Equal(t, EventPendingCheck, env.Event)
	assert.JSONEq(t, `{"count":3}`, string(env.Data))
	assert.True(t, at.Equal(env.Timestamp))
}

func TestRedisBroadcaster_PublishError(t *testing.T) {
	db, mock := redismock.NewClientMock()
	at := time.Date(2025, 6, 14, 9, 30, 0, 0, time.UTC)

	b := NewRedisBroadcaster(db, "oplaisir:admin")
	b.now = func() time.Time { return at }

	body, err := encodeEnvelope(EventAlert, "x", at)
	require.NoError(t, err)
	mock.ExpectPublish("oplaisir:admin", body).SetErr(errors.New("READONLY"))

	err = b.Broadcast(context.Background(), EventAlert, "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "READONLY")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisBroadcaster_UnencodablePayload(t *testing.T) {
	db, mock := redismock.NewClientMock()
	b := NewRedisBroadcaster(db, "oplaisir:admin")

	err := b.Broadcast(context.Background(), EventAlert, make(chan int))
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

type countingBroadcaster struct {
	events   []string
	payloads []map[string]any
}

func (c *countingBroadcaster) Broadcast(_ context.Context, event string, payload any) error {
	c.events = append(c.events, event)
	if m, ok := payload.(map[string]any); ok {
		c.payloads = append(c.payloads, m)
	}
	return nil
}

type fixedCounter int

func (f fixedCounter) PendingCount(context.Context) (int, error) { return int(f), nil }

func TestPendingSweeper_SweepOnce(t *testing.T) {
	bc := &countingBroadcaster{}

	count, err := NewPendingSweeper(fixedCounter(0), bc, 0).SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Empty(t, bc.events)

	count, err = NewPendingSweeper(fixedCounter(4), bc, 0).SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, count)
	require.Equal(t, []string{EventPendingCheck}, bc.events)
	assert.Equal(t, "Rappel: 4 commande(s) en attente de validation", bc.payloads[0]["message"])
	assert.Equal(t, 4, bc.payloads[0]["count"])
}

func TestPendingSweeper_RunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	sweeper := NewPendingSweeper(fixedCounter(1), &countingBroadcaster{}, 5*time.Millisecond)

	done := make(chan error, 1)
	go func() { done <- sweeper.Run(ctx) }()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
