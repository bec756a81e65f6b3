package order_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Bernabe-03/oplaisir/internal/order"
)

func TestStatusChangedEvent_UsesSnakeCaseKeys(t *testing.T) {
	event := order.StatusChangedEvent{
		Order:     &order.Order{OrderNumber: "CMD-250614-0001", Status: order.StatusValidated},
		OldStatus: order.StatusPending,
		NewStatus: order.StatusValidated,
		ActorID:   "admin-1",
	}

	raw, err := json.Marshal(event)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "PENDING", decoded["old_status"])
	assert.Equal(t, "VALIDATED", decoded["new_status"])
	assert.Equal(t, "admin-1", decoded["actor_id"])
	assert.Equal(t, "CMD-250614-0001", decoded["order"].(map[string]any)["order_number"])
	assert.NotContains(t, decoded, "oldStatus")
}
