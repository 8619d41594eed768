package redisstream

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomery/loom/pkg/models"
)

// Integration tests; they run only when LOOM_REDIS_ADDR points at a live
// Redis instance.
func newTestLog(t *testing.T, eventTypes []string) *Log {
	t.Helper()

	addr := os.Getenv("LOOM_REDIS_ADDR")
	if addr == "" {
		t.Skip("LOOM_REDIS_ADDR not set")
	}

	prefix := fmt.Sprintf("loom-test:%d", time.Now().UnixNano())
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	log, err := NewLog(context.Background(), Config{
		Addr:         addr,
		StreamPrefix: prefix,
		Group:        "test-group",
		EventTypes:   eventTypes,
	}, logger)
	require.NoError(t, err)

	t.Cleanup(func() {
		ctx := context.Background()
		for _, eventType := range eventTypes {
			log.client.Del(ctx, log.streamKey(eventType))
		}

		_ = log.Close()
	})

	return log
}

func TestLog_AppendReadAck(t *testing.T) {
	ctx := context.Background()
	log := newTestLog(t, []string{"OrderPlaced"})

	require.NoError(t, log.EnsureGroup(ctx, "OrderPlaced"))
	// Creating the group twice is fine.
	require.NoError(t, log.EnsureGroup(ctx, "OrderPlaced"))

	event := models.NewEvent("OrderPlaced", "t1", map[string]any{"order_id": "o-1"})
	require.NoError(t, log.Append(ctx, event))

	messages, err := log.Read(ctx, "consumer-1", 10, 500*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, event.ID, messages[0].Event.ID)
	assert.Equal(t, "t1", messages[0].Event.Tenant)
	assert.Equal(t, "o-1", messages[0].Event.Payload["order_id"])
	assert.NotEmpty(t, messages[0].Event.StreamID)

	require.NoError(t, log.Ack(ctx, messages[0].Stream, messages[0].ID))

	// Nothing left to read.
	messages, err = log.Read(ctx, "consumer-1", 10, 100*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestLog_ReadAcrossMultipleStreams(t *testing.T) {
	ctx := context.Background()
	log := newTestLog(t, []string{"OrderPlaced", "PaymentReceived"})

	require.NoError(t, log.EnsureGroup(ctx, "OrderPlaced"))
	require.NoError(t, log.EnsureGroup(ctx, "PaymentReceived"))

	require.NoError(t, log.Append(ctx, models.NewEvent("OrderPlaced", "t1", nil)))
	require.NoError(t, log.Append(ctx, models.NewEvent("PaymentReceived", "t1", nil)))

	messages, err := log.Read(ctx, "consumer-1", 10, 500*time.Millisecond)
	require.NoError(t, err)
	assert.Len(t, messages, 2)

	for _, message := range messages {
		require.NoError(t, log.Ack(ctx, message.Stream, message.ID))
	}
}

func TestLog_ReadReturnsEveryClaimedEntry(t *testing.T) {
	ctx := context.Background()
	eventTypes := []string{"OrderPlaced", "PaymentReceived", "OrderShipped"}
	log := newTestLog(t, eventTypes)

	for _, eventType := range eventTypes {
		require.NoError(t, log.EnsureGroup(ctx, eventType))
		require.NoError(t, log.Append(ctx, models.NewEvent(eventType, "t1", nil)))
		require.NoError(t, log.Append(ctx, models.NewEvent(eventType, "t1", nil)))
	}

	// Count applies per stream; every entry the read claims must come
	// back, or it sits in the pending list until a peer reclaims it.
	messages, err := log.Read(ctx, "consumer-1", 2, 500*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, messages, 6)

	for _, message := range messages {
		require.NoError(t, log.Ack(ctx, message.Stream, message.ID))
	}

	pending, err := log.Reclaim(ctx, "rescuer", 0, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestLog_ReclaimAbandonedMessage(t *testing.T) {
	ctx := context.Background()
	log := newTestLog(t, []string{"OrderPlaced"})

	require.NoError(t, log.EnsureGroup(ctx, "OrderPlaced"))
	require.NoError(t, log.Append(ctx, models.NewEvent("OrderPlaced", "t1", nil)))

	// Deliver to a consumer that never acks.
	messages, err := log.Read(ctx, "crashed-worker", 10, 500*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, messages, 1)

	time.Sleep(50 * time.Millisecond)

	reclaimed, err := log.Reclaim(ctx, "rescuer", 10*time.Millisecond, 10)
	require.NoError(t, err)
	require.Len(t, reclaimed, 1)
	assert.Equal(t, messages[0].ID, reclaimed[0].ID)
	assert.GreaterOrEqual(t, reclaimed[0].Event.DeliveryCount, int64(1))

	require.NoError(t, log.Ack(ctx, reclaimed[0].Stream, reclaimed[0].ID))
}
