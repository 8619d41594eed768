package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomery/loom/pkg/eventlog"
	"github.com/loomery/loom/pkg/models"
)

func TestLog_AppendReadAck(t *testing.T) {
	ctx := context.Background()
	log := NewLog("test", 100)

	event := models.NewEvent("CustomerCreated", "t1", map[string]any{"email": "a@b.c"})
	require.NoError(t, log.Append(ctx, event))

	messages, err := log.Read(ctx, "consumer-1", 10, 100*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, event.ID, messages[0].Event.ID)
	assert.Equal(t, "CustomerCreated", messages[0].Event.Type)
	assert.Equal(t, int64(1), messages[0].Event.DeliveryCount)
	assert.Equal(t, 1, log.PendingCount())

	require.NoError(t, log.Ack(ctx, messages[0].Stream, messages[0].ID))
	assert.Equal(t, 0, log.PendingCount())
}

func TestLog_ReadRespectsBatchSize(t *testing.T) {
	ctx := context.Background()
	log := NewLog("test", 100)

	for i := 0; i < 50; i++ {
		require.NoError(t, log.Append(ctx, models.NewEvent("OrderPlaced", "t1", nil)))
	}

	messages, err := log.Read(ctx, "consumer-1", 10, 100*time.Millisecond)
	require.NoError(t, err)
	assert.Len(t, messages, 10)

	// Remaining entries stay for the next poll.
	messages, err = log.Read(ctx, "consumer-1", 100, 100*time.Millisecond)
	require.NoError(t, err)
	assert.Len(t, messages, 40)
}

func TestLog_ReadBlocksUntilTimeout(t *testing.T) {
	ctx := context.Background()
	log := NewLog("test", 100)

	start := time.Now()
	messages, err := log.Read(ctx, "consumer-1", 10, 50*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, messages)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestLog_ReadWakesOnAppend(t *testing.T) {
	ctx := context.Background()
	log := NewLog("test", 100)

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = log.Append(ctx, models.NewEvent("PaymentReceived", "t1", nil))
	}()

	messages, err := log.Read(ctx, "consumer-1", 10, time.Second)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "PaymentReceived", messages[0].Event.Type)
}

func TestLog_ReclaimIdleMessages(t *testing.T) {
	ctx := context.Background()
	log := NewLog("test", 100)

	require.NoError(t, log.Append(ctx, models.NewEvent("OrderPlaced", "t1", nil)))

	messages, err := log.Read(ctx, "crashed-worker", 10, 100*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, messages, 1)

	// Not idle long enough yet.
	reclaimed, err := log.Reclaim(ctx, "rescuer", time.Hour, 10)
	require.NoError(t, err)
	assert.Empty(t, reclaimed)

	time.Sleep(10 * time.Millisecond)

	reclaimed, err = log.Reclaim(ctx, "rescuer", 5*time.Millisecond, 10)
	require.NoError(t, err)
	require.Len(t, reclaimed, 1)
	assert.Equal(t, messages[0].ID, reclaimed[0].ID)
	assert.Equal(t, int64(2), reclaimed[0].Event.DeliveryCount)

	require.NoError(t, log.Ack(ctx, reclaimed[0].Stream, reclaimed[0].ID))
	assert.Equal(t, 0, log.PendingCount())
}

func TestLog_ClosedRejectsOperations(t *testing.T) {
	ctx := context.Background()
	log := NewLog("test", 100)

	require.NoError(t, log.Close())

	err := log.Append(ctx, models.NewEvent("OrderPlaced", "t1", nil))
	assert.ErrorIs(t, err, eventlog.ErrClosed)

	_, err = log.Read(ctx, "consumer-1", 10, 10*time.Millisecond)
	assert.ErrorIs(t, err, eventlog.ErrClosed)
}
