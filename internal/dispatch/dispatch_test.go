package dispatch

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/subscout/subscout/internal/model"
)

func testRecord(id string, priority model.Priority, receivedAt time.Time) *model.EmailRecord {
	return &model.EmailRecord{
		ID:         id,
		AccountID:  "acc-1",
		ExternalID: "msg-" + id,
		Sender:     "billing@example.com",
		ReceivedAt: receivedAt,
		Status:     model.RecordQueued,
		Priority:   priority,
	}
}

func TestDispatcher_PriorityOrdering(t *testing.T) {
	d := New(0)
	now := time.Now()

	// Enqueue lowest priority first to prove ordering comes from the tiers,
	// not arrival order.
	require.True(t, d.Enqueue(testRecord("old", model.PriorityLow, now.Add(-10*24*time.Hour))))
	require.True(t, d.Enqueue(testRecord("recent", model.PriorityNormal, now.Add(-2*24*time.Hour))))
	require.True(t, d.Enqueue(testRecord("fresh", model.PriorityHigh, now.Add(-time.Hour))))

	ctx := context.Background()
	var got []string
	for i := 0; i < 3; i++ {
		record, err := d.Next(ctx)
		require.NoError(t, err)
		got = append(got, record.ID)
	}

	assert.Equal(t, []string{"fresh", "recent", "old"}, got)
	assert.Equal(t, 0, d.Len())
}

func TestDispatcher_OldestFirstWithinTier(t *testing.T) {
	d := New(0)
	base := time.Now().Add(-6 * time.Hour)

	// Newest first, so heap order must do the work.
	for i := 3; i >= 1; i-- {
		record := testRecord(fmt.Sprintf("r%d", i), model.PriorityHigh, base.Add(time.Duration(i)*time.Hour))
		require.True(t, d.Enqueue(record))
	}

	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		record, err := d.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("r%d", i), record.ID)
	}
}

func TestDispatcher_BlocksUntilEnqueue(t *testing.T) {
	d := New(0)
	ctx := context.Background()

	got := make(chan *model.EmailRecord, 1)
	go func() {
		record, err := d.Next(ctx)
		if err != nil {
			return
		}
		got <- record
	}()

	// Give the worker time to reach the wait.
	time.Sleep(20 * time.Millisecond)
	select {
	case <-got:
		t.Fatal("Next returned before anything was enqueued")
	default:
	}

	require.True(t, d.Enqueue(testRecord("r1", model.PriorityNormal, time.Now())))

	select {
	case record := <-got:
		assert.Equal(t, "r1", record.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("worker was not woken by enqueue")
	}
}

func TestDispatcher_CancelledWaitReturnsPromptly(t *testing.T) {
	d := New(0)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := d.Next(ctx)
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled wait did not return")
	}
}

func TestDispatcher_RejectsWhenFull(t *testing.T) {
	d := New(2)
	now := time.Now()

	assert.True(t, d.Enqueue(testRecord("r1", model.PriorityHigh, now)))
	assert.True(t, d.Enqueue(testRecord("r2", model.PriorityLow, now)))
	assert.False(t, d.Enqueue(testRecord("r3", model.PriorityHigh, now)), "queue at capacity should reject")
	assert.Equal(t, 2, d.Len())

	// Draining frees capacity again.
	_, err := d.Next(context.Background())
	require.NoError(t, err)
	assert.True(t, d.Enqueue(testRecord("r3", model.PriorityHigh, now)))
}

func TestDispatcher_EachRecordDeliveredOnce(t *testing.T) {
	const workers = 8
	const records = 200

	d := New(records)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	seen := make(map[string]int)
	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				record, err := d.Next(ctx)
				if err != nil {
					return
				}
				mu.Lock()
				seen[record.ID]++
				mu.Unlock()
			}
		}()
	}

	now := time.Now()
	priorities := []model.Priority{model.PriorityHigh, model.PriorityNormal, model.PriorityLow}
	for i := 0; i < records; i++ {
		record := testRecord(fmt.Sprintf("r%d", i), priorities[i%len(priorities)], now.Add(-time.Duration(i)*time.Minute))
		require.True(t, d.Enqueue(record))
	}

	// Wait for the queue to drain, then stop the workers.
	deadline := time.Now().Add(5 * time.Second)
	for d.Len() > 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	require.Equal(t, 0, d.Len(), "queue did not drain")
	cancel()
	wg.Wait()

	assert.Len(t, seen, records)
	for id, count := range seen {
		assert.Equalf(t, 1, count, "record %s delivered %d times", id, count)
	}
}
