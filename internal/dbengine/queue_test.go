package dbengine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestOpQueueFIFOOrder(t *testing.T) {
	q := newOpQueue()
	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup

	for i := 0; i < 5; i++ {
		wg.Add(1)
		i := i
		go func() {
			defer wg.Done()
			_, err := q.enqueue(context.Background(), time.Second, func(ctx context.Context) (any, error) {
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				return i, nil
			})
			require.NoError(t, err)
		}()
		// Let this item fully land in the queue before starting the next
		// goroutine so admission order is deterministic for the assertion.
		time.Sleep(2 * time.Millisecond)
	}
	wg.Wait()

	require.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestOpQueueAdmissionTimeout(t *testing.T) {
	q := newOpQueue()
	release := make(chan struct{})

	// Occupy the consumer with a blocking first item.
	go func() {
		_, _ = q.enqueue(context.Background(), time.Second, func(ctx context.Context) (any, error) {
			<-release
			return nil, nil
		})
	}()
	time.Sleep(10 * time.Millisecond)

	_, err := q.enqueue(context.Background(), 20*time.Millisecond, func(ctx context.Context) (any, error) {
		return "should not run", nil
	})
	require.Error(t, err)
	var timeoutErr *TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	require.Equal(t, "queue", timeoutErr.Operation)

	close(release)
}

func TestOpQueueClearFailsPendingItems(t *testing.T) {
	q := newOpQueue()
	release := make(chan struct{})

	go func() {
		_, _ = q.enqueue(context.Background(), time.Second, func(ctx context.Context) (any, error) {
			<-release
			return nil, nil
		})
	}()
	time.Sleep(10 * time.Millisecond)

	var wg sync.WaitGroup
	errs := make(chan error, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := q.enqueue(context.Background(), time.Second, func(ctx context.Context) (any, error) {
				return nil, nil
			})
			errs <- err
		}()
	}
	time.Sleep(10 * time.Millisecond)

	stats := q.stats()
	require.Equal(t, 3, stats.Pending)

	q.clear()
	wg.Wait()
	close(errs)
	for err := range errs {
		require.ErrorIs(t, err, ErrQueueCleared)
	}

	close(release)
}

func TestOpQueueRestartsAfterDraining(t *testing.T) {
	q := newOpQueue()
	_, err := q.enqueue(context.Background(), time.Second, func(ctx context.Context) (any, error) {
		return 1, nil
	})
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond) // let the consumer goroutine exit

	val, err := q.enqueue(context.Background(), time.Second, func(ctx context.Context) (any, error) {
		return 2, nil
	})
	require.NoError(t, err)
	require.Equal(t, 2, val)
}
