package executor

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBudgetTryReserve(t *testing.T) {
	budget := NewMemoryBudget(100)

	p1 := budget.TryReserve(40)
	require.NotNil(t, p1)
	assert.Equal(t, 40, budget.Used())

	p2 := budget.TryReserve(40)
	require.NotNil(t, p2)
	assert.Equal(t, 80, budget.Used())

	assert.Nil(t, budget.TryReserve(30))
	assert.Equal(t, 80, budget.Used())

	p1.Release()
	assert.Equal(t, 40, budget.Used())

	p3 := budget.TryReserve(50)
	require.NotNil(t, p3)
	assert.Equal(t, 90, budget.Used())

	p2.Release()
	p3.Release()
	assert.Equal(t, 0, budget.Used())
}

func TestBudgetExactFit(t *testing.T) {
	budget := NewMemoryBudget(100)
	p := budget.TryReserve(100)
	require.NotNil(t, p)
	assert.Nil(t, budget.TryReserve(1))
	p.Release()
}

func TestBudgetReleaseIdempotent(t *testing.T) {
	budget := NewMemoryBudget(100)
	p := budget.TryReserve(60)
	require.NotNil(t, p)
	p.Release()
	p.Release()
	assert.Equal(t, 0, budget.Used())
}

func TestBudgetReserveBlocks(t *testing.T) {
	budget := NewMemoryBudget(100)

	p1, err := budget.Reserve(context.Background(), 80)
	require.NoError(t, err)

	done := make(chan int, 1)
	go func() {
		p2, err := budget.Reserve(context.Background(), 50)
		if err != nil {
			done <- -1
			return
		}
		used := budget.Used()
		p2.Release()
		done <- used
	}()

	select {
	case <-done:
		t.Fatal("reservation should have blocked")
	case <-time.After(50 * time.Millisecond):
	}

	p1.Release()

	select {
	case used := <-done:
		assert.Equal(t, 50, used)
	case <-time.After(time.Second):
		t.Fatal("blocked reservation never woke")
	}
}

func TestBudgetReserveImpossible(t *testing.T) {
	budget := NewMemoryBudget(100)
	_, err := budget.Reserve(context.Background(), 150)

	var limitErr *MemoryLimitError
	require.ErrorAs(t, err, &limitErr)
	assert.Equal(t, 150, limitErr.Needed)
	assert.Equal(t, 100, limitErr.Limit)
}

func TestBudgetReserveCancellable(t *testing.T) {
	budget := NewMemoryBudget(100)
	p, err := budget.Reserve(context.Background(), 100)
	require.NoError(t, err)
	defer p.Release()

	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() {
		_, err := budget.Reserve(ctx, 10)
		errs <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, ErrCancelled)
	case <-time.After(time.Second):
		t.Fatal("cancelled reservation never returned")
	}
}

func TestBudgetFIFOWakeOrder(t *testing.T) {
	budget := NewMemoryBudget(100)
	p, err := budget.Reserve(context.Background(), 100)
	require.NoError(t, err)

	const waiters = 5
	var (
		mu    sync.Mutex
		order []int
	)
	ready := make(chan struct{})
	var wg sync.WaitGroup

	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if n > 0 {
				// Stagger arrival so queue order is deterministic.
				time.Sleep(time.Duration(n) * 20 * time.Millisecond)
			}
			if n == 0 {
				close(ready)
			}
			permit, err := budget.Reserve(context.Background(), 100)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			order = append(order, n)
			mu.Unlock()
			permit.Release()
		}(i)
	}

	<-ready
	// Let every waiter enqueue before freeing the budget.
	time.Sleep(time.Duration(waiters) * 25 * time.Millisecond)
	p.Release()
	wg.Wait()

	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestBudgetNeverExceedsLimitUnderStress(t *testing.T) {
	const limit = 1 << 16
	budget := NewMemoryBudget(limit)

	stop := make(chan struct{})
	violations := make(chan int, 1)
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
				if used := budget.Used(); used > limit {
					select {
					case violations <- used:
					default:
					}
					return
				}
			}
		}
	}()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for i := 0; i < 500; i++ {
				size := 1 + rng.Intn(limit/4)
				permit, err := budget.Reserve(context.Background(), size)
				if err != nil {
					continue
				}
				if rng.Intn(4) == 0 {
					time.Sleep(time.Microsecond)
				}
				permit.Release()
			}
		}(int64(w))
	}
	wg.Wait()
	close(stop)

	select {
	case used := <-violations:
		t.Fatalf("budget observed used=%d above limit=%d", used, limit)
	default:
	}
	assert.Equal(t, 0, budget.Used())
}

func TestBudgetUnboundedSentinel(t *testing.T) {
	budget := NewMemoryBudget(0)
	p := budget.TryReserve(1 << 40)
	require.NotNil(t, p)
	assert.Equal(t, 1<<40, budget.Used())
	p.Release()
}
