package task

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestQueueConcurrencyCeiling(t *testing.T) {
	queue := NewQueue(2)

	var running, peak, total int32
	for i := 0; i < 5; i++ {
		queue.Submit(func() error {
			now := atomic.AddInt32(&running, 1)
			for {
				old := atomic.LoadInt32(&peak)
				if now <= old || atomic.CompareAndSwapInt32(&peak, old, now) {
					break
				}
			}
			time.Sleep(30 * time.Millisecond)
			atomic.AddInt32(&running, -1)
			atomic.AddInt32(&total, 1)
			return nil
		})
	}

	queue.WaitIdle()

	assert.EqualValues(t, 5, atomic.LoadInt32(&total))
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
	assert.EqualValues(t, 0, atomic.LoadInt32(&running))
}

func TestQueueFailureIsolation(t *testing.T) {
	queue := NewQueue(2)
	boom := errors.New("boom")

	results := make([]<-chan error, 0, 4)
	for i := 0; i < 4; i++ {
		i := i
		results = append(results, queue.Submit(func() error {
			if i == 1 {
				return boom
			}
			return nil
		}))
	}

	queue.WaitIdle()

	for i, done := range results {
		err := <-done
		if i == 1 {
			assert.ErrorIs(t, err, boom)
		} else {
			assert.NoError(t, err)
		}
	}
}

func TestQueuePanicResolvesAsError(t *testing.T) {
	queue := NewQueue(1)

	done := queue.Submit(func() error {
		panic("task exploded")
	})
	sibling := queue.Submit(func() error {
		return nil
	})

	queue.WaitIdle()

	assert.ErrorContains(t, <-done, "task exploded")
	assert.NoError(t, <-sibling)
}

func TestQueueWaitIdleOnEmptyQueue(t *testing.T) {
	queue := NewQueue(3)

	finished := make(chan struct{})
	go func() {
		queue.WaitIdle()
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("WaitIdle blocked on an empty queue")
	}
}

func TestQueueFIFOAdmission(t *testing.T) {
	queue := NewQueue(1)

	var mtx sync.Mutex
	var order []int
	for i := 0; i < 5; i++ {
		i := i
		queue.Submit(func() error {
			mtx.Lock()
			order = append(order, i)
			mtx.Unlock()
			return nil
		})
	}

	queue.WaitIdle()

	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}
