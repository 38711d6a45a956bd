package task

import (
	"fmt"
	"sync"

	"github.com/gammazero/deque"
)

// Queue runs submitted tasks with a fixed concurrency ceiling.
// Admission is FIFO, at most maxConcurrent tasks run at any instant.
// One task failing resolves only that task's result, siblings keep running.
type Queue struct {
	mtx  sync.Mutex
	idle *sync.Cond

	pending       deque.Deque[*queueJob]
	running       int
	maxConcurrent int
}

type queueJob struct {
	run  func() error
	done chan error
}

func NewQueue(maxConcurrent int) (self *Queue) {
	self = new(Queue)
	self.maxConcurrent = maxConcurrent
	self.idle = sync.NewCond(&self.mtx)
	return
}

// Submit enqueues a task and returns a channel that receives its result.
// The channel is buffered, the result never blocks the queue.
func (self *Queue) Submit(f func() error) <-chan error {
	job := &queueJob{run: f, done: make(chan error, 1)}

	self.mtx.Lock()
	self.pending.PushBack(job)
	self.dispatch()
	self.mtx.Unlock()

	return job.done
}

// Starts as many pending jobs as the ceiling allows. Caller holds the lock.
func (self *Queue) dispatch() {
	for self.running < self.maxConcurrent && self.pending.Len() > 0 {
		job := self.pending.PopFront()
		self.running++
		go self.execute(job)
	}
}

func (self *Queue) execute(job *queueJob) {
	job.done <- self.runSafe(job.run)

	self.mtx.Lock()
	self.running--
	self.dispatch()
	if self.running == 0 && self.pending.Len() == 0 {
		self.idle.Broadcast()
	}
	self.mtx.Unlock()
}

func (self *Queue) runSafe(f func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			switch p := p.(type) {
			case error:
				err = p
			default:
				err = fmt.Errorf("%s", p)
			}
		}
	}()
	return f()
}

// WaitIdle blocks until both the running set and the pending queue are empty.
// Signalled by the last finishing task, there's no polling involved.
func (self *Queue) WaitIdle() {
	self.mtx.Lock()
	for self.running > 0 || self.pending.Len() > 0 {
		self.idle.Wait()
	}
	self.mtx.Unlock()
}
