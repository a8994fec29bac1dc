package reactive

import (
	"time"

	"golang.org/x/sync/errgroup"
)

// ImmediateScheduler runs Schedule'd closures synchronously on the calling
// goroutine and is the default for deterministic tests. ScheduleAfter's
// closures run on the timer's own goroutine, so timer firings are not
// ordered with respect to other work.
type ImmediateScheduler struct{}

// NewImmediateScheduler returns a Scheduler that runs work inline.
func NewImmediateScheduler() Scheduler { return ImmediateScheduler{} }

func (ImmediateScheduler) Schedule(fn func()) Lifetime {
	lt := NewLifetime()
	if fn != nil {
		fn()
	}
	lt.Cancel()
	return lt
}

func (ImmediateScheduler) ScheduleAfter(d time.Duration, fn func()) Lifetime {
	lt := NewLifetime()
	timer := time.AfterFunc(d, func() {
		if !lt.Cancelled() && fn != nil {
			fn()
		}
	})
	lt.OnCancel(func() { timer.Stop() })
	return lt
}

// SerializedScheduler runs every scheduled closure on a single background
// goroutine draining a FIFO queue, giving the "single-worker" ordering
// guarantee described in §5: entry/exit/action/guard bodies observed
// through this scheduler are totally ordered, including timer firings,
// which are re-enqueued onto the same queue rather than run from the
// timer's own goroutine.
type SerializedScheduler struct {
	tasks chan func()
	stop  Lifetime
}

// NewSerializedScheduler starts the worker goroutine and returns the
// scheduler. queueSize bounds how many pending tasks may be buffered
// before Schedule blocks; 0 means unbounded buffering is not needed and a
// reasonable default (256) is used.
func NewSerializedScheduler(queueSize int) *SerializedScheduler {
	if queueSize <= 0 {
		queueSize = 256
	}
	s := &SerializedScheduler{
		tasks: make(chan func(), queueSize),
		stop:  NewLifetime(),
	}
	go s.loop()
	return s
}

func (s *SerializedScheduler) loop() {
	done := s.stop.Done()
	for {
		select {
		case <-done:
			return
		case task := <-s.tasks:
			task()
		}
	}
}

// Close stops the worker goroutine. Tasks already enqueued but not yet run
// are dropped.
func (s *SerializedScheduler) Close() { s.stop.Cancel() }

func (s *SerializedScheduler) Schedule(fn func()) Lifetime {
	lt := NewLifetime()
	select {
	case s.tasks <- func() {
		if !lt.Cancelled() {
			fn()
		}
		lt.Cancel()
	}:
	case <-s.stop.Done():
		lt.Cancel()
	}
	return lt
}

func (s *SerializedScheduler) ScheduleAfter(d time.Duration, fn func()) Lifetime {
	lt := NewLifetime()
	timer := time.AfterFunc(d, func() {
		select {
		case s.tasks <- func() {
			if !lt.Cancelled() {
				fn()
			}
			lt.Cancel()
		}:
		case <-s.stop.Done():
		}
	})
	lt.OnCancel(func() { timer.Stop() })
	return lt
}

// WorkerPoolScheduler runs scheduled closures across a bounded pool of
// goroutines managed by an errgroup.Group, for clients that accept
// concurrent trigger evaluation in exchange for throughput. It gives up
// the total-ordering guarantee SerializedScheduler provides.
type WorkerPoolScheduler struct {
	group *errgroup.Group
	sem   chan struct{}
}

// NewWorkerPoolScheduler creates a scheduler backed by size concurrent
// workers.
func NewWorkerPoolScheduler(size int) *WorkerPoolScheduler {
	if size <= 0 {
		size = 1
	}
	return &WorkerPoolScheduler{
		group: &errgroup.Group{},
		sem:   make(chan struct{}, size),
	}
}

func (w *WorkerPoolScheduler) Schedule(fn func()) Lifetime {
	lt := NewLifetime()
	w.sem <- struct{}{}
	w.group.Go(func() error {
		defer func() { <-w.sem }()
		if !lt.Cancelled() && fn != nil {
			fn()
		}
		lt.Cancel()
		return nil
	})
	return lt
}

func (w *WorkerPoolScheduler) ScheduleAfter(d time.Duration, fn func()) Lifetime {
	lt := NewLifetime()
	timer := time.AfterFunc(d, func() {
		if lt.Cancelled() {
			return
		}
		w.sem <- struct{}{}
		w.group.Go(func() error {
			defer func() { <-w.sem }()
			if !lt.Cancelled() && fn != nil {
				fn()
			}
			lt.Cancel()
			return nil
		})
	})
	lt.OnCancel(func() { timer.Stop() })
	return lt
}

// Wait blocks until every scheduled task has returned.
func (w *WorkerPoolScheduler) Wait() error { return w.group.Wait() }
