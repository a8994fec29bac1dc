package reactive

import "sync"

type subscriber[T any] struct {
	onNext     func(T)
	onError    func(error)
	onComplete func()
	lifetime   Lifetime
}

// broadcastSubject is the default Subject: a mutex-guarded fan-out list of
// subscribers. Grounded on the reference lineage's ObserverManager: like
// it, Next copies the subscriber slice under lock before fanning a
// notification out, generalized to a typed, multi-event
// (next/error/complete) broadcast instead of a fixed set of named notify
// methods. Unlike ObserverManager it does not recover a subscriber's
// panic; a panicking callback propagates to the caller of Next, Error or
// Complete.
type broadcastSubject[T any] struct {
	mu          sync.Mutex
	subscribers []*subscriber[T]
	done        bool
	doneErr     error
}

// NewSubject creates a fresh, open Subject[T].
func NewSubject[T any]() Subject[T] {
	return &broadcastSubject[T]{}
}

func (s *broadcastSubject[T]) Subscribe(onNext func(T), onError func(error), onComplete func()) Lifetime {
	s.mu.Lock()
	if s.done {
		err := s.doneErr
		s.mu.Unlock()
		lt := NewLifetime()
		if err != nil {
			if onError != nil {
				onError(err)
			}
		} else if onComplete != nil {
			onComplete()
		}
		lt.Cancel()
		return lt
	}

	sub := &subscriber[T]{onNext: onNext, onError: onError, onComplete: onComplete, lifetime: NewLifetime()}
	s.subscribers = append(s.subscribers, sub)
	s.mu.Unlock()

	sub.lifetime.OnCancel(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, existing := range s.subscribers {
			if existing == sub {
				s.subscribers = append(s.subscribers[:i], s.subscribers[i+1:]...)
				break
			}
		}
	})
	return sub.lifetime
}

func (s *broadcastSubject[T]) snapshot() []*subscriber[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*subscriber[T], len(s.subscribers))
	copy(out, s.subscribers)
	return out
}

func (s *broadcastSubject[T]) Next(v T) {
	for _, sub := range s.snapshot() {
		if sub.onNext != nil {
			sub.onNext(v)
		}
	}
}

func (s *broadcastSubject[T]) Error(err error) {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	s.done = true
	s.doneErr = err
	subs := s.subscribers
	s.subscribers = nil
	s.mu.Unlock()

	for _, sub := range subs {
		if sub.onError != nil {
			sub.onError(err)
		}
	}
}

func (s *broadcastSubject[T]) Complete() {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	s.done = true
	subs := s.subscribers
	s.subscribers = nil
	s.mu.Unlock()

	for _, sub := range subs {
		if sub.onComplete != nil {
			sub.onComplete()
		}
	}
}
