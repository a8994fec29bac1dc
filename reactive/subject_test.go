package reactive

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSubjectBroadcastsToAllSubscribers(t *testing.T) {
	s := NewSubject[int]()
	var a, b []int
	s.Subscribe(func(v int) { a = append(a, v) }, nil, nil)
	s.Subscribe(func(v int) { b = append(b, v) }, nil, nil)

	s.Next(1)
	s.Next(2)

	assert.Equal(t, []int{1, 2}, a)
	assert.Equal(t, []int{1, 2}, b)
}

func TestSubjectCancelledSubscriberStopsReceiving(t *testing.T) {
	s := NewSubject[int]()
	var got []int
	lt := s.Subscribe(func(v int) { got = append(got, v) }, nil, nil)

	s.Next(1)
	lt.Cancel()
	s.Next(2)

	assert.Equal(t, []int{1}, got)
}

func TestSubjectCompleteReplaysToLateSubscriber(t *testing.T) {
	s := NewSubject[int]()
	s.Complete()

	completed := false
	s.Subscribe(func(int) {}, nil, func() { completed = true })

	assert.True(t, completed)
}

func TestSubjectErrorReplaysToLateSubscriber(t *testing.T) {
	s := NewSubject[int]()
	boom := assert.AnError
	s.Error(boom)

	var got error
	s.Subscribe(func(int) {}, func(err error) { got = err }, nil)

	assert.Equal(t, boom, got)
}
