package quiz

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu      sync.Mutex
	quizzes map[string]*Quiz
	// failCAS forces the next CompareAndTransition to report a lost race.
	failCAS bool
}

func newMemStore(quizzes ...*Quiz) *memStore {
	s := &memStore{quizzes: make(map[string]*Quiz)}
	for _, q := range quizzes {
		clone := *q
		s.quizzes[q.Date] = &clone
	}
	return s
}

func (s *memStore) GetByDate(_ context.Context, date string) (*Quiz, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.quizzes[date]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *q
	return &clone, nil
}

func (s *memStore) CompareAndTransition(_ context.Context, date, fromState, toState string, version int64, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failCAS {
		s.failCAS = false
		return false, nil
	}
	q, ok := s.quizzes[date]
	if !ok || q.State != fromState || q.Version != version {
		return false, nil
	}
	q.State = toState
	q.Version++
	switch toState {
	case StateLocked:
		q.LockedAt = &at
	case StateLive:
		q.LiveAt = &at
	case StateEnded:
		q.EndedAt = &at
	case StateResultPublished:
		q.ResultPublishedAt = &at
	}
	return true, nil
}

func (s *memStore) ListByState(_ context.Context, state string) ([]*Quiz, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Quiz
	for _, q := range s.quizzes {
		if q.State == state {
			clone := *q
			out = append(out, &clone)
		}
	}
	return out, nil
}

type capturingPublisher struct {
	mu     sync.Mutex
	events []any
}

func (p *capturingPublisher) Publish(_ context.Context, _ string, event any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *capturingPublisher) all() []any {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]any(nil), p.events...)
}

func TestCanTransitionTable(t *testing.T) {
	cases := []struct {
		from, to string
		ok       bool
	}{
		{StateDraft, StateScheduled, true},
		{StateDraft, StateLocked, true},
		{StateScheduled, StateLocked, true},
		{StateScheduled, StateLive, true},
		{StateLocked, StateLive, true},
		{StateLive, StateEnded, true},
		{StateEnded, StateResultPublished, true},

		{StateDraft, StateLive, false},
		{StateLive, StateScheduled, false},
		{StateLive, StateResultPublished, false},
		{StateEnded, StateLive, false},
		{StateResultPublished, StateEnded, false},
		{StateResultPublished, StateLive, false},
		{StateEnded, StateDraft, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.ok, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestTransitionStampsTimestampAndPublishes(t *testing.T) {
	store := newMemStore(&Quiz{Date: "2025-03-01", State: StateLive})
	pub := &capturingPublisher{}
	m := NewMachine(store, pub, nil, zerolog.Nop())

	q, err := m.Transition(context.Background(), "2025-03-01", StateEnded)
	require.NoError(t, err)
	assert.Equal(t, StateEnded, q.State)
	assert.Equal(t, int64(1), q.Version)
	require.NotNil(t, q.EndedAt)
	assert.Nil(t, q.ResultPublishedAt)

	events := pub.all()
	require.Len(t, events, 1)
	ev, ok := events[0].(StateChangedEvent)
	require.True(t, ok)
	assert.Equal(t, EventStateChanged, ev.Type)
	assert.Equal(t, StateLive, ev.FromState)
	assert.Equal(t, StateEnded, ev.ToState)
}

func TestTransitionRejectsIllegalEdge(t *testing.T) {
	store := newMemStore(&Quiz{Date: "2025-03-01", State: StateDraft})
	m := NewMachine(store, nil, nil, zerolog.Nop())

	_, err := m.Transition(context.Background(), "2025-03-01", StateEnded)
	var invalid *InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, StateDraft, invalid.From)
	assert.Equal(t, StateEnded, invalid.To)

	// State is untouched.
	state, err := m.State(context.Background(), "2025-03-01")
	require.NoError(t, err)
	assert.Equal(t, StateDraft, state)
}

func TestTransitionLoserGetsConflict(t *testing.T) {
	store := newMemStore(&Quiz{Date: "2025-03-01", State: StateLive})
	store.failCAS = true
	m := NewMachine(store, nil, nil, zerolog.Nop())

	_, err := m.Transition(context.Background(), "2025-03-01", StateEnded)
	var conflict *TransitionConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, StateEnded, conflict.To)
}

func TestTransitionUnknownDate(t *testing.T) {
	m := NewMachine(newMemStore(), nil, nil, zerolog.Nop())
	_, err := m.Transition(context.Background(), "2099-01-01", StateLocked)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFullLifecycleWalk(t *testing.T) {
	store := newMemStore(&Quiz{Date: "2025-03-01", State: StateDraft})
	m := NewMachine(store, nil, nil, zerolog.Nop())
	ctx := context.Background()

	for _, to := range []string{StateScheduled, StateLocked, StateLive, StateEnded, StateResultPublished} {
		q, err := m.Transition(ctx, "2025-03-01", to)
		require.NoError(t, err, "transition to %s", to)
		assert.Equal(t, to, q.State)
	}

	q, _ := store.GetByDate(ctx, "2025-03-01")
	assert.NotNil(t, q.LockedAt)
	assert.NotNil(t, q.LiveAt)
	assert.NotNil(t, q.EndedAt)
	assert.NotNil(t, q.ResultPublishedAt)
	assert.Equal(t, int64(5), q.Version)
}

func TestIsClosed(t *testing.T) {
	store := newMemStore(
		&Quiz{Date: "live", State: StateLive},
		&Quiz{Date: "ended", State: StateEnded},
		&Quiz{Date: "published", State: StateResultPublished},
	)
	m := NewMachine(store, nil, nil, zerolog.Nop())
	ctx := context.Background()

	closed, err := m.IsClosed(ctx, "live")
	require.NoError(t, err)
	assert.False(t, closed)

	for _, date := range []string{"ended", "published"} {
		closed, err := m.IsClosed(ctx, date)
		require.NoError(t, err)
		assert.True(t, closed)
	}
}
