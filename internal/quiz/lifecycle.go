package quiz

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// transitions is the legal edge table of the quiz lifecycle. Anything not
// listed here is rejected.
var transitions = map[string][]string{
	StateDraft:     {StateScheduled, StateLocked},
	StateScheduled: {StateLocked, StateLive},
	StateLocked:    {StateLive},
	StateLive:      {StateEnded},
	StateEnded:     {StateResultPublished},
}

// TimestampField maps a target state to the timestamp stamped alongside it.
// Returns "" for states with no dedicated timestamp.
func TimestampField(toState string) string {
	switch toState {
	case StateLocked:
		return "locked_at"
	case StateLive:
		return "live_at"
	case StateEnded:
		return "ended_at"
	case StateResultPublished:
		return "result_published_at"
	}
	return ""
}

// Store is the persistence capability the state machine needs. The write is
// a compare-and-swap: it must only commit when the persisted (state, version)
// still match what the caller read, and report whether it did.
type Store interface {
	GetByDate(ctx context.Context, date string) (*Quiz, error)
	CompareAndTransition(ctx context.Context, date, fromState, toState string, version int64, at time.Time) (bool, error)
}

// Publisher delivers domain events to real-time subscribers. The topic is
// the quiz-date.
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
}

// StateObserver records lifecycle changes for observability (timeline log,
// metrics). Failures here never fail the transition itself.
type StateObserver interface {
	RecordStateChange(ctx context.Context, date, fromState, toState string, at time.Time)
}

// StateChangedEvent is broadcast on every committed transition.
type StateChangedEvent struct {
	Type      string    `json:"type"`
	Date      string    `json:"quiz_date"`
	FromState string    `json:"from_state"`
	ToState   string    `json:"to_state"`
	Timestamp time.Time `json:"timestamp"`
}

// EventStateChanged is the wire type tag for StateChangedEvent.
const EventStateChanged = "quiz-state-changed"

// Machine owns the authoritative lifecycle state of quizzes and enforces the
// transition table. All state mutation of a Quiz goes through here.
type Machine struct {
	store     Store
	publisher Publisher
	observer  StateObserver
	logger    zerolog.Logger
}

// NewMachine builds the lifecycle state machine.
func NewMachine(store Store, publisher Publisher, observer StateObserver, logger zerolog.Logger) *Machine {
	return &Machine{
		store:     store,
		publisher: publisher,
		observer:  observer,
		logger:    logger.With().Str("component", "lifecycle").Logger(),
	}
}

// CanTransition reports whether the edge (fromState -> toState) is legal.
func CanTransition(fromState, toState string) bool {
	for _, allowed := range transitions[fromState] {
		if allowed == toState {
			return true
		}
	}
	return false
}

// State returns the current persisted state for a quiz-date.
func (m *Machine) State(ctx context.Context, date string) (string, error) {
	q, err := m.store.GetByDate(ctx, date)
	if err != nil {
		return "", err
	}
	return q.State, nil
}

// IsLive reports whether the quiz for date is currently LIVE.
func (m *Machine) IsLive(ctx context.Context, date string) (bool, error) {
	state, err := m.State(ctx, date)
	if err != nil {
		return false, err
	}
	return state == StateLive, nil
}

// IsClosed reports whether the quiz has ended (ENDED or RESULT_PUBLISHED).
func (m *Machine) IsClosed(ctx context.Context, date string) (bool, error) {
	state, err := m.State(ctx, date)
	if err != nil {
		return false, err
	}
	return state == StateEnded || state == StateResultPublished, nil
}

// Transition moves the quiz for date into toState. Exactly one of two racing
// callers commits; the loser receives a TransitionConflictError instead of a
// silent last-write-wins.
func (m *Machine) Transition(ctx context.Context, date, toState string) (*Quiz, error) {
	q, err := m.store.GetByDate(ctx, date)
	if err != nil {
		return nil, err
	}

	if !CanTransition(q.State, toState) {
		return nil, &InvalidTransitionError{Date: date, From: q.State, To: toState}
	}

	now := time.Now().UTC()
	committed, err := m.store.CompareAndTransition(ctx, date, q.State, toState, q.Version, now)
	if err != nil {
		return nil, fmt.Errorf("persist transition: %w", err)
	}
	if !committed {
		return nil, &TransitionConflictError{Date: date, To: toState}
	}

	fromState := q.State
	q.State = toState
	q.Version++
	switch toState {
	case StateLocked:
		q.LockedAt = &now
	case StateLive:
		q.LiveAt = &now
	case StateEnded:
		q.EndedAt = &now
	case StateResultPublished:
		q.ResultPublishedAt = &now
	}

	if m.observer != nil {
		m.observer.RecordStateChange(ctx, date, fromState, toState, now)
	}

	if m.publisher != nil {
		event := StateChangedEvent{
			Type:      EventStateChanged,
			Date:      date,
			FromState: fromState,
			ToState:   toState,
			Timestamp: now,
		}
		if err := m.publisher.Publish(ctx, date, event); err != nil {
			m.logger.Warn().Err(err).Str("quiz_date", date).Msg("failed to publish state change")
		}
	}

	m.logger.Info().
		Str("quiz_date", date).
		Str("from_state", fromState).
		Str("to_state", toState).
		Msg("quiz state transitioned")

	return q, nil
}
