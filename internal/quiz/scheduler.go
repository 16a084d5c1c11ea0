package quiz

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultAdvancePeriod is the cadence at which every live participant is
// marched to the next question.
const DefaultAdvancePeriod = 15 * time.Second

// QuestionAdvancedEvent is broadcast to the quiz-date topic on every cursor
// advance.
type QuestionAdvancedEvent struct {
	Type      string    `json:"type"`
	Date      string    `json:"quiz_date"`
	Index     int       `json:"current_question_index"`
	Timestamp time.Time `json:"timestamp"`
}

// EventQuestionAdvanced is the wire type tag for QuestionAdvancedEvent.
const EventQuestionAdvanced = "question-advanced"

// SchedulerStore is the read capability the scheduler needs for recovery.
type SchedulerStore interface {
	GetByDate(ctx context.Context, date string) (*Quiz, error)
	ListByState(ctx context.Context, state string) ([]*Quiz, error)
}

// SchedulerObserver reports scheduler activity to metrics. May be nil.
type SchedulerObserver interface {
	RecordQuestionAdvanced(date string, index int)
	SetActiveSchedulers(n int)
}

// Scheduler drives the Shared Advancement Cursor for each live quiz-date:
// one supervised task per date, advancing on a fixed period and halting at
// the final question, at which point the quiz ends itself. Desired running
// state is derived from persisted quiz state, never from in-memory handles,
// so a process restart resumes ticking from the persisted cursor.
type Scheduler struct {
	store     SchedulerStore
	cursor    *CursorStore
	publisher Publisher
	observer  SchedulerObserver
	// onExhausted is invoked exactly once per date when the cursor reaches
	// the last question; wired to the end-quiz operation.
	onExhausted func(ctx context.Context, date string)
	period      time.Duration
	logger      zerolog.Logger

	mu      sync.Mutex
	running map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// NewScheduler builds an advancement scheduler. A zero period falls back to
// DefaultAdvancePeriod.
func NewScheduler(store SchedulerStore, cursor *CursorStore, publisher Publisher, observer SchedulerObserver, onExhausted func(ctx context.Context, date string), period time.Duration, logger zerolog.Logger) *Scheduler {
	if period <= 0 {
		period = DefaultAdvancePeriod
	}
	return &Scheduler{
		store:       store,
		cursor:      cursor,
		publisher:   publisher,
		observer:    observer,
		onExhausted: onExhausted,
		period:      period,
		logger:      logger.With().Str("component", "scheduler").Logger(),
		running:     make(map[string]context.CancelFunc),
	}
}

// Start begins advancing the given date. Idempotent: a second start for a
// date that is already ticking is a no-op. The cursor is seeded at 0 only if
// no persisted cursor exists, so resuming after a restart continues from
// wherever the quiz actually is.
func (s *Scheduler) Start(ctx context.Context, date string, questionCount int) error {
	if questionCount <= 0 {
		return nil
	}

	s.mu.Lock()
	if _, exists := s.running[date]; exists {
		s.mu.Unlock()
		s.logger.Debug().Str("quiz_date", date).Msg("scheduler already running")
		return nil
	}

	if err := s.cursor.Init(ctx, date, time.Now().UTC()); err != nil {
		s.mu.Unlock()
		return err
	}

	taskCtx, cancel := context.WithCancel(context.Background())
	s.running[date] = cancel
	active := len(s.running)
	s.mu.Unlock()

	if s.observer != nil {
		s.observer.SetActiveSchedulers(active)
	}

	s.wg.Add(1)
	go s.run(taskCtx, date, questionCount)

	s.logger.Info().
		Str("quiz_date", date).
		Int("question_count", questionCount).
		Dur("period", s.period).
		Msg("advancement started")
	return nil
}

// Stop cancels the task for a date, if any.
func (s *Scheduler) Stop(date string) {
	s.mu.Lock()
	cancel, exists := s.running[date]
	if exists {
		delete(s.running, date)
	}
	active := len(s.running)
	s.mu.Unlock()

	if exists {
		cancel()
		s.logger.Info().Str("quiz_date", date).Msg("advancement stopped")
	}
	if s.observer != nil {
		s.observer.SetActiveSchedulers(active)
	}
}

// StopAll cancels every running task and waits for them to drain.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	for date, cancel := range s.running {
		cancel()
		delete(s.running, date)
	}
	s.mu.Unlock()
	s.wg.Wait()
	if s.observer != nil {
		s.observer.SetActiveSchedulers(0)
	}
}

// Recover scans for quizzes already in LIVE state and resumes their tasks
// from the persisted cursor. Called once at process start.
func (s *Scheduler) Recover(ctx context.Context) error {
	live, err := s.store.ListByState(ctx, StateLive)
	if err != nil {
		return err
	}
	for _, q := range live {
		index, _, err := s.cursor.Current(ctx, q.Date)
		if err != nil {
			s.logger.Error().Err(err).Str("quiz_date", q.Date).Msg("recovery cursor read failed")
			continue
		}
		s.logger.Info().
			Str("quiz_date", q.Date).
			Int("cursor", index).
			Msg("resuming live quiz advancement")
		if err := s.Start(ctx, q.Date, q.QuestionCount()); err != nil {
			s.logger.Error().Err(err).Str("quiz_date", q.Date).Msg("recovery start failed")
		}
	}
	return nil
}

func (s *Scheduler) run(ctx context.Context, date string, questionCount int) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.period)
	defer ticker.Stop()

	lastIndex := questionCount - 1
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			done, err := s.tick(ctx, date, lastIndex)
			if err != nil {
				s.logger.Error().Err(err).Str("quiz_date", date).Msg("advance tick failed")
				continue
			}
			if done {
				s.Stop(date)
				// Content exhausted: the live event self-terminates.
				if s.onExhausted != nil {
					s.onExhausted(context.Background(), date)
				}
				return
			}
		}
	}
}

// tick performs one advancement step. Returns done=true once the cursor sits
// on the final question and no further advance is possible.
func (s *Scheduler) tick(ctx context.Context, date string, lastIndex int) (bool, error) {
	current, ok, err := s.cursor.Current(ctx, date)
	if err != nil {
		return false, err
	}
	if !ok {
		// Cursor vanished (expired or cleared): nothing left to drive.
		return true, nil
	}

	if current >= lastIndex {
		s.logger.Info().Str("quiz_date", date).Int("index", current).Msg("final question reached")
		return true, nil
	}

	now := time.Now().UTC()
	next, advanced, err := s.cursor.Advance(ctx, date, current, now)
	if err != nil {
		return false, err
	}
	if !advanced {
		// Another scheduler instance won this tick; ours stays subordinate.
		return false, nil
	}

	if s.observer != nil {
		s.observer.RecordQuestionAdvanced(date, next)
	}
	if s.publisher != nil {
		event := QuestionAdvancedEvent{
			Type:      EventQuestionAdvanced,
			Date:      date,
			Index:     next,
			Timestamp: now,
		}
		if err := s.publisher.Publish(ctx, date, event); err != nil {
			s.logger.Warn().Err(err).Str("quiz_date", date).Msg("failed to publish advancement")
		}
	}

	s.logger.Debug().Str("quiz_date", date).Int("index", next).Msg("question advanced")
	return false, nil
}
