package quiz

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// leaderboardCacheTTL caches the settled leaderboard; winners are immutable
// once published so a generous TTL is safe.
const leaderboardCacheTTL = 30 * time.Minute

// WinnerReader reads the immutable winners snapshot.
type WinnerReader interface {
	ListByDate(ctx context.Context, date string) ([]Winner, error)
}

// Settler runs settlement for an ended quiz; satisfied by settlement.Engine.
type Settler interface {
	Settle(ctx context.Context, date string) error
}

// PaidParticipants lists everyone with a successful payment for a date.
// Used only for the advisory LOCKED-state eligibility snapshot.
type PaidParticipants interface {
	ListPaid(ctx context.Context, date string) ([]uuid.UUID, error)
}

// SnapshotStore persists the advisory eligible-participant snapshot.
type SnapshotStore interface {
	SaveEligibleSnapshot(ctx context.Context, date string, participants []uuid.UUID) error
}

// Service exposes the operator-facing quiz operations: lifecycle commands,
// scheduler control, and the settled leaderboard.
type Service struct {
	store     Store
	machine   *Machine
	scheduler *Scheduler
	winners   WinnerReader
	settler   Settler
	paid      PaidParticipants
	snapshots SnapshotStore
	redis     *redis.Client
	logger    zerolog.Logger
}

// NewService builds the quiz service.
func NewService(store Store, machine *Machine, scheduler *Scheduler, winners WinnerReader, settler Settler, paid PaidParticipants, snapshots SnapshotStore, rdb *redis.Client, logger zerolog.Logger) *Service {
	return &Service{
		store:     store,
		machine:   machine,
		scheduler: scheduler,
		winners:   winners,
		settler:   settler,
		paid:      paid,
		snapshots: snapshots,
		redis:     rdb,
		logger:    logger.With().Str("component", "quiz").Logger(),
	}
}

// LockQuiz moves the quiz for date to LOCKED.
func (s *Service) LockQuiz(ctx context.Context, date string) error {
	_, err := s.machine.Transition(ctx, date, StateLocked)
	return err
}

// StartQuiz moves the quiz for date to LIVE and begins advancement. Starting
// a date whose scheduler is already running is a no-op.
func (s *Service) StartQuiz(ctx context.Context, date string) error {
	q, err := s.machine.Transition(ctx, date, StateLive)
	if err != nil {
		var conflict *TransitionConflictError
		if errors.As(err, &conflict) {
			// Someone else just started it; ensure our process ticks too.
			q, err = s.store.GetByDate(ctx, date)
			if err != nil {
				return err
			}
			if q.State != StateLive {
				return conflict
			}
		} else {
			return err
		}
	}
	return s.scheduler.Start(ctx, date, q.QuestionCount())
}

// EndQuiz moves the quiz to ENDED, halts advancement, and triggers
// settlement. Both the scheduler's auto-end path and an operator's manual
// call land here; the settlement fence guarantees only one of them computes
// winners.
func (s *Service) EndQuiz(ctx context.Context, date string) error {
	if _, err := s.machine.Transition(ctx, date, StateEnded); err != nil {
		if !s.alreadyEnded(ctx, date, err) {
			return err
		}
	}
	s.scheduler.Stop(date)
	return s.settler.Settle(ctx, date)
}

// alreadyEnded reports whether a failed ENDED transition just means another
// caller won the same race and the quiz is already past LIVE.
func (s *Service) alreadyEnded(ctx context.Context, date string, cause error) bool {
	var invalid *InvalidTransitionError
	var conflict *TransitionConflictError
	if !errors.As(cause, &invalid) && !errors.As(cause, &conflict) {
		return false
	}
	state, err := s.machine.State(ctx, date)
	if err != nil {
		return false
	}
	return state == StateEnded || state == StateResultPublished
}

// SnapshotEligible stores an advisory list of paid participants while the
// quiz is LOCKED. Settlement never trusts this snapshot; eligibility is
// always re-evaluated from ground truth at settlement time.
func (s *Service) SnapshotEligible(ctx context.Context, date string) (int, error) {
	q, err := s.store.GetByDate(ctx, date)
	if err != nil {
		return 0, err
	}
	if q.State != StateLocked {
		return 0, &InvalidTransitionError{Date: date, From: q.State, To: "eligibility snapshot"}
	}

	participants, err := s.paid.ListPaid(ctx, date)
	if err != nil {
		return 0, fmt.Errorf("list paid participants: %w", err)
	}
	if err := s.snapshots.SaveEligibleSnapshot(ctx, date, participants); err != nil {
		return 0, fmt.Errorf("save eligibility snapshot: %w", err)
	}
	s.logger.Info().Str("quiz_date", date).Int("count", len(participants)).Msg("eligibility snapshotted")
	return len(participants), nil
}

// GetLeaderboard returns the settled winners for date, cached for reads.
// Errors with ErrNotEnded while the quiz is still in play.
func (s *Service) GetLeaderboard(ctx context.Context, date string) ([]Winner, error) {
	closed, err := s.machine.IsClosed(ctx, date)
	if err != nil {
		return nil, err
	}
	if !closed {
		return nil, ErrNotEnded
	}

	cacheKey := fmt.Sprintf("leaderboard:%s", date)
	if s.redis != nil {
		if cached, err := s.redis.Get(ctx, cacheKey).Bytes(); err == nil {
			var winners []Winner
			if err := json.Unmarshal(cached, &winners); err == nil {
				return winners, nil
			}
		}
	}

	winners, err := s.winners.ListByDate(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("load winners: %w", err)
	}

	if s.redis != nil {
		if data, err := json.Marshal(winners); err == nil {
			if err := s.redis.Set(ctx, cacheKey, data, leaderboardCacheTTL).Err(); err != nil {
				s.logger.Warn().Err(err).Msg("leaderboard cache write failed")
			}
		}
	}
	return winners, nil
}

// Recover resumes advancement for quizzes already LIVE. Called once at boot.
func (s *Service) Recover(ctx context.Context) error {
	return s.scheduler.Recover(ctx)
}
