// Package settlement turns a finished quiz into an immutable, tie-broken
// winners snapshot, exactly once per quiz-date.
package settlement

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/quizdaily/live-quiz/internal/attempt"
	"github.com/quizdaily/live-quiz/internal/eligibility"
	"github.com/quizdaily/live-quiz/internal/quiz"
)

// TopN is how many ranked participants the winners snapshot keeps.
const TopN = 20

// Fence is the atomic single-winner admission check. The first caller per
// date observes token 1; everyone else aborts.
type Fence interface {
	AcquireFence(ctx context.Context, date string) (int64, error)
}

// WinnerStore persists the winners snapshot. Replace must delete any
// existing set for the date and insert the new one in a single atomic unit;
// a partial winners list must never be visible.
type WinnerStore interface {
	Replace(ctx context.Context, date string, winners []quiz.Winner) error
}

// Transitioner advances the quiz lifecycle; satisfied by quiz.Machine.
type Transitioner interface {
	Transition(ctx context.Context, date, toState string) (*quiz.Quiz, error)
}

// Observer records settlement outcomes for observability. May be nil.
type Observer interface {
	RecordSettlement(date string, latency time.Duration, success bool)
	RecordFencingConflict(date string)
}

// AuditRecord is the structured settlement record handed to the audit sink.
type AuditRecord struct {
	Date             string          `json:"quiz_date"`
	Action           string          `json:"action"`
	FencingToken     int64           `json:"fencing_token"`
	TotalAttempts    int             `json:"total_attempts"`
	EligibleAttempts int             `json:"eligible_attempts"`
	WinnerCount      int             `json:"winner_count"`
	QuizHash         string          `json:"quiz_hash"`
	TieBreaks        []TieBreakEntry `json:"tie_breaks,omitempty"`
	CalculatedAt     time.Time       `json:"calculated_at"`
}

// TieBreakEntry documents a rank decided beyond score alone.
type TieBreakEntry struct {
	Participant uuid.UUID `json:"participant"`
	Rank        int       `json:"rank"`
	Score       int       `json:"score"`
	TotalTimeMs int64     `json:"total_time_ms"`
	ResolvedBy  string    `json:"resolved_by"`
}

// AuditSink accepts structured settlement records. May be nil.
type AuditSink interface {
	RecordSettlement(ctx context.Context, rec AuditRecord) error
}

// Engine computes and persists the winners snapshot for an ended quiz.
// Scores are recomputed from raw stored permutations, eligibility is
// re-evaluated from current payment and profile truth, and the result is
// written replace-not-append under a fencing token.
type Engine struct {
	attempts     attempt.Store
	quizzes      attempt.QuizReader
	winners      WinnerStore
	fence        Fence
	machine      Transitioner
	payments     attempt.PaymentLookup
	participants attempt.ParticipantLookup
	observer     Observer
	audit        AuditSink
	logger       zerolog.Logger
}

// NewEngine builds a settlement engine.
func NewEngine(attempts attempt.Store, quizzes attempt.QuizReader, winners WinnerStore, fence Fence, machine Transitioner, payments attempt.PaymentLookup, participants attempt.ParticipantLookup, observer Observer, audit AuditSink, logger zerolog.Logger) *Engine {
	return &Engine{
		attempts:     attempts,
		quizzes:      quizzes,
		winners:      winners,
		fence:        fence,
		machine:      machine,
		payments:     payments,
		participants: participants,
		observer:     observer,
		audit:        audit,
		logger:       logger.With().Str("component", "settlement").Logger(),
	}
}

// Settle runs settlement for date. Concurrent and repeated calls are safe:
// only the caller that observes fencing token 1 proceeds, every other call
// is a no-op. On failure the fence stays held and the quiz stays ENDED; an
// operator must reset the fence explicitly before a re-run. There is no
// automatic retry.
func (e *Engine) Settle(ctx context.Context, date string) error {
	token, err := e.fence.AcquireFence(ctx, date)
	if err != nil {
		return fmt.Errorf("settlement fence: %w", err)
	}
	if token != 1 {
		if e.observer != nil {
			e.observer.RecordFencingConflict(date)
		}
		e.logger.Info().
			Str("quiz_date", date).
			Int64("token", token).
			Msg("settlement already owned, skipping")
		return nil
	}

	start := time.Now()
	err = e.settle(ctx, date, token)
	if e.observer != nil {
		e.observer.RecordSettlement(date, time.Since(start), err == nil)
	}
	if err != nil {
		e.logger.Error().Err(err).Str("quiz_date", date).Msg("settlement failed; fence held, quiz stays ENDED")
	}
	return err
}

func (e *Engine) settle(ctx context.Context, date string, token int64) error {
	q, err := e.quizzes.GetByDate(ctx, date)
	if err != nil {
		return err
	}
	if q.State != quiz.StateEnded {
		return quiz.ErrNotEnded
	}

	quizHash := ContentHash(q)

	saved, err := e.attempts.ListSaved(ctx, date)
	if err != nil {
		return fmt.Errorf("load attempts: %w", err)
	}

	eligible := make([]*attempt.Attempt, 0, len(saved))
	for _, a := range saved {
		// Score from the original (unshuffled) coordinate space, never from
		// anything the client reported.
		a.Score = attempt.Score(q, a)
		if a.TotalTimeMs == 0 {
			a.TotalTimeMs = attempt.ElapsedMs(a)
		}

		verdict, err := e.reEvaluate(ctx, q, a)
		if err != nil {
			return err
		}
		a.IsEligible = verdict.Eligible
		a.EligibilityReason = verdict.Reason
		a.Counted = verdict.Eligible
		if err := e.attempts.Update(ctx, a); err != nil {
			return fmt.Errorf("persist settlement verdict: %w", err)
		}
		if verdict.Eligible {
			eligible = append(eligible, a)
		}
	}

	Rank(eligible)
	top := eligible
	if len(top) > TopN {
		top = top[:TopN]
	}

	now := time.Now().UTC()
	winners := make([]quiz.Winner, len(top))
	for i, a := range top {
		winners[i] = quiz.Winner{
			Date:        date,
			Participant: a.Participant,
			Rank:        i + 1,
			Score:       a.Score,
			TotalTimeMs: a.TotalTimeMs,
			QuizHash:    quizHash,
			AnswersHash: AnswersHash(a),
			SnapshotAt:  now,
		}
	}

	if err := e.winners.Replace(ctx, date, winners); err != nil {
		return fmt.Errorf("replace winners: %w", err)
	}

	if e.audit != nil {
		rec := AuditRecord{
			Date:             date,
			Action:           "WINNERS_CALCULATED",
			FencingToken:     token,
			TotalAttempts:    len(saved),
			EligibleAttempts: len(eligible),
			WinnerCount:      len(winners),
			QuizHash:         quizHash,
			TieBreaks:        tieBreaks(top),
			CalculatedAt:     now,
		}
		if err := e.audit.RecordSettlement(ctx, rec); err != nil {
			e.logger.Warn().Err(err).Str("quiz_date", date).Msg("audit record failed")
		}
	}

	// Publish results only after the snapshot is durably committed.
	if _, err := e.machine.Transition(ctx, date, quiz.StateResultPublished); err != nil {
		return fmt.Errorf("publish results: %w", err)
	}

	e.logger.Info().
		Str("quiz_date", date).
		Int("attempts", len(saved)).
		Int("eligible", len(eligible)).
		Int("winners", len(winners)).
		Msg("settlement complete")
	return nil
}

func (e *Engine) reEvaluate(ctx context.Context, q *quiz.Quiz, a *attempt.Attempt) (eligibility.Verdict, error) {
	participant, err := e.participants.GetParticipant(ctx, a.Participant)
	if err != nil {
		return eligibility.Verdict{}, fmt.Errorf("load participant %s: %w", a.Participant, err)
	}
	payment, err := e.payments.SuccessfulPayment(ctx, a.Participant, a.Date)
	if err != nil {
		return eligibility.Verdict{}, fmt.Errorf("payment lookup %s: %w", a.Participant, err)
	}
	return eligibility.Evaluate(eligibility.Input{
		Participant: participant,
		Payment:     payment,
		Quiz:        q,
		CompletedAt: a.CompletedAt,
	}), nil
}

// Rank orders attempts by score descending, total time ascending, then
// attempt creation time ascending, with participant id as an absolute last
// resort so the order is fully deterministic.
func Rank(attempts []*attempt.Attempt) {
	sort.SliceStable(attempts, func(i, j int) bool {
		a, b := attempts[i], attempts[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.TotalTimeMs != b.TotalTimeMs {
			return a.TotalTimeMs < b.TotalTimeMs
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.Participant.String() < b.Participant.String()
	})
}

// ContentHash is the integrity hash over the quiz's question set, proving
// which content produced a ranking.
func ContentHash(q *quiz.Quiz) string {
	payload, _ := json.Marshal(struct {
		Date      string          `json:"quiz_date"`
		Questions []quiz.Question `json:"questions"`
	}{q.Date, q.Questions})
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// AnswersHash fingerprints a participant's answer sequence for dispute
// resolution.
func AnswersHash(a *attempt.Attempt) string {
	payload, _ := json.Marshal(struct {
		Answers       []int   `json:"answers"`
		QuestionOrder []int   `json:"question_order"`
		OptionOrders  [][]int `json:"option_orders"`
	}{a.Answers, a.QuestionOrder, a.OptionOrders})
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

func tieBreaks(ranked []*attempt.Attempt) []TieBreakEntry {
	var entries []TieBreakEntry
	for i := 1; i < len(ranked); i++ {
		prev, cur := ranked[i-1], ranked[i]
		if cur.Score != prev.Score {
			continue
		}
		resolvedBy := "total_time"
		if cur.TotalTimeMs == prev.TotalTimeMs {
			resolvedBy = "creation_order"
		}
		entries = append(entries, TieBreakEntry{
			Participant: cur.Participant,
			Rank:        i + 1,
			Score:       cur.Score,
			TotalTimeMs: cur.TotalTimeMs,
			ResolvedBy:  resolvedBy,
		})
	}
	return entries
}
