package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	timelineTTL        = 30 * 24 * time.Hour
	timelineMaxEntries = 200
)

// Event is a single entry in a participant's activity timeline.
type Event struct {
	Kind       string         `json:"kind"`
	Date       string         `json:"date,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
	RecordedAt time.Time      `json:"recordedAt"`
}

// Timeline keeps a rolling per-participant activity feed in Redis. Entries
// expire 30 days after the last write.
type Timeline struct {
	redis  *redis.Client
	logger zerolog.Logger
}

func NewTimeline(rdb *redis.Client, logger zerolog.Logger) *Timeline {
	return &Timeline{
		redis:  rdb,
		logger: logger.With().Str("component", "timeline").Logger(),
	}
}

func timelineKey(participant uuid.UUID) string {
	return fmt.Sprintf("timeline:%s", participant)
}

func quizTimelineKey(date string) string {
	return fmt.Sprintf("timeline:quiz:%s", date)
}

func antiCheatKey(date string) string {
	return fmt.Sprintf("anticheat:%s", date)
}

// Record prepends an event to the participant's timeline, trims it to the
// retention window and refreshes the TTL.
func (t *Timeline) Record(ctx context.Context, participant uuid.UUID, ev Event) error {
	if ev.RecordedAt.IsZero() {
		ev.RecordedAt = time.Now().UTC()
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal timeline event: %w", err)
	}

	return t.push(ctx, timelineKey(participant), raw)
}

func (t *Timeline) push(ctx context.Context, key string, raw []byte) error {
	pipe := t.redis.Pipeline()
	pipe.LPush(ctx, key, raw)
	pipe.LTrim(ctx, key, 0, timelineMaxEntries-1)
	pipe.Expire(ctx, key, timelineTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record timeline event: %w", err)
	}
	return nil
}

func (t *Timeline) read(ctx context.Context, key string, limit int) ([]Event, error) {
	if limit <= 0 || limit > timelineMaxEntries {
		limit = timelineMaxEntries
	}
	raws, err := t.redis.LRange(ctx, key, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("read timeline: %w", err)
	}

	events := make([]Event, 0, len(raws))
	for _, raw := range raws {
		var ev Event
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			t.logger.Warn().Err(err).Str("key", key).Msg("skipping malformed timeline entry")
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

// Events returns the newest-first timeline for a participant.
func (t *Timeline) Events(ctx context.Context, participant uuid.UUID, limit int) ([]Event, error) {
	return t.read(ctx, timelineKey(participant), limit)
}

// QuizEvents returns the newest-first lifecycle timeline for a quiz date.
func (t *Timeline) QuizEvents(ctx context.Context, date string, limit int) ([]Event, error) {
	return t.read(ctx, quizTimelineKey(date), limit)
}

// RecordStateChange appends a committed lifecycle transition to the quiz
// date's timeline. Failures are logged, never surfaced to the transition.
func (t *Timeline) RecordStateChange(ctx context.Context, date, fromState, toState string, at time.Time) {
	raw, err := json.Marshal(Event{
		Kind:       "STATE_CHANGED",
		Date:       date,
		Details:    map[string]any{"from": fromState, "to": toState},
		RecordedAt: at.UTC(),
	})
	if err != nil {
		return
	}
	if err := t.push(ctx, quizTimelineKey(date), raw); err != nil {
		t.logger.Error().Err(err).Str("quiz_date", date).Msg("failed to record state change")
	}
}

// RecordAntiCheatEvent stores an integrity violation on the offender's
// timeline and on the quiz date's anti-cheat list. Failures are logged,
// never surfaced to the submission path.
func (t *Timeline) RecordAntiCheatEvent(ctx context.Context, participant uuid.UUID, date, kind string, details map[string]any) {
	ev := Event{Kind: "ANTI_CHEAT_" + kind, Date: date, Details: details}
	if err := t.Record(ctx, participant, ev); err != nil {
		t.logger.Error().Err(err).
			Str("participant", participant.String()).
			Str("kind", kind).
			Msg("failed to record anti-cheat event")
	}

	ev.RecordedAt = time.Now().UTC()
	dated := ev
	dated.Details = map[string]any{"participant": participant.String(), "kind": kind}
	if raw, err := json.Marshal(dated); err == nil {
		if err := t.push(ctx, antiCheatKey(date), raw); err != nil {
			t.logger.Error().Err(err).Str("quiz_date", date).Msg("failed to record anti-cheat event")
		}
	}
}

// StateFanout forwards lifecycle transitions to several observers.
type StateFanout []interface {
	RecordStateChange(ctx context.Context, date, fromState, toState string, at time.Time)
}

func (f StateFanout) RecordStateChange(ctx context.Context, date, fromState, toState string, at time.Time) {
	for _, obs := range f {
		obs.RecordStateChange(ctx, date, fromState, toState, at)
	}
}

// SecurityFanout forwards integrity violations to several observers, giving
// a single sink for the attempt tracker.
type SecurityFanout []interface {
	RecordAntiCheatEvent(ctx context.Context, participant uuid.UUID, date, kind string, details map[string]any)
}

func (f SecurityFanout) RecordAntiCheatEvent(ctx context.Context, participant uuid.UUID, date, kind string, details map[string]any) {
	for _, obs := range f {
		obs.RecordAntiCheatEvent(ctx, participant, date, kind, details)
	}
}
