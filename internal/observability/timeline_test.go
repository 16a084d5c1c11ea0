package observability

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTimeline(t *testing.T) (*Timeline, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewTimeline(rdb, zerolog.Nop()), mr
}

func TestTimelineRecordAndRead(t *testing.T) {
	tl, mr := newTestTimeline(t)
	ctx := context.Background()
	participant := uuid.New()

	require.NoError(t, tl.Record(ctx, participant, Event{Kind: "QUIZ_JOINED", Date: "2025-03-01"}))
	require.NoError(t, tl.Record(ctx, participant, Event{Kind: "QUIZ_COMPLETED", Date: "2025-03-01"}))

	events, err := tl.Events(ctx, participant, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "QUIZ_COMPLETED", events[0].Kind)
	assert.Equal(t, "QUIZ_JOINED", events[1].Kind)

	ttl := mr.TTL("timeline:" + participant.String())
	assert.Equal(t, timelineTTL, ttl)
}

func TestTimelineTrimsToRetentionWindow(t *testing.T) {
	tl, _ := newTestTimeline(t)
	ctx := context.Background()
	participant := uuid.New()

	for i := 0; i < timelineMaxEntries+25; i++ {
		require.NoError(t, tl.Record(ctx, participant, Event{Kind: "QUESTION_ANSWERED"}))
	}

	events, err := tl.Events(ctx, participant, 0)
	require.NoError(t, err)
	assert.Len(t, events, timelineMaxEntries)
}

func TestTimelineEmptyForUnknownParticipant(t *testing.T) {
	tl, _ := newTestTimeline(t)

	events, err := tl.Events(context.Background(), uuid.New(), 10)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestAntiCheatEventLandsOnTimeline(t *testing.T) {
	tl, _ := newTestTimeline(t)
	ctx := context.Background()
	participant := uuid.New()

	tl.RecordAntiCheatEvent(ctx, participant, "2025-03-01", "rapid_answer", map[string]any{"elapsedMs": 800})

	events, err := tl.Events(ctx, participant, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "ANTI_CHEAT_rapid_answer", events[0].Kind)
	assert.Equal(t, "2025-03-01", events[0].Date)
}

func TestAntiCheatEventLandsOnDateList(t *testing.T) {
	tl, mr := newTestTimeline(t)
	participant := uuid.New()

	tl.RecordAntiCheatEvent(context.Background(), participant, "2025-03-01", "device_mismatch", nil)

	require.True(t, mr.Exists("anticheat:2025-03-01"))
	raws, err := mr.List("anticheat:2025-03-01")
	require.NoError(t, err)
	require.Len(t, raws, 1)
	assert.Contains(t, raws[0], participant.String())
	assert.Contains(t, raws[0], "device_mismatch")
}

func TestStateChangeLandsOnQuizTimeline(t *testing.T) {
	tl, _ := newTestTimeline(t)
	ctx := context.Background()
	now := time.Now()

	tl.RecordStateChange(ctx, "2025-03-01", "LOCKED", "LIVE", now)
	tl.RecordStateChange(ctx, "2025-03-01", "LIVE", "ENDED", now.Add(time.Minute))

	events, err := tl.QuizEvents(ctx, "2025-03-01", 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "STATE_CHANGED", events[0].Kind)
	assert.Equal(t, "ENDED", events[0].Details["to"])
	assert.Equal(t, "LOCKED", events[1].Details["from"])
}
