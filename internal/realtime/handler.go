package realtime

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/quizdaily/live-quiz/internal/auth"
)

// WSHandler upgrades GET /ws/quizzes/{date} and streams the quiz-date's
// events to the client. Authenticated clients keep a single connection per
// quiz; anonymous spectators get a random subscriber id.
func WSHandler(hub *Hub, logger zerolog.Logger) http.HandlerFunc {
	wsLogger := logger.With().Str("component", "ws").Logger()
	return func(w http.ResponseWriter, r *http.Request) {
		date := r.PathValue("date")
		if date == "" {
			http.Error(w, "quiz date required", http.StatusBadRequest)
			return
		}

		subscriber, ok := auth.ParticipantFrom(r.Context())
		if !ok {
			subscriber = uuid.New()
		}

		ws, err := Upgrader.Upgrade(w, r, nil)
		if err != nil {
			wsLogger.Warn().Err(err).Msg("websocket upgrade failed")
			return
		}

		conn := NewConnection(ws, wsLogger)
		hub.Subscribe(date, subscriber, conn)

		go conn.WritePump()
		go conn.ReadPump(func() {
			hub.Unsubscribe(date, subscriber)
		})
	}
}
