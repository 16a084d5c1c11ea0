package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	httperrors "github.com/quizdaily/live-quiz/pkg/http/errors"
)

type contextKey string

const claimsKey contextKey = "claims"

// Middleware validates bearer tokens and injects claims into the request
// context. Requests without an Authorization header pass through
// unauthenticated; handlers that need identity use RequireParticipant.
func Middleware(mgr *Manager, logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				next.ServeHTTP(w, r)
				return
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				httperrors.RespondUnauthorized(w, httperrors.ErrCodeInvalidToken, "Invalid authorization header")
				return
			}

			claims, err := mgr.Validate(parts[1])
			if err != nil {
				logger.Warn().Err(err).Msg("token validation failed")
				httperrors.RespondUnauthorized(w, httperrors.ErrCodeInvalidToken, "Invalid or expired token")
				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey, claims)))
		})
	}
}

// ClaimsFrom extracts claims from a request context, nil when absent.
func ClaimsFrom(ctx context.Context) *Claims {
	claims, _ := ctx.Value(claimsKey).(*Claims)
	return claims
}

// ParticipantFrom returns the authenticated participant id.
func ParticipantFrom(ctx context.Context) (uuid.UUID, bool) {
	claims := ClaimsFrom(ctx)
	if claims == nil {
		return uuid.Nil, false
	}
	return claims.ParticipantID, true
}

// RequireParticipant ensures the request carries a valid participant token.
func RequireParticipant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ClaimsFrom(r.Context()) == nil {
			httperrors.RespondUnauthorized(w, httperrors.ErrCodeAuthenticationRequired, "Authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAdmin gates lifecycle and settlement operations.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := ClaimsFrom(r.Context())
		if claims == nil || claims.Role != RoleAdmin {
			httperrors.RespondForbidden(w, httperrors.ErrCodeForbidden, "Admin access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}
