package auth

import (
	"context"
	"net/http"

	apperrors "github.com/campusbridge/campusbridge/internal/errors"
	"github.com/campusbridge/campusbridge/internal/logger"
)

type contextKey string

const userContextKey contextKey = "user"

// Recorder receives auth outcomes for metrics. Implemented by metrics.Metrics.
type Recorder interface {
	AuthEvent(event, outcome string)
	VerifierRejection(reason string)
}

type nopRecorder struct{}

func (nopRecorder) AuthEvent(string, string)    {}
func (nopRecorder) VerifierRejection(string) {}

// WithUser attaches a verified identity to ctx.
func WithUser(ctx context.Context, user *UserInfo) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

// UserFromContext returns the identity set by Middleware, or nil.
func UserFromContext(ctx context.Context) *UserInfo {
	user, ok := ctx.Value(userContextKey).(*UserInfo)
	if !ok {
		return nil
	}
	return user
}

// Middleware rejects requests that do not carry a valid access token and
// otherwise attaches the caller's UserInfo to the request context.
func Middleware(verifier *Verifier, recorder Recorder) func(http.Handler) http.Handler {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	log := logger.Default().WithComponent("auth")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			result := verifier.Verify(r.Context(), r)
			if !result.OK() {
				recorder.VerifierRejection(result.Rejection.String())

				fields := map[string]interface{}{
					"reason": result.Rejection.String(),
					"path":   r.URL.Path,
				}
				if result.Rejection == RejectUnavailable {
					log.Error(r.Context(), "credential store lookup failed", result.Err, fields)
				} else {
					log.Info(r.Context(), "request rejected", fields)
				}

				apperrors.WriteError(w, apperrors.GetRequestID(r.Context()), result.Rejection.AppError())
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), result.User)))
		})
	}
}
