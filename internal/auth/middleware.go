package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sakif/account-service/internal/apperror"
	"github.com/sakif/account-service/internal/model"
)

// contextKey is unexported so only this package can read or write the
// values it stores in a request context.
type contextKey string

const (
	userKey  contextKey = "user"
	tokenKey contextKey = "token"
)

// SessionAuthorizer resolves a bearer token to the user that owns it.
// service.AccountService implements it.
type SessionAuthorizer interface {
	Authorize(ctx context.Context, token string) (*model.User, error)
}

// BearerToken extracts the token from an "Authorization: Bearer <token>"
// header value. Anything else yields "", which never validates.
func BearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// RequireSession guards a route with the caller's session token.
//
// On success the resolved user and the raw token are stored in the request
// context (see UserFromContext and TokenFromContext) and the chain continues.
// Authorization failures answer 401; store failures answer 500.
func RequireSession(sessions SessionAuthorizer, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := BearerToken(r.Header.Get("Authorization"))

			user, err := sessions.Authorize(r.Context(), token)
			if err != nil {
				if errors.Is(err, apperror.ErrUnauthorized) {
					logger.Debug("session rejected",
						slog.String("path", r.URL.Path),
						slog.String("reason", err.Error()),
					)
					writeAuthError(w, http.StatusUnauthorized, "unauthorized", "Not authorized")
					return
				}
				logger.Error("session lookup failed", slog.String("error", err.Error()))
				writeAuthError(w, http.StatusInternalServerError, "internal_error", "An internal error occurred")
				return
			}

			ctx := context.WithValue(r.Context(), userKey, user)
			ctx = context.WithValue(ctx, tokenKey, token)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserFromContext returns the user attached by RequireSession.
func UserFromContext(ctx context.Context) (*model.User, bool) {
	u, ok := ctx.Value(userKey).(*model.User)
	return u, ok && u != nil
}

// TokenFromContext returns the raw session token attached by RequireSession.
func TokenFromContext(ctx context.Context) (string, bool) {
	t, ok := ctx.Value(tokenKey).(string)
	return t, ok && t != ""
}

// WithSession returns a copy of ctx carrying user and token, as
// RequireSession would. Handlers' tests use it to skip the middleware.
func WithSession(ctx context.Context, user *model.User, token string) context.Context {
	ctx = context.WithValue(ctx, userKey, user)
	return context.WithValue(ctx, tokenKey, token)
}

func writeAuthError(w http.ResponseWriter, status int, kind, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Fixed ASCII values; no escaping needed.
	_, _ = w.Write([]byte(`{"error":"` + kind + `","message":"` + message + `"}` + "\n"))
}
