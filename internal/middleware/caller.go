// Package middleware holds the HTTP middleware shared by the gateway routes.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"aigateway/internal/auth"
	"aigateway/internal/timing"
	"aigateway/internal/utils"
)

// ContextKey defines the type for context keys to avoid conflicts
type ContextKey string

const (
	// CallerKey is the context key for the authenticated caller
	CallerKey ContextKey = "caller"
)

// Trusted identity headers, used when no token secret is configured.
const (
	HeaderUserDid = "X-User-Did"
	HeaderAppID   = "X-App-Id"
)

// CallerMiddleware identifies the caller of a request. With a secret, callers
// present a bearer token; without one, the identity headers set by the
// fronting service are trusted.
func CallerMiddleware(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			stop := timing.FromContext(r.Context()).Track(timing.Session)

			var caller auth.Caller
			if len(secret) > 0 {
				token, ok := bearerToken(r.Header.Get("Authorization"))
				if !ok {
					stop()
					utils.RespondWithError(w, http.StatusUnauthorized, "Missing authentication token")
					return
				}
				var err error
				caller, err = auth.ParseCallerToken(secret, token)
				if err != nil {
					stop()
					utils.RespondWithError(w, http.StatusUnauthorized, "Invalid or expired token")
					return
				}
			} else {
				caller.UserDid = strings.TrimSpace(r.Header.Get(HeaderUserDid))
				caller.AppID = strings.TrimSpace(r.Header.Get(HeaderAppID))
				if caller.UserDid == "" {
					stop()
					utils.RespondWithError(w, http.StatusUnauthorized, "Missing caller identity")
					return
				}
			}
			stop()

			ctx := context.WithValue(r.Context(), CallerKey, caller)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetCaller retrieves the caller from the request context
func GetCaller(ctx context.Context) (auth.Caller, bool) {
	caller, ok := ctx.Value(CallerKey).(auth.Caller)
	return caller, ok
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
