package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/inkforge/inkforge/internal/auth"
	"github.com/inkforge/inkforge/internal/metrics"
	"github.com/inkforge/inkforge/internal/model"
)

// unauthorizedMessage is the single body used for every auth failure.
const unauthorizedMessage = "Unauthorized"

// TokenVerifier turns a session token into a principal.
type TokenVerifier interface {
	Verify(token string) (*model.Principal, error)
}

// PrincipalCache caches verified principals by token hash.
type PrincipalCache interface {
	GetPrincipal(ctx context.Context, tokenHash string) (*model.Principal, error)
	SetPrincipal(ctx context.Context, tokenHash string, p *model.Principal) error
}

// AuthConfig holds configuration for the auth middleware.
type AuthConfig struct {
	Logger   *slog.Logger
	Verifier TokenVerifier
	// Cache is optional. Cache errors fall through to verification.
	Cache   PrincipalCache
	Metrics metrics.Recorder
	// CookieName is the session cookie consulted when no bearer token is sent.
	CookieName string
}

// Auth returns a middleware that resolves the request's principal.
// The token comes from "Authorization: Bearer <token>" or the session
// cookie. Requests without a valid principal get 401 and never reach next.
func Auth(cfg AuthConfig) func(http.Handler) http.Handler {
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewNoop()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractSessionToken(r, cfg.CookieName)
			if token == "" {
				logAuthFailure(cfg.Logger, r, "missing_token")
				writeError(w, http.StatusUnauthorized, unauthorizedMessage)
				return
			}

			tokenHash := auth.TokenHash(token)
			cacheHit := false

			var principal *model.Principal
			if cfg.Cache != nil {
				cached, err := cfg.Cache.GetPrincipal(r.Context(), tokenHash)
				if err != nil {
					cfg.Logger.Warn("principal cache read failed",
						slog.String("error", err.Error()),
						slog.String("request_id", GetRequestID(r.Context())),
					)
				}
				if cached.IsValid() {
					principal = cached
					cacheHit = true
					cfg.Metrics.IncPrincipalCacheHit()
				} else {
					cfg.Metrics.IncPrincipalCacheMiss()
				}
			}

			if principal == nil {
				verified, err := cfg.Verifier.Verify(token)
				if err != nil || !verified.IsValid() {
					reason := "invalid_token"
					if err != nil {
						reason = err.Error()
					}
					logAuthFailure(cfg.Logger, r, reason)
					writeError(w, http.StatusUnauthorized, unauthorizedMessage)
					return
				}
				principal = verified

				if cfg.Cache != nil {
					if err := cfg.Cache.SetPrincipal(r.Context(), tokenHash, principal); err != nil {
						cfg.Logger.Warn("principal cache write failed",
							slog.String("error", err.Error()),
							slog.String("request_id", GetRequestID(r.Context())),
						)
					}
				}
			}

			cfg.Logger.Debug("authentication successful",
				slog.String("user_id", principal.UserID),
				slog.Bool("cache_hit", cacheHit),
				slog.String("endpoint", r.Method+" "+r.URL.Path),
				slog.String("request_id", GetRequestID(r.Context())),
			)

			AnnotateUser(r.Context(), principal.UserID)
			ctx := auth.ContextWithPrincipal(r.Context(), principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// extractSessionToken prefers a bearer token and falls back to the session
// cookie, including its "__Secure-" variant served over HTTPS.
func extractSessionToken(r *http.Request, cookieName string) string {
	if header := r.Header.Get("Authorization"); header != "" {
		if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
			return strings.TrimSpace(header[7:])
		}
	}

	if cookieName == "" {
		return ""
	}
	for _, name := range []string{cookieName, "__Secure-" + cookieName} {
		if c, err := r.Cookie(name); err == nil && c.Value != "" {
			return c.Value
		}
	}
	return ""
}

func logAuthFailure(logger *slog.Logger, r *http.Request, reason string) {
	logger.Warn("authentication failed",
		slog.String("reason", reason),
		slog.String("ip", r.RemoteAddr),
		slog.String("endpoint", r.Method+" "+r.URL.Path),
		slog.String("request_id", GetRequestID(r.Context())),
	)
}
