package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ucwatch/ucwatch/pkg/log"
)

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		ctx = log.With(ctx, log.Ctx(ctx).With(slog.String("reqPath", r.URL.Path)))

		if s.bypassAuth {
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			log.Ctx(ctx).WarnContext(ctx, "unauthenticated request")
			writeJSONError(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if !strings.HasPrefix(authHeader, "Bearer ") {
			log.Ctx(ctx).ErrorContext(ctx, "invalid auth header")
			writeJSONError(w, "invalid auth header", http.StatusBadRequest)
			return
		}
		token := strings.TrimPrefix(authHeader, "Bearer ")

		email, subject, _, err := s.authenticateToken(ctx, token)
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "auth token validation failed", slog.Any("error", err))
			writeJSONError(w, "invalid auth token", http.StatusUnauthorized)
			return
		}
		if email == "" {
			log.Ctx(ctx).WarnContext(ctx, "invalid email in id token", slog.String("subject", subject))
			writeJSONError(w, "invalid oidc claims", http.StatusUnauthorized)
			return
		}

		ctx = context.WithValue(ctx, emailContextKey, email)
		ctx = log.With(ctx, log.Ctx(ctx).With(slog.String("authUserID", subject)))

		log.Ctx(ctx).DebugContext(ctx, "authenticated request", slog.String("email", email))

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireAdmin guards mutating handlers. When admin-emails is set only
// those addresses may change state; everyone authenticated keeps read
// access.
func (s *Server) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if len(s.adminEmails) > 0 && !s.isAdmin(r) {
			email, _ := r.Context().Value(emailContextKey).(string)
			log.Ctx(r.Context()).WarnContext(r.Context(), "mutation denied", slog.String("email", email))
			writeJSONError(w, "forbidden", http.StatusForbidden)
			return
		}
		next(w, r)
	}
}

func (s *Server) authenticateToken(ctx context.Context, token string) (string, string, time.Time, error) {
	var errs []error

	for providerName, verifier := range s.oidcVerifiers {
		idToken, err := verifier(ctx, token)
		if err == nil {
			var claims struct {
				Email string `json:"email"`
			}
			err = idToken.Claims(&claims)
			if err == nil {
				return claims.Email, idToken.Subject, idToken.Expiry, nil
			}
		}
		errs = append(errs, fmt.Errorf("%s verifier failed: %v", providerName, err))
	}

	if len(errs) > 1 {
		return "", "", time.Time{}, errors.Join(errs...)
	}
	if len(errs) == 1 {
		return "", "", time.Time{}, errs[0]
	}
	return "", "", time.Time{}, errors.New("no valid audiences configured or token invalid")
}
