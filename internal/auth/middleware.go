package auth

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/mabini-abc/portal/internal/models"
	pkghttp "github.com/mabini-abc/portal/pkg/http"
)

// contextKey is a custom type for context keys
type contextKey string

const (
	accountContextKey contextKey = "account"
	claimsContextKey  contextKey = "session_claims"
)

// UsabilityChecker decides whether the account behind a session may act.
type UsabilityChecker interface {
	IsAccountUsableByID(ctx context.Context, accountID string) (*models.AccountUsability, error)
}

// RequireSession validates the session token and re-checks the account on
// every request, so archival or a pending reset ends existing sessions.
// The token is read from the Authorization bearer header, falling back to
// the session cookie.
func RequireSession(sm *SessionManager, checker UsabilityChecker, logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, ok := sessionToken(r)
			if !ok {
				pkghttp.WriteUnauthorized(w, "Authentication required")
				return
			}

			claims, err := sm.Validate(tokenString)
			if err != nil {
				pkghttp.WriteUnauthorized(w, "Invalid or expired session")
				return
			}

			usability, err := checker.IsAccountUsableByID(r.Context(), claims.AccountID)
			if err != nil {
				logger.ErrorContext(r.Context(), "failed to check account usability",
					slog.String("account_id", claims.AccountID), slog.Any("error", err))
				pkghttp.WriteInternalError(w, "Internal server error")
				return
			}
			if !usability.Usable {
				result := models.AuthResult{Reason: usability.Reason}
				pkghttp.WriteError(w, http.StatusUnauthorized, string(usability.Reason), result.Message(sm.now()))
				return
			}

			ctx := context.WithValue(r.Context(), claimsContextKey, claims)
			ctx = context.WithValue(ctx, accountContextKey, usability.Account)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole restricts a route to accounts holding role. Must run after RequireSession.
func RequireRole(role models.Role) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			account := AccountFromContext(r.Context())
			if account == nil {
				pkghttp.WriteUnauthorized(w, "Authentication required")
				return
			}
			if account.Role != role {
				pkghttp.WriteForbidden(w, "Insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// AccountFromContext returns the account resolved by RequireSession.
func AccountFromContext(ctx context.Context) *models.Account {
	account, _ := ctx.Value(accountContextKey).(*models.Account)
	return account
}

// ClaimsFromContext returns the validated session claims.
func ClaimsFromContext(ctx context.Context) *models.SessionClaims {
	claims, _ := ctx.Value(claimsContextKey).(*models.SessionClaims)
	return claims
}

// WithAccount stores account in ctx as RequireSession would.
func WithAccount(ctx context.Context, account *models.Account) context.Context {
	return context.WithValue(ctx, accountContextKey, account)
}

func sessionToken(r *http.Request) (string, bool) {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
			return "", false
		}
		return strings.TrimSpace(parts[1]), true
	}
	if cookie, err := r.Cookie(SessionCookieName); err == nil && cookie.Value != "" {
		return cookie.Value, true
	}
	return "", false
}
