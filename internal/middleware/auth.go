package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/shinyyama/remu-backend/internal/identity"
	"github.com/shinyyama/remu-backend/internal/model"
	"github.com/shinyyama/remu-backend/internal/repository"
	"github.com/shinyyama/remu-backend/internal/reqctx"
)

const (
	uidKey     = "uid"
	accountKey = "account"
)

type TokenVerifier interface {
	VerifyToken(ctx context.Context, idToken string) (string, error)
}

type AccountLookup interface {
	Get(ctx context.Context, id string) (*model.Account, error)
}

// AuthMiddleware resolves the caller from a bearer id token. Handlers read
// the result through UID and Actor instead of any process-wide state.
type AuthMiddleware struct {
	verifier TokenVerifier
	accounts AccountLookup
}

func NewAuthMiddleware(verifier TokenVerifier, accounts AccountLookup) *AuthMiddleware {
	return &AuthMiddleware{verifier: verifier, accounts: accounts}
}

func (m *AuthMiddleware) RequireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		authz := c.Request().Header.Get("Authorization")
		if authz == "" || !strings.HasPrefix(authz, "Bearer ") {
			return c.JSON(http.StatusUnauthorized, errorBody("unauthorized", "missing bearer token"))
		}
		tokenStr := strings.TrimPrefix(authz, "Bearer ")
		uid, err := m.verifier.VerifyToken(c.Request().Context(), tokenStr)
		if err != nil {
			if errors.Is(err, identity.ErrNetwork) {
				return c.JSON(http.StatusServiceUnavailable, errorBody("network_error", "identity provider unreachable"))
			}
			return c.JSON(http.StatusUnauthorized, errorBody("invalid_token", "invalid id token"))
		}
		c.Set(uidKey, uid)
		req := c.Request()
		c.SetRequest(req.WithContext(reqctx.WithUID(req.Context(), uid)))
		return next(c)
	}
}

// RequireAdmin must run after RequireAuth. The flag is read from the
// directory on every request so a demotion takes effect immediately.
func (m *AuthMiddleware) RequireAdmin(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		uid := UID(c)
		if uid == "" {
			return c.JSON(http.StatusUnauthorized, errorBody("unauthorized", "sign in required"))
		}
		acct, err := m.accounts.Get(c.Request().Context(), uid)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return c.JSON(http.StatusForbidden, errorBody("forbidden", "admin access required"))
			}
			return c.JSON(http.StatusInternalServerError, errorBody("internal_error", "failed to load account"))
		}
		if !acct.IsAdmin {
			return c.JSON(http.StatusForbidden, errorBody("forbidden", "admin access required"))
		}
		c.Set(accountKey, acct)
		return next(c)
	}
}

func UID(c echo.Context) string {
	uid, _ := c.Get(uidKey).(string)
	return uid
}

// Actor is the admin account loaded by RequireAdmin.
func Actor(c echo.Context) *model.Account {
	acct, _ := c.Get(accountKey).(*model.Account)
	return acct
}

func errorBody(code, message string) echo.Map {
	return echo.Map{"error": echo.Map{"code": code, "message": message}}
}
