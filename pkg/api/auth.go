package api

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"os"
	"strings"

	echo "github.com/labstack/echo/v5"
	nanoid "github.com/matoous/go-nanoid/v2"
)

// Role is the privilege level an API key carries.
type Role string

const (
	// RoleClient may chat, search memory, and read catalogs.
	RoleClient Role = "client"
	// RoleAdmin may additionally register and remove agents and MCP servers.
	RoleAdmin Role = "admin"
)

const apiKeyLength = 32

// Keyring holds the two process-local API keys. Keys are never persisted;
// restarting the process rotates any generated key.
type Keyring struct {
	adminKey  string
	clientKey string
}

// NewKeyring builds a keyring from the given keys, generating any that are
// empty. Generated keys are logged once at startup so operators can grab
// them.
func NewKeyring(adminKey, clientKey string) (*Keyring, error) {
	var err error
	if adminKey == "" {
		adminKey, err = nanoid.New(apiKeyLength)
		if err != nil {
			return nil, err
		}
		slog.Info("Generated admin API key", "key", adminKey)
	}
	if clientKey == "" {
		clientKey, err = nanoid.New(apiKeyLength)
		if err != nil {
			return nil, err
		}
		slog.Info("Generated client API key", "key", clientKey)
	}
	return &Keyring{adminKey: adminKey, clientKey: clientKey}, nil
}

// LoadKeyringFromEnv reads MAESTRO_ADMIN_KEY and MAESTRO_CLIENT_KEY,
// generating whichever is unset.
func LoadKeyringFromEnv() (*Keyring, error) {
	return NewKeyring(os.Getenv("MAESTRO_ADMIN_KEY"), os.Getenv("MAESTRO_CLIENT_KEY"))
}

// RoleFor resolves a bearer token to its role.
func (k *Keyring) RoleFor(token string) (Role, bool) {
	if subtle.ConstantTimeCompare([]byte(token), []byte(k.adminKey)) == 1 {
		return RoleAdmin, true
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(k.clientKey)) == 1 {
		return RoleClient, true
	}
	return "", false
}

// requireRole returns middleware enforcing bearer-token auth at the given
// privilege level. The admin key satisfies client-level routes.
func (k *Keyring) requireRole(min Role) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			token, ok := bearerToken(c.Request().Header.Get("Authorization"))
			if !ok {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer token")
			}
			role, ok := k.RoleFor(token)
			if !ok {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid API key")
			}
			if min == RoleAdmin && role != RoleAdmin {
				return echo.NewHTTPError(http.StatusForbidden, "admin key required")
			}
			return next(c)
		}
	}
}

func bearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}
