package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/goliatone/go-banklink/httpapi"
)

// Settings is the daemon configuration read from the environment.
type Settings struct {
	ListenAddr      string        `env:"BANKLINK_LISTEN_ADDR" envDefault:":8080"`
	ShutdownTimeout time.Duration `env:"BANKLINK_SHUTDOWN_TIMEOUT" envDefault:"10s"`
	ConfigFile      string        `env:"BANKLINK_CONFIG_FILE"`

	DBDriver string `env:"BANKLINK_DB_DRIVER" envDefault:"sqlite3"`
	DBDSN    string `env:"BANKLINK_DB_DSN" envDefault:"file:banklink.db?cache=shared&_foreign_keys=on"`
	DBDebug  bool   `env:"BANKLINK_DB_DEBUG"`

	PlaidClientID string `env:"BANKLINK_PLAID_CLIENT_ID"`
	PlaidSecret   string `env:"BANKLINK_PLAID_SECRET"`
	PlaidEnv      string `env:"BANKLINK_PLAID_ENV" envDefault:"sandbox"`
	PlaidBaseURL  string `env:"BANKLINK_PLAID_BASE_URL"`

	AppKey    string `env:"BANKLINK_APP_KEY"`
	AppKeyID  string `env:"BANKLINK_APP_KEY_ID" envDefault:"app-key"`
	AppKeyCtx string `env:"BANKLINK_APP_KEY_CONTEXT"`

	AuthJWTSecret      string `env:"BANKLINK_AUTH_JWT_SECRET"`
	AuthJWTIssuer      string `env:"BANKLINK_AUTH_JWT_ISSUER"`
	AuthJWTAudience    string `env:"BANKLINK_AUTH_JWT_AUDIENCE"`
	AuthIntrospectURL  string `env:"BANKLINK_AUTH_INTROSPECT_URL"`
	AuthResourceSecret string `env:"BANKLINK_AUTH_RESOURCE_SECRET"`

	RedisURL     string        `env:"BANKLINK_REDIS_URL"`
	ItemCacheTTL time.Duration `env:"BANKLINK_ITEM_CACHE_TTL" envDefault:"1m"`
	AsyncRevoke  bool          `env:"BANKLINK_ASYNC_REVOKE"`
	Webhooks     bool          `env:"BANKLINK_WEBHOOKS" envDefault:"true"`
}

// loadSettings parses the process environment, or environ when it is not nil.
func loadSettings(environ map[string]string) (Settings, error) {
	var settings Settings
	var err error
	if environ == nil {
		err = env.Parse(&settings)
	} else {
		err = env.ParseWithOptions(&settings, env.Options{Environment: environ})
	}
	if err != nil {
		return Settings{}, fmt.Errorf("parse env: %w", err)
	}
	return settings, nil
}

func (s Settings) validateDatabase() error {
	if strings.TrimSpace(s.DBDriver) == "" || strings.TrimSpace(s.DBDSN) == "" {
		return fmt.Errorf("banklinkd: BANKLINK_DB_DRIVER and BANKLINK_DB_DSN are required")
	}
	return nil
}

func (s Settings) validateServe() error {
	if err := s.validateDatabase(); err != nil {
		return err
	}
	switch {
	case strings.TrimSpace(s.PlaidClientID) == "" || strings.TrimSpace(s.PlaidSecret) == "":
		return fmt.Errorf("banklinkd: BANKLINK_PLAID_CLIENT_ID and BANKLINK_PLAID_SECRET are required")
	case strings.TrimSpace(s.AppKey) == "":
		return fmt.Errorf("banklinkd: BANKLINK_APP_KEY is required")
	case strings.TrimSpace(s.AuthJWTSecret) == "" && strings.TrimSpace(s.AuthIntrospectURL) == "":
		return fmt.Errorf("banklinkd: BANKLINK_AUTH_JWT_SECRET or BANKLINK_AUTH_INTROSPECT_URL is required")
	case strings.TrimSpace(s.ListenAddr) == "":
		return fmt.Errorf("banklinkd: BANKLINK_LISTEN_ADDR is required")
	}
	return nil
}

// identityResolver picks bearer token verification: a shared JWT secret wins
// over remote introspection when both are set.
func (s Settings) identityResolver() (httpapi.IdentityResolver, error) {
	if secret := strings.TrimSpace(s.AuthJWTSecret); secret != "" {
		verifier, err := httpapi.NewJWTVerifier(httpapi.JWTConfig{
			Secret:   []byte(secret),
			Issuer:   strings.TrimSpace(s.AuthJWTIssuer),
			Audience: strings.TrimSpace(s.AuthJWTAudience),
			Leeway:   30 * time.Second,
		})
		if err != nil {
			return nil, err
		}
		return httpapi.BearerTokenResolver(verifier), nil
	}
	verifier, err := httpapi.NewIntrospectionVerifier(s.AuthIntrospectURL, s.AuthResourceSecret, nil)
	if err != nil {
		return nil, err
	}
	return httpapi.BearerTokenResolver(verifier), nil
}
