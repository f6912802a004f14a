package main

import (
	"strings"
	"testing"
	"time"
)

func TestLoadSettings_Defaults(t *testing.T) {
	settings, err := loadSettings(map[string]string{})
	if err != nil {
		t.Fatalf("load settings: %v", err)
	}
	if settings.ListenAddr != ":8080" || settings.DBDriver != "sqlite3" || settings.PlaidEnv != "sandbox" {
		t.Fatalf("unexpected defaults %#v", settings)
	}
	if settings.ItemCacheTTL != time.Minute || settings.ShutdownTimeout != 10*time.Second {
		t.Fatalf("unexpected duration defaults %#v", settings)
	}
	if err := settings.validateServe(); err == nil || !strings.Contains(err.Error(), "PLAID") {
		t.Fatalf("expected missing plaid credentials error, got %v", err)
	}
}

func TestLoadSettings_Overrides(t *testing.T) {
	settings, err := loadSettings(map[string]string{
		"BANKLINK_DB_DRIVER":       "postgres",
		"BANKLINK_DB_DSN":          "postgres://localhost/banklink",
		"BANKLINK_PLAID_CLIENT_ID": "client",
		"BANKLINK_PLAID_SECRET":    "secret",
		"BANKLINK_APP_KEY":         "key",
		"BANKLINK_ITEM_CACHE_TTL":  "30s",
		"BANKLINK_ASYNC_REVOKE":    "true",
		"BANKLINK_AUTH_JWT_SECRET": strings.Repeat("j", 32),
	})
	if err != nil {
		t.Fatalf("load settings: %v", err)
	}
	if settings.DBDriver != "postgres" || settings.ItemCacheTTL != 30*time.Second || !settings.AsyncRevoke {
		t.Fatalf("unexpected overrides %#v", settings)
	}
	if err := settings.validateServe(); err != nil {
		t.Fatalf("expected valid serve settings, got %v", err)
	}
}

func TestSettings_RequireAuthMode(t *testing.T) {
	base := map[string]string{
		"BANKLINK_PLAID_CLIENT_ID": "client",
		"BANKLINK_PLAID_SECRET":    "secret",
		"BANKLINK_APP_KEY":         "key",
	}
	settings, err := loadSettings(base)
	if err != nil {
		t.Fatalf("load settings: %v", err)
	}
	if err := settings.validateServe(); err == nil || !strings.Contains(err.Error(), "BANKLINK_AUTH") {
		t.Fatalf("expected missing auth mode error, got %v", err)
	}

	settings.AuthIntrospectURL = "https://auth.example/introspect"
	if err := settings.validateServe(); err != nil {
		t.Fatalf("expected introspection to satisfy auth, got %v", err)
	}
	if _, err := settings.identityResolver(); err != nil {
		t.Fatalf("introspection resolver: %v", err)
	}

	settings.AuthJWTSecret = "too-short"
	if _, err := settings.identityResolver(); err == nil {
		t.Fatalf("expected short jwt secret to be rejected")
	}
}

func TestLoadSettings_RejectsBadDuration(t *testing.T) {
	if _, err := loadSettings(map[string]string{"BANKLINK_SHUTDOWN_TIMEOUT": "soon"}); err == nil {
		t.Fatalf("expected parse error")
	}
}
