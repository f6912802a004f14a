package core

import (
	"fmt"
	"strings"
	"time"
)

const (
	defaultDefaultRoute    = "/"
	defaultTokenTimeout    = 15 * time.Second
	defaultExchangeTimeout = 30 * time.Second
	defaultReplayTTL       = 30 * time.Minute
)

type LinkTokenConfig struct {
	ClientName   string   `koanf:"client_name" mapstructure:"client_name"`
	Language     string   `koanf:"language" mapstructure:"language"`
	CountryCodes []string `koanf:"country_codes" mapstructure:"country_codes"`
	Products     []string `koanf:"products" mapstructure:"products"`
	WebhookURL   string   `koanf:"webhook_url" mapstructure:"webhook_url"`
	RedirectURI  string   `koanf:"redirect_uri" mapstructure:"redirect_uri"`
}

type Config struct {
	ServiceName     string          `koanf:"service_name" mapstructure:"service_name"`
	DefaultRoute    string          `koanf:"default_route" mapstructure:"default_route"`
	TokenTimeout    time.Duration   `koanf:"token_timeout" mapstructure:"token_timeout"`
	ExchangeTimeout time.Duration   `koanf:"exchange_timeout" mapstructure:"exchange_timeout"`
	ReplayTTL       time.Duration   `koanf:"replay_ttl" mapstructure:"replay_ttl"`
	LinkToken       LinkTokenConfig `koanf:"link_token" mapstructure:"link_token"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName:     "banklink",
		DefaultRoute:    defaultDefaultRoute,
		TokenTimeout:    defaultTokenTimeout,
		ExchangeTimeout: defaultExchangeTimeout,
		ReplayTTL:       defaultReplayTTL,
		LinkToken: LinkTokenConfig{
			ClientName:   "banklink",
			Language:     "en",
			CountryCodes: []string{"US"},
			Products:     []string{"auth"},
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if strings.TrimSpace(c.DefaultRoute) == "" {
		return fmt.Errorf("core: default_route is required")
	}
	if c.TokenTimeout < 0 {
		return fmt.Errorf("core: token_timeout must not be negative")
	}
	if c.ExchangeTimeout < 0 {
		return fmt.Errorf("core: exchange_timeout must not be negative")
	}
	if c.ReplayTTL < 0 {
		return fmt.Errorf("core: replay_ttl must not be negative")
	}
	if strings.TrimSpace(c.LinkToken.ClientName) == "" {
		return fmt.Errorf("core: link_token.client_name is required")
	}
	if len(c.LinkToken.CountryCodes) == 0 {
		return fmt.Errorf("core: link_token.country_codes is required")
	}
	if len(c.LinkToken.Products) == 0 {
		return fmt.Errorf("core: link_token.products is required")
	}
	return nil
}
