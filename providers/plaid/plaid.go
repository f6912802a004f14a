// Package plaid implements core.Aggregator against the Plaid API.
package plaid

import (
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-banklink/core"
	"github.com/goliatone/go-banklink/transport"
)

const (
	AggregatorName = "plaid"
	APIVersion     = "2020-09-14"
)

type Environment string

const (
	EnvironmentSandbox     Environment = "sandbox"
	EnvironmentDevelopment Environment = "development"
	EnvironmentProduction  Environment = "production"
)

var environmentURLs = map[Environment]string{
	EnvironmentSandbox:     "https://sandbox.plaid.com",
	EnvironmentDevelopment: "https://development.plaid.com",
	EnvironmentProduction:  "https://production.plaid.com",
}

type Config struct {
	ClientID    string
	Secret      string
	Environment Environment
	// BaseURL overrides the environment host.
	BaseURL string
	Timeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Environment: EnvironmentSandbox,
		Timeout:     15 * time.Second,
	}
}

// ParseEnvironment maps a name to an Environment. Unknown names are an error.
func ParseEnvironment(name string) (Environment, error) {
	env := Environment(strings.ToLower(strings.TrimSpace(name)))
	if env == "" {
		return EnvironmentSandbox, nil
	}
	if _, ok := environmentURLs[env]; !ok {
		return "", fmt.Errorf("providers/plaid: unknown environment %q", name)
	}
	return env, nil
}

func (c Config) baseURL() (string, error) {
	if base := strings.TrimRight(strings.TrimSpace(c.BaseURL), "/"); base != "" {
		return base, nil
	}
	env, err := ParseEnvironment(string(c.Environment))
	if err != nil {
		return "", err
	}
	return environmentURLs[env], nil
}

// New builds a client. adapter may be nil, in which case a REST adapter over
// a default http.Client is used.
func New(cfg Config, adapter transport.Adapter) (*Client, error) {
	defaults := DefaultConfig()
	if cfg.Environment == "" {
		cfg.Environment = defaults.Environment
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	cfg.ClientID = strings.TrimSpace(cfg.ClientID)
	cfg.Secret = strings.TrimSpace(cfg.Secret)
	if cfg.ClientID == "" || cfg.Secret == "" {
		return nil, ErrCredentialsRequired
	}
	base, err := cfg.baseURL()
	if err != nil {
		return nil, err
	}
	if adapter == nil {
		adapter = transport.NewRESTAdapter(nil)
	}
	return &Client{
		config:  cfg,
		baseURL: base,
		adapter: adapter,
	}, nil
}

var _ core.Aggregator = (*Client)(nil)
