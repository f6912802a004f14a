package core

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

var durationConfigKeys = []string{"token_timeout", "exchange_timeout", "replay_ttl"}

// YAMLConfigLoader reads raw configuration from a YAML document. Path is read
// when Data is empty.
type YAMLConfigLoader struct {
	Path string
	Data []byte
}

func (l YAMLConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	data := l.Data
	if len(data) == 0 {
		path := strings.TrimSpace(l.Path)
		if path == "" {
			return map[string]any{}, nil
		}
		read, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("core: read config file %q: %w", path, err)
		}
		data = read
	}
	raw := map[string]any{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("core: decode yaml config: %w", err)
	}
	return normalizeDurations(raw)
}

// normalizeDurations converts duration strings such as "15s" into
// time.Duration values so they decode into Config.
func normalizeDurations(raw map[string]any) (map[string]any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(raw))
	for key, value := range raw {
		out[key] = value
	}
	for _, key := range durationConfigKeys {
		value, ok := out[key]
		if !ok {
			continue
		}
		switch typed := value.(type) {
		case string:
			parsed, err := time.ParseDuration(strings.TrimSpace(typed))
			if err != nil {
				return nil, fmt.Errorf("core: invalid %s %q: %w", key, typed, err)
			}
			out[key] = parsed
		case int:
			out[key] = time.Duration(typed) * time.Second
		case int64:
			out[key] = time.Duration(typed) * time.Second
		case float64:
			out[key] = time.Duration(typed * float64(time.Second))
		}
	}
	return out, nil
}

func newID() string {
	return uuid.NewString()
}
