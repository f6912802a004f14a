package core

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const (
	CredentialPayloadFormatRawToken = "raw_access_token"
	CredentialPayloadFormatJSONV1   = "item_credential_json"
	CredentialPayloadVersionV1      = 1
)

// ItemCredential is the durable aggregator credential for one linked item.
type ItemCredential struct {
	ItemID      string
	AccessToken string
	Aggregator  string
	ObtainedAt  time.Time
}

type CredentialCodec interface {
	Format() string
	Version() int
	Encode(credential ItemCredential) ([]byte, error)
	Decode(payload []byte) (ItemCredential, error)
}

type JSONCredentialCodec struct{}

func (JSONCredentialCodec) Format() string {
	return CredentialPayloadFormatJSONV1
}

func (JSONCredentialCodec) Version() int {
	return CredentialPayloadVersionV1
}

type jsonCredentialPayload struct {
	Version     int       `json:"v"`
	ItemID      string    `json:"item_id"`
	AccessToken string    `json:"access_token"`
	Aggregator  string    `json:"aggregator,omitempty"`
	ObtainedAt  time.Time `json:"obtained_at"`
}

func (c JSONCredentialCodec) Encode(credential ItemCredential) ([]byte, error) {
	token := strings.TrimSpace(credential.AccessToken)
	if token == "" {
		return nil, fmt.Errorf("core: credential payload requires an access token")
	}
	encoded, err := json.Marshal(jsonCredentialPayload{
		Version:     c.Version(),
		ItemID:      strings.TrimSpace(credential.ItemID),
		AccessToken: token,
		Aggregator:  strings.TrimSpace(credential.Aggregator),
		ObtainedAt:  credential.ObtainedAt.UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("core: encode credential payload: %w", err)
	}
	return encoded, nil
}

func (JSONCredentialCodec) Decode(payload []byte) (ItemCredential, error) {
	if len(payload) == 0 {
		return ItemCredential{}, fmt.Errorf("core: credential payload is empty")
	}
	decoded := jsonCredentialPayload{}
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return ItemCredential{}, fmt.Errorf("core: decode credential payload: %w", err)
	}
	if decoded.Version > CredentialPayloadVersionV1 {
		return ItemCredential{}, fmt.Errorf("core: unsupported credential payload version %d", decoded.Version)
	}
	if strings.TrimSpace(decoded.AccessToken) == "" {
		return ItemCredential{}, fmt.Errorf("core: credential payload has no access token")
	}
	return ItemCredential{
		ItemID:      strings.TrimSpace(decoded.ItemID),
		AccessToken: strings.TrimSpace(decoded.AccessToken),
		Aggregator:  strings.TrimSpace(decoded.Aggregator),
		ObtainedAt:  decoded.ObtainedAt.UTC(),
	}, nil
}

// RawTokenCredentialCodec stores the bare access token. It exists for rows
// written before the JSON payload format.
type RawTokenCredentialCodec struct{}

func (RawTokenCredentialCodec) Format() string {
	return CredentialPayloadFormatRawToken
}

func (RawTokenCredentialCodec) Version() int {
	return CredentialPayloadVersionV1
}

func (RawTokenCredentialCodec) Encode(credential ItemCredential) ([]byte, error) {
	token := strings.TrimSpace(credential.AccessToken)
	if token == "" {
		return nil, fmt.Errorf("core: raw credential payload requires an access token")
	}
	return []byte(token), nil
}

func (RawTokenCredentialCodec) Decode(payload []byte) (ItemCredential, error) {
	token := strings.TrimSpace(string(payload))
	if token == "" {
		return ItemCredential{}, fmt.Errorf("core: raw credential payload is empty")
	}
	return ItemCredential{AccessToken: token}, nil
}

// codecForFormat picks the codec matching a stored payload format, falling
// back to the configured codec.
func codecForFormat(format string, fallback CredentialCodec) CredentialCodec {
	switch strings.TrimSpace(format) {
	case CredentialPayloadFormatRawToken:
		return RawTokenCredentialCodec{}
	case CredentialPayloadFormatJSONV1:
		return JSONCredentialCodec{}
	}
	if fallback != nil {
		return fallback
	}
	return JSONCredentialCodec{}
}
