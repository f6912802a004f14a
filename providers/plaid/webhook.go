package plaid

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-banklink/core"
	"github.com/goliatone/go-banklink/webhooks"
)

const (
	VerificationHeader     = "Plaid-Verification"
	defaultWebhookMaxAge   = 5 * time.Minute
	webhookSigningMethod   = "ES256"
	webhookTypeItem        = "ITEM"
	webhookCodeError       = "ERROR"
	webhookCodeRepaired    = "LOGIN_REPAIRED"
	webhookCodePermRevoked = "USER_PERMISSION_REVOKED"
	webhookCodeAcctRevoked = "USER_ACCOUNT_REVOKED"
)

var ErrWebhookVerification = errors.New("providers/plaid: webhook verification failed")

type webhookClaims struct {
	jwt.RegisteredClaims
	RequestBodySHA256 string `json:"request_body_sha256"`
}

type verificationKeyRequest struct {
	ClientID string `json:"client_id"`
	Secret   string `json:"secret"`
	KeyID    string `json:"key_id"`
}

type verificationKeyResponse struct {
	Key       verificationKey `json:"key"`
	RequestID string          `json:"request_id"`
}

type verificationKey struct {
	Alg       string `json:"alg"`
	Crv       string `json:"crv"`
	Kid       string `json:"kid"`
	Kty       string `json:"kty"`
	Use       string `json:"use"`
	X         string `json:"x"`
	Y         string `json:"y"`
	CreatedAt int64  `json:"created_at"`
	ExpiredAt *int64 `json:"expired_at"`
}

// WebhookVerifier checks the Plaid-Verification JWT of a webhook delivery:
// an ES256 signature by a Plaid published key, a fresh iat and a body digest
// matching the request_body_sha256 claim. Keys are cached by key id.
type WebhookVerifier struct {
	client *Client
	MaxAge time.Duration
	Now    func() time.Time

	mu   sync.Mutex
	keys map[string]*ecdsa.PublicKey
}

func (c *Client) WebhookVerifier() *WebhookVerifier {
	return &WebhookVerifier{
		client: c,
		MaxAge: defaultWebhookMaxAge,
		Now:    func() time.Time { return time.Now().UTC() },
		keys:   map[string]*ecdsa.PublicKey{},
	}
}

func (v *WebhookVerifier) Verify(ctx context.Context, req webhooks.Request) error {
	token := ""
	for name, value := range req.Headers {
		if strings.EqualFold(strings.TrimSpace(name), VerificationHeader) {
			token = strings.TrimSpace(value)
		}
	}
	if token == "" {
		return fmt.Errorf("%w: %s header is required", ErrWebhookVerification, VerificationHeader)
	}

	var claims webhookClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(parsed *jwt.Token) (any, error) {
		kid, _ := parsed.Header["kid"].(string)
		return v.key(ctx, strings.TrimSpace(kid))
	},
		jwt.WithValidMethods([]string{webhookSigningMethod}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrWebhookVerification, err)
	}

	if claims.IssuedAt == nil {
		return fmt.Errorf("%w: iat claim is required", ErrWebhookVerification)
	}
	if v.now().Sub(claims.IssuedAt.Time) > v.maxAge() {
		return fmt.Errorf("%w: token issued at %s is too old", ErrWebhookVerification, claims.IssuedAt.Time.UTC().Format(time.RFC3339))
	}

	sum := sha256.Sum256(req.Body)
	digest := hex.EncodeToString(sum[:])
	if subtle.ConstantTimeCompare([]byte(digest), []byte(strings.ToLower(claims.RequestBodySHA256))) != 1 {
		return fmt.Errorf("%w: body digest mismatch", ErrWebhookVerification)
	}
	return nil
}

func (v *WebhookVerifier) key(ctx context.Context, kid string) (*ecdsa.PublicKey, error) {
	if kid == "" {
		return nil, fmt.Errorf("providers/plaid: jwt kid header is required")
	}
	v.mu.Lock()
	cached, ok := v.keys[kid]
	v.mu.Unlock()
	if ok {
		return cached, nil
	}

	out := verificationKeyResponse{}
	err := v.client.post(ctx, "webhook_verification_key_get", "/webhook_verification_key/get", verificationKeyRequest{
		ClientID: v.client.config.ClientID,
		Secret:   v.client.config.Secret,
		KeyID:    kid,
	}, &out)
	if err != nil {
		return nil, err
	}
	if out.Key.ExpiredAt != nil {
		return nil, fmt.Errorf("providers/plaid: verification key %s has expired", kid)
	}
	key, err := out.Key.publicKey()
	if err != nil {
		return nil, err
	}

	v.mu.Lock()
	v.keys[kid] = key
	v.mu.Unlock()
	return key, nil
}

func (k verificationKey) publicKey() (*ecdsa.PublicKey, error) {
	if k.Kty != "EC" || k.Crv != "P-256" {
		return nil, fmt.Errorf("providers/plaid: unsupported verification key %s/%s", k.Kty, k.Crv)
	}
	x, err := base64.RawURLEncoding.DecodeString(k.X)
	if err != nil {
		return nil, fmt.Errorf("providers/plaid: decode key x: %w", err)
	}
	y, err := base64.RawURLEncoding.DecodeString(k.Y)
	if err != nil {
		return nil, fmt.Errorf("providers/plaid: decode key y: %w", err)
	}
	return &ecdsa.PublicKey{
		Curve: elliptic.P256(),
		X:     new(big.Int).SetBytes(x),
		Y:     new(big.Int).SetBytes(y),
	}, nil
}

func (v *WebhookVerifier) now() time.Time {
	if v.Now != nil {
		return v.Now().UTC()
	}
	return time.Now().UTC()
}

func (v *WebhookVerifier) maxAge() time.Duration {
	if v.MaxAge > 0 {
		return v.MaxAge
	}
	return defaultWebhookMaxAge
}

type webhookPayload struct {
	WebhookType string    `json:"webhook_type"`
	WebhookCode string    `json:"webhook_code"`
	ItemID      string    `json:"item_id"`
	Error       *APIError `json:"error"`
	Environment string    `json:"environment"`
}

// DecodeWebhook maps a Plaid webhook body onto a notification. Only ITEM
// webhooks that change the item's usability carry a status.
func DecodeWebhook(body []byte) (webhooks.Notification, error) {
	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return webhooks.Notification{}, fmt.Errorf("providers/plaid: invalid webhook json: %w", err)
	}
	notification := webhooks.Notification{
		Type:   strings.ToUpper(strings.TrimSpace(payload.WebhookType)),
		Code:   strings.ToUpper(strings.TrimSpace(payload.WebhookCode)),
		ItemID: strings.TrimSpace(payload.ItemID),
	}
	if notification.Type == "" || notification.Code == "" {
		return webhooks.Notification{}, fmt.Errorf("providers/plaid: webhook_type and webhook_code are required")
	}
	if notification.Type != webhookTypeItem {
		return notification, nil
	}

	switch notification.Code {
	case webhookCodeError:
		notification.Status = core.ItemStatusErrored
		notification.Reason = "ITEM_ERROR"
		if payload.Error != nil && strings.TrimSpace(payload.Error.ErrorCode) != "" {
			notification.Reason = strings.TrimSpace(payload.Error.ErrorCode)
		}
	case webhookCodeRepaired:
		notification.Status = core.ItemStatusActive
	case webhookCodePermRevoked, webhookCodeAcctRevoked:
		notification.Status = core.ItemStatusRevoked
		notification.Reason = notification.Code
	}
	return notification, nil
}
