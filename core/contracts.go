package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

type LinkTokenResult struct {
	LinkToken  string
	Expiration *time.Time
	RequestID  string
}

// TokenProvider mints a short-lived link token for a user.
type TokenProvider interface {
	CreateLinkToken(ctx context.Context, user UserIdentity) (LinkTokenResult, error)
}

type ExchangeRequest struct {
	PublicToken string
	User        UserIdentity
	Metadata    map[string]any
}

type ExchangeReceipt struct {
	ItemID    string
	RequestID string
}

// CredentialExchanger trades a public token for a durable credential and
// persists it. Callers only learn which item was linked.
type CredentialExchanger interface {
	ExchangePublicToken(ctx context.Context, req ExchangeRequest) (ExchangeReceipt, error)
}

type TokenProviderFunc func(ctx context.Context, user UserIdentity) (LinkTokenResult, error)

func (f TokenProviderFunc) CreateLinkToken(ctx context.Context, user UserIdentity) (LinkTokenResult, error) {
	return f(ctx, user)
}

type CredentialExchangerFunc func(ctx context.Context, req ExchangeRequest) (ExchangeReceipt, error)

func (f CredentialExchangerFunc) ExchangePublicToken(ctx context.Context, req ExchangeRequest) (ExchangeReceipt, error) {
	return f(ctx, req)
}

// SuccessMetadata is what the widget reports alongside the public token.
type SuccessMetadata struct {
	InstitutionID   string
	InstitutionName string
	LinkSessionID   string
	Accounts        []LinkedAccount
	Extra           map[string]any
}

type LinkedAccount struct {
	ID      string
	Name    string
	Mask    string
	Type    string
	Subtype string
}

type WidgetConfig struct {
	Token     string
	OnSuccess *SuccessHandler
	OnReady   func()
}

// Widget is the hosted linking UI bound to one link token.
type Widget interface {
	Open() error
	Ready() bool
	Close() error
}

type WidgetFactory interface {
	NewWidget(ctx context.Context, cfg WidgetConfig) (Widget, error)
}

type WidgetFactoryFunc func(ctx context.Context, cfg WidgetConfig) (Widget, error)

func (f WidgetFactoryFunc) NewWidget(ctx context.Context, cfg WidgetConfig) (Widget, error) {
	return f(ctx, cfg)
}

type Navigator interface {
	Navigate(ctx context.Context, route string) error
}

type NavigatorFunc func(ctx context.Context, route string) error

func (f NavigatorFunc) Navigate(ctx context.Context, route string) error {
	return f(ctx, route)
}

type LinkFailureKind string

const (
	LinkFailureTokenAcquisition LinkFailureKind = "token_acquisition_failed"
	LinkFailureExchange         LinkFailureKind = "exchange_failed"
)

type LinkFailure struct {
	Kind      LinkFailureKind
	SessionID string
	User      UserIdentity
	Err       error
	At        time.Time
}

// FailureHook lets the host decide how to surface link failures.
type FailureHook interface {
	OnLinkFailure(ctx context.Context, failure LinkFailure)
}

type FailureHookFunc func(ctx context.Context, failure LinkFailure)

func (f FailureHookFunc) OnLinkFailure(ctx context.Context, failure LinkFailure) {
	f(ctx, failure)
}

type ReplayLedger interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// ReplayReleaser is implemented by ledgers that can drop a claim so a failed
// delivery can be retried.
type ReplayReleaser interface {
	Release(ctx context.Context, key string) error
}

// Aggregator is the account-aggregation provider API used by the backend
// link service.
type Aggregator interface {
	CreateLinkToken(ctx context.Context, req AggregatorLinkTokenRequest) (AggregatorLinkToken, error)
	ExchangePublicToken(ctx context.Context, publicToken string) (AggregatorAccessGrant, error)
	RemoveItem(ctx context.Context, accessToken string) error
}

type AggregatorLinkTokenRequest struct {
	ClientName   string
	Language     string
	CountryCodes []string
	Products     []string
	User         UserIdentity
	WebhookURL   string
	RedirectURI  string
}

type AggregatorLinkToken struct {
	LinkToken  string
	Expiration time.Time
	RequestID  string
}

type AggregatorAccessGrant struct {
	AccessToken string
	ItemID      string
	RequestID   string
}

type SaveItemInput struct {
	UserID              string
	ItemID              string
	InstitutionID       string
	InstitutionName     string
	EncryptedCredential []byte
	PayloadFormat       string
	EncryptionKeyID     string
	LinkedAt            time.Time
}

type ItemStore interface {
	Upsert(ctx context.Context, in SaveItemInput) (LinkedItem, error)
	GetByItemID(ctx context.Context, itemID string) (LinkedItem, error)
	ListByUser(ctx context.Context, userID string) ([]LinkedItem, error)
	UpdateStatus(ctx context.Context, itemID string, status ItemStatus, reason string) error
}

type EventStore interface {
	Append(ctx context.Context, event LinkEvent) error
}

type SecretProvider interface {
	Encrypt(ctx context.Context, plaintext []byte) ([]byte, error)
	Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error)
}

// KeyIdentifier is implemented by secret providers that expose their key id.
type KeyIdentifier interface {
	KeyID() string
}

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger
