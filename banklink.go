package banklink

import "github.com/goliatone/go-banklink/core"

type Config = core.Config

type LinkTokenConfig = core.LinkTokenConfig

type Option = core.Option

type Service = core.Service

type ServiceDependencies = core.ServiceDependencies

type Orchestrator = core.Orchestrator
type Session = core.Session
type Snapshot = core.Snapshot
type LinkState = core.LinkState
type UserIdentity = core.UserIdentity
type SuccessMetadata = core.SuccessMetadata
type LinkedItem = core.LinkedItem
type LinkEvent = core.LinkEvent

type TokenProvider = core.TokenProvider
type CredentialExchanger = core.CredentialExchanger
type WidgetFactory = core.WidgetFactory
type Navigator = core.Navigator
type FailureHook = core.FailureHook
type Aggregator = core.Aggregator
type ItemStore = core.ItemStore
type EventStore = core.EventStore
type SecretProvider = core.SecretProvider
type ReplayLedger = core.ReplayLedger

type ExchangeRequest = core.ExchangeRequest

var (
	WithLogger              = core.WithLogger
	WithLoggerProvider      = core.WithLoggerProvider
	WithMetricsRecorder     = core.WithMetricsRecorder
	WithTracer              = core.WithTracer
	WithErrorFactory        = core.WithErrorFactory
	WithErrorMapper         = core.WithErrorMapper
	WithConfigProvider      = core.WithConfigProvider
	WithOptionsResolver     = core.WithOptionsResolver
	WithTokenProvider       = core.WithTokenProvider
	WithCredentialExchanger = core.WithCredentialExchanger
	WithWidgetFactory       = core.WithWidgetFactory
	WithNavigator           = core.WithNavigator
	WithFailureHook         = core.WithFailureHook
	WithReplayLedger        = core.WithReplayLedger
	WithAggregator          = core.WithAggregator
	WithItemStore           = core.WithItemStore
	WithEventStore          = core.WithEventStore
	WithSecretProvider      = core.WithSecretProvider
	WithCredentialCodec     = core.WithCredentialCodec
	WithPersistenceClient   = core.WithPersistenceClient
	WithRepositoryFactory   = core.WithRepositoryFactory
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	return core.NewService(cfg, opts...)
}

func Setup(cfg Config, opts ...Option) (*Service, error) {
	return core.Setup(cfg, opts...)
}

func NewOrchestrator(cfg Config, opts ...Option) (*Orchestrator, error) {
	return core.NewOrchestrator(cfg, opts...)
}
