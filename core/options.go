package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-config/cfgx"
	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	opts "github.com/goliatone/go-options"
	"go.opentelemetry.io/otel/trace"
)

const loggerName = "banklink"

type ErrorFactory func(message string, category ...goerrors.Category) *goerrors.Error

type ErrorMapper func(err error) *goerrors.Error

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

// StoreProvider exposes the persistence stores used by the backend service.
type StoreProvider interface {
	ItemStore() ItemStore
	EventStore() EventStore
}

// RepositoryStoreFactory builds stores from a persistence client.
type RepositoryStoreFactory interface {
	BuildStores(persistenceClient any) (StoreProvider, error)
}

// builder collects options shared by NewOrchestrator and NewService. Each
// constructor reads only the collaborators it needs.
type builder struct {
	runtimeConfig       Config
	logger              Logger
	loggerProvider      LoggerProvider
	metricsRecorder     MetricsRecorder
	tracer              trace.Tracer
	errorFactory        ErrorFactory
	errorMapper         ErrorMapper
	configProvider      ConfigProvider
	optionsResolver     OptionsResolver
	tokenProvider       TokenProvider
	credentialExchanger CredentialExchanger
	widgetFactory       WidgetFactory
	navigator           Navigator
	failureHook         FailureHook
	replayLedger        ReplayLedger
	aggregator          Aggregator
	aggregatorName      string
	itemStore           ItemStore
	eventStore          EventStore
	secretProvider      SecretProvider
	credentialCodec     CredentialCodec
	persistenceClient   any
	repositoryFactory   any
	idGenerator         func() string
}

type Option func(*builder)

func WithLogger(logger Logger) Option {
	return func(b *builder) {
		b.logger = logger
	}
}

func WithLoggerProvider(provider LoggerProvider) Option {
	return func(b *builder) {
		b.loggerProvider = provider
	}
}

func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(b *builder) {
		b.metricsRecorder = recorder
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(b *builder) {
		b.tracer = tracer
	}
}

func WithErrorFactory(factory ErrorFactory) Option {
	return func(b *builder) {
		b.errorFactory = factory
	}
}

func WithErrorMapper(mapper ErrorMapper) Option {
	return func(b *builder) {
		b.errorMapper = mapper
	}
}

func WithConfigProvider(provider ConfigProvider) Option {
	return func(b *builder) {
		b.configProvider = provider
	}
}

func WithOptionsResolver(resolver OptionsResolver) Option {
	return func(b *builder) {
		b.optionsResolver = resolver
	}
}

func WithTokenProvider(provider TokenProvider) Option {
	return func(b *builder) {
		b.tokenProvider = provider
	}
}

func WithCredentialExchanger(exchanger CredentialExchanger) Option {
	return func(b *builder) {
		b.credentialExchanger = exchanger
	}
}

func WithWidgetFactory(factory WidgetFactory) Option {
	return func(b *builder) {
		b.widgetFactory = factory
	}
}

func WithNavigator(navigator Navigator) Option {
	return func(b *builder) {
		b.navigator = navigator
	}
}

func WithFailureHook(hook FailureHook) Option {
	return func(b *builder) {
		b.failureHook = hook
	}
}

func WithReplayLedger(ledger ReplayLedger) Option {
	return func(b *builder) {
		b.replayLedger = ledger
	}
}

// WithAggregator sets the account aggregation provider. name is used as a
// metrics tag and may be empty.
func WithAggregator(aggregator Aggregator, name string) Option {
	return func(b *builder) {
		b.aggregator = aggregator
		b.aggregatorName = strings.TrimSpace(name)
	}
}

func WithItemStore(store ItemStore) Option {
	return func(b *builder) {
		b.itemStore = store
	}
}

func WithEventStore(store EventStore) Option {
	return func(b *builder) {
		b.eventStore = store
	}
}

func WithSecretProvider(provider SecretProvider) Option {
	return func(b *builder) {
		b.secretProvider = provider
	}
}

func WithCredentialCodec(codec CredentialCodec) Option {
	return func(b *builder) {
		b.credentialCodec = codec
	}
}

func WithPersistenceClient(client any) Option {
	return func(b *builder) {
		b.persistenceClient = client
	}
}

func WithRepositoryFactory(factory any) Option {
	return func(b *builder) {
		b.repositoryFactory = factory
	}
}

func WithIDGenerator(generate func() string) Option {
	return func(b *builder) {
		b.idGenerator = generate
	}
}

func newBuilder(runtime Config, options []Option) builder {
	b := builder{
		runtimeConfig:   runtime,
		metricsRecorder: NopMetricsRecorder{},
		errorFactory:    goerrors.New,
		errorMapper:     defaultErrorMapper,
		configProvider:  NewCfgxConfigProvider(nil),
		optionsResolver: GoOptionsResolver{},
		credentialCodec: JSONCredentialCodec{},
	}
	for _, opt := range options {
		if opt == nil {
			continue
		}
		opt(&b)
	}
	if b.errorFactory == nil {
		b.errorFactory = goerrors.New
	}
	if b.errorMapper == nil {
		b.errorMapper = defaultErrorMapper
	}
	if b.metricsRecorder == nil {
		b.metricsRecorder = NopMetricsRecorder{}
	}
	if b.configProvider == nil {
		b.configProvider = NewCfgxConfigProvider(nil)
	}
	if b.optionsResolver == nil {
		b.optionsResolver = GoOptionsResolver{}
	}
	if b.credentialCodec == nil {
		b.credentialCodec = JSONCredentialCodec{}
	}
	if b.idGenerator == nil {
		b.idGenerator = newID
	}
	return b
}

func (b builder) resolveLogger() (LoggerProvider, Logger) {
	provider, logger := glog.Resolve(loggerName, b.loggerProvider, b.logger)
	logger = glog.Ensure(logger)
	if provider != nil {
		if named := provider.GetLogger(loggerName); named != nil {
			logger = glog.Ensure(named)
		}
	}
	return provider, logger
}

func (b builder) resolveConfig(ctx context.Context) (Config, error) {
	defaults := DefaultConfig()
	loaded, err := b.configProvider.Load(ctx, defaults)
	if err != nil {
		return Config{}, mapBuildError(b.errorMapper, err)
	}
	final, err := b.optionsResolver.Resolve(defaults, loaded, b.runtimeConfig)
	if err != nil {
		return Config{}, mapBuildError(b.errorMapper, err)
	}
	return final, nil
}

func (b *builder) resolveStores() error {
	if b.repositoryFactory == nil || (b.itemStore != nil && b.eventStore != nil) {
		return nil
	}
	var provider StoreProvider
	switch factory := b.repositoryFactory.(type) {
	case RepositoryStoreFactory:
		built, err := factory.BuildStores(b.persistenceClient)
		if err != nil {
			return mapBuildError(b.errorMapper, err)
		}
		provider = built
	case StoreProvider:
		provider = factory
	}
	if provider == nil {
		return nil
	}
	if b.itemStore == nil {
		b.itemStore = provider.ItemStore()
	}
	if b.eventStore == nil {
		b.eventStore = provider.EventStore()
	}
	return nil
}

func defaultErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}
	return linkErrorMapper(err)
}

func mapBuildError(mapper ErrorMapper, err error) error {
	if err == nil {
		return nil
	}
	if mapper == nil {
		return err
	}
	mapped := mapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}

type staticRawConfigLoader struct {
	Values map[string]any
}

func (l staticRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.Values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.Values))
	for key, value := range l.Values {
		out[key] = value
	}
	return out, nil
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = staticRawConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	raw, err = normalizeDurations(raw)
	if err != nil {
		return Config{}, err
	}
	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// GoOptionsResolver merges defaults, loaded config and runtime overrides, in
// that order of precedence.
type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			configToLayerMap(defaults, true),
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			configToLayerMap(loaded, false),
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			configToLayerMap(runtime, false),
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	if err := resolved.Validate(); err != nil {
		return Config{}, err
	}
	return resolved, nil
}

func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	layer := map[string]any{}
	setString := func(key, value string) {
		if includeZero || strings.TrimSpace(value) != "" {
			layer[key] = value
		}
	}
	setString("service_name", cfg.ServiceName)
	setString("default_route", cfg.DefaultRoute)
	if includeZero || cfg.TokenTimeout > 0 {
		layer["token_timeout"] = cfg.TokenTimeout
	}
	if includeZero || cfg.ExchangeTimeout > 0 {
		layer["exchange_timeout"] = cfg.ExchangeTimeout
	}
	if includeZero || cfg.ReplayTTL > 0 {
		layer["replay_ttl"] = cfg.ReplayTTL
	}

	linkToken := map[string]any{}
	setLinkString := func(key, value string) {
		if includeZero || strings.TrimSpace(value) != "" {
			linkToken[key] = value
		}
	}
	setLinkString("client_name", cfg.LinkToken.ClientName)
	setLinkString("language", cfg.LinkToken.Language)
	setLinkString("webhook_url", cfg.LinkToken.WebhookURL)
	setLinkString("redirect_uri", cfg.LinkToken.RedirectURI)
	if includeZero || len(cfg.LinkToken.CountryCodes) > 0 {
		linkToken["country_codes"] = append([]string(nil), cfg.LinkToken.CountryCodes...)
	}
	if includeZero || len(cfg.LinkToken.Products) > 0 {
		linkToken["products"] = append([]string(nil), cfg.LinkToken.Products...)
	}
	if len(linkToken) > 0 {
		layer["link_token"] = linkToken
	}
	return layer
}
