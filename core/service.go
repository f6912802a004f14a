package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// Service is the backend half of the link handshake. It mints link tokens
// through the aggregator and exchanges public tokens for durable, encrypted
// item credentials. It implements TokenProvider and CredentialExchanger.
type Service struct {
	config         Config
	telemetry      telemetry
	logger         Logger
	loggerProvider LoggerProvider
	errorFactory   ErrorFactory
	errorMapper    ErrorMapper
	aggregator     Aggregator
	aggregatorName string
	itemStore      ItemStore
	eventStore     EventStore
	secretProvider SecretProvider
	codec          CredentialCodec
	replayLedger   ReplayLedger
	idGenerator    func() string
	now            func() time.Time
}

type ServiceDependencies struct {
	Logger          Logger
	LoggerProvider  LoggerProvider
	MetricsRecorder MetricsRecorder
	ErrorFactory    ErrorFactory
	ErrorMapper     ErrorMapper
	Aggregator      Aggregator
	ItemStore       ItemStore
	EventStore      EventStore
	SecretProvider  SecretProvider
	CredentialCodec CredentialCodec
	ReplayLedger    ReplayLedger
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	b := newBuilder(cfg, opts)
	provider, logger := b.resolveLogger()

	finalConfig, err := b.resolveConfig(context.Background())
	if err != nil {
		return nil, err
	}
	if err := b.resolveStores(); err != nil {
		return nil, err
	}

	switch {
	case b.aggregator == nil:
		return nil, mapBuildError(b.errorMapper, fmt.Errorf("core: aggregator is required"))
	case b.itemStore == nil:
		return nil, mapBuildError(b.errorMapper, fmt.Errorf("core: item store is required"))
	case b.secretProvider == nil:
		return nil, mapBuildError(b.errorMapper, fmt.Errorf("core: secret provider is required"))
	}

	ledger := b.replayLedger
	if ledger == nil {
		ledger = NewMemoryReplayLedger(finalConfig.ReplayTTL)
	}

	return &Service{
		config:         finalConfig,
		telemetry:      newTelemetry(logger, b.metricsRecorder, b.tracer),
		logger:         logger,
		loggerProvider: provider,
		errorFactory:   b.errorFactory,
		errorMapper:    b.errorMapper,
		aggregator:     b.aggregator,
		aggregatorName: b.aggregatorName,
		itemStore:      b.itemStore,
		eventStore:     b.eventStore,
		secretProvider: b.secretProvider,
		codec:          b.credentialCodec,
		replayLedger:   ledger,
		idGenerator:    b.idGenerator,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}, nil
}

func Setup(cfg Config, opts ...Option) (*Service, error) {
	return NewService(cfg, opts...)
}

func (s *Service) Config() Config {
	if s == nil {
		return Config{}
	}
	return s.config
}

func (s *Service) Dependencies() ServiceDependencies {
	if s == nil {
		return ServiceDependencies{}
	}
	return ServiceDependencies{
		Logger:          s.logger,
		LoggerProvider:  s.loggerProvider,
		MetricsRecorder: s.telemetry.metrics,
		ErrorFactory:    s.errorFactory,
		ErrorMapper:     s.errorMapper,
		Aggregator:      s.aggregator,
		ItemStore:       s.itemStore,
		EventStore:      s.eventStore,
		SecretProvider:  s.secretProvider,
		CredentialCodec: s.codec,
		ReplayLedger:    s.replayLedger,
	}
}

func (s *Service) CreateLinkToken(ctx context.Context, user UserIdentity) (result LinkTokenResult, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"user_id": user.ID, "aggregator": s.aggregatorName}
	ctx, span := s.telemetry.startSpan(ctx, "create_link_token", fields)
	defer func() {
		s.telemetry.observeOperation(ctx, span, startedAt, "create_link_token", err, fields)
	}()

	user = user.Normalized()
	if err = user.Validate(); err != nil {
		err = s.mapError(err)
		return LinkTokenResult{}, err
	}

	linkCfg := s.config.LinkToken
	token, err := s.aggregator.CreateLinkToken(ctx, AggregatorLinkTokenRequest{
		ClientName:   linkCfg.ClientName,
		Language:     linkCfg.Language,
		CountryCodes: append([]string(nil), linkCfg.CountryCodes...),
		Products:     append([]string(nil), linkCfg.Products...),
		User:         user,
		WebhookURL:   linkCfg.WebhookURL,
		RedirectURI:  linkCfg.RedirectURI,
	})
	if err != nil {
		err = s.mapError(NewLinkFailureError(LinkFailureTokenAcquisition, err))
		return LinkTokenResult{}, err
	}
	if strings.TrimSpace(token.LinkToken) == "" {
		err = s.mapError(NewLinkFailureError(LinkFailureTokenAcquisition, ErrEmptyLinkToken))
		return LinkTokenResult{}, err
	}
	fields["request_id"] = token.RequestID

	result = LinkTokenResult{
		LinkToken: strings.TrimSpace(token.LinkToken),
		RequestID: token.RequestID,
	}
	if !token.Expiration.IsZero() {
		expiration := token.Expiration.UTC()
		result.Expiration = &expiration
	}

	s.appendEvent(ctx, LinkEvent{
		UserID:    user.ID,
		EventType: LinkEventTokenCreated,
		Status:    "success",
		Metadata:  map[string]any{"request_id": token.RequestID},
	})
	return result, nil
}

func (s *Service) ExchangePublicToken(ctx context.Context, req ExchangeRequest) (receipt ExchangeReceipt, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"user_id": req.User.ID, "aggregator": s.aggregatorName}
	ctx, span := s.telemetry.startSpan(ctx, "exchange_public_token", fields)
	defer func() {
		s.telemetry.observeOperation(ctx, span, startedAt, "exchange_public_token", err, fields)
	}()

	user := req.User.Normalized()
	if err = user.Validate(); err != nil {
		err = s.mapError(err)
		return ExchangeReceipt{}, err
	}
	publicToken := strings.TrimSpace(req.PublicToken)
	if publicToken == "" {
		err = s.mapError(ErrPublicTokenRequired)
		return ExchangeReceipt{}, err
	}

	accepted, err := s.replayLedger.Claim(ctx, PublicTokenReplayKey(publicToken), s.config.ReplayTTL)
	if err != nil {
		err = s.mapError(fmt.Errorf("core: claim public token: %w", err))
		return ExchangeReceipt{}, err
	}
	if !accepted {
		err = s.mapError(ErrPublicTokenAlreadyClaimed)
		return ExchangeReceipt{}, err
	}

	receipt, consumed, err := s.exchange(ctx, user, publicToken, req.Metadata)
	if err != nil {
		if !consumed {
			s.releasePublicToken(ctx, publicToken)
		}
		s.appendEvent(ctx, LinkEvent{
			UserID:    user.ID,
			ItemID:    receipt.ItemID,
			EventType: LinkEventExchangeFailed,
			Status:    "failure",
			Error:     err.Error(),
			Metadata: map[string]any{
				"request_id":          receipt.RequestID,
				"aggregator_accepted": consumed,
			},
		})
		fields["item_id"] = receipt.ItemID
		err = s.mapError(NewLinkFailureError(LinkFailureExchange, err))
		return ExchangeReceipt{}, err
	}
	fields["item_id"] = receipt.ItemID
	fields["request_id"] = receipt.RequestID
	return receipt, nil
}

// exchange reports whether the aggregator consumed the public token. Once it
// has, a failure leaves an orphaned item at the aggregator and the receipt
// still carries its id for reconciliation.
func (s *Service) exchange(ctx context.Context, user UserIdentity, publicToken string, metadata map[string]any) (ExchangeReceipt, bool, error) {
	grant, err := s.aggregator.ExchangePublicToken(ctx, publicToken)
	if err != nil {
		return ExchangeReceipt{}, false, err
	}
	itemID := strings.TrimSpace(grant.ItemID)
	pending := ExchangeReceipt{ItemID: itemID, RequestID: grant.RequestID}
	if itemID == "" || strings.TrimSpace(grant.AccessToken) == "" {
		return pending, true, fmt.Errorf("core: aggregator returned an incomplete access grant")
	}

	now := s.now()
	payload, err := s.codec.Encode(ItemCredential{
		ItemID:      itemID,
		AccessToken: grant.AccessToken,
		Aggregator:  s.aggregatorName,
		ObtainedAt:  now,
	})
	if err != nil {
		return pending, true, err
	}
	encrypted, err := s.secretProvider.Encrypt(ctx, payload)
	if err != nil {
		return pending, true, fmt.Errorf("core: encrypt item credential: %w", err)
	}

	item, err := s.itemStore.Upsert(ctx, SaveItemInput{
		UserID:              user.ID,
		ItemID:              itemID,
		InstitutionID:       metadataString(metadata, "institution_id"),
		InstitutionName:     metadataString(metadata, "institution_name"),
		EncryptedCredential: encrypted,
		PayloadFormat:       s.codec.Format(),
		EncryptionKeyID:     s.keyID(),
		LinkedAt:            now,
	})
	if err != nil {
		return pending, true, fmt.Errorf("core: store item %s: %w", itemID, err)
	}

	s.appendEvent(ctx, LinkEvent{
		UserID:    user.ID,
		ItemID:    item.ItemID,
		EventType: LinkEventTokenExchanged,
		Status:    "success",
		Metadata: map[string]any{
			"request_id":     grant.RequestID,
			"institution_id": item.InstitutionID,
		},
	})
	return ExchangeReceipt{ItemID: item.ItemID, RequestID: grant.RequestID}, true, nil
}

func (s *Service) releasePublicToken(ctx context.Context, publicToken string) {
	releaser, ok := s.replayLedger.(ReplayReleaser)
	if !ok {
		return
	}
	if err := releaser.Release(ctx, PublicTokenReplayKey(publicToken)); err != nil {
		s.telemetry.logWarn(ctx, "public token release failed", map[string]any{
			"aggregator": s.aggregatorName,
			"error":      err.Error(),
		})
	}
}

// ListItems returns the linked items of a user without credential material.
func (s *Service) ListItems(ctx context.Context, userID string) (items []LinkedItem, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"user_id": userID}
	ctx, span := s.telemetry.startSpan(ctx, "list_items", fields)
	defer func() {
		s.telemetry.observeOperation(ctx, span, startedAt, "list_items", err, fields)
	}()

	userID = strings.TrimSpace(userID)
	if userID == "" {
		err = s.mapError(fmt.Errorf("%w: id is required", ErrInvalidUserIdentity))
		return nil, err
	}
	items, err = s.itemStore.ListByUser(ctx, userID)
	if err != nil {
		err = s.mapError(err)
		return nil, err
	}
	for i := range items {
		items[i] = withoutCredential(items[i])
	}
	fields["count"] = len(items)
	return items, nil
}

func (s *Service) GetItem(ctx context.Context, itemID string) (LinkedItem, error) {
	itemID = strings.TrimSpace(itemID)
	if itemID == "" {
		return LinkedItem{}, s.mapError(fmt.Errorf("core: item id is required"))
	}
	item, err := s.itemStore.GetByItemID(ctx, itemID)
	if err != nil {
		return LinkedItem{}, s.mapError(err)
	}
	return withoutCredential(item), nil
}

// RevokeItem removes the item at the aggregator and marks it revoked.
func (s *Service) RevokeItem(ctx context.Context, itemID string, reason string) (err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"item_id": itemID, "aggregator": s.aggregatorName}
	ctx, span := s.telemetry.startSpan(ctx, "revoke_item", fields)
	defer func() {
		s.telemetry.observeOperation(ctx, span, startedAt, "revoke_item", err, fields)
	}()

	itemID = strings.TrimSpace(itemID)
	if itemID == "" {
		err = s.mapError(fmt.Errorf("core: item id is required"))
		return err
	}
	item, err := s.itemStore.GetByItemID(ctx, itemID)
	if err != nil {
		err = s.mapError(err)
		return err
	}
	fields["user_id"] = item.UserID
	if item.Status == ItemStatusRevoked {
		return nil
	}
	if err = item.TransitionTo(ItemStatusRevoked, reason, s.now()); err != nil {
		err = s.mapError(err)
		return err
	}

	credential, err := s.decryptCredential(ctx, item)
	if err != nil {
		err = s.mapError(err)
		return err
	}
	if err = s.aggregator.RemoveItem(ctx, credential.AccessToken); err != nil {
		err = s.mapError(err)
		return err
	}
	if err = s.itemStore.UpdateStatus(ctx, itemID, ItemStatusRevoked, reason); err != nil {
		err = s.mapError(err)
		return err
	}

	s.appendEvent(ctx, LinkEvent{
		UserID:    item.UserID,
		ItemID:    itemID,
		EventType: LinkEventItemRevoked,
		Status:    "success",
		Metadata:  map[string]any{"reason": strings.TrimSpace(reason)},
	})
	return nil
}

// ApplyItemStatus records a status change the aggregator reported for an
// item, typically from a webhook. Unlike RevokeItem it never calls the
// aggregator. Repeating the current status is a no-op.
func (s *Service) ApplyItemStatus(ctx context.Context, itemID string, status ItemStatus, reason string) (err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"item_id": itemID, "status": string(status), "aggregator": s.aggregatorName}
	ctx, span := s.telemetry.startSpan(ctx, "apply_item_status", fields)
	defer func() {
		s.telemetry.observeOperation(ctx, span, startedAt, "apply_item_status", err, fields)
	}()

	itemID = strings.TrimSpace(itemID)
	if itemID == "" {
		err = s.mapError(fmt.Errorf("core: item id is required"))
		return err
	}
	item, err := s.itemStore.GetByItemID(ctx, itemID)
	if err != nil {
		err = s.mapError(err)
		return err
	}
	fields["user_id"] = item.UserID
	previous := item.Status
	if previous == status {
		return nil
	}
	if err = item.TransitionTo(status, reason, s.now()); err != nil {
		err = s.mapError(err)
		return err
	}
	if err = s.itemStore.UpdateStatus(ctx, itemID, status, reason); err != nil {
		err = s.mapError(err)
		return err
	}

	s.appendEvent(ctx, LinkEvent{
		UserID:    item.UserID,
		ItemID:    itemID,
		EventType: LinkEventItemStatus,
		Status:    string(status),
		Error:     item.LastError,
		Metadata: map[string]any{
			"previous_status": string(previous),
			"reason":          strings.TrimSpace(reason),
		},
	})
	return nil
}

func (s *Service) decryptCredential(ctx context.Context, item LinkedItem) (ItemCredential, error) {
	if len(item.EncryptedCredential) == 0 {
		return ItemCredential{}, fmt.Errorf("core: item %s has no stored credential", item.ItemID)
	}
	plaintext, err := s.secretProvider.Decrypt(ctx, item.EncryptedCredential)
	if err != nil {
		return ItemCredential{}, fmt.Errorf("core: decrypt item credential: %w", err)
	}
	return codecForFormat(item.PayloadFormat, s.codec).Decode(plaintext)
}

func (s *Service) appendEvent(ctx context.Context, event LinkEvent) {
	if s.eventStore == nil {
		return
	}
	if event.ID == "" {
		event.ID = s.idGenerator()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = s.now()
	}
	event.Metadata = RedactSensitiveMap(event.Metadata)
	if err := s.eventStore.Append(ctx, event); err != nil {
		s.telemetry.logWarn(ctx, "link event append failed", map[string]any{
			"event_type": string(event.EventType),
			"user_id":    event.UserID,
			"error":      err.Error(),
		})
	}
}

func (s *Service) keyID() string {
	if identified, ok := s.secretProvider.(KeyIdentifier); ok {
		return strings.TrimSpace(identified.KeyID())
	}
	return ""
}

func (s *Service) mapError(err error) error {
	if err == nil {
		return nil
	}
	var rich *goerrors.Error
	if goerrors.As(err, &rich) {
		return err
	}
	return mapBuildError(s.errorMapper, err)
}

func withoutCredential(item LinkedItem) LinkedItem {
	item.EncryptedCredential = nil
	return item
}

func metadataString(metadata map[string]any, key string) string {
	if len(metadata) == 0 {
		return ""
	}
	value, ok := metadata[key]
	if !ok || value == nil {
		return ""
	}
	return strings.TrimSpace(fmt.Sprint(value))
}
