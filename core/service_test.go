package core

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	goerrors "github.com/goliatone/go-errors"
)

func TestService_CreateLinkTokenUsesConfiguredRequest(t *testing.T) {
	aggregator := &fakeAggregator{linkToken: "link-sandbox-1"}
	svc, _, events := newTestService(t, aggregator)

	result, err := svc.CreateLinkToken(context.Background(), UserIdentity{
		ID:        " u1 ",
		Email:     "u1@example.com",
		FirstName: "Ada",
		LastName:  "Lovelace",
	})
	if err != nil {
		t.Fatalf("create link token: %v", err)
	}
	if result.LinkToken != "link-sandbox-1" || result.RequestID != "agg-req-1" {
		t.Fatalf("unexpected link token result %#v", result)
	}
	if result.Expiration == nil {
		t.Fatalf("expected expiration to be set")
	}
	if len(aggregator.tokenRequests) != 1 {
		t.Fatalf("expected one aggregator call, got %d", len(aggregator.tokenRequests))
	}
	req := aggregator.tokenRequests[0]
	if req.User.ID != "u1" || req.ClientName != "banklink" || req.Language != "en" {
		t.Fatalf("unexpected aggregator request %#v", req)
	}
	if len(req.Products) != 1 || req.Products[0] != "auth" || len(req.CountryCodes) != 1 {
		t.Fatalf("expected configured products and country codes, got %#v", req)
	}
	if len(events.byType(LinkEventTokenCreated)) != 1 {
		t.Fatalf("expected link_token.created event")
	}
}

func TestService_CreateLinkTokenFailures(t *testing.T) {
	cases := []struct {
		name     string
		user     UserIdentity
		agg      *fakeAggregator
		textCode string
		status   int
	}{
		{
			name:     "missing user id",
			user:     UserIdentity{},
			agg:      &fakeAggregator{linkToken: "link"},
			textCode: LinkErrorBadInput,
			status:   http.StatusBadRequest,
		},
		{
			name:     "empty token",
			user:     UserIdentity{ID: "u1"},
			agg:      &fakeAggregator{linkToken: ""},
			textCode: LinkErrorTokenAcquisitionFailed,
			status:   http.StatusBadGateway,
		},
		{
			name:     "aggregator error",
			user:     UserIdentity{ID: "u1"},
			agg:      &fakeAggregator{tokenErr: errors.New("INVALID_API_KEYS")},
			textCode: LinkErrorTokenAcquisitionFailed,
			status:   http.StatusBadGateway,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc, _, _ := newTestService(t, tc.agg)
			_, err := svc.CreateLinkToken(context.Background(), tc.user)
			var rich *goerrors.Error
			if !errors.As(err, &rich) {
				t.Fatalf("expected rich error, got %#v", err)
			}
			if rich.TextCode != tc.textCode || rich.Code != tc.status {
				t.Fatalf("expected %s/%d, got %s/%d", tc.textCode, tc.status, rich.TextCode, rich.Code)
			}
		})
	}
}

func TestService_ExchangePublicTokenPersistsEncryptedCredential(t *testing.T) {
	aggregator := &fakeAggregator{grant: AggregatorAccessGrant{
		AccessToken: "access-sandbox-1",
		ItemID:      "item_1",
		RequestID:   "agg-req-2",
	}}
	svc, items, events := newTestService(t, aggregator)

	receipt, err := svc.ExchangePublicToken(context.Background(), ExchangeRequest{
		PublicToken: "public-xyz",
		User:        UserIdentity{ID: "u1"},
		Metadata:    map[string]any{"institution_id": "ins_1", "institution_name": "First Bank"},
	})
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}
	if receipt.ItemID != "item_1" || receipt.RequestID != "agg-req-2" {
		t.Fatalf("unexpected receipt %#v", receipt)
	}
	if len(aggregator.exchanged) != 1 || aggregator.exchanged[0] != "public-xyz" {
		t.Fatalf("expected aggregator exchange with public token, got %#v", aggregator.exchanged)
	}

	stored, err := items.GetByItemID(context.Background(), "item_1")
	if err != nil {
		t.Fatalf("get stored item: %v", err)
	}
	if stored.UserID != "u1" || stored.Status != ItemStatusActive || stored.InstitutionName != "First Bank" {
		t.Fatalf("unexpected stored item %#v", stored)
	}
	if strings.Contains(string(stored.EncryptedCredential), "access-sandbox-1") {
		t.Fatalf("expected credential to be encrypted at rest")
	}
	if stored.PayloadFormat != CredentialPayloadFormatJSONV1 || stored.EncryptionKeyID != "test-key" {
		t.Fatalf("unexpected payload metadata %#v", stored)
	}
	plaintext, err := testSecretProvider{}.Decrypt(context.Background(), stored.EncryptedCredential)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	credential, err := JSONCredentialCodec{}.Decode(plaintext)
	if err != nil {
		t.Fatalf("decode credential: %v", err)
	}
	if credential.AccessToken != "access-sandbox-1" || credential.ItemID != "item_1" {
		t.Fatalf("unexpected credential %#v", credential)
	}
	if len(events.byType(LinkEventTokenExchanged)) != 1 {
		t.Fatalf("expected public_token.exchanged event")
	}
}

func TestService_ExchangePublicTokenRejectsReuse(t *testing.T) {
	aggregator := &fakeAggregator{grant: AggregatorAccessGrant{AccessToken: "access-1", ItemID: "item_1"}}
	svc, _, _ := newTestService(t, aggregator)
	req := ExchangeRequest{PublicToken: "public-xyz", User: UserIdentity{ID: "u1"}}

	if _, err := svc.ExchangePublicToken(context.Background(), req); err != nil {
		t.Fatalf("first exchange: %v", err)
	}
	_, err := svc.ExchangePublicToken(context.Background(), req)
	var rich *goerrors.Error
	if !errors.As(err, &rich) || rich.TextCode != LinkErrorPublicTokenReused || rich.Code != http.StatusConflict {
		t.Fatalf("expected %s conflict, got %#v", LinkErrorPublicTokenReused, err)
	}
	if len(aggregator.exchanged) != 1 {
		t.Fatalf("expected a single aggregator exchange, got %d", len(aggregator.exchanged))
	}
}

func TestService_ExchangePublicTokenRetriesAfterAggregatorFailure(t *testing.T) {
	aggregator := &fakeAggregator{exchangeErr: errors.New("connection reset")}
	svc, items, events := newTestService(t, aggregator)
	req := ExchangeRequest{PublicToken: "public-xyz", User: UserIdentity{ID: "u1"}}

	_, err := svc.ExchangePublicToken(context.Background(), req)
	var rich *goerrors.Error
	if !errors.As(err, &rich) || rich.TextCode != LinkErrorExchangeFailed {
		t.Fatalf("expected %s, got %#v", LinkErrorExchangeFailed, err)
	}

	aggregator.mu.Lock()
	aggregator.exchangeErr = nil
	aggregator.grant = AggregatorAccessGrant{AccessToken: "access-1", ItemID: "item_1"}
	aggregator.mu.Unlock()

	receipt, err := svc.ExchangePublicToken(context.Background(), req)
	if err != nil {
		t.Fatalf("expected retry after recovery to succeed, got %v", err)
	}
	if receipt.ItemID != "item_1" {
		t.Fatalf("unexpected receipt %#v", receipt)
	}
	if len(aggregator.exchanged) != 2 {
		t.Fatalf("expected two aggregator exchanges, got %d", len(aggregator.exchanged))
	}
	if _, err := items.GetByItemID(context.Background(), "item_1"); err != nil {
		t.Fatalf("expected stored item after retry: %v", err)
	}
	failed := events.byType(LinkEventExchangeFailed)
	if len(failed) != 1 || failed[0].Metadata["aggregator_accepted"] != false {
		t.Fatalf("expected one exchange_failed event before the aggregator accepted, got %#v", failed)
	}

	_, err = svc.ExchangePublicToken(context.Background(), req)
	if !errors.As(err, &rich) || rich.TextCode != LinkErrorPublicTokenReused {
		t.Fatalf("expected %s after a successful exchange, got %#v", LinkErrorPublicTokenReused, err)
	}
}

func TestService_ExchangePublicTokenKeepsClaimOnceAggregatorAccepted(t *testing.T) {
	aggregator := &fakeAggregator{grant: AggregatorAccessGrant{AccessToken: "access-1", ItemID: "item_9", RequestID: "req-9"}}
	svc, items, events := newTestService(t, aggregator)
	items.err = errors.New("item store unavailable")
	req := ExchangeRequest{PublicToken: "public-xyz", User: UserIdentity{ID: "u1"}}

	if _, err := svc.ExchangePublicToken(context.Background(), req); err == nil {
		t.Fatalf("expected store failure to fail the exchange")
	}
	failed := events.byType(LinkEventExchangeFailed)
	if len(failed) != 1 {
		t.Fatalf("expected exchange_failed event, got %d", len(failed))
	}
	if failed[0].ItemID != "item_9" || failed[0].Metadata["request_id"] != "req-9" || failed[0].Metadata["aggregator_accepted"] != true {
		t.Fatalf("expected orphaned item to be traceable, got %#v", failed[0])
	}

	items.err = nil
	_, err := svc.ExchangePublicToken(context.Background(), req)
	var rich *goerrors.Error
	if !errors.As(err, &rich) || rich.TextCode != LinkErrorPublicTokenReused {
		t.Fatalf("expected consumed token to stay claimed, got %#v", err)
	}
	if len(aggregator.exchanged) != 1 {
		t.Fatalf("expected a single aggregator exchange, got %d", len(aggregator.exchanged))
	}
}

func TestService_ExchangePublicTokenFailures(t *testing.T) {
	t.Run("missing public token", func(t *testing.T) {
		svc, _, _ := newTestService(t, &fakeAggregator{})
		_, err := svc.ExchangePublicToken(context.Background(), ExchangeRequest{User: UserIdentity{ID: "u1"}})
		if !errors.Is(err, ErrPublicTokenRequired) {
			t.Fatalf("expected ErrPublicTokenRequired, got %v", err)
		}
	})

	t.Run("aggregator failure records event", func(t *testing.T) {
		aggregator := &fakeAggregator{exchangeErr: errors.New("INVALID_PUBLIC_TOKEN")}
		svc, items, events := newTestService(t, aggregator)
		_, err := svc.ExchangePublicToken(context.Background(), ExchangeRequest{
			PublicToken: "public-bad",
			User:        UserIdentity{ID: "u1"},
		})
		var rich *goerrors.Error
		if !errors.As(err, &rich) || rich.TextCode != LinkErrorExchangeFailed {
			t.Fatalf("expected %s, got %#v", LinkErrorExchangeFailed, err)
		}
		if listed, _ := items.ListByUser(context.Background(), "u1"); len(listed) != 0 {
			t.Fatalf("expected no stored items, got %#v", listed)
		}
		if len(events.byType(LinkEventExchangeFailed)) != 1 {
			t.Fatalf("expected exchange_failed event")
		}
	})

	t.Run("incomplete grant", func(t *testing.T) {
		svc, _, _ := newTestService(t, &fakeAggregator{grant: AggregatorAccessGrant{ItemID: "item_1"}})
		_, err := svc.ExchangePublicToken(context.Background(), ExchangeRequest{
			PublicToken: "public-1",
			User:        UserIdentity{ID: "u1"},
		})
		if err == nil {
			t.Fatalf("expected incomplete grant to fail")
		}
	})
}

func TestService_ListItemsOmitsCredentials(t *testing.T) {
	aggregator := &fakeAggregator{grant: AggregatorAccessGrant{AccessToken: "access-1", ItemID: "item_1"}}
	svc, _, _ := newTestService(t, aggregator)
	if _, err := svc.ExchangePublicToken(context.Background(), ExchangeRequest{
		PublicToken: "public-1",
		User:        UserIdentity{ID: "u1"},
	}); err != nil {
		t.Fatalf("exchange: %v", err)
	}

	listed, err := svc.ListItems(context.Background(), "u1")
	if err != nil {
		t.Fatalf("list items: %v", err)
	}
	if len(listed) != 1 || listed[0].ItemID != "item_1" {
		t.Fatalf("unexpected items %#v", listed)
	}
	if listed[0].EncryptedCredential != nil {
		t.Fatalf("expected credential material to be stripped")
	}
	if other, err := svc.ListItems(context.Background(), "u2"); err != nil || len(other) != 0 {
		t.Fatalf("expected no items for another user, got %#v (%v)", other, err)
	}
}

func TestService_RevokeItem(t *testing.T) {
	aggregator := &fakeAggregator{grant: AggregatorAccessGrant{AccessToken: "access-1", ItemID: "item_1"}}
	svc, items, events := newTestService(t, aggregator)
	if _, err := svc.ExchangePublicToken(context.Background(), ExchangeRequest{
		PublicToken: "public-1",
		User:        UserIdentity{ID: "u1"},
	}); err != nil {
		t.Fatalf("exchange: %v", err)
	}

	if err := svc.RevokeItem(context.Background(), "item_1", "user request"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if len(aggregator.removed) != 1 || aggregator.removed[0] != "access-1" {
		t.Fatalf("expected aggregator removal with decrypted access token, got %#v", aggregator.removed)
	}
	stored, _ := items.GetByItemID(context.Background(), "item_1")
	if stored.Status != ItemStatusRevoked || stored.RevokedAt == nil || stored.LastError != "user request" {
		t.Fatalf("expected revoked item, got %#v", stored)
	}
	if len(events.byType(LinkEventItemRevoked)) != 1 {
		t.Fatalf("expected item.revoked event")
	}

	if err := svc.RevokeItem(context.Background(), "item_1", "again"); err != nil {
		t.Fatalf("expected revoking twice to be a no-op, got %v", err)
	}
	if len(aggregator.removed) != 1 {
		t.Fatalf("expected no second aggregator removal")
	}

	err := svc.RevokeItem(context.Background(), "missing", "")
	var rich *goerrors.Error
	if !errors.As(err, &rich) || rich.TextCode != LinkErrorItemNotFound || rich.Code != http.StatusNotFound {
		t.Fatalf("expected %s, got %#v", LinkErrorItemNotFound, err)
	}
}

func TestService_RevokeItemKeepsItemActiveWhenAggregatorFails(t *testing.T) {
	aggregator := &fakeAggregator{
		grant:     AggregatorAccessGrant{AccessToken: "access-1", ItemID: "item_1"},
		removeErr: errors.New("aggregator unavailable"),
	}
	svc, items, _ := newTestService(t, aggregator)
	if _, err := svc.ExchangePublicToken(context.Background(), ExchangeRequest{
		PublicToken: "public-1",
		User:        UserIdentity{ID: "u1"},
	}); err != nil {
		t.Fatalf("exchange: %v", err)
	}
	if err := svc.RevokeItem(context.Background(), "item_1", ""); err == nil {
		t.Fatalf("expected revoke to fail")
	}
	stored, _ := items.GetByItemID(context.Background(), "item_1")
	if stored.Status != ItemStatusActive {
		t.Fatalf("expected item to stay active, got %q", stored.Status)
	}
}

func TestService_ApplyItemStatus(t *testing.T) {
	aggregator := &fakeAggregator{grant: AggregatorAccessGrant{AccessToken: "access-1", ItemID: "item_1"}}
	svc, items, events := newTestService(t, aggregator)
	ctx := context.Background()
	if _, err := svc.ExchangePublicToken(ctx, ExchangeRequest{
		PublicToken: "public-1",
		User:        UserIdentity{ID: "u1"},
	}); err != nil {
		t.Fatalf("exchange: %v", err)
	}

	if err := svc.ApplyItemStatus(ctx, "item_1", ItemStatusErrored, "ITEM_LOGIN_REQUIRED"); err != nil {
		t.Fatalf("apply errored: %v", err)
	}
	stored, _ := items.GetByItemID(ctx, "item_1")
	if stored.Status != ItemStatusErrored || stored.LastError != "ITEM_LOGIN_REQUIRED" {
		t.Fatalf("expected errored item, got %#v", stored)
	}
	if err := svc.ApplyItemStatus(ctx, "item_1", ItemStatusErrored, "ITEM_LOGIN_REQUIRED"); err != nil {
		t.Fatalf("expected repeated status to be a no-op, got %v", err)
	}
	changes := events.byType(LinkEventItemStatus)
	if len(changes) != 1 || changes[0].Metadata["previous_status"] != string(ItemStatusActive) {
		t.Fatalf("expected one status change event, got %#v", changes)
	}

	if err := svc.ApplyItemStatus(ctx, "item_1", ItemStatusRevoked, "USER_PERMISSION_REVOKED"); err != nil {
		t.Fatalf("apply revoked: %v", err)
	}
	if len(aggregator.removed) != 0 {
		t.Fatalf("expected no aggregator call for reported status, got %#v", aggregator.removed)
	}

	err := svc.ApplyItemStatus(ctx, "item_1", ItemStatusErrored, "late error")
	var rich *goerrors.Error
	if !errors.As(err, &rich) || rich.Category != goerrors.CategoryConflict {
		t.Fatalf("expected conflict for revoked -> errored, got %#v", err)
	}
	err = svc.ApplyItemStatus(ctx, "missing", ItemStatusErrored, "")
	if !errors.As(err, &rich) || rich.TextCode != LinkErrorItemNotFound {
		t.Fatalf("expected %s, got %#v", LinkErrorItemNotFound, err)
	}
}

func TestService_BackendDrivesOrchestrator(t *testing.T) {
	aggregator := &fakeAggregator{
		linkToken: "link-sandbox-1",
		grant:     AggregatorAccessGrant{AccessToken: "access-1", ItemID: "item_1"},
	}
	svc, items, _ := newTestService(t, aggregator)
	widgets := newRecordingWidgetFactory(true)
	navigator := newRecordingNavigator()
	orch, err := NewOrchestrator(DefaultConfig(),
		WithTokenProvider(svc),
		WithCredentialExchanger(svc),
		WithWidgetFactory(widgets),
		WithNavigator(navigator),
	)
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	session, err := orch.Mount(context.Background(), UserIdentity{ID: "u1"})
	if err != nil {
		t.Fatalf("mount: %v", err)
	}
	defer session.Unmount()

	if _, err := session.WaitFor(waitCtx(t), func(s Snapshot) bool { return s.ControlEnabled }); err != nil {
		t.Fatalf("wait enabled: %v", err)
	}
	if !session.Open() {
		t.Fatalf("expected widget to open")
	}
	widget := widgets.last(t)
	widget.cfg.OnSuccess.Handle("public-e2e", SuccessMetadata{InstitutionName: "First Bank"})
	receiveWithin(t, navigator.done, "navigation")

	stored, err := items.GetByItemID(context.Background(), "item_1")
	if err != nil {
		t.Fatalf("expected linked item to be stored: %v", err)
	}
	if stored.UserID != "u1" || stored.InstitutionName != "First Bank" {
		t.Fatalf("unexpected stored item %#v", stored)
	}
}
