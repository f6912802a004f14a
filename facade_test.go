package banklink_test

import (
	"context"
	"strings"
	"testing"

	banklink "github.com/goliatone/go-banklink"
	banklinkcommand "github.com/goliatone/go-banklink/command"
	"github.com/goliatone/go-banklink/core"
	"github.com/goliatone/go-banklink/devkit"
	banklinkquery "github.com/goliatone/go-banklink/query"
	"github.com/goliatone/go-banklink/security"
	gocmd "github.com/goliatone/go-command"
)

func newFacadeService(t *testing.T) (*banklink.Service, *devkit.MemoryAggregator) {
	t.Helper()
	secrets, err := security.NewAppKeySecretProviderFromString(strings.Repeat("f", 32))
	if err != nil {
		t.Fatalf("secret provider: %v", err)
	}
	aggregator := devkit.NewMemoryAggregator()
	service, err := banklink.NewService(banklink.DefaultConfig(),
		banklink.WithAggregator(aggregator, "devkit"),
		banklink.WithItemStore(devkit.NewMemoryItemStore()),
		banklink.WithEventStore(devkit.NewMemoryEventStore()),
		banklink.WithSecretProvider(secrets),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return service, aggregator
}

func TestNewFacade_WiresCommandsAndQueries(t *testing.T) {
	service, _ := newFacadeService(t)
	facade, err := banklink.NewFacade(service)
	if err != nil {
		t.Fatalf("new facade: %v", err)
	}

	commands := facade.Commands()
	if commands.CreateLinkToken == nil || commands.ExchangePublicToken == nil || commands.RevokeItem == nil {
		t.Fatalf("expected command handlers to be wired")
	}
	queries := facade.Queries()
	if queries.ListItems == nil || queries.GetItem == nil || queries.ListEvents == nil {
		t.Fatalf("expected query handlers to be wired")
	}
	if facade.Service() != service {
		t.Fatalf("expected facade to expose its service")
	}
}

func TestFacade_LinkLifecycle(t *testing.T) {
	ctx := context.Background()
	service, aggregator := newFacadeService(t)
	facade, err := banklink.NewFacade(service)
	if err != nil {
		t.Fatalf("new facade: %v", err)
	}
	user := core.UserIdentity{ID: "u1", Email: "u1@example.com"}

	tokenResult := gocmd.NewResult[core.LinkTokenResult]()
	if err := facade.Commands().CreateLinkToken.Execute(gocmd.ContextWithResult(ctx, tokenResult), banklinkcommand.CreateLinkTokenMessage{User: user}); err != nil {
		t.Fatalf("create link token: %v", err)
	}
	token, ok := tokenResult.Load()
	if !ok || !strings.HasPrefix(token.LinkToken, "link-devkit-") {
		t.Fatalf("unexpected link token result %#v", token)
	}

	receiptResult := gocmd.NewResult[core.ExchangeReceipt]()
	err = facade.Commands().ExchangePublicToken.Execute(gocmd.ContextWithResult(ctx, receiptResult), banklinkcommand.ExchangePublicTokenMessage{
		Request: core.ExchangeRequest{PublicToken: "public-item-1", User: user},
	})
	if err != nil {
		t.Fatalf("exchange public token: %v", err)
	}
	if receipt, ok := receiptResult.Load(); !ok || receipt.ItemID != "item-1" {
		t.Fatalf("unexpected exchange receipt %#v", receipt)
	}

	items, err := facade.Queries().ListItems.Query(ctx, banklinkquery.ListItemsMessage{UserID: "u1"})
	if err != nil {
		t.Fatalf("list items: %v", err)
	}
	if len(items) != 1 || len(items[0].EncryptedCredential) != 0 {
		t.Fatalf("expected one item without credential material, got %#v", items)
	}

	if err := facade.Commands().RevokeItem.Execute(ctx, banklinkcommand.RevokeItemMessage{ItemID: "item-1", Reason: "manual"}); err != nil {
		t.Fatalf("revoke item: %v", err)
	}
	item, err := facade.Queries().GetItem.Query(ctx, banklinkquery.GetItemMessage{ItemID: "item-1"})
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if item.Status != core.ItemStatusRevoked || len(aggregator.Removed()) != 1 {
		t.Fatalf("expected revoked item removed at aggregator, got %#v", item)
	}

	events, err := facade.Queries().ListEvents.Query(ctx, banklinkquery.ListEventsMessage{UserID: "u1"})
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) < 2 {
		t.Fatalf("expected link events resolved from the service event store, got %#v", events)
	}
}

type staticEventReader struct{}

func (staticEventReader) ListByUser(context.Context, string, int) ([]core.LinkEvent, error) {
	return []core.LinkEvent{{ID: "evt_1"}}, nil
}

func TestNewFacade_EventReaderOption(t *testing.T) {
	service, _ := newFacadeService(t)
	facade, err := banklink.NewFacade(service, banklink.WithEventReader(staticEventReader{}))
	if err != nil {
		t.Fatalf("new facade: %v", err)
	}
	events, err := facade.Queries().ListEvents.Query(context.Background(), banklinkquery.ListEventsMessage{UserID: "u1"})
	if err != nil || len(events) != 1 || events[0].ID != "evt_1" {
		t.Fatalf("expected option reader to win, got %#v (%v)", events, err)
	}
}

func TestNewFacade_RequiresService(t *testing.T) {
	facade, err := banklink.NewFacade(nil)
	if err == nil {
		t.Fatalf("expected nil service error")
	}
	if facade != nil {
		t.Fatalf("expected nil facade on error")
	}
}
