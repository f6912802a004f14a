package command

import (
	"context"

	"github.com/goliatone/go-banklink/core"
	gocmd "github.com/goliatone/go-command"
)

// MutatingService is the part of core.Service the commands drive.
type MutatingService interface {
	CreateLinkToken(ctx context.Context, user core.UserIdentity) (core.LinkTokenResult, error)
	ExchangePublicToken(ctx context.Context, req core.ExchangeRequest) (core.ExchangeReceipt, error)
	RevokeItem(ctx context.Context, itemID string, reason string) error
}

type CreateLinkTokenCommand struct {
	service MutatingService
}

func NewCreateLinkTokenCommand(service MutatingService) *CreateLinkTokenCommand {
	return &CreateLinkTokenCommand{service: service}
}

func (c *CreateLinkTokenCommand) Execute(ctx context.Context, msg CreateLinkTokenMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: link token service is required")
	}
	out, err := c.service.CreateLinkToken(ctx, msg.User)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type ExchangePublicTokenCommand struct {
	service MutatingService
}

func NewExchangePublicTokenCommand(service MutatingService) *ExchangePublicTokenCommand {
	return &ExchangePublicTokenCommand{service: service}
}

func (c *ExchangePublicTokenCommand) Execute(ctx context.Context, msg ExchangePublicTokenMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: exchange service is required")
	}
	out, err := c.service.ExchangePublicToken(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type RevokeItemCommand struct {
	service MutatingService
}

func NewRevokeItemCommand(service MutatingService) *RevokeItemCommand {
	return &RevokeItemCommand{service: service}
}

func (c *RevokeItemCommand) Execute(ctx context.Context, msg RevokeItemMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: revoke service is required")
	}
	return c.service.RevokeItem(ctx, msg.ItemID, msg.Reason)
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
