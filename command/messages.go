package command

import (
	"strings"

	"github.com/goliatone/go-banklink/core"
)

const (
	TypeCreateLinkToken     = "banklink.command.link_token.create"
	TypeExchangePublicToken = "banklink.command.public_token.exchange"
	TypeRevokeItem          = "banklink.command.item.revoke"
)

type CreateLinkTokenMessage struct {
	User core.UserIdentity
}

func (CreateLinkTokenMessage) Type() string { return TypeCreateLinkToken }

func (m CreateLinkTokenMessage) Validate() error {
	if strings.TrimSpace(m.User.ID) == "" {
		return commandValidationError("user.id", "user id is required")
	}
	return nil
}

type ExchangePublicTokenMessage struct {
	Request core.ExchangeRequest
}

func (ExchangePublicTokenMessage) Type() string { return TypeExchangePublicToken }

func (m ExchangePublicTokenMessage) Validate() error {
	if strings.TrimSpace(m.Request.PublicToken) == "" {
		return commandValidationError("public_token", "public token is required")
	}
	if strings.TrimSpace(m.Request.User.ID) == "" {
		return commandValidationError("user.id", "user id is required")
	}
	return nil
}

type RevokeItemMessage struct {
	ItemID string
	Reason string
}

func (RevokeItemMessage) Type() string { return TypeRevokeItem }

func (m RevokeItemMessage) Validate() error {
	if strings.TrimSpace(m.ItemID) == "" {
		return commandValidationError("item_id", "item id is required")
	}
	return nil
}
