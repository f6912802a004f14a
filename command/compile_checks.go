package command

import gocmd "github.com/goliatone/go-command"

var (
	_ gocmd.Commander[CreateLinkTokenMessage]     = (*CreateLinkTokenCommand)(nil)
	_ gocmd.Commander[ExchangePublicTokenMessage] = (*ExchangePublicTokenCommand)(nil)
	_ gocmd.Commander[RevokeItemMessage]          = (*RevokeItemCommand)(nil)
)
