package banklink

import (
	"github.com/goliatone/go-banklink/core"
	"github.com/goliatone/go-banklink/providers/plaid"
	"github.com/goliatone/go-banklink/transport"
)

// PlaidAggregator builds the Plaid client. adapter may be nil.
func PlaidAggregator(cfg plaid.Config, adapter transport.Adapter) (*plaid.Client, error) {
	return plaid.New(cfg, adapter)
}

// WithPlaid registers client as the service aggregator under its
// canonical name.
func WithPlaid(client *plaid.Client) Option {
	return core.WithAggregator(client, plaid.AggregatorName)
}
