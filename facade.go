package banklink

import (
	"fmt"

	banklinkcommand "github.com/goliatone/go-banklink/command"
	banklinkquery "github.com/goliatone/go-banklink/query"
)

type CommandQueryService interface {
	banklinkcommand.MutatingService
	banklinkquery.ItemReader
}

type Commands struct {
	CreateLinkToken     *banklinkcommand.CreateLinkTokenCommand
	ExchangePublicToken *banklinkcommand.ExchangePublicTokenCommand
	RevokeItem          *banklinkcommand.RevokeItemCommand
}

type Queries struct {
	ListItems  *banklinkquery.ListItemsQuery
	GetItem    *banklinkquery.GetItemQuery
	ListEvents *banklinkquery.ListEventsQuery
}

type Facade struct {
	service  CommandQueryService
	commands Commands
	queries  Queries
}

type FacadeOption func(*facadeOptions)

type facadeOptions struct {
	eventReader banklinkquery.EventReader
}

func WithEventReader(reader banklinkquery.EventReader) FacadeOption {
	return func(options *facadeOptions) {
		options.eventReader = reader
	}
}

func NewFacade(service CommandQueryService, opts ...FacadeOption) (*Facade, error) {
	if service == nil {
		return nil, fmt.Errorf("banklink: command/query service is required")
	}
	cfg := facadeOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&cfg)
	}

	reader := cfg.eventReader
	if reader == nil {
		reader = resolveEventReader(service)
	}

	facade := &Facade{service: service}
	facade.commands = Commands{
		CreateLinkToken:     banklinkcommand.NewCreateLinkTokenCommand(service),
		ExchangePublicToken: banklinkcommand.NewExchangePublicTokenCommand(service),
		RevokeItem:          banklinkcommand.NewRevokeItemCommand(service),
	}
	facade.queries = Queries{
		ListItems:  banklinkquery.NewListItemsQuery(service),
		GetItem:    banklinkquery.NewGetItemQuery(service),
		ListEvents: banklinkquery.NewListEventsQuery(reader),
	}

	return facade, nil
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Queries() Queries {
	if f == nil {
		return Queries{}
	}
	return f.queries
}

func (f *Facade) Service() CommandQueryService {
	if f == nil {
		return nil
	}
	return f.service
}

// resolveEventReader falls back to the event store the service was built
// with when it can list events.
func resolveEventReader(service CommandQueryService) banklinkquery.EventReader {
	if reader, ok := service.(banklinkquery.EventReader); ok {
		return reader
	}
	provider, ok := service.(interface {
		Dependencies() ServiceDependencies
	})
	if !ok {
		return nil
	}
	reader, ok := provider.Dependencies().EventStore.(banklinkquery.EventReader)
	if !ok {
		return nil
	}
	return reader
}
