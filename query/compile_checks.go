package query

import (
	"github.com/goliatone/go-banklink/core"
	gocmd "github.com/goliatone/go-command"
)

var (
	_ gocmd.Querier[ListItemsMessage, []core.LinkedItem] = (*ListItemsQuery)(nil)
	_ gocmd.Querier[GetItemMessage, core.LinkedItem]     = (*GetItemQuery)(nil)
	_ gocmd.Querier[ListEventsMessage, []core.LinkEvent] = (*ListEventsQuery)(nil)
)
