package query

import (
	"context"

	"github.com/goliatone/go-banklink/core"
)

// ItemReader is the read side of core.Service.
type ItemReader interface {
	ListItems(ctx context.Context, userID string) ([]core.LinkedItem, error)
	GetItem(ctx context.Context, itemID string) (core.LinkedItem, error)
}

type EventReader interface {
	ListByUser(ctx context.Context, userID string, limit int) ([]core.LinkEvent, error)
}

type ListItemsQuery struct {
	reader ItemReader
}

func NewListItemsQuery(reader ItemReader) *ListItemsQuery {
	return &ListItemsQuery{reader: reader}
}

func (q *ListItemsQuery) Query(ctx context.Context, msg ListItemsMessage) ([]core.LinkedItem, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: item reader is required")
	}
	return q.reader.ListItems(ctx, msg.UserID)
}

type GetItemQuery struct {
	reader ItemReader
}

func NewGetItemQuery(reader ItemReader) *GetItemQuery {
	return &GetItemQuery{reader: reader}
}

func (q *GetItemQuery) Query(ctx context.Context, msg GetItemMessage) (core.LinkedItem, error) {
	if q == nil || q.reader == nil {
		return core.LinkedItem{}, queryDependencyError("query: item reader is required")
	}
	return q.reader.GetItem(ctx, msg.ItemID)
}

type ListEventsQuery struct {
	reader EventReader
}

func NewListEventsQuery(reader EventReader) *ListEventsQuery {
	return &ListEventsQuery{reader: reader}
}

func (q *ListEventsQuery) Query(ctx context.Context, msg ListEventsMessage) ([]core.LinkEvent, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: event reader is required")
	}
	return q.reader.ListByUser(ctx, msg.UserID, msg.Limit)
}
