package query

import "strings"

const (
	TypeListItems  = "banklink.query.items.list"
	TypeGetItem    = "banklink.query.item.get"
	TypeListEvents = "banklink.query.events.list"
)

type ListItemsMessage struct {
	UserID string
}

func (ListItemsMessage) Type() string { return TypeListItems }

func (m ListItemsMessage) Validate() error {
	if strings.TrimSpace(m.UserID) == "" {
		return queryValidationError("user_id", "user id is required")
	}
	return nil
}

type GetItemMessage struct {
	ItemID string
}

func (GetItemMessage) Type() string { return TypeGetItem }

func (m GetItemMessage) Validate() error {
	if strings.TrimSpace(m.ItemID) == "" {
		return queryValidationError("item_id", "item id is required")
	}
	return nil
}

// ListEventsMessage pages the link event trail of a user. A zero Limit uses
// the reader's default.
type ListEventsMessage struct {
	UserID string
	Limit  int
}

func (ListEventsMessage) Type() string { return TypeListEvents }

func (m ListEventsMessage) Validate() error {
	if strings.TrimSpace(m.UserID) == "" {
		return queryValidationError("user_id", "user id is required")
	}
	if m.Limit < 0 {
		return queryValidationError("limit", "limit must not be negative")
	}
	return nil
}
