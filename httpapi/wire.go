package httpapi

import (
	"time"

	"github.com/goliatone/go-banklink/core"
)

const (
	PathLinkToken = "/link/token"
	PathExchange  = "/link/exchange"
	PathItems     = "/link/items"
	PathWebhooks  = "/link/webhooks"
)

type UserPayload struct {
	ID        string `json:"id"`
	Email     string `json:"email,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
}

func (p UserPayload) Identity() core.UserIdentity {
	return core.UserIdentity{ID: p.ID, Email: p.Email, FirstName: p.FirstName, LastName: p.LastName}
}

func NewUserPayload(user core.UserIdentity) UserPayload {
	return UserPayload{ID: user.ID, Email: user.Email, FirstName: user.FirstName, LastName: user.LastName}
}

type LinkTokenRequest struct {
	User UserPayload `json:"user"`
}

type LinkTokenResponse struct {
	LinkToken  string     `json:"link_token"`
	Expiration *time.Time `json:"expiration,omitempty"`
	RequestID  string     `json:"request_id,omitempty"`
}

type ExchangeRequest struct {
	PublicToken string         `json:"public_token"`
	User        UserPayload    `json:"user"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

type ExchangeResponse struct {
	ItemID    string `json:"item_id"`
	RequestID string `json:"request_id,omitempty"`
}

type RevokeRequest struct {
	Reason string `json:"reason,omitempty"`
}

type RevokeResponse struct {
	ItemID string `json:"item_id"`
	Status string `json:"status"`
}

// ItemPayload is a linked item as exposed over HTTP. It never carries
// credential material.
type ItemPayload struct {
	ItemID          string     `json:"item_id"`
	UserID          string     `json:"user_id"`
	InstitutionID   string     `json:"institution_id,omitempty"`
	InstitutionName string     `json:"institution_name,omitempty"`
	Status          string     `json:"status"`
	LastError       string     `json:"last_error,omitempty"`
	LinkedAt        time.Time  `json:"linked_at"`
	RevokedAt       *time.Time `json:"revoked_at,omitempty"`
}

func NewItemPayload(item core.LinkedItem) ItemPayload {
	return ItemPayload{
		ItemID:          item.ItemID,
		UserID:          item.UserID,
		InstitutionID:   item.InstitutionID,
		InstitutionName: item.InstitutionName,
		Status:          string(item.Status),
		LastError:       item.LastError,
		LinkedAt:        item.LinkedAt,
		RevokedAt:       item.RevokedAt,
	}
}

type ItemsResponse struct {
	Items []ItemPayload `json:"items"`
}

type WebhookResponse struct {
	Accepted bool `json:"accepted"`
	Deduped  bool `json:"deduped,omitempty"`
}

type ErrorBody struct {
	Code     string         `json:"code"`
	Message  string         `json:"message"`
	Category string         `json:"category,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}
