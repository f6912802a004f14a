package webhooks

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/goliatone/go-banklink/core"
	goerrors "github.com/goliatone/go-errors"
)

// Notification is an aggregator webhook reduced to what the link service
// tracks. An empty Status means the webhook carries no item status change.
type Notification struct {
	Type   string
	Code   string
	ItemID string
	Status core.ItemStatus
	Reason string
}

type Decoder func(body []byte) (Notification, error)

// ItemStatusApplier is implemented by core.Service.
type ItemStatusApplier interface {
	ApplyItemStatus(ctx context.Context, itemID string, status core.ItemStatus, reason string) error
}

// ItemStatusHandler applies item status webhooks to stored items.
type ItemStatusHandler struct {
	Decode Decoder
	Items  ItemStatusApplier
}

func NewItemStatusHandler(decode Decoder, items ItemStatusApplier) (*ItemStatusHandler, error) {
	if decode == nil {
		return nil, fmt.Errorf("webhooks: notification decoder is required")
	}
	if items == nil {
		return nil, fmt.Errorf("webhooks: item status applier is required")
	}
	return &ItemStatusHandler{Decode: decode, Items: items}, nil
}

func (h *ItemStatusHandler) Handle(ctx context.Context, req Request) (Result, error) {
	notification, err := h.Decode(req.Body)
	if err != nil {
		return Result{}, err
	}
	metadata := map[string]any{
		"webhook_type": notification.Type,
		"webhook_code": notification.Code,
		"item_id":      notification.ItemID,
	}
	if notification.Status == "" || strings.TrimSpace(notification.ItemID) == "" {
		metadata["ignored"] = true
		return Result{Accepted: true, StatusCode: http.StatusOK, Metadata: metadata}, nil
	}

	err = h.Items.ApplyItemStatus(ctx, notification.ItemID, notification.Status, notification.Reason)
	switch {
	case err == nil:
		metadata["status"] = string(notification.Status)
	case acknowledgeable(err):
		// Unknown or already revoked items are acknowledged so the aggregator
		// stops retrying.
		metadata["ignored"] = true
		metadata["reason"] = err.Error()
	default:
		return Result{}, err
	}
	return Result{Accepted: true, StatusCode: http.StatusOK, Metadata: metadata}, nil
}

func acknowledgeable(err error) bool {
	if errors.Is(err, core.ErrItemNotFound) || errors.Is(err, core.ErrInvalidItemStatusTransition) {
		return true
	}
	mapped := core.AsLinkError(err)
	return mapped.TextCode == core.LinkErrorItemNotFound || mapped.Category == goerrors.CategoryConflict
}
