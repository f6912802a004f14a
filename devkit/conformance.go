package devkit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-banklink/core"
	"github.com/goliatone/go-banklink/transport"
)

func ValidateTransportAdapterConformance(
	ctx context.Context,
	adapter transport.Adapter,
	request transport.Request,
) error {
	if adapter == nil {
		return fmt.Errorf("devkit: transport adapter is required")
	}
	if strings.TrimSpace(adapter.Kind()) == "" {
		return fmt.Errorf("devkit: transport adapter kind is required")
	}
	_, err := adapter.Do(ctx, request)
	return err
}

// ValidateReplayLedgerConformance checks that key can be claimed exactly once
// and, for ledgers implementing core.ReplayReleaser, claimed again after release.
func ValidateReplayLedgerConformance(ctx context.Context, ledger core.ReplayLedger, key string) error {
	if ledger == nil {
		return fmt.Errorf("devkit: replay ledger is required")
	}
	claimed, err := ledger.Claim(ctx, key, time.Minute)
	if err != nil {
		return err
	}
	if !claimed {
		return fmt.Errorf("devkit: first claim should be accepted")
	}
	claimed, err = ledger.Claim(ctx, key, time.Minute)
	if err != nil {
		return err
	}
	if claimed {
		return fmt.Errorf("devkit: second claim should be rejected while the key is held")
	}

	releaser, ok := ledger.(core.ReplayReleaser)
	if !ok {
		return nil
	}
	if err := releaser.Release(ctx, key); err != nil {
		return err
	}
	claimed, err = ledger.Claim(ctx, key, time.Minute)
	if err != nil {
		return err
	}
	if !claimed {
		return fmt.Errorf("devkit: claim after release should be accepted")
	}
	return nil
}

// ValidateItemStoreConformance runs the upsert, read, list and status
// lifecycle of one item against store.
func ValidateItemStoreConformance(ctx context.Context, store core.ItemStore, userID, itemID string) error {
	if store == nil {
		return fmt.Errorf("devkit: item store is required")
	}
	linkedAt := time.Now().UTC().Truncate(time.Second)
	saved, err := store.Upsert(ctx, core.SaveItemInput{
		UserID:              userID,
		ItemID:              itemID,
		InstitutionID:       "ins_devkit",
		InstitutionName:     "Devkit Bank",
		EncryptedCredential: []byte("sealed"),
		PayloadFormat:       core.CredentialPayloadFormatJSONV1,
		LinkedAt:            linkedAt,
	})
	if err != nil {
		return err
	}
	if saved.Status != core.ItemStatusActive || saved.ItemID != itemID {
		return fmt.Errorf("devkit: expected active item %q, got %q/%q", itemID, saved.ItemID, saved.Status)
	}
	loaded, err := store.GetByItemID(ctx, itemID)
	if err != nil {
		return err
	}
	if loaded.UserID != userID || string(loaded.EncryptedCredential) != "sealed" {
		return fmt.Errorf("devkit: loaded item does not match saved item")
	}
	items, err := store.ListByUser(ctx, userID)
	if err != nil {
		return err
	}
	if len(items) != 1 {
		return fmt.Errorf("devkit: expected one item for user, got %d", len(items))
	}
	if err := store.UpdateStatus(ctx, itemID, core.ItemStatusRevoked, "devkit"); err != nil {
		return err
	}
	if err := store.UpdateStatus(ctx, itemID, core.ItemStatusErrored, ""); !errors.Is(err, core.ErrInvalidItemStatusTransition) {
		return fmt.Errorf("devkit: expected revoked -> errored to be rejected, got %v", err)
	}
	if _, err := store.GetByItemID(ctx, itemID+"-missing"); !errors.Is(err, core.ErrItemNotFound) {
		return fmt.Errorf("devkit: expected item not found, got %v", err)
	}
	return nil
}
