package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-banklink/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// ItemStore persists linked items. Items are unique per (user_id, item_id);
// exchanging the same item again refreshes the stored credential.
type ItemStore struct {
	db   *bun.DB
	repo repository.Repository[*itemRecord]
	now  func() time.Time
}

func NewItemStore(db *bun.DB) (*ItemStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*itemRecord](db, itemHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid item repository wiring: %w", err)
		}
	}
	return &ItemStore{
		db:   db,
		repo: repo,
		now:  func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *ItemStore) Upsert(ctx context.Context, in core.SaveItemInput) (core.LinkedItem, error) {
	if s == nil || s.db == nil || s.repo == nil {
		return core.LinkedItem{}, fmt.Errorf("sqlstore: item store is not configured")
	}
	in.UserID = strings.TrimSpace(in.UserID)
	in.ItemID = strings.TrimSpace(in.ItemID)
	in.PayloadFormat = strings.TrimSpace(in.PayloadFormat)
	if in.UserID == "" || in.ItemID == "" {
		return core.LinkedItem{}, fmt.Errorf("sqlstore: user id and item id are required")
	}
	if len(in.EncryptedCredential) == 0 {
		return core.LinkedItem{}, fmt.Errorf("sqlstore: encrypted credential is required")
	}
	if in.PayloadFormat == "" {
		return core.LinkedItem{}, fmt.Errorf("sqlstore: payload format is required")
	}
	now := s.now()

	var out core.LinkedItem
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		existing, err := s.findByUserItemTx(ctx, tx, in.UserID, in.ItemID)
		if err != nil {
			return err
		}
		if existing == nil {
			record := newItemRecord(in, now)
			record.ID = uuid.NewString()
			if _, createErr := s.repo.CreateTx(ctx, tx, record); createErr != nil {
				return createErr
			}
			out = record.toDomain()
			return nil
		}

		existing.relink(in, now)
		if _, updateErr := tx.NewUpdate().
			Model(existing).
			Where("id = ?", existing.ID).
			Exec(ctx); updateErr != nil {
			return updateErr
		}
		out = existing.toDomain()
		return nil
	})
	if err != nil {
		return core.LinkedItem{}, err
	}
	return out, nil
}

func (s *ItemStore) GetByItemID(ctx context.Context, itemID string) (core.LinkedItem, error) {
	if s == nil || s.db == nil {
		return core.LinkedItem{}, fmt.Errorf("sqlstore: item store is not configured")
	}
	record, err := s.findByItemID(ctx, s.db, itemID)
	if err != nil {
		return core.LinkedItem{}, err
	}
	return record.toDomain(), nil
}

func (s *ItemStore) ListByUser(ctx context.Context, userID string) ([]core.LinkedItem, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: item store is not configured")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("sqlstore: user id is required")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("user_id", "=", userID),
		repository.OrderBy("created_at ASC"),
	)
	if err != nil {
		return nil, err
	}
	out := make([]core.LinkedItem, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

func (s *ItemStore) UpdateStatus(ctx context.Context, itemID string, status core.ItemStatus, reason string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: item store is not configured")
	}
	now := s.now()
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		record, err := s.findByItemID(ctx, tx, itemID)
		if err != nil {
			return err
		}
		item := record.toDomain()
		if err := item.TransitionTo(status, reason, now); err != nil {
			return err
		}
		record.applyDomain(item)
		_, err = tx.NewUpdate().
			Model(record).
			Column("status", "last_error", "revoked_at", "updated_at").
			Where("id = ?", record.ID).
			Exec(ctx)
		return err
	})
}

func (s *ItemStore) findByItemID(ctx context.Context, db bun.IDB, itemID string) (*itemRecord, error) {
	itemID = strings.TrimSpace(itemID)
	if itemID == "" {
		return nil, fmt.Errorf("sqlstore: item id is required")
	}
	record := &itemRecord{}
	err := db.NewSelect().
		Model(record).
		Where("?TableAlias.item_id = ?", itemID).
		OrderExpr("?TableAlias.updated_at DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", core.ErrItemNotFound, itemID)
		}
		return nil, err
	}
	return record, nil
}

func (s *ItemStore) findByUserItemTx(ctx context.Context, tx bun.Tx, userID, itemID string) (*itemRecord, error) {
	record := &itemRecord{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.user_id = ?", userID).
		Where("?TableAlias.item_id = ?", itemID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if strings.TrimSpace(record.ID) == "" {
		return nil, nil
	}
	return record, nil
}
