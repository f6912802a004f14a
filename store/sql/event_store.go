package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-banklink/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type EventStore struct {
	repo repository.Repository[*eventRecord]
}

func NewEventStore(db *bun.DB) (*EventStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*eventRecord](db, eventHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid link event repository wiring: %w", err)
		}
	}
	return &EventStore{repo: repo}, nil
}

// Append stores a link event. Metadata is redacted before it reaches the
// database.
func (s *EventStore) Append(ctx context.Context, event core.LinkEvent) error {
	if s == nil || s.repo == nil {
		return fmt.Errorf("sqlstore: link event store is not configured")
	}
	if strings.TrimSpace(event.UserID) == "" {
		return fmt.Errorf("sqlstore: user id is required")
	}
	if strings.TrimSpace(string(event.EventType)) == "" {
		return fmt.Errorf("sqlstore: event type is required")
	}
	if strings.TrimSpace(event.Status) == "" {
		return fmt.Errorf("sqlstore: event status is required")
	}
	createdAt := event.CreatedAt.UTC()
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	id := strings.TrimSpace(event.ID)
	if id == "" {
		id = uuid.NewString()
	}

	record := &eventRecord{
		ID:        id,
		UserID:    strings.TrimSpace(event.UserID),
		ItemID:    strings.TrimSpace(event.ItemID),
		EventType: strings.TrimSpace(string(event.EventType)),
		Status:    strings.TrimSpace(event.Status),
		Error:     strings.TrimSpace(event.Error),
		Metadata:  core.RedactSensitiveMap(event.Metadata),
		CreatedAt: createdAt,
	}
	_, err := s.repo.Create(ctx, record)
	return err
}

// ListByUser returns up to limit events for a user, oldest first.
func (s *EventStore) ListByUser(ctx context.Context, userID string, limit int) ([]core.LinkEvent, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: link event store is not configured")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("sqlstore: user id is required")
	}
	if limit <= 0 {
		limit = 50
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("user_id", "=", userID),
		repository.OrderBy("created_at ASC"),
		repository.SelectPaginate(limit, 0),
	)
	if err != nil {
		return nil, err
	}
	out := make([]core.LinkEvent, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}
