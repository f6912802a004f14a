package devkit

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-banklink/core"
)

// MemoryItemStore keeps linked items in process, keyed by (user_id, item_id).
type MemoryItemStore struct {
	mu    sync.Mutex
	next  int
	items map[string]core.LinkedItem
	Now   func() time.Time
}

func NewMemoryItemStore() *MemoryItemStore {
	return &MemoryItemStore{items: map[string]core.LinkedItem{}}
}

func (s *MemoryItemStore) Upsert(_ context.Context, in core.SaveItemInput) (core.LinkedItem, error) {
	userID := strings.TrimSpace(in.UserID)
	itemID := strings.TrimSpace(in.ItemID)
	if userID == "" || itemID == "" {
		return core.LinkedItem{}, fmt.Errorf("devkit: user_id and item_id are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	key := userID + "\x00" + itemID
	item, ok := s.items[key]
	if !ok {
		s.next++
		item = core.LinkedItem{ID: fmt.Sprintf("devkit-item-%d", s.next), CreatedAt: now}
	}
	item.UserID = userID
	item.ItemID = itemID
	if in.InstitutionID != "" || !ok {
		item.InstitutionID = in.InstitutionID
		item.InstitutionName = in.InstitutionName
	}
	item.Status = core.ItemStatusActive
	item.EncryptedCredential = append([]byte(nil), in.EncryptedCredential...)
	item.PayloadFormat = in.PayloadFormat
	item.EncryptionKeyID = in.EncryptionKeyID
	item.LinkedAt = in.LinkedAt
	item.LastError = ""
	item.RevokedAt = nil
	item.UpdatedAt = now
	s.items[key] = item
	return cloneItem(item), nil
}

func (s *MemoryItemStore) GetByItemID(_ context.Context, itemID string) (core.LinkedItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok := s.latestLocked(strings.TrimSpace(itemID))
	if !ok {
		return core.LinkedItem{}, fmt.Errorf("%w: %s", core.ErrItemNotFound, itemID)
	}
	return cloneItem(s.items[key]), nil
}

func (s *MemoryItemStore) ListByUser(_ context.Context, userID string) ([]core.LinkedItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []core.LinkedItem{}
	for _, item := range s.items {
		if item.UserID == strings.TrimSpace(userID) {
			out = append(out, cloneItem(item))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryItemStore) UpdateStatus(_ context.Context, itemID string, status core.ItemStatus, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok := s.latestLocked(strings.TrimSpace(itemID))
	if !ok {
		return fmt.Errorf("%w: %s", core.ErrItemNotFound, itemID)
	}
	item := s.items[key]
	if err := item.TransitionTo(status, reason, s.now()); err != nil {
		return err
	}
	s.items[key] = item
	return nil
}

func (s *MemoryItemStore) latestLocked(itemID string) (string, bool) {
	var (
		found  string
		latest time.Time
	)
	for key, item := range s.items {
		if item.ItemID != itemID {
			continue
		}
		if found == "" || item.UpdatedAt.After(latest) {
			found = key
			latest = item.UpdatedAt
		}
	}
	return found, found != ""
}

func (s *MemoryItemStore) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// MemoryEventStore records link events with sensitive metadata redacted.
type MemoryEventStore struct {
	mu     sync.Mutex
	events []core.LinkEvent
}

func NewMemoryEventStore() *MemoryEventStore {
	return &MemoryEventStore{}
}

func (s *MemoryEventStore) Append(_ context.Context, event core.LinkEvent) error {
	if strings.TrimSpace(event.UserID) == "" || strings.TrimSpace(string(event.EventType)) == "" {
		return fmt.Errorf("devkit: event user_id and event_type are required")
	}
	event.Metadata = core.RedactSensitiveMap(event.Metadata)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

// ListByUser returns up to limit events of a user in append order.
func (s *MemoryEventStore) ListByUser(_ context.Context, userID string, limit int) ([]core.LinkEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 {
		limit = 50
	}
	out := []core.LinkEvent{}
	for _, event := range s.events {
		if event.UserID == strings.TrimSpace(userID) {
			out = append(out, event)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryEventStore) Events() []core.LinkEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.LinkEvent(nil), s.events...)
}

func cloneItem(item core.LinkedItem) core.LinkedItem {
	item.EncryptedCredential = append([]byte(nil), item.EncryptedCredential...)
	if item.RevokedAt != nil {
		revokedAt := *item.RevokedAt
		item.RevokedAt = &revokedAt
	}
	return item
}

var (
	_ core.ItemStore  = (*MemoryItemStore)(nil)
	_ core.EventStore = (*MemoryEventStore)(nil)
)
