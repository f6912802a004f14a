package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/goliatone/go-banklink/core"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
)

const (
	itemCacheKeyPrefix     = "go-banklink::item::v1"
	userItemCacheKeyPrefix = "go-banklink::user_items::v1"
)

// CachedItemStore serves item reads through a repository cache and drops the
// affected keys on every write.
type CachedItemStore struct {
	base  core.ItemStore
	cache repositorycache.CacheService
}

func NewCachedItemStore(base core.ItemStore, cacheService repositorycache.CacheService) (*CachedItemStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base item store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: item cache service is required")
	}
	return &CachedItemStore{base: base, cache: cacheService}, nil
}

// ItemCacheKey returns go-banklink::item::v1::<item_id> with the id path escaped.
func ItemCacheKey(itemID string) string {
	return itemCacheKeyPrefix + "::" + url.PathEscape(strings.TrimSpace(itemID))
}

// UserItemsCacheKey returns go-banklink::user_items::v1::<user_id>.
func UserItemsCacheKey(userID string) string {
	return userItemCacheKeyPrefix + "::" + url.PathEscape(strings.TrimSpace(userID))
}

func (s *CachedItemStore) Upsert(ctx context.Context, in core.SaveItemInput) (core.LinkedItem, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.LinkedItem{}, fmt.Errorf("sqlstore: cached item store is not configured")
	}
	item, err := s.base.Upsert(ctx, in)
	if err != nil {
		return core.LinkedItem{}, err
	}
	if err := s.invalidate(ctx, item.UserID, item.ItemID); err != nil {
		return core.LinkedItem{}, err
	}
	return item, nil
}

func (s *CachedItemStore) GetByItemID(ctx context.Context, itemID string) (core.LinkedItem, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.LinkedItem{}, fmt.Errorf("sqlstore: cached item store is not configured")
	}
	itemID = strings.TrimSpace(itemID)
	if itemID == "" {
		return core.LinkedItem{}, fmt.Errorf("sqlstore: item id is required")
	}
	item, err := repositorycache.GetOrFetch(ctx, s.cache, ItemCacheKey(itemID), func(ctx context.Context) (core.LinkedItem, error) {
		return s.base.GetByItemID(ctx, itemID)
	})
	if err != nil {
		return core.LinkedItem{}, err
	}
	return cloneItem(item), nil
}

func (s *CachedItemStore) ListByUser(ctx context.Context, userID string) ([]core.LinkedItem, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return nil, fmt.Errorf("sqlstore: cached item store is not configured")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("sqlstore: user id is required")
	}
	items, err := repositorycache.GetOrFetch(ctx, s.cache, UserItemsCacheKey(userID), func(ctx context.Context) ([]core.LinkedItem, error) {
		return s.base.ListByUser(ctx, userID)
	})
	if err != nil {
		return nil, err
	}
	out := make([]core.LinkedItem, 0, len(items))
	for _, item := range items {
		out = append(out, cloneItem(item))
	}
	return out, nil
}

func (s *CachedItemStore) UpdateStatus(ctx context.Context, itemID string, status core.ItemStatus, reason string) error {
	if s == nil || s.base == nil || s.cache == nil {
		return fmt.Errorf("sqlstore: cached item store is not configured")
	}
	if err := s.base.UpdateStatus(ctx, itemID, status, reason); err != nil {
		return err
	}
	item, err := s.base.GetByItemID(ctx, itemID)
	if err != nil {
		return err
	}
	return s.invalidate(ctx, item.UserID, item.ItemID)
}

func (s *CachedItemStore) invalidate(ctx context.Context, userID, itemID string) error {
	if err := s.cache.Delete(ctx, ItemCacheKey(itemID)); err != nil {
		return err
	}
	return s.cache.Delete(ctx, UserItemsCacheKey(userID))
}

func cloneItem(item core.LinkedItem) core.LinkedItem {
	cloned := item
	cloned.EncryptedCredential = append([]byte(nil), item.EncryptedCredential...)
	cloned.RevokedAt = cloneTime(item.RevokedAt)
	return cloned
}
