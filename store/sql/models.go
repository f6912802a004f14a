package sqlstore

import (
	"strings"
	"time"

	"github.com/goliatone/go-banklink/core"
	"github.com/uptrace/bun"
)

type itemRecord struct {
	bun.BaseModel `bun:"table:banklink_items,alias:bi"`

	ID                  string     `bun:"id,pk"`
	UserID              string     `bun:"user_id,notnull"`
	ItemID              string     `bun:"item_id,notnull"`
	InstitutionID       string     `bun:"institution_id,notnull"`
	InstitutionName     string     `bun:"institution_name,notnull"`
	Status              string     `bun:"status,notnull"`
	EncryptedCredential []byte     `bun:"encrypted_credential,notnull"`
	PayloadFormat       string     `bun:"payload_format,notnull"`
	EncryptionKeyID     string     `bun:"encryption_key_id,notnull"`
	LastError           string     `bun:"last_error,notnull"`
	LinkedAt            time.Time  `bun:"linked_at,notnull"`
	RevokedAt           *time.Time `bun:"revoked_at,nullzero"`
	CreatedAt           time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt           time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type eventRecord struct {
	bun.BaseModel `bun:"table:banklink_events,alias:be"`

	ID        string         `bun:"id,pk"`
	UserID    string         `bun:"user_id,notnull"`
	ItemID    string         `bun:"item_id,notnull"`
	EventType string         `bun:"event_type,notnull"`
	Status    string         `bun:"status,notnull"`
	Error     string         `bun:"error,notnull"`
	Metadata  map[string]any `bun:"metadata,type:jsonb,notnull"`
	CreatedAt time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

func newItemRecord(in core.SaveItemInput, now time.Time) *itemRecord {
	linkedAt := in.LinkedAt.UTC()
	if linkedAt.IsZero() {
		linkedAt = now
	}
	return &itemRecord{
		UserID:              strings.TrimSpace(in.UserID),
		ItemID:              strings.TrimSpace(in.ItemID),
		InstitutionID:       strings.TrimSpace(in.InstitutionID),
		InstitutionName:     strings.TrimSpace(in.InstitutionName),
		Status:              string(core.ItemStatusActive),
		EncryptedCredential: append([]byte(nil), in.EncryptedCredential...),
		PayloadFormat:       strings.TrimSpace(in.PayloadFormat),
		EncryptionKeyID:     strings.TrimSpace(in.EncryptionKeyID),
		LinkedAt:            linkedAt,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
}

// relink refreshes a stored item with a newly exchanged credential. A relink
// always reactivates the item.
func (r *itemRecord) relink(in core.SaveItemInput, now time.Time) {
	if r == nil {
		return
	}
	if institutionID := strings.TrimSpace(in.InstitutionID); institutionID != "" {
		r.InstitutionID = institutionID
	}
	if institutionName := strings.TrimSpace(in.InstitutionName); institutionName != "" {
		r.InstitutionName = institutionName
	}
	r.Status = string(core.ItemStatusActive)
	r.EncryptedCredential = append([]byte(nil), in.EncryptedCredential...)
	r.PayloadFormat = strings.TrimSpace(in.PayloadFormat)
	r.EncryptionKeyID = strings.TrimSpace(in.EncryptionKeyID)
	r.LastError = ""
	r.RevokedAt = nil
	r.LinkedAt = in.LinkedAt.UTC()
	if r.LinkedAt.IsZero() {
		r.LinkedAt = now
	}
	r.UpdatedAt = now
}

func (r *itemRecord) toDomain() core.LinkedItem {
	if r == nil {
		return core.LinkedItem{}
	}
	return core.LinkedItem{
		ID:                  r.ID,
		UserID:              r.UserID,
		ItemID:              r.ItemID,
		InstitutionID:       r.InstitutionID,
		InstitutionName:     r.InstitutionName,
		Status:              core.ItemStatus(r.Status),
		EncryptedCredential: append([]byte(nil), r.EncryptedCredential...),
		PayloadFormat:       r.PayloadFormat,
		EncryptionKeyID:     r.EncryptionKeyID,
		LastError:           r.LastError,
		LinkedAt:            r.LinkedAt.UTC(),
		RevokedAt:           cloneTime(r.RevokedAt),
		CreatedAt:           r.CreatedAt.UTC(),
		UpdatedAt:           r.UpdatedAt.UTC(),
	}
}

func (r *itemRecord) applyDomain(item core.LinkedItem) {
	r.Status = string(item.Status)
	r.LastError = item.LastError
	r.RevokedAt = cloneTime(item.RevokedAt)
	r.UpdatedAt = item.UpdatedAt
}

func (r *eventRecord) toDomain() core.LinkEvent {
	if r == nil {
		return core.LinkEvent{}
	}
	return core.LinkEvent{
		ID:        r.ID,
		UserID:    r.UserID,
		ItemID:    r.ItemID,
		EventType: core.LinkEventType(r.EventType),
		Status:    r.Status,
		Error:     r.Error,
		Metadata:  core.RedactSensitiveMap(r.Metadata),
		CreatedAt: r.CreatedAt.UTC(),
	}
}

func cloneTime(input *time.Time) *time.Time {
	if input == nil {
		return nil
	}
	value := input.UTC()
	return &value
}
