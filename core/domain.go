package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidUserIdentity         = errors.New("core: invalid user identity")
	ErrInvalidItemStatusTransition = errors.New("core: invalid item status transition")
	ErrPublicTokenRequired         = errors.New("core: public token is required")
	ErrEmptyLinkToken              = errors.New("core: token provider returned an empty link token")
	ErrPublicTokenAlreadyClaimed   = errors.New("core: public token already claimed")
	ErrItemNotFound                = errors.New("core: linked item not found")
	ErrCollaboratorPanicked        = errors.New("core: collaborator panicked")
	ErrSessionClosed               = errors.New("core: session is closed")
)

// UserIdentity is the caller supplied identity a link session runs for.
type UserIdentity struct {
	ID        string `json:"id"`
	Email     string `json:"email,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
}

func (u UserIdentity) Validate() error {
	if strings.TrimSpace(u.ID) == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidUserIdentity)
	}
	return nil
}

func (u UserIdentity) Normalized() UserIdentity {
	return UserIdentity{
		ID:        strings.TrimSpace(u.ID),
		Email:     strings.TrimSpace(u.Email),
		FirstName: strings.TrimSpace(u.FirstName),
		LastName:  strings.TrimSpace(u.LastName),
	}
}

// SameAs reports whether both identities describe the same input once trimmed.
func (u UserIdentity) SameAs(other UserIdentity) bool {
	return u.Normalized() == other.Normalized()
}

func (u UserIdentity) DisplayName() string {
	return strings.TrimSpace(strings.TrimSpace(u.FirstName) + " " + strings.TrimSpace(u.LastName))
}

type ItemStatus string

const (
	ItemStatusActive  ItemStatus = "active"
	ItemStatusErrored ItemStatus = "errored"
	ItemStatusRevoked ItemStatus = "revoked"
)

// LinkedItem is one institution link owned by a user. It never carries the
// durable credential in clear text.
type LinkedItem struct {
	ID                  string
	UserID              string
	ItemID              string
	InstitutionID       string
	InstitutionName     string
	Status              ItemStatus
	EncryptedCredential []byte
	PayloadFormat       string
	EncryptionKeyID     string
	LastError           string
	LinkedAt            time.Time
	RevokedAt           *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

func (i *LinkedItem) TransitionTo(status ItemStatus, reason string, now time.Time) error {
	if i == nil {
		return nil
	}
	if i.Status == status {
		i.UpdatedAt = now
		return nil
	}
	if !itemTransitionAllowed(i.Status, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidItemStatusTransition, i.Status, status)
	}
	i.Status = status
	i.UpdatedAt = now
	switch status {
	case ItemStatusActive:
		i.LastError = ""
		i.RevokedAt = nil
	case ItemStatusRevoked:
		revokedAt := now
		i.RevokedAt = &revokedAt
		i.LastError = strings.TrimSpace(reason)
	default:
		i.LastError = strings.TrimSpace(reason)
	}
	return nil
}

func itemTransitionAllowed(current, next ItemStatus) bool {
	allowed := map[ItemStatus]map[ItemStatus]struct{}{
		ItemStatusActive: {
			ItemStatusErrored: {},
			ItemStatusRevoked: {},
		},
		ItemStatusErrored: {
			ItemStatusActive:  {},
			ItemStatusRevoked: {},
		},
		ItemStatusRevoked: {
			ItemStatusActive: {},
		},
	}
	_, ok := allowed[current][next]
	return ok
}

type LinkEventType string

const (
	LinkEventTokenCreated   LinkEventType = "link_token.created"
	LinkEventTokenExchanged LinkEventType = "public_token.exchanged"
	LinkEventExchangeFailed LinkEventType = "public_token.exchange_failed"
	LinkEventItemRevoked    LinkEventType = "item.revoked"
	LinkEventItemStatus     LinkEventType = "item.status_changed"
)

type LinkEvent struct {
	ID        string
	UserID    string
	ItemID    string
	EventType LinkEventType
	Status    string
	Error     string
	Metadata  map[string]any
	CreatedAt time.Time
}
