package core

import (
	"errors"
	"fmt"
)

var ErrInvalidLinkStateTransition = errors.New("core: invalid link state transition")

// LinkState is the explicit state of one link session.
type LinkState string

const (
	LinkStateInitializing   LinkState = "initializing"
	LinkStateTokenFailed    LinkState = "token_failed"
	LinkStateTokenReady     LinkState = "token_ready"
	LinkStateWidgetOpen     LinkState = "widget_open"
	LinkStateLinkSucceeded  LinkState = "link_succeeded"
	LinkStateExchanged      LinkState = "exchanged"
	LinkStateExchangeFailed LinkState = "exchange_failed"
)

var linkStateTransitions = map[LinkState]map[LinkState]struct{}{
	LinkStateInitializing: {
		LinkStateTokenReady:  {},
		LinkStateTokenFailed: {},
	},
	LinkStateTokenReady: {
		LinkStateWidgetOpen:    {},
		LinkStateLinkSucceeded: {},
	},
	LinkStateWidgetOpen: {
		LinkStateLinkSucceeded: {},
	},
	LinkStateLinkSucceeded: {
		LinkStateExchanged:      {},
		LinkStateExchangeFailed: {},
	},
	LinkStateTokenFailed:    {},
	LinkStateExchanged:      {},
	LinkStateExchangeFailed: {},
}

func (s LinkState) CanTransitionTo(next LinkState) bool {
	_, ok := linkStateTransitions[s][next]
	return ok
}

// Terminal reports whether no further transition is possible for this mount.
func (s LinkState) Terminal() bool {
	next, ok := linkStateTransitions[s]
	return ok && len(next) == 0
}

// HasToken reports whether a link token is held in this state.
func (s LinkState) HasToken() bool {
	switch s {
	case LinkStateTokenReady, LinkStateWidgetOpen, LinkStateLinkSucceeded, LinkStateExchanged, LinkStateExchangeFailed:
		return true
	default:
		return false
	}
}

// AcceptsSuccess reports whether a widget success event may start an exchange.
func (s LinkState) AcceptsSuccess() bool {
	return s == LinkStateTokenReady || s == LinkStateWidgetOpen
}

func (s LinkState) Valid() bool {
	_, ok := linkStateTransitions[s]
	return ok
}

func transitionLinkState(current, next LinkState) error {
	if current.CanTransitionTo(next) {
		return nil
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidLinkStateTransition, current, next)
}

// Snapshot is a consistent read of a session's state.
type Snapshot struct {
	SessionID      string
	Generation     uint64
	User           UserIdentity
	State          LinkState
	Token          string
	IsLoading      bool
	IsReady        bool
	ControlEnabled bool
	ItemID         string
	LastError      error
	Closed         bool
}
