package core

import "strings"

type Variant string

const (
	VariantPrimary Variant = "primary"
	VariantGhost   Variant = "ghost"
	VariantDefault Variant = "default"
)

const (
	ControlLabel    = "Connect bank"
	ControlIconPath = "/icons/connect-bank.svg"
)

// ParseVariant maps a variant name to a Variant. Unknown names yield
// VariantDefault.
func ParseVariant(name string) Variant {
	switch Variant(strings.ToLower(strings.TrimSpace(name))) {
	case VariantPrimary:
		return VariantPrimary
	case VariantGhost:
		return VariantGhost
	default:
		return VariantDefault
	}
}

// Control is the trigger for a link session. Variants differ in presentation
// only.
type Control struct {
	Variant            Variant
	Label              string
	Icon               string
	CompactLabelHidden bool
	Disabled           bool
}

// ControlFor renders the control for the current session state.
func ControlFor(variant Variant, snap Snapshot) Control {
	control := Control{
		Variant:  ParseVariant(string(variant)),
		Label:    ControlLabel,
		Disabled: !snap.ControlEnabled,
	}
	switch control.Variant {
	case VariantGhost:
		control.Icon = ControlIconPath
		control.CompactLabelHidden = true
	case VariantDefault:
		control.Icon = ControlIconPath
	}
	return control
}

// Press opens the session widget. It reports false when the control is
// disabled.
func (c Control) Press(session *Session) bool {
	if c.Disabled || session == nil {
		return false
	}
	return session.Open()
}
