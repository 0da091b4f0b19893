package models

import "fmt"

// ChatMode determines which assistant handles a session's messages.
type ChatMode string

const (
	// ModeIntake gathers structured intake data from the user.
	ModeIntake ChatMode = "intake"
	// ModeAdvice provides guidance once intake is complete.
	ModeAdvice ChatMode = "advice"
	// ModeEscalation is terminal: the session was flagged and handed off.
	ModeEscalation ChatMode = "escalation"
)

// DefaultChatMode is the mode new sessions start in.
const DefaultChatMode = ModeIntake

func (m ChatMode) Valid() bool {
	switch m {
	case ModeIntake, ModeAdvice, ModeEscalation:
		return true
	}
	return false
}

// CanSwitchTo reports whether a transition from m to target is legal.
// Escalation is terminal and any mode may escalate.
func (m ChatMode) CanSwitchTo(target ChatMode) bool {
	if m == ModeEscalation {
		return false
	}
	if target == ModeEscalation {
		return true
	}
	switch m {
	case ModeIntake:
		return target == ModeAdvice
	case ModeAdvice:
		return target == ModeIntake
	}
	return false
}

// ParseChatMode maps a requested mode string to a ChatMode. Unknown or empty
// values fall back to the default mode.
func ParseChatMode(s string) ChatMode {
	m := ChatMode(s)
	if !m.Valid() {
		return DefaultChatMode
	}
	return m
}

type InvalidModeTransitionError struct {
	From ChatMode
	To   ChatMode
}

func (e *InvalidModeTransitionError) Error() string {
	return fmt.Sprintf("invalid chat mode transition: %s -> %s", e.From, e.To)
}
