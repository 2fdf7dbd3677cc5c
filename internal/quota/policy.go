// Package quota maps a user's tier onto daily limits for rate-limited actions.
package quota

import (
	"time"

	"github.com/oggyb/crewsnow/internal/config"
)

// Action is a rate-limited action.
type Action string

const (
	ActionSwipe   Action = "swipe"
	ActionMessage Action = "message"
)

// ParseAction validates an action name.
func ParseAction(s string) (Action, bool) {
	switch Action(s) {
	case ActionSwipe, ActionMessage:
		return Action(s), true
	}
	return "", false
}

// Counts is a pair of per-action quantities (limits, deltas or totals).
type Counts struct {
	Swipe   int
	Message int
}

// For returns the quantity for action.
func (c Counts) For(a Action) int {
	if a == ActionMessage {
		return c.Message
	}
	return c.Swipe
}

// Delta returns a Counts with n units on action and zero elsewhere.
func Delta(a Action, n int) Counts {
	if a == ActionMessage {
		return Counts{Message: n}
	}
	return Counts{Swipe: n}
}

// Policy holds the per-tier daily limits.
type Policy struct {
	Free    Counts
	Premium Counts
}

// DefaultPolicy is 10/50 for free and 100/500 for premium.
func DefaultPolicy() Policy {
	return Policy{
		Free:    Counts{Swipe: 10, Message: 50},
		Premium: Counts{Swipe: 100, Message: 500},
	}
}

// PolicyFromTuning builds a Policy from the tuning file values.
func PolicyFromTuning(t config.Tuning) Policy {
	return Policy{
		Free:    Counts{Swipe: t.Quota.FreeSwipes, Message: t.Quota.FreeMessages},
		Premium: Counts{Swipe: t.Quota.PremiumSwipes, Message: t.Quota.PremiumMessages},
	}
}

// IsPremium is the premium flag gated by an optional expiry. An expired
// subscription reads as free without any explicit transition.
func IsPremium(flag bool, expiresAt *time.Time, now time.Time) bool {
	return flag && (expiresAt == nil || expiresAt.After(now))
}

// Limits returns the daily limits for the tier.
func (p Policy) Limits(premium bool) Counts {
	if premium {
		return p.Premium
	}
	return p.Free
}
