/**
 * @description
 * This file defines the core domain model for a bot user and their entitlement
 * state. A user is identified by their WhatsApp phone number and carries both a
 * free-credit balance (pre-subscription) and a monthly quota (subscription).
 */
package domain

import (
	"time"

	"github.com/google/uuid"
)

// User represents a subscriber identity keyed by phone number. Entitlement
// fields are mutated only through the entitlement engine; the store persists
// whole snapshots.
type User struct {
	ID           uuid.UUID  `json:"id"`
	Phone        string     `json:"phone"`
	Name         string     `json:"name,omitempty"`
	FreeCredits  int        `json:"free_credits"`
	IsSubscriber bool       `json:"is_subscriber"`
	MonthlyUsed  int        `json:"monthly_used"`
	MonthlyLimit int        `json:"monthly_limit"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	Active       bool       `json:"active"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// SubscriptionActive reports whether the user currently has a paid,
// non-expired subscription.
func (u User) SubscriptionActive(now time.Time) bool {
	if !u.IsSubscriber || !u.Active {
		return false
	}
	if u.ExpiresAt == nil {
		return false
	}
	return now.Before(*u.ExpiresAt)
}

// LookupsRemaining returns how many lookups the user can still perform under
// their current entitlement.
func (u User) LookupsRemaining() int {
	if !u.IsSubscriber {
		return u.FreeCredits
	}
	remaining := u.MonthlyLimit - u.MonthlyUsed
	if remaining < 0 {
		return 0
	}
	return remaining
}

// DaysRemaining returns whole days left on the subscription, zero when lapsed.
func (u User) DaysRemaining(now time.Time) int {
	if u.ExpiresAt == nil || !u.ExpiresAt.After(now) {
		return 0
	}
	return int(u.ExpiresAt.Sub(now).Hours() / 24)
}
