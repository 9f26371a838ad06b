/**
 * @description
 * This file implements the entitlement state machine. It is pure: every
 * operation takes a user snapshot (plus a clock value) and returns a decision
 * or the next snapshot. Persistence is the caller's concern, which keeps the
 * admission rules trivially testable.
 */
package app

import (
	"time"

	"github.com/danfezap/danfe-service/internal/domain"
)

// DenialReason identifies why a lookup was not admitted.
type DenialReason string

const (
	DenyInactive            DenialReason = "inactive"
	DenyCreditsExhausted    DenialReason = "credits_exhausted"
	DenySubscriptionExpired DenialReason = "subscription_expired"
	DenyQuotaReached        DenialReason = "quota_reached"
)

// Admission is the result of an Admit call.
type Admission struct {
	Allowed bool
	Reason  DenialReason
}

// EntitlementEngine applies admission, consumption and payment rules to a
// user snapshot.
type EntitlementEngine struct {
	FreeLookups        int
	MonthlyLookupLimit int
	SubscriptionPeriod time.Duration
}

// NewEntitlementEngine creates an engine with the configured grants.
func NewEntitlementEngine(freeLookups, monthlyLimit, subscriptionDays int) EntitlementEngine {
	return EntitlementEngine{
		FreeLookups:        freeLookups,
		MonthlyLookupLimit: monthlyLimit,
		SubscriptionPeriod: time.Duration(subscriptionDays) * 24 * time.Hour,
	}
}

// NewUser builds the initial snapshot for a first-contact user.
func (e EntitlementEngine) NewUser(phone, name string) *domain.User {
	return &domain.User{
		Phone:        phone,
		Name:         name,
		FreeCredits:  e.FreeLookups,
		IsSubscriber: false,
		MonthlyLimit: e.MonthlyLookupLimit,
		Active:       true,
	}
}

// Admit decides whether the user may perform a lookup right now. It never
// mutates the snapshot.
func (e EntitlementEngine) Admit(user *domain.User, now time.Time) Admission {
	if !user.Active {
		return Admission{Reason: DenyInactive}
	}
	if !user.IsSubscriber {
		if user.FreeCredits > 0 {
			return Admission{Allowed: true}
		}
		return Admission{Reason: DenyCreditsExhausted}
	}
	if user.ExpiresAt == nil || now.After(*user.ExpiresAt) {
		return Admission{Reason: DenySubscriptionExpired}
	}
	if user.MonthlyUsed >= user.MonthlyLimit {
		return Admission{Reason: DenyQuotaReached}
	}
	return Admission{Allowed: true}
}

// Consume records one successful lookup against the snapshot. The store's
// ConsumeLookup applies this same transition as a single UPDATE; the lookup
// path uses that form so a concurrent activation write is never overwritten.
func (e EntitlementEngine) Consume(user domain.User) domain.User {
	if !user.IsSubscriber {
		if user.FreeCredits > 0 {
			user.FreeCredits--
		}
		return user
	}
	user.MonthlyUsed++
	return user
}

// ApplyPayment activates or renews a subscription. The expiry is always
// recomputed from now, so a renewal grants a full fresh period and the monthly
// quota resets. Remaining free credits are cleared: the subscriber quota
// supersedes the trial.
func (e EntitlementEngine) ApplyPayment(user domain.User, now time.Time) domain.User {
	expiresAt := now.Add(e.SubscriptionPeriod)
	user.IsSubscriber = true
	user.Active = true
	user.MonthlyUsed = 0
	user.MonthlyLimit = e.MonthlyLookupLimit
	user.FreeCredits = 0
	user.ExpiresAt = &expiresAt
	return user
}
