/**
 * @description
 * This file defines the payment domain model and the notification payload that
 * drives reconciliation. A payment row exists for every charge issued to the
 * gateway; its status moves pending -> approved or pending -> rejected exactly
 * once, enforced by the store's compare-and-swap transition.
 */
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Payment statuses. Approved is terminal: re-applying an approval for an
// already-approved row is a no-op.
const (
	PaymentStatusPending  = "pending"
	PaymentStatusApproved = "approved"
	PaymentStatusRejected = "rejected"
)

// Payment represents one charge issued to the payment gateway.
type Payment struct {
	ID                    uuid.UUID  `json:"id"`
	UserID                uuid.UUID  `json:"user_id"`
	AmountCents           int64      `json:"amount_cents"`
	ExternalTransactionID string     `json:"external_transaction_id"`
	Status                string     `json:"status"`
	PaidAt                *time.Time `json:"paid_at,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

// PaymentNotification is the resolved form of an inbound gateway notification.
// The webhook payload alone only signals "check now"; Approved reflects the
// answer of the follow-up status query against the gateway.
type PaymentNotification struct {
	ExternalTransactionID string
	Approved              bool
	PaidAt                *time.Time
}

// ReconcileOutcome classifies the result of applying a payment notification.
type ReconcileOutcome string

const (
	ReconcileApplied          ReconcileOutcome = "applied"
	ReconcileAlreadyProcessed ReconcileOutcome = "already_processed"
	ReconcileNotFound         ReconcileOutcome = "not_found"
	ReconcileRejected         ReconcileOutcome = "rejected"
)
