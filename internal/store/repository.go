/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract for
 * all data access operations required by the service. Defining an interface
 * decouples the business logic from the PostgreSQL implementation and lets the
 * tests substitute stubs.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID handling.
 * - internal/domain: For the service's domain models.
 */
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/danfezap/danfe-service/internal/domain"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("record not found")

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// User methods
	FindUserByPhone(ctx context.Context, phone string) (*domain.User, error)
	FindUserByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
	CreateUser(ctx context.Context, user *domain.User) (*domain.User, error)
	// ConsumeLookup applies one delivered lookup to the user's counters as a
	// single targeted mutation decided on the row's current state: subscribers
	// get monthly_used incremented, trial users get free_credits decremented
	// (floored at zero). A payment approval landing between the caller's read
	// and this write keeps its effect. Returns the post-mutation user.
	ConsumeLookup(ctx context.Context, userID uuid.UUID) (*domain.User, error)

	// Consultation audit methods
	CreateConsultation(ctx context.Context, c *domain.Consultation) error
	CountSuccessfulConsultations(ctx context.Context, userID uuid.UUID) (int, error)

	// Payment methods
	CreatePayment(ctx context.Context, p *domain.Payment) (*domain.Payment, error)
	FindPaymentByExternalID(ctx context.Context, externalTransactionID string) (*domain.Payment, error)
	// ApprovePaymentAndActivateUser performs the pending -> approved transition
	// and the user entitlement update as a single atomic unit. It returns
	// applied=false when the row was not in pending state, which is how
	// duplicate approval notifications are detected under concurrency.
	ApprovePaymentAndActivateUser(ctx context.Context, externalTransactionID string, paidAt time.Time, user *domain.User) (applied bool, err error)
	MarkPaymentRejected(ctx context.Context, externalTransactionID string) (applied bool, err error)
	ListStalePendingPayments(ctx context.Context, olderThan time.Time, limit int) ([]domain.Payment, error)

	// Stats methods
	GetStats(ctx context.Context, now time.Time) (*domain.Stats, error)
}
