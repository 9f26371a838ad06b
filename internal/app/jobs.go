/**
 * @description
 * Scheduled job implementations. The payment sweep backstops the webhook: a
 * missed or delayed notification is picked up by polling the gateway for
 * pending charges, and charges the user never paid are expired after the
 * configured TTL.
 */
package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/danfezap/danfe-service/internal/domain"
	"github.com/danfezap/danfe-service/internal/store"
	"github.com/danfezap/danfe-service/pkg/mercadopago"
)

// PaymentGateway defines the gateway queries the jobs need.
type PaymentGateway interface {
	GetPayment(ctx context.Context, paymentID string) (*mercadopago.PaymentDetails, error)
}

// Jobs contains the logic for all scheduled tasks.
type Jobs struct {
	repo         store.Repository
	reconciler   *PaymentReconciler
	gateway      PaymentGateway
	logger       *slog.Logger
	chargeExpiry time.Duration
	sweepLimit   int
}

// NewJobs creates a new Jobs runner.
func NewJobs(repo store.Repository, reconciler *PaymentReconciler, gateway PaymentGateway, logger *slog.Logger, chargeExpiry time.Duration) *Jobs {
	return &Jobs{
		repo:         repo,
		reconciler:   reconciler,
		gateway:      gateway,
		logger:       logger,
		chargeExpiry: chargeExpiry,
		sweepLimit:   100,
	}
}

// ReconcileStalePayments resolves pending payments whose webhook never
// arrived. For each pending charge past the expiry TTL it asks the gateway
// for the authoritative state: approvals are applied through the regular
// reconciliation path, terminal rejections and still-unpaid charges are
// marked rejected.
func (j *Jobs) ReconcileStalePayments() {
	j.logger.Info("starting stale payment reconciliation job")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	cutoff := time.Now().Add(-j.chargeExpiry)
	pending, err := j.repo.ListStalePendingPayments(ctx, cutoff, j.sweepLimit)
	if err != nil {
		j.logger.Error("failed to list stale pending payments", "error", err)
		return
	}
	if len(pending) == 0 {
		j.logger.Info("stale payment reconciliation job finished", "resolved", 0)
		return
	}

	resolved := 0
	for _, payment := range pending {
		details, err := j.gateway.GetPayment(ctx, payment.ExternalTransactionID)
		if err != nil {
			j.logger.Error("failed to query gateway for stale payment",
				"external_transaction_id", payment.ExternalTransactionID, "error", err)
			continue
		}

		switch details.Status {
		case mercadopago.StatusApproved:
			notification := domain.PaymentNotification{
				ExternalTransactionID: payment.ExternalTransactionID,
				Approved:              true,
				PaidAt:                details.DateApproved,
			}
			outcome, err := j.reconciler.Apply(ctx, notification)
			if err != nil {
				j.logger.Error("failed to apply late approval",
					"external_transaction_id", payment.ExternalTransactionID, "error", err)
				continue
			}
			j.logger.Info("late approval reconciled",
				"external_transaction_id", payment.ExternalTransactionID, "outcome", string(outcome))
			resolved++
		case mercadopago.StatusPending:
			// The charge expired unpaid at the gateway's end too; close it out.
			if _, err := j.repo.MarkPaymentRejected(ctx, payment.ExternalTransactionID); err != nil {
				j.logger.Error("failed to expire unpaid charge",
					"external_transaction_id", payment.ExternalTransactionID, "error", err)
				continue
			}
			j.logger.Info("expired unpaid charge", "external_transaction_id", payment.ExternalTransactionID)
			resolved++
		case mercadopago.StatusRejected, mercadopago.StatusCanceled:
			notification := domain.PaymentNotification{
				ExternalTransactionID: payment.ExternalTransactionID,
				Approved:              false,
			}
			if _, err := j.reconciler.Apply(ctx, notification); err != nil {
				j.logger.Error("failed to apply gateway rejection",
					"external_transaction_id", payment.ExternalTransactionID, "error", err)
				continue
			}
			j.logger.Info("gateway rejection reconciled",
				"external_transaction_id", payment.ExternalTransactionID, "status", details.Status)
			resolved++
		default:
			// Not a terminal state; leave the row for a later sweep.
			j.logger.Warn("unexpected gateway status for stale payment",
				"external_transaction_id", payment.ExternalTransactionID, "status", details.Status)
		}
	}

	j.logger.Info("stale payment reconciliation job finished", "pending", len(pending), "resolved", resolved)
}
