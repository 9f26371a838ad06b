/**
 * @description
 * This file implements payment reconciliation: applying an inbound gateway
 * notification to the local payment row and, on approval, granting the
 * subscription. Duplicate and concurrent deliveries for the same transaction
 * id are safe: the store's compare-and-swap on the pending status guarantees
 * exactly one entitlement grant.
 */
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/danfezap/danfe-service/internal/domain"
	"github.com/danfezap/danfe-service/internal/store"
	"github.com/danfezap/danfe-service/pkg/rabbitmq"
)

// PaymentReconciler applies gateway payment notifications.
type PaymentReconciler struct {
	repo     store.Repository
	engine   EntitlementEngine
	producer rabbitmq.Publisher
	exchange string
	now      func() time.Time
}

// NewPaymentReconciler creates a reconciler. The producer publishes the
// payment-confirmed message for asynchronous delivery to the user.
func NewPaymentReconciler(repo store.Repository, engine EntitlementEngine, producer rabbitmq.Publisher, exchange string) *PaymentReconciler {
	return &PaymentReconciler{
		repo:     repo,
		engine:   engine,
		producer: producer,
		exchange: exchange,
		now:      time.Now,
	}
}

// Apply reconciles one notification. Outcomes:
//   - Applied: the payment moved pending -> approved and the subscription was granted.
//   - AlreadyProcessed: the payment was already approved, or a concurrent
//     delivery won the race. No entitlement change.
//   - Rejected: the gateway reported a non-approved terminal state.
//   - NotFound: no local payment row exists for the transaction id.
func (r *PaymentReconciler) Apply(ctx context.Context, notification domain.PaymentNotification) (domain.ReconcileOutcome, error) {
	payment, err := r.repo.FindPaymentByExternalID(ctx, notification.ExternalTransactionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			log.Printf("level=warn component=reconciler msg=\"notification for unknown payment\" external_transaction_id=%s", notification.ExternalTransactionID)
			return domain.ReconcileNotFound, nil
		}
		return "", fmt.Errorf("failed to load payment %s: %w", notification.ExternalTransactionID, err)
	}

	if payment.Status == domain.PaymentStatusApproved {
		return domain.ReconcileAlreadyProcessed, nil
	}

	if !notification.Approved {
		applied, err := r.repo.MarkPaymentRejected(ctx, notification.ExternalTransactionID)
		if err != nil {
			return "", fmt.Errorf("failed to mark payment %s rejected: %w", notification.ExternalTransactionID, err)
		}
		if !applied {
			return domain.ReconcileAlreadyProcessed, nil
		}
		log.Printf("level=info component=reconciler msg=\"payment rejected\" external_transaction_id=%s", notification.ExternalTransactionID)
		return domain.ReconcileRejected, nil
	}

	user, err := r.repo.FindUserByID(ctx, payment.UserID)
	if err != nil {
		return "", fmt.Errorf("failed to load user %s for payment %s: %w", payment.UserID, notification.ExternalTransactionID, err)
	}

	now := r.now()
	paidAt := now
	if notification.PaidAt != nil {
		paidAt = *notification.PaidAt
	}
	activated := r.engine.ApplyPayment(*user, now)

	applied, err := r.repo.ApprovePaymentAndActivateUser(ctx, notification.ExternalTransactionID, paidAt, &activated)
	if err != nil {
		return "", fmt.Errorf("failed to approve payment %s: %w", notification.ExternalTransactionID, err)
	}
	if !applied {
		// A concurrent delivery flipped the status first.
		return domain.ReconcileAlreadyProcessed, nil
	}

	log.Printf("level=info component=reconciler msg=\"payment approved\" external_transaction_id=%s user_id=%s expires_at=%s",
		notification.ExternalTransactionID, user.ID, activated.ExpiresAt.Format(time.RFC3339))

	event := domain.OutboundMessageEvent{
		Phone: user.Phone,
		Text: fmt.Sprintf("✅ Pagamento confirmado! Sua assinatura está ativa até %s. Você tem %d consultas este mês.",
			activated.ExpiresAt.Format("02/01/2006"), activated.MonthlyLimit),
		Kind: "payment_confirmed",
	}
	if err := r.producer.Publish(ctx, r.exchange, domain.OutboundMessageRoutingKey, event); err != nil {
		// The grant already committed; delivery failure is logged, not rolled back.
		log.Printf("level=error component=reconciler msg=\"failed to publish confirmation message\" user_id=%s err=%v", user.ID, err)
	}

	return domain.ReconcileApplied, nil
}
