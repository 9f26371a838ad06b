package app

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/danfezap/danfe-service/internal/domain"
	"github.com/danfezap/danfe-service/pkg/mercadopago"
)

type jobsRepoStub struct {
	*reconcileRepoStub
}

func (s *jobsRepoStub) ListStalePendingPayments(ctx context.Context, olderThan time.Time, limit int) ([]domain.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.payment != nil && s.payment.Status == domain.PaymentStatusPending {
		return []domain.Payment{*s.payment}, nil
	}
	return nil, nil
}

type gatewayDetailsStub struct {
	details *mercadopago.PaymentDetails
}

func (g *gatewayDetailsStub) GetPayment(ctx context.Context, paymentID string) (*mercadopago.PaymentDetails, error) {
	return g.details, nil
}

func newJobsFixture(status string) (*Jobs, *jobsRepoStub) {
	reconciler, inner, _ := newReconcileFixture()
	repo := &jobsRepoStub{reconcileRepoStub: inner}
	reconciler.repo = repo
	gateway := &gatewayDetailsStub{details: &mercadopago.PaymentDetails{
		ID:     1001,
		Status: status,
	}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewJobs(repo, reconciler, gateway, logger, 30*time.Minute), repo
}

func TestReconcileStalePayments_AppliesLateApproval(t *testing.T) {
	jobs, repo := newJobsFixture(mercadopago.StatusApproved)

	jobs.ReconcileStalePayments()

	if repo.payment.Status != domain.PaymentStatusApproved {
		t.Errorf("payment status = %q, want approved", repo.payment.Status)
	}
	if repo.grants != 1 {
		t.Errorf("grants = %d, want 1", repo.grants)
	}
}

func TestReconcileStalePayments_ExpiresUnpaidCharge(t *testing.T) {
	jobs, repo := newJobsFixture(mercadopago.StatusPending)

	jobs.ReconcileStalePayments()

	if repo.payment.Status != domain.PaymentStatusRejected {
		t.Errorf("payment status = %q, want rejected for expired charge", repo.payment.Status)
	}
	if repo.grants != 0 {
		t.Errorf("grants = %d, want 0", repo.grants)
	}
}

func TestReconcileStalePayments_AppliesGatewayRejection(t *testing.T) {
	jobs, repo := newJobsFixture(mercadopago.StatusCanceled)

	jobs.ReconcileStalePayments()

	if repo.payment.Status != domain.PaymentStatusRejected {
		t.Errorf("payment status = %q, want rejected", repo.payment.Status)
	}
	if repo.grants != 0 {
		t.Errorf("grants = %d, want 0", repo.grants)
	}
}

func TestReconcileStalePayments_LeavesUnknownStatusForNextSweep(t *testing.T) {
	jobs, repo := newJobsFixture("in_process")

	jobs.ReconcileStalePayments()

	if repo.payment.Status != domain.PaymentStatusPending {
		t.Errorf("payment status = %q, want pending left untouched", repo.payment.Status)
	}
	if repo.grants != 0 {
		t.Errorf("grants = %d, want 0", repo.grants)
	}
}

func TestReconcileStalePayments_IdempotentAcrossRuns(t *testing.T) {
	jobs, repo := newJobsFixture(mercadopago.StatusApproved)

	jobs.ReconcileStalePayments()
	jobs.ReconcileStalePayments()

	if repo.grants != 1 {
		t.Errorf("grants after two sweeps = %d, want 1", repo.grants)
	}
}
