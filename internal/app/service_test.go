package app

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/danfezap/danfe-service/internal/domain"
	"github.com/danfezap/danfe-service/internal/store"
	"github.com/danfezap/danfe-service/pkg/mercadopago"
)

const validTestKey = "35250112345678000199550010001234561123456781"

type serviceRepoStub struct {
	store.Repository

	users         map[string]*domain.User
	consultations []domain.Consultation
	payments      []domain.Payment
	consumes      int
}

func newServiceRepoStub() *serviceRepoStub {
	return &serviceRepoStub{users: make(map[string]*domain.User)}
}

func (s *serviceRepoStub) FindUserByPhone(ctx context.Context, phone string) (*domain.User, error) {
	user, ok := s.users[phone]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := *user
	return &copied, nil
}

func (s *serviceRepoStub) CreateUser(ctx context.Context, user *domain.User) (*domain.User, error) {
	user.ID = uuid.New()
	s.users[user.Phone] = user
	copied := *user
	return &copied, nil
}

func (s *serviceRepoStub) ConsumeLookup(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	for _, user := range s.users {
		if user.ID != userID {
			continue
		}
		s.consumes++
		if user.IsSubscriber {
			user.MonthlyUsed++
		} else if user.FreeCredits > 0 {
			user.FreeCredits--
		}
		copied := *user
		return &copied, nil
	}
	return nil, store.ErrNotFound
}

func (s *serviceRepoStub) CreateConsultation(ctx context.Context, c *domain.Consultation) error {
	s.consultations = append(s.consultations, *c)
	return nil
}

func (s *serviceRepoStub) CountSuccessfulConsultations(ctx context.Context, userID uuid.UUID) (int, error) {
	count := 0
	for _, c := range s.consultations {
		if c.UserID == userID && c.Succeeded {
			count++
		}
	}
	return count, nil
}

func (s *serviceRepoStub) CreatePayment(ctx context.Context, p *domain.Payment) (*domain.Payment, error) {
	p.ID = uuid.New()
	s.payments = append(s.payments, *p)
	copied := *p
	return &copied, nil
}

type sentDocument struct {
	filename string
	data     []byte
}

type messengerStub struct {
	texts     []string
	documents []sentDocument
	images    int
}

func (m *messengerStub) SendText(ctx context.Context, phone, text string) error {
	m.texts = append(m.texts, text)
	return nil
}

func (m *messengerStub) SendDocument(ctx context.Context, phone, filename, mimeType string, data []byte, caption string) error {
	m.documents = append(m.documents, sentDocument{filename: filename, data: data})
	return nil
}

func (m *messengerStub) SendImage(ctx context.Context, phone string, data []byte, caption string) error {
	m.images++
	return nil
}

type fetcherStub struct {
	result domain.LookupResult
	calls  int
}

func (f *fetcherStub) Fetch(ctx context.Context, key string) domain.LookupResult {
	f.calls++
	return f.result
}

// blockingFetcher parks inside Fetch until released, so a test can interleave
// out-of-band writes with an in-flight lookup.
type blockingFetcher struct {
	started chan struct{}
	release chan struct{}
	result  domain.LookupResult
}

func (f *blockingFetcher) Fetch(ctx context.Context, key string) domain.LookupResult {
	close(f.started)
	<-f.release
	return f.result
}

type gatewayStub struct {
	charges int
	fail    bool
}

func (g *gatewayStub) CreatePixCharge(ctx context.Context, amountCents int64, description, payerEmail, externalRef, notificationURL string, ttl time.Duration) (*mercadopago.PixCharge, error) {
	g.calls()
	if g.fail {
		return nil, context.DeadlineExceeded
	}
	return &mercadopago.PixCharge{
		ID:           42,
		Status:       "pending",
		QRCode:       "00020126pixcode",
		QRCodeBase64: "aW1n",
	}, nil
}

func (g *gatewayStub) calls() { g.charges++ }

type serviceFixture struct {
	service   *Service
	repo      *serviceRepoStub
	messenger *messengerStub
	fetcher   *fetcherStub
	gateway   *gatewayStub
	producer  *publisherStub
}

func newServiceFixture(result domain.LookupResult) *serviceFixture {
	repo := newServiceRepoStub()
	messenger := &messengerStub{}
	fetcher := &fetcherStub{result: result}
	gateway := &gatewayStub{}
	producer := &publisherStub{}
	engine := NewEntitlementEngine(5, 100, 30)
	svc := NewService(repo, engine, fetcher, messenger, gateway, producer, NewRedisLookupRateLimiter(nil, ""), ServiceConfig{
		SubscriptionCents:   1490,
		ChargeExpiry:        30 * time.Minute,
		LookupRatePerMinute: 0,
		WebhookBaseURL:      "https://bot.example",
		MessageExchange:     "danfe_service.events",
	})
	svc.now = func() time.Time { return time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC) }
	return &serviceFixture{service: svc, repo: repo, messenger: messenger, fetcher: fetcher, gateway: gateway, producer: producer}
}

func successResult() domain.LookupResult {
	return domain.LookupResult{
		Succeeded: true,
		Attempts:  1,
		Artifacts: &domain.LookupArtifacts{
			PDF:         []byte("pdf"),
			PDFFilename: "DANFE_23456786.pdf",
			XML:         []byte("<xml/>"),
			XMLFilename: "NFE_23456786.xml",
		},
	}
}

func TestHandleInbound_NewUserGetsWelcomeAndLookup(t *testing.T) {
	f := newServiceFixture(successResult())

	if err := f.service.HandleInbound(context.Background(), "+55 (11) 98765-4321", "Maria", validTestKey); err != nil {
		t.Fatalf("HandleInbound returned error: %v", err)
	}

	user, ok := f.repo.users["5511987654321"]
	if !ok {
		t.Fatal("expected user to be created with normalized phone")
	}
	if user.FreeCredits != 4 {
		t.Errorf("free credits = %d, want 4 after one consumed lookup", user.FreeCredits)
	}
	if len(f.producer.events) != 1 || f.producer.events[0].Kind != "welcome" {
		t.Errorf("expected one welcome event, got %+v", f.producer.events)
	}
	if len(f.repo.consultations) != 1 || !f.repo.consultations[0].Succeeded {
		t.Errorf("expected one successful consultation, got %+v", f.repo.consultations)
	}
	if len(f.messenger.documents) != 2 {
		t.Fatalf("expected pdf and xml delivery, got %+v", f.messenger.documents)
	}
	if f.messenger.documents[0].filename != "DANFE_23456786.pdf" {
		t.Errorf("unexpected pdf filename: %q", f.messenger.documents[0].filename)
	}
}

func TestHandleInbound_PaymentDuringFetchKeepsSubscription(t *testing.T) {
	f := newServiceFixture(successResult())
	blocker := &blockingFetcher{started: make(chan struct{}), release: make(chan struct{}), result: successResult()}
	f.service.fetcher = blocker
	f.repo.users["5511987654321"] = &domain.User{ID: uuid.New(), Phone: "5511987654321", FreeCredits: 5, Active: true}

	done := make(chan error, 1)
	go func() {
		done <- f.service.HandleInbound(context.Background(), "5511987654321", "", validTestKey)
	}()

	<-blocker.started
	// A Pix approval lands while the fetch is still in flight: the reconciler
	// persists the activated snapshot out of band.
	stored := f.repo.users["5511987654321"]
	*stored = f.service.engine.ApplyPayment(*stored, f.service.now())
	close(blocker.release)

	if err := <-done; err != nil {
		t.Fatalf("HandleInbound returned error: %v", err)
	}
	final := f.repo.users["5511987654321"]
	if !final.IsSubscriber || final.ExpiresAt == nil {
		t.Fatalf("subscription granted mid-lookup was lost: %+v", final)
	}
	if final.MonthlyUsed != 1 {
		t.Errorf("monthly used = %d, want 1 (lookup charged against the new quota)", final.MonthlyUsed)
	}
	if final.FreeCredits != 0 {
		t.Errorf("free credits = %d, want 0 after activation", final.FreeCredits)
	}
}

func TestHandleInbound_FailedLookupNeverConsumes(t *testing.T) {
	f := newServiceFixture(domain.LookupResult{Attempts: 3, LastError: "lookup transient: upstream 503"})
	f.repo.users["5511987654321"] = &domain.User{ID: uuid.New(), Phone: "5511987654321", FreeCredits: 5, Active: true}

	if err := f.service.HandleInbound(context.Background(), "5511987654321", "", validTestKey); err != nil {
		t.Fatalf("HandleInbound returned error: %v", err)
	}

	if f.repo.consumes != 0 {
		t.Errorf("entitlement must not change on a failed lookup, got %d consumptions", f.repo.consumes)
	}
	if f.repo.users["5511987654321"].FreeCredits != 5 {
		t.Errorf("free credits = %d, want 5 untouched", f.repo.users["5511987654321"].FreeCredits)
	}
	if len(f.repo.consultations) != 1 || f.repo.consultations[0].Succeeded {
		t.Errorf("expected one failed consultation, got %+v", f.repo.consultations)
	}
	if f.repo.consultations[0].Attempts != 3 {
		t.Errorf("attempts = %d, want 3", f.repo.consultations[0].Attempts)
	}
	last := f.messenger.texts[len(f.messenger.texts)-1]
	if last != lookupFailedMessage {
		t.Errorf("expected generic failure message, got %q", last)
	}
}

func TestHandleInbound_NotYetAvailableMessage(t *testing.T) {
	f := newServiceFixture(domain.LookupResult{Attempts: 3, LastError: "lookup not_found: document not available", NotYetAvailable: true})
	f.repo.users["5511987654321"] = &domain.User{ID: uuid.New(), Phone: "5511987654321", FreeCredits: 5, Active: true}

	if err := f.service.HandleInbound(context.Background(), "5511987654321", "", validTestKey); err != nil {
		t.Fatalf("HandleInbound returned error: %v", err)
	}
	last := f.messenger.texts[len(f.messenger.texts)-1]
	if last != notYetAvailableMessage {
		t.Errorf("expected not-yet-available message, got %q", last)
	}
}

func TestHandleInbound_InvalidKeySkipsFetch(t *testing.T) {
	f := newServiceFixture(successResult())
	f.repo.users["5511987654321"] = &domain.User{ID: uuid.New(), Phone: "5511987654321", FreeCredits: 5, Active: true}

	badKey := validTestKey[:43] + "2"
	if err := f.service.HandleInbound(context.Background(), "5511987654321", "", badKey); err != nil {
		t.Fatalf("HandleInbound returned error: %v", err)
	}

	if f.fetcher.calls != 0 {
		t.Errorf("fetch must not run for an invalid key, got %d calls", f.fetcher.calls)
	}
	if len(f.repo.consultations) != 1 || f.repo.consultations[0].Succeeded {
		t.Errorf("expected one failed consultation for the invalid key, got %+v", f.repo.consultations)
	}
	if f.messenger.texts[len(f.messenger.texts)-1] != invalidKeyMessage {
		t.Errorf("expected invalid key message, got %q", f.messenger.texts)
	}
}

func TestHandleInbound_ExhaustedCreditsIssuesCharge(t *testing.T) {
	f := newServiceFixture(successResult())
	f.repo.users["5511987654321"] = &domain.User{ID: uuid.New(), Phone: "5511987654321", FreeCredits: 0, Active: true}

	if err := f.service.HandleInbound(context.Background(), "5511987654321", "", validTestKey); err != nil {
		t.Fatalf("HandleInbound returned error: %v", err)
	}

	if f.fetcher.calls != 0 {
		t.Error("fetch must not run for a denied user")
	}
	if f.gateway.charges != 1 {
		t.Errorf("charges = %d, want 1", f.gateway.charges)
	}
	if len(f.repo.payments) != 1 {
		t.Fatalf("expected one pending payment row, got %+v", f.repo.payments)
	}
	payment := f.repo.payments[0]
	if payment.Status != domain.PaymentStatusPending || payment.ExternalTransactionID != "42" || payment.AmountCents != 1490 {
		t.Errorf("unexpected payment row: %+v", payment)
	}
	if f.messenger.images != 1 {
		t.Errorf("expected one qr image, got %d", f.messenger.images)
	}
	found := false
	for _, text := range f.messenger.texts {
		if strings.Contains(text, "R$ 14,90") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected upsell with price, got %q", f.messenger.texts)
	}
}

func TestHandleInbound_QuotaReachedSendsMessageOnly(t *testing.T) {
	f := newServiceFixture(successResult())
	expiresAt := time.Date(2026, 9, 15, 0, 0, 0, 0, time.UTC)
	f.repo.users["5511987654321"] = &domain.User{
		ID: uuid.New(), Phone: "5511987654321", Active: true,
		IsSubscriber: true, MonthlyUsed: 100, MonthlyLimit: 100, ExpiresAt: &expiresAt,
	}

	if err := f.service.HandleInbound(context.Background(), "5511987654321", "", validTestKey); err != nil {
		t.Fatalf("HandleInbound returned error: %v", err)
	}

	if f.gateway.charges != 0 {
		t.Errorf("quota denial must not issue a charge, got %d", f.gateway.charges)
	}
	if f.fetcher.calls != 0 {
		t.Error("fetch must not run at quota")
	}
	if len(f.repo.consultations) != 0 {
		t.Errorf("quota denial must not record a consultation, got %+v", f.repo.consultations)
	}
	last := f.messenger.texts[len(f.messenger.texts)-1]
	if !strings.Contains(last, "100 consultas") {
		t.Errorf("expected quota message, got %q", last)
	}
}

func TestHandleInbound_ExpiredSubscriberGetsRenewalCharge(t *testing.T) {
	f := newServiceFixture(successResult())
	expiresAt := time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC)
	f.repo.users["5511987654321"] = &domain.User{
		ID: uuid.New(), Phone: "5511987654321", Active: true,
		IsSubscriber: true, MonthlyUsed: 10, MonthlyLimit: 100, ExpiresAt: &expiresAt,
	}

	if err := f.service.HandleInbound(context.Background(), "5511987654321", "", validTestKey); err != nil {
		t.Fatalf("HandleInbound returned error: %v", err)
	}
	if f.gateway.charges != 1 {
		t.Errorf("charges = %d, want 1", f.gateway.charges)
	}
	found := false
	for _, text := range f.messenger.texts {
		if strings.Contains(text, "assinatura venceu") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected renewal message, got %q", f.messenger.texts)
	}
}

func TestHandleInbound_Commands(t *testing.T) {
	f := newServiceFixture(successResult())
	f.repo.users["5511987654321"] = &domain.User{ID: uuid.New(), Phone: "5511987654321", FreeCredits: 3, Active: true}

	if err := f.service.HandleInbound(context.Background(), "5511987654321", "", "Ajuda"); err != nil {
		t.Fatalf("HandleInbound returned error: %v", err)
	}
	if f.messenger.texts[len(f.messenger.texts)-1] != instructionsMessage {
		t.Errorf("expected instructions, got %q", f.messenger.texts)
	}

	if err := f.service.HandleInbound(context.Background(), "5511987654321", "", "status"); err != nil {
		t.Fatalf("HandleInbound returned error: %v", err)
	}
	last := f.messenger.texts[len(f.messenger.texts)-1]
	if !strings.Contains(last, "Sua assinatura") || !strings.Contains(last, "3 consultas grátis") {
		t.Errorf("expected status message with trial credits, got %q", last)
	}

	if err := f.service.HandleInbound(context.Background(), "5511987654321", "", "oi, tudo bem?"); err != nil {
		t.Fatalf("HandleInbound returned error: %v", err)
	}
	if f.messenger.texts[len(f.messenger.texts)-1] != instructionsMessage {
		t.Errorf("expected instructions for unrecognized text, got %q", f.messenger.texts)
	}
	if f.fetcher.calls != 0 {
		t.Errorf("no command should trigger a fetch, got %d", f.fetcher.calls)
	}
}

func TestHandleInbound_ChargeFailureTellsUser(t *testing.T) {
	f := newServiceFixture(successResult())
	f.gateway.fail = true
	f.repo.users["5511987654321"] = &domain.User{ID: uuid.New(), Phone: "5511987654321", FreeCredits: 0, Active: true}

	if err := f.service.HandleInbound(context.Background(), "5511987654321", "", validTestKey); err != nil {
		t.Fatalf("HandleInbound returned error: %v", err)
	}
	if len(f.repo.payments) != 0 {
		t.Errorf("no payment row should exist after a gateway failure, got %+v", f.repo.payments)
	}
	if f.messenger.texts[len(f.messenger.texts)-1] != chargeFailedMessage {
		t.Errorf("expected charge failure message, got %q", f.messenger.texts)
	}
}
