/**
 * @description
 * This file contains the core business logic for the bot: routing inbound
 * WhatsApp messages through validation, admission, lookup and delivery, and
 * issuing Pix charges when a user runs out of entitlement. Per-user handling
 * is serialized with a keyed lock so the admit-fetch-consume sequence can
 * never race with itself.
 */
package app

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/danfezap/danfe-service/internal/domain"
	"github.com/danfezap/danfe-service/internal/nfekey"
	"github.com/danfezap/danfe-service/internal/store"
	"github.com/danfezap/danfe-service/pkg/mercadopago"
	"github.com/danfezap/danfe-service/pkg/rabbitmq"
)

// Messenger abstracts outbound WhatsApp delivery.
type Messenger interface {
	SendText(ctx context.Context, phone, text string) error
	SendDocument(ctx context.Context, phone, filename, mimeType string, data []byte, caption string) error
	SendImage(ctx context.Context, phone string, data []byte, caption string) error
}

// ChargeGateway abstracts Pix charge creation against the payment provider.
type ChargeGateway interface {
	CreatePixCharge(ctx context.Context, amountCents int64, description, payerEmail, externalRef, notificationURL string, ttl time.Duration) (*mercadopago.PixCharge, error)
}

// Fetcher abstracts the retrying lookup orchestrator.
type Fetcher interface {
	Fetch(ctx context.Context, key string) domain.LookupResult
}

// ServiceConfig carries the tunables the coordinator needs.
type ServiceConfig struct {
	SubscriptionCents   int64
	ChargeExpiry        time.Duration
	LookupRatePerMinute int
	WebhookBaseURL      string
	MessageExchange     string
}

// Service coordinates inbound message handling.
type Service struct {
	repo      store.Repository
	engine    EntitlementEngine
	fetcher   Fetcher
	messenger Messenger
	gateway   ChargeGateway
	producer  rabbitmq.Publisher
	limiter   *RedisLookupRateLimiter
	locks     *userLocks
	cfg       ServiceConfig
	now       func() time.Time
}

// NewService creates the message-handling service.
func NewService(
	repo store.Repository,
	engine EntitlementEngine,
	fetcher Fetcher,
	messenger Messenger,
	gateway ChargeGateway,
	producer rabbitmq.Publisher,
	limiter *RedisLookupRateLimiter,
	cfg ServiceConfig,
) *Service {
	return &Service{
		repo:      repo,
		engine:    engine,
		fetcher:   fetcher,
		messenger: messenger,
		gateway:   gateway,
		producer:  producer,
		limiter:   limiter,
		locks:     newUserLocks(),
		cfg:       cfg,
		now:       time.Now,
	}
}

// HandleInbound processes one inbound text message from a user.
func (s *Service) HandleInbound(ctx context.Context, phone, name, text string) error {
	phone = digitsOnly(phone)
	if phone == "" {
		return errors.New("inbound message without a sender phone")
	}

	user, err := s.findOrCreateUser(ctx, phone, name)
	if err != nil {
		return err
	}

	trimmed := strings.TrimSpace(text)
	switch strings.ToLower(trimmed) {
	case "status":
		return s.sendStatus(ctx, user)
	case "ajuda", "help", "menu":
		return s.messenger.SendText(ctx, phone, instructionsMessage)
	}

	// Only digit sequences (ignoring common separators) are treated as key
	// attempts; anything else gets the instructions.
	stripped := strings.Map(func(r rune) rune {
		if r == ' ' || r == '.' || r == '-' {
			return -1
		}
		return r
	}, trimmed)
	if !isAllDigits(stripped) {
		return s.messenger.SendText(ctx, phone, instructionsMessage)
	}

	return s.handleLookup(ctx, user, nfekey.Normalize(trimmed))
}

func (s *Service) findOrCreateUser(ctx context.Context, phone, name string) (*domain.User, error) {
	user, err := s.repo.FindUserByPhone(ctx, phone)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("failed to look up user %s: %w", phone, err)
	}

	created, err := s.repo.CreateUser(ctx, s.engine.NewUser(phone, name))
	if err != nil {
		return nil, fmt.Errorf("failed to create user %s: %w", phone, err)
	}
	log.Printf("level=info component=service msg=\"new user registered\" user_id=%s", created.ID)

	// Welcome delivery is deferred to the messaging consumer so a slow or
	// failing send never blocks handling of the first message.
	event := domain.OutboundMessageEvent{
		Phone: phone,
		Text:  welcomeMessage(s.engine.FreeLookups),
		Kind:  "welcome",
	}
	if err := s.producer.Publish(ctx, s.cfg.MessageExchange, domain.OutboundMessageRoutingKey, event); err != nil {
		log.Printf("level=error component=service msg=\"failed to publish welcome message\" user_id=%s err=%v", created.ID, err)
	}
	return created, nil
}

func (s *Service) handleLookup(ctx context.Context, user *domain.User, key string) error {
	info, err := nfekey.Parse(key)
	if err != nil {
		s.recordConsultation(ctx, user.ID, key, false, 0, err.Error())
		log.Printf("level=info component=service msg=\"rejected invalid key\" user_id=%s err=%v", user.ID, err)
		return s.messenger.SendText(ctx, user.Phone, invalidKeyMessage)
	}
	log.Printf("level=info component=service msg=\"key accepted\" user_id=%s uf=%s model=%s issued=%s/%s", user.ID, info.UF, info.Model, info.Month, info.Year)

	if s.cfg.LookupRatePerMinute > 0 {
		count, retryAfter, err := s.limiter.ConsumeRateLimit(ctx, user.Phone, s.cfg.LookupRatePerMinute, time.Minute)
		if err != nil {
			// Fail open: a limiter outage must not block lookups.
			log.Printf("level=error component=service msg=\"rate limiter unavailable\" err=%v", err)
		} else if count > s.cfg.LookupRatePerMinute {
			return s.messenger.SendText(ctx, user.Phone, rateLimitedMessage(retryAfter))
		}
	}

	unlock := s.locks.Lock(user.Phone)
	defer unlock()

	// Re-read inside the lock: a payment may have landed since the first read.
	user, err = s.repo.FindUserByPhone(ctx, user.Phone)
	if err != nil {
		return fmt.Errorf("failed to reload user: %w", err)
	}

	now := s.now()
	admission := s.engine.Admit(user, now)
	if !admission.Allowed {
		return s.handleDenial(ctx, user, admission.Reason)
	}

	if err := s.messenger.SendText(ctx, user.Phone, processingMessage); err != nil {
		log.Printf("level=warn component=service msg=\"failed to send processing notice\" user_id=%s err=%v", user.ID, err)
	}

	result := s.fetcher.Fetch(ctx, key)
	if !result.Succeeded {
		s.recordConsultation(ctx, user.ID, key, false, result.Attempts, result.LastError)
		if result.NotYetAvailable {
			return s.messenger.SendText(ctx, user.Phone, notYetAvailableMessage)
		}
		return s.messenger.SendText(ctx, user.Phone, lookupFailedMessage)
	}

	// Quota is metered by delivered documents only; a failed fetch above
	// never reaches this point. Consumption is a targeted mutation resolved
	// on the row's current state: a payment approved during the fetch window
	// keeps its grant and this lookup is charged against the new quota.
	consumed, err := s.repo.ConsumeLookup(ctx, user.ID)
	if err != nil {
		return fmt.Errorf("failed to persist consumption for user %s: %w", user.ID, err)
	}
	s.recordConsultation(ctx, user.ID, key, true, result.Attempts, "")

	return s.deliverArtifacts(ctx, consumed, result.Artifacts)
}

func (s *Service) deliverArtifacts(ctx context.Context, user *domain.User, artifacts *domain.LookupArtifacts) error {
	if err := s.messenger.SendDocument(ctx, user.Phone, artifacts.PDFFilename, "application/pdf", artifacts.PDF, ""); err != nil {
		return fmt.Errorf("failed to deliver pdf: %w", err)
	}
	if len(artifacts.XML) > 0 {
		if err := s.messenger.SendDocument(ctx, user.Phone, artifacts.XMLFilename, "text/xml", artifacts.XML, ""); err != nil {
			log.Printf("level=warn component=service msg=\"failed to deliver xml companion\" user_id=%s err=%v", user.ID, err)
		}
	}
	text := successMessage + "\n\n" + remainingMessage(user)
	return s.messenger.SendText(ctx, user.Phone, text)
}

func (s *Service) handleDenial(ctx context.Context, user *domain.User, reason DenialReason) error {
	switch reason {
	case DenyInactive:
		return s.messenger.SendText(ctx, user.Phone, inactiveAccountMessage)
	case DenyQuotaReached:
		return s.messenger.SendText(ctx, user.Phone, quotaReachedMessage(user.MonthlyLimit, user.ExpiresAt))
	case DenyCreditsExhausted:
		return s.issueCharge(ctx, user, subscribeMessage(s.cfg.SubscriptionCents))
	case DenySubscriptionExpired:
		return s.issueCharge(ctx, user, renewMessage(s.cfg.SubscriptionCents))
	}
	return fmt.Errorf("unhandled denial reason %q", reason)
}

// issueCharge creates a Pix charge at the gateway, records the pending
// payment row and sends the QR code to the user.
func (s *Service) issueCharge(ctx context.Context, user *domain.User, upsell string) error {
	notificationURL := ""
	if s.cfg.WebhookBaseURL != "" {
		notificationURL = strings.TrimSuffix(s.cfg.WebhookBaseURL, "/") + "/webhook/payments"
	}
	payerEmail := user.Phone + "@danfezap.com.br"
	charge, err := s.gateway.CreatePixCharge(ctx, s.cfg.SubscriptionCents, "Assinatura Bot DANFE", payerEmail, user.ID.String(), notificationURL, s.cfg.ChargeExpiry)
	if err != nil {
		log.Printf("level=error component=service msg=\"failed to create pix charge\" user_id=%s err=%v", user.ID, err)
		return s.messenger.SendText(ctx, user.Phone, chargeFailedMessage)
	}

	payment := &domain.Payment{
		UserID:                user.ID,
		AmountCents:           s.cfg.SubscriptionCents,
		ExternalTransactionID: fmt.Sprintf("%d", charge.ID),
		Status:                domain.PaymentStatusPending,
	}
	if _, err := s.repo.CreatePayment(ctx, payment); err != nil {
		return fmt.Errorf("failed to record payment for user %s: %w", user.ID, err)
	}
	log.Printf("level=info component=service msg=\"pix charge issued\" user_id=%s external_transaction_id=%s amount_cents=%d", user.ID, payment.ExternalTransactionID, payment.AmountCents)

	if err := s.messenger.SendText(ctx, user.Phone, upsell); err != nil {
		return err
	}

	if charge.QRCodeBase64 != "" {
		qrBytes, decodeErr := base64.StdEncoding.DecodeString(charge.QRCodeBase64)
		if decodeErr == nil {
			if err := s.messenger.SendImage(ctx, user.Phone, qrBytes, pixCodeCaption(charge.QRCode)); err != nil {
				log.Printf("level=warn component=service msg=\"failed to send qr image\" user_id=%s err=%v", user.ID, err)
			}
			return nil
		}
		log.Printf("level=warn component=service msg=\"invalid qr image payload\" user_id=%s err=%v", user.ID, decodeErr)
	}
	// No renderable QR image: fall back to the copy-paste code as text.
	return s.messenger.SendText(ctx, user.Phone, pixCodeCaption(charge.QRCode))
}

func (s *Service) sendStatus(ctx context.Context, user *domain.User) error {
	total, err := s.repo.CountSuccessfulConsultations(ctx, user.ID)
	if err != nil {
		log.Printf("level=warn component=service msg=\"failed to count consultations\" user_id=%s err=%v", user.ID, err)
		total = 0
	}
	return s.messenger.SendText(ctx, user.Phone, statusMessage(user, total, s.now()))
}

// Stats returns service-wide counters for the operational endpoint.
func (s *Service) Stats(ctx context.Context) (*domain.Stats, error) {
	return s.repo.GetStats(ctx, s.now())
}

func (s *Service) recordConsultation(ctx context.Context, userID uuid.UUID, key string, succeeded bool, attempts int, lastError string) {
	c := &domain.Consultation{
		UserID:    userID,
		AccessKey: key,
		Succeeded: succeeded,
		Attempts:  attempts,
	}
	if lastError != "" {
		c.LastError = &lastError
	}
	if err := s.repo.CreateConsultation(ctx, c); err != nil {
		log.Printf("level=error component=service msg=\"failed to record consultation\" user_id=%s err=%v", c.UserID, err)
	}
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func isAllDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}
