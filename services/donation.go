package services

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sevasetu/donation-service/models"
	"github.com/sevasetu/donation-service/utils"
	"gorm.io/datatypes"
)

// DonationConfig carries the externally supplied knobs for the donation flow.
type DonationConfig struct {
	MaxAmount     int    // ceiling in whole rupees, blocks abuse
	Currency      string // e.g. INR
	KeySecret     string // signs checkout confirmations
	WebhookSecret string // signs webhook bodies, distinct from KeySecret
	Purpose       string // classification tag stamped on every donation
}

// DonationService implements the donation payment lifecycle: order creation,
// client-side confirmation, webhook reconciliation, status polling and the
// admin views. All state lives in the store; the only in-process state is the
// stats cache and the paid-callback used for the live feed.
type DonationService struct {
	store   DonationStore
	gateway Gateway
	config  DonationConfig

	onPaid func(*models.Donation)

	statsCache      *DonationStats
	statsCachedAt   time.Time
	cacheMutex      sync.RWMutex
	cacheExpiration time.Duration
}

func NewDonationService(store DonationStore, gateway Gateway, config DonationConfig) *DonationService {
	if config.MaxAmount <= 0 {
		config.MaxAmount = 100000
	}
	if config.Currency == "" {
		config.Currency = "INR"
	}
	if config.Purpose == "" {
		config.Purpose = "donation"
	}
	return &DonationService{
		store:           store,
		gateway:         gateway,
		config:          config,
		cacheExpiration: 5 * time.Minute,
	}
}

// SetPaidCallback registers the hook invoked exactly once per donation, at the
// moment the created -> paid transition is applied (by either the confirmation
// or the webhook path, whichever wins).
func (ds *DonationService) SetPaidCallback(fn func(*models.Donation)) {
	ds.onPaid = fn
}

type CreateOrderInput struct {
	Amount int
	Name   string
	Email  string
}

// OrderDescriptor is what the client needs to open the gateway checkout UI.
type OrderDescriptor struct {
	OrderID  string `json:"orderId"`
	Amount   int64  `json:"amount"` // paise
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
}

// CreateOrder validates a donation request, opens a gateway order and persists
// a Donation in created state. Gateway failure aborts before any persistence.
func (ds *DonationService) CreateOrder(ctx context.Context, input CreateOrderInput, userID *uint) (*OrderDescriptor, error) {
	if input.Amount <= 0 {
		return nil, serviceErr(ErrInvalidAmount, "donation amount must be a positive integer")
	}
	if input.Amount > ds.config.MaxAmount {
		return nil, serviceErr(ErrAmountTooLarge, "donation amount exceeds the limit of %d", ds.config.MaxAmount)
	}
	name := strings.TrimSpace(input.Name)
	email := strings.TrimSpace(input.Email)
	if userID == nil && (name == "" || email == "") {
		return nil, serviceErr(ErrMissingDonorIdentity, "name and email are required for guest donations")
	}

	receipt := utils.GenerateReceipt()
	amountPaise := int64(input.Amount) * 100

	order, err := ds.gateway.CreateOrder(ctx, amountPaise, ds.config.Currency, receipt)
	if err != nil {
		log.Printf("Gateway order creation failed: %v", err)
		return nil, serviceErr(ErrGateway, "failed to create payment order")
	}

	donation := models.Donation{
		UserID:          userID,
		Amount:          input.Amount,
		Currency:        ds.config.Currency,
		Purpose:         ds.config.Purpose,
		Receipt:         receipt,
		RazorpayOrderID: order.ID,
		Status:          models.StatusCreated,
	}
	if userID == nil {
		donation.DonorName = name
		donation.DonorEmail = email
	}

	if err := ds.store.Create(ctx, &donation); err != nil {
		log.Printf("Failed to persist donation for order %s: %v", order.ID, err)
		return nil, serviceErr(ErrStorage, "failed to save donation")
	}

	return &OrderDescriptor{
		OrderID:  order.ID,
		Amount:   order.Amount,
		Currency: order.Currency,
		Receipt:  receipt,
	}, nil
}

// VerifyPayment is the synchronous confirmation submitted by the browser after
// checkout. It races the webhook; whoever applies created -> paid first wins
// and the loser observes paid and returns success without touching the row.
func (ds *DonationService) VerifyPayment(ctx context.Context, orderID, paymentID, signature string) (*models.Donation, error) {
	if orderID == "" || paymentID == "" || signature == "" {
		return nil, serviceErr(ErrMissingPaymentFields, "razorpay_order_id, razorpay_payment_id and razorpay_signature are required")
	}

	donation, err := ds.store.ByOrderID(ctx, orderID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, serviceErr(ErrDonationNotFound, "no donation found for order %s", orderID)
		}
		return nil, serviceErr(ErrStorage, "failed to load donation")
	}

	// Duplicate confirmation: the webhook (or an earlier call) already settled
	// this order. Success, no re-verification.
	if donation.Status == models.StatusPaid {
		return donation, nil
	}

	if !VerifyPaymentSignature(orderID, paymentID, signature, ds.config.KeySecret) {
		return nil, serviceErr(ErrInvalidSignature, "payment signature verification failed")
	}

	applied, err := ds.store.MarkPaid(ctx, orderID, paymentID, signature, time.Now())
	if err != nil {
		return nil, serviceErr(ErrStorage, "failed to update donation")
	}

	updated, err := ds.store.ByOrderID(ctx, orderID)
	if err != nil {
		return nil, serviceErr(ErrStorage, "failed to reload donation")
	}

	if applied {
		ds.invalidateStats()
		ds.notifyPaid(updated)
	}
	return updated, nil
}

// razorpayEvent is the webhook envelope. Only the fields the reconciliation
// needs; everything else in the payload is kept verbatim in the audit row.
type razorpayEvent struct {
	Entity  string `json:"entity"`
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity struct {
				ID      string `json:"id"`
				OrderID string `json:"order_id"`
				Status  string `json:"status"`
			} `json:"entity"`
		} `json:"payment"`
	} `json:"payload"`
	CreatedAt int64 `json:"created_at"`
}

// HandleWebhook reconciles a gateway-signed server-to-server event. body is
// the raw request bytes; signature verification runs before any parsing.
// After the signature passes, business outcomes never produce an error: the
// gateway's retry policy must only fire on transport or signature failures.
func (ds *DonationService) HandleWebhook(ctx context.Context, body []byte, signature, eventID string) error {
	if signature == "" {
		return serviceErr(ErrInvalidSignature, "missing webhook signature")
	}
	if !VerifyWebhookSignature(body, signature, ds.config.WebhookSecret) {
		return serviceErr(ErrInvalidSignature, "webhook signature verification failed")
	}

	var event razorpayEvent
	if err := json.Unmarshal(body, &event); err != nil {
		log.Printf("Webhook body is not a valid event envelope: %v", err)
		// Signed but unparseable: acknowledge, nothing to reconcile.
		return nil
	}

	orderID := event.Payload.Payment.Entity.OrderID
	paymentID := event.Payload.Payment.Entity.ID

	var reconcileErr error
	switch event.Event {
	case "payment.captured":
		reconcileErr = ds.reconcileCaptured(ctx, orderID, paymentID)
	case "payment.failed":
		if orderID != "" {
			if applied, err := ds.store.MarkFailed(ctx, orderID); err != nil {
				reconcileErr = serviceErr(ErrStorage, "failed to update donation")
			} else if applied {
				log.Printf("Order %s marked failed via webhook", orderID)
			}
		}
	case "payment.refunded":
		if orderID != "" {
			if applied, err := ds.store.MarkRefunded(ctx, orderID); err != nil {
				reconcileErr = serviceErr(ErrStorage, "failed to update donation")
			} else if applied {
				ds.invalidateStats()
				log.Printf("Order %s marked refunded via webhook", orderID)
			}
		}
	default:
		// Other event types are acknowledged and ignored.
		log.Printf("Ignoring webhook event type %s", event.Event)
	}

	processingErr := ""
	if reconcileErr != nil {
		processingErr = reconcileErr.Error()
	}
	ds.recordEvent(ctx, &event, body, eventID, orderID, paymentID, processingErr)
	return reconcileErr
}

// reconcileCaptured applies created -> paid for a captured payment. Unknown
// orders are logged and acknowledged: the gateway must not retry forever for
// events referencing foreign orders.
func (ds *DonationService) reconcileCaptured(ctx context.Context, orderID, paymentID string) error {
	if orderID == "" {
		log.Printf("payment.captured event without order_id, ignoring")
		return nil
	}

	donation, err := ds.store.ByOrderID(ctx, orderID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			log.Printf("Webhook for unknown order %s, acknowledging without reconciliation", orderID)
			return nil
		}
		return serviceErr(ErrStorage, "failed to load donation")
	}

	if donation.Status == models.StatusPaid {
		// Duplicate delivery or the client confirmation won the race.
		return nil
	}

	applied, err := ds.store.MarkPaid(ctx, orderID, paymentID, "", time.Now())
	if err != nil {
		return serviceErr(ErrStorage, "failed to update donation")
	}
	if applied {
		ds.invalidateStats()
		if updated, err := ds.store.ByOrderID(ctx, orderID); err == nil {
			ds.notifyPaid(updated)
		}
		log.Printf("Order %s reconciled to paid via webhook", orderID)
	}
	return nil
}

// recordEvent writes the audit row. Redeliveries collide on the event id
// unique index and are dropped; audit failures never fail the webhook.
func (ds *DonationService) recordEvent(ctx context.Context, event *razorpayEvent, body []byte, eventID, orderID, paymentID, processingErr string) {
	if eventID == "" {
		// No x-razorpay-event-id header; keep the row but skip deduplication.
		eventID = "local_" + uuid.NewString()
	}
	now := time.Now()
	ev := models.WebhookEvent{
		ID:              uuid.NewString(),
		EventID:         eventID,
		EventType:       event.Event,
		OrderID:         orderID,
		PaymentID:       paymentID,
		Payload:         datatypes.JSON(body),
		ProcessedAt:     &now,
		ProcessingError: processingErr,
	}
	if err := ds.store.SaveEvent(ctx, &ev); err != nil && !errors.Is(err, ErrDuplicateEvent) {
		log.Printf("Failed to record webhook event %s: %v", eventID, err)
	}
}

// Status returns the current lifecycle status for an order id.
func (ds *DonationService) Status(ctx context.Context, orderID string) (string, error) {
	donation, err := ds.store.ByOrderID(ctx, orderID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", serviceErr(ErrDonationNotFound, "no donation found for order %s", orderID)
		}
		return "", serviceErr(ErrStorage, "failed to load donation")
	}
	return donation.Status, nil
}

// MyDonations lists the caller's paid donations, newest first.
func (ds *DonationService) MyDonations(ctx context.Context, userID uint) ([]models.Donation, error) {
	donations, err := ds.store.PaidByUser(ctx, userID)
	if err != nil {
		return nil, serviceErr(ErrStorage, "failed to list donations")
	}
	return donations, nil
}

// AllDonations is the admin listing across every status.
func (ds *DonationService) AllDonations(ctx context.Context, limit, offset int) ([]models.Donation, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	donations, err := ds.store.List(ctx, limit, offset)
	if err != nil {
		return nil, serviceErr(ErrStorage, "failed to list donations")
	}
	return donations, nil
}

// DonationByID is the admin detail view.
func (ds *DonationService) DonationByID(ctx context.Context, id uint) (*models.Donation, error) {
	donation, err := ds.store.ByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, serviceErr(ErrDonationNotFound, "no donation with id %d", id)
		}
		return nil, serviceErr(ErrStorage, "failed to load donation")
	}
	return donation, nil
}

// Stats aggregates paid donations, cached for a few minutes.
func (ds *DonationService) Stats(ctx context.Context) (*DonationStats, error) {
	ds.cacheMutex.RLock()
	if ds.statsCache != nil && time.Since(ds.statsCachedAt) < ds.cacheExpiration {
		cached := *ds.statsCache
		ds.cacheMutex.RUnlock()
		return &cached, nil
	}
	ds.cacheMutex.RUnlock()

	stats, err := ds.store.Stats(ctx)
	if err != nil {
		return nil, serviceErr(ErrStorage, "failed to aggregate donations")
	}

	ds.cacheMutex.Lock()
	ds.statsCache = stats
	ds.statsCachedAt = time.Now()
	ds.cacheMutex.Unlock()

	result := *stats
	return &result, nil
}

// Refund issues a gateway refund for a paid donation and transitions it to
// refunded. Admin-only at the boundary.
func (ds *DonationService) Refund(ctx context.Context, orderID string) (*models.Donation, error) {
	donation, err := ds.store.ByOrderID(ctx, orderID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, serviceErr(ErrDonationNotFound, "no donation found for order %s", orderID)
		}
		return nil, serviceErr(ErrStorage, "failed to load donation")
	}
	if donation.Status != models.StatusPaid {
		return nil, serviceErr(ErrInvalidState, "only paid donations can be refunded, order %s is %s", orderID, donation.Status)
	}
	if donation.RazorpayPaymentID == "" {
		return nil, serviceErr(ErrInvalidState, "donation for order %s has no captured payment", orderID)
	}

	if err := ds.gateway.RefundPayment(ctx, donation.RazorpayPaymentID, int64(donation.Amount)*100); err != nil {
		log.Printf("Gateway refund failed for order %s: %v", orderID, err)
		return nil, serviceErr(ErrGateway, "gateway refund failed")
	}

	if _, err := ds.store.MarkRefunded(ctx, orderID); err != nil {
		return nil, serviceErr(ErrStorage, "failed to update donation")
	}
	ds.invalidateStats()

	updated, err := ds.store.ByOrderID(ctx, orderID)
	if err != nil {
		return nil, serviceErr(ErrStorage, "failed to reload donation")
	}
	return updated, nil
}

func (ds *DonationService) notifyPaid(donation *models.Donation) {
	if ds.onPaid != nil && donation != nil {
		ds.onPaid(donation)
	}
}

func (ds *DonationService) invalidateStats() {
	ds.cacheMutex.Lock()
	ds.statsCache = nil
	ds.cacheMutex.Unlock()
}
