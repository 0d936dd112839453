// Package billing runs Stripe checkout and mirrors subscription state into the key-value store.
//
// billing.go -- checkout, subscription sync and webhook processing.
// Key layout: stripe:uid:<userId> -> customer id, stripe:customer:<customerId> -> SubscriptionCache JSON.
package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/MGallo-Code/obol/internal/metrics"
	"github.com/MGallo-Code/obol/internal/store"
)

var (
	// ErrMissingWebhookSecret is returned when a webhook arrives but no signing secret is configured.
	ErrMissingWebhookSecret = errors.New("missing STRIPE_WEBHOOK_SECRET")
	// ErrInvalidEvent wraps signature and payload verification failures.
	ErrInvalidEvent = errors.New("invalid webhook event")
)

// StatusNone marks a customer with no subscriptions.
const StatusNone = "none"

// allowedEvents are the webhook types that trigger a subscription sync. Others are acknowledged and skipped.
var allowedEvents = []stripe.EventType{
	"checkout.session.completed",
	"checkout.session.expired",
	"payment_intent.succeeded",
	"payment_intent.payment_failed",
	"payment_intent.requires_action",

	"customer.subscription.created",
	"customer.subscription.updated",
	"customer.subscription.deleted",
	"customer.subscription.trial_will_end",

	"invoice.paid",
	"invoice.payment_failed",
	"invoice.upcoming",

	"customer.created",
	"customer.updated",
	"customer.deleted",

	"charge.succeeded",
	"charge.failed",
	"charge.refunded",

	"charge.dispute.created",
	"charge.dispute.closed",
}

// PaymentMethod is the card summary kept with a subscription.
type PaymentMethod struct {
	Brand *string `json:"brand"`
	Last4 *string `json:"last4"`
}

// SubscriptionCache is the JSON stored at stripe:customer:<id>.
// A customer without subscriptions is stored as {"status":"none"}.
type SubscriptionCache struct {
	SubscriptionID     *string        `json:"subscriptionId,omitempty"`
	Status             string         `json:"status"`
	PriceID            *string        `json:"priceId,omitempty"`
	CurrentPeriodStart *int64         `json:"currentPeriodStart,omitempty"`
	CurrentPeriodEnd   *int64         `json:"currentPeriodEnd,omitempty"`
	CancelAtPeriodEnd  *bool          `json:"cancelAtPeriodEnd,omitempty"`
	PaymentMethod      *PaymentMethod `json:"paymentMethod,omitempty"`
}

// CheckoutParams describes one subscription checkout.
type CheckoutParams struct {
	CustomerID string
	PriceID    string
	SuccessURL string
	CancelURL  string
	UserID     string
}

// StripeAPI is the slice of Stripe the service calls. Satisfied by *StripeClient.
type StripeAPI interface {
	CreateCustomer(ctx context.Context, email, userID string) (string, error)
	CreateCheckoutSession(ctx context.Context, p CheckoutParams) (string, error)
	// LatestSubscription returns the newest subscription in any status, or nil when there is none.
	LatestSubscription(ctx context.Context, customerID string) (*stripe.Subscription, error)
}

// KV is the key-value surface billing needs. Satisfied by *store.RedisStore.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
}

// Config holds the non-secret billing settings.
type Config struct {
	PriceID       string
	AppURL        string
	WebhookSecret string
}

// Service implements checkout, sync and webhook handling.
type Service struct {
	api StripeAPI
	kv  KV
	cfg Config
}

// NewService wires a Service.
func NewService(api StripeAPI, kv KV, cfg Config) *Service {
	cfg.AppURL = strings.TrimRight(cfg.AppURL, "/")
	return &Service{api: api, kv: kv, cfg: cfg}
}

func userKey(userID string) string         { return "stripe:uid:" + userID }
func customerKey(customerID string) string { return "stripe:customer:" + customerID }

// customerFor returns the cached Stripe customer for userID, creating one on first checkout.
func (s *Service) customerFor(ctx context.Context, userID, email string) (string, error) {
	id, err := s.kv.Get(ctx, userKey(userID))
	if err == nil && id != "" {
		return id, nil
	}
	if err != nil && !errors.Is(err, store.ErrCacheMiss) {
		return "", err
	}

	id, err = s.api.CreateCustomer(ctx, email, userID)
	if err != nil {
		return "", fmt.Errorf("creating stripe customer: %w", err)
	}
	if err := s.kv.Set(ctx, userKey(userID), id, 0); err != nil {
		return "", err
	}
	slog.Info("created stripe customer", "user_id", userID, "customer_id", id)
	return id, nil
}

// CreateCheckoutSession starts a subscription checkout and returns the hosted page URL.
func (s *Service) CreateCheckoutSession(ctx context.Context, userID, email string) (string, error) {
	customerID, err := s.customerFor(ctx, userID, email)
	if err != nil {
		return "", err
	}
	url, err := s.api.CreateCheckoutSession(ctx, CheckoutParams{
		CustomerID: customerID,
		PriceID:    s.cfg.PriceID,
		SuccessURL: s.cfg.AppURL + "/success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:  s.cfg.AppURL + "/cancel",
		UserID:     userID,
	})
	if err != nil {
		return "", fmt.Errorf("creating checkout session: %w", err)
	}
	return url, nil
}

// SyncToKV reads the customer's latest subscription from Stripe and stores its summary.
func (s *Service) SyncToKV(ctx context.Context, customerID string) (*SubscriptionCache, error) {
	sub, err := s.api.LatestSubscription(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("listing subscriptions for %s: %w", customerID, err)
	}

	data := summarize(sub)
	b, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encoding subscription for %s: %w", customerID, err)
	}
	if err := s.kv.Set(ctx, customerKey(customerID), string(b), 0); err != nil {
		return nil, err
	}
	return data, nil
}

func summarize(sub *stripe.Subscription) *SubscriptionCache {
	if sub == nil {
		return &SubscriptionCache{Status: StatusNone}
	}

	data := &SubscriptionCache{
		SubscriptionID:     &sub.ID,
		Status:             string(sub.Status),
		CurrentPeriodStart: &sub.CurrentPeriodStart,
		CurrentPeriodEnd:   &sub.CurrentPeriodEnd,
		CancelAtPeriodEnd:  &sub.CancelAtPeriodEnd,
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
		data.PriceID = &sub.Items.Data[0].Price.ID
	}
	if pm := sub.DefaultPaymentMethod; pm != nil && pm.Card != nil {
		brand := string(pm.Card.Brand)
		data.PaymentMethod = &PaymentMethod{Brand: &brand, Last4: &pm.Card.Last4}
	}
	return data
}

// GetCustomerSubscription returns the cached summary for userID, syncing on a cold cache.
// Returns nil, nil when the user has never started a checkout.
func (s *Service) GetCustomerSubscription(ctx context.Context, userID string) (*SubscriptionCache, error) {
	customerID, err := s.kv.Get(ctx, userKey(userID))
	if errors.Is(err, store.ErrCacheMiss) || (err == nil && customerID == "") {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	raw, err := s.kv.Get(ctx, customerKey(customerID))
	if err == nil {
		var data SubscriptionCache
		if err := json.Unmarshal([]byte(raw), &data); err == nil {
			return &data, nil
		}
		slog.Warn("discarding unreadable subscription cache", "customer_id", customerID)
	} else if !errors.Is(err, store.ErrCacheMiss) {
		return nil, err
	}
	return s.SyncToKV(ctx, customerID)
}

// HandleWebhookEvent verifies a Stripe delivery and syncs the affected customer.
// Verification failures wrap ErrInvalidEvent. Event types outside the allow list are skipped.
func (s *Service) HandleWebhookEvent(ctx context.Context, body []byte, signature string) error {
	if s.cfg.WebhookSecret == "" {
		return ErrMissingWebhookSecret
	}

	event, err := webhook.ConstructEventWithOptions(body, signature, s.cfg.WebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		metrics.WebhookEvents.WithLabelValues("unknown", "rejected").Inc()
		return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	evType := string(event.Type)
	slog.Info("processing webhook event", "type", evType, "id", event.ID, "created", event.Created)

	if !slices.Contains(allowedEvents, event.Type) {
		slog.Info("skipping webhook event", "type", evType)
		metrics.WebhookEvents.WithLabelValues(evType, "skipped").Inc()
		return nil
	}

	var obj map[string]any
	if event.Data != nil {
		obj = event.Data.Object
	}
	customerID := customerIDFor(evType, obj)
	if customerID == "" {
		slog.Info("no customer id on webhook event", "type", evType)
		metrics.WebhookEvents.WithLabelValues(evType, "no_customer").Inc()
		return nil
	}

	if _, err := s.SyncToKV(ctx, customerID); err != nil {
		metrics.WebhookEvents.WithLabelValues(evType, "failed").Inc()
		return err
	}
	metrics.WebhookEvents.WithLabelValues(evType, "synced").Inc()

	switch evType {
	case "checkout.session.completed":
		slog.Info("checkout completed", "customer_id", customerID,
			"amount", obj["amount_total"], "currency", obj["currency"])
	case "customer.subscription.created", "customer.subscription.updated":
		slog.Info("subscription update", "customer_id", customerID, "status", obj["status"])
	case "invoice.paid":
		slog.Info("invoice paid", "customer_id", customerID,
			"amount", obj["amount_paid"], "invoice_id", obj["id"])
	default:
		slog.Info("processed webhook event", "type", evType, "customer_id", customerID)
	}
	return nil
}

// customerIDFor pulls the customer id out of an event object. Customer events carry it as
// the object id; everything else references it, either as a string or an expanded object.
func customerIDFor(evType string, obj map[string]any) string {
	if obj == nil {
		return ""
	}
	switch evType {
	case "customer.created", "customer.updated", "customer.deleted":
		id, _ := obj["id"].(string)
		return id
	}
	switch c := obj["customer"].(type) {
	case string:
		return c
	case map[string]any:
		id, _ := c["id"].(string)
		return id
	}
	return ""
}
