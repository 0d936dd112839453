// billing_handler.go -- Stripe checkout, webhook and account read endpoints.
package auth

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/MGallo-Code/obol/internal/billing"
	"github.com/MGallo-Code/obol/internal/store"
)

const (
	// maxWebhookBytes caps Stripe webhook payloads.
	maxWebhookBytes = 64 << 10

	defaultTxLimit = 20
	maxTxLimit     = 100
)

// Webhook handles POST /webhook. The raw body is verified against the Stripe-Signature header.
func (h *AuthHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	if h.Billing == nil {
		logError(r, "webhook received without billing configured")
		writeError(w, http.StatusInternalServerError, "Stripe service not available")
		return
	}

	sig := r.Header.Get("Stripe-Signature")
	if sig == "" {
		logWarn(r, "webhook rejected", "reason", "missing_signature")
		BadRequest(w, "Missing stripe-signature")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		logWarn(r, "webhook body read failed", "error", err)
		writeErrorDetails(w, http.StatusBadRequest, "Webhook error", err.Error())
		return
	}

	if err := h.Billing.HandleWebhookEvent(r.Context(), body, sig); err != nil {
		logWarn(r, "webhook processing failed", "error", err)
		writeErrorDetails(w, http.StatusBadRequest, "Webhook error", err.Error())
		return
	}

	OK(w, map[string]bool{"received": true})
}

// CreateCheckout handles POST /api/create-checkout. Requires a session.
func (h *AuthHandler) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	sess, ok := SessionFromContext(r.Context())
	if !ok {
		Unauthorized(w, "Unauthorized")
		return
	}
	if h.Billing == nil {
		writeError(w, http.StatusInternalServerError, "Stripe service not available")
		return
	}

	u, err := h.Users.Get(r.Context(), sess.UserID)
	if err != nil {
		logError(r, "checkout: user lookup failed", "error", err, "user_id", sess.UserID)
		writeError(w, http.StatusInternalServerError, "Checkout failed")
		return
	}
	var email string
	if u.Email != nil {
		email = *u.Email
	}

	url, err := h.Billing.CreateCheckoutSession(r.Context(), sess.UserID.String(), email)
	if err != nil {
		logError(r, "checkout session failed", "error", err, "user_id", sess.UserID)
		writeError(w, http.StatusInternalServerError, "Checkout failed")
		return
	}

	logInfo(r, "checkout session created", "user_id", sess.UserID)
	OK(w, map[string]string{"url": url})
}

// Subscription handles GET /api/billing/subscription -- the tier plus the cached
// Stripe subscription state. Requires a session.
func (h *AuthHandler) Subscription(w http.ResponseWriter, r *http.Request) {
	sess, ok := SessionFromContext(r.Context())
	if !ok {
		Unauthorized(w, "Unauthorized")
		return
	}

	tier, err := h.Accounts.GetCurrentTier(r.Context(), sess.UserID)
	if err != nil {
		InternalServerError(w, r, err)
		return
	}

	sub := &billing.SubscriptionCache{Status: billing.StatusNone}
	if h.Billing != nil {
		cached, err := h.Billing.GetCustomerSubscription(r.Context(), sess.UserID.String())
		if err != nil {
			InternalServerError(w, r, err)
			return
		}
		if cached != nil {
			sub = cached
		}
	}

	OK(w, map[string]any{"success": true, "tier": tier, "subscription": sub})
}

// Balance handles GET /api/billing/balance. Requires a session.
func (h *AuthHandler) Balance(w http.ResponseWriter, r *http.Request) {
	sess, ok := SessionFromContext(r.Context())
	if !ok {
		Unauthorized(w, "Unauthorized")
		return
	}

	balance, err := h.Accounts.GetBalance(r.Context(), sess.UserID)
	if errors.Is(err, store.ErrNotFound) {
		logWarn(r, "balance for missing user", "user_id", sess.UserID)
		NotFound(w, "User not found")
		return
	}
	if err != nil {
		InternalServerError(w, r, err)
		return
	}
	OK(w, map[string]any{"success": true, "balance": balance})
}

// Transactions handles GET /api/billing/transactions?limit=N. Requires a session.
func (h *AuthHandler) Transactions(w http.ResponseWriter, r *http.Request) {
	sess, ok := SessionFromContext(r.Context())
	if !ok {
		Unauthorized(w, "Unauthorized")
		return
	}

	limit := queryLimit(r, defaultTxLimit, maxTxLimit)
	txs, err := h.Accounts.GetTransactionHistory(r.Context(), sess.UserID, limit)
	if err != nil {
		InternalServerError(w, r, err)
		return
	}
	OK(w, map[string]any{"success": true, "transactions": txs})
}

// queryLimit parses ?limit, falling back to def and clamping to max.
func queryLimit(r *http.Request, def, max int) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return def
	}
	return min(n, max)
}
