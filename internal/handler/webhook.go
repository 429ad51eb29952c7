package handler

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	stripe "github.com/stripe/stripe-go/v82"

	"github.com/dukerupert/chorebank/internal/apperr"
	"github.com/dukerupert/chorebank/internal/checkout"
	"github.com/dukerupert/chorebank/internal/model"
	"github.com/dukerupert/chorebank/internal/store"
	"github.com/dukerupert/chorebank/internal/subscription"
)

// EventVerifier checks a webhook signature and decodes the event.
type EventVerifier interface {
	ConstructWebhookEvent(payload []byte, sigHeader string) (stripe.Event, error)
}

type WebhookHandler struct {
	verifier EventVerifier
	checkout *checkout.Service
	subs     *subscription.Manager
	families *store.FamilyStore
	logger   *slog.Logger
}

func NewWebhookHandler(v EventVerifier, db *sql.DB, co *checkout.Service, subs *subscription.Manager, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		verifier: v,
		checkout: co,
		subs:     subs,
		families: store.NewFamilyStore(db),
		logger:   logger,
	}
}

// HandleStripeWebhook applies payment events. Permanent failures are
// acknowledged so the provider stops retrying; anything else returns 500.
func (h *WebhookHandler) HandleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 65536))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	event, err := h.verifier.ConstructWebhookEvent(body, r.Header.Get("Stripe-Signature"))
	if err != nil {
		h.logger.Warn("webhook signature rejected", "error", err)
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	switch event.Type {
	case "checkout.session.completed":
		err = h.checkoutCompleted(ctx, event)
	case "invoice.paid":
		err = h.invoice(ctx, event, h.subs.RecordPayment)
	case "invoice.payment_failed":
		err = h.invoice(ctx, event, h.subs.MarkPastDue)
	case "customer.subscription.deleted":
		err = h.subscriptionDeleted(ctx, event)
	default:
		h.logger.Debug("webhook ignored", "type", event.Type)
	}

	if err != nil {
		kind := apperr.KindOf(err)
		h.logger.Error("webhook", "type", event.Type, "id", event.ID, "error", err)
		if kind == "" || kind == apperr.KindConcurrencyConflict {
			http.Error(w, "processing failed", http.StatusInternalServerError)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
}

func (h *WebhookHandler) checkoutCompleted(ctx context.Context, event stripe.Event) error {
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return apperr.Invalid("decode checkout session: %v", err)
	}
	if sess.PaymentStatus != "" && sess.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid &&
		sess.PaymentStatus != stripe.CheckoutSessionPaymentStatusNoPaymentRequired {
		h.logger.Info("checkout session not paid", "session", sess.ID, "status", sess.PaymentStatus)
		return nil
	}
	receipt, err := h.checkout.CompleteFromMetadata(ctx, sess.Metadata)
	if err != nil {
		return err
	}
	h.logger.Info("checkout completed", "session", sess.ID, "order_ref", receipt.OrderRef, "replayed", receipt.Replayed)
	return nil
}

func (h *WebhookHandler) invoice(ctx context.Context, event stripe.Event, apply func(context.Context, int64, string) (*model.Subscription, error)) error {
	var inv stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
		return apperr.Invalid("decode invoice: %v", err)
	}
	if inv.Customer == nil {
		return apperr.Invalid("invoice %s has no customer", inv.ID)
	}
	familyID, err := h.familyFor(ctx, inv.Customer.ID)
	if err != nil {
		return err
	}
	_, err = apply(ctx, familyID, inv.ID)
	return err
}

func (h *WebhookHandler) subscriptionDeleted(ctx context.Context, event stripe.Event) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return apperr.Invalid("decode subscription: %v", err)
	}
	if sub.Customer == nil {
		return apperr.Invalid("subscription %s has no customer", sub.ID)
	}
	familyID, err := h.familyFor(ctx, sub.Customer.ID)
	if err != nil {
		return err
	}
	_, err = h.subs.Cancel(ctx, familyID, subscription.CancelParams{OrderRef: sub.ID})
	if errors.Is(err, apperr.ErrInvalidTransition) {
		return nil
	}
	return err
}

func (h *WebhookHandler) familyFor(ctx context.Context, customerID string) (int64, error) {
	f, err := h.families.GetByStripeCustomerID(ctx, customerID)
	if err != nil {
		return 0, err
	}
	if f == nil {
		return 0, apperr.NotFound("no family for customer %s", customerID)
	}
	return f.ID, nil
}
