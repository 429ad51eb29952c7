package handler

import (
	"log/slog"
	"net/http"

	"github.com/dukerupert/chorebank/internal/apperr"
	"github.com/dukerupert/chorebank/internal/checkout"
	"github.com/dukerupert/chorebank/internal/coupon"
	"github.com/dukerupert/chorebank/internal/model"
	"github.com/dukerupert/chorebank/internal/subscription"
)

type BillingHandler struct {
	checkout *checkout.Service
	coupons  *coupon.Engine
	subs     *subscription.Manager
	logger   *slog.Logger
}

func NewBillingHandler(co *checkout.Service, coupons *coupon.Engine, subs *subscription.Manager, logger *slog.Logger) *BillingHandler {
	return &BillingHandler{checkout: co, coupons: coupons, subs: subs, logger: logger}
}

type orderRequest struct {
	Plan       string `json:"plan"`
	Interval   string `json:"interval"`
	CouponCode string `json:"coupon_code"`
	OrderRef   string `json:"order_ref"`
}

func (req orderRequest) order() (checkout.Order, error) {
	plan, err := model.ParsePlan(req.Plan)
	if err != nil {
		return checkout.Order{}, apperr.Invalid("%v", err)
	}
	if req.Interval == "" {
		req.Interval = string(model.IntervalMonthly)
	}
	interval, err := model.ParseBillingInterval(req.Interval)
	if err != nil {
		return checkout.Order{}, apperr.Invalid("%v", err)
	}
	return checkout.Order{Plan: plan, Interval: interval, CouponCode: req.CouponCode, OrderRef: req.OrderRef}, nil
}

// ValidateCoupon checks a code for the caller's family without redeeming
// it.
func (h *BillingHandler) ValidateCoupon(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code string `json:"code"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	c, err := h.coupons.Validate(r.Context(), req.Code, identity(r).FamilyID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"valid":          true,
		"code":           c.Code,
		"description":    c.Description,
		"discount_type":  c.DiscountType,
		"discount_value": c.DiscountValue,
	})
}

func (h *BillingHandler) Quote(w http.ResponseWriter, r *http.Request) {
	var req orderRequest
	if err := decode(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	o, err := req.order()
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	q, err := h.checkout.Quote(r.Context(), identity(r).FamilyID, o.Plan, o.Interval, o.CouponCode)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

// Checkout starts a hosted payment for a plan. Free orders complete
// immediately and return the receipt.
func (h *BillingHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	var req orderRequest
	if err := decode(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	o, err := req.order()
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	sess, err := h.checkout.Begin(r.Context(), identity(r).FamilyID, o)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	status := http.StatusCreated
	if sess.Receipt != nil {
		status = http.StatusOK
	}
	writeJSON(w, status, sess)
}

func (h *BillingHandler) Subscription(w http.ResponseWriter, r *http.Request) {
	familyID := identity(r).FamilyID
	sub, err := h.subs.Get(r.Context(), familyID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	history, err := h.subs.History(r.Context(), familyID, queryLimit(r, 20))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"subscription": sub, "history": history})
}

func (h *BillingHandler) Downgrade(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Plan      string `json:"plan"`
		Immediate bool   `json:"immediate"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	plan, err := model.ParsePlan(req.Plan)
	if err != nil {
		writeError(w, h.logger, apperr.Invalid("%v", err))
		return
	}
	sub, err := h.subs.Downgrade(r.Context(), identity(r).FamilyID, subscription.DowngradeParams{Plan: plan, Immediate: req.Immediate})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (h *BillingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	sub, err := h.subs.Cancel(r.Context(), identity(r).FamilyID, subscription.CancelParams{})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}
