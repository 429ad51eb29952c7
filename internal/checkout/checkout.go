// Package checkout turns a plan purchase into a coupon redemption and a
// subscription upgrade.
package checkout

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/dukerupert/chorebank/internal/apperr"
	billingstripe "github.com/dukerupert/chorebank/internal/billing/stripe"
	"github.com/dukerupert/chorebank/internal/coupon"
	"github.com/dukerupert/chorebank/internal/database"
	"github.com/dukerupert/chorebank/internal/model"
	"github.com/dukerupert/chorebank/internal/store"
	"github.com/dukerupert/chorebank/internal/subscription"
)

// Prices holds the list price in cents of one billing period per plan.
type Prices struct {
	StarterMonthly int64
	StarterYearly  int64
	PremiumMonthly int64
	PremiumYearly  int64
}

func (p Prices) For(plan model.Plan, interval model.BillingInterval) (int64, error) {
	var price int64
	switch {
	case plan == model.PlanStarter && interval == model.IntervalMonthly:
		price = p.StarterMonthly
	case plan == model.PlanStarter && interval == model.IntervalYearly:
		price = p.StarterYearly
	case plan == model.PlanPremium && interval == model.IntervalMonthly:
		price = p.PremiumMonthly
	case plan == model.PlanPremium && interval == model.IntervalYearly:
		price = p.PremiumYearly
	default:
		return 0, apperr.Invalid("no price for plan %q billed %q", plan, interval)
	}
	if price <= 0 {
		return 0, apperr.Invalid("plan %q billed %q is not for sale", plan, interval)
	}
	return price, nil
}

// Gateway is the hosted payment page. *billingstripe.Client satisfies it.
type Gateway interface {
	Configured() bool
	CreateCustomer(email, familyName string) (string, error)
	CreateCheckoutSession(p billingstripe.SessionParams) (string, error)
}

type Service struct {
	db      *sql.DB
	coupons *coupon.Engine
	subs    *subscription.Manager
	prices  Prices
	gateway Gateway
	logger  *slog.Logger
	newRef  func() string
}

func NewService(db *sql.DB, coupons *coupon.Engine, subs *subscription.Manager, prices Prices, logger *slog.Logger) *Service {
	return &Service{
		db:      db,
		coupons: coupons,
		subs:    subs,
		prices:  prices,
		logger:  logger,
		newRef:  func() string { return uuid.NewString() },
	}
}

// SetGateway enables hosted payment sessions.
func (s *Service) SetGateway(g Gateway) {
	s.gateway = g
}

type Order struct {
	Plan       model.Plan            `json:"plan"`
	Interval   model.BillingInterval `json:"interval"`
	CouponCode string                `json:"coupon_code"`
	OrderRef   string                `json:"order_ref"`
}

type Quote struct {
	Plan       model.Plan            `json:"plan"`
	Interval   model.BillingInterval `json:"interval"`
	CouponCode string                `json:"coupon_code,omitempty"`
	Original   int64                 `json:"original_amount"`
	Discount   int64                 `json:"discount"`
	Final      int64                 `json:"final_amount"`
}

type Receipt struct {
	OrderRef     string              `json:"order_ref"`
	Quote        Quote               `json:"quote"`
	Subscription *model.Subscription `json:"subscription"`
	// Replayed is set when the order ref had already been completed.
	Replayed bool `json:"replayed"`
}

// Session is the result of starting a hosted checkout. URL is empty when
// the order was free and completed immediately.
type Session struct {
	OrderRef string   `json:"order_ref"`
	Quote    Quote    `json:"quote"`
	URL      string   `json:"url,omitempty"`
	Receipt  *Receipt `json:"receipt,omitempty"`
}

// Quote prices an order without redeeming the coupon. It fails when the
// family's current subscription cannot take the plan.
func (s *Service) Quote(ctx context.Context, familyID int64, plan model.Plan, interval model.BillingInterval, couponCode string) (*Quote, error) {
	q, _, err := s.quote(ctx, familyID, plan, interval, couponCode)
	return q, err
}

func (s *Service) quote(ctx context.Context, familyID int64, plan model.Plan, interval model.BillingInterval, couponCode string) (*Quote, *model.Coupon, error) {
	price, err := s.prices.For(plan, interval)
	if err != nil {
		return nil, nil, err
	}
	current, err := s.subs.Get(ctx, familyID)
	if err != nil {
		return nil, nil, err
	}
	if err := subscription.CanUpgrade(*current, plan); err != nil {
		return nil, nil, err
	}
	q := &Quote{Plan: plan, Interval: interval, Original: price, Final: price}

	code := strings.ToUpper(strings.TrimSpace(couponCode))
	if code == "" {
		return q, nil, nil
	}
	c, err := s.coupons.Validate(ctx, code, familyID)
	if err != nil {
		return nil, nil, err
	}
	q.CouponCode = c.Code
	q.Discount = coupon.Discount(*c, price)
	q.Final = price - q.Discount
	return q, c, nil
}

// Complete records the order: the coupon usage and the plan upgrade commit
// together or not at all. Completing the same order ref twice returns the
// current subscription without charging the coupon again.
func (s *Service) Complete(ctx context.Context, familyID int64, o Order) (*Receipt, error) {
	ref := strings.TrimSpace(o.OrderRef)
	if ref == "" {
		ref = s.newRef()
	}
	price, err := s.prices.For(o.Plan, o.Interval)
	if err != nil {
		return nil, err
	}
	code := strings.ToUpper(strings.TrimSpace(o.CouponCode))

	var receipt *Receipt
	var applied *coupon.Result
	var event *model.SubscriptionEvent
	err = database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		receipt, applied, event = nil, nil, nil
		subs := store.NewSubscriptionStore(tx)

		done, err := subs.UpgradeOrderExists(ctx, familyID, ref)
		if err != nil {
			return err
		}
		current, err := subs.Get(ctx, familyID)
		if err != nil {
			return err
		}
		if current == nil {
			return apperr.NotFound("family %d", familyID)
		}
		if done {
			receipt = &Receipt{OrderRef: ref, Subscription: current, Replayed: true}
			return nil
		}
		if err := subscription.CanUpgrade(*current, o.Plan); err != nil {
			return err
		}

		q := Quote{Plan: o.Plan, Interval: o.Interval, Original: price, Final: price}
		if code != "" {
			c, err := store.NewCouponStore(tx).GetByCode(ctx, code)
			if err != nil {
				return err
			}
			if c == nil {
				return apperr.NotFound("coupon not found")
			}
			if applied, err = s.coupons.ApplyTx(ctx, tx, c.ID, familyID, ref, price); err != nil {
				return err
			}
			q.CouponCode = applied.Code
			q.Discount = applied.Discount
			q.Final = applied.FinalAmount
		}

		sub, ev, err := s.subs.UpgradeTx(ctx, tx, familyID, subscription.UpgradeParams{
			Plan:     o.Plan,
			Interval: o.Interval,
			OrderRef: ref,
		})
		if err != nil {
			return err
		}
		event = ev
		receipt = &Receipt{OrderRef: ref, Quote: q, Subscription: sub}
		return nil
	})
	if err != nil {
		if code != "" {
			s.coupons.Failed(err)
		}
		return nil, err
	}
	if receipt.Replayed {
		return receipt, nil
	}

	if applied != nil {
		s.coupons.Applied(familyID, applied, ref)
	}
	s.subs.Committed(receipt.Subscription, event)
	s.logger.Info("checkout completed",
		"family_id", familyID, "order_ref", ref, "plan", o.Plan, "interval", o.Interval, "final_amount", receipt.Quote.Final)
	return receipt, nil
}

// Begin prices the order and opens a hosted payment session for it. The
// coupon is only redeemed when the payment completes. A free order is
// completed straight away.
func (s *Service) Begin(ctx context.Context, familyID int64, o Order) (*Session, error) {
	q, _, err := s.quote(ctx, familyID, o.Plan, o.Interval, o.CouponCode)
	if err != nil {
		return nil, err
	}
	ref := strings.TrimSpace(o.OrderRef)
	if ref == "" {
		ref = s.newRef()
	}
	o.OrderRef = ref

	if q.Final == 0 {
		receipt, err := s.Complete(ctx, familyID, o)
		if err != nil {
			return nil, err
		}
		return &Session{OrderRef: ref, Quote: receipt.Quote, Receipt: receipt}, nil
	}

	if s.gateway == nil || !s.gateway.Configured() {
		return nil, apperr.Invalid("online payment is not configured")
	}

	customerID, err := s.customer(ctx, familyID)
	if err != nil {
		return nil, err
	}
	url, err := s.gateway.CreateCheckoutSession(billingstripe.SessionParams{
		CustomerID:  customerID,
		Description: fmt.Sprintf("chorebank %s (%s)", o.Plan, o.Interval),
		AmountCents: q.Final,
		OrderRef:    ref,
		Metadata: map[string]string{
			billingstripe.MetaFamilyID: strconv.FormatInt(familyID, 10),
			billingstripe.MetaPlan:     string(o.Plan),
			billingstripe.MetaInterval: string(o.Interval),
			billingstripe.MetaCoupon:   q.CouponCode,
			billingstripe.MetaOrderRef: ref,
		},
	})
	if err != nil {
		return nil, err
	}
	return &Session{OrderRef: ref, Quote: *q, URL: url}, nil
}

func (s *Service) customer(ctx context.Context, familyID int64) (string, error) {
	families := store.NewFamilyStore(s.db)
	f, err := families.GetByID(ctx, familyID)
	if err != nil {
		return "", err
	}
	if f == nil {
		return "", apperr.NotFound("family %d", familyID)
	}
	if id := f.Subscription.StripeCustomerID; id != nil && *id != "" {
		return *id, nil
	}

	id, err := s.gateway.CreateCustomer(f.ParentEmail, f.Name)
	if err != nil {
		return "", err
	}
	if err := families.SetStripeCustomerID(ctx, familyID, id); err != nil {
		return "", err
	}
	return id, nil
}

// CompleteFromMetadata completes an order described by checkout session
// metadata.
func (s *Service) CompleteFromMetadata(ctx context.Context, meta map[string]string) (*Receipt, error) {
	familyID, err := strconv.ParseInt(meta[billingstripe.MetaFamilyID], 10, 64)
	if err != nil {
		return nil, apperr.Invalid("checkout session has no family id")
	}
	plan, err := model.ParsePlan(meta[billingstripe.MetaPlan])
	if err != nil {
		return nil, apperr.Invalid("%v", err)
	}
	interval, err := model.ParseBillingInterval(meta[billingstripe.MetaInterval])
	if err != nil {
		return nil, apperr.Invalid("%v", err)
	}
	ref := meta[billingstripe.MetaOrderRef]
	if ref == "" {
		return nil, apperr.Invalid("checkout session has no order ref")
	}
	return s.Complete(ctx, familyID, Order{
		Plan:       plan,
		Interval:   interval,
		CouponCode: meta[billingstripe.MetaCoupon],
		OrderRef:   ref,
	})
}
