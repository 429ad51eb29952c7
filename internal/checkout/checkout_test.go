package checkout

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dukerupert/chorebank/internal/apperr"
	billingstripe "github.com/dukerupert/chorebank/internal/billing/stripe"
	"github.com/dukerupert/chorebank/internal/coupon"
	"github.com/dukerupert/chorebank/internal/database"
	"github.com/dukerupert/chorebank/internal/events"
	"github.com/dukerupert/chorebank/internal/model"
	"github.com/dukerupert/chorebank/internal/store"
	"github.com/dukerupert/chorebank/internal/subscription"
)

var prices = Prices{StarterMonthly: 500, StarterYearly: 5000, PremiumMonthly: 1000, PremiumYearly: 10000}

type fakeGateway struct {
	customers int
	sessions  []billingstripe.SessionParams
	fail      error
}

func (g *fakeGateway) Configured() bool { return true }

func (g *fakeGateway) CreateCustomer(email, name string) (string, error) {
	g.customers++
	return "cus_test", nil
}

func (g *fakeGateway) CreateCheckoutSession(p billingstripe.SessionParams) (string, error) {
	if g.fail != nil {
		return "", g.fail
	}
	g.sessions = append(g.sessions, p)
	return "https://checkout.example/" + p.OrderRef, nil
}

type fixture struct {
	svc     *Service
	db      *sql.DB
	coupons *coupon.Engine
	family  int64
}

func setup(t *testing.T) *fixture {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	f, err := store.NewFamilyStore(db).Create(context.Background(), "Took", "took@example.com")
	require.NoError(t, err)

	coupons := coupon.NewEngine(db, events.Discard, slog.Default())
	subs := subscription.NewManager(db, events.Discard, slog.Default())
	svc := NewService(db, coupons, subs, prices, slog.Default())
	n := 0
	svc.newRef = func() string {
		n++
		return fmt.Sprintf("order-%d", n)
	}
	return &fixture{svc: svc, db: db, coupons: coupons, family: f.ID}
}

func (fx *fixture) coupon(t *testing.T, code, typ string, value int64) *model.Coupon {
	t.Helper()
	c, err := fx.coupons.Create(context.Background(), coupon.CreateInput{Code: code, DiscountType: typ, DiscountValue: value})
	require.NoError(t, err)
	return c
}

func TestPrices(t *testing.T) {
	p, err := prices.For(model.PlanPremium, model.IntervalYearly)
	require.NoError(t, err)
	require.Equal(t, int64(10000), p)

	_, err = prices.For(model.PlanNone, model.IntervalMonthly)
	require.ErrorIs(t, err, apperr.ErrInvalid)
	_, err = Prices{}.For(model.PlanStarter, model.IntervalMonthly)
	require.ErrorIs(t, err, apperr.ErrInvalid)
}

func TestQuoteDoesNotRedeem(t *testing.T) {
	fx := setup(t)
	ctx := context.Background()
	c := fx.coupon(t, "save20", "percentage", 20)

	q, err := fx.svc.Quote(ctx, fx.family, model.PlanPremium, model.IntervalMonthly, " save20 ")
	require.NoError(t, err)
	require.Equal(t, "SAVE20", q.CouponCode)
	require.Equal(t, int64(1000), q.Original)
	require.Equal(t, int64(200), q.Discount)
	require.Equal(t, int64(800), q.Final)

	got, err := fx.coupons.Get(ctx, c.ID)
	require.NoError(t, err)
	require.Zero(t, got.UsedCount)

	_, err = fx.svc.Quote(ctx, fx.family, model.PlanPremium, model.IntervalMonthly, "NOPE")
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestCompleteAppliesCouponThenUpgrades(t *testing.T) {
	fx := setup(t)
	ctx := context.Background()
	c := fx.coupon(t, "FIVEOFF", "fixed", 500)

	r, err := fx.svc.Complete(ctx, fx.family, Order{Plan: model.PlanStarter, Interval: model.IntervalMonthly, CouponCode: "FIVEOFF"})
	require.NoError(t, err)
	require.Equal(t, "order-1", r.OrderRef)
	require.Equal(t, int64(500), r.Quote.Discount)
	require.Zero(t, r.Quote.Final)
	require.Equal(t, model.PlanStarter, r.Subscription.Plan)
	require.Equal(t, model.StatusActive, r.Subscription.Status)
	require.Equal(t, "order-1", *r.Subscription.OrderRef)

	usages, err := fx.coupons.Usages(ctx, fx.family)
	require.NoError(t, err)
	require.Len(t, usages, 1)
	require.Equal(t, c.ID, usages[0].CouponID)
	require.Equal(t, "order-1", *usages[0].OrderRef)

	// The same coupon cannot be used on a second order.
	_, err = fx.svc.Complete(ctx, fx.family, Order{Plan: model.PlanPremium, Interval: model.IntervalMonthly, CouponCode: "FIVEOFF"})
	require.ErrorIs(t, err, apperr.ErrAlreadyUsed)

	sub, err := subscription.NewManager(fx.db, nil, slog.Default()).Get(ctx, fx.family)
	require.NoError(t, err)
	require.Equal(t, model.PlanStarter, sub.Plan, "failed coupon leaves the plan alone")
}

func TestCompleteIsIdempotentPerOrderRef(t *testing.T) {
	fx := setup(t)
	ctx := context.Background()
	c := fx.coupon(t, "SAVE20", "percentage", 20)

	order := Order{Plan: model.PlanPremium, Interval: model.IntervalYearly, CouponCode: "SAVE20", OrderRef: "cs_123"}
	first, err := fx.svc.Complete(ctx, fx.family, order)
	require.NoError(t, err)
	require.False(t, first.Replayed)

	second, err := fx.svc.Complete(ctx, fx.family, order)
	require.NoError(t, err)
	require.True(t, second.Replayed)
	require.True(t, first.Subscription.RenewalDate.Equal(*second.Subscription.RenewalDate))

	got, err := fx.coupons.Get(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, 1, got.UsedCount)

	history, err := subscription.NewManager(fx.db, nil, slog.Default()).History(ctx, fx.family, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
}

func TestBeginCreatesHostedSession(t *testing.T) {
	fx := setup(t)
	ctx := context.Background()
	fx.coupon(t, "SAVE20", "percentage", 20)
	gw := &fakeGateway{}
	fx.svc.SetGateway(gw)

	sess, err := fx.svc.Begin(ctx, fx.family, Order{Plan: model.PlanPremium, Interval: model.IntervalMonthly, CouponCode: "save20"})
	require.NoError(t, err)
	require.Equal(t, "https://checkout.example/order-1", sess.URL)
	require.Nil(t, sess.Receipt)

	require.Len(t, gw.sessions, 1)
	p := gw.sessions[0]
	require.Equal(t, int64(800), p.AmountCents)
	require.Equal(t, "cus_test", p.CustomerID)
	require.Equal(t, "SAVE20", p.Metadata[billingstripe.MetaCoupon])
	require.Equal(t, "premium", p.Metadata[billingstripe.MetaPlan])

	// The customer is created once and remembered.
	_, err = fx.svc.Begin(ctx, fx.family, Order{Plan: model.PlanStarter, Interval: model.IntervalMonthly})
	require.NoError(t, err)
	require.Equal(t, 1, gw.customers)

	// Nothing is redeemed until the payment completes.
	sub, err := subscription.NewManager(fx.db, nil, slog.Default()).Get(ctx, fx.family)
	require.NoError(t, err)
	require.Equal(t, model.PlanNone, sub.Plan)

	r, err := fx.svc.CompleteFromMetadata(ctx, p.Metadata)
	require.NoError(t, err)
	require.Equal(t, int64(800), r.Quote.Final)
	require.Equal(t, model.PlanPremium, r.Subscription.Plan)
}

func TestBeginFreeOrderCompletesImmediately(t *testing.T) {
	fx := setup(t)
	ctx := context.Background()
	fx.coupon(t, "FREEMONTH", "percentage", 100)

	sess, err := fx.svc.Begin(ctx, fx.family, Order{Plan: model.PlanStarter, Interval: model.IntervalMonthly, CouponCode: "FREEMONTH"})
	require.NoError(t, err)
	require.Empty(t, sess.URL)
	require.NotNil(t, sess.Receipt)
	require.Equal(t, model.PlanStarter, sess.Receipt.Subscription.Plan)
}

func TestBeginWithoutGateway(t *testing.T) {
	fx := setup(t)
	_, err := fx.svc.Begin(context.Background(), fx.family, Order{Plan: model.PlanStarter, Interval: model.IntervalMonthly})
	require.ErrorIs(t, err, apperr.ErrInvalid)

	fx.svc.SetGateway(&fakeGateway{fail: errors.New("stripe down")})
	_, err = fx.svc.Begin(context.Background(), fx.family, Order{Plan: model.PlanStarter, Interval: model.IntervalMonthly})
	require.EqualError(t, err, "stripe down")
}

func TestCompleteFromMetadataRejectsBadInput(t *testing.T) {
	fx := setup(t)
	_, err := fx.svc.CompleteFromMetadata(context.Background(), map[string]string{"plan": "premium"})
	require.ErrorIs(t, err, apperr.ErrInvalid)
	_, err = fx.svc.CompleteFromMetadata(context.Background(), map[string]string{
		"family_id": "1", "plan": "gold", "interval": "monthly", "order_ref": "x",
	})
	require.ErrorIs(t, err, apperr.ErrInvalid)
}

func TestRejectedUpgradeKeepsCoupon(t *testing.T) {
	fx := setup(t)
	ctx := context.Background()
	c := fx.coupon(t, "HALF", "percentage", 50)

	_, err := fx.svc.Complete(ctx, fx.family, Order{Plan: model.PlanPremium, Interval: model.IntervalMonthly})
	require.NoError(t, err)

	_, err = fx.svc.Complete(ctx, fx.family, Order{Plan: model.PlanStarter, Interval: model.IntervalMonthly, CouponCode: "HALF"})
	require.ErrorIs(t, err, apperr.ErrInvalidTransition)

	got, err := fx.coupons.Get(ctx, c.ID)
	require.NoError(t, err)
	require.Zero(t, got.UsedCount)
	usages, err := fx.coupons.Usages(ctx, fx.family)
	require.NoError(t, err)
	require.Empty(t, usages)

	_, err = fx.coupons.Validate(ctx, "HALF", fx.family)
	require.NoError(t, err, "coupon is still usable")

	sub, err := subscription.NewManager(fx.db, nil, slog.Default()).Get(ctx, fx.family)
	require.NoError(t, err)
	require.Equal(t, model.PlanPremium, sub.Plan)

	// The coupon still works on a valid order.
	r, err := fx.svc.Complete(ctx, fx.family, Order{Plan: model.PlanPremium, Interval: model.IntervalYearly, CouponCode: "HALF"})
	require.NoError(t, err)
	require.Equal(t, int64(5000), r.Quote.Final)
}

func TestBeginRejectsLowerPlanBeforePayment(t *testing.T) {
	fx := setup(t)
	ctx := context.Background()
	gw := &fakeGateway{}
	fx.svc.SetGateway(gw)

	_, err := fx.svc.Complete(ctx, fx.family, Order{Plan: model.PlanPremium, Interval: model.IntervalMonthly})
	require.NoError(t, err)

	_, err = fx.svc.Begin(ctx, fx.family, Order{Plan: model.PlanStarter, Interval: model.IntervalMonthly})
	require.ErrorIs(t, err, apperr.ErrInvalidTransition)
	require.Empty(t, gw.sessions)
	require.Zero(t, gw.customers)

	_, err = fx.svc.Quote(ctx, fx.family, model.PlanStarter, model.IntervalMonthly, "")
	require.ErrorIs(t, err, apperr.ErrInvalidTransition)
}

func TestReplayAfterLaterTransition(t *testing.T) {
	fx := setup(t)
	ctx := context.Background()
	subs := subscription.NewManager(fx.db, nil, slog.Default())

	order := Order{Plan: model.PlanPremium, Interval: model.IntervalYearly, OrderRef: "cs_A"}
	first, err := fx.svc.Complete(ctx, fx.family, order)
	require.NoError(t, err)

	extended, err := subs.Extend(ctx, fx.family, subscription.ExtendParams{Months: 6, OrderRef: "promo-1"})
	require.NoError(t, err)
	require.True(t, first.Subscription.RenewalDate.AddDate(0, 6, 0).Equal(*extended.RenewalDate))

	again, err := fx.svc.Complete(ctx, fx.family, order)
	require.NoError(t, err)
	require.True(t, again.Replayed)
	require.True(t, extended.RenewalDate.Equal(*again.Subscription.RenewalDate), "extension is kept")

	history, err := subs.History(ctx, fx.family, 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
}

func TestUpgradeOrderRefIsUnique(t *testing.T) {
	fx := setup(t)
	ctx := context.Background()

	_, err := fx.svc.Complete(ctx, fx.family, Order{Plan: model.PlanStarter, Interval: model.IntervalMonthly, OrderRef: "cs_B"})
	require.NoError(t, err)

	_, err = fx.db.ExecContext(ctx,
		`INSERT INTO subscription_events (family_id, action, from_plan, to_plan, from_status, to_status, order_ref)
		 VALUES (?, 'upgrade', 'none', 'starter', 'inactive', 'active', 'cs_B')`, fx.family)
	require.True(t, database.IsUniqueViolation(err), "got %v", err)
}
