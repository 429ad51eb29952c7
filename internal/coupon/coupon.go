// Package coupon validates and applies discount codes at checkout. Amounts
// are in cents.
package coupon

import (
	"context"
	"database/sql"
	"log/slog"
	"strings"
	"time"

	"github.com/dukerupert/chorebank/internal/apperr"
	"github.com/dukerupert/chorebank/internal/database"
	"github.com/dukerupert/chorebank/internal/events"
	"github.com/dukerupert/chorebank/internal/metrics"
	"github.com/dukerupert/chorebank/internal/model"
	"github.com/dukerupert/chorebank/internal/store"
)

type Engine struct {
	db     *sql.DB
	pub    events.Publisher
	logger *slog.Logger
	now    func() time.Time
}

func NewEngine(db *sql.DB, pub events.Publisher, logger *slog.Logger) *Engine {
	if pub == nil {
		pub = events.Discard
	}
	return &Engine{db: db, pub: pub, logger: logger, now: time.Now}
}

// Result is the outcome of applying a coupon to an order.
type Result struct {
	CouponID    int64  `json:"coupon_id"`
	Code        string `json:"code"`
	Original    int64  `json:"original_amount"`
	Discount    int64  `json:"discount"`
	FinalAmount int64  `json:"final_amount"`
}

// Discount computes the discount c gives on amount. Percentages round half
// up; the discount never exceeds the amount.
func Discount(c model.Coupon, amount int64) int64 {
	if amount <= 0 {
		return 0
	}
	var d int64
	switch c.DiscountType {
	case model.DiscountPercentage:
		d = (amount*c.DiscountValue + 50) / 100
	case model.DiscountFixed:
		d = c.DiscountValue
	}
	if d > amount {
		d = amount
	}
	if d < 0 {
		d = 0
	}
	return d
}

// Validate checks that code can be used by familyID right now. Failures are
// reported in a fixed order: NotFound, Expired, Exhausted, AlreadyUsed.
func (e *Engine) Validate(ctx context.Context, code string, familyID int64) (*model.Coupon, error) {
	coupons := store.NewCouponStore(e.db)
	c, err := coupons.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if err := e.check(ctx, coupons, c, familyID); err != nil {
		return nil, err
	}
	return c, nil
}

func (e *Engine) check(ctx context.Context, coupons *store.CouponStore, c *model.Coupon, familyID int64) error {
	if c == nil || !c.Active {
		return apperr.NotFound("coupon not found")
	}

	now := e.now()
	if c.ValidFrom != nil && now.Before(*c.ValidFrom) {
		return apperr.New(apperr.KindExpired, "coupon %s is not valid until %s", c.Code, c.ValidFrom.Format(time.RFC3339))
	}
	if c.ValidUntil != nil && now.After(*c.ValidUntil) {
		return apperr.New(apperr.KindExpired, "coupon %s expired at %s", c.Code, c.ValidUntil.Format(time.RFC3339))
	}
	if c.MaxUses != nil && c.UsedCount >= *c.MaxUses {
		return apperr.New(apperr.KindExhausted, "coupon %s has reached its usage limit", c.Code)
	}

	used, err := coupons.UsageExists(ctx, c.ID, familyID)
	if err != nil {
		return err
	}
	if used {
		return apperr.New(apperr.KindAlreadyUsed, "coupon %s was already used by this family", c.Code)
	}
	return nil
}

// Apply redeems the coupon for familyID against an order of amount cents.
// Validation, the usage row and the counter increment share one
// transaction.
func (e *Engine) Apply(ctx context.Context, couponID, familyID int64, orderRef string, amount int64) (*Result, error) {
	var result *Result
	err := database.WithTx(ctx, e.db, func(tx *sql.Tx) error {
		var err error
		result, err = e.ApplyTx(ctx, tx, couponID, familyID, orderRef, amount)
		return err
	})
	if err != nil {
		e.Failed(err)
		return nil, err
	}
	e.Applied(familyID, result, orderRef)
	return result, nil
}

// ApplyTx redeems the coupon inside the caller's transaction. The caller
// reports the outcome with Applied or Failed after tx finishes.
func (e *Engine) ApplyTx(ctx context.Context, tx *sql.Tx, couponID, familyID int64, orderRef string, amount int64) (*Result, error) {
	if amount < 0 {
		return nil, apperr.Invalid("amount must not be negative")
	}

	coupons := store.NewCouponStore(tx)
	c, err := coupons.GetByID(ctx, couponID)
	if err != nil {
		return nil, err
	}
	if err := e.check(ctx, coupons, c, familyID); err != nil {
		return nil, err
	}

	discount := Discount(*c, amount)
	var ref *string
	if orderRef = strings.TrimSpace(orderRef); orderRef != "" {
		ref = &orderRef
	}
	_, err = coupons.InsertUsage(ctx, model.CouponUsage{
		CouponID:       c.ID,
		FamilyID:       familyID,
		DiscountAmount: discount,
		OrderRef:       ref,
		CreatedAt:      e.now(),
	})
	if database.IsUniqueViolation(err) {
		return nil, apperr.New(apperr.KindAlreadyUsed, "coupon %s was already used by this family", c.Code)
	}
	if err != nil {
		return nil, err
	}

	ok, err := coupons.IncrementUsed(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.New(apperr.KindExhausted, "coupon %s has reached its usage limit", c.Code)
	}

	return &Result{
		CouponID:    c.ID,
		Code:        c.Code,
		Original:    amount,
		Discount:    discount,
		FinalAmount: amount - discount,
	}, nil
}

// Applied records a redemption whose transaction committed.
func (e *Engine) Applied(familyID int64, r *Result, orderRef string) {
	metrics.RecordCouponApplication("applied")
	e.pub.Publish(events.Event{
		FamilyID: familyID,
		Entity:   events.EntityCoupon,
		Action:   "applied",
		ID:       r.CouponID,
		Extra:    map[string]any{"code": r.Code, "discount": r.Discount, "order_ref": orderRef},
	})
	e.logger.Info("coupon applied", "family_id", familyID, "code", r.Code,
		"original", r.Original, "discount", r.Discount, "order_ref", orderRef)
}

// Failed records a redemption that was rolled back.
func (e *Engine) Failed(err error) {
	outcome := string(apperr.KindOf(err))
	if outcome == "" {
		outcome = "error"
	}
	metrics.RecordCouponApplication(outcome)
}

// --- Admin ---

type CreateInput struct {
	Code          string     `json:"code"`
	Description   string     `json:"description"`
	DiscountType  string     `json:"discount_type"`
	DiscountValue int64      `json:"discount_value"`
	MaxUses       *int       `json:"max_uses"`
	ValidFrom     *time.Time `json:"valid_from"`
	ValidUntil    *time.Time `json:"valid_until"`
}

func (e *Engine) Create(ctx context.Context, in CreateInput) (*model.Coupon, error) {
	code := strings.ToUpper(strings.TrimSpace(in.Code))
	if code == "" {
		return nil, apperr.Invalid("code is required")
	}
	if strings.ContainsAny(code, " \t\n") {
		return nil, apperr.Invalid("code must not contain whitespace")
	}
	typ, err := model.ParseDiscountType(in.DiscountType)
	if err != nil {
		return nil, apperr.Invalid("%v", err)
	}
	switch {
	case typ == model.DiscountPercentage && (in.DiscountValue < 1 || in.DiscountValue > 100):
		return nil, apperr.Invalid("percentage must be between 1 and 100")
	case typ == model.DiscountFixed && in.DiscountValue < 1:
		return nil, apperr.Invalid("fixed discount must be positive")
	}
	if in.MaxUses != nil && *in.MaxUses < 1 {
		return nil, apperr.Invalid("max uses must be positive")
	}
	if in.ValidFrom != nil && in.ValidUntil != nil && in.ValidUntil.Before(*in.ValidFrom) {
		return nil, apperr.Invalid("valid_until is before valid_from")
	}

	c, err := store.NewCouponStore(e.db).Create(ctx, model.Coupon{
		Code:          code,
		Description:   strings.TrimSpace(in.Description),
		DiscountType:  typ,
		DiscountValue: in.DiscountValue,
		MaxUses:       in.MaxUses,
		Active:        true,
		ValidFrom:     in.ValidFrom,
		ValidUntil:    in.ValidUntil,
	})
	if database.IsUniqueViolation(err) {
		return nil, apperr.Invalid("coupon %s already exists", code)
	}
	if err != nil {
		return nil, err
	}
	e.logger.Info("coupon created", "code", c.Code, "type", c.DiscountType, "value", c.DiscountValue)
	return c, nil
}

func (e *Engine) Deactivate(ctx context.Context, id int64) (*model.Coupon, error) {
	coupons := store.NewCouponStore(e.db)
	c, err := coupons.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, apperr.NotFound("coupon %d", id)
	}
	if err := coupons.SetActive(ctx, id, false); err != nil {
		return nil, err
	}
	c.Active = false
	return c, nil
}

func (e *Engine) Get(ctx context.Context, id int64) (*model.Coupon, error) {
	c, err := store.NewCouponStore(e.db).GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, apperr.NotFound("coupon %d", id)
	}
	return c, nil
}

func (e *Engine) List(ctx context.Context) ([]model.Coupon, error) {
	list, err := store.NewCouponStore(e.db).List(ctx)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []model.Coupon{}
	}
	return list, nil
}

// Usages lists the coupons a family has used, newest first.
func (e *Engine) Usages(ctx context.Context, familyID int64) ([]model.CouponUsage, error) {
	list, err := store.NewCouponStore(e.db).ListUsagesByFamily(ctx, familyID)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []model.CouponUsage{}
	}
	return list, nil
}
