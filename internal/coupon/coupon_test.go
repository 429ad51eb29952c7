package coupon

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/dukerupert/chorebank/internal/apperr"
	"github.com/dukerupert/chorebank/internal/database"
	"github.com/dukerupert/chorebank/internal/events"
	"github.com/dukerupert/chorebank/internal/model"
	"github.com/dukerupert/chorebank/internal/store"
)

var now = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func setupAt(t *testing.T, path string) (*Engine, *sql.DB) {
	t.Helper()
	db, err := database.Open(path)
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	e := NewEngine(db, events.Discard, slog.Default())
	e.now = func() time.Time { return now }
	return e, db
}

func setup(t *testing.T) (*Engine, *sql.DB) {
	return setupAt(t, ":memory:")
}

func seedFamily(t *testing.T, db *sql.DB, name string) int64 {
	t.Helper()
	f, err := store.NewFamilyStore(db).Create(context.Background(), name, "")
	require.NoError(t, err)
	return f.ID
}

func seedCoupon(t *testing.T, db *sql.DB, c model.Coupon) *model.Coupon {
	t.Helper()
	c.Active = true
	created, err := store.NewCouponStore(db).Create(context.Background(), c)
	require.NoError(t, err)
	return created
}

func intp(n int) *int { return &n }

func TestSave20Scenario(t *testing.T) {
	e, db := setup(t)
	ctx := context.Background()

	c := seedCoupon(t, db, model.Coupon{
		Code: "SAVE20", DiscountType: model.DiscountPercentage, DiscountValue: 20,
		MaxUses: intp(100), UsedCount: 40,
	})
	veteran := seedFamily(t, db, "Proudfoot")
	newcomer := seedFamily(t, db, "Cotton")

	// The veteran's usage is one of the 40 already counted.
	_, err := store.NewCouponStore(db).InsertUsage(ctx, model.CouponUsage{
		CouponID: c.ID, FamilyID: veteran, DiscountAmount: 200, CreatedAt: now.Add(-24 * time.Hour),
	})
	require.NoError(t, err)

	_, err = e.Validate(ctx, "save20", veteran)
	require.ErrorIs(t, err, apperr.ErrAlreadyUsed)
	_, err = e.Apply(ctx, c.ID, veteran, "order-2", 1000)
	require.ErrorIs(t, err, apperr.ErrAlreadyUsed)

	res, err := e.Apply(ctx, c.ID, newcomer, "order-3", 1000)
	require.NoError(t, err)
	require.EqualValues(t, 200, res.Discount)
	require.EqualValues(t, 800, res.FinalAmount)

	reloaded, err := e.Get(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, 41, reloaded.UsedCount)

	usages, err := e.Usages(ctx, newcomer)
	require.NoError(t, err)
	require.Len(t, usages, 1)
	require.EqualValues(t, 200, usages[0].DiscountAmount)
	require.Equal(t, "order-3", *usages[0].OrderRef)
}

func TestApplyTwiceIncrementsOnce(t *testing.T) {
	e, db := setup(t)
	ctx := context.Background()
	c := seedCoupon(t, db, model.Coupon{Code: "ONCE", DiscountType: model.DiscountFixed, DiscountValue: 300})
	fam := seedFamily(t, db, "Hornblower")

	_, err := e.Apply(ctx, c.ID, fam, "", 1000)
	require.NoError(t, err)
	_, err = e.Apply(ctx, c.ID, fam, "", 1000)
	require.ErrorIs(t, err, apperr.ErrAlreadyUsed)

	reloaded, err := e.Get(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, 1, reloaded.UsedCount)
}

func TestValidateOrder(t *testing.T) {
	e, db := setup(t)
	ctx := context.Background()
	fam := seedFamily(t, db, "Underhill")

	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	// Expired and exhausted: expiry is reported first.
	seedCoupon(t, db, model.Coupon{
		Code: "OLD", DiscountType: model.DiscountFixed, DiscountValue: 1,
		ValidUntil: &past, MaxUses: intp(1), UsedCount: 1,
	})
	seedCoupon(t, db, model.Coupon{Code: "SOON", DiscountType: model.DiscountFixed, DiscountValue: 1, ValidFrom: &future})
	seedCoupon(t, db, model.Coupon{Code: "GONE", DiscountType: model.DiscountFixed, DiscountValue: 1, MaxUses: intp(2), UsedCount: 2})
	off := seedCoupon(t, db, model.Coupon{Code: "OFF", DiscountType: model.DiscountFixed, DiscountValue: 1})
	_, err := e.Deactivate(ctx, off.ID)
	require.NoError(t, err)
	window := seedCoupon(t, db, model.Coupon{
		Code: "WINDOW", DiscountType: model.DiscountPercentage, DiscountValue: 10, ValidFrom: &past, ValidUntil: &future,
	})

	tests := []struct {
		code string
		want error
	}{
		{"NOPE", apperr.ErrNotFound},
		{"off", apperr.ErrNotFound},
		{"OLD", apperr.ErrExpired},
		{"SOON", apperr.ErrExpired},
		{"GONE", apperr.ErrExhausted},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			_, err := e.Validate(ctx, tt.code, fam)
			require.ErrorIs(t, err, tt.want)
		})
	}

	c, err := e.Validate(ctx, " window ", fam)
	require.NoError(t, err)
	require.Equal(t, window.ID, c.ID)
}

func TestApplyRespectsMaxUsesUnderConcurrency(t *testing.T) {
	e, db := setupAt(t, filepath.Join(t.TempDir(), "coupon.db"))
	ctx := context.Background()
	c := seedCoupon(t, db, model.Coupon{Code: "LAST", DiscountType: model.DiscountFixed, DiscountValue: 100, MaxUses: intp(1)})

	var families []int64
	for i := 0; i < 5; i++ {
		families = append(families, seedFamily(t, db, fmt.Sprintf("family-%d", i)))
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	applied := 0
	for _, fam := range families {
		wg.Add(1)
		go func(fam int64) {
			defer wg.Done()
			_, err := e.Apply(ctx, c.ID, fam, "", 500)
			if err == nil {
				mu.Lock()
				applied++
				mu.Unlock()
				return
			}
			kind := apperr.KindOf(err)
			if kind != apperr.KindExhausted && kind != apperr.KindConcurrencyConflict {
				t.Errorf("unexpected error: %v", err)
			}
		}(fam)
	}
	wg.Wait()

	require.Equal(t, 1, applied)
	reloaded, err := e.Get(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, 1, reloaded.UsedCount)
}

func TestDiscount(t *testing.T) {
	pct := func(v int64) model.Coupon {
		return model.Coupon{DiscountType: model.DiscountPercentage, DiscountValue: v}
	}
	fixed := func(v int64) model.Coupon { return model.Coupon{DiscountType: model.DiscountFixed, DiscountValue: v} }

	tests := []struct {
		name   string
		c      model.Coupon
		amount int64
		want   int64
	}{
		{"20 percent", pct(20), 1000, 200},
		{"half rounds up", pct(15), 10, 2},
		{"below half rounds down", pct(14), 10, 1},
		{"full", pct(100), 999, 999},
		{"fixed", fixed(300), 1000, 300},
		{"fixed capped", fixed(300), 250, 250},
		{"zero amount", pct(50), 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, Discount(tt.c, tt.amount))
		})
	}
}

func TestDiscountBounds(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		amount := rapid.Int64Range(0, 10_000_000).Draw(t, "amount")
		var c model.Coupon
		if rapid.Bool().Draw(t, "percentage") {
			c = model.Coupon{DiscountType: model.DiscountPercentage, DiscountValue: rapid.Int64Range(1, 100).Draw(t, "pct")}
		} else {
			c = model.Coupon{DiscountType: model.DiscountFixed, DiscountValue: rapid.Int64Range(1, 20_000_000).Draw(t, "fixed")}
		}

		d := Discount(c, amount)
		if d < 0 || d > amount {
			t.Fatalf("discount %d outside [0, %d]", d, amount)
		}
		if c.DiscountType == model.DiscountPercentage {
			exact := float64(amount) * float64(c.DiscountValue) / 100
			if diff := float64(d) - exact; diff > 0.5 || diff < -0.5 {
				t.Fatalf("discount %d too far from %f", d, exact)
			}
		}
	})
}

func TestCreateValidates(t *testing.T) {
	e, _ := setup(t)
	ctx := context.Background()

	c, err := e.Create(ctx, CreateInput{Code: " spring10 ", DiscountType: "percentage", DiscountValue: 10})
	require.NoError(t, err)
	require.Equal(t, "SPRING10", c.Code)
	require.True(t, c.Active)

	_, err = e.Create(ctx, CreateInput{Code: "Spring10", DiscountType: "fixed", DiscountValue: 10})
	require.ErrorIs(t, err, apperr.ErrInvalid)

	bad := []CreateInput{
		{Code: "", DiscountType: "fixed", DiscountValue: 1},
		{Code: "TWO WORDS", DiscountType: "fixed", DiscountValue: 1},
		{Code: "X1", DiscountType: "bogus", DiscountValue: 1},
		{Code: "X2", DiscountType: "percentage", DiscountValue: 101},
		{Code: "X3", DiscountType: "fixed", DiscountValue: 0},
		{Code: "X4", DiscountType: "fixed", DiscountValue: 1, MaxUses: intp(0)},
		{Code: "X5", DiscountType: "fixed", DiscountValue: 1, ValidFrom: &now, ValidUntil: func() *time.Time { t := now.Add(-time.Hour); return &t }()},
	}
	for _, in := range bad {
		_, err := e.Create(ctx, in)
		require.ErrorIs(t, err, apperr.ErrInvalid, "input %+v", in)
	}

	list, err := e.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
}
