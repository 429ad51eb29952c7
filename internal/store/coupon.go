package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/dukerupert/chorebank/internal/database"
	"github.com/dukerupert/chorebank/internal/model"
)

type CouponStore struct {
	db database.DBTX
}

func NewCouponStore(db database.DBTX) *CouponStore {
	return &CouponStore{db: db}
}

func (s *CouponStore) WithTx(tx *sql.Tx) *CouponStore {
	return &CouponStore{db: tx}
}

func scanCoupon(sc scanner) (*model.Coupon, error) {
	var c model.Coupon
	var discountType string
	var maxUses sql.NullInt64
	var active int
	var validFrom, validUntil sql.NullTime

	err := sc.Scan(
		&c.ID, &c.Code, &c.Description, &discountType, &c.DiscountValue, &maxUses, &c.UsedCount,
		&active, &validFrom, &validUntil, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	c.DiscountType = model.DiscountType(discountType)
	c.MaxUses = intPtr(maxUses)
	c.Active = active != 0
	c.ValidFrom = timePtr(validFrom)
	c.ValidUntil = timePtr(validUntil)
	return &c, nil
}

const couponCols = `id, code, description, discount_type, discount_value, max_uses, used_count, active,
	valid_from, valid_until, created_at, updated_at`

func (s *CouponStore) Create(ctx context.Context, c model.Coupon) (*model.Coupon, error) {
	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO coupons
			(code, description, discount_type, discount_value, max_uses, used_count, active, valid_from, valid_until, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		strings.ToUpper(c.Code), c.Description, string(c.DiscountType), c.DiscountValue, nullInt(c.MaxUses),
		c.UsedCount, boolInt(c.Active), nullTime(c.ValidFrom), nullTime(c.ValidUntil), now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert coupon: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(ctx, id)
}

func (s *CouponStore) GetByID(ctx context.Context, id int64) (*model.Coupon, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+couponCols+` FROM coupons WHERE id = ?`, id)
	c, err := scanCoupon(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get coupon: %w", err)
	}
	return c, nil
}

// GetByCode looks a coupon up case-insensitively.
func (s *CouponStore) GetByCode(ctx context.Context, code string) (*model.Coupon, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+couponCols+` FROM coupons WHERE code = ?`, strings.TrimSpace(code))
	c, err := scanCoupon(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get coupon by code: %w", err)
	}
	return c, nil
}

func (s *CouponStore) List(ctx context.Context) ([]model.Coupon, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+couponCols+` FROM coupons ORDER BY code ASC`)
	if err != nil {
		return nil, fmt.Errorf("list coupons: %w", err)
	}
	defer rows.Close()

	var coupons []model.Coupon
	for rows.Next() {
		c, err := scanCoupon(rows)
		if err != nil {
			return nil, fmt.Errorf("scan coupon: %w", err)
		}
		coupons = append(coupons, *c)
	}
	return coupons, rows.Err()
}

func (s *CouponStore) SetActive(ctx context.Context, id int64, active bool) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE coupons SET active = ?, updated_at = ? WHERE id = ?`,
		boolInt(active), time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("set coupon active: %w", err)
	}
	return nil
}

// IncrementUsed bumps used_count unless the coupon is already at max_uses.
// It reports false when the limit was reached.
func (s *CouponStore) IncrementUsed(ctx context.Context, id int64) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE coupons SET used_count = used_count + 1, updated_at = ?
		 WHERE id = ? AND (max_uses IS NULL OR used_count < max_uses)`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return false, fmt.Errorf("increment coupon usage: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

// --- Usage methods ---

func scanUsage(sc scanner) (*model.CouponUsage, error) {
	var u model.CouponUsage
	var orderRef sql.NullString
	err := sc.Scan(&u.ID, &u.CouponID, &u.FamilyID, &u.DiscountAmount, &orderRef, &u.CreatedAt)
	if err != nil {
		return nil, err
	}
	u.OrderRef = stringPtr(orderRef)
	return &u, nil
}

const usageCols = `id, coupon_id, family_id, discount_amount, order_ref, created_at`

// InsertUsage records that familyID used the coupon. The (family_id,
// coupon_id) unique constraint rejects a second usage; callers detect it with
// database.IsUniqueViolation.
func (s *CouponStore) InsertUsage(ctx context.Context, u model.CouponUsage) (*model.CouponUsage, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO coupon_usages (coupon_id, family_id, discount_amount, order_ref, created_at) VALUES (?, ?, ?, ?, ?)`,
		u.CouponID, u.FamilyID, u.DiscountAmount, nullString(u.OrderRef), u.CreatedAt.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert coupon usage: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	u.ID = id
	return &u, nil
}

func (s *CouponStore) UsageExists(ctx context.Context, couponID, familyID int64) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM coupon_usages WHERE coupon_id = ? AND family_id = ?`,
		couponID, familyID,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check coupon usage: %w", err)
	}
	return n > 0, nil
}

func (s *CouponStore) ListUsagesByFamily(ctx context.Context, familyID int64) ([]model.CouponUsage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+usageCols+` FROM coupon_usages WHERE family_id = ? ORDER BY id DESC`,
		familyID,
	)
	if err != nil {
		return nil, fmt.Errorf("list coupon usages: %w", err)
	}
	defer rows.Close()

	var usages []model.CouponUsage
	for rows.Next() {
		u, err := scanUsage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan coupon usage: %w", err)
		}
		usages = append(usages, *u)
	}
	return usages, rows.Err()
}
