package model

import "time"

type Coupon struct {
	ID            int64        `json:"id"`
	Code          string       `json:"code"`
	Description   string       `json:"description"`
	DiscountType  DiscountType `json:"discount_type"`
	DiscountValue int64        `json:"discount_value"`
	MaxUses       *int         `json:"max_uses"`
	UsedCount     int          `json:"used_count"`
	Active        bool         `json:"active"`
	ValidFrom     *time.Time   `json:"valid_from"`
	ValidUntil    *time.Time   `json:"valid_until"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

type CouponUsage struct {
	ID             int64     `json:"id"`
	CouponID       int64     `json:"coupon_id"`
	FamilyID       int64     `json:"family_id"`
	DiscountAmount int64     `json:"discount_amount"`
	OrderRef       *string   `json:"order_ref"`
	CreatedAt      time.Time `json:"created_at"`
}
