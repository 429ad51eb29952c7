package model

import "time"

type Child struct {
	ID             int64     `json:"id"`
	FamilyID       int64     `json:"family_id"`
	Name           string    `json:"name"`
	HasPIN         bool      `json:"has_pin"`
	Balance        int       `json:"balance"`
	LifetimePoints int       `json:"lifetime_points"`
	XP             int       `json:"xp"`
	LifetimeXP     int       `json:"lifetime_xp"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}
