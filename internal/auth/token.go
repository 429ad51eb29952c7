package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid identity token")

// Claims is the identity token payload.
type Claims struct {
	FamilyID int64  `json:"fid"`
	ChildID  int64  `json:"cid,omitempty"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// Tokens signs and verifies HS256 identity tokens.
type Tokens struct {
	secret []byte
	now    func() time.Time
}

func NewTokens(secret string) *Tokens {
	return &Tokens{secret: []byte(secret), now: time.Now}
}

// Issue signs a token for id that expires after ttl.
func (t *Tokens) Issue(id Identity, ttl time.Duration) (string, error) {
	now := t.now()
	claims := Claims{
		FamilyID: id.FamilyID,
		ChildID:  id.ChildID,
		Role:     id.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify checks the signature and expiry and returns the asserted
// identity.
func (t *Tokens) Verify(raw string) (Identity, error) {
	if len(t.secret) == 0 {
		return Identity{}, fmt.Errorf("%w: no secret configured", ErrInvalidToken)
	}
	token, err := jwt.ParseWithClaims(raw, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return Identity{}, ErrInvalidToken
	}

	id := Identity{FamilyID: claims.FamilyID, ChildID: claims.ChildID, Role: claims.Role}
	switch {
	case id.FamilyID <= 0:
		return Identity{}, fmt.Errorf("%w: missing family", ErrInvalidToken)
	case id.Role == RoleParent:
		id.ChildID = 0
	case id.Role == RoleChild && id.ChildID > 0:
	default:
		return Identity{}, fmt.Errorf("%w: bad role %q", ErrInvalidToken, id.Role)
	}
	return id, nil
}
