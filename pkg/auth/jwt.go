package auth

import (
	"errors"
	"strings"
	"time"

	"slotkeeper/pkg/clock"
	apperrors "slotkeeper/pkg/errors"

	"github.com/golang-jwt/jwt/v5"
)

const (
	MsgMissingCredentials = "Authentication credentials were not provided."
	MsgInvalidHeader      = "Invalid Authorization header. Use 'Bearer <token>'."
	MsgTokenExpired       = "Token expired"
	MsgInvalidToken       = "Invalid token"
	MsgMissingSubject     = "Token payload missing 'sub'"
)

// Claims carried by access tokens. Subject holds the user id.
type Claims struct {
	IsAdmin bool `json:"is_admin,omitempty"`
	jwt.RegisteredClaims
}

// Verifier issues and validates HS256 access tokens.
type Verifier struct {
	secret []byte
	ttl    time.Duration
	clock  clock.Clock
}

func NewVerifier(secret string, ttl time.Duration, clk clock.Clock) *Verifier {
	if clk == nil {
		clk = clock.System{}
	}
	return &Verifier{secret: []byte(secret), ttl: ttl, clock: clk}
}

func (v *Verifier) Issue(id Identity) (string, error) {
	now := v.clock.Now()
	claims := Claims{
		IsAdmin: id.IsAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(v.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// Verify parses a raw token and returns the caller identity it carries.
func (v *Verifier) Verify(raw string) (Identity, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(v.clock.Now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, apperrors.Auth(MsgTokenExpired)
		}
		return Identity{}, apperrors.Auth(MsgInvalidToken)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return Identity{}, apperrors.Auth(MsgMissingSubject)
	}
	return Identity{ID: claims.Subject, IsAdmin: claims.IsAdmin}, nil
}

// VerifyHeader validates an Authorization header value of the form "Bearer <token>".
func (v *Verifier) VerifyHeader(header string) (Identity, error) {
	if strings.TrimSpace(header) == "" {
		return Identity{}, apperrors.Auth(MsgMissingCredentials)
	}
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return Identity{}, apperrors.Auth(MsgInvalidHeader)
	}
	return v.Verify(parts[1])
}
