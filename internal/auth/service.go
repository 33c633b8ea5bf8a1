package auth

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/coop-ledger/coopledger/internal/shared"
)

// Verifier validates HS256 identity tokens.
type Verifier struct {
	secret []byte
	issuer string
	leeway time.Duration
	now    func() time.Time
}

// NewVerifier builds a verifier for the shared secret. An empty issuer disables the
// issuer check.
func NewVerifier(secret, issuer string) (*Verifier, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("auth: token secret must be provided")
	}
	return &Verifier{secret: []byte(secret), issuer: issuer, leeway: 30 * time.Second, now: time.Now}, nil
}

// Verify parses the token and returns the actor it identifies.
func (v *Verifier) Verify(raw string) (shared.Actor, error) {
	if strings.TrimSpace(raw) == "" {
		return shared.Actor{}, ErrTokenMissing
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(v.leeway),
		jwt.WithTimeFunc(v.now),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return shared.Actor{}, ErrTokenExpired
		}
		return shared.Actor{}, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}
	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || id <= 0 {
		return shared.Actor{}, fmt.Errorf("%w: subject %q is not a member id", ErrTokenInvalid, claims.Subject)
	}
	return shared.Actor{ID: id, Name: claims.Name}, nil
}

// Issue signs a token for memberID valid for ttl. Used by tooling and tests; production
// tokens come from the identity provider.
func (v *Verifier) Issue(memberID int64, name string, ttl time.Duration) (string, error) {
	now := v.now()
	claims := Claims{
		Name: name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(memberID, 10),
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
