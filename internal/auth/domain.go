// Package auth turns bearer tokens issued by the identity provider into the acting
// identity carried through request contexts.
package auth

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrTokenMissing indicates the request carried no bearer token.
	ErrTokenMissing = errors.New("auth: bearer token missing")
	// ErrTokenExpired indicates the token is past its expiry.
	ErrTokenExpired = errors.New("auth: token expired")
	// ErrTokenInvalid indicates a malformed, forged or misissued token.
	ErrTokenInvalid = errors.New("auth: token invalid")
)

// Claims is the identity token payload. Subject holds the member id.
type Claims struct {
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}
