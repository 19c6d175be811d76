// Package entitlement answers whether the user holds an active subscription.
package entitlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// PlanPro is the plan claim that grants entitlement.
const PlanPro = "pro"

// ErrInvalidLicense is returned when a license key fails verification.
var ErrInvalidLicense = errors.New("invalid license")

// Checker reports whether the user is entitled to paid features.
type Checker interface {
	IsEntitled(ctx context.Context) (bool, error)
}

// Static is a fixed answer, typically taken from configuration.
type Static bool

func (s Static) IsEntitled(context.Context) (bool, error) {
	return bool(s), nil
}

// Any is entitled when one of its checkers is. Errors are returned only when
// no checker grants entitlement.
type Any []Checker

func (a Any) IsEntitled(ctx context.Context) (bool, error) {
	var errs error
	for _, checker := range a {
		ok, err := checker.IsEntitled(ctx)
		if ok {
			return true, nil
		}
		errs = errors.Join(errs, err)
	}
	return false, errs
}

// Claims is the payload of a license key.
type Claims struct {
	Plan string `json:"plan"`
	jwt.RegisteredClaims
}

// License verifies an HS256-signed license key. The key is re-checked on
// every call so expiry takes effect without a restart.
type License struct {
	key    string
	secret []byte
	now    func() time.Time
}

// NewLicense creates a checker for key signed with secret.
func NewLicense(key string, secret []byte) *License {
	return &License{key: key, secret: secret, now: time.Now}
}

// IsEntitled reports true for a valid, unexpired key with the pro plan. A
// missing key is not an error.
func (l *License) IsEntitled(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if l.key == "" {
		return false, nil
	}
	claims, err := l.Verify()
	if err != nil {
		return false, err
	}
	return claims.Plan == PlanPro, nil
}

// Verify parses and validates the license key.
func (l *License) Verify() (*Claims, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(l.key, &claims, func(*jwt.Token) (interface{}, error) {
		return l.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(l.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidLicense, err)
	}
	return &claims, nil
}

// Issue signs a license for subject. It backs the CLI's license command and tests.
func Issue(secret []byte, subject, plan string, expires time.Time) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("license secret is required")
	}
	claims := Claims{
		Plan: plan,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}
