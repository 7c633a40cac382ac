package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Algorithm names the signature scheme used for the device token.
type Algorithm string

const (
	// AlgorithmRS256 signs with RSASSA-PKCS1-v1_5 using SHA-256.
	AlgorithmRS256 Algorithm = "RS256"

	// AlgorithmES256 signs with ECDSA on P-256 using SHA-256.
	AlgorithmES256 Algorithm = "ES256"
)

// ValidAlgorithms is the set of accepted signing algorithms.
var ValidAlgorithms = []Algorithm{AlgorithmRS256, AlgorithmES256}

// ParseAlgorithm converts user input to an Algorithm.
// Matching is exact: "rs256" is rejected just like "HS256".
func ParseAlgorithm(s string) (Algorithm, error) {
	for _, a := range ValidAlgorithms {
		if Algorithm(s) == a {
			return a, nil
		}
	}
	return "", fmt.Errorf("%w: %q (should be one of %q or %q)",
		ErrInvalidAlgorithm, s, AlgorithmRS256, AlgorithmES256)
}

// signingMethod maps the algorithm to its jwt signing method.
func (a Algorithm) signingMethod() (jwt.SigningMethod, error) {
	switch a {
	case AlgorithmRS256:
		return jwt.SigningMethodRS256, nil
	case AlgorithmES256:
		return jwt.SigningMethodES256, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidAlgorithm, string(a))
	}
}

// Identity is the device identity a credential asserts.
// It is supplied once at startup and never mutated.
type Identity struct {
	DeviceID       string
	Audience       string
	PrivateKeyFile string
	Algorithm      Algorithm
}

// AudienceURL returns the token audience: https://{audience}/devices/{deviceID}.
func (id Identity) AudienceURL() string {
	return fmt.Sprintf("https://%s/devices/%s", id.Audience, id.DeviceID)
}

// Credential is a signed, time-bounded device token used as the MQTT password.
// It is immutable; a new one must be built once it expires.
type Credential struct {
	Token     string
	DeviceID  string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Expired reports whether the credential is no longer valid at now.
func (c *Credential) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// Remaining returns the validity left at now, or zero once expired.
func (c *Credential) Remaining(now time.Time) time.Duration {
	if c.Expired(now) {
		return 0
	}
	return c.ExpiresAt.Sub(now)
}

// String redacts the token so a credential can be logged safely.
func (c *Credential) String() string {
	return fmt.Sprintf("credential(device=%s, expires=%s)", c.DeviceID, c.ExpiresAt.UTC().Format(time.RFC3339))
}

// Domain-specific errors for credential construction.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrKeyLoad is returned when the private key file is missing or is not
	// a PEM-encoded key matching the configured algorithm.
	ErrKeyLoad = errors.New("auth: cannot load private key")

	// ErrInvalidAlgorithm is returned for any algorithm other than RS256 or ES256.
	ErrInvalidAlgorithm = errors.New("auth: invalid algorithm")

	// ErrTokenInvalid is returned when a token fails verification.
	ErrTokenInvalid = errors.New("auth: invalid token")
)
