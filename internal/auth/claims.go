package auth

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Builder creates signed device credentials.
// The zero value is ready to use and reads the wall clock.
type Builder struct {
	// Now overrides the clock, mainly for tests.
	Now func() time.Time
}

// Build creates a credential for id valid for ttl, using the wall clock.
func Build(id Identity, ttl time.Duration) (*Credential, error) {
	return (&Builder{}).Build(id, ttl)
}

// Build signs a token asserting id.
//
// Claims:
//   - sub: device id
//   - aud: https://{audience}/devices/{device id}
//   - iat: now
//   - exp: now + ttl
//
// The algorithm is checked before the key file is touched, so an invalid
// algorithm never causes any I/O.
func (b *Builder) Build(id Identity, ttl time.Duration) (*Credential, error) {
	method, err := id.Algorithm.signingMethod()
	if err != nil {
		return nil, err
	}

	key, err := loadPrivateKey(id.PrivateKeyFile, id.Algorithm)
	if err != nil {
		return nil, err
	}

	// JWT timestamps have second precision; keep the Credential in step.
	now := time.Unix(b.now().Unix(), 0)
	expiresAt := now.Add(ttl)

	// MapClaims keeps a single audience as a plain string rather than an array.
	claims := jwt.MapClaims{
		"sub": id.DeviceID,
		"aud": id.AudienceURL(),
		"iat": now.Unix(),
		"exp": expiresAt.Unix(),
	}

	token := jwt.NewWithClaims(method, claims)
	signed, err := token.SignedString(key)
	if err != nil {
		return nil, fmt.Errorf("signing device token: %w", err)
	}

	return &Credential{
		Token:     signed,
		DeviceID:  id.DeviceID,
		IssuedAt:  now,
		ExpiresAt: expiresAt,
	}, nil
}

func (b *Builder) now() time.Time {
	if b.Now != nil {
		return b.Now()
	}
	return time.Now()
}

// loadPrivateKey reads a PEM private key (PKCS#1, SEC 1 or PKCS#8) of the
// type required by alg.
func loadPrivateKey(path string, alg Algorithm) (crypto.Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrKeyLoad, err)
	}

	switch alg {
	case AlgorithmRS256:
		key, err := jwt.ParseRSAPrivateKeyFromPEM(data)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrKeyLoad, path, err)
		}
		return key, nil
	case AlgorithmES256:
		key, err := jwt.ParseECPrivateKeyFromPEM(data)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrKeyLoad, path, err)
		}
		if key.Curve != elliptic.P256() {
			return nil, fmt.Errorf("%w: %s: ES256 requires a P-256 key, got %s",
				ErrKeyLoad, path, key.Curve.Params().Name)
		}
		return key, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidAlgorithm, string(alg))
	}
}

// Verify parses tokenString, checks its signature against key and validates
// exp/iat. When audience is non-empty the aud claim must match it.
//
// Devices never verify their own tokens; brokers and tests do.
func Verify(tokenString string, key crypto.PublicKey, audience string) (*jwt.RegisteredClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{string(AlgorithmRS256), string(AlgorithmES256)}),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
	}
	if audience != "" {
		opts = append(opts, jwt.WithAudience(audience))
	}

	token, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		switch key.(type) {
		case *ecdsa.PublicKey:
			if _, ok := t.Method.(*jwt.SigningMethodECDSA); !ok {
				return nil, fmt.Errorf("unexpected signing method %s", t.Method.Alg())
			}
		default:
			if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
				return nil, fmt.Errorf("unexpected signing method %s", t.Method.Alg())
			}
		}
		return key, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}

	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}

	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}

	return claims, nil
}
