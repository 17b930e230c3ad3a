package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"

	"github.com/go-faster/errors"
)

// ErrUnauthorized is returned for any authentication failure. Callers get
// no detail about whether the key was unknown, inactive, or mismatched.
var ErrUnauthorized = errors.New("unauthorized")

// Scopes a key can carry.
const (
	ScopeRedeem = "redeem"
	ScopeAdmin  = "admin"
)

// APIKeyInfo holds the identity and permission data for a validated API key.
type APIKeyInfo struct {
	ID      string
	KeyHash string
	Name    string
	Scopes  []string
}

// HasScope reports whether the key grants the named scope. A key with the
// admin scope implicitly has every scope.
func (i *APIKeyInfo) HasScope(scope string) bool {
	for _, s := range i.Scopes {
		if s == scope || s == ScopeAdmin {
			return true
		}
	}
	return false
}

// Repository provides lookup of API keys by their HMAC hash.
type Repository interface {
	FindByHash(ctx context.Context, hash string) (*APIKeyInfo, error)
}

// HashKey computes the hex HMAC-SHA256 of a raw API key under the pepper.
// The same function is used at seed time and at verification time.
func HashKey(pepper []byte, key string) string {
	mac := hmac.New(sha256.New, pepper)
	mac.Write([]byte(key))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verifier authenticates raw API keys against their stored HMAC-SHA256
// hashes.
type Verifier struct {
	keys   Repository
	pepper []byte
}

// NewVerifier creates a Verifier with the given key repository and HMAC
// pepper.
func NewVerifier(keys Repository, pepper []byte) *Verifier {
	return &Verifier{keys: keys, pepper: pepper}
}

// Verify authenticates a raw API key: it hashes the key, looks the hash up,
// and compares in constant time to guard against timing side-channels in
// case the repository returns a stale or wrong row. Returns ErrUnauthorized
// on any failure.
func (v *Verifier) Verify(ctx context.Context, key string) (*APIKeyInfo, error) {
	mac := hmac.New(sha256.New, v.pepper)
	mac.Write([]byte(key))
	hash := mac.Sum(nil)

	info, err := v.keys.FindByHash(ctx, hex.EncodeToString(hash))
	if err != nil {
		return nil, ErrUnauthorized
	}

	stored, err := hex.DecodeString(info.KeyHash)
	if err != nil {
		return nil, ErrUnauthorized
	}
	if subtle.ConstantTimeCompare(hash, stored) != 1 {
		return nil, ErrUnauthorized
	}
	return info, nil
}
