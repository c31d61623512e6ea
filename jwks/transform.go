package jwkscache

import (
	"crypto/rsa"
	"encoding/json"
	"sync"

	jwtkit "github.com/PaulFidika/jwtverify/jwt"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

// Transform converts wire key material into a verification key.
type Transform func(k jwtkit.JWK) (*rsa.PublicKey, error)

// transformKey includes the key material so an entry stored from a set
// that was replaced meanwhile is never served for the new one.
type transformKey struct {
	issuer string
	kid    string
	alg    string
	n      string
	e      string
}

// TransformCache memoizes JWK to *rsa.PublicKey conversion per
// (issuer, kid, alg) and key material.
type TransformCache struct {
	transform Transform

	mu      sync.RWMutex
	entries map[transformKey]*rsa.PublicKey
}

// NewTransformCache uses fn, or JWXTransform when fn is nil.
func NewTransformCache(fn Transform) *TransformCache {
	if fn == nil {
		fn = JWXTransform
	}
	return &TransformCache{transform: fn, entries: make(map[transformKey]*rsa.PublicKey)}
}

// Get returns the cached key for the triple or transforms k and stores it.
func (c *TransformCache) Get(issuer, kid, alg string, k jwtkit.JWK) (*rsa.PublicKey, error) {
	tk := transformKey{issuer: issuer, kid: kid, alg: alg, n: k.N, e: k.E}

	c.mu.RLock()
	pub, ok := c.entries[tk]
	c.mu.RUnlock()
	if ok {
		return pub, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if pub, ok := c.entries[tk]; ok {
		return pub, nil
	}
	pub, err := c.transform(k)
	if err != nil {
		return nil, err
	}
	c.entries[tk] = pub
	return pub, nil
}

// Invalidate drops every entry for issuer.
func (c *TransformCache) Invalidate(issuer string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for tk := range c.entries {
		if tk.issuer == issuer {
			delete(c.entries, tk)
		}
	}
}

func (c *TransformCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// JWXTransform parses the JWK with lestrrat-go/jwx and exports the RSA key.
func JWXTransform(k jwtkit.JWK) (*rsa.PublicKey, error) {
	raw := []byte(k.Raw)
	if len(raw) == 0 {
		b, err := json.Marshal(k)
		if err != nil {
			return nil, jwtkit.WrapError(jwtkit.KindKeyValidation, err, "encode jwk %q", k.Kid)
		}
		raw = b
	}
	key, err := jwk.ParseKey(raw)
	if err != nil {
		return nil, jwtkit.WrapError(jwtkit.KindKeyValidation, err, "parse jwk %q", k.Kid)
	}
	var pub rsa.PublicKey
	if err := key.Raw(&pub); err != nil {
		return nil, jwtkit.WrapError(jwtkit.KindKeyValidation, err, "export jwk %q", k.Kid)
	}
	return &pub, nil
}
