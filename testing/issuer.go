// Package testing provides utilities for testing applications that use jwtverify.
// It provides a mock issuer that serves JWKS and can sign tokens, enabling
// integration tests without needing a real identity provider.
//
// Example usage:
//
//	issuer := testing.NewTestIssuer()
//	defer issuer.Close()
//
//	v, _ := core.NewVerifier([]core.IssuerConfig{{
//		Issuer:  issuer.URL(),
//		Options: core.Options{Audience: []string{issuer.Audience()}},
//	}})
//
//	token := issuer.CreateToken("user-123", "test@example.com")
package testing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"time"

	jwtkit "github.com/PaulFidika/jwtverify/jwt"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// JWKSPath is where the test issuer serves its key set.
const JWKSPath = "/.well-known/jwks.json"

// TestIssuer runs an HTTP server that serves JWKS at /.well-known/jwks.json
// and signs tokens that validate against it. Responses can be degraded
// (status, content type, body, latency) to exercise fetch failures.
type TestIssuer struct {
	server   *httptest.Server
	audience string
	fetches  atomic.Int64

	mu          sync.Mutex
	signers     []*jwtkit.RSASigner
	current     *jwtkit.RSASigner
	status      int
	contentType string
	body        []byte
	delay       time.Duration
}

// NewTestIssuer creates a test issuer with one RS256 key, "test-key-1".
// Call Close() when done to shut down the test server.
func NewTestIssuer() *TestIssuer {
	return NewTestIssuerWithAudience("test-app")
}

// NewTestIssuerWithAudience creates a test issuer with a specific audience claim.
func NewTestIssuerWithAudience(audience string) *TestIssuer {
	ti := &TestIssuer{audience: audience}
	ti.current = ti.AddKey("test-key-1", "RS256")

	mux := http.NewServeMux()
	mux.HandleFunc(JWKSPath, ti.handleJWKS)
	ti.server = httptest.NewServer(mux)
	return ti
}

// URL returns the base URL of the test issuer server.
// Use this as the issuer in your verifier configuration.
func (ti *TestIssuer) URL() string {
	return ti.server.URL
}

// JWKSURI returns the key set location, which is also the default
// derived from URL().
func (ti *TestIssuer) JWKSURI() string {
	return ti.server.URL + JWKSPath
}

// Audience returns the audience configured for this test issuer.
func (ti *TestIssuer) Audience() string {
	return ti.audience
}

// Fetches reports how many times the key set was requested.
func (ti *TestIssuer) Fetches() int {
	return int(ti.fetches.Load())
}

// Close shuts down the test server.
func (ti *TestIssuer) Close() {
	if ti.server != nil {
		ti.server.Close()
	}
}

// AddKey generates and publishes a new 2048-bit key. It panics on failure.
func (ti *TestIssuer) AddKey(kid, alg string) *jwtkit.RSASigner {
	signer, err := jwtkit.NewRSASigner(2048, kid, alg)
	if err != nil {
		panic("failed to create RSA signer: " + err.Error())
	}
	ti.mu.Lock()
	ti.signers = append(ti.signers, signer)
	ti.mu.Unlock()
	return signer
}

// RemoveKey stops publishing kid. Tokens signed with it keep their signature.
func (ti *TestIssuer) RemoveKey(kid string) {
	ti.mu.Lock()
	defer ti.mu.Unlock()
	kept := ti.signers[:0]
	for _, s := range ti.signers {
		if s.KID() != kid {
			kept = append(kept, s)
		}
	}
	ti.signers = kept
}

// UseKey makes kid the key used by the CreateToken helpers.
func (ti *TestIssuer) UseKey(kid string) {
	ti.mu.Lock()
	defer ti.mu.Unlock()
	for _, s := range ti.signers {
		if s.KID() == kid {
			ti.current = s
			return
		}
	}
	panic("unknown test key " + kid)
}

// KeySet returns the JWKS document currently served.
func (ti *TestIssuer) KeySet() jwtkit.JWKS {
	ti.mu.Lock()
	defer ti.mu.Unlock()
	ks := jwtkit.JWKS{Keys: make([]jwtkit.JWK, 0, len(ti.signers))}
	for _, s := range ti.signers {
		ks.Keys = append(ks.Keys, s.JWK())
	}
	return ks
}

// SetStatus makes the JWKS endpoint answer with code. 0 restores 200.
func (ti *TestIssuer) SetStatus(code int) {
	ti.mu.Lock()
	ti.status = code
	ti.mu.Unlock()
}

// SetContentType overrides the JWKS response content type.
func (ti *TestIssuer) SetContentType(ct string) {
	ti.mu.Lock()
	ti.contentType = ct
	ti.mu.Unlock()
}

// SetBody replaces the JWKS response body. nil restores the real key set.
func (ti *TestIssuer) SetBody(b []byte) {
	ti.mu.Lock()
	ti.body = b
	ti.mu.Unlock()
}

// SetDelay delays every JWKS response by d.
func (ti *TestIssuer) SetDelay(d time.Duration) {
	ti.mu.Lock()
	ti.delay = d
	ti.mu.Unlock()
}

func (ti *TestIssuer) handleJWKS(w http.ResponseWriter, r *http.Request) {
	ti.fetches.Add(1)

	ti.mu.Lock()
	status, ct, body, delay := ti.status, ti.contentType, ti.body, ti.delay
	ti.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}
	if status == 0 && ct == "" && body == nil {
		jwtkit.ServeJWKS(w, r, ti.KeySet())
		return
	}

	if ct == "" {
		ct = "application/json"
	}
	if status == 0 {
		status = http.StatusOK
	}
	if body == nil {
		body = []byte(`{"keys":[]}`)
	}
	w.Header().Set("Content-Type", ct)
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// CreateToken creates a signed JWT token for testing.
// The token is signed with the current key and will validate against the
// JWKS served by this issuer.
func (ti *TestIssuer) CreateToken(userID, email string) string {
	return ti.CreateTokenWithClaims(userID, email, nil)
}

// CreateTokenWithClaims creates a signed JWT token with additional custom claims.
// The custom claims are merged with the standard claims (sub, email, iss, aud, exp, iat, jti).
// A nil value removes the claim.
func (ti *TestIssuer) CreateTokenWithClaims(userID, email string, extraClaims map[string]any) string {
	now := time.Now()

	claims := jwt.MapClaims{
		"sub":   userID,
		"email": email,
		"iss":   ti.URL(),
		"aud":   ti.audience,
		"exp":   now.Add(time.Hour).Unix(),
		"iat":   now.Unix(),
		"jti":   uuid.NewString(),
	}

	for k, v := range extraClaims {
		if v == nil {
			delete(claims, k)
			continue
		}
		claims[k] = v
	}

	ti.mu.Lock()
	signer := ti.current
	ti.mu.Unlock()
	return Sign(signer, claims)
}

// CreateTokenWithGroups creates a signed JWT token with Cognito group claims.
func (ti *TestIssuer) CreateTokenWithGroups(userID, email string, groups []string) string {
	return ti.CreateTokenWithClaims(userID, email, map[string]any{
		"cognito:groups": groups,
	})
}

// CreateTokenWithExpiry creates a signed JWT token with a custom expiry time.
func (ti *TestIssuer) CreateTokenWithExpiry(userID, email string, expiry time.Time) string {
	return ti.CreateTokenWithClaims(userID, email, map[string]any{
		"exp": expiry.Unix(),
	})
}

// CreateExpiredToken creates a token that has already expired.
// Useful for testing token expiration handling.
func (ti *TestIssuer) CreateExpiredToken(userID, email string) string {
	return ti.CreateTokenWithExpiry(userID, email, time.Now().Add(-time.Hour))
}

// Sign signs claims with signer, panicking on failure.
func Sign(signer *jwtkit.RSASigner, claims jwt.MapClaims) string {
	token, err := signer.Sign(context.Background(), claims)
	if err != nil {
		panic("failed to sign token: " + err.Error())
	}
	return token
}
