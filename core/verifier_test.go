package core_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/PaulFidika/jwtverify/core"
	jwtkit "github.com/PaulFidika/jwtverify/jwt"
	jwkscache "github.com/PaulFidika/jwtverify/jwks"
	memorylimiter "github.com/PaulFidika/jwtverify/ratelimit/memory"
	testissuer "github.com/PaulFidika/jwtverify/testing"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newVerifier(t *testing.T, ti *testissuer.TestIssuer, opts ...core.VerifierOpt) *core.Verifier {
	t.Helper()
	v, err := core.NewVerifier([]core.IssuerConfig{{
		Issuer:  ti.URL(),
		Options: core.Options{Audience: []string{ti.Audience()}},
	}}, opts...)
	require.NoError(t, err)
	return v
}

func TestVerifyRotationScenario(t *testing.T) {
	ti := testissuer.NewTestIssuer()
	defer ti.Close()
	ti.AddKey("kid-1", "RS256")
	ti.UseKey("kid-1")
	ti.RemoveKey("test-key-1")

	cache := jwkscache.New(jwkscache.WithCooldown(memorylimiter.New(time.Minute)))
	v := newVerifier(t, ti, core.WithKeySetCache(cache))
	ctx := context.Background()

	good := ti.CreateToken("user-1", "u1@example.com")
	payload, err := v.Verify(ctx, good)
	require.NoError(t, err)
	assert.Equal(t, "user-1", payload["sub"])
	assert.Equal(t, 1, ti.Fetches())

	rogue, err := jwtkit.NewRSASigner(2048, "kid-2", "RS256")
	require.NoError(t, err)
	unknown := testissuer.Sign(rogue, jwt.MapClaims{
		"iss": ti.URL(),
		"aud": ti.Audience(),
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	_, err = v.Verify(ctx, unknown)
	require.ErrorIs(t, err, jwtkit.ErrKeyNotFound)
	assert.Equal(t, 2, ti.Fetches())

	_, err = v.Verify(ctx, good)
	require.NoError(t, err)
	assert.Equal(t, 2, ti.Fetches())

	// The miss put the URI in cooldown.
	_, err = v.Verify(ctx, unknown)
	require.ErrorIs(t, err, jwtkit.ErrCooldownActive)
	assert.Equal(t, 2, ti.Fetches())
}

func TestVerifyDefaultCooldownSuppressesRefetch(t *testing.T) {
	ti := testissuer.NewTestIssuer()
	defer ti.Close()
	v := newVerifier(t, ti)
	ctx := context.Background()

	rogue := ti.AddKey("kid-2", "RS256")
	ti.RemoveKey("kid-2")
	token := testissuer.Sign(rogue, jwt.MapClaims{"iss": ti.URL(), "aud": ti.Audience(), "exp": time.Now().Add(time.Hour).Unix()})

	_, err := v.Verify(ctx, token)
	require.ErrorIs(t, err, jwtkit.ErrKeyNotFound)
	assert.Equal(t, 1, ti.Fetches())

	for i := 0; i < 4; i++ {
		_, err = v.Verify(ctx, token)
		require.ErrorIs(t, err, jwtkit.ErrCooldownActive)
	}
	assert.Equal(t, 1, ti.Fetches())

	// Known keys still verify while the URI cools down.
	_, err = v.Verify(ctx, ti.CreateToken("user-1", "u1@example.com"))
	require.NoError(t, err)
	assert.Equal(t, 1, ti.Fetches())
}

func TestVerifySyncUsesCachedKeysOnly(t *testing.T) {
	ti := testissuer.NewTestIssuer()
	defer ti.Close()
	v := newVerifier(t, ti)
	token := ti.CreateToken("user-1", "u1@example.com")

	_, err := v.VerifySync(token)
	require.ErrorIs(t, err, jwtkit.ErrKeySetNotCached)

	require.NoError(t, v.CacheKeySet("", ti.KeySet()))
	payload, err := v.VerifySync(token)
	require.NoError(t, err)
	assert.Equal(t, "u1@example.com", payload["email"])

	other, err := jwtkit.NewRSASigner(2048, "unknown", "RS256")
	require.NoError(t, err)
	_, err = v.VerifySync(testissuer.Sign(other, jwt.MapClaims{"iss": ti.URL(), "aud": ti.Audience()}))
	require.ErrorIs(t, err, jwtkit.ErrKeyNotFound)

	assert.Equal(t, 0, ti.Fetches())
}

func TestVerifyClaims(t *testing.T) {
	ti := testissuer.NewTestIssuer()
	defer ti.Close()
	v := newVerifier(t, ti)
	require.NoError(t, v.CacheKeySet(ti.URL(), ti.KeySet()))
	now := time.Now()

	tests := []struct {
		name   string
		claims map[string]any
		opts   []core.Option
		want   error
	}{
		{name: "valid", claims: nil},
		{name: "wrong audience", claims: map[string]any{"aud": "someone-else"}, want: jwtkit.ErrAudience},
		{name: "audience list", claims: map[string]any{"aud": []string{"x", ti.Audience()}}},
		{name: "missing audience", claims: map[string]any{"aud": nil}, want: jwtkit.ErrAudience},
		{name: "audience skipped", claims: map[string]any{"aud": nil}, opts: []core.Option{core.WithoutAudience()}},
		{name: "per-call audience", claims: map[string]any{"aud": "api"}, opts: []core.Option{core.WithAudience("api")}},
		{name: "wrong issuer", claims: map[string]any{"iss": "https://evil.example"}, want: jwtkit.ErrIssuer},
		{name: "missing issuer", claims: map[string]any{"iss": nil}, want: jwtkit.ErrIssuer},
		{name: "token use", claims: map[string]any{"token_use": "id"}, opts: []core.Option{core.WithTokenUse("access")}, want: jwtkit.ErrTokenUse},
		{name: "token use ok", claims: map[string]any{"token_use": "access"}, opts: []core.Option{core.WithTokenUse("access")}},
		{name: "group missing", opts: []core.Option{core.WithGroups("admin")}, want: jwtkit.ErrGroup},
		{name: "group mismatch", claims: map[string]any{"cognito:groups": []string{"user"}}, opts: []core.Option{core.WithGroups("admin")}, want: jwtkit.ErrGroup},
		{name: "group ok", claims: map[string]any{"cognito:groups": []string{"user", "admin"}}, opts: []core.Option{core.WithGroups("admin")}},
		{name: "scope mismatch", claims: map[string]any{"scope": "read write"}, opts: []core.Option{core.WithScopes("admin")}, want: jwtkit.ErrScope},
		{name: "scope ok", claims: map[string]any{"scope": "read write"}, opts: []core.Option{core.WithScopes("write")}},
		{name: "expired", claims: map[string]any{"exp": now.Add(-time.Minute).Unix()}, want: jwtkit.ErrExpired},
		{name: "expired within skew", claims: map[string]any{"exp": now.Add(-2 * time.Second).Unix()}, opts: []core.Option{core.WithClockSkew(10 * time.Second)}},
		{name: "missing exp", claims: map[string]any{"exp": nil}, want: jwtkit.ErrExpired},
		{name: "expiry skipped", claims: map[string]any{"exp": now.Add(-time.Hour).Unix()}, opts: []core.Option{core.WithSkipExpiry()}},
		{name: "not yet valid", claims: map[string]any{"nbf": now.Add(time.Minute).Unix()}, want: jwtkit.ErrNotYetValid},
		{name: "nbf within skew", claims: map[string]any{"nbf": now.Add(2 * time.Second).Unix()}, opts: []core.Option{core.WithClockSkew(10 * time.Second)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token := ti.CreateTokenWithClaims("user-1", "u1@example.com", tt.claims)
			_, err := v.VerifySync(token, tt.opts...)
			if tt.want == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.want)
			assert.True(t, jwtkit.IsClaimError(err))
		})
	}
}

func TestVerifyClaimOrder(t *testing.T) {
	ti := testissuer.NewTestIssuer()
	defer ti.Close()
	v := newVerifier(t, ti)
	require.NoError(t, v.CacheKeySet("", ti.KeySet()))

	// Wrong audience and expired: audience is checked first.
	token := ti.CreateTokenWithClaims("u", "e", map[string]any{
		"aud": "other",
		"exp": time.Now().Add(-time.Hour).Unix(),
	})
	_, err := v.VerifySync(token)
	require.ErrorIs(t, err, jwtkit.ErrAudience)

	var je *jwtkit.Error
	require.True(t, errors.As(err, &je))
	assert.Equal(t, "aud", je.Claim)
	assert.Equal(t, "other", je.Actual)
	assert.Equal(t, []string{ti.Audience()}, je.Expected)
}

func TestVerifySignatureFailures(t *testing.T) {
	ti := testissuer.NewTestIssuer()
	defer ti.Close()
	v := newVerifier(t, ti)
	require.NoError(t, v.CacheKeySet("", ti.KeySet()))
	claims := jwt.MapClaims{"iss": ti.URL(), "aud": ti.Audience(), "exp": time.Now().Add(time.Hour).Unix()}

	t.Run("impostor key with published kid", func(t *testing.T) {
		impostor, err := jwtkit.NewRSASigner(2048, "test-key-1", "RS256")
		require.NoError(t, err)
		_, err = v.VerifySync(testissuer.Sign(impostor, claims))
		require.ErrorIs(t, err, jwtkit.ErrSignatureInvalid)
	})

	t.Run("algorithm differs from key", func(t *testing.T) {
		signer := ti.AddKey("k384", "RS384")
		require.NoError(t, v.CacheKeySet("", ti.KeySet()))
		tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
		tok.Header["kid"] = "k384"
		s, err := tok.SignedString(signer.PrivateKey())
		require.NoError(t, err)
		_, err = v.VerifySync(s)
		require.ErrorIs(t, err, jwtkit.ErrKeyValidation)
	})

	t.Run("unsupported algorithm", func(t *testing.T) {
		tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
		tok.Header["kid"] = "test-key-1"
		s, err := tok.SignedString([]byte("secret"))
		require.NoError(t, err)
		_, err = v.VerifySync(s)
		require.ErrorIs(t, err, jwtkit.ErrParse)
	})

	t.Run("missing kid", func(t *testing.T) {
		tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
		signer := ti.AddKey("nokid", "RS256")
		s, err := tok.SignedString(signer.PrivateKey())
		require.NoError(t, err)
		_, err = v.VerifySync(s)
		require.ErrorIs(t, err, jwtkit.ErrParse)
	})

	t.Run("malformed", func(t *testing.T) {
		_, err := v.VerifySync("not-a-jwt")
		require.ErrorIs(t, err, jwtkit.ErrParse)
	})
}

func TestNewVerifierRejectsBadConfig(t *testing.T) {
	aud := core.Options{Audience: []string{"app"}}
	tests := []struct {
		name    string
		issuers []core.IssuerConfig
	}{
		{name: "none"},
		{name: "empty issuer", issuers: []core.IssuerConfig{{Options: aud}}},
		{name: "no audience decision", issuers: []core.IssuerConfig{{Issuer: "https://idp.example"}}},
		{name: "audience and skip", issuers: []core.IssuerConfig{{Issuer: "https://idp.example", Options: core.Options{Audience: []string{"a"}, SkipAudience: true}}}},
		{name: "negative skew", issuers: []core.IssuerConfig{{Issuer: "https://idp.example", Options: core.Options{SkipAudience: true, ClockSkew: -time.Second}}}},
		{name: "duplicate", issuers: []core.IssuerConfig{{Issuer: "https://idp.example", Options: aud}, {Issuer: "https://idp.example", Options: aud}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := core.NewVerifier(tt.issuers)
			require.ErrorIs(t, err, jwtkit.ErrParameterViolation)
		})
	}
}

func TestDefaultJWKSURI(t *testing.T) {
	v, err := core.NewVerifier([]core.IssuerConfig{{Issuer: "https://idp.example/pool1/", Options: core.Options{SkipAudience: true}}})
	require.NoError(t, err)
	assert.Equal(t, "https://idp.example/pool1/.well-known/jwks.json", v.Issuers()[0].JWKSURI)
}

func TestCustomChecks(t *testing.T) {
	ti := testissuer.NewTestIssuer()
	defer ti.Close()
	v := newVerifier(t, ti)
	require.NoError(t, v.CacheKeySet("", ti.KeySet()))
	token := ti.CreateTokenWithClaims("user-1", "u1@example.com", map[string]any{"tenant": "acme"})

	var seen core.CheckInput
	_, err := v.VerifySync(token, core.WithCustomCheck(func(in core.CheckInput) error {
		seen = in
		return nil
	}))
	require.NoError(t, err)
	assert.Equal(t, "acme", seen.Payload["tenant"])
	assert.Equal(t, "test-key-1", seen.JWK.Kid)
	assert.Equal(t, "RS256", seen.Header.Alg)

	_, err = v.VerifySync(token, core.WithCustomCheck(func(core.CheckInput) error {
		return errors.New("tenant suspended")
	}))
	require.ErrorIs(t, err, jwtkit.ErrCustomCheck)
	assert.Contains(t, err.Error(), "tenant suspended")

	_, err = v.VerifySync(token, core.WithCustomCheck(func(core.CheckInput) error {
		return jwtkit.ClaimError(jwtkit.KindScope, "scope", "", "admin", "needs admin")
	}))
	require.ErrorIs(t, err, jwtkit.ErrScope)

	async := core.WithAsyncCustomCheck(func(context.Context, core.CheckInput) error { return nil })
	_, err = v.VerifySync(token, async)
	require.ErrorIs(t, err, jwtkit.ErrParameterViolation)
	assert.Contains(t, err.Error(), "custom check must be synchronous")

	_, err = v.Verify(context.Background(), token, async)
	require.NoError(t, err)
}

func TestRawTokenInErrors(t *testing.T) {
	ti := testissuer.NewTestIssuer()
	defer ti.Close()
	v := newVerifier(t, ti)
	require.NoError(t, v.CacheKeySet("", ti.KeySet()))
	token := ti.CreateExpiredToken("user-1", "u1@example.com")

	var je *jwtkit.Error
	_, err := v.VerifySync(token)
	require.True(t, errors.As(err, &je))
	assert.Empty(t, je.RawToken)

	_, err = v.VerifySync(token, core.WithRawTokenInErrors())
	require.True(t, errors.As(err, &je))
	assert.Equal(t, token, je.RawToken)

	_, err = v.VerifySync("garbage", core.WithRawTokenInErrors())
	require.True(t, errors.As(err, &je))
	assert.Equal(t, "garbage", je.RawToken)
}

func TestMultipleIssuers(t *testing.T) {
	a := testissuer.NewTestIssuerWithAudience("app-a")
	defer a.Close()
	b := testissuer.NewTestIssuerWithAudience("app-b")
	defer b.Close()

	v, err := core.NewVerifier([]core.IssuerConfig{
		{Issuer: a.URL(), Options: core.Options{Audience: []string{"app-a"}}},
		{Issuer: b.URL(), Options: core.Options{Audience: []string{"app-b"}}},
	})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = v.Verify(ctx, a.CreateToken("ua", "a@example.com"))
	require.NoError(t, err)
	_, err = v.Verify(ctx, b.CreateToken("ub", "b@example.com"))
	require.NoError(t, err)
	assert.Equal(t, 1, a.Fetches())
	assert.Equal(t, 1, b.Fetches())

	// Claims a's issuer but is signed by b: routed to a's key set, which
	// has no matching signature.
	forged := b.CreateTokenWithClaims("x", "x", map[string]any{"iss": a.URL(), "aud": "app-a"})
	_, err = v.Verify(ctx, forged)
	require.ErrorIs(t, err, jwtkit.ErrSignatureInvalid)

	unknown := a.CreateTokenWithClaims("x", "x", map[string]any{"iss": "https://unknown.example"})
	_, err = v.Verify(ctx, unknown)
	require.ErrorIs(t, err, jwtkit.ErrIssuer)
}

func TestHydrate(t *testing.T) {
	ti := testissuer.NewTestIssuer()
	defer ti.Close()
	v := newVerifier(t, ti)

	require.NoError(t, v.Hydrate(context.Background()))
	assert.Equal(t, 1, ti.Fetches())

	_, err := v.VerifySync(ti.CreateToken("user-1", "u1@example.com"))
	require.NoError(t, err)
}

func TestHydrateReportsFetchFailure(t *testing.T) {
	ti := testissuer.NewTestIssuer()
	defer ti.Close()
	ti.SetStatus(500)
	v := newVerifier(t, ti)

	err := v.Hydrate(context.Background())
	require.ErrorIs(t, err, jwtkit.ErrNonRetryableFetch)
}

func TestInstallInvalidatesTransforms(t *testing.T) {
	ti := testissuer.NewTestIssuer()
	defer ti.Close()
	tc := jwkscache.NewTransformCache(nil)
	v := newVerifier(t, ti, core.WithTransformCache(tc))
	ctx := context.Background()

	_, err := v.Verify(ctx, ti.CreateToken("user-1", "u1@example.com"))
	require.NoError(t, err)
	assert.Equal(t, 1, tc.Len())

	_, err = v.KeySets().RefreshKeySet(ctx, ti.JWKSURI())
	require.NoError(t, err)
	assert.Equal(t, 0, tc.Len())
}

func TestConcurrentVerifyFetchesOnce(t *testing.T) {
	ti := testissuer.NewTestIssuer()
	defer ti.Close()
	ti.SetDelay(100 * time.Millisecond)
	v := newVerifier(t, ti)
	token := ti.CreateToken("user-1", "u1@example.com")

	var wg sync.WaitGroup
	errs := make([]error, 20)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = v.Verify(context.Background(), token)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, 1, ti.Fetches())
}

type recordingSink struct {
	mu     sync.Mutex
	events []core.VerificationEvent
}

func (s *recordingSink) RecordVerification(_ context.Context, ev core.VerificationEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func TestEventSink(t *testing.T) {
	ti := testissuer.NewTestIssuer()
	defer ti.Close()
	sink := &recordingSink{}
	v := newVerifier(t, ti, core.WithEventSink(sink))
	require.NoError(t, v.CacheKeySet("", ti.KeySet()))

	_, _ = v.VerifySync(ti.CreateToken("u", "e"))
	_, _ = v.VerifySync(ti.CreateExpiredToken("u", "e"))

	require.Len(t, sink.events, 2)
	assert.NoError(t, sink.events[0].Err)
	assert.Equal(t, "test-key-1", sink.events[0].Kid)
	assert.True(t, sink.events[0].Sync)
	assert.ErrorIs(t, sink.events[1].Err, jwtkit.ErrExpired)
	assert.Equal(t, ti.URL(), sink.events[1].Issuer)
}

func TestVerifyWithClock(t *testing.T) {
	ti := testissuer.NewTestIssuer()
	defer ti.Close()
	future := time.Now().Add(2 * time.Hour)
	v := newVerifier(t, ti, core.WithClock(func() time.Time { return future }))
	require.NoError(t, v.CacheKeySet("", ti.KeySet()))

	_, err := v.VerifySync(ti.CreateToken("u", "e"))
	require.ErrorIs(t, err, jwtkit.ErrExpired)
}
