package core

import (
	"context"
	"errors"
	"time"

	jwtkit "github.com/PaulFidika/jwtverify/jwt"
	jwkscache "github.com/PaulFidika/jwtverify/jwks"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Verifier checks compact RS256/384/512 JWTs against one or more trusted
// issuers. It is safe for concurrent use.
type Verifier struct {
	issuers map[string]IssuerConfig
	order   []string

	keys       *jwkscache.Cache
	transforms *jwkscache.TransformCache
	sink       EventSink
	log        logrus.FieldLogger
	now        func() time.Time
}

// VerifierOpt configures a Verifier.
type VerifierOpt func(*Verifier)

// WithKeySetCache shares a key set cache between verifiers.
func WithKeySetCache(c *jwkscache.Cache) VerifierOpt {
	return func(v *Verifier) { v.keys = c }
}

func WithTransformCache(tc *jwkscache.TransformCache) VerifierOpt {
	return func(v *Verifier) { v.transforms = tc }
}

func WithLogger(l logrus.FieldLogger) VerifierOpt {
	return func(v *Verifier) { v.log = l }
}

// WithClock overrides the time source used for exp and nbf.
func WithClock(now func() time.Time) VerifierOpt {
	return func(v *Verifier) { v.now = now }
}

// WithEventSink reports every verification outcome to sink.
func WithEventSink(sink EventSink) VerifierOpt {
	return func(v *Verifier) { v.sink = sink }
}

// NewVerifier validates the issuer configurations and builds a verifier.
func NewVerifier(issuers []IssuerConfig, opts ...VerifierOpt) (*Verifier, error) {
	if len(issuers) == 0 {
		return nil, jwtkit.NewError(jwtkit.KindParameter, "at least one issuer is required")
	}
	v := &Verifier{
		issuers: make(map[string]IssuerConfig, len(issuers)),
		log:     logrus.StandardLogger(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	for _, ic := range issuers {
		n, err := ic.normalized()
		if err != nil {
			return nil, err
		}
		if _, dup := v.issuers[n.Issuer]; dup {
			return nil, jwtkit.NewError(jwtkit.KindParameter, "issuer %s configured twice", n.Issuer)
		}
		v.issuers[n.Issuer] = n
		v.order = append(v.order, n.Issuer)
	}
	if v.keys == nil {
		v.keys = jwkscache.New(jwkscache.WithLogger(v.log))
	}
	if v.transforms == nil {
		v.transforms = jwkscache.NewTransformCache(nil)
	}
	v.keys.OnInstall(v.invalidateTransforms)
	return v, nil
}

func (v *Verifier) invalidateTransforms(uri string) {
	for _, iss := range v.order {
		if v.issuers[iss].JWKSURI == uri {
			v.transforms.Invalidate(iss)
		}
	}
}

// Issuers returns the normalized issuer configurations in registration order.
func (v *Verifier) Issuers() []IssuerConfig {
	out := make([]IssuerConfig, 0, len(v.order))
	for _, iss := range v.order {
		out = append(out, v.issuers[iss])
	}
	return out
}

// KeySets exposes the key set cache backing the verifier.
func (v *Verifier) KeySets() *jwkscache.Cache { return v.keys }

// Verify verifies token, fetching the issuer's key set when the key id is
// not cached. It returns the payload only if every check passed.
func (v *Verifier) Verify(ctx context.Context, token string, opts ...Option) (jwtkit.Payload, error) {
	return v.verify(ctx, token, false, opts)
}

// VerifySync verifies token using cached key sets only. It never performs
// I/O; an uncached key set fails with KindKeySetNotCached.
func (v *Verifier) VerifySync(token string, opts ...Option) (jwtkit.Payload, error) {
	return v.verify(context.Background(), token, true, opts)
}

func (v *Verifier) verify(ctx context.Context, token string, sync bool, opts []Option) (jwtkit.Payload, error) {
	ev := VerificationEvent{Sync: sync}
	payload, o, err := v.run(ctx, token, sync, opts, &ev)
	if err != nil {
		err = attachRawToken(err, token, o.IncludeRawTokenInErrors)
		v.log.WithFields(logrus.Fields{
			"issuer": ev.Issuer,
			"kid":    ev.Kid,
			"kind":   jwtkit.KindOf(err).String(),
		}).Debug("jwt rejected")
	}
	ev.Err = err
	if v.sink != nil {
		v.sink.RecordVerification(ctx, ev)
	}
	if err != nil {
		return nil, err
	}
	return payload, nil
}

func (v *Verifier) run(ctx context.Context, token string, sync bool, opts []Option, ev *VerificationEvent) (jwtkit.Payload, Options, error) {
	// Options of the single issuer apply even when the token cannot be parsed.
	var o Options
	if len(v.order) == 1 {
		o = v.issuers[v.order[0]].Options.with(opts)
	} else {
		o = Options{}.with(opts)
	}

	d, err := jwtkit.Decompose(token)
	if err != nil {
		return nil, o, err
	}

	cfg, err := v.route(d)
	if err != nil {
		return nil, o, err
	}
	ev.Issuer, ev.Kid, ev.Alg = cfg.Issuer, d.Header.Kid, d.Header.Alg

	o = cfg.Options.with(opts)
	if err := o.validate(); err != nil {
		return nil, o, err
	}
	if sync && o.AsyncCustomCheck != nil {
		return nil, o, jwtkit.NewError(jwtkit.KindParameter, "custom check must be synchronous")
	}

	if !jwtkit.IsSupportedAlgorithm(d.Header.Alg) {
		return nil, o, jwtkit.NewError(jwtkit.KindParse, "unsupported algorithm %q", d.Header.Alg)
	}
	if d.Header.Kid == "" {
		return nil, o, jwtkit.NewError(jwtkit.KindParse, "header has no kid")
	}

	var k jwtkit.JWK
	if sync {
		k, err = v.keys.GetCachedKey(cfg.JWKSURI, d.Header.Kid)
	} else {
		k, err = v.keys.GetKey(ctx, cfg.JWKSURI, d.Header.Kid)
	}
	if err != nil {
		return nil, o, err
	}

	if err := jwtkit.AssertSigningKey(k); err != nil {
		return nil, o, err
	}
	if k.Alg != "" && k.Alg != d.Header.Alg {
		return nil, o, jwtkit.ClaimError(jwtkit.KindKeyValidation, "alg", d.Header.Alg, k.Alg, "token algorithm does not match key")
	}

	pub, err := v.transforms.Get(cfg.Issuer, d.Header.Kid, d.Header.Alg, k)
	if err != nil {
		return nil, o, err
	}

	ok, err := jwtkit.VerifySignature(d.Header.Alg, d.SigningInput, d.Signature, pub)
	if err != nil {
		return nil, o, err
	}
	if !ok {
		return nil, o, jwtkit.NewError(jwtkit.KindSignatureInvalid, "signature does not match key %q", d.Header.Kid)
	}

	if err := ValidateClaims(d.Payload, cfg.Issuer, o, v.now()); err != nil {
		return nil, o, err
	}

	in := CheckInput{Header: d.Header, Payload: d.Payload, JWK: k}
	if o.CustomCheck != nil {
		if err := customCheckError(o.CustomCheck(in)); err != nil {
			return nil, o, err
		}
	}
	if o.AsyncCustomCheck != nil {
		if err := customCheckError(o.AsyncCustomCheck(ctx, in)); err != nil {
			return nil, o, err
		}
	}
	return d.Payload, o, nil
}

// route picks the issuer whose key set verifies the token. With several
// issuers the unverified iss claim selects one; it is re-checked after the
// signature.
func (v *Verifier) route(d *jwtkit.DecomposedToken) (IssuerConfig, error) {
	if len(v.order) == 1 {
		return v.issuers[v.order[0]], nil
	}
	iss, _ := d.Payload.String("iss")
	cfg, ok := v.issuers[iss]
	if !ok {
		return IssuerConfig{}, jwtkit.ClaimError(jwtkit.KindIssuer, "iss", iss, v.order, "issuer not configured")
	}
	return cfg, nil
}

func customCheckError(err error) error {
	if err == nil {
		return nil
	}
	var je *jwtkit.Error
	if errors.As(err, &je) {
		return err
	}
	return jwtkit.WrapError(jwtkit.KindCustomCheck, err, "custom check failed")
}

func attachRawToken(err error, token string, include bool) error {
	if !include {
		return err
	}
	var je *jwtkit.Error
	if !errors.As(err, &je) {
		return err
	}
	cp := *je
	cp.RawToken = token
	return &cp
}

// Hydrate fetches the key set of every configured issuer concurrently.
func (v *Verifier) Hydrate(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	seen := make(map[string]bool)
	for _, iss := range v.order {
		uri := v.issuers[iss].JWKSURI
		if seen[uri] {
			continue
		}
		seen[uri] = true
		g.Go(func() error {
			_, err := v.keys.GetKeySet(gctx, uri)
			return err
		})
	}
	return g.Wait()
}

// CacheKeySet installs ks for issuer without fetching. With a single issuer
// configured, issuer may be empty.
func (v *Verifier) CacheKeySet(issuer string, ks jwtkit.JWKS) error {
	if issuer == "" && len(v.order) == 1 {
		issuer = v.order[0]
	}
	cfg, ok := v.issuers[issuer]
	if !ok {
		return jwtkit.NewError(jwtkit.KindParameter, "issuer %q not configured", issuer)
	}
	return v.keys.AddKeySet(cfg.JWKSURI, ks)
}
