package core

import (
	"context"
	"strings"
	"time"

	jwtkit "github.com/PaulFidika/jwtverify/jwt"
)

// DefaultGroupsClaim is the Cognito group-membership claim.
const DefaultGroupsClaim = "cognito:groups"

// CheckInput is handed to custom checks after the signature and standard
// claims have been verified.
type CheckInput struct {
	Header  jwtkit.Header
	Payload jwtkit.Payload
	JWK     jwtkit.JWK
}

// CustomCheck runs synchronously on both verification paths.
type CustomCheck func(in CheckInput) error

// AsyncCustomCheck may block on I/O, so it is only accepted by Verify.
type AsyncCustomCheck func(ctx context.Context, in CheckInput) error

// Options are the claim requirements for an issuer. They are fixed at
// verifier construction and may be overridden per call.
type Options struct {
	// Audience lists acceptable audiences. Either Audience is non-empty or
	// SkipAudience is set; leaving both unset is a configuration error.
	Audience     []string
	SkipAudience bool
	// AudienceClaims names the claims holding the audience; the first one
	// present in the token is checked. Defaults to "aud".
	AudienceClaims []string

	TokenUse string // "" disables the check

	Groups      []string
	GroupsClaim string // defaults to DefaultGroupsClaim

	Scopes []string

	ClockSkew  time.Duration
	SkipExpiry bool

	IncludeRawTokenInErrors bool

	CustomCheck      CustomCheck
	AsyncCustomCheck AsyncCustomCheck
}

// Option overrides Options for a single verification call.
type Option func(*Options)

func WithAudience(aud ...string) Option {
	return func(o *Options) {
		o.Audience = aud
		o.SkipAudience = false
	}
}

// WithoutAudience disables the audience check.
func WithoutAudience() Option {
	return func(o *Options) {
		o.Audience = nil
		o.SkipAudience = true
	}
}

func WithTokenUse(use string) Option     { return func(o *Options) { o.TokenUse = use } }
func WithGroups(groups ...string) Option { return func(o *Options) { o.Groups = groups } }
func WithScopes(scopes ...string) Option { return func(o *Options) { o.Scopes = scopes } }
func WithClockSkew(d time.Duration) Option {
	return func(o *Options) { o.ClockSkew = d }
}
func WithSkipExpiry() Option       { return func(o *Options) { o.SkipExpiry = true } }
func WithRawTokenInErrors() Option { return func(o *Options) { o.IncludeRawTokenInErrors = true } }
func WithCustomCheck(fn CustomCheck) Option {
	return func(o *Options) { o.CustomCheck = fn }
}
func WithAsyncCustomCheck(fn AsyncCustomCheck) Option {
	return func(o *Options) { o.AsyncCustomCheck = fn }
}

func (o Options) with(opts []Option) Options {
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o Options) validate() error {
	if len(o.Audience) == 0 && !o.SkipAudience {
		return jwtkit.NewError(jwtkit.KindParameter, "audience must be set or explicitly skipped")
	}
	if len(o.Audience) > 0 && o.SkipAudience {
		return jwtkit.NewError(jwtkit.KindParameter, "audience is set but SkipAudience is also set")
	}
	if o.ClockSkew < 0 {
		return jwtkit.NewError(jwtkit.KindParameter, "clock skew must not be negative")
	}
	return nil
}

func (o Options) audienceClaims() []string {
	if len(o.AudienceClaims) == 0 {
		return []string{"aud"}
	}
	return o.AudienceClaims
}

func (o Options) groupsClaim() string {
	if o.GroupsClaim == "" {
		return DefaultGroupsClaim
	}
	return o.GroupsClaim
}

// IssuerConfig describes one trusted issuer.
type IssuerConfig struct {
	Issuer string
	// JWKSURI defaults to DefaultJWKSURI(Issuer).
	JWKSURI string
	Options Options
}

// DefaultJWKSURI is the well-known key set location for issuer.
func DefaultJWKSURI(issuer string) string {
	return strings.TrimRight(issuer, "/") + "/.well-known/jwks.json"
}

func (c IssuerConfig) normalized() (IssuerConfig, error) {
	c.Issuer = strings.TrimSpace(c.Issuer)
	if c.Issuer == "" {
		return c, jwtkit.NewError(jwtkit.KindParameter, "issuer is empty")
	}
	c.JWKSURI = strings.TrimSpace(c.JWKSURI)
	if c.JWKSURI == "" {
		c.JWKSURI = DefaultJWKSURI(c.Issuer)
	}
	if err := c.Options.validate(); err != nil {
		return c, jwtkit.WrapError(jwtkit.KindParameter, err, "issuer %s", c.Issuer)
	}
	return c, nil
}
