package oidckit

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/PaulFidika/jwtverify/core"
	jwtkit "github.com/PaulFidika/jwtverify/jwt"
	jwkscache "github.com/PaulFidika/jwtverify/jwks"
)

type discoveryDoc struct {
	Issuer  string `json:"issuer"`
	JWKSURI string `json:"jwks_uri"`
}

// Discover reads the issuer's OpenID configuration and returns an issuer
// configuration pointing at the advertised jwks_uri. A nil fetcher uses
// jwkscache.NewHTTPFetcher.
func Discover(ctx context.Context, f jwkscache.Fetcher, issuer string, opts core.Options) (core.IssuerConfig, error) {
	trimmed := strings.TrimRight(issuer, "/")
	if trimmed == "" {
		return core.IssuerConfig{}, jwtkit.NewError(jwtkit.KindParameter, "issuer is empty")
	}
	if f == nil {
		f = jwkscache.NewHTTPFetcher()
	}
	body, err := f.FetchJSON(ctx, trimmed+"/.well-known/openid-configuration")
	if err != nil {
		return core.IssuerConfig{}, err
	}
	var doc discoveryDoc
	if err := json.Unmarshal(body, &doc); err != nil {
		return core.IssuerConfig{}, &jwtkit.Error{Kind: jwtkit.KindKeySetFetch, NonRetryable: true, Detail: "malformed openid configuration", Err: err}
	}
	if d := strings.TrimRight(doc.Issuer, "/"); d != "" && d != trimmed {
		return core.IssuerConfig{}, jwtkit.ClaimError(jwtkit.KindIssuer, "issuer", doc.Issuer, issuer, "discovery issuer mismatch")
	}
	if doc.JWKSURI == "" {
		return core.IssuerConfig{}, &jwtkit.Error{Kind: jwtkit.KindKeySetFetch, NonRetryable: true, Detail: "openid configuration has no jwks_uri"}
	}
	iss := doc.Issuer
	if iss == "" {
		iss = issuer
	}
	return core.IssuerConfig{Issuer: iss, JWKSURI: doc.JWKSURI, Options: opts}, nil
}
