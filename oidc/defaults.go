package oidckit

import (
	"github.com/PaulFidika/jwtverify/core"
)

// Provider holds the fixed issuer and key set location of a well-known IdP.
type Provider struct {
	Issuer  string
	JWKSURI string
}

var providers = map[string]Provider{
	"google": {
		Issuer:  "https://accounts.google.com",
		JWKSURI: "https://www.googleapis.com/oauth2/v3/certs",
	},
	"apple": {
		Issuer:  "https://appleid.apple.com",
		JWKSURI: "https://appleid.apple.com/auth/keys",
	},
	"microsoft": {
		Issuer:  "https://login.microsoftonline.com/9188040d-6c67-4c5b-b112-36a304b66dad/v2.0",
		JWKSURI: "https://login.microsoftonline.com/common/discovery/v2.0/keys",
	},
}

// DefaultsFor returns the provider preset for a known provider name.
func DefaultsFor(name string) (Provider, bool) {
	p, ok := providers[name]
	return p, ok
}

// IssuerFor builds an issuer configuration for a known provider that
// accepts ID tokens issued to any of clientIDs.
func IssuerFor(name string, clientIDs ...string) (core.IssuerConfig, bool) {
	p, ok := DefaultsFor(name)
	if !ok {
		return core.IssuerConfig{}, false
	}
	return core.IssuerConfig{
		Issuer:  p.Issuer,
		JWKSURI: p.JWKSURI,
		Options: core.Options{Audience: clientIDs},
	}, true
}
