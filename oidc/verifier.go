package oidckit

import (
	"strings"

	"github.com/PaulFidika/jwtverify/core"
	jwtkit "github.com/PaulFidika/jwtverify/jwt"
)

// IdentityFromPayload extracts identity fields from a verified payload.
// Cognito's "cognito:username" stands in for preferred_username.
func IdentityFromPayload(p jwtkit.Payload) Identity {
	id := Identity{}
	id.Subject, _ = p.String("sub")
	id.Issuer, _ = p.String("iss")
	if email, ok := p.String("email"); ok {
		id.Email = &email
	}
	switch v := p["email_verified"].(type) {
	case bool:
		id.EmailVerified = &v
	case string:
		if strings.EqualFold(v, "true") {
			b := true
			id.EmailVerified = &b
		} else if strings.EqualFold(v, "false") {
			b := false
			id.EmailVerified = &b
		}
	}
	if name, ok := p.String("name"); ok {
		id.Name = &name
	}
	if preferred, ok := p.String("preferred_username"); ok {
		id.PreferredUsername = &preferred
	} else if username, ok := p.String("cognito:username"); ok {
		id.PreferredUsername = &username
	}
	if groups, ok := p.Strings(core.DefaultGroupsClaim); ok {
		id.Groups = groups
	}
	return id
}

// RequireNonce returns a check that the token carries the given nonce.
func RequireNonce(expected string) core.CustomCheck {
	return func(in core.CheckInput) error {
		if expected == "" {
			return nil
		}
		nonce, ok := in.Payload.String("nonce")
		if !ok {
			return jwtkit.ClaimError(jwtkit.KindCustomCheck, "nonce", nil, expected, "missing nonce")
		}
		if nonce != expected {
			return jwtkit.ClaimError(jwtkit.KindCustomCheck, "nonce", nonce, expected, "nonce mismatch")
		}
		return nil
	}
}

// RequireVerifiedEmail rejects tokens whose email_verified is absent or false.
func RequireVerifiedEmail() core.CustomCheck {
	return func(in core.CheckInput) error {
		id := IdentityFromPayload(in.Payload)
		if id.EmailVerified == nil || !*id.EmailVerified {
			return jwtkit.ClaimError(jwtkit.KindCustomCheck, "email_verified", in.Payload["email_verified"], true, "email not verified")
		}
		return nil
	}
}
