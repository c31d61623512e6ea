package core

import (
	"strings"
	"time"

	jwtkit "github.com/PaulFidika/jwtverify/jwt"
)

// ValidateClaims checks a signature-verified payload against opts. Checks
// run in a fixed order and stop at the first failure: issuer, audience,
// token use, groups, scope, expiry, not-before. Custom checks run after.
func ValidateClaims(p jwtkit.Payload, issuer string, opts Options, now time.Time) error {
	iss, ok := p.String("iss")
	if !ok {
		return jwtkit.ClaimError(jwtkit.KindIssuer, "iss", nil, issuer, "missing issuer")
	}
	if iss != issuer {
		return jwtkit.ClaimError(jwtkit.KindIssuer, "iss", iss, issuer, "issuer not trusted")
	}

	if !opts.SkipAudience {
		if err := checkAudience(p, opts); err != nil {
			return err
		}
	}

	if opts.TokenUse != "" {
		use, _ := p.String("token_use")
		if use != opts.TokenUse {
			return jwtkit.ClaimError(jwtkit.KindTokenUse, "token_use", use, opts.TokenUse, "token use not allowed")
		}
	}

	if len(opts.Groups) > 0 {
		claim := opts.groupsClaim()
		groups, ok := p.Strings(claim)
		if !ok {
			return jwtkit.ClaimError(jwtkit.KindGroup, claim, nil, opts.Groups, "missing group membership")
		}
		if !overlaps(groups, opts.Groups) {
			return jwtkit.ClaimError(jwtkit.KindGroup, claim, groups, opts.Groups, "no allowed group")
		}
	}

	if len(opts.Scopes) > 0 {
		raw, _ := p.String("scope")
		scopes := strings.Fields(raw)
		if !overlaps(scopes, opts.Scopes) {
			return jwtkit.ClaimError(jwtkit.KindScope, "scope", scopes, opts.Scopes, "no allowed scope")
		}
	}

	nowSec := float64(now.UnixNano()) / 1e9
	skew := opts.ClockSkew.Seconds()

	if !opts.SkipExpiry {
		exp, ok := p.Number("exp")
		if !ok {
			return jwtkit.ClaimError(jwtkit.KindExpired, "exp", nil, now.UTC(), "missing expiry")
		}
		if exp+skew <= nowSec {
			return jwtkit.ClaimError(jwtkit.KindExpired, "exp", unixTime(exp), now.UTC(), "token expired")
		}
	}

	if nbf, ok := p.Number("nbf"); ok {
		if nbf-skew > nowSec {
			return jwtkit.ClaimError(jwtkit.KindNotYetValid, "nbf", unixTime(nbf), now.UTC(), "token not yet valid")
		}
	}
	return nil
}

func checkAudience(p jwtkit.Payload, opts Options) error {
	for _, claim := range opts.audienceClaims() {
		if _, present := p[claim]; !present {
			continue
		}
		got, ok := p.Strings(claim)
		if !ok || !overlaps(got, opts.Audience) {
			return jwtkit.ClaimError(jwtkit.KindAudience, claim, p[claim], opts.Audience, "audience not allowed")
		}
		return nil
	}
	return jwtkit.ClaimError(jwtkit.KindAudience, strings.Join(opts.audienceClaims(), "|"), nil, opts.Audience, "missing audience")
}

func overlaps(have, want []string) bool {
	for _, h := range have {
		for _, w := range want {
			if h == w {
				return true
			}
		}
	}
	return false
}

func unixTime(sec float64) time.Time {
	whole := int64(sec)
	return time.Unix(whole, int64((sec-float64(whole))*1e9)).UTC()
}
