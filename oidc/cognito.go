package oidckit

import (
	"fmt"
	"regexp"
	"time"

	"github.com/PaulFidika/jwtverify/core"
	jwtkit "github.com/PaulFidika/jwtverify/jwt"
)

var userPoolIDPattern = regexp.MustCompile(`^(\w+-\w+-\d+)_\w+$`)

// CognitoOptions are the Cognito-specific verification settings.
type CognitoOptions struct {
	// ClientIDs are the accepted app client ids. Leave empty only together
	// with SkipClientID.
	ClientIDs    []string
	SkipClientID bool
	// TokenUse is "access", "id", or empty to accept both.
	TokenUse  string
	Groups    []string
	Scopes    []string
	ClockSkew time.Duration
}

// CognitoIssuer derives the issuer of a Cognito user pool such as
// "us-east-1_AbCdEf123". Access tokens carry the client in client_id and
// ID tokens in aud; with TokenUse empty either claim is checked.
func CognitoIssuer(userPoolID string, o CognitoOptions) (core.IssuerConfig, error) {
	m := userPoolIDPattern.FindStringSubmatch(userPoolID)
	if m == nil {
		return core.IssuerConfig{}, jwtkit.NewError(jwtkit.KindParameter, "invalid cognito user pool id %q", userPoolID)
	}
	region := m[1]

	var audClaims []string
	switch o.TokenUse {
	case "access":
		audClaims = []string{"client_id"}
	case "id":
		audClaims = []string{"aud"}
	case "":
		audClaims = []string{"client_id", "aud"}
	default:
		return core.IssuerConfig{}, jwtkit.NewError(jwtkit.KindParameter, "token use must be access or id, got %q", o.TokenUse)
	}

	return core.IssuerConfig{
		Issuer: fmt.Sprintf("https://cognito-idp.%s.amazonaws.com/%s", region, userPoolID),
		Options: core.Options{
			Audience:       o.ClientIDs,
			SkipAudience:   o.SkipClientID,
			AudienceClaims: audClaims,
			TokenUse:       o.TokenUse,
			Groups:         o.Groups,
			GroupsClaim:    core.DefaultGroupsClaim,
			Scopes:         o.Scopes,
			ClockSkew:      o.ClockSkew,
		},
	}, nil
}
