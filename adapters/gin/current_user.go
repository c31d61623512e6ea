package authgin

import (
	"strings"

	oidckit "github.com/PaulFidika/jwtverify/oidc"
	"github.com/gin-gonic/gin"
)

// UserView is a unified view of the caller derived from verified claims.
//
// Fields with * may be empty if the token does not carry them.
type UserView struct {
	// Identity
	UserID   string  `json:"user_id"`
	Issuer   string  `json:"issuer"`
	Email    string  `json:"email"`
	Username *string `json:"username,omitempty"`

	// Access
	Groups []string `json:"groups,omitempty"`
	Scopes []string `json:"scopes,omitempty"`

	// Meta
	Source string `json:"source"` // "claims" | "none"
}

// CurrentUser returns a user snapshot for handlers.
//  1. Verified claims (from AuthRequired/AuthOptional) → Source: "claims"
//  2. None (unauthenticated) → Source: "none"
func CurrentUser(c *gin.Context) (UserView, bool) {
	p, ok := ClaimsFromGin(c)
	if !ok {
		return UserView{Source: "none"}, false
	}
	id := oidckit.IdentityFromPayload(p)
	if id.Subject == "" {
		return UserView{Source: "none"}, false
	}
	view := UserView{
		UserID:   id.Subject,
		Issuer:   id.Issuer,
		Username: id.PreferredUsername,
		Groups:   id.Groups,
		Source:   "claims",
	}
	if id.Email != nil {
		view.Email = *id.Email
	}
	if scope, ok := p.String("scope"); ok {
		view.Scopes = strings.Fields(scope)
	}
	return view, true
}
