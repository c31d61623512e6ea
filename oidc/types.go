package oidckit

// Identity is a minimal set of user identity fields extracted from a
// verified token.
type Identity struct {
	Subject           string
	Issuer            string
	Email             *string
	EmailVerified     *bool
	Name              *string
	PreferredUsername *string
	Groups            []string
}
