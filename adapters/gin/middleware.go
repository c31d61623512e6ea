package authgin

import (
	"net/http"

	authhttp "github.com/PaulFidika/jwtverify/adapters/http"
	"github.com/PaulFidika/jwtverify/core"
	jwtkit "github.com/PaulFidika/jwtverify/jwt"
	"github.com/gin-gonic/gin"
)

const payloadKey = "auth.payload"

// AuthRequired verifies the bearer token and aborts with 401 on failure.
// The verified payload is stored on the gin context and the request context.
func AuthRequired(v authhttp.TokenVerifier, opts ...core.Option) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := authhttp.BearerToken(c.Request)
		if err != nil {
			abortUnauthorized(c, "missing_token")
			return
		}
		authenticate(c, v, token, opts)
	}
}

// AuthOptional verifies a bearer token when one is sent and lets
// unauthenticated requests through.
func AuthOptional(v authhttp.TokenVerifier, opts ...core.Option) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := authhttp.BearerToken(c.Request)
		if err != nil {
			c.Next()
			return
		}
		authenticate(c, v, token, opts)
	}
}

func authenticate(c *gin.Context, v authhttp.TokenVerifier, token string, opts []core.Option) {
	payload, err := v.Verify(c.Request.Context(), token, opts...)
	if err != nil {
		abortUnauthorized(c, jwtkit.KindOf(err).String())
		return
	}
	c.Set(payloadKey, payload)
	c.Request = c.Request.WithContext(authhttp.WithPayload(c.Request.Context(), payload))
	c.Next()
}

// RequireGroup aborts with 403 unless the caller belongs to one of groups.
// Use after AuthRequired.
func RequireGroup(groups ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		u, ok := CurrentUser(c)
		if !ok {
			abortUnauthorized(c, "missing_token")
			return
		}
		for _, have := range u.Groups {
			for _, want := range groups {
				if have == want {
					c.Next()
					return
				}
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": jwtkit.KindGroup.String()})
	}
}

// ClaimsFromGin returns the payload stored by AuthRequired or AuthOptional.
func ClaimsFromGin(c *gin.Context) (jwtkit.Payload, bool) {
	v, ok := c.Get(payloadKey)
	if !ok {
		return authhttp.PayloadFromContext(c.Request.Context())
	}
	p, ok := v.(jwtkit.Payload)
	return p, ok
}

func abortUnauthorized(c *gin.Context, reason string) {
	c.Header("WWW-Authenticate", `Bearer error="invalid_token"`)
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": reason})
}
