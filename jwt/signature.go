package jwtkit

import (
	"crypto/rsa"
	"errors"

	jwt "github.com/golang-jwt/jwt/v5"
)

var rsaMethods = map[string]*jwt.SigningMethodRSA{
	"RS256": jwt.SigningMethodRS256,
	"RS384": jwt.SigningMethodRS384,
	"RS512": jwt.SigningMethodRS512,
}

// SupportedAlgorithms lists the JWS algorithms this package verifies.
func SupportedAlgorithms() []string { return []string{"RS256", "RS384", "RS512"} }

// IsSupportedAlgorithm reports whether alg is an RSA PKCS#1 v1.5 variant.
func IsSupportedAlgorithm(alg string) bool {
	_, ok := rsaMethods[alg]
	return ok
}

// VerifySignature checks sig over signingInput with the digest implied by alg.
// A mismatch returns false with a nil error; an unusable algorithm or key
// returns an error.
func VerifySignature(alg, signingInput string, sig []byte, key *rsa.PublicKey) (bool, error) {
	method, ok := rsaMethods[alg]
	if !ok {
		return false, ClaimError(KindParse, "alg", alg, SupportedAlgorithms(), "unsupported signature algorithm")
	}
	if key == nil {
		return false, NewError(KindKeyValidation, "nil verification key")
	}
	err := method.Verify(signingInput, sig, key)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, rsa.ErrVerification), errors.Is(err, jwt.ErrSignatureInvalid):
		return false, nil
	default:
		return false, WrapError(KindSignatureInvalid, err, "signature verification failed")
	}
}
