package jwtkit

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"fmt"

	jwt "github.com/golang-jwt/jwt/v5"
)

// RSASigner mints RS256/RS384/RS512 tokens. It exists to produce fixtures
// for tests and local development; verification never needs it.
type RSASigner struct {
	key *rsa.PrivateKey
	kid string
	alg string
}

func NewRSASigner(bits int, kid, alg string) (*RSASigner, error) {
	if bits == 0 {
		bits = 2048
	}
	if alg == "" {
		alg = jwt.SigningMethodRS256.Alg()
	}
	if !IsSupportedAlgorithm(alg) {
		return nil, fmt.Errorf("unsupported signing algorithm %q", alg)
	}
	k, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, err
	}
	return &RSASigner{key: k, kid: kid, alg: alg}, nil
}

func (s *RSASigner) Algorithm() string           { return s.alg }
func (s *RSASigner) KID() string                 { return s.kid }
func (s *RSASigner) PublicKey() *rsa.PublicKey   { return &s.key.PublicKey }
func (s *RSASigner) PrivateKey() *rsa.PrivateKey { return s.key }

// JWK returns the public half as a signature JWK.
func (s *RSASigner) JWK() JWK { return RSAPublicToJWK(s.PublicKey(), s.kid, s.alg) }

func (s *RSASigner) Sign(_ context.Context, claims jwt.MapClaims) (string, error) {
	token := jwt.NewWithClaims(rsaMethods[s.alg], claims)
	if s.kid != "" {
		token.Header["kid"] = s.kid
	}
	return token.SignedString(s.key)
}
