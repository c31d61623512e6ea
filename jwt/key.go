package jwtkit

import (
	"bytes"
	"encoding/json"
	"errors"
)

// AssertSigningKey checks that k is usable as an RSA signature key.
// It is cheap and runs before every use, cached or not.
func AssertSigningKey(k JWK) error {
	if k.Use != "" && k.Use != "sig" {
		return ClaimError(KindKeyValidation, "use", k.Use, "sig", "key is not for signature use")
	}
	if k.Kty != "RSA" {
		return ClaimError(KindKeyValidation, "kty", k.Kty, "RSA", "key type is not supported")
	}
	if k.Alg != "" && !IsSupportedAlgorithm(k.Alg) {
		return ClaimError(KindKeyValidation, "alg", k.Alg, SupportedAlgorithms(), "key algorithm is not supported")
	}
	if k.N == "" {
		return NewError(KindKeyValidation, "key is missing modulus (n)")
	}
	if k.E == "" {
		return NewError(KindKeyValidation, "key is missing exponent (e)")
	}
	return nil
}

// ParseKeySet decodes a JWKS document and checks the shape of every entry.
// Algorithm-specific checks are left to AssertSigningKey.
func ParseKeySet(b []byte) (JWKS, error) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || b[0] != '{' {
		return JWKS{}, NewError(KindKeyValidation, "JWKS is not a JSON object")
	}
	var doc struct {
		Keys json.RawMessage `json:"keys"`
	}
	if err := json.Unmarshal(b, &doc); err != nil {
		return JWKS{}, WrapError(KindKeyValidation, err, "JWKS is not valid JSON")
	}
	if len(doc.Keys) == 0 || string(doc.Keys) == "null" {
		return JWKS{}, NewError(KindKeyValidation, "JWKS does not include keys")
	}
	var entries []json.RawMessage
	if err := json.Unmarshal(doc.Keys, &entries); err != nil {
		return JWKS{}, NewError(KindKeyValidation, "JWKS keys must be an array")
	}

	ks := JWKS{Keys: make([]JWK, 0, len(entries))}
	for i, raw := range entries {
		raw = bytes.TrimSpace(raw)
		if len(raw) == 0 || raw[0] != '{' {
			return JWKS{}, NewError(KindKeyValidation, "JWKS key %d is not an object", i)
		}
		var k JWK
		if err := json.Unmarshal(raw, &k); err != nil {
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &typeErr) {
				return JWKS{}, NewError(KindKeyValidation, "JWKS key %d: %s must be a string", i, typeErr.Field)
			}
			return JWKS{}, WrapError(KindKeyValidation, err, "JWKS key %d is malformed", i)
		}
		if err := AssertKeyShape(k); err != nil {
			return JWKS{}, err
		}
		ks.Keys = append(ks.Keys, k)
	}
	return ks, nil
}

// AssertKeySetShape runs the structural checks of ParseKeySet on an
// already-decoded set.
func AssertKeySetShape(ks JWKS) error {
	if ks.Keys == nil {
		return NewError(KindKeyValidation, "JWKS does not include keys")
	}
	for _, k := range ks.Keys {
		if err := AssertKeyShape(k); err != nil {
			return err
		}
	}
	return nil
}

// AssertKeyShape is the algorithm-agnostic check applied to each JWKS entry.
func AssertKeyShape(k JWK) error {
	if k.Kty == "" {
		return NewError(KindKeyValidation, "JWK is missing kty")
	}
	return nil
}
