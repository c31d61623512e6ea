package jwtkit

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	jwt "github.com/golang-jwt/jwt/v5"
)

func TestAssertSigningKey(t *testing.T) {
	good := JWK{Kty: "RSA", Use: "sig", Alg: "RS256", Kid: "k", N: "AQAB", E: "AQAB"}
	if err := AssertSigningKey(good); err != nil {
		t.Fatalf("expected valid key: %v", err)
	}
	noOptional := JWK{Kty: "RSA", N: "AQAB", E: "AQAB"}
	if err := AssertSigningKey(noOptional); err != nil {
		t.Fatalf("use and alg are optional: %v", err)
	}

	cases := map[string]struct {
		key   JWK
		field string
	}{
		"enc use":   {JWK{Kty: "RSA", Use: "enc", N: "AQAB", E: "AQAB"}, "use"},
		"ec key":    {JWK{Kty: "EC", Use: "sig", N: "AQAB", E: "AQAB"}, "kty"},
		"bad alg":   {JWK{Kty: "RSA", Alg: "HS256", N: "AQAB", E: "AQAB"}, "alg"},
		"missing n": {JWK{Kty: "RSA", E: "AQAB"}, "modulus"},
		"missing e": {JWK{Kty: "RSA", N: "AQAB"}, "exponent"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			err := AssertSigningKey(tc.key)
			if !errors.Is(err, ErrKeyValidation) {
				t.Fatalf("expected key validation error, got %v", err)
			}
			if !strings.Contains(err.Error(), tc.field) {
				t.Fatalf("expected error to name %q, got %v", tc.field, err)
			}
		})
	}
}

func TestParseKeySet(t *testing.T) {
	ks, err := ParseKeySet([]byte(`{"keys":[{"kty":"RSA","kid":"a","n":"AQAB","e":"AQAB","x5t":"extra"}]}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	k, ok := ks.Find("a")
	if !ok {
		t.Fatal("expected kid a")
	}
	if !strings.Contains(string(k.Raw), "x5t") {
		t.Fatalf("expected raw JSON to retain unknown members, got %s", k.Raw)
	}
	if _, ok := ks.Find("b"); ok {
		t.Fatal("unexpected kid b")
	}

	bad := map[string]string{
		"not object":    `[1]`,
		"no keys":       `{"other":[]}`,
		"null keys":     `{"keys":null}`,
		"keys object":   `{"keys":{}}`,
		"entry scalar":  `{"keys":["x"]}`,
		"kty missing":   `{"keys":[{"n":"AQAB"}]}`,
		"kid not str":   `{"keys":[{"kty":"RSA","kid":7}]}`,
		"use not str":   `{"keys":[{"kty":"RSA","use":true}]}`,
		"invalid json":  `{"keys":[`,
		"empty payload": ``,
	}
	for name, doc := range bad {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseKeySet([]byte(doc)); !errors.Is(err, ErrKeyValidation) {
				t.Fatalf("expected key validation error, got %v", err)
			}
		})
	}
}

func TestVerifySignatureAlgorithms(t *testing.T) {
	for _, alg := range SupportedAlgorithms() {
		t.Run(alg, func(t *testing.T) {
			signer, err := NewRSASigner(2048, "k", alg)
			if err != nil {
				t.Fatalf("signer: %v", err)
			}
			tok, err := signer.Sign(context.Background(), jwt.MapClaims{"sub": "x"})
			if err != nil {
				t.Fatalf("sign: %v", err)
			}
			d, err := Decompose(tok)
			if err != nil {
				t.Fatalf("decompose: %v", err)
			}
			ok, err := VerifySignature(alg, d.SigningInput, d.Signature, signer.PublicKey())
			if err != nil || !ok {
				t.Fatalf("expected valid signature, ok=%v err=%v", ok, err)
			}

			tampered := d.SigningInput + "x"
			ok, err = VerifySignature(alg, tampered, d.Signature, signer.PublicKey())
			if err != nil || ok {
				t.Fatalf("expected tampered input to fail, ok=%v err=%v", ok, err)
			}
		})
	}

	other, _ := NewRSASigner(2048, "k", "RS256")
	signer, _ := NewRSASigner(2048, "k", "RS384")
	tok, _ := signer.Sign(context.Background(), jwt.MapClaims{"sub": "x"})
	d, _ := Decompose(tok)
	if ok, _ := VerifySignature("RS384", d.SigningInput, d.Signature, other.PublicKey()); ok {
		t.Fatal("expected wrong key to fail")
	}
	if ok, _ := VerifySignature("RS256", d.SigningInput, d.Signature, signer.PublicKey()); ok {
		t.Fatal("expected digest mismatch to fail")
	}
	if _, err := VerifySignature("HS256", d.SigningInput, d.Signature, signer.PublicKey()); !errors.Is(err, ErrParse) {
		t.Fatalf("expected unsupported algorithm error, got %v", err)
	}
}

func TestLoadPreseed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "jwks.json")
	doc := `{"https://idp.example/.well-known/jwks.json":{"keys":[{"kty":"RSA","kid":"a","n":"AQAB","e":"AQAB"}]}}`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	t.Setenv(PreseedEnv, "")
	sets, err := LoadPreseed(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, ok := sets["https://idp.example/.well-known/jwks.json"].Find("a"); !ok {
		t.Fatalf("expected kid a in %v", sets)
	}

	sets, err = LoadPreseed(filepath.Join(dir, "missing.json"))
	if err != nil || sets != nil {
		t.Fatalf("expected nil, nil for a missing file, got %v %v", sets, err)
	}

	t.Setenv(PreseedEnv, `{"u":{"keys":"nope"}}`)
	if _, err := LoadPreseed(path); err == nil {
		t.Fatal("expected invalid inline preseed to fail")
	}
}

func TestLoadKeySetFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jwks.json")
	if err := os.WriteFile(path, []byte(`{"keys":[{"kty":"RSA","kid":"a","n":"AQAB","e":"AQAB"}]}`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	ks, err := LoadKeySetFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := ks.KeyIDs(); len(got) != 1 || got[0] != "a" {
		t.Fatalf("unexpected key ids %v", got)
	}
	if _, err := LoadKeySetFile(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("expected missing file to fail")
	}
}
