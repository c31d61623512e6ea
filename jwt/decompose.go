package jwtkit

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"strings"
)

// Header is the decoded JOSE header of a compact JWS.
type Header struct {
	Alg string
	Kid string
	Typ string
	// Fields holds every header member, including the ones above.
	Fields map[string]any
}

// Payload maps claim names to their decoded JSON values.
type Payload map[string]any

// DecomposedToken is a compact JWT split into its parts. Nothing in it has
// been verified.
type DecomposedToken struct {
	Header     Header
	Payload    Payload
	RawHeader  string
	RawPayload string
	Signature  []byte
	// SigningInput is the "header.payload" prefix of the original token,
	// byte for byte.
	SigningInput string
}

// Decompose splits a compact token into header, payload and signature.
// Only shape is checked; no claim is interpreted.
func Decompose(token string) (*DecomposedToken, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, NewError(KindParse, "token must have 3 segments, got %d", len(parts))
	}
	for i, name := range []string{"header", "payload", "signature"} {
		if parts[i] == "" {
			return nil, NewError(KindParse, "%s segment is empty", name)
		}
	}

	headerFields, err := decodeSegmentObject(parts[0], "header")
	if err != nil {
		return nil, err
	}
	payload, err := decodeSegmentObject(parts[1], "payload")
	if err != nil {
		return nil, err
	}
	sig, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, WrapError(KindParse, err, "signature segment is not base64url")
	}

	hdr, err := headerFromFields(headerFields)
	if err != nil {
		return nil, err
	}
	if err := assertPayloadShape(payload); err != nil {
		return nil, err
	}

	return &DecomposedToken{
		Header:       hdr,
		Payload:      Payload(payload),
		RawHeader:    parts[0],
		RawPayload:   parts[1],
		Signature:    sig,
		SigningInput: token[:len(parts[0])+1+len(parts[1])],
	}, nil
}

func decodeSegmentObject(seg, name string) (map[string]any, error) {
	raw, err := base64.RawURLEncoding.DecodeString(seg)
	if err != nil {
		return nil, WrapError(KindParse, err, "%s segment is not base64url", name)
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return nil, NewError(KindParse, "%s segment is not a JSON object", name)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, WrapError(KindParse, err, "%s segment is not valid JSON", name)
	}
	return out, nil
}

func headerFromFields(fields map[string]any) (Header, error) {
	h := Header{Fields: fields}
	alg, ok := fields["alg"].(string)
	if !ok {
		return h, NewError(KindParse, "header alg must be a string")
	}
	h.Alg = alg
	if v, present := fields["kid"]; present {
		kid, ok := v.(string)
		if !ok {
			return h, NewError(KindParse, "header kid must be a string")
		}
		h.Kid = kid
	}
	if v, present := fields["typ"]; present {
		typ, ok := v.(string)
		if !ok {
			return h, NewError(KindParse, "header typ must be a string")
		}
		h.Typ = typ
	}
	return h, nil
}

var (
	numericClaims = []string{"exp", "nbf", "iat"}
	stringClaims  = []string{"iss", "sub", "jti", "scope", "token_use", "client_id"}
)

func assertPayloadShape(p map[string]any) error {
	for _, name := range numericClaims {
		if v, ok := p[name]; ok {
			if _, isNum := v.(float64); !isNum {
				return NewError(KindParse, "payload %s must be a number", name)
			}
		}
	}
	for _, name := range stringClaims {
		if v, ok := p[name]; ok {
			if _, isStr := v.(string); !isStr {
				return NewError(KindParse, "payload %s must be a string", name)
			}
		}
	}
	if v, ok := p["aud"]; ok {
		if _, err := StringOrList(v); err != nil {
			return NewError(KindParse, "payload aud must be a string or an array of strings")
		}
	}
	if v, ok := p["cognito:groups"]; ok {
		if _, isStr := v.(string); isStr {
			return NewError(KindParse, "payload cognito:groups must be an array of strings")
		}
		if _, err := StringOrList(v); err != nil {
			return NewError(KindParse, "payload cognito:groups must be an array of strings")
		}
	}
	return nil
}

// StringOrList normalizes a JSON string or array of strings.
func StringOrList(v any) ([]string, error) {
	switch t := v.(type) {
	case string:
		return []string{t}, nil
	case []string:
		return t, nil
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			s, ok := item.(string)
			if !ok {
				return nil, NewError(KindParse, "array contains a non-string value")
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, NewError(KindParse, "value is neither a string nor an array")
	}
}

// String returns the claim as a string if it is one.
func (p Payload) String(name string) (string, bool) {
	s, ok := p[name].(string)
	return s, ok
}

// Number returns the claim as a float64 if it is a JSON number.
func (p Payload) Number(name string) (float64, bool) {
	f, ok := p[name].(float64)
	return f, ok
}

// Strings returns a string or string-array claim as a slice.
func (p Payload) Strings(name string) ([]string, bool) {
	v, ok := p[name]
	if !ok {
		return nil, false
	}
	out, err := StringOrList(v)
	if err != nil {
		return nil, false
	}
	return out, true
}
