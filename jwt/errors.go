package jwtkit

import (
	"errors"
	"fmt"
	"strings"
)

// Kind identifies the verification stage that rejected a token.
type Kind int

const (
	KindUnknown Kind = iota
	KindParse
	KindKeyValidation
	KindKeyNotFound
	KindKeySetNotCached
	KindKeySetFetch
	KindCooldownActive
	KindSignatureInvalid
	KindIssuer
	KindAudience
	KindTokenUse
	KindGroup
	KindScope
	KindExpired
	KindNotYetValid
	KindCustomCheck
	KindParameter
)

var kindNames = map[Kind]string{
	KindUnknown:          "unknown",
	KindParse:            "parse",
	KindKeyValidation:    "key_invalid",
	KindKeyNotFound:      "key_not_found",
	KindKeySetNotCached:  "key_set_not_cached",
	KindKeySetFetch:      "fetch_failed",
	KindCooldownActive:   "cooldown_active",
	KindSignatureInvalid: "signature_invalid",
	KindIssuer:           "issuer_invalid",
	KindAudience:         "audience_invalid",
	KindTokenUse:         "token_use_invalid",
	KindGroup:            "group_invalid",
	KindScope:            "scope_invalid",
	KindExpired:          "expired",
	KindNotYetValid:      "not_yet_valid",
	KindCustomCheck:      "custom_check_failed",
	KindParameter:        "parameter_invalid",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is the single error type returned by every verification stage.
// Claim, Actual and Expected are set for claim-validation failures.
type Error struct {
	Kind     Kind
	Claim    string
	Actual   any
	Expected any
	Detail   string
	// NonRetryable marks KindKeySetFetch failures caused by a malformed
	// response rather than a transient transport problem.
	NonRetryable bool
	// RawToken is only populated when the caller opted into it.
	RawToken string
	Err      error
}

// Sentinels for errors.Is. They match any *Error of the same kind.
var (
	ErrParse              = &Error{Kind: KindParse}
	ErrKeyValidation      = &Error{Kind: KindKeyValidation}
	ErrKeyNotFound        = &Error{Kind: KindKeyNotFound}
	ErrKeySetNotCached    = &Error{Kind: KindKeySetNotCached}
	ErrKeySetFetch        = &Error{Kind: KindKeySetFetch}
	ErrNonRetryableFetch  = &Error{Kind: KindKeySetFetch, NonRetryable: true}
	ErrCooldownActive     = &Error{Kind: KindCooldownActive}
	ErrSignatureInvalid   = &Error{Kind: KindSignatureInvalid}
	ErrIssuer             = &Error{Kind: KindIssuer}
	ErrAudience           = &Error{Kind: KindAudience}
	ErrTokenUse           = &Error{Kind: KindTokenUse}
	ErrGroup              = &Error{Kind: KindGroup}
	ErrScope              = &Error{Kind: KindScope}
	ErrExpired            = &Error{Kind: KindExpired}
	ErrNotYetValid        = &Error{Kind: KindNotYetValid}
	ErrCustomCheck        = &Error{Kind: KindCustomCheck}
	ErrParameterViolation = &Error{Kind: KindParameter}
)

// NewError builds an *Error with a formatted detail.
func NewError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// WrapError builds an *Error that wraps cause.
func WrapError(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...), Err: cause}
}

// ClaimError builds a claim-validation failure contrasting actual and expected.
func ClaimError(kind Kind, claim string, actual, expected any, detail string) *Error {
	return &Error{Kind: kind, Claim: claim, Actual: actual, Expected: expected, Detail: detail}
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("jwt: ")
	b.WriteString(e.Kind.String())
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if e.Claim != "" {
		fmt.Fprintf(&b, " (claim %q: actual %v, expected %v)", e.Claim, e.Actual, e.Expected)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches sentinels by kind. ErrNonRetryableFetch only matches
// non-retryable fetch failures; ErrKeySetFetch matches both.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	if t.NonRetryable && !e.NonRetryable {
		return false
	}
	return true
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsClaimError reports whether err was raised by claim validation.
func IsClaimError(err error) bool {
	switch KindOf(err) {
	case KindIssuer, KindAudience, KindTokenUse, KindGroup, KindScope, KindExpired, KindNotYetValid:
		return true
	}
	return false
}
