package core

import (
	"context"
)

// VerificationEvent describes the outcome of one verification attempt.
// Kid and Issuer are empty when the token could not be decomposed.
type VerificationEvent struct {
	Issuer string
	Kid    string
	Alg    string
	Sync   bool
	Err    error
}

// EventSink records verification outcomes to an external sink.
// Implementations should be non-blocking and best-effort.
type EventSink interface {
	RecordVerification(ctx context.Context, ev VerificationEvent)
}
