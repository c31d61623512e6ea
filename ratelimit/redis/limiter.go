package redislimiter

import (
	"context"
	"time"

	jwtkit "github.com/PaulFidika/jwtverify/jwt"
	"github.com/redis/go-redis/v9"
)

// DefaultCooldown is how long a JWKS URI stays blocked after a failed lookup.
const DefaultCooldown = 10 * time.Second

// PenaltyBox is a Redis-backed cooldown registry, so every verifier sharing
// the Redis instance backs off together. Entries expire through key TTLs.
type PenaltyBox struct {
	rdb    redis.UniversalClient
	keyNS  string
	window time.Duration
}

// New constructs a penalty box. Empty keyPrefix and window <= 0 use defaults.
func New(rdb redis.UniversalClient, keyPrefix string, window time.Duration) *PenaltyBox {
	if keyPrefix == "" {
		keyPrefix = "jwtverify:cooldown:"
	}
	if window <= 0 {
		window = DefaultCooldown
	}
	return &PenaltyBox{rdb: rdb, keyNS: keyPrefix, window: window}
}

func (p *PenaltyBox) key(uri string) string { return p.keyNS + uri }

// AwaitClearance fails immediately while uri is cooling down. Redis errors
// are returned as-is so the caller can decide whether to fail open.
func (p *PenaltyBox) AwaitClearance(ctx context.Context, uri string) error {
	if p == nil || p.rdb == nil {
		return nil
	}
	ttl, err := p.rdb.PTTL(ctx, p.key(uri)).Result()
	if err != nil {
		return err
	}
	// go-redis passes PTTL's -2 (missing key) and -1 (no expiry) through unscaled.
	if ttl == -2 {
		return nil
	}
	if ttl < 0 {
		return jwtkit.NewError(jwtkit.KindCooldownActive, "jwks fetch for %s suppressed", uri)
	}
	return jwtkit.NewError(jwtkit.KindCooldownActive, "jwks fetch for %s suppressed for another %s", uri, ttl.Round(time.Millisecond))
}

// RecordFailure (re)starts the cooldown for uri.
func (p *PenaltyBox) RecordFailure(ctx context.Context, uri string) error {
	if p == nil || p.rdb == nil {
		return nil
	}
	return p.rdb.Set(ctx, p.key(uri), 1, p.window).Err()
}

// RecordSuccess clears any cooldown for uri.
func (p *PenaltyBox) RecordSuccess(ctx context.Context, uri string) error {
	if p == nil || p.rdb == nil {
		return nil
	}
	return p.rdb.Del(ctx, p.key(uri)).Err()
}
