package main

import (
	"fmt"

	"github.com/PaulFidika/jwtverify/core"
	"github.com/PaulFidika/jwtverify/internal/config"
	jwtkit "github.com/PaulFidika/jwtverify/jwt"
	jwkscache "github.com/PaulFidika/jwtverify/jwks"
	memorylimiter "github.com/PaulFidika/jwtverify/ratelimit/memory"
	redislimiter "github.com/PaulFidika/jwtverify/ratelimit/redis"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// buildVerifier wires the fetcher, cooldown, cache and verifier from cfg and
// installs any pre-seeded key sets.
func buildVerifier(cfg *config.Config, log logrus.FieldLogger) (*core.Verifier, error) {
	fetcher := jwkscache.NewHTTPFetcher(
		jwkscache.WithResponseTimeout(cfg.ResponseTimeout),
		jwkscache.WithIdleTimeout(cfg.IdleTimeout),
		jwkscache.WithFetchLogger(log),
	)

	var cooldown jwkscache.Cooldown
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		cooldown = redislimiter.New(redis.NewClient(opts), "", cfg.Cooldown)
		log.Info("using redis cooldown")
	} else {
		cooldown = memorylimiter.New(cfg.Cooldown)
	}

	cache := jwkscache.New(
		jwkscache.WithFetcher(fetcher),
		jwkscache.WithCooldown(cooldown),
		jwkscache.WithLogger(log),
	)

	issuers, err := cfg.IssuerConfigs()
	if err != nil {
		return nil, err
	}
	v, err := core.NewVerifier(issuers, core.WithKeySetCache(cache), core.WithLogger(log))
	if err != nil {
		return nil, err
	}

	sets, err := jwtkit.LoadPreseed(cfg.PreseedFile)
	if err != nil {
		return nil, err
	}
	for uri, ks := range sets {
		if err := cache.AddKeySet(uri, ks); err != nil {
			return nil, fmt.Errorf("preseed %s: %w", uri, err)
		}
		log.WithFields(logrus.Fields{"jwks_uri": uri, "keys": len(ks.Keys)}).Info("pre-seeded key set")
	}
	return v, nil
}

func jwksURIs(v *core.Verifier) []string {
	var out []string
	for _, ic := range v.Issuers() {
		out = append(out, ic.JWKSURI)
	}
	return out
}
