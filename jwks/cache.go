package jwkscache

import (
	"context"
	"errors"
	"sync"
	"time"

	jwtkit "github.com/PaulFidika/jwtverify/jwt"
	memorylimiter "github.com/PaulFidika/jwtverify/ratelimit/memory"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// Cooldown throttles key set fetches for a URI after a lookup failed.
type Cooldown interface {
	// AwaitClearance returns a KindCooldownActive error while uri cools down.
	AwaitClearance(ctx context.Context, uri string) error
	RecordFailure(ctx context.Context, uri string) error
	RecordSuccess(ctx context.Context, uri string) error
}

// bookkeepingTimeout bounds cooldown writes made after the caller may have
// stopped waiting.
const bookkeepingTimeout = 2 * time.Second

type entry struct {
	set       jwtkit.JWKS
	fetchedAt time.Time
	gen       uint64
}

// Cache holds at most one key set per JWKS URI and coalesces concurrent
// fetches of the same URI into one request.
type Cache struct {
	fetcher  Fetcher
	cooldown Cooldown
	log      logrus.FieldLogger
	now      func() time.Time

	mu      sync.RWMutex
	entries map[string]entry
	gen     uint64
	hooks   []func(uri string)

	group singleflight.Group
}

// Option configures a Cache.
type Option func(*Cache)

// WithFetcher replaces the default HTTPFetcher.
func WithFetcher(f Fetcher) Option { return func(c *Cache) { c.fetcher = f } }

// WithCooldown installs a penalty box consulted before refetching. A nil
// cd disables the cooldown, as WithoutCooldown does.
func WithCooldown(cd Cooldown) Option {
	return func(c *Cache) {
		if cd == nil {
			cd = noCooldown{}
		}
		c.cooldown = cd
	}
}

// WithoutCooldown lets every miss refetch immediately.
func WithoutCooldown() Option { return func(c *Cache) { c.cooldown = noCooldown{} } }

// WithLogger sets the cache logger.
func WithLogger(l logrus.FieldLogger) Option { return func(c *Cache) { c.log = l } }

// New builds a cache. Without WithCooldown an in-memory penalty box with
// memorylimiter.DefaultCooldown is used.
func New(opts ...Option) *Cache {
	c := &Cache{
		log:     logrus.StandardLogger(),
		now:     time.Now,
		entries: make(map[string]entry),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.fetcher == nil {
		c.fetcher = NewHTTPFetcher(WithFetchLogger(c.log))
	}
	if c.cooldown == nil {
		c.cooldown = memorylimiter.New(memorylimiter.DefaultCooldown)
	}
	return c
}

// OnInstall registers fn to run after a key set for a URI is installed.
// Hooks run synchronously, outside the cache lock.
func (c *Cache) OnInstall(fn func(uri string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks = append(c.hooks, fn)
}

// AddKeySet installs ks for uri without fetching, replacing any prior set.
func (c *Cache) AddKeySet(uri string, ks jwtkit.JWKS) error {
	if err := jwtkit.AssertKeySetShape(ks); err != nil {
		return err
	}
	c.install(uri, ks)
	return nil
}

// GetKeySet returns the cached set for uri or fetches it.
func (c *Cache) GetKeySet(ctx context.Context, uri string) (jwtkit.JWKS, error) {
	if e, ok := c.lookup(uri); ok {
		return e.set, nil
	}
	return c.fetch(ctx, uri)
}

// RefreshKeySet fetches uri and installs the result even if a set is cached.
func (c *Cache) RefreshKeySet(ctx context.Context, uri string) (jwtkit.JWKS, error) {
	return c.fetch(ctx, uri)
}

// GetCachedKey finds kid in the cached set without any I/O.
func (c *Cache) GetCachedKey(uri, kid string) (jwtkit.JWK, error) {
	e, ok := c.lookup(uri)
	if !ok {
		return jwtkit.JWK{}, jwtkit.NewError(jwtkit.KindKeySetNotCached, "key set for %s not yet cached", uri)
	}
	k, ok := e.set.Find(kid)
	if !ok {
		return jwtkit.JWK{}, jwtkit.NewError(jwtkit.KindKeyNotFound, "key id %q not found in cached key set for %s", kid, uri)
	}
	return k, nil
}

// GetKey finds kid, fetching a fresh key set on a miss unless uri is in
// cooldown. A miss after the fetch puts uri in cooldown.
func (c *Cache) GetKey(ctx context.Context, uri, kid string) (jwtkit.JWK, error) {
	e, cached := c.lookup(uri)
	if cached {
		if k, ok := e.set.Find(kid); ok {
			return k, nil
		}
	}

	if err := c.cooldown.AwaitClearance(ctx, uri); err != nil {
		if errors.Is(err, jwtkit.ErrCooldownActive) {
			return jwtkit.JWK{}, err
		}
		c.log.WithError(err).WithField("jwks_uri", uri).Warn("cooldown backend unavailable, allowing fetch")
	}

	var ks jwtkit.JWKS
	if cur, ok := c.lookup(uri); ok && (!cached || cur.gen != e.gen) {
		// Another caller installed a set after we looked.
		ks = cur.set
	} else {
		fetched, err := c.fetch(ctx, uri)
		if err != nil {
			return jwtkit.JWK{}, err
		}
		ks = fetched
	}

	bctx, cancel := bookkeepingContext(ctx)
	defer cancel()

	k, ok := ks.Find(kid)
	if !ok {
		if err := c.cooldown.RecordFailure(bctx, uri); err != nil {
			c.log.WithError(err).WithField("jwks_uri", uri).Warn("failed to record cooldown")
		}
		c.log.WithFields(logrus.Fields{"jwks_uri": uri, "kid": kid}).Info("key id not found in fetched key set")
		return jwtkit.JWK{}, jwtkit.NewError(jwtkit.KindKeyNotFound, "key id %q not found in key set for %s", kid, uri)
	}
	if err := c.cooldown.RecordSuccess(bctx, uri); err != nil {
		c.log.WithError(err).WithField("jwks_uri", uri).Warn("failed to clear cooldown")
	}
	return k, nil
}

// bookkeepingContext keeps ctx's values but not its cancellation, so a
// caller that gave up does not skip the cooldown write.
func bookkeepingContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), bookkeepingTimeout)
}

func (c *Cache) lookup(uri string) (entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[uri]
	return e, ok
}

// fetch runs at most one network fetch per uri at a time. The shared fetch
// is detached from any single caller's cancellation; each caller still
// stops waiting when its own context ends.
func (c *Cache) fetch(ctx context.Context, uri string) (jwtkit.JWKS, error) {
	ch := c.group.DoChan(uri, func() (any, error) {
		fctx := context.WithoutCancel(ctx)
		body, err := c.fetcher.FetchJSON(fctx, uri)
		if err != nil {
			c.log.WithError(err).WithField("jwks_uri", uri).Warn("jwks fetch failed")
			return nil, err
		}
		ks, err := jwtkit.ParseKeySet(body)
		if err != nil {
			c.log.WithError(err).WithField("jwks_uri", uri).Warn("jwks response rejected")
			return nil, err
		}
		c.install(uri, ks)
		c.log.WithFields(logrus.Fields{"jwks_uri": uri, "keys": len(ks.Keys)}).Debug("jwks installed")
		return ks, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return jwtkit.JWKS{}, res.Err
		}
		return res.Val.(jwtkit.JWKS), nil
	case <-ctx.Done():
		return jwtkit.JWKS{}, jwtkit.WrapError(jwtkit.KindKeySetFetch, ctx.Err(), "fetch %s", uri)
	}
}

func (c *Cache) install(uri string, ks jwtkit.JWKS) {
	c.mu.Lock()
	c.gen++
	c.entries[uri] = entry{set: ks, fetchedAt: c.now(), gen: c.gen}
	hooks := append([]func(string){}, c.hooks...)
	c.mu.Unlock()

	for _, fn := range hooks {
		fn(uri)
	}
}

// Stats describes one cached key set.
type Stats struct {
	URI       string    `json:"uri"`
	KeyCount  int       `json:"key_count"`
	KeyIDs    []string  `json:"key_ids"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Stats reports every cached key set.
func (c *Cache) Stats() []Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Stats, 0, len(c.entries))
	for uri, e := range c.entries {
		out = append(out, Stats{URI: uri, KeyCount: len(e.set.Keys), KeyIDs: e.set.KeyIDs(), FetchedAt: e.fetchedAt})
	}
	return out
}

type noCooldown struct{}

func (noCooldown) AwaitClearance(context.Context, string) error { return nil }
func (noCooldown) RecordFailure(context.Context, string) error  { return nil }
func (noCooldown) RecordSuccess(context.Context, string) error  { return nil }
