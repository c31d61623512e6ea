package jwkscache

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// DefaultRefreshSchedule refetches every registered key set every ten minutes.
const DefaultRefreshSchedule = "@every 10m"

// Refresher periodically refetches registered JWKS URIs so rotated keys are
// picked up before a token signed with them arrives.
type Refresher struct {
	cache   *Cache
	cron    *cron.Cron
	log     logrus.FieldLogger
	timeout time.Duration

	mu   sync.Mutex
	uris []string
}

// NewRefresher schedules refreshes of uris on schedule (cron syntax or
// "@every <duration>"; DefaultRefreshSchedule when empty).
func NewRefresher(cache *Cache, schedule string, log logrus.FieldLogger, uris ...string) (*Refresher, error) {
	if schedule == "" {
		schedule = DefaultRefreshSchedule
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	r := &Refresher{
		cache:   cache,
		cron:    cron.New(),
		log:     log,
		timeout: DefaultResponseTimeout * 3,
		uris:    append([]string(nil), uris...),
	}
	if _, err := r.cron.AddFunc(schedule, r.RefreshAll); err != nil {
		return nil, err
	}
	return r, nil
}

// Track adds uri to the refresh set.
func (r *Refresher) Track(uri string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.uris {
		if u == uri {
			return
		}
	}
	r.uris = append(r.uris, uri)
}

// RefreshAll refetches every tracked URI once. Failures keep the cached set.
func (r *Refresher) RefreshAll() {
	r.mu.Lock()
	uris := append([]string(nil), r.uris...)
	r.mu.Unlock()

	for _, uri := range uris {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		ks, err := r.cache.RefreshKeySet(ctx, uri)
		cancel()
		if err != nil {
			r.log.WithError(err).WithField("jwks_uri", uri).Warn("scheduled jwks refresh failed")
			continue
		}
		r.log.WithFields(logrus.Fields{"jwks_uri": uri, "keys": len(ks.Keys)}).Debug("scheduled jwks refresh")
	}
}

func (r *Refresher) Start() { r.cron.Start() }

// Stop halts the schedule and waits for a running refresh to finish.
func (r *Refresher) Stop() {
	<-r.cron.Stop().Done()
}
