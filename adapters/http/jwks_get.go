package authhttp

import (
	"encoding/json"
	"net/http"
	"sort"

	jwtkit "github.com/PaulFidika/jwtverify/jwt"
	jwkscache "github.com/PaulFidika/jwtverify/jwks"
)

// KeySetHandler mirrors the key set cached for uri, fetching it on first use.
func KeySetHandler(cache *jwkscache.Cache, uri string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ks, err := cache.GetKeySet(r.Context(), uri)
		if err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadGateway)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": jwtkit.KindOf(err).String()})
			return
		}
		jwtkit.ServeJWKS(w, r, ks)
	})
}

// StatsHandler reports every cached key set, ordered by URI.
func StatsHandler(cache *jwkscache.Cache) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		stats := cache.Stats()
		sort.Slice(stats, func(i, j int) bool { return stats[i].URI < stats[j].URI })
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(stats)
	})
}
