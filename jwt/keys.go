package jwtkit

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

const (
	// DefaultPreseedPath is where a mounted secret or config map may place
	// key sets to install before the first request.
	DefaultPreseedPath = "/etc/jwtverify/jwks.json"

	// PreseedEnv holds the same document inline.
	PreseedEnv = "JWKS_PRESEED"
)

// LoadKeySetFile reads a single JWKS document from disk.
func LoadKeySetFile(path string) (JWKS, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return JWKS{}, fmt.Errorf("read jwks file: %w", err)
	}
	return ParseKeySet(data)
}

// LoadPreseed discovers key sets to pre-seed a cache with, keyed by JWKS URI.
// Sources, highest priority first:
//  1. the JWKS_PRESEED environment variable
//  2. the file at path (DefaultPreseedPath when empty)
//
// Returns (nil, nil) when no source is present. A present but invalid source
// is an error so a misconfigured deployment fails at startup.
//
// Expected format:
//
//	{"https://idp.example/pool1/.well-known/jwks.json": {"keys": [...]}}
func LoadPreseed(path string) (map[string]JWKS, error) {
	if inline := strings.TrimSpace(os.Getenv(PreseedEnv)); inline != "" {
		sets, err := parsePreseed([]byte(inline))
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", PreseedEnv, err)
		}
		return sets, nil
	}

	if path == "" {
		path = DefaultPreseedPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	sets, err := parsePreseed(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return sets, nil
}

func parsePreseed(data []byte) (map[string]JWKS, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	out := make(map[string]JWKS, len(raw))
	for uri, doc := range raw {
		if strings.TrimSpace(uri) == "" {
			return nil, fmt.Errorf("empty jwks uri")
		}
		ks, err := ParseKeySet(doc)
		if err != nil {
			return nil, fmt.Errorf("key set for %s: %w", uri, err)
		}
		out[uri] = ks
	}
	return out, nil
}
