package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// ModelConfig is the part of the search configuration that changes results
type ModelConfig struct {
	Path       string `json:"path"`
	Type       string `json:"type"`
	MaxResults int    `json:"max_results"`
}

// ConfigVersion hashes the active model configuration. Any change yields
// new fingerprints, so entries written under the old configuration are
// never read again.
func ConfigVersion(cfg ModelConfig) string {
	raw, _ := json.Marshal(cfg)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:8])
}

type fingerprintInput struct {
	Query         string         `json:"query"`
	Filters       map[string]any `json:"filters"`
	ConfigVersion string         `json:"config_version"`
}

// Fingerprint derives the cache key for a request. encoding/json sorts map
// keys, so filters hash the same regardless of insertion order. A nil and
// an empty filter map are equivalent.
func Fingerprint(query string, filters map[string]any, configVersion string) string {
	if filters == nil {
		filters = map[string]any{}
	}
	raw, err := json.Marshal(fingerprintInput{
		Query:         query,
		Filters:       filters,
		ConfigVersion: configVersion,
	})
	if err != nil {
		// fmt prints maps in key order too
		raw = []byte(query + "\x00" + configVersion + "\x00" + fmt.Sprint(filters))
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
