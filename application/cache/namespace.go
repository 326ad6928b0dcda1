package cache

import (
	"fmt"
	"time"
)

// Namespace groups cache entries that share a default TTL
type Namespace string

const (
	NamespaceSearch      Namespace = "search"
	NamespaceEmbedding   Namespace = "embedding"
	NamespaceModel       Namespace = "model"
	NamespaceSuggestions Namespace = "suggestions"
	NamespaceStats       Namespace = "stats"
)

// Aggregate keys registered as clearable by default
const (
	HitsKey        = "stats:cache_hits"
	MissesKey      = "stats:cache_misses"
	StatsRecordKey = "stats:search_stats"
)

// DefaultTTLs returns the built-in TTL per namespace
func DefaultTTLs() map[Namespace]time.Duration {
	return map[Namespace]time.Duration{
		NamespaceSearch:      3600 * time.Second,
		NamespaceEmbedding:   86400 * time.Second,
		NamespaceModel:       86400 * time.Second,
		NamespaceSuggestions: 21600 * time.Second,
		NamespaceStats:       86400 * time.Second,
	}
}

// ParseNamespace validates a namespace name
func ParseNamespace(s string) (Namespace, error) {
	ns := Namespace(s)
	if _, ok := DefaultTTLs()[ns]; !ok {
		return "", fmt.Errorf("unknown cache namespace %q", s)
	}
	return ns, nil
}

func entryKey(ns Namespace, fingerprint string) string {
	return string(ns) + ":" + fingerprint
}
