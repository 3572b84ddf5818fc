package counterstore

import "strings"

const keyPrefix = "stats:"

const lockKey = "lock:recalc"

// formatKey renders the store's key layout:
// stats:{datafile_path}:{feature_key}:{variant_value}.
func formatKey(k Key) string {
	return keyPrefix + k.Datafile + ":" + k.Feature + ":" + k.Variant
}

// ParseKey recovers a Key from a raw store key, or ok=false if it doesn't
// match the stats:* schema (e.g. the lock key, or a key from an unrelated
// deployment sharing the same Redis database).
func ParseKey(raw string) (k Key, ok bool) {
	if !strings.HasPrefix(raw, keyPrefix) {
		return Key{}, false
	}
	rest := strings.TrimPrefix(raw, keyPrefix)
	parts := strings.SplitN(rest, ":", 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return Key{}, false
	}
	return Key{Datafile: parts[0], Feature: parts[1], Variant: parts[2]}, true
}
