// Package config loads the service's environment-variable configuration
// table and applies its documented defaults. Unlike cc-backend's config
// package (which loads a JSON file with schema validation), this service's
// entire configuration surface is environment variables, so Load reads
// directly from the process environment rather than decoding a file.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/variantopt/weightopt/pkg/log"
)

// Config holds every tunable named in the external-interfaces table. Zero
// values are never used directly; Load always fills in the documented
// default for anything unset or unparsable.
type Config struct {
	RedisHost     string
	RedisPort     string
	RedisDB       int
	RedisPassword string

	DatafilesDir string

	UpdateInterval      time.Duration
	MinExposuresForUpdate uint64

	Host string
	Port string

	// Optional extras; all default to "feature off" so behavior is
	// unchanged when unset.
	DatafilesS3Bucket string
	DatafilesS3Prefix string

	NATSURL string

	SamplerTrials int

	GopsEnabled bool

	RunUser  string
	RunGroup string

	PruneOrphanAfter time.Duration
}

func Load() *Config {
	c := &Config{
		RedisHost:             getString("REDIS_HOST", "localhost"),
		RedisPort:             getString("REDIS_PORT", "6379"),
		RedisDB:               getInt("REDIS_DB", 0),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		DatafilesDir:          getString("DATAFILES_DIR", "./dist"),
		UpdateInterval:        getMinutes("UPDATE_INTERVAL_MINUTES", 30*time.Minute),
		MinExposuresForUpdate: uint64(getInt("MIN_EXPOSURES_FOR_UPDATE", 100)),
		Host:                  getString("HOST", "0.0.0.0"),
		Port:                  getString("PORT", "5050"),
		DatafilesS3Bucket:     os.Getenv("DATAFILES_S3_BUCKET"),
		DatafilesS3Prefix:     os.Getenv("DATAFILES_S3_PREFIX"),
		NATSURL:               os.Getenv("NATS_URL"),
		SamplerTrials:         getInt("SAMPLER_TRIALS", 10000),
		GopsEnabled:           getBool("GOPS_ENABLED", false),
		RunUser:               os.Getenv("RUN_USER"),
		RunGroup:              os.Getenv("RUN_GROUP"),
		PruneOrphanAfter:      getDuration("PRUNE_ORPHAN_AFTER", 0),
	}
	return c
}

func getString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Warnf("config: %s=%q is not an integer, using default %d", key, v, def)
		return def
	}
	return n
}

func getBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Warnf("config: %s=%q is not a bool, using default %v", key, v, def)
		return def
	}
	return b
}

// getMinutes parses key as a plain integer count of minutes, matching the
// *_MINUTES naming in the external-interfaces table.
func getMinutes(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Warnf("config: %s=%q is not an integer, using default %s", key, v, def)
		return def
	}
	return time.Duration(n) * time.Minute
}

// getDuration parses key with time.ParseDuration (e.g. "72h"), used for the
// enrichment knobs that are not on the *_MINUTES convention.
func getDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Warnf("config: %s=%q is not a duration, using default %s", key, v, def)
		return def
	}
	return d
}
