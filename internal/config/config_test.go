package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	c := Load()

	assert.Equal(t, "localhost", c.RedisHost)
	assert.Equal(t, "6379", c.RedisPort)
	assert.Equal(t, 0, c.RedisDB)
	assert.Equal(t, "./dist", c.DatafilesDir)
	assert.Equal(t, 30*time.Minute, c.UpdateInterval)
	assert.EqualValues(t, 100, c.MinExposuresForUpdate)
	assert.Equal(t, "0.0.0.0", c.Host)
	assert.Equal(t, "5050", c.Port)
	assert.Equal(t, 10000, c.SamplerTrials)
	assert.False(t, c.GopsEnabled)
	assert.Equal(t, time.Duration(0), c.PruneOrphanAfter)
}

func TestLoadOverridesFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("REDIS_HOST", "redis.internal")
	t.Setenv("UPDATE_INTERVAL_MINUTES", "15")
	t.Setenv("MIN_EXPOSURES_FOR_UPDATE", "500")
	t.Setenv("PRUNE_ORPHAN_AFTER", "72h")
	t.Setenv("GOPS_ENABLED", "true")

	c := Load()

	assert.Equal(t, "redis.internal", c.RedisHost)
	assert.Equal(t, 15*time.Minute, c.UpdateInterval)
	assert.EqualValues(t, 500, c.MinExposuresForUpdate)
	assert.Equal(t, 72*time.Hour, c.PruneOrphanAfter)
	assert.True(t, c.GopsEnabled)
}

func TestLoadFallsBackOnUnparsableValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("MIN_EXPOSURES_FOR_UPDATE", "not-a-number")
	t.Setenv("PRUNE_ORPHAN_AFTER", "not-a-duration")
	t.Setenv("GOPS_ENABLED", "not-a-bool")

	c := Load()

	assert.EqualValues(t, 100, c.MinExposuresForUpdate)
	assert.Equal(t, time.Duration(0), c.PruneOrphanAfter)
	assert.False(t, c.GopsEnabled)
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"REDIS_HOST", "REDIS_PORT", "REDIS_DB", "REDIS_PASSWORD",
		"DATAFILES_DIR", "UPDATE_INTERVAL_MINUTES", "MIN_EXPOSURES_FOR_UPDATE",
		"HOST", "PORT", "DATAFILES_S3_BUCKET", "DATAFILES_S3_PREFIX",
		"NATS_URL", "SAMPLER_TRIALS", "GOPS_ENABLED", "RUN_USER", "RUN_GROUP",
		"PRUNE_ORPHAN_AFTER",
	} {
		orig, had := os.LookupEnv(key)
		os.Unsetenv(key)
		if had {
			t.Cleanup(func() { os.Setenv(key, orig) })
		}
	}
}
