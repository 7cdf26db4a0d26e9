package config_test

import (
	"roomalloc/backend/internal/config"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")

	cfg, err := config.Load("testdata/does-not-exist.env")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, 60*time.Second, cfg.ReservationTTL)
	assert.Equal(t, 24*time.Hour, cfg.PendingLockTTL)
	assert.Equal(t, config.DefaultAgeGapTolerance, cfg.AgeGapTolerance)
	assert.Equal(t, "roomalloc:", cfg.RedisNamespace)
	assert.Empty(t, cfg.PostgresDSN)
}

func TestLoad_RequiresSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")

	_, err := config.Load("testdata/does-not-exist.env")
	assert.Error(t, err)
}

func TestLoad_RejectsNonPositiveTTL(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("RESERVATION_TTL", "0s")

	_, err := config.Load("testdata/does-not-exist.env")
	assert.ErrorContains(t, err, "RESERVATION_TTL")
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("RESERVATION_TTL", "90s")
	t.Setenv("AGE_GAP_TOLERANCE", "15")
	t.Setenv("CAS_MAX_RETRIES", "0")

	cfg, err := config.Load("testdata/does-not-exist.env")
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, cfg.ReservationTTL)
	assert.Equal(t, 15, cfg.AgeGapTolerance)
	assert.Equal(t, config.DefaultCASMaxRetries, cfg.CASMaxRetries)
}
