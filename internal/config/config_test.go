package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, 30*time.Second, cfg.HTTP.ReadTimeout)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "branch_and_bound", cfg.Solver.Backend)
	assert.Equal(t, 4, cfg.Solver.Workers)
	assert.Equal(t, int64(0), cfg.Solver.MaxNodes)
	assert.InDelta(t, 1e-6, cfg.Solver.Tolerance, 0)
	assert.False(t, cfg.Solver.Verbose)
	assert.Equal(t, time.Hour, cfg.Solver.JobTTL)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("ENV", "production")
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("SOLVER_WORKERS", "8")
	t.Setenv("SOLVER_MAX_NODES", "5000")
	t.Setenv("SOLVER_VERBOSE", "true")
	t.Setenv("SOLVER_JOB_TTL", "15m")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "production", cfg.Environment)
	assert.Equal(t, 9090, cfg.HTTP.Port)
	assert.Equal(t, 8, cfg.Solver.Workers)
	assert.Equal(t, int64(5000), cfg.Solver.MaxNodes)
	assert.True(t, cfg.Solver.Verbose)
	assert.Equal(t, 15*time.Minute, cfg.Solver.JobTTL)
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("HTTP_PORT", "not-a-number")
	_, err := Load()
	assert.Error(t, err)
}
