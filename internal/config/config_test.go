package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Listen)
	assert.True(t, cfg.Enabled)
	assert.False(t, cfg.DryRun)
	assert.Equal(t, 10.0, cfg.Threshold)
	assert.Equal(t, []string{"xss", "sqli"}, cfg.Modules)
	assert.Equal(t, []string{"/health", "/metrics", "/favicon.ico"}, cfg.SkipPaths)
	assert.False(t, cfg.AdaptiveLearning, "enforcement starts immediately unless learning is opted into")
	assert.Equal(t, 7, cfg.LearningPeriod)
	assert.Equal(t, 5.0, cfg.AnomalyThreshold)
	assert.Equal(t, 60000, cfg.RateLimit.WindowMs)
	assert.Equal(t, 100, cfg.RateLimit.Max)
	assert.Equal(t, time.Hour, cfg.IPBlocking.BlockDuration)
	assert.Equal(t, 5, cfg.IPBlocking.MaxViolations)
	assert.Equal(t, 24*time.Hour, cfg.UpdateInterval)
	assert.Equal(t, 10000, cfg.MaxLogs)
	assert.Equal(t, 7, cfg.Stats.RetentionDays)
}

func TestFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aegis.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen: ":9090"
dryRun: true
threshold: 15
modules: [xss, sqli, path-traversal]
rateLimit:
  enabled: true
  windowMs: 30000
  max: 50
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Listen)
	assert.True(t, cfg.DryRun)
	assert.Equal(t, 15.0, cfg.Threshold)
	assert.Equal(t, []string{"xss", "sqli", "path-traversal"}, cfg.Modules)
	assert.Equal(t, 30000, cfg.RateLimit.WindowMs)
	assert.Equal(t, 50, cfg.RateLimit.Max)
	// Untouched keys keep their defaults.
	assert.Equal(t, 5.0, cfg.AnomalyThreshold)
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aegis.yaml")
	require.NoError(t, os.WriteFile(path, []byte("threshold: 15\n"), 0o644))

	t.Setenv("AEGIS_THRESHOLD", "20")
	t.Setenv("AEGIS_MODULES", "xss, cmd-injection")
	t.Setenv("AEGIS_DRY_RUN", "true")
	t.Setenv("AEGIS_IP_BLOCKING_DURATION", "30m")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 20.0, cfg.Threshold)
	assert.Equal(t, []string{"xss", "cmd-injection"}, cfg.Modules)
	assert.True(t, cfg.DryRun)
	assert.Equal(t, 30*time.Minute, cfg.IPBlocking.BlockDuration)
}

func TestMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Default()
	cfg.Threshold = 0
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.RateLimit.Max = 0
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.RateLimit.Enabled = false
	cfg.RateLimit.Max = 0
	assert.NoError(t, cfg.Validate(), "disabled limiter skips its checks")
}

func TestDurationHelpers(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 7*24*time.Hour, cfg.LearningDuration())
	assert.Equal(t, time.Minute, cfg.RateLimitWindow())
}
