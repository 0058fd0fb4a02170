package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 0.8, cfg.Dedup.SimilarityThreshold)
	assert.Equal(t, 30, cfg.Dedup.HistoryWindowSize)
	assert.Equal(t, 3, cfg.Dedup.MaxAttempts)
	assert.Equal(t, DedupReject, cfg.Dedup.OnExhausted)
	assert.Equal(t, 80.0, cfg.Quality.MinScore)
	assert.Equal(t, 7*24*time.Hour, cfg.Cooldown.Duration())
	assert.False(t, cfg.Posting.DailyCutoverEnabled)
}

func TestLoadOverridesDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	path := writeConfig(t, `
posting:
  startTime: "08:15"
  timeIncrementMinutes: 90
  timezone: America/New_York
  dailyCutoverEnabled: true
niches:
  - Vector databases
  - AI safety
dedup:
  onExhausted: accept
cooldown:
  days: 10
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "08:15", cfg.Posting.StartTime)
	assert.Equal(t, 90*time.Minute, cfg.Posting.Increment())
	assert.Equal(t, "America/New_York", cfg.Posting.Location().String())
	assert.True(t, cfg.Posting.DailyCutoverEnabled)
	assert.Equal(t, "14:00", cfg.Posting.DailyCutoff)
	assert.Equal(t, []string{"Vector databases", "AI safety"}, cfg.Niches)
	assert.Equal(t, DedupAccept, cfg.Dedup.OnExhausted)
	assert.Equal(t, 10, cfg.Cooldown.Days)
	// Untouched keys keep their defaults.
	assert.Equal(t, 0.8, cfg.Dedup.SimilarityThreshold)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("POSTAGENT_DB_PATH", "/tmp/other.db")
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant")
	t.Setenv("PUBLISH_WEBHOOK_URL", "https://publish.example.com/hook")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/other.db", cfg.Database.Path)
	assert.Equal(t, "anthropic", cfg.Generator.Provider)
	assert.Equal(t, "sk-ant", cfg.Generator.APIKey)
	assert.False(t, cfg.Publish.DryRun)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("POSTAGENT_DB_PATH=from-dotenv.db\n"), 0o644))
	t.Setenv("POSTAGENT_DB_PATH", "")
	os.Unsetenv("POSTAGENT_DB_PATH")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv.db", cfg.Database.Path)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"bad start time", func(c *Config) { c.Posting.StartTime = "9am" }},
		{"zero increment", func(c *Config) { c.Posting.TimeIncrementMinutes = 0 }},
		{"unknown timezone", func(c *Config) { c.Posting.Timezone = "Mars/Olympus" }},
		{"bad cutoff", func(c *Config) { c.Posting.DailyCutoverEnabled = true; c.Posting.DailyCutoff = "25:00" }},
		{"no topics at all", func(c *Config) { c.Niches = nil; c.Topics.Fallback = "" }},
		{"threshold above one", func(c *Config) { c.Dedup.SimilarityThreshold = 1.5 }},
		{"zero window", func(c *Config) { c.Dedup.HistoryWindowSize = 0 }},
		{"zero dedup attempts", func(c *Config) { c.Dedup.MaxAttempts = 0 }},
		{"unknown dedup policy", func(c *Config) { c.Dedup.OnExhausted = "maybe" }},
		{"min score out of range", func(c *Config) { c.Quality.MinScore = 101 }},
		{"zero quality attempts", func(c *Config) { c.Quality.MaxAttempts = 0 }},
		{"negative cooldown", func(c *Config) { c.Cooldown.Days = -1 }},
		{"probability above one", func(c *Config) { c.Topics.TrendingProbability = 2 }},
		{"llm without key", func(c *Config) { c.Generator.Provider = "openai"; c.Generator.APIKey = "" }},
		{"unknown provider", func(c *Config) { c.Generator.Provider = "markov" }},
		{"bad backoff", func(c *Config) { c.Generator.BackoffBase = "soon" }},
		{"zero publish attempts", func(c *Config) { c.Publish.MaxAttempts = 0 }},
		{"publish without target", func(c *Config) { c.Publish.DryRun = false; c.Publish.WebhookURL = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestLoadReturnsValidationError(t *testing.T) {
	t.Chdir(t.TempDir())
	path := writeConfig(t, "dedup:\n  similarityThreshold: 0\n")
	_, err := Load(path)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestParseClock(t *testing.T) {
	h, m, err := ParseClock("07:05")
	require.NoError(t, err)
	assert.Equal(t, 7, h)
	assert.Equal(t, 5, m)

	_, _, err = ParseClock("7")
	assert.Error(t, err)
}
