// internal/common/config/loader_test.go
package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadFromFile_DefaultsAndValidation(t *testing.T) {
	path := writeTestConfig(t, `
app:
  name: research-pipeline
  environment: test
apis:
  genai:
    base_url: http://localhost:9001
  web_search:
    base_url: http://localhost:9002
database:
  postgres:
    host: localhost
    database: research
    user: research
  redis:
    address: localhost:6379
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "research-pipeline", cfg.App.Name)
	assert.Equal(t, 7, cfg.Pipeline.ScoreThreshold)
	assert.Equal(t, 500, cfg.Pipeline.MaxQueryLength)
	assert.Equal(t, 8000, cfg.Pipeline.MaxInputLength)
	assert.Equal(t, 10, cfg.Pipeline.HistorySize)
	assert.Equal(t, 3, cfg.Pipeline.SearchRetries)
	assert.Equal(t, 7, cfg.Pipeline.MaxResults)
	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "disable", cfg.Database.Postgres.SSLMode)
}

func TestLoadFromFile_MissingProviderURL(t *testing.T) {
	path := writeTestConfig(t, `
apis:
  genai:
    base_url: http://localhost:9001
database:
  postgres:
    host: localhost
    database: research
    user: research
  redis:
    address: localhost:6379
`)

	_, err := LoadFromFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "web_search.base_url")
}

func TestLoadFromFile_ThresholdOutOfRange(t *testing.T) {
	path := writeTestConfig(t, `
apis:
  genai:
    base_url: http://localhost:9001
  web_search:
    base_url: http://localhost:9002
database:
  postgres:
    host: localhost
    database: research
    user: research
  redis:
    address: localhost:6379
pipeline:
  score_threshold: 12
`)

	_, err := LoadFromFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "score_threshold")
}

func TestGetDuration(t *testing.T) {
	assert.Equal(t, int64(1500), GetDuration(1500).Milliseconds())
}
