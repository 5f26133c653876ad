package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/capacity-engine/config"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// =============================================================================
// CONFIG
// =============================================================================

func TestLoad_FileWithDefaults(t *testing.T) {
	// GIVEN: A config file that only sets the backend URL and one debounce
	// WHEN: Loading it
	// THEN: Everything else takes its default

	path := writeFile(t, "local.yaml", `
env: dev
backend:
  base_url: https://erp.example.com/api
pipeline:
  reload_debounce: 750ms
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, config.EnvDev, cfg.Env)
	assert.Equal(t, "https://erp.example.com/api", cfg.Backend.BaseURL)
	assert.Equal(t, 30*time.Second, cfg.Backend.Timeout)
	assert.Equal(t, 200, cfg.Backend.BatchSize)
	assert.Equal(t, 4, cfg.Backend.Concurrency)
	assert.Equal(t, 300*time.Millisecond, cfg.Pipeline.OptionsDebounce)
	assert.Equal(t, 750*time.Millisecond, cfg.Pipeline.ReloadDebounce)
	assert.Equal(t, 30*time.Minute, cfg.Sessions.IdleTTL)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeFile(t, "local.yaml", "storage:\n  path: ./file.db\n")
	t.Setenv("CAPACITY_STORAGE_PATH", "/var/lib/capacity.db")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/capacity.db", cfg.Storage.Path)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

// =============================================================================
// HOLIDAYS
// =============================================================================

func TestParseHolidays(t *testing.T) {
	holidays, err := config.ParseHolidays([]byte(`
holidays:
  - id: aniversario-sp
    date: 2024-01-25
    name: Aniversário de São Paulo
    recurring: true
  - date: "2024-06-13"
    name: Ponto facultativo
`))
	require.NoError(t, err)

	require.Len(t, holidays, 2)
	assert.Equal(t, "aniversario-sp", holidays[0].ID)
	assert.True(t, holidays[0].Recurring)
	assert.Equal(t, "br-2024-06-13", holidays[1].ID)
	assert.Equal(t, "2024-06-13", holidays[1].Date.DateKey())
}

func TestParseHolidays_RejectsBadDate(t *testing.T) {
	_, err := config.ParseHolidays([]byte("holidays:\n  - date: 13/06/2024\n    name: x\n"))
	assert.Error(t, err)
}

func TestEaster(t *testing.T) {
	assert.Equal(t, "2024-03-31", config.Easter(2024).DateKey())
	assert.Equal(t, "2025-04-20", config.Easter(2025).DateKey())
	assert.Equal(t, "2026-04-05", config.Easter(2026).DateKey())
}

func TestDefaultHolidays(t *testing.T) {
	// GIVEN: The built-in national set for 2024
	// WHEN: Looking for the movable holidays
	// THEN: Carnival falls on Feb 12-13 and Good Friday on Mar 29

	holidays := config.DefaultHolidays(2024)

	dates := map[string]string{}
	recurring := 0
	for _, h := range holidays {
		if h.Recurring {
			recurring++
			continue
		}
		dates[h.Date.DateKey()] = h.Name
	}
	assert.Equal(t, 9, recurring)
	assert.Equal(t, "Carnaval", dates["2024-02-12"])
	assert.Equal(t, "Carnaval", dates["2024-02-13"])
	assert.Equal(t, "Sexta-feira Santa", dates["2024-03-29"])
}
