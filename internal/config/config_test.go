package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.SelectionTimeout())
	assert.Equal(t, 120*time.Second, cfg.ConfirmationTimeout())
	assert.Equal(t, "slotline", cfg.Stream.Subject)
	assert.Len(t, cfg.Events, 5)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
server:
  port: 9000
coordinator:
  selection_timeout_sec: 10
  confirmation_timeout_sec: 60
stream:
  url: nats://localhost:4222
  subject: custom
events:
  - id: one
    name: One
    total_slots: 5
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 10*time.Second, cfg.SelectionTimeout())
	assert.Equal(t, time.Minute, cfg.ConfirmationTimeout())
	assert.Equal(t, "nats://localhost:4222", cfg.Stream.URL)
	assert.Equal(t, "custom", cfg.Stream.Subject)
	require.Len(t, cfg.Events, 1)
	assert.Equal(t, "one", cfg.Events[0].ID)
	assert.Equal(t, 5, cfg.Events[0].TotalSlots)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "7070")
	t.Setenv("SELECTION_TIMEOUT_SEC", "45")
	t.Setenv("NATS_URL", "nats://example:4222")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, 45*time.Second, cfg.SelectionTimeout())
	assert.Equal(t, "nats://example:4222", cfg.Stream.URL)
}

func TestMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("events: [not a seq"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}
