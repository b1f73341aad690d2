package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"momentum/internal/domain"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, BackendMemory, cfg.Storage.Backend)
	assert.Equal(t, 50, cfg.History.MaxEntries)
	assert.Equal(t, domain.Limits{ListDefault: 20, BulkMax: 50, RecurrenceLimit: 10}, cfg.Limits())
	assert.Equal(t, time.UTC, cfg.Location())
}

func TestFromYAMLKeepsDefaultsForMissingKeys(t *testing.T) {
	cfg, err := FromYAML([]byte("timezone: Europe/Paris\nbulk:\n  max_items: 5\n"))
	require.NoError(t, err)
	assert.Equal(t, "Europe/Paris", cfg.Location().String())
	assert.Equal(t, 5, cfg.Bulk.MaxItems)
	assert.Equal(t, 20, cfg.List.DefaultLimit)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"timezone":    "timezone: Mars/Olympus\n",
		"history":     "history:\n  max_entries: 1\n",
		"backend":     "storage:\n  backend: redis\n",
		"temperature": "assistant:\n  temperature: 3\n",
		"log level":   "log:\n  level: loud\n",
		"yaml":        "bulk: [",
		"webhook url": "webhooks:\n  - events: [task.created]\n",
		"webhook evt": "webhooks:\n  - url: http://x\n    events: [task.renamed]\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := FromYAML([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(dir)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	_, err = Load(dir)
	assert.ErrorContains(t, err, "not found")

	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte("list:\n  default_limit: 7\n"), 0o644))
	cfg, err = LoadOptional(dir)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.List.DefaultLimit)
}

func TestGeneratedTemplateRoundTrips(t *testing.T) {
	cfg, err := FromYAML([]byte(GenerateDefault()))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestWebhooks(t *testing.T) {
	cfg, err := FromYAML([]byte(`webhooks:
  - url: http://localhost:9000/hook
    events: [task.created, event.deleted]
  - enabled: false
`))
	require.NoError(t, err)
	require.Len(t, cfg.Webhooks, 2)
	assert.Equal(t, []string{"task.created", "event.deleted"}, cfg.Webhooks[0].Events)
}
