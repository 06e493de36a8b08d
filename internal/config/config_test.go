package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "127.0.0.1:8080", cfg.Server.Addr)
	assert.Equal(t, ProviderGemini, cfg.Completion.Provider)
	assert.Equal(t, 10, cfg.Matching.MaxConcurrentTasks)
	assert.Equal(t, 4, cfg.Pipeline.Workers)
}

func TestFromYAMLOverlaysDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte(`
completion:
  provider: none
matching:
  strict_capacity: true
webhooks:
  - url: https://hooks.example.org/weave
    outcomes: [halted, error]
`))
	require.NoError(t, err)
	assert.Equal(t, ProviderNone, cfg.Completion.Provider)
	assert.Equal(t, "gemini-2.5-flash", cfg.Completion.Model)
	assert.True(t, cfg.Matching.StrictCapacity)
	assert.Equal(t, 10, cfg.Matching.MaxConcurrentTasks)
	require.Len(t, cfg.Webhooks, 1)
	assert.Equal(t, []string{"halted", "error"}, cfg.Webhooks[0].Outcomes)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"provider":    "completion:\n  provider: openai\n",
		"base path":   "server:\n  base_path: api\n",
		"temperature": "completion:\n  temperature: 3\n",
		"workers":     "pipeline:\n  workers: 0\n",
		"capacity":    "matching:\n  max_concurrent_tasks: 0\n",
		"log level":   "logging:\n  level: loud\n",
		"webhook url": "webhooks:\n  - url: ftp://example.org\n",
		"yaml":        "server: [\n",
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := FromYAML([]byte(raw))
			assert.Error(t, err)
		})
	}
}

func TestLoadVariants(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(dir)
	assert.ErrorContains(t, err, "weave config init")

	cfg, err := LoadOptional(dir)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	require.NoError(t, os.WriteFile(Path(dir), []byte("pipeline:\n  workers: 2\n"), 0o644))
	cfg, err = Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Pipeline.Workers)

	other := filepath.Join(dir, "other.yml")
	require.NoError(t, os.WriteFile(other, []byte("pipeline:\n  queue_size: 3\n"), 0o644))
	cfg, err = LoadFile(other)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Pipeline.QueueSize)
}

func TestMarshalReloads(t *testing.T) {
	cfg := Default()
	cfg.Server.Addr = "0.0.0.0:9000"
	data, err := cfg.Marshal()
	require.NoError(t, err)
	back, err := FromYAML(data)
	require.NoError(t, err)
	assert.Equal(t, cfg, back)
}
