package registry

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const overrideYAML = `
rules:
  - prefix: acme-
    vendor: openai
direct: [ollama]
aggregators:
  - vendor: openRouter
    proxies: ["*"]
    format: slash
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestDefaultCatalogIsValid(t *testing.T) {
	require.NoError(t, DefaultCatalog().Validate())
}

func TestLoadCatalogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	writeFile(t, path, overrideYAML)

	c, err := LoadCatalogFile(path)
	require.NoError(t, err)

	r := New(c)
	v, ok := r.InferVendorFromModel("acme-large")
	assert.True(t, ok)
	assert.Equal(t, OpenAI, v)

	assert.Equal(t, []Vendor{Anthropic, OpenRouter}, r.GetSupportedProviders("claude-3"))
	assert.Contains(t, c.Direct, Ollama)
}

func TestLoadCatalogFileErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadCatalogFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.yaml")
	writeFile(t, bad, "rules:\n  - vendor: openai\n")
	_, err = LoadCatalogFile(bad)
	assert.Error(t, err, "rule without pattern must be rejected")

	badFormat := filepath.Join(dir, "format.yaml")
	writeFile(t, badFormat, "aggregators:\n  - vendor: poe\n    proxies: ['*']\n    format: weird\n")
	_, err = LoadCatalogFile(badFormat)
	assert.Error(t, err)
}

func TestWatchReloadsCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	writeFile(t, path, "rules: []\n")

	r := New(nil)
	require.NoError(t, r.LoadFile(path))

	var reloads atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, r.Watch(ctx, path, func() { reloads.Add(1) }))

	writeFile(t, path, overrideYAML)

	assert.Eventually(t, func() bool {
		_, ok := r.InferVendorFromModel("acme-large")
		return ok && reloads.Load() > 0
	}, 3*time.Second, 20*time.Millisecond)
}
