package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	llmcerrors "github.com/llmc-dev/llmc/internal/errors"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 60, cfg.Search.RRFConstant)
	assert.Equal(t, "sqlite", cfg.Search.LexicalBackend)
	assert.Equal(t, "event", cfg.Daemon.Mode)
	assert.Equal(t, 300, cfg.Enrichment.CooldownSeconds)
}

func TestLoadParsesChainAndRouter(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, StateDirName), 0o755))
	yml := `
version: 1
enrichment:
  chains:
    code_default:
      backends:
        - provider: ollama
          model: qwen2.5:7b
          url: http://host-a:11434
          timeout_seconds: 2
        - provider: ollama
          model: qwen2.5:14b
          url: http://host-b:11434
          timeout_seconds: 30
  router:
    rules:
      - priority: 10
        content_type: code
        chain: code_default
        reason: default code chain
`
	require.NoError(t, os.WriteFile(Path(root), []byte(yml), 0o644))

	cfg, err := Load(root)
	require.NoError(t, err)

	chain, ok := cfg.Enrichment.Chains["code_default"]
	require.True(t, ok)
	require.Len(t, chain.Backends, 2)
	assert.Equal(t, "qwen2.5:7b", chain.Backends[0].Model)
	assert.Equal(t, "http://host-b:11434", chain.Backends[1].URL)
	assert.Equal(t, "code_default", cfg.Enrichment.Router.Rules[0].Chain)
}

func TestValidateRejectsUnknownChain(t *testing.T) {
	cfg := Default()
	cfg.Enrichment.Router.Rules = []RouterRule{{Priority: 1, Chain: "nope"}}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Equal(t, llmcerrors.KindConfig, llmcerrors.KindOf(err))
}

func TestValidateRejectsBadBackend(t *testing.T) {
	cfg := Default()
	cfg.Search.LexicalBackend = "elasticsearch"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Equal(t, 3, llmcerrors.ExitCode(err))
}

func TestValidateSkipChainAllowed(t *testing.T) {
	cfg := Default()
	cfg.Enrichment.Router.Rules = []RouterRule{{Priority: 1, ContentType: "docs", Chain: "skip"}}

	assert.NoError(t, cfg.Validate())
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LLMC_RRF_CONSTANT", "90")
	t.Setenv("LLMC_DAEMON_MODE", "poll")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 90, cfg.Search.RRFConstant)
	assert.Equal(t, "poll", cfg.Daemon.Mode)
}

func TestSaveRoundTrip(t *testing.T) {
	root := t.TempDir()
	cfg := Default()
	cfg.Indexer.IgnoreGlobs = []string{"*.generated.ts"}

	require.NoError(t, Save(root, cfg))

	loaded, err := Load(root)
	require.NoError(t, err)
	assert.Equal(t, []string{"*.generated.ts"}, loaded.Indexer.IgnoreGlobs)
}
