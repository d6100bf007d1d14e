// Package config loads and validates per-repo llmc configuration.
//
// Configuration lives in a single YAML file at .llmc/config.yaml under the
// repo root. Environment variables prefixed LLMC_ override individual
// scalar keys (highest priority). Missing file yields defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	llmcerrors "github.com/llmc-dev/llmc/internal/errors"
)

// StateDirName is the per-repo state directory.
const StateDirName = ".llmc"

// ConfigFileName is the config file name inside the state directory.
const ConfigFileName = "config.yaml"

// Config is the complete per-repo configuration.
type Config struct {
	Version       int                 `yaml:"version"`
	Indexer       IndexerConfig       `yaml:"indexer"`
	Search        SearchConfig        `yaml:"search"`
	Embeddings    EmbeddingsConfig    `yaml:"embeddings"`
	Enrichment    EnrichmentConfig    `yaml:"enrichment"`
	Daemon        DaemonConfig        `yaml:"daemon"`
	Docgen        DocgenConfig        `yaml:"docs_docgen"`
	SemanticCache SemanticCacheConfig `yaml:"semantic_cache"`
}

// IndexerConfig configures the working-tree walk.
type IndexerConfig struct {
	// IgnoreGlobs are additional exclude patterns beyond .gitignore and
	// .ragignore.
	IgnoreGlobs []string `yaml:"ignore_globs"`
	// MaxFileSize is the per-file size cap in bytes (default 1 MiB).
	MaxFileSize int64 `yaml:"max_file_size"`
	// Sidecar enables sidecar markdown emission next to generated docs.
	Sidecar bool `yaml:"sidecar"`
}

// SearchConfig configures hybrid retrieval.
type SearchConfig struct {
	// RRFConstant is the RRF smoothing parameter k (default 60).
	RRFConstant int `yaml:"rrf_constant"`
	// MaxResults bounds the fused result list.
	MaxResults int `yaml:"max_results"`
	// LexicalBackend selects "sqlite" (default) or "bleve".
	LexicalBackend string `yaml:"lexical_backend"`
	// SymbolWeight and BodyWeight tune lexical column weighting.
	SymbolWeight float64 `yaml:"symbol_weight"`
	BodyWeight   float64 `yaml:"body_weight"`
	// GraphPruneConfidence drops relations below this confidence.
	GraphPruneConfidence float64 `yaml:"graph_prune_confidence"`
}

// EmbeddingsConfig holds named embedding profiles.
type EmbeddingsConfig struct {
	Profiles map[string]EmbeddingProfile `yaml:"profiles"`
}

// EmbeddingProfile configures one embedding provider instance.
type EmbeddingProfile struct {
	Provider string        `yaml:"provider"` // "ollama" or "static"
	Model    string        `yaml:"model"`
	Dim      int           `yaml:"dim"`
	URL      string        `yaml:"url"`
	Timeout  time.Duration `yaml:"timeout"`
}

// EnrichmentConfig holds chains and router rules.
type EnrichmentConfig struct {
	Chains map[string]ChainConfig `yaml:"chains"`
	Router RouterConfig           `yaml:"router"`
	// CooldownSeconds is how long a failed span waits before re-attempt.
	CooldownSeconds int `yaml:"cooldown_seconds"`
	// SoftTTLSeconds prevents tight retry loops across batches.
	SoftTTLSeconds int `yaml:"soft_ttl_seconds"`
	// PacingMS is an optional pause between spans within a batch.
	PacingMS int `yaml:"pacing_ms"`
	// MaxFailures caps per-(span, backend) attempts before skipping.
	MaxFailures int `yaml:"max_failures"`
}

// ChainConfig is an ordered cascade of backend specs.
type ChainConfig struct {
	Backends []BackendSpec `yaml:"backends"`
}

// BackendSpec contains everything needed to instantiate an adapter.
type BackendSpec struct {
	Provider       string            `yaml:"provider"`
	Model          string            `yaml:"model"`
	URL            string            `yaml:"url"`
	TimeoutSeconds int               `yaml:"timeout_seconds"`
	ConnectTimeout int               `yaml:"connect_timeout"`
	MaxFailures    int               `yaml:"max_failures"`
	CooldownSecs   int               `yaml:"cooldown_seconds"`
	Options        map[string]string `yaml:"options"`
}

// RouterConfig orders routing rules by priority.
type RouterConfig struct {
	Rules []RouterRule `yaml:"rules"`
}

// RouterRule maps a slice predicate to a chain.
type RouterRule struct {
	Priority int `yaml:"priority"`
	// ContentType matches "code", "docs", or "" for any.
	ContentType string `yaml:"content_type"`
	// MinTokens/MaxTokens bound the span size band (0 = unbounded).
	MinTokens int `yaml:"min_tokens"`
	MaxTokens int `yaml:"max_tokens"`
	// MaxPriorFailures routes spans that failed before to sturdier chains.
	MaxPriorFailures int `yaml:"max_prior_failures"`
	// Chain is the chain name to dispatch to; "skip" suppresses enrichment.
	Chain  string `yaml:"chain"`
	Reason string `yaml:"reason"`
}

// DaemonConfig configures the service daemon.
type DaemonConfig struct {
	// Mode is "event" (fsnotify) or "poll".
	Mode string `yaml:"mode"`
	// DebounceSeconds is the watcher quiet window.
	DebounceSeconds int `yaml:"debounce_seconds"`
	// HousekeepingInterval between scheduler sweeps.
	HousekeepingInterval time.Duration `yaml:"housekeeping_interval"`
	// Workers bounds worker pool concurrency (0 = NumCPU).
	Workers int `yaml:"workers"`
	// NiceLevel is applied to background jobs where supported.
	NiceLevel int `yaml:"nice_level"`
}

// DocgenConfig configures idempotent doc generation.
type DocgenConfig struct {
	Enabled         bool     `yaml:"enabled"`
	Backend         string   `yaml:"backend"`
	OutputDir       string   `yaml:"output_dir"`
	RequireFresh    bool     `yaml:"require_rag_fresh"`
	SizeCap         int64    `yaml:"size_cap"`
	ScriptAllowlist []string `yaml:"script_allowlist"`
}

// SemanticCacheConfig configures the query plan cache.
type SemanticCacheConfig struct {
	Enabled  bool    `yaml:"enabled"`
	MinScore float64 `yaml:"min_score"`
	Size     int     `yaml:"size"`
}

// Default returns the baseline configuration.
func Default() *Config {
	return &Config{
		Version: 1,
		Indexer: IndexerConfig{
			MaxFileSize: 1 << 20,
			Sidecar:     false,
		},
		Search: SearchConfig{
			RRFConstant:          60,
			MaxResults:           20,
			LexicalBackend:       "sqlite",
			SymbolWeight:         4.0,
			BodyWeight:           1.0,
			GraphPruneConfidence: 0.3,
		},
		Embeddings: EmbeddingsConfig{
			Profiles: map[string]EmbeddingProfile{
				"code": {Provider: "static", Dim: 256},
			},
		},
		Enrichment: EnrichmentConfig{
			Chains:          map[string]ChainConfig{},
			CooldownSeconds: 300,
			SoftTTLSeconds:  3600,
			MaxFailures:     3,
		},
		Daemon: DaemonConfig{
			Mode:                 "event",
			DebounceSeconds:      2,
			HousekeepingInterval: 5 * time.Minute,
		},
		Docgen: DocgenConfig{
			Enabled:   false,
			OutputDir: filepath.Join("DOCS", "REPODOCS"),
			SizeCap:   10 << 20,
		},
		SemanticCache: SemanticCacheConfig{
			Enabled:  true,
			MinScore: 0.0,
			Size:     512,
		},
	}
}

// Path returns the config file path for a repo root.
func Path(repoRoot string) string {
	return filepath.Join(repoRoot, StateDirName, ConfigFileName)
}

// Load reads the repo config, applying defaults for missing keys and
// LLMC_* environment overrides. A missing file is not an error.
func Load(repoRoot string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(Path(repoRoot))
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(cfg)
			return cfg, cfg.Validate()
		}
		return nil, llmcerrors.Config("cannot read config file", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, llmcerrors.Config("invalid config YAML", err)
	}

	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config back to .llmc/config.yaml.
func Save(repoRoot string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return llmcerrors.Config("cannot marshal config", err)
	}
	dir := filepath.Join(repoRoot, StateDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return llmcerrors.Config("cannot create state directory", err)
	}
	return os.WriteFile(Path(repoRoot), data, 0o644)
}

// Validate checks invariants that cannot be expressed in the schema.
func (c *Config) Validate() error {
	if c.Search.RRFConstant <= 0 {
		return llmcerrors.Config("search.rrf_constant must be positive", nil)
	}
	switch c.Search.LexicalBackend {
	case "sqlite", "bleve":
	default:
		return llmcerrors.Newf(llmcerrors.CodeConfigInvalid,
			"search.lexical_backend must be sqlite or bleve, got %q", c.Search.LexicalBackend)
	}
	switch c.Daemon.Mode {
	case "event", "poll":
	default:
		return llmcerrors.Newf(llmcerrors.CodeConfigInvalid,
			"daemon.mode must be event or poll, got %q", c.Daemon.Mode)
	}
	for name, p := range c.Embeddings.Profiles {
		if p.Dim <= 0 {
			return llmcerrors.Newf(llmcerrors.CodeConfigInvalid,
				"embeddings.profiles.%s.dim must be positive", name)
		}
		switch p.Provider {
		case "ollama", "static":
		default:
			return llmcerrors.Newf(llmcerrors.CodeConfigInvalid,
				"embeddings.profiles.%s.provider must be ollama or static", name)
		}
	}
	for _, rule := range c.Enrichment.Router.Rules {
		if rule.Chain == "" {
			return llmcerrors.Config("enrichment.router rule missing chain", nil)
		}
		if rule.Chain == "skip" {
			continue
		}
		if _, ok := c.Enrichment.Chains[rule.Chain]; !ok {
			return llmcerrors.Newf(llmcerrors.CodeConfigInvalid,
				"enrichment.router references unknown chain %q", rule.Chain)
		}
	}
	if c.Docgen.SizeCap <= 0 {
		c.Docgen.SizeCap = 10 << 20
	}
	return nil
}

// applyEnvOverrides applies LLMC_* scalar overrides.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LLMC_RRF_CONSTANT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Search.RRFConstant = n
		}
	}
	if v := os.Getenv("LLMC_LEXICAL_BACKEND"); v != "" {
		cfg.Search.LexicalBackend = v
	}
	if v := os.Getenv("LLMC_DAEMON_MODE"); v != "" {
		cfg.Daemon.Mode = v
	}
	if v := os.Getenv("LLMC_MAX_FILE_SIZE"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Indexer.MaxFileSize = n
		}
	}
}

// StateDir returns the .llmc directory for a repo root.
func StateDir(repoRoot string) string {
	return filepath.Join(repoRoot, StateDirName)
}

// FindRoot walks up from start looking for a .llmc or .git directory.
// When neither exists, start itself is returned.
func FindRoot(start string) string {
	abs, err := filepath.Abs(start)
	if err != nil {
		return start
	}
	for dir := abs; ; dir = filepath.Dir(dir) {
		for _, marker := range []string{StateDirName, ".git"} {
			if fi, err := os.Stat(filepath.Join(dir, marker)); err == nil && fi.IsDir() {
				return dir
			}
		}
		if filepath.Dir(dir) == dir {
			return abs
		}
	}
}

// IndexDir returns the directory holding index_v2.db and analytics.db.
func IndexDir(repoRoot string) string {
	return filepath.Join(repoRoot, StateDirName, "index")
}

// String implements fmt.Stringer for debug logging without dumping secrets.
func (c *Config) String() string {
	return fmt.Sprintf("config{v%d backend=%s profiles=%d chains=%d}",
		c.Version, c.Search.LexicalBackend, len(c.Embeddings.Profiles), len(c.Enrichment.Chains))
}
