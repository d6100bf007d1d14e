// Package docgen maintains generated per-file docs under DOCS/REPODOCS.
// A doc's first line records the hash of the source it was generated
// from; matching hashes make regeneration a no-op.
package docgen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/exec"
	"strings"
	"time"

	"github.com/llmc-dev/llmc/internal/config"
	llmcerrors "github.com/llmc-dev/llmc/internal/errors"
)

// Request carries one doc generation job.
type Request struct {
	SourcePath string
	SourceHash string // "sha256:<hex>"
	Content    []byte
}

// Generator produces the full markdown document, header line included.
type Generator interface {
	GenerateDoc(ctx context.Context, req *Request) (string, error)
	Name() string
}

const generatorTimeout = 120 * time.Second

// NewGenerator builds the configured backend. "ollama/<model>" calls the
// local LLM; anything else is treated as a script path and must appear in
// the allowlist.
func NewGenerator(cfg *config.DocgenConfig) (Generator, error) {
	switch {
	case cfg.Backend == "":
		return nil, llmcerrors.Config("docgen enabled but no backend configured", nil)
	case strings.HasPrefix(cfg.Backend, "ollama/"):
		return &ollamaGenerator{model: strings.TrimPrefix(cfg.Backend, "ollama/")}, nil
	default:
		for _, allowed := range cfg.ScriptAllowlist {
			if cfg.Backend == allowed {
				return &scriptGenerator{script: cfg.Backend}, nil
			}
		}
		return nil, llmcerrors.Newf(llmcerrors.CodeConfigInvalid,
			"docgen backend %q is not in script_allowlist", cfg.Backend)
	}
}

// scriptGenerator runs an allowlisted script with a fixed argv: the
// script path and the source path. No shell is involved, so source paths
// and content cannot inject commands. Content arrives on stdin and the
// document is read from stdout.
type scriptGenerator struct {
	script string
}

func (g *scriptGenerator) Name() string { return g.script }

func (g *scriptGenerator) GenerateDoc(ctx context.Context, req *Request) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, generatorTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, g.script, req.SourcePath)
	cmd.Stdin = bytes.NewReader(req.Content)
	cmd.Env = append(cmd.Environ(), "LLMC_SOURCE_HASH="+req.SourceHash)

	out, err := cmd.Output()
	if ctx.Err() == context.DeadlineExceeded {
		return "", llmcerrors.Newf(llmcerrors.CodeBackendTimeout,
			"doc script %s timed out", g.script)
	}
	if err != nil {
		return "", llmcerrors.New(llmcerrors.CodeBackendHTTP,
			fmt.Sprintf("doc script %s failed", g.script), err)
	}
	return string(out), nil
}

// ollamaGenerator asks a local model for the doc body and prepends the
// header itself.
type ollamaGenerator struct {
	model string
	host  string
}

func (g *ollamaGenerator) Name() string { return "ollama/" + g.model }

const docPromptTemplate = `Write concise markdown documentation for this source file.
Cover purpose, key symbols, and how the file fits the codebase. No preamble.

File: %s

%s`

func (g *ollamaGenerator) GenerateDoc(ctx context.Context, req *Request) (string, error) {
	host := g.host
	if host == "" {
		host = "http://localhost:11434"
	}
	body, _ := json.Marshal(map[string]any{
		"model":  g.model,
		"prompt": fmt.Sprintf(docPromptTemplate, req.SourcePath, req.Content),
		"stream": false,
	})

	ctx, cancel := context.WithTimeout(ctx, generatorTimeout)
	defer cancel()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		host+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", llmcerrors.New(llmcerrors.CodeBackendHTTP, "cannot build doc request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", llmcerrors.Newf(llmcerrors.CodeBackendTimeout,
				"doc generation timed out on %s", host)
		}
		return "", llmcerrors.New(llmcerrors.CodeBackendHTTP, "doc backend unreachable", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", llmcerrors.Newf(llmcerrors.CodeBackendHTTP,
			"doc backend returned %d", resp.StatusCode)
	}

	var parsed struct {
		Response string `json:"response"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", llmcerrors.New(llmcerrors.CodeBackendParse, "cannot decode doc response", err)
	}
	return HeaderLine(req.SourceHash) + "\n\n" + parsed.Response, nil
}
