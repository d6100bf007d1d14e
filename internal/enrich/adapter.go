package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/llmc-dev/llmc/internal/config"
	llmcerrors "github.com/llmc-dev/llmc/internal/errors"
)

// GenMeta is the adapter-level call metadata, sufficient to compute
// tokens per second.
type GenMeta struct {
	Model           string
	Host            string
	EvalCount       int
	EvalDuration    time.Duration
	PromptEvalCount int
	TotalDuration   time.Duration
}

// TokensPerSecond derives throughput from eval counters.
func (m *GenMeta) TokensPerSecond() float64 {
	if m.EvalDuration <= 0 {
		return 0
	}
	return float64(m.EvalCount) / m.EvalDuration.Seconds()
}

// Generator is one LLM backend adapter. Generate returns the raw JSON
// produced by the model; validation happens in the pipeline.
type Generator interface {
	Generate(ctx context.Context, prompt string) (json.RawMessage, *GenMeta, error)
	Name() string
}

// NewGenerator instantiates the adapter for a backend spec.
func NewGenerator(spec config.BackendSpec) (Generator, error) {
	switch spec.Provider {
	case "ollama", "":
		return newOllamaGenerator(spec), nil
	default:
		return nil, llmcerrors.Newf(llmcerrors.CodeConfigInvalid,
			"unknown enrichment provider %q", spec.Provider)
	}
}

// ollamaGenerator calls Ollama's /api/generate with JSON output format.
type ollamaGenerator struct {
	client  *http.Client
	host    string
	model   string
	timeout time.Duration
}

func newOllamaGenerator(spec config.BackendSpec) *ollamaGenerator {
	host := spec.URL
	if host == "" {
		host = "http://localhost:11434"
	}
	timeout := time.Duration(spec.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	connectTimeout := time.Duration(spec.ConnectTimeout) * time.Second
	if connectTimeout <= 0 {
		connectTimeout = 5 * time.Second
	}
	return &ollamaGenerator{
		client: &http.Client{
			Transport: &http.Transport{
				ResponseHeaderTimeout: timeout,
				IdleConnTimeout:       10 * time.Second,
			},
		},
		host:    host,
		model:   spec.Model,
		timeout: timeout,
	}
}

type ollamaGenerateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Format string `json:"format"`
	Stream bool   `json:"stream"`
}

type ollamaGenerateResponse struct {
	Response        string `json:"response"`
	EvalCount       int    `json:"eval_count"`
	EvalDuration    int64  `json:"eval_duration"` // nanoseconds
	PromptEvalCount int    `json:"prompt_eval_count"`
	TotalDuration   int64  `json:"total_duration"`
}

func (g *ollamaGenerator) Name() string {
	return fmt.Sprintf("%s@%s", g.model, g.host)
}

func (g *ollamaGenerator) Generate(ctx context.Context, prompt string) (json.RawMessage, *GenMeta, error) {
	body, err := json.Marshal(ollamaGenerateRequest{
		Model: g.model, Prompt: prompt, Format: "json", Stream: false,
	})
	if err != nil {
		return nil, nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost,
		g.host+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := g.client.Do(req)
	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded {
			return nil, nil, llmcerrors.New(llmcerrors.CodeBackendTimeout,
				"generation timed out", err)
		}
		if ctx.Err() != nil {
			return nil, nil, llmcerrors.Cancelled("generation")
		}
		return nil, nil, llmcerrors.New(llmcerrors.CodeBackendHTTP, "generation request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, nil, llmcerrors.New(llmcerrors.CodeBackendRateLimited, "backend rate limited", nil)
	case resp.StatusCode != http.StatusOK:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, nil, llmcerrors.Newf(llmcerrors.CodeBackendHTTP,
			"backend returned %d: %s", resp.StatusCode, string(msg))
	}

	var parsed ollamaGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, nil, llmcerrors.New(llmcerrors.CodeBackendParse, "invalid generation response", err)
	}

	meta := &GenMeta{
		Model:           g.model,
		Host:            g.host,
		EvalCount:       parsed.EvalCount,
		EvalDuration:    time.Duration(parsed.EvalDuration),
		PromptEvalCount: parsed.PromptEvalCount,
		TotalDuration:   time.Duration(parsed.TotalDuration),
	}
	if meta.TotalDuration == 0 {
		meta.TotalDuration = time.Since(start)
	}
	return json.RawMessage(parsed.Response), meta, nil
}
