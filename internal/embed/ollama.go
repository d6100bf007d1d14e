package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	llmcerrors "github.com/llmc-dev/llmc/internal/errors"
)

// DefaultOllamaHost is used when a profile omits the URL.
const DefaultOllamaHost = "http://localhost:11434"

const ollamaBatchSize = 32

// OllamaProvider talks to Ollama's /api/embed endpoint.
type OllamaProvider struct {
	client    *http.Client
	transport *http.Transport
	host      string
	model     string
	dim       int
	timeout   time.Duration
	retry     llmcerrors.RetryConfig
}

// OllamaConfig configures the provider.
type OllamaConfig struct {
	Host    string
	Model   string
	Dim     int
	Timeout time.Duration
}

// NewOllamaProvider creates an Ollama-backed provider. No health check is
// made at construction; the first call surfaces connectivity errors.
func NewOllamaProvider(cfg OllamaConfig) *OllamaProvider {
	if cfg.Host == "" {
		cfg.Host = DefaultOllamaHost
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	// Per-request context timeouts are used instead of a client timeout so
	// cancellation from the daemon propagates immediately.
	transport := &http.Transport{
		MaxIdleConns:        4,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     10 * time.Second,
	}
	return &OllamaProvider{
		client:    &http.Client{Transport: transport},
		transport: transport,
		host:      cfg.Host,
		model:     cfg.Model,
		dim:       cfg.Dim,
		timeout:   cfg.Timeout,
		retry:     llmcerrors.DefaultRetryConfig(),
	}
}

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

func (p *OllamaProvider) EmbedPassages(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += ollamaBatchSize {
		end := start + ollamaBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch := texts[start:end]
		// Timeouts and 5xx responses are transient; back off and retry
		// the batch before failing the whole call.
		var vecs [][]float32
		err := llmcerrors.Retry(ctx, p.retry, func() error {
			var batchErr error
			vecs, batchErr = p.embedBatch(ctx, batch)
			return batchErr
		})
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (p *OllamaProvider) EmbedQueries(ctx context.Context, texts []string) ([][]float32, error) {
	return p.EmbedPassages(ctx, texts)
}

func (p *OllamaProvider) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(ollamaEmbedRequest{Model: p.model, Input: texts})
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost,
		p.host+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded {
			return nil, llmcerrors.New(llmcerrors.CodeBackendTimeout,
				"embedding request timed out", err)
		}
		return nil, llmcerrors.New(llmcerrors.CodeBackendHTTP,
			"embedding request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, llmcerrors.Newf(llmcerrors.CodeBackendHTTP,
			"embedding endpoint returned %d: %s", resp.StatusCode, string(msg))
	}

	var parsed ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, llmcerrors.New(llmcerrors.CodeBackendParse,
			"invalid embedding response", err)
	}
	if len(parsed.Embeddings) != len(texts) {
		return nil, llmcerrors.Newf(llmcerrors.CodeBackendParse,
			"embedding count mismatch: want %d, got %d", len(texts), len(parsed.Embeddings))
	}
	for i, v := range parsed.Embeddings {
		if p.dim > 0 && len(v) != p.dim {
			return nil, llmcerrors.Newf(llmcerrors.CodeBackendParse,
				"embedding %d has dim %d, profile expects %d", i, len(v), p.dim)
		}
	}
	return parsed.Embeddings, nil
}

func (p *OllamaProvider) ModelName() string {
	return fmt.Sprintf("ollama/%s", p.model)
}

func (p *OllamaProvider) Dim() int { return p.dim }

func (p *OllamaProvider) Close() error {
	p.transport.CloseIdleConnections()
	return nil
}
