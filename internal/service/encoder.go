package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/go-resty/resty/v2"
	"github.com/tejasbhor/Civiclens/internal/config"
	"golang.org/x/sync/semaphore"
)

// Encoder turns report text into dense vectors. Implementations are created once per
// process, shared across requests and released with Close.
type Encoder interface {
	// Encode returns one vector per input text, in input order.
	Encode(ctx context.Context, texts []string) ([][]float32, error)
	ModelName() string
	ModelVersion() string
	Dimensions() int
	// BatchSize is the preferred number of texts per Encode call.
	BatchSize() int
	Close() error
}

// NewEncoder builds the configured encoder with bounded concurrency.
func NewEncoder(cfg *config.EncoderConfig) (Encoder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return NewIsolatedEncoder(NewHTTPEncoder(cfg), cfg.MaxConcurrency), nil
}

// HTTPEncoder calls an OpenAI-compatible /embeddings endpoint, such as a
// sentence-transformers server or the Jina API.
type HTTPEncoder struct {
	client       *resty.Client
	provider     string
	endpoint     string
	model        string
	modelVersion string
	dimensions   int
	batchSize    int
}

// NewHTTPEncoder creates an HTTPEncoder from configuration.
func NewHTTPEncoder(cfg *config.EncoderConfig) *HTTPEncoder {
	client := resty.New()
	client.SetHeader("Content-Type", "application/json")
	if cfg.APIKey != "" {
		client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	}
	if cfg.Timeout > 0 {
		client.SetTimeout(cfg.Timeout)
	}

	return &HTTPEncoder{
		client:       client,
		provider:     cfg.Provider,
		endpoint:     strings.TrimRight(cfg.BaseURL, "/") + "/embeddings",
		model:        cfg.Model,
		modelVersion: cfg.ModelVersion,
		dimensions:   cfg.Dimensions,
		batchSize:    cfg.BatchSize,
	}
}

func (e *HTTPEncoder) ModelName() string    { return e.model }
func (e *HTTPEncoder) ModelVersion() string { return e.modelVersion }
func (e *HTTPEncoder) Dimensions() int      { return e.dimensions }
func (e *HTTPEncoder) BatchSize() int       { return e.batchSize }

// Close releases idle connections held by the HTTP client.
func (e *HTTPEncoder) Close() error {
	e.client.GetClient().CloseIdleConnections()
	return nil
}

type embeddingRequest struct {
	Model         string   `json:"model"`
	Input         []string `json:"input"`
	Task          string   `json:"task,omitempty"`
	Dimensions    int      `json:"dimensions,omitempty"`
	EmbeddingType string   `json:"embedding_type,omitempty"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Detail string `json:"detail,omitempty"`
	Error  *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Encode generates embeddings for multiple texts in one request.
func (e *HTTPEncoder) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	req := embeddingRequest{
		Model: e.model,
		Input: texts,
	}
	if e.provider == "jina" {
		req.Task = "text-matching"
		req.Dimensions = e.dimensions
		req.EmbeddingType = "float"
	}

	var resp embeddingResponse
	httpResp, err := e.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&resp).
		SetError(&resp).
		Post(e.endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to call embeddings API: %w", err)
	}

	if httpResp.StatusCode() != http.StatusOK {
		switch {
		case resp.Error != nil && resp.Error.Message != "":
			return nil, fmt.Errorf("embeddings API error: %s", resp.Error.Message)
		case resp.Detail != "":
			return nil, fmt.Errorf("embeddings API error: %s", resp.Detail)
		}
		return nil, fmt.Errorf("embeddings API error: status %d", httpResp.StatusCode())
	}

	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("unexpected number of embeddings: got %d, expected %d", len(resp.Data), len(texts))
	}

	embeddings := make([][]float32, len(texts))
	for _, item := range resp.Data {
		if item.Index < 0 || item.Index >= len(embeddings) {
			return nil, fmt.Errorf("embedding index %d out of range", item.Index)
		}
		if e.dimensions > 0 && len(item.Embedding) != e.dimensions {
			return nil, fmt.Errorf("embedding %d has dimension %d, expected %d", item.Index, len(item.Embedding), e.dimensions)
		}
		embeddings[item.Index] = item.Embedding
	}
	for i, emb := range embeddings {
		if emb == nil {
			return nil, fmt.Errorf("embedding %d missing from response", i)
		}
	}

	return embeddings, nil
}

// ErrEncoderClosed is returned by an IsolatedEncoder after Close.
var ErrEncoderClosed = errors.New("encoder closed")

// IsolatedEncoder bounds concurrent calls into an inner encoder and lets callers
// give up on a slow encode when their context ends. An abandoned call keeps its
// slot until the inner encoder returns.
type IsolatedEncoder struct {
	inner     Encoder
	sem       *semaphore.Weighted
	closed    chan struct{}
	closeOnce sync.Once
}

// NewIsolatedEncoder wraps inner, allowing at most maxConcurrent Encode calls at once.
func NewIsolatedEncoder(inner Encoder, maxConcurrent int) *IsolatedEncoder {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &IsolatedEncoder{
		inner:  inner,
		sem:    semaphore.NewWeighted(int64(maxConcurrent)),
		closed: make(chan struct{}),
	}
}

func (e *IsolatedEncoder) ModelName() string    { return e.inner.ModelName() }
func (e *IsolatedEncoder) ModelVersion() string { return e.inner.ModelVersion() }
func (e *IsolatedEncoder) Dimensions() int      { return e.inner.Dimensions() }
func (e *IsolatedEncoder) BatchSize() int       { return e.inner.BatchSize() }

type encodeResult struct {
	vectors [][]float32
	err     error
}

// Encode runs the inner encoder off the caller's goroutine.
func (e *IsolatedEncoder) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	select {
	case <-e.closed:
		return nil, ErrEncoderClosed
	default:
	}

	if err := e.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("failed to acquire encoder slot: %w", err)
	}

	done := make(chan encodeResult, 1)
	go func() {
		defer e.sem.Release(1)
		vectors, err := e.inner.Encode(ctx, texts)
		done <- encodeResult{vectors: vectors, err: err}
	}()

	select {
	case res := <-done:
		return res.vectors, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops accepting new calls and closes the inner encoder.
func (e *IsolatedEncoder) Close() error {
	var err error
	e.closeOnce.Do(func() {
		close(e.closed)
		err = e.inner.Close()
	})
	return err
}
