package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	ierr "github.com/jsbattig/code-indexer-sub032/internal/errors"
)

// DefaultVoyageEndpoint is the VoyageAI embeddings endpoint.
const DefaultVoyageEndpoint = "https://api.voyageai.com/v1/embeddings"

// VoyageConfig configures the VoyageAI embedder.
type VoyageConfig struct {
	Endpoint   string
	APIKey     string
	Model      string
	Dimensions int
	Timeout    time.Duration
	Retry      RetryConfig
}

// VoyageEmbedder generates embeddings using the VoyageAI HTTP API.
type VoyageEmbedder struct {
	client *http.Client
	config VoyageConfig
}

var _ Embedder = (*VoyageEmbedder)(nil)

// NewVoyageEmbedder creates a VoyageAI embedder.
func NewVoyageEmbedder(cfg VoyageConfig) *VoyageEmbedder {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultVoyageEndpoint
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultRequestTimeout
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = DefaultRetryConfig()
	}
	return &VoyageEmbedder{
		client: &http.Client{},
		config: cfg,
	}
}

type voyageRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type voyageResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// Embed generates an embedding for a single text.
func (e *VoyageEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch generates embeddings for multiple texts in input order.
func (e *VoyageEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	var result [][]float32
	err := WithRetry(ctx, e.config.Retry, func() error {
		vecs, _, err := e.doEmbed(ctx, texts)
		if err != nil {
			return err
		}
		result = vecs
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// EmbedBatchWithUsage also reports the provider's token usage for the batch.
func (e *VoyageEmbedder) EmbedBatchWithUsage(ctx context.Context, texts []string) ([][]float32, int, error) {
	var result [][]float32
	var tokens int
	err := WithRetry(ctx, e.config.Retry, func() error {
		vecs, used, err := e.doEmbed(ctx, texts)
		if err != nil {
			return err
		}
		result, tokens = vecs, used
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return result, tokens, nil
}

func (e *VoyageEmbedder) doEmbed(ctx context.Context, texts []string) ([][]float32, int, error) {
	reqCtx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	body, err := json.Marshal(voyageRequest{Model: e.config.Model, Input: texts})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to encode embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, e.config.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.config.APIKey)

	resp, err := e.client.Do(req)
	if err != nil {
		if reqCtx.Err() == context.DeadlineExceeded {
			return nil, 0, ierr.New(ierr.ErrCodeProviderTimeout, "voyage request timed out", err)
		}
		return nil, 0, ierr.ProviderTransient("failed to reach voyage", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		msg := fmt.Sprintf("voyage returned %d: %s", resp.StatusCode, string(data))
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return nil, 0, ierr.ProviderTransient(msg, nil)
		}
		return nil, 0, ierr.ProviderFailed(msg, nil)
	}

	var parsed voyageResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, 0, ierr.ProviderTransient("failed to decode voyage response", err)
	}
	if len(parsed.Data) != len(texts) {
		return nil, 0, ierr.ProviderFailed(
			fmt.Sprintf("voyage returned %d embeddings for %d inputs", len(parsed.Data), len(texts)), nil)
	}

	// The API documents in-order results but indexes defensively; respect them.
	vecs := make([][]float32, len(texts))
	for _, d := range parsed.Data {
		if d.Index < 0 || d.Index >= len(vecs) {
			return nil, 0, ierr.ProviderFailed(fmt.Sprintf("voyage returned out-of-range index %d", d.Index), nil)
		}
		if e.config.Dimensions > 0 && len(d.Embedding) != e.config.Dimensions {
			return nil, 0, ierr.DimensionMismatch(e.config.Dimensions, len(d.Embedding))
		}
		vecs[d.Index] = normalizeVector(d.Embedding)
	}
	return vecs, parsed.Usage.TotalTokens, nil
}

// Dimensions returns the embedding dimension.
func (e *VoyageEmbedder) Dimensions() int { return e.config.Dimensions }

// ModelName returns the model identifier.
func (e *VoyageEmbedder) ModelName() string { return e.config.Model }

// Available reports whether the embedder is configured with credentials.
// Voyage has no cheap health endpoint; a missing key is the common failure.
func (e *VoyageEmbedder) Available(_ context.Context) bool {
	return e.config.APIKey != ""
}

// Close releases resources.
func (e *VoyageEmbedder) Close() error {
	e.client.CloseIdleConnections()
	return nil
}
