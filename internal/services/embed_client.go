package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"rag-engine/internal/models"
)

// DefaultEmbeddingDimension is the vector width of the default dense model.
const DefaultEmbeddingDimension = 1536

// EmbedClientInterface defines the contract to the embedding API.
type EmbedClientInterface interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	EmbedTokens(ctx context.Context, text string) ([][]float32, error)
	EmbedPages(ctx context.Context, images [][]byte) ([][][]float32, error)
	Dimension() int
	HealthCheck(ctx context.Context) (bool, error)
}

// EmbedClient talks to the embedding API over HTTP. All calls pass through a
// circuit breaker so a dead upstream fails fast instead of stacking retries.
type EmbedClient struct {
	baseURL    string
	model      string
	dimension  int
	httpClient *http.Client
	retries    int
	breaker    *gobreaker.CircuitBreaker
}

// NewEmbedClient creates an embed client with default settings.
func NewEmbedClient(baseURL string) *EmbedClient {
	return NewEmbedClientWithOptions(baseURL, "", 60*time.Second, 3)
}

// NewEmbedClientWithOptions creates an embed client with custom settings. An
// empty model selects the upstream default.
func NewEmbedClientWithOptions(baseURL, model string, timeout time.Duration, retries int) *EmbedClient {
	return &EmbedClient{
		baseURL:   baseURL,
		model:     model,
		dimension: DefaultEmbeddingDimension,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		retries: retries,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "embedding-api",
			MaxRequests: 3,
			Interval:    60 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
}

// Dimension reports the vector width this client's model produces.
func (c *EmbedClient) Dimension() int {
	return c.dimension
}

// ============================================================================
// Request/Response Models
// ============================================================================

type embedBatchRequest struct {
	Texts []string `json:"texts"`
	Model string   `json:"model,omitempty"`
}

type embedBatchResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	Model      string      `json:"model"`
	Dimension  int         `json:"dimension"`
}

type embedQueryRequest struct {
	Query string `json:"query"`
	Model string `json:"model,omitempty"`
}

type embedQueryResponse struct {
	Embedding []float32 `json:"embedding"`
	Model     string    `json:"model"`
	Dimension int       `json:"dimension"`
}

type embedTokensResponse struct {
	Tokens [][]float32 `json:"tokens"`
	Model  string      `json:"model"`
}

type embedPagesRequest struct {
	Images []string `json:"images"`
	Model  string   `json:"model,omitempty"`
}

type embedPagesResponse struct {
	Pages [][][]float32 `json:"pages"`
	Model string        `json:"model"`
}

// ============================================================================
// Embed Methods
// ============================================================================

// EmbedBatch embeds every text in one upstream call, preserving input order.
func (c *EmbedClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	req := &embedBatchRequest{Texts: texts, Model: c.model}
	var result embedBatchResponse
	if err := c.post(ctx, "/embed/batch", req, &result); err != nil {
		return nil, err
	}
	if len(result.Embeddings) != len(texts) {
		return nil, models.NewUpstreamError("embedding api", "/embed/batch",
			fmt.Errorf("got %d embeddings for %d texts", len(result.Embeddings), len(texts)))
	}
	return result.Embeddings, nil
}

// EmbedQuery embeds a single search query.
func (c *EmbedClient) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	req := &embedQueryRequest{Query: text, Model: c.model}
	var result embedQueryResponse
	if err := c.post(ctx, "/embed/query", req, &result); err != nil {
		return nil, err
	}
	return result.Embedding, nil
}

// EmbedTokens embeds a query into per-token vectors for late-interaction
// scoring.
func (c *EmbedClient) EmbedTokens(ctx context.Context, text string) ([][]float32, error) {
	req := &embedQueryRequest{Query: text, Model: c.model}
	var result embedTokensResponse
	if err := c.post(ctx, "/embed/tokens", req, &result); err != nil {
		return nil, err
	}
	return result.Tokens, nil
}

// EmbedPages embeds rendered page images into per-page multi-vector grids.
// Images travel base64-encoded; the answer keeps input order.
func (c *EmbedClient) EmbedPages(ctx context.Context, images [][]byte) ([][][]float32, error) {
	if len(images) == 0 {
		return [][][]float32{}, nil
	}

	encoded := make([]string, len(images))
	for i, img := range images {
		encoded[i] = base64.StdEncoding.EncodeToString(img)
	}

	req := &embedPagesRequest{Images: encoded, Model: c.model}
	var result embedPagesResponse
	if err := c.post(ctx, "/embed/pages", req, &result); err != nil {
		return nil, err
	}
	if len(result.Pages) != len(images) {
		return nil, models.NewUpstreamError("embedding api", "/embed/pages",
			fmt.Errorf("got %d page grids for %d images", len(result.Pages), len(images)))
	}
	return result.Pages, nil
}

// HealthCheck reports whether the embedding API answers. It bypasses the
// breaker so probes keep working while the breaker is open.
func (c *EmbedClient) HealthCheck(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK, nil
}

// ============================================================================
// HTTP Helpers
// ============================================================================

// post runs a JSON request through the circuit breaker with retry on server
// errors. Breaker-open turns into an upstream error immediately.
func (c *EmbedClient) post(ctx context.Context, endpoint string, body, result interface{}) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.doRequest(ctx, endpoint, body, result)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return models.NewUpstreamError("embedding api", endpoint, err)
	}
	return err
}

// doRequest performs the HTTP round trip with exponential backoff, retrying
// only transport failures and 5xx answers.
func (c *EmbedClient) doRequest(ctx context.Context, endpoint string, body, result interface{}) error {
	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt*attempt) * time.Second
			select {
			case <-ctx.Done():
				return models.NewUpstreamError("embedding api", endpoint, ctx.Err())
			case <-time.After(backoff):
			}
		}

		resp, err := c.makeRequest(ctx, endpoint, body)
		if err == nil && resp.StatusCode < 500 {
			return decodeSidecarResponse(resp, "embedding api", endpoint, result)
		}

		lastErr = err
		if resp != nil {
			resp.Body.Close()
			lastErr = fmt.Errorf("HTTP %d", resp.StatusCode)
		}
	}

	return models.NewUpstreamError("embedding api", endpoint,
		fmt.Errorf("failed after %d retries: %w", c.retries, lastErr))
}

// makeRequest creates and executes one HTTP request.
func (c *EmbedClient) makeRequest(ctx context.Context, endpoint string, body interface{}) (*http.Response, error) {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request body: %w", err)
	}

	var bodyReader io.Reader = bytes.NewReader(jsonData)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	return c.httpClient.Do(req)
}
