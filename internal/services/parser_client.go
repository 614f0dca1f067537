package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"rag-engine/internal/models"
)

// ParserClientInterface defines the contract to the extraction sidecar. The
// sidecar only decodes formats; every chunking decision stays in this
// process.
type ParserClientInterface interface {
	ParsePDF(ctx context.Context, fileData []byte, filename string) (*PDFParseResponse, error)
	ParseDOCX(ctx context.Context, fileData []byte, filename string) (*DOCXParseResponse, error)
	ParseXLSX(ctx context.Context, fileData []byte, filename string) (*XLSXParseResponse, error)
	RenderPages(ctx context.Context, fileData []byte, filename string, maxPages int) (*RenderResponse, error)
	HealthCheck(ctx context.Context) (bool, error)
}

// ParserClient talks to the extraction sidecar over HTTP.
type ParserClient struct {
	baseURL    string
	httpClient *http.Client
	retries    int
}

// NewParserClient creates a parser client with default settings.
func NewParserClient(baseURL string) *ParserClient {
	return NewParserClientWithOptions(baseURL, 120*time.Second, 3)
}

// NewParserClientWithOptions creates a parser client with custom settings.
func NewParserClientWithOptions(baseURL string, timeout time.Duration, retries int) *ParserClient {
	return &ParserClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		retries: retries,
	}
}

// ============================================================================
// Response Models
// ============================================================================

// PDFPage is the extracted text of one PDF page.
type PDFPage struct {
	Number int    `json:"number"`
	Text   string `json:"text"`
}

// PDFParseResponse is the sidecar's answer for a PDF document.
type PDFParseResponse struct {
	Pages      []PDFPage `json:"pages"`
	TotalPages int       `json:"total_pages"`
}

// DOCXParagraph is one paragraph with its style name, used to track section
// headings.
type DOCXParagraph struct {
	Text  string `json:"text"`
	Style string `json:"style"`
}

// DOCXParseResponse is the sidecar's answer for a DOCX document.
type DOCXParseResponse struct {
	Paragraphs []DOCXParagraph `json:"paragraphs"`
}

// XLSXSheet is one sheet with its rows flattened to cell strings.
type XLSXSheet struct {
	Number int        `json:"number"`
	Name   string     `json:"name"`
	Rows   [][]string `json:"rows"`
}

// XLSXParseResponse is the sidecar's answer for a spreadsheet.
type XLSXParseResponse struct {
	Sheets []XLSXSheet `json:"sheets"`
}

// RenderedPage is one page rendered to an image, plus any alt text the
// source format carried for it.
type RenderedPage struct {
	Page    int    `json:"page"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	Format  string `json:"format"`
	Data    []byte `json:"data"`
	AltText string `json:"alt_text,omitempty"`
}

// RenderResponse is the sidecar's answer for page rendering.
type RenderResponse struct {
	Pages      []RenderedPage `json:"pages"`
	TotalPages int            `json:"total_pages"`
}

// ============================================================================
// Parse Methods
// ============================================================================

// ParsePDF extracts per-page text from a PDF.
func (c *ParserClient) ParsePDF(ctx context.Context, fileData []byte, filename string) (*PDFParseResponse, error) {
	var result PDFParseResponse
	if err := c.uploadFile(ctx, "/parse/pdf", fileData, filename, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ParseDOCX extracts styled paragraphs from a DOCX.
func (c *ParserClient) ParseDOCX(ctx context.Context, fileData []byte, filename string) (*DOCXParseResponse, error) {
	var result DOCXParseResponse
	if err := c.uploadFile(ctx, "/parse/docx", fileData, filename, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ParseXLSX extracts sheets and rows from a spreadsheet.
func (c *ParserClient) ParseXLSX(ctx context.Context, fileData []byte, filename string) (*XLSXParseResponse, error) {
	var result XLSXParseResponse
	if err := c.uploadFile(ctx, "/parse/xlsx", fileData, filename, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// RenderPages renders document pages to images for the visual lane.
func (c *ParserClient) RenderPages(ctx context.Context, fileData []byte, filename string, maxPages int) (*RenderResponse, error) {
	fields := map[string]string{
		"max_pages": fmt.Sprintf("%d", maxPages),
	}
	var result RenderResponse
	if err := c.uploadFile(ctx, "/render/pages", fileData, filename, fields, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// HealthCheck reports whether the sidecar answers its health endpoint.
func (c *ParserClient) HealthCheck(ctx context.Context) (bool, error) {
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

// uploadFile posts a multipart form with the file and optional extra fields,
// retrying server errors with exponential backoff. The form is rebuilt per
// attempt because the request body gets consumed.
func (c *ParserClient) uploadFile(ctx context.Context, endpoint string, fileData []byte, filename string, fields map[string]string, result interface{}) error {
	url := c.baseURL + endpoint

	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt*attempt) * time.Second
			select {
			case <-ctx.Done():
				return models.NewUpstreamError("parser sidecar", endpoint, ctx.Err())
			case <-time.After(backoff):
			}
		}

		body := &bytes.Buffer{}
		writer := multipart.NewWriter(body)

		part, err := writer.CreateFormFile("file", filename)
		if err != nil {
			return models.NewUpstreamError("parser sidecar", endpoint, err)
		}
		if _, err := io.Copy(part, bytes.NewReader(fileData)); err != nil {
			return models.NewUpstreamError("parser sidecar", endpoint, err)
		}
		for key, value := range fields {
			if err := writer.WriteField(key, value); err != nil {
				return models.NewUpstreamError("parser sidecar", endpoint, err)
			}
		}
		if err := writer.Close(); err != nil {
			return models.NewUpstreamError("parser sidecar", endpoint, err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
		if err != nil {
			return models.NewUpstreamError("parser sidecar", endpoint, err)
		}
		req.Header.Set("Content-Type", writer.FormDataContentType())
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode < 500 {
			return decodeSidecarResponse(resp, "parser sidecar", endpoint, result)
		}
		resp.Body.Close()
		lastErr = fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	return models.NewUpstreamError("parser sidecar", endpoint,
		fmt.Errorf("failed after %d retries: %w", c.retries, lastErr))
}

// decodeSidecarResponse reads a JSON body, mapping non-2xx answers onto the
// error taxonomy.
func decodeSidecarResponse(resp *http.Response, system, endpoint string, result interface{}) error {
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return models.NewUpstreamError(system, endpoint,
			fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(bodyBytes)))
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return models.NewUpstreamError(system, endpoint,
			fmt.Errorf("decode response: %w", err))
	}
	return nil
}
