package services

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"rag-engine/internal/models"
)

// ============================================================================
// Test Helpers
// ============================================================================

func setupParserServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *ParserClient) {
	server := httptest.NewServer(handler)
	client := NewParserClient(server.URL)
	return server, client
}

// ============================================================================
// Parse Tests
// ============================================================================

func TestParsePDF(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/parse/pdf" {
			t.Errorf("Expected path /parse/pdf, got %s", r.URL.Path)
		}
		if r.Method != "POST" {
			t.Errorf("Expected POST, got %s", r.Method)
		}

		if err := r.ParseMultipartForm(32 << 20); err != nil {
			t.Fatalf("Failed to parse multipart form: %v", err)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("Expected file part: %v", err)
		}
		defer file.Close()
		if header.Filename != "report.pdf" {
			t.Errorf("Expected filename report.pdf, got %s", header.Filename)
		}
		data, _ := io.ReadAll(file)
		if string(data) != "%PDF-fake" {
			t.Errorf("File bytes did not survive upload: %q", data)
		}

		response := PDFParseResponse{
			Pages: []PDFPage{
				{Number: 1, Text: "first page"},
				{Number: 2, Text: "second page"},
			},
			TotalPages: 2,
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(response)
	}

	server, client := setupParserServer(t, handler)
	defer server.Close()

	result, err := client.ParsePDF(context.Background(), []byte("%PDF-fake"), "report.pdf")
	if err != nil {
		t.Fatalf("ParsePDF failed: %v", err)
	}

	if result.TotalPages != 2 {
		t.Errorf("Expected 2 pages, got %d", result.TotalPages)
	}
	if result.Pages[0].Text != "first page" {
		t.Errorf("Expected 'first page', got %s", result.Pages[0].Text)
	}
}

func TestParseDOCX(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/parse/docx" {
			t.Errorf("Expected path /parse/docx, got %s", r.URL.Path)
		}

		response := DOCXParseResponse{
			Paragraphs: []DOCXParagraph{
				{Text: "Introduction", Style: "Heading 1"},
				{Text: "Body text.", Style: "Normal"},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(response)
	}

	server, client := setupParserServer(t, handler)
	defer server.Close()

	result, err := client.ParseDOCX(context.Background(), []byte("docx-bytes"), "doc.docx")
	if err != nil {
		t.Fatalf("ParseDOCX failed: %v", err)
	}

	if len(result.Paragraphs) != 2 {
		t.Fatalf("Expected 2 paragraphs, got %d", len(result.Paragraphs))
	}
	if result.Paragraphs[0].Style != "Heading 1" {
		t.Errorf("Expected style 'Heading 1', got %s", result.Paragraphs[0].Style)
	}
}

func TestParseXLSX(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/parse/xlsx" {
			t.Errorf("Expected path /parse/xlsx, got %s", r.URL.Path)
		}

		response := XLSXParseResponse{
			Sheets: []XLSXSheet{
				{Number: 1, Name: "Q1", Rows: [][]string{{"item", "amount"}, {"widgets", "42"}}},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(response)
	}

	server, client := setupParserServer(t, handler)
	defer server.Close()

	result, err := client.ParseXLSX(context.Background(), []byte("xlsx-bytes"), "book.xlsx")
	if err != nil {
		t.Fatalf("ParseXLSX failed: %v", err)
	}

	if len(result.Sheets) != 1 {
		t.Fatalf("Expected 1 sheet, got %d", len(result.Sheets))
	}
	if result.Sheets[0].Name != "Q1" {
		t.Errorf("Expected sheet Q1, got %s", result.Sheets[0].Name)
	}
	if len(result.Sheets[0].Rows) != 2 {
		t.Errorf("Expected 2 rows, got %d", len(result.Sheets[0].Rows))
	}
}

func TestRenderPages(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/render/pages" {
			t.Errorf("Expected path /render/pages, got %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			t.Fatalf("Failed to parse multipart form: %v", err)
		}
		if got := r.FormValue("max_pages"); got != "10" {
			t.Errorf("Expected max_pages=10, got %s", got)
		}

		response := RenderResponse{
			Pages: []RenderedPage{
				{Page: 1, Width: 800, Height: 1100, Format: "png", Data: []byte{1, 2, 3}},
			},
			TotalPages: 1,
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(response)
	}

	server, client := setupParserServer(t, handler)
	defer server.Close()

	result, err := client.RenderPages(context.Background(), []byte("pdf-bytes"), "slides.pdf", 10)
	if err != nil {
		t.Fatalf("RenderPages failed: %v", err)
	}

	if len(result.Pages) != 1 {
		t.Fatalf("Expected 1 rendered page, got %d", len(result.Pages))
	}
	if result.Pages[0].Width != 800 {
		t.Errorf("Expected width 800, got %d", result.Pages[0].Width)
	}
}

// ============================================================================
// Error Handling Tests
// ============================================================================

func TestParserRetryLogic(t *testing.T) {
	attempts := 0
	handler := func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		response := PDFParseResponse{Pages: []PDFPage{{Number: 1, Text: "ok"}}, TotalPages: 1}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(response)
	}

	server, client := setupParserServer(t, handler)
	defer server.Close()

	result, err := client.ParsePDF(context.Background(), []byte("x"), "x.pdf")
	if err != nil {
		t.Fatalf("Expected success after retry, got error: %v", err)
	}

	if result.Pages[0].Text != "ok" {
		t.Errorf("Expected 'ok', got %s", result.Pages[0].Text)
	}
	if attempts != 2 {
		t.Errorf("Expected 2 attempts, got %d", attempts)
	}
}

func TestParserClientError4xxNotRetried(t *testing.T) {
	attempts := 0
	handler := func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"error": "corrupt file"}`))
	}

	server, client := setupParserServer(t, handler)
	defer server.Close()

	_, err := client.ParsePDF(context.Background(), []byte("x"), "x.pdf")
	if err == nil {
		t.Fatal("Expected error for 422 response")
	}
	if !models.IsUpstream(err) {
		t.Errorf("Expected upstream error, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt for client error, got %d", attempts)
	}
}

func TestParserContextCancellation(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}

	server, client := setupParserServer(t, handler)
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := client.ParsePDF(ctx, []byte("x"), "x.pdf")
	if err == nil {
		t.Fatal("Expected context deadline exceeded error")
	}
}

// ============================================================================
// Health Check Tests
// ============================================================================

func TestParserHealthCheck(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Errorf("Expected path /health, got %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	}

	server, client := setupParserServer(t, handler)
	defer server.Close()

	healthy, err := client.HealthCheck(context.Background())
	if err != nil {
		t.Fatalf("HealthCheck failed: %v", err)
	}
	if !healthy {
		t.Error("Expected sidecar to be healthy")
	}
}

// ============================================================================
// Custom Client Configuration Tests
// ============================================================================

func TestNewParserClientWithOptions(t *testing.T) {
	client := NewParserClientWithOptions("http://localhost:8100", 30*time.Second, 5)

	if client.baseURL != "http://localhost:8100" {
		t.Errorf("Expected baseURL http://localhost:8100, got %s", client.baseURL)
	}
	if client.retries != 5 {
		t.Errorf("Expected 5 retries, got %d", client.retries)
	}
	if client.httpClient.Timeout != 30*time.Second {
		t.Errorf("Expected 30s timeout, got %v", client.httpClient.Timeout)
	}
}
