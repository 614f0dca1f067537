package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"rag-engine/internal/models"
)

const (
	DefaultVisionBaseURL = "http://localhost:1234/v1"
	DefaultVisionModel   = "qwen2.5-vl-7b-instruct"
)

const visionSystemPrompt = `You transcribe document page images for a search index. Respond with a single JSON object and nothing else, using exactly these keys: "type" (one of Page, Chart, Table, Diagram, Form, Image), "title" (a short descriptive title), "transcription" (all legible text and a faithful description of any figures). Do not wrap the JSON in markdown fences.`

// VisualDescription is the vision model's reading of one page image.
type VisualDescription struct {
	Type          string `json:"type"`
	Title         string `json:"title"`
	Transcription string `json:"transcription"`
}

// VisionServiceInterface defines the contract to the vision model endpoint.
type VisionServiceInterface interface {
	DescribeImage(ctx context.Context, imageData []byte, mimeType string) (*VisualDescription, error)
	HealthCheck(ctx context.Context) error
}

// visionChatRequest is the OpenAI-compatible completion request with image
// content parts.
type visionChatRequest struct {
	Model       string          `json:"model"`
	Messages    []visionMessage `json:"messages"`
	Temperature float64         `json:"temperature"`
	MaxTokens   int             `json:"max_tokens"`
	Stream      bool            `json:"stream"`
}

type visionMessage struct {
	Role    string       `json:"role"`
	Content []visionPart `json:"content"`
}

type visionPart struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL *visionImageURL `json:"image_url,omitempty"`
}

type visionImageURL struct {
	URL string `json:"url"`
}

type visionChatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// VisionService talks to an OpenAI-compatible vision model endpoint.
type VisionService struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewVisionService creates a vision service with default settings.
func NewVisionService() *VisionService {
	return NewVisionServiceWithOptions(DefaultVisionBaseURL, DefaultVisionModel)
}

// NewVisionServiceWithOptions creates a vision service against a custom
// endpoint and model.
func NewVisionServiceWithOptions(baseURL, model string) *VisionService {
	if baseURL == "" {
		baseURL = DefaultVisionBaseURL
	}
	if model == "" {
		model = DefaultVisionModel
	}
	return &VisionService{
		baseURL: baseURL,
		model:   model,
		httpClient: &http.Client{
			Timeout: 120 * time.Second, // vision models can be slow
		},
	}
}

// DescribeImage asks the vision model for a typed transcription of the page
// image. A reply that is not clean JSON still yields a usable description
// with the raw text as the transcription.
func (s *VisionService) DescribeImage(ctx context.Context, imageData []byte, mimeType string) (*VisualDescription, error) {
	dataURL := fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(imageData))

	request := visionChatRequest{
		Model: s.model,
		Messages: []visionMessage{
			{
				Role:    "system",
				Content: []visionPart{{Type: "text", Text: visionSystemPrompt}},
			},
			{
				Role: "user",
				Content: []visionPart{
					{Type: "image_url", ImageURL: &visionImageURL{URL: dataURL}},
					{Type: "text", Text: "Transcribe this page."},
				},
			},
		},
		Temperature: 0.1,
		MaxTokens:   2048,
		Stream:      false,
	}

	jsonBody, err := json.Marshal(request)
	if err != nil {
		return nil, models.NewUpstreamError("vision api", "chat/completions", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/chat/completions", bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, models.NewUpstreamError("vision api", "chat/completions", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, models.NewUpstreamError("vision api", "chat/completions", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, models.NewUpstreamError("vision api", "chat/completions", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, models.NewUpstreamError("vision api", "chat/completions",
			fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body)))
	}

	var chatResp visionChatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return nil, models.NewUpstreamError("vision api", "chat/completions",
			fmt.Errorf("decode response: %w", err))
	}
	if len(chatResp.Choices) == 0 {
		return nil, models.NewUpstreamError("vision api", "chat/completions",
			fmt.Errorf("no choices in response"))
	}

	return parseDescription(chatResp.Choices[0].Message.Content), nil
}

// parseDescription reads the model's JSON reply, tolerating markdown fences
// and free-form answers.
func parseDescription(content string) *VisualDescription {
	trimmed := strings.TrimSpace(content)
	if fenced := strings.TrimPrefix(trimmed, "```json"); fenced != trimmed {
		trimmed = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(fenced), "```"))
	} else if fenced := strings.TrimPrefix(trimmed, "```"); fenced != trimmed {
		trimmed = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(fenced), "```"))
	}

	var desc VisualDescription
	if err := json.Unmarshal([]byte(trimmed), &desc); err == nil && desc.Transcription != "" {
		if desc.Type == "" {
			desc.Type = "Page"
		}
		if desc.Title == "" {
			desc.Title = "Untitled"
		}
		return &desc
	}

	return &VisualDescription{
		Type:          "Page",
		Title:         "Untitled",
		Transcription: trimmed,
	}
}

// HealthCheck verifies the vision endpoint is up and has a model loaded.
func (s *VisionService) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/models", nil)
	if err != nil {
		return err
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return models.NewUpstreamError("vision api", "models", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return models.NewUpstreamError("vision api", "models",
			fmt.Errorf("HTTP %d", resp.StatusCode))
	}
	return nil
}
