package analyzer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"
)

// DefaultModelName is the default Gemini model used for extraction.
const DefaultModelName = "gemini-2.5-flash"

// Model turns a prompt, and optionally the PDF itself, into raw model text.
// This interface enables mocking of the generative backend.
type Model interface {
	Generate(ctx context.Context, apiKey, prompt string, pdf []byte) (string, error)
}

// GeminiConfig selects the Gemini backend. When VertexProject is set the
// Vertex AI backend with Application Default Credentials is used and no API
// key is needed.
type GeminiConfig struct {
	ModelName      string
	VertexProject  string
	VertexLocation string
	Timeout        time.Duration
}

// GeminiModel implements Model with google.golang.org/genai.
type GeminiModel struct {
	cfg GeminiConfig
}

// NewGeminiModel creates a Gemini-backed Model.
func NewGeminiModel(cfg GeminiConfig) *GeminiModel {
	if cfg.ModelName == "" {
		cfg.ModelName = DefaultModelName
	}
	return &GeminiModel{cfg: cfg}
}

// NeedsAPIKey reports whether calls require an API key.
func (m *GeminiModel) NeedsAPIKey() bool {
	return m.cfg.VertexProject == ""
}

// Generate sends the prompt and, when pdf is non-empty, the PDF as inline data.
func (m *GeminiModel) Generate(ctx context.Context, apiKey, prompt string, pdf []byte) (string, error) {
	if m.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.Timeout)
		defer cancel()
	}

	cc := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if !m.NeedsAPIKey() {
		cc = &genai.ClientConfig{
			Project:  m.cfg.VertexProject,
			Location: m.cfg.VertexLocation,
			Backend:  genai.BackendVertexAI,
		}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return "", fmt.Errorf("Generate: create genai client: %w", err)
	}

	parts := []*genai.Part{{Text: prompt}}
	if len(pdf) > 0 {
		parts = append(parts, &genai.Part{
			InlineData: &genai.Blob{
				MIMEType: "application/pdf",
				Data:     pdf,
			},
		})
	}
	contents := []*genai.Content{{Role: "user", Parts: parts}}

	resp, err := client.Models.GenerateContent(ctx, m.cfg.ModelName, contents, &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	})
	if err != nil {
		return "", fmt.Errorf("Generate: generate content: %w", err)
	}

	rawText := resp.Text()
	if rawText == "" {
		return "", fmt.Errorf("Generate: empty response from model")
	}
	return rawText, nil
}

// cleanModelJSON strips Markdown fences and any text around the JSON value.
func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)

	// Handle ```json ... ``` or ``` ... ``` wrappers.
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		} else {
			return s
		}
		s = strings.TrimSpace(s)
	}
	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}
	s = strings.TrimSpace(s)

	// Keep the outermost object, or array when it opens first.
	open, closing := "{", "}"
	if arr := strings.Index(s, "["); arr != -1 {
		if obj := strings.Index(s, "{"); obj == -1 || arr < obj {
			open, closing = "[", "]"
		}
	}
	if start := strings.Index(s, open); start != -1 {
		if end := strings.LastIndex(s, closing); end != -1 && end > start {
			s = strings.TrimSpace(s[start : end+1])
		}
	}
	return s
}
