package analyzer

import (
	"context"
	"fmt"
	"strings"
	"time"

	documentai "cloud.google.com/go/documentai/apiv1"
	"cloud.google.com/go/documentai/apiv1/documentaipb"
	"google.golang.org/api/option"
)

// OCR extracts text from a scanned PDF.
// This interface enables mocking of the OCR backend.
type OCR interface {
	Text(ctx context.Context, pdf []byte) (string, error)
}

// DocumentAIConfig names the Document AI processor used for OCR.
type DocumentAIConfig struct {
	Project   string
	Location  string
	Processor string
	Timeout   time.Duration
}

// DocumentAIOCR implements OCR with a Document AI OCR processor.
type DocumentAIOCR struct {
	client *documentai.DocumentProcessorClient
	name   string
	cfg    DocumentAIConfig
}

// NewDocumentAIOCR creates a Document AI client for the regional endpoint.
func NewDocumentAIOCR(ctx context.Context, cfg DocumentAIConfig) (*DocumentAIOCR, error) {
	if cfg.Location == "" {
		cfg.Location = "eu"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Minute
	}
	endpoint := fmt.Sprintf("%s-documentai.googleapis.com:443", cfg.Location)

	c, err := documentai.NewDocumentProcessorClient(ctx, option.WithEndpoint(endpoint))
	if err != nil {
		return nil, fmt.Errorf("NewDocumentAIOCR: documentai client: %w", err)
	}
	return &DocumentAIOCR{
		client: c,
		name:   fmt.Sprintf("projects/%s/locations/%s/processors/%s", cfg.Project, cfg.Location, cfg.Processor),
		cfg:    cfg,
	}, nil
}

// Close releases the client.
func (o *DocumentAIOCR) Close() error {
	return o.client.Close()
}

// Text runs the processor on pdf and returns the document text.
func (o *DocumentAIOCR) Text(ctx context.Context, pdf []byte) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()

	resp, err := o.client.ProcessDocument(ctx, &documentaipb.ProcessRequest{
		Name: o.name,
		Source: &documentaipb.ProcessRequest_RawDocument{
			RawDocument: &documentaipb.RawDocument{
				Content:  pdf,
				MimeType: "application/pdf",
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("Text: documentai ProcessDocument: %w", err)
	}

	text := strings.TrimSpace(resp.GetDocument().GetText())
	if text == "" {
		return "", fmt.Errorf("Text: OCR result was empty")
	}
	return text, nil
}

// textWithRetry calls ocr up to attempts times, waiting delay in between.
func textWithRetry(ctx context.Context, ocr OCR, pdf []byte, attempts int, delay time.Duration) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		text, err := ocr.Text(ctx, pdf)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if attempt < attempts {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
	}
	return "", fmt.Errorf("OCR failed after %d attempts: %w", attempts, lastErr)
}
