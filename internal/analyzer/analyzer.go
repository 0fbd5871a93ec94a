// Package analyzer extracts line items from order and invoice PDFs with a
// generative model, falling back to OCR text for scanned documents.
package analyzer

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/order-intake/internal/domain"
	"github.com/dvloznov/order-intake/internal/gcs"
)

// Defaults for the OCR fallback.
const (
	DefaultOCRAttempts = 2
	DefaultOCRDelay    = 1500 * time.Millisecond
)

// ErrEmptyAPIKey is returned when no API key is stored.
var ErrEmptyAPIKey = errors.New("API key is empty. Enter it in the settings.")

// APIKeySource provides the model API key.
type APIKeySource interface {
	GetAPIKey() string
}

// CorrectionSource provides the learned product corrections.
type CorrectionSource interface {
	Map(ctx context.Context) (map[string]string, error)
}

// Options wires the analyzer's collaborators. Only Model is required. A
// negative OCRDelay retries OCR without waiting.
type Options struct {
	Model       Model
	OCR         OCR
	Storage     gcs.Storage
	Corrections CorrectionSource
	Keys        APIKeySource
	OCRAttempts int
	OCRDelay    time.Duration
	Logger      zerolog.Logger
}

// Analyzer runs the five-step extraction pipeline for one document.
type Analyzer struct {
	pipeline *Pipeline
	model    Model
	keys     APIKeySource
	log      zerolog.Logger
}

// New creates an Analyzer.
func New(opts Options) *Analyzer {
	if opts.OCRAttempts <= 0 {
		opts.OCRAttempts = DefaultOCRAttempts
	}
	switch {
	case opts.OCRDelay == 0:
		opts.OCRDelay = DefaultOCRDelay
	case opts.OCRDelay < 0:
		opts.OCRDelay = 0
	}
	return &Analyzer{
		pipeline: NewPipeline(
			&LoadDocumentStep{Storage: opts.Storage},
			&ModelStep{Model: opts.Model},
			&OCRFallbackStep{
				OCR:      opts.OCR,
				Model:    opts.Model,
				Attempts: opts.OCRAttempts,
				Delay:    opts.OCRDelay,
				Logger:   opts.Logger,
			},
			&NormalizeStep{},
			&ApplyCorrectionsStep{Corrections: opts.Corrections, Logger: opts.Logger},
		),
		model: opts.Model,
		keys:  opts.Keys,
		log:   opts.Logger,
	}
}

// Analyze extracts the line items of the document at path.
func (a *Analyzer) Analyze(ctx context.Context, path string, docType domain.DocType) (*domain.AnalysisResult, error) {
	state := &State{Path: path, DocType: docType}

	if a.keys != nil {
		state.APIKey = strings.TrimSpace(a.keys.GetAPIKey())
	}
	if state.APIKey == "" && a.needsKey() {
		return nil, ErrEmptyAPIKey
	}

	start := time.Now()
	if err := a.pipeline.Execute(ctx, state); err != nil {
		a.log.Warn().Err(err).Str("path", path).Msg("Analysis failed")
		return nil, err
	}

	a.log.Debug().
		Str("path", path).
		Str("doc_type", string(docType)).
		Int("items", len(state.Result.Items)).
		Bool("ocr", state.UsedOCR).
		Dur("elapsed", time.Since(start)).
		Msg("Document analyzed")
	return state.Result, nil
}

func (a *Analyzer) needsKey() bool {
	if k, ok := a.model.(interface{ NeedsAPIKey() bool }); ok {
		return k.NeedsAPIKey()
	}
	return true
}
