package analyzer

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/order-intake/internal/domain"
	"github.com/dvloznov/order-intake/internal/gcs"
)

// Step represents a single step in the analysis pipeline.
type Step interface {
	Execute(ctx context.Context, state *State) error
}

// State holds the shared state across all analysis steps.
type State struct {
	Path    string
	DocType domain.DocType
	APIKey  string
	PDF     []byte
	Raw     map[string]interface{}
	UsedOCR bool
	Result  *domain.AnalysisResult
}

// Step 1: LoadDocumentStep reads the PDF from disk or from a gs:// URI.
type LoadDocumentStep struct {
	Storage gcs.Storage
}

func (s *LoadDocumentStep) Execute(ctx context.Context, state *State) error {
	if gcs.IsURI(state.Path) {
		if s.Storage == nil {
			return fmt.Errorf("LoadDocumentStep: no storage configured for %s", state.Path)
		}
		data, err := s.Storage.Fetch(ctx, state.Path)
		if err != nil {
			return fmt.Errorf("LoadDocumentStep: %w", err)
		}
		state.PDF = data
		return nil
	}

	data, err := os.ReadFile(state.Path)
	if err != nil {
		return fmt.Errorf("LoadDocumentStep: cannot read the file: %w", err)
	}
	state.PDF = data
	return nil
}

// Step 2: ModelStep sends the PDF with the doc-type prompt to the model.
type ModelStep struct {
	Model Model
}

func (s *ModelStep) Execute(ctx context.Context, state *State) error {
	prompt := buildPrompt(state.DocType, layoutPDF, "")
	raw, err := s.Model.Generate(ctx, state.APIKey, prompt, state.PDF)
	if err != nil {
		return fmt.Errorf("ModelStep: %w", err)
	}
	parsed, err := parseModelOutput(raw)
	if err != nil {
		return fmt.Errorf("ModelStep: %w", err)
	}
	state.Raw = uppercaseStrings(parsed).(map[string]interface{})
	return nil
}

// Step 3: OCRFallbackStep retries extraction on OCR text when the model found
// no items. OCR or retry failures keep the first answer.
type OCRFallbackStep struct {
	OCR      OCR
	Model    Model
	Attempts int
	Delay    time.Duration
	Logger   zerolog.Logger
}

func (s *OCRFallbackStep) Execute(ctx context.Context, state *State) error {
	if s.OCR == nil || hasItems(state.Raw) {
		return nil
	}

	text, err := textWithRetry(ctx, s.OCR, state.PDF, s.Attempts, s.Delay)
	if err != nil {
		s.Logger.Warn().Err(err).Str("path", state.Path).Msg("OCR fallback failed")
		return nil
	}
	state.UsedOCR = true

	prompt := buildPrompt(state.DocType, layoutMarkdown, text)
	raw, err := s.Model.Generate(ctx, state.APIKey, prompt, nil)
	if err != nil {
		s.Logger.Warn().Err(err).Str("path", state.Path).Msg("Model retry on OCR text failed")
		return nil
	}
	parsed, err := parseModelOutput(raw)
	if err != nil {
		s.Logger.Warn().Err(err).Str("path", state.Path).Msg("Model retry on OCR text returned invalid JSON")
		return nil
	}
	state.Raw = uppercaseStrings(parsed).(map[string]interface{})
	return nil
}

// Step 4: NormalizeStep converts the raw object into an AnalysisResult.
type NormalizeStep struct{}

func (s *NormalizeStep) Execute(ctx context.Context, state *State) error {
	res, err := transformModelOutput(state.Raw)
	if err != nil {
		return fmt.Errorf("NormalizeStep: %w", err)
	}
	state.Result = res
	return nil
}

// Step 5: ApplyCorrectionsStep replaces product texts that have a learned
// correction. A failing correction source is logged and skipped.
type ApplyCorrectionsStep struct {
	Corrections CorrectionSource
	Logger      zerolog.Logger
}

func (s *ApplyCorrectionsStep) Execute(ctx context.Context, state *State) error {
	if s.Corrections == nil || state.Result == nil {
		return nil
	}
	corrections, err := s.Corrections.Map(ctx)
	if err != nil {
		s.Logger.Warn().Err(err).Msg("Failed to load corrections")
		return nil
	}
	ApplyCorrections(state.Result, corrections)
	return nil
}

// ApplyCorrections replaces every product that exactly matches a key of
// corrections.
func ApplyCorrections(res *domain.AnalysisResult, corrections map[string]string) {
	if res == nil || len(corrections) == 0 {
		return
	}
	for i := range res.Items {
		p := res.Items[i].Product
		if p == nil {
			continue
		}
		if fixed, ok := corrections[*p]; ok {
			res.Items[i].Product = domain.StringPtr(fixed)
		}
	}
}

// Pipeline executes a sequence of steps in order.
type Pipeline struct {
	steps []Step
}

// NewPipeline creates a new pipeline with the given steps.
func NewPipeline(steps ...Step) *Pipeline {
	return &Pipeline{steps: steps}
}

// Execute runs all steps in the pipeline sequentially.
func (p *Pipeline) Execute(ctx context.Context, state *State) error {
	for i, step := range p.steps {
		if err := step.Execute(ctx, state); err != nil {
			return fmt.Errorf("analysis step %d failed: %w", i+1, err)
		}
	}
	return nil
}
