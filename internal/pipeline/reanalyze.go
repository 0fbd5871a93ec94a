package pipeline

import (
	"context"
	"fmt"

	"github.com/dvloznov/order-intake/internal/domain"
)

// ReanalyzeResult is the outcome of analyzing a single row again.
type ReanalyzeResult struct {
	// Row is the updated row, same ID as the input.
	Row domain.Record
	// Extra holds rows for the second and following line items, ID 0.
	Extra []domain.Record
	// Err is the analysis error, already written into Row.Notes.
	Err error
}

// Reanalyze runs the analyzer on one row outside of a pipeline run. On
// success the first line item is written into the row, its note is cleared,
// and further items come back as extra rows. Analysis failures and empty
// results are reported through the row note.
func Reanalyze(ctx context.Context, a Analyzer, rec domain.Record) (ReanalyzeResult, error) {
	if rec.SourcePath == "" {
		return ReanalyzeResult{}, ErrNoSourcePath
	}

	res, err := a.Analyze(ctx, rec.SourcePath, rec.DocType)
	if err != nil {
		rec.Notes = domain.StringPtr(err.Error())
		return ReanalyzeResult{Row: rec, Err: fmt.Errorf("Reanalyze: %w", err)}, nil
	}

	if res == nil || len(res.Items) == 0 {
		rec.Notes = domain.StringPtr(NoteNoDetected)
		return ReanalyzeResult{Row: rec}, nil
	}

	rows := Expand(rec, res)
	first := rows[0]
	first.Notes = nil

	extra := rows[1:]
	for k := range extra {
		extra[k].Notes = nil
		extra[k].HasWarning = false
	}
	return ReanalyzeResult{Row: first, Extra: extra}, nil
}
