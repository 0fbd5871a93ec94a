package pipeline

import (
	"github.com/dvloznov/order-intake/internal/domain"
)

// Expand turns one analyzed document into one row per line item. Row 0 keeps
// the identity of rec; the following rows drop the file reference and the
// confirmed flag, get ID 0 so the store can assign a fresh one, and keep every
// document-level field. Which per-item fields apply depends on the doc type.
// A result without items yields rec unchanged.
func Expand(rec domain.Record, res *domain.AnalysisResult) []domain.Record {
	if res == nil || len(res.Items) == 0 {
		return []domain.Record{rec}
	}

	out := make([]domain.Record, 0, len(res.Items))
	for k, item := range res.Items {
		row := rec
		if k > 0 {
			row.ID = 0
			row.DisplayName = ""
			row.SourcePath = ""
			row.Confirmed = false
		}

		row.Product = item.Product
		if rec.DocType == domain.DocTypeInvoice {
			row.DeliveredQuantity = item.DeliveredQuantity
			row.InvoiceNumber = res.InvoiceNumber
			row.Price = item.Price
		} else {
			row.Quantity = item.Quantity
			row.Currency = item.Currency
			row.Price = item.Price
		}
		out = append(out, row)
	}
	return out
}

// Reconcile folds per-row analysis results back into the table. results and
// dispatched are indexed like rows. Rows that were never dispatched, and rows
// without a source path, are emitted unchanged. A dispatched row whose result
// has no items becomes a warning row; an existing note (the error text of a
// failed call) is kept, otherwise the note tells "no items" apart from "no
// response". Output order follows input order, expansions are contiguous.
func Reconcile(rows []domain.Record, results []*domain.AnalysisResult, dispatched []bool) []domain.Record {
	out := make([]domain.Record, 0, len(rows))
	for i, row := range rows {
		if row.SourcePath == "" || i >= len(dispatched) || !dispatched[i] {
			out = append(out, row)
			continue
		}

		res := results[i]
		if res != nil && len(res.Items) > 0 {
			out = append(out, Expand(row, res)...)
			continue
		}

		row.HasWarning = true
		if domain.Deref(row.Notes) == "" {
			if res != nil {
				row.Notes = domain.StringPtr(NoteNoItems)
			} else {
				row.Notes = domain.StringPtr(NoteNoResponse)
			}
		}
		out = append(out, row)
	}
	return out
}
