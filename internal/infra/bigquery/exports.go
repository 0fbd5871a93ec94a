// Package bigquery archives exported line items in a BigQuery table for
// reporting outside the workbook.
package bigquery

import (
	"time"

	"cloud.google.com/go/bigquery"

	"github.com/dvloznov/order-intake/internal/domain"
)

// ExportedLineRow is one archived line of an export.
type ExportedLineRow struct {
	ExportID   string    `bigquery:"export_id"`   // REQUIRED
	ExportedTS time.Time `bigquery:"exported_ts"` // REQUIRED
	Workbook   string    `bigquery:"workbook"`    // REQUIRED

	DocType    string              `bigquery:"doc_type"`    // REQUIRED
	SourceFile bigquery.NullString `bigquery:"source_file"` // NULLABLE
	ArchiveURI bigquery.NullString `bigquery:"archive_uri"` // NULLABLE

	Customer  bigquery.NullString  `bigquery:"customer"`
	Supplier  bigquery.NullString  `bigquery:"supplier"`
	OrderDate bigquery.NullString  `bigquery:"order_date"`
	OrderNo   bigquery.NullString  `bigquery:"order_number"`
	Product   bigquery.NullString  `bigquery:"product"`
	Quantity  bigquery.NullFloat64 `bigquery:"quantity"`
	Unit      bigquery.NullString  `bigquery:"unit"`
	Price     bigquery.NullFloat64 `bigquery:"price"`
	Currency  bigquery.NullString  `bigquery:"currency"`
	InvoiceDt bigquery.NullString  `bigquery:"invoice_date"`
	InvoiceNo bigquery.NullString  `bigquery:"invoice_number"`
	Delivered bigquery.NullFloat64 `bigquery:"delivered_quantity"`
	Notes     bigquery.NullString  `bigquery:"notes"`
}

func nullString(s *string) bigquery.NullString {
	if s == nil {
		return bigquery.NullString{}
	}
	return bigquery.NullString{StringVal: *s, Valid: true}
}

func nullFloat(f *float64) bigquery.NullFloat64 {
	if f == nil {
		return bigquery.NullFloat64{}
	}
	return bigquery.NullFloat64{Float64: *f, Valid: true}
}

// ExportBatch identifies one export.
type ExportBatch struct {
	ExportID string
	Workbook string
	At       time.Time
	// ArchiveURIs maps a source path to its archived gs:// URI.
	ArchiveURIs map[string]string
}

// ToRows converts exported records to archive rows.
func ToRows(batch ExportBatch, recs []domain.Record) []*ExportedLineRow {
	out := make([]*ExportedLineRow, 0, len(recs))
	for _, r := range recs {
		row := &ExportedLineRow{
			ExportID:   batch.ExportID,
			ExportedTS: batch.At,
			Workbook:   batch.Workbook,
			DocType:    string(r.DocType),
			SourceFile: nullString(domain.StringPtr(r.SourcePath)),
			Customer:   nullString(r.Customer),
			Supplier:   nullString(r.Supplier),
			OrderDate:  nullString(r.OrderDate),
			OrderNo:    nullString(r.OrderNumber),
			Product:    nullString(r.Product),
			Quantity:   nullFloat(r.Quantity),
			Unit:       nullString(r.Unit),
			Price:      nullFloat(r.Price),
			Currency:   nullString(r.Currency),
			InvoiceDt:  nullString(r.InvoiceDate),
			InvoiceNo:  nullString(r.InvoiceNumber),
			Delivered:  nullFloat(r.DeliveredQuantity),
			Notes:      nullString(r.Notes),
		}
		if uri, ok := batch.ArchiveURIs[r.SourcePath]; ok {
			row.ArchiveURI = bigquery.NullString{StringVal: uri, Valid: true}
		}
		out = append(out, row)
	}
	return out
}
