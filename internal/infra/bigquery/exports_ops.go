package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"

	"github.com/dvloznov/order-intake/internal/domain"
)

// ExportArchive is the BigQuery-backed archive of exported lines. It holds a
// shared client to avoid a new connection per export.
type ExportArchive struct {
	client  *bigquery.Client
	dataset string
	table   string
}

// NewExportArchive creates a client for project and targets dataset.table.
func NewExportArchive(ctx context.Context, project, dataset, table string) (*ExportArchive, error) {
	client, err := bigquery.NewClient(ctx, project)
	if err != nil {
		return nil, fmt.Errorf("NewExportArchive: creating client: %w", err)
	}
	return &ExportArchive{client: client, dataset: dataset, table: table}, nil
}

// Close closes the BigQuery client connection.
func (a *ExportArchive) Close() error {
	if a.client != nil {
		return a.client.Close()
	}
	return nil
}

// ArchiveExport streams the exported records of one batch into the table.
func (a *ExportArchive) ArchiveExport(ctx context.Context, batch ExportBatch, recs []domain.Record) error {
	if len(recs) == 0 {
		return nil
	}
	rows := ToRows(batch, recs)

	inserter := a.client.Dataset(a.dataset).Table(a.table).Inserter()
	if err := inserter.Put(ctx, rows); err != nil {
		return fmt.Errorf("ArchiveExport: inserting %d rows: %w", len(rows), err)
	}
	return nil
}
