// Package workbook merges exported rows into the operator's order-tracking
// spreadsheet: existing order lines are updated in place, new ones are
// inserted into their supplier and order block with the neighbouring row's
// formatting.
package workbook

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"

	"github.com/dvloznov/order-intake/internal/domain"
	"github.com/dvloznov/order-intake/internal/events"
	"github.com/dvloznov/order-intake/internal/files"
	"github.com/dvloznov/order-intake/internal/progress"
)

// Sheet columns (1-based).
const (
	colOrderDate     = 1  // A
	colOrderNumber   = 2  // B
	colCustomer      = 3  // C
	colSupplier      = 4  // D
	colProduct       = 5  // E
	colQuantity      = 6  // F
	colCurrency      = 7  // G
	colPrice         = 8  // H
	colInvoiceDate   = 10 // J
	colInvoiceNumber = 11 // K
	colDelivered     = 12 // L
	colFormula       = 13 // M
	colDate3         = 17 // Q
	colNotes         = 18 // R
	lastStyledCol    = 18
)

const (
	headerMarker      = "Casa Estera"
	headerSearchLimit = 100
	progressEvery     = 10

	priceTolerance = 0.05
	qtyTolerance   = 0.5

	// date1904Offset is the serial distance between the 1904 and 1900 date systems.
	date1904Offset = 1462
	// date1904Min guards the 1904 shift against values that are not dates.
	date1904Min = 30000
)

// ErrNoRows is returned when there is nothing to export.
var ErrNoRows = errors.New("no rows selected")

// PromptFunc asks the operator for a workbook path. ok is false when the
// operator declines.
type PromptFunc func(ctx context.Context) (path string, ok bool)

// Writer exports rows into an existing workbook.
type Writer struct {
	// Prompt is used when no path is given. Optional.
	Prompt PromptFunc
	pub    progress.Publisher
	log    zerolog.Logger
}

// NewWriter creates a Writer publishing export progress on pub (may be nil).
func NewWriter(pub progress.Publisher, log zerolog.Logger) *Writer {
	return &Writer{pub: pub, log: log}
}

// existingRow is a data row already in the sheet.
type existingRow struct {
	row      int
	supplier string
	order    string
	date     time.Time
}

// candidate is an existing row that an exported row may update.
type candidate struct {
	row     int
	product string
	qty     float64
	price   float64
}

// ExportToWorkbook merges rows into the workbook at path and returns the
// summary message. With an empty path the Prompt is asked; a missing prompt
// or a declined one returns domain.ExportAborted and no error.
func (w *Writer) ExportToWorkbook(ctx context.Context, rows []domain.Record, path string) (string, error) {
	// 1) Validate input and resolve the target.
	if len(rows) == 0 {
		return "", ErrNoRows
	}
	data := append([]domain.Record(nil), rows...)
	sort.SliceStable(data, func(i, j int) bool {
		return data[i].DeliveredQuantity == nil && data[j].DeliveredQuantity != nil
	})

	if path == "" {
		if w.Prompt == nil {
			return domain.ExportAborted, nil
		}
		p, ok := w.Prompt(ctx)
		if !ok || p == "" {
			return domain.ExportAborted, nil
		}
		path = p
	}
	log := w.log.With().Str("workbook", path).Logger()

	if err := CheckFileAccess(path); err != nil {
		return "", fmt.Errorf("ExportToWorkbook: %w", err)
	}

	// 2) Back up before touching the file.
	backup := path + ".bak"
	if err := files.CopyFile(path, backup); err != nil {
		log.Warn().Err(err).Msg("Could not create backup")
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		return "", fmt.Errorf("ExportToWorkbook: read workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return "", fmt.Errorf("ExportToWorkbook: no worksheet found")
	}
	sh := &sheet{f: f, name: sheets[0]}

	allRows, err := f.GetRows(sh.name)
	if err != nil {
		return "", fmt.Errorf("ExportToWorkbook: read rows: %w", err)
	}
	highest := len(allRows)

	// 3) Locate the header and normalize 1904-dated workbooks.
	headerRow := 1
	for r := 1; r <= highest && r <= headerSearchLimit; r++ {
		if strings.EqualFold(strings.TrimSpace(sh.value(colSupplier, r)), headerMarker) {
			headerRow = r
			break
		}
	}
	startData := headerRow + 1

	if err := sh.migrate1904(startData, highest); err != nil {
		return "", fmt.Errorf("ExportToWorkbook: %w", err)
	}

	// 4) Index existing rows by order number.
	byOrder := map[string][]candidate{}
	existing := make([]existingRow, 0, highest)
	farFuture := time.Date(2200, 1, 1, 0, 0, 0, 0, time.UTC)
	for r := startData; r <= highest; r++ {
		order := strings.ToLower(strings.TrimSpace(sh.value(colOrderNumber, r)))
		date, ok := ParseDate(sh.value(colOrderDate, r))
		if !ok {
			date = farFuture
		}
		existing = append(existing, existingRow{
			row:      r,
			supplier: strings.ToLower(sh.value(colSupplier, r)),
			order:    order,
			date:     date,
		})
		if order != "" {
			byOrder[order] = append(byOrder[order], candidate{
				row:     r,
				product: sh.value(colProduct, r),
				qty:     sh.number(colQuantity, r),
				price:   sh.number(colPrice, r),
			})
		}
	}

	// 5) Update matched rows in place, collect the rest.
	var pending []domain.Record
	updated := 0
	total := len(data)
	for i, rec := range data {
		if err := ctx.Err(); err != nil {
			return "", fmt.Errorf("ExportToWorkbook: %w", err)
		}

		order := strings.ToLower(strings.TrimSpace(domain.Deref(rec.OrderNumber)))
		if row, ok := bestExisting(byOrder[order], rec); ok {
			if err := sh.writeRecord(row, rec); err != nil {
				return "", fmt.Errorf("ExportToWorkbook: %w", err)
			}
			updated++
		} else if idx, ok := bestPending(pending, order, rec); ok {
			target := &pending[idx]
			target.InvoiceDate = rec.InvoiceDate
			target.InvoiceNumber = rec.InvoiceNumber
			target.DeliveredQuantity = rec.DeliveredQuantity
			if rec.Notes != nil && target.Notes == nil {
				target.Notes = rec.Notes
			}
			updated++
		} else {
			pending = append(pending, rec)
		}

		if (i+1)%progressEvery == 0 {
			w.publish(i+1, total)
		}
	}

	// 6) Insert the remaining rows into their blocks.
	if len(pending) > 0 {
		if err := sh.insert(pending, existing, highest, startData); err != nil {
			return "", fmt.Errorf("ExportToWorkbook: %w", err)
		}
	}
	w.publish(total, total)

	// 7) Save and drop the backup.
	if err := f.Save(); err != nil {
		return "", fmt.Errorf("ExportToWorkbook: save workbook: %w", err)
	}
	if err := os.Remove(backup); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg("Could not remove backup")
	}

	log.Info().Int("updated", updated).Int("inserted", len(pending)).Msg("Workbook export finished")
	return fmt.Sprintf("Done: %d updated, %d inserted.", updated, len(pending)), nil
}

func (w *Writer) publish(current, total int) {
	if w.pub == nil {
		return
	}
	w.pub.Publish(events.ExportProgress, events.Progress{
		Current: current,
		Total:   total,
		Percent: progress.Percent(current, total),
	})
}

// isInvoiceLine reports whether rec carries both price and delivered quantity.
func isInvoiceLine(rec domain.Record) bool {
	return rec.Price != nil && rec.DeliveredQuantity != nil
}

// bestExisting picks the sheet row rec should update. Invoice lines use the
// fuzzy price/quantity/name score; order lines need the same product text.
func bestExisting(cands []candidate, rec domain.Record) (int, bool) {
	product := domain.Deref(rec.Product)

	if !isInvoiceLine(rec) {
		for _, c := range cands {
			if strings.EqualFold(strings.TrimSpace(c.product), strings.TrimSpace(product)) {
				return c.row, true
			}
		}
		return 0, false
	}

	best, bestScore := 0, -1.0
	for _, c := range cands {
		score, ok := matchScore(c.price, c.qty, *rec.Price, *rec.DeliveredQuantity, c.product, product)
		if ok && score > bestScore {
			best, bestScore = c.row, score
		}
	}
	return best, bestScore >= 0
}

// bestPending picks a not-yet-invoiced pending row of the same order that the
// invoice line rec completes.
func bestPending(pending []domain.Record, order string, rec domain.Record) (int, bool) {
	if !isInvoiceLine(rec) {
		return 0, false
	}

	best, bestScore := -1, -1.0
	for i, p := range pending {
		if p.DeliveredQuantity != nil {
			continue
		}
		if strings.ToLower(strings.TrimSpace(domain.Deref(p.OrderNumber))) != order {
			continue
		}
		score, ok := matchScore(deref(p.Price), deref(p.Quantity), *rec.Price, *rec.DeliveredQuantity,
			domain.Deref(p.Product), domain.Deref(rec.Product))
		if ok && score > bestScore {
			best, bestScore = i, score
		}
	}
	return best, best >= 0
}

func deref(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}

// sheet wraps the first worksheet of the open file.
type sheet struct {
	f    *excelize.File
	name string
}

func cellName(col, row int) string {
	name, _ := excelize.CoordinatesToCellName(col, row)
	return name
}

// value returns the raw cell value, "" on error.
func (s *sheet) value(col, row int) string {
	v, err := s.f.GetCellValue(s.name, cellName(col, row), excelize.Options{RawCellValue: true})
	if err != nil {
		return ""
	}
	return v
}

// number returns the cell as float64, 0 when it is not numeric.
func (s *sheet) number(col, row int) float64 {
	n, err := strconv.ParseFloat(strings.TrimSpace(s.value(col, row)), 64)
	if err != nil {
		return 0
	}
	return n
}

// migrate1904 moves serial dates of a 1904-based workbook to the 1900 system.
func (s *sheet) migrate1904(startData, highest int) error {
	props, err := s.f.GetWorkbookProps()
	if err != nil {
		return fmt.Errorf("read workbook properties: %w", err)
	}
	if props.Date1904 == nil || !*props.Date1904 {
		return nil
	}

	for r := startData; r <= highest; r++ {
		for _, col := range []int{colOrderDate, colInvoiceDate, colDate3} {
			n, err := strconv.ParseFloat(strings.TrimSpace(s.value(col, r)), 64)
			if err != nil || n <= date1904Min {
				continue
			}
			if err := s.f.SetCellValue(s.name, cellName(col, r), n+date1904Offset); err != nil {
				return fmt.Errorf("shift date %s: %w", cellName(col, r), err)
			}
		}
	}

	off := false
	if err := s.f.SetWorkbookProps(&excelize.WorkbookPropsOptions{Date1904: &off}); err != nil {
		return fmt.Errorf("switch date system: %w", err)
	}
	return nil
}

// writeRecord sets every non-nil field of rec on sheet row r.
func (s *sheet) writeRecord(r int, rec domain.Record) error {
	texts := []struct {
		col int
		v   *string
	}{
		{colOrderDate, rec.OrderDate},
		{colOrderNumber, rec.OrderNumber},
		{colCustomer, rec.Customer},
		{colSupplier, rec.Supplier},
		{colProduct, rec.Product},
		{colCurrency, rec.Currency},
		{colInvoiceDate, rec.InvoiceDate},
		{colInvoiceNumber, rec.InvoiceNumber},
		{colNotes, rec.Notes},
	}
	for _, t := range texts {
		if t.v == nil {
			continue
		}
		if err := s.f.SetCellValue(s.name, cellName(t.col, r), *t.v); err != nil {
			return fmt.Errorf("write %s: %w", cellName(t.col, r), err)
		}
	}

	numbers := []struct {
		col int
		v   *float64
	}{
		{colQuantity, rec.Quantity},
		{colPrice, rec.Price},
		{colDelivered, rec.DeliveredQuantity},
	}
	for _, n := range numbers {
		if n.v == nil {
			continue
		}
		if err := s.f.SetCellValue(s.name, cellName(n.col, r), *n.v); err != nil {
			return fmt.Errorf("write %s: %w", cellName(n.col, r), err)
		}
	}
	return nil
}

// insertPosition finds the row rec belongs at: inside its supplier block
// before the first later order (or the same order with a later date), right
// after the block, or before the first alphabetically later supplier.
func insertPosition(rec domain.Record, existing []existingRow, fallback int) int {
	supplier := strings.ToLower(domain.Deref(rec.Supplier))
	order := strings.ToLower(domain.Deref(rec.OrderNumber))
	date, ok := ParseDate(domain.Deref(rec.OrderDate))
	if !ok {
		date = time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC)
	}

	inBlock := false
	for _, ex := range existing {
		switch {
		case ex.supplier == supplier:
			inBlock = true
			if ex.order > order || (ex.order == order && ex.date.After(date)) {
				return ex.row
			}
		case inBlock:
			return ex.row
		case ex.supplier > supplier:
			return ex.row
		}
	}
	return fallback
}

// insert places pending rows into the sheet, processing the lowest sheet
// positions last so earlier positions stay valid.
func (s *sheet) insert(pending []domain.Record, existing []existingRow, highest, startData int) error {
	sort.SliceStable(pending, func(i, j int) bool {
		a, b := pending[i], pending[j]
		if sa, sb := strings.ToLower(domain.Deref(a.Supplier)), strings.ToLower(domain.Deref(b.Supplier)); sa != sb {
			return sa < sb
		}
		if oa, ob := strings.ToLower(domain.Deref(a.OrderNumber)), strings.ToLower(domain.Deref(b.OrderNumber)); oa != ob {
			return oa < ob
		}
		da, okA := ParseDate(domain.Deref(a.OrderDate))
		db, okB := ParseDate(domain.Deref(b.OrderDate))
		if okA != okB {
			return !okA
		}
		return da.Before(db)
	})

	fallback := highest + 1
	if fallback < startData {
		fallback = startData
	}

	batches := map[int][]domain.Record{}
	for _, rec := range pending {
		at := insertPosition(rec, existing, fallback)
		batches[at] = append(batches[at], rec)
	}
	positions := make([]int, 0, len(batches))
	for at := range batches {
		positions = append(positions, at)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(positions)))

	for _, start := range positions {
		if err := s.insertBatch(start, batches[start], startData); err != nil {
			return err
		}
	}
	return nil
}

// insertBatch opens len(batch) rows at start and fills them, copying style,
// height and the column-M formula from the neighbouring template row.
func (s *sheet) insertBatch(start int, batch []domain.Record, startData int) error {
	count := len(batch)
	if err := s.f.InsertRows(s.name, start, count); err != nil {
		return fmt.Errorf("insert %d rows at %d: %w", count, start, err)
	}

	template := start + count
	if start > startData {
		template = start - 1
	}

	styles := make([]int, lastStyledCol+1)
	for col := 1; col <= lastStyledCol; col++ {
		id, err := s.f.GetCellStyle(s.name, cellName(col, template))
		if err == nil {
			styles[col] = id
		}
	}
	height, err := s.f.GetRowHeight(s.name, template)
	if err != nil {
		height = 0
	}
	formula, err := s.f.GetCellFormula(s.name, cellName(colFormula, template))
	if err != nil {
		formula = ""
	}

	for i, rec := range batch {
		r := start + i
		if height > 0 {
			if err := s.f.SetRowHeight(s.name, r, height); err != nil {
				return fmt.Errorf("row height %d: %w", r, err)
			}
		}
		if err := s.writeRecord(r, rec); err != nil {
			return err
		}
		for col := 1; col <= lastStyledCol; col++ {
			if styles[col] == 0 {
				continue
			}
			c := cellName(col, r)
			if err := s.f.SetCellStyle(s.name, c, c, styles[col]); err != nil {
				return fmt.Errorf("style %s: %w", c, err)
			}
		}
		if formula != "" {
			c := cellName(colFormula, r)
			if err := s.f.SetCellFormula(s.name, c, AdjustFormula(formula, template, r)); err != nil {
				return fmt.Errorf("formula %s: %w", c, err)
			}
		}
	}
	return nil
}
