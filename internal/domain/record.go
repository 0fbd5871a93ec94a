package domain

// DocType classifies a source document. It is decided once from the filename
// and never changes afterwards, spawned line-item rows inherit it.
type DocType string

const (
	// DocTypePurchaseOrder is a supplier purchase order ("Auftrag").
	DocTypePurchaseOrder DocType = "auftrag"
	// DocTypeInvoice is a supplier invoice ("Rechnung").
	DocTypeInvoice DocType = "rechnung"
)

// Valid reports whether t is one of the known document types.
func (t DocType) Valid() bool {
	return t == DocTypePurchaseOrder || t == DocTypeInvoice
}

// ExportAborted is returned by the workbook writer instead of a status message
// when the operator declined to pick a destination file.
const ExportAborted = "Export aborted by user"

// Record is one row of the intake table: a parsed document, or one line item
// of an analyzed document.
//
// Pointer fields are nil when unknown. They are treated as immutable values:
// code replaces a pointer, it never writes through one, so copying a Record by
// value is safe.
type Record struct {
	ID          int64   `json:"id"`
	DisplayName string  `json:"pdfName"`
	SourcePath  string  `json:"fullPath"`
	DocType     DocType `json:"docType"`
	Confirmed   bool    `json:"confirmed"`
	HasWarning  bool    `json:"warnings"`

	Customer    *string `json:"kunde"`
	Supplier    *string `json:"lieferant"`
	OrderDate   *string `json:"datumAuftrag"`
	OrderNumber *string `json:"nummerAuftrag"`

	Product  *string  `json:"produkt"`
	Quantity *float64 `json:"menge"`
	Unit     *string  `json:"einheit"`
	Price    *float64 `json:"preis"`
	Currency *string  `json:"waehrung"`

	InvoiceDate       *string  `json:"datumRechnung"`
	InvoiceNumber     *string  `json:"nummerRechnung"`
	DeliveredQuantity *float64 `json:"gelieferteMenge"`

	Notes *string `json:"anmerkungen"`
}

// HasProduct reports whether the row carries a non-empty product description.
func (r Record) HasProduct() bool {
	return r.Product != nil && *r.Product != ""
}

// LineItem is one product line detected in a document.
type LineItem struct {
	Product           *string  `json:"produkt"`
	Quantity          *float64 `json:"menge"`
	Currency          *string  `json:"waehrung"`
	Price             *float64 `json:"preis"`
	DeliveredQuantity *float64 `json:"gelieferteMenge"`
}

// AnalysisResult is what the document analyzer returns for one PDF.
type AnalysisResult struct {
	InvoiceNumber *string    `json:"nummerRechnung"`
	Items         []LineItem `json:"produkte"`
}

// StringPtr returns a pointer to s, or nil when s is empty.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// FloatPtr returns a pointer to f.
func FloatPtr(f float64) *float64 {
	return &f
}

// Deref returns the pointed-to string or "".
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
