// Package filename derives record fields from the naming convention used for
// scanned purchase orders and invoices.
//
// Purchase orders:  <ORDER>_<YYYYMMDD>_<SUPPLIER>-<CUSTOMER>.pdf
// Invoices:         FT_<SUPPLIER>_<YYYYMMDD>-<CUSTOMER>_<ORDER>.pdf
package filename

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/dvloznov/order-intake/internal/domain"
)

// InvoicePrefix marks an invoice filename.
const InvoicePrefix = "FT"

// ParseError reports a path that could not be turned into a record at all.
type ParseError struct {
	Path   string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse filename %q: %s", e.Path, e.Reason)
}

// IsPDF reports whether path names a PDF file, case-insensitively.
func IsPDF(path string) bool {
	return strings.EqualFold(filepath.Ext(baseName(path)), ".pdf")
}

// DisplayName returns the uppercase filename without directory and .pdf extension.
func DisplayName(path string) string {
	name := baseName(path)
	if len(name) >= 4 && strings.EqualFold(name[len(name)-4:], ".pdf") {
		name = name[:len(name)-4]
	}
	return strings.ToUpper(name)
}

// Parse builds a record from path. Missing fields are left nil and flag the
// record with a warning; only an empty name is an error. The returned record
// has ID 0, the caller assigns identity.
func Parse(path string) (rec domain.Record, err error) {
	defer func() {
		if r := recover(); r != nil {
			rec = domain.Record{}
			err = &ParseError{Path: path, Reason: fmt.Sprint(r)}
		}
	}()

	name := DisplayName(path)
	if strings.TrimSpace(name) == "" {
		return domain.Record{}, &ParseError{Path: path, Reason: "empty file name"}
	}

	rec = domain.Record{
		DisplayName: name,
		SourcePath:  path,
		DocType:     domain.DocTypePurchaseOrder,
	}

	parts := strings.Split(name, "_")

	var date *string
	if strings.HasPrefix(name, InvoicePrefix) {
		rec.DocType = domain.DocTypeInvoice

		// FT_<SUPPLIER>_<DATE>-<CUSTOMER>_<ORDER>
		dateToken, customer := splitPair(part(parts, 2))
		date = formatDate(dateToken)
		rec.InvoiceDate = date
		rec.OrderNumber = domain.StringPtr(part(parts, 3))
		rec.Customer = domain.StringPtr(customer)
		rec.Supplier = domain.StringPtr(part(parts, 1))
	} else {
		// <ORDER>_<DATE>_<SUPPLIER>-<CUSTOMER>
		date = formatDate(part(parts, 1))
		rec.OrderDate = date
		rec.OrderNumber = domain.StringPtr(part(parts, 0))
		supplier, customer := splitPair(part(parts, 2))
		rec.Supplier = domain.StringPtr(supplier)
		rec.Customer = domain.StringPtr(customer)
	}

	rec.HasWarning = date == nil || rec.OrderNumber == nil || rec.Customer == nil || rec.Supplier == nil
	return rec, nil
}

// formatDate turns an 8-digit YYYYMMDD token into DD.MM.YYYY.
// Anything else yields nil.
func formatDate(token string) *string {
	if len(token) != 8 {
		return nil
	}
	for _, c := range token {
		if c < '0' || c > '9' {
			return nil
		}
	}
	s := token[6:8] + "." + token[4:6] + "." + token[0:4]
	return &s
}

func part(parts []string, i int) string {
	if i < len(parts) {
		return strings.TrimSpace(parts[i])
	}
	return ""
}

func splitPair(s string) (string, string) {
	first, second, _ := strings.Cut(s, "-")
	if i := strings.Index(second, "-"); i >= 0 {
		second = second[:i]
	}
	return strings.TrimSpace(first), strings.TrimSpace(second)
}

func baseName(path string) string {
	if i := strings.LastIndexAny(path, `/\`); i >= 0 {
		return path[i+1:]
	}
	return path
}
