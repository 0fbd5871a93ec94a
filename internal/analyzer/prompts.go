package analyzer

import (
	"strings"

	"github.com/dvloznov/order-intake/internal/domain"
)

const orderPrompt = `You extract line items from a purchase order (German: Auftrag).

Output STRICT JSON only, one object with this shape:
{
  "produkte": [
    {"produkt": string, "menge": number or null, "waehrung": string or null, "preis": number or null}
  ]
}

Rules:
- One entry per ordered product line. Skip subtotals, shipping, taxes and discounts.
- "produkt" is the product description exactly as printed, without article numbers in front.
- "menge" is the ordered quantity as a plain number.
- "preis" is the unit price as a plain number, not the line total.
- "waehrung" is the ISO currency code, e.g. "EUR".
- If nothing can be extracted, return {"produkte": []}.`

const invoicePrompt = `You extract line items from an invoice (German: Rechnung).

Output STRICT JSON only, one object with this shape:
{
  "nummerRechnung": string or null,
  "produkte": [
    {"produkt": string, "gelieferteMenge": number or null, "preis": number or null}
  ]
}

Rules:
- "nummerRechnung" is the invoice number printed on the document.
- One entry per invoiced product line. Skip subtotals, shipping, taxes and discounts.
- "produkt" is the product description exactly as printed, without article numbers in front.
- "gelieferteMenge" is the delivered quantity as a plain number.
- "preis" is the unit price as a plain number, not the line total.
- If nothing can be extracted, return {"nummerRechnung": null, "produkte": []}.`

const jsonOnly = "Return ONLY valid raw JSON. Do NOT wrap the response in code fences."

// Layout hints attached to text prompts.
const (
	layoutPDF      = "THE DOCUMENT IS ATTACHED AS PDF. Read tables row by row."
	layoutMarkdown = "THE LAYOUT IS MARKDOWN. Tables are marked with pipes '|'. Use this structure."
)

// basePrompt returns the extraction instructions for docType.
func basePrompt(docType domain.DocType) string {
	if docType == domain.DocTypeInvoice {
		return invoicePrompt
	}
	return orderPrompt
}

// buildPrompt assembles instructions, a layout hint and optional document text.
func buildPrompt(docType domain.DocType, layout, text string) string {
	var b strings.Builder
	b.WriteString(basePrompt(docType))
	b.WriteString("\n\nIMPORTANT LAYOUT-INFORMATION: ")
	b.WriteString(layout)
	if text != "" {
		b.WriteString("\n\nContent document:\n")
		b.WriteString(text)
	}
	b.WriteString("\n\n")
	b.WriteString(jsonOnly)
	return b.String()
}
