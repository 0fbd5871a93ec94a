package analyzer

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/dvloznov/order-intake/internal/domain"
)

// parseModelOutput decodes cleaned model text into a generic object.
func parseModelOutput(raw string) (map[string]interface{}, error) {
	clean := cleanModelJSON(raw)

	var parsed interface{}
	if err := json.Unmarshal([]byte(clean), &parsed); err != nil {
		return nil, fmt.Errorf("parseModelOutput: unmarshal JSON: %w", err)
	}

	switch v := parsed.(type) {
	case map[string]interface{}:
		return v, nil
	case []interface{}:
		// Some responses skip the wrapper object and return the items directly.
		return map[string]interface{}{"produkte": v}, nil
	default:
		return nil, fmt.Errorf("parseModelOutput: top-level value is %T, want object", parsed)
	}
}

// uppercaseStrings upper-cases every string value in v, recursively.
func uppercaseStrings(v interface{}) interface{} {
	switch val := v.(type) {
	case string:
		return strings.ToUpper(val)
	case map[string]interface{}:
		for k, item := range val {
			val[k] = uppercaseStrings(item)
		}
		return val
	case []interface{}:
		for i, item := range val {
			val[i] = uppercaseStrings(item)
		}
		return val
	default:
		return v
	}
}

// hasItems reports whether raw carries a non-empty "produkte" array.
func hasItems(raw map[string]interface{}) bool {
	items, ok := raw["produkte"].([]interface{})
	return ok && len(items) > 0
}

// transformModelOutput converts the generic model object into a result.
// Items that are not objects are skipped.
func transformModelOutput(raw map[string]interface{}) (*domain.AnalysisResult, error) {
	res := &domain.AnalysisResult{Items: []domain.LineItem{}}

	invoiceNumber, err := getOptionalStringField(raw, "nummerRechnung")
	if err != nil {
		return nil, fmt.Errorf("transformModelOutput: %w", err)
	}
	res.InvoiceNumber = invoiceNumber

	itemsAny, ok := raw["produkte"]
	if !ok || itemsAny == nil {
		return res, nil
	}
	items, ok := itemsAny.([]interface{})
	if !ok {
		return nil, fmt.Errorf("transformModelOutput: 'produkte' is %T, want array", itemsAny)
	}

	for _, item := range items {
		obj, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		product, err := getOptionalStringField(obj, "produkt")
		if err != nil {
			return nil, fmt.Errorf("transformModelOutput: %w", err)
		}
		currency, err := getOptionalStringField(obj, "waehrung")
		if err != nil {
			return nil, fmt.Errorf("transformModelOutput: %w", err)
		}
		res.Items = append(res.Items, domain.LineItem{
			Product:           product,
			Currency:          currency,
			Quantity:          getOptionalNumber(obj, "menge"),
			Price:             getOptionalNumber(obj, "preis"),
			DeliveredQuantity: getOptionalNumber(obj, "gelieferteMenge"),
		})
	}
	return res, nil
}

func getOptionalStringField(m map[string]interface{}, key string) (*string, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return nil, nil
	}
	switch val := v.(type) {
	case string:
		return domain.StringPtr(strings.TrimSpace(val)), nil
	case float64:
		// Invoice numbers sometimes come back as bare numbers.
		return domain.StringPtr(strconv.FormatFloat(val, 'f', -1, 64)), nil
	default:
		return nil, fmt.Errorf("field %q has type %T, want string or null", key, v)
	}
}

// getOptionalNumber reads a number that may be encoded as text. Values that
// cannot be read become nil.
func getOptionalNumber(m map[string]interface{}, key string) *float64 {
	switch val := m[key].(type) {
	case float64:
		return &val
	case string:
		if f, ok := parseNumber(val); ok {
			return &f
		}
	}
	return nil
}

// parseNumber reads the leading number of s, e.g. "12", "12 KG", "1.234,50",
// "1,234.50" or "0,5". With both separators present the later one is the
// decimal point. A single separator is a decimal point, a repeated one
// groups thousands.
func parseNumber(s string) (float64, bool) {
	var b strings.Builder
	for _, r := range strings.TrimSpace(s) {
		if (r >= '0' && r <= '9') || r == '.' || r == ',' || (r == '-' && b.Len() == 0) {
			b.WriteRune(r)
			continue
		}
		if b.Len() > 0 {
			break
		}
	}
	num := strings.TrimRight(b.String(), ".,")
	if num == "" || num == "-" {
		return 0, false
	}

	dots, commas := strings.Count(num, "."), strings.Count(num, ",")
	switch {
	case dots > 0 && commas > 0:
		if strings.LastIndex(num, ",") > strings.LastIndex(num, ".") {
			num = strings.ReplaceAll(num, ".", "")
			num = strings.Replace(num, ",", ".", 1)
		} else {
			num = strings.ReplaceAll(num, ",", "")
		}
	case commas == 1:
		num = strings.Replace(num, ",", ".", 1)
	case commas > 1:
		num = strings.ReplaceAll(num, ",", "")
	case dots > 1:
		num = strings.ReplaceAll(num, ".", "")
	}

	f, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
