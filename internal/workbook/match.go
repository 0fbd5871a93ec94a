package workbook

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// TokenSimilarity is the Jaccard index of the word sets of a and b. Words
// are split on whitespace, trimmed of non-alphanumeric runes and lowercased.
// It is 0 when either side has no words.
func TokenSimilarity(a, b string) float64 {
	ta, tb := tokenize(a), tokenize(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}

	inter := 0
	for w := range ta {
		if _, ok := tb[w]; ok {
			inter++
		}
	}
	union := len(ta) + len(tb) - inter
	return float64(inter) / float64(union)
}

func tokenize(s string) map[string]struct{} {
	out := map[string]struct{}{}
	for _, w := range strings.Fields(s) {
		w = strings.TrimFunc(w, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		if w != "" {
			out[strings.ToLower(w)] = struct{}{}
		}
	}
	return out
}

// serialEpoch is day 0 of the 1900 date system. Workbooks are migrated to
// that system before any cell is read.
var serialEpoch = time.Date(1899, 12, 30, 0, 0, 0, 0, time.UTC)

// ParseDate reads DD/MM/YYYY, DD.MM.YYYY, YYYY-MM-DD or a 1900-system serial
// date.
func ParseDate(s string) (time.Time, bool) {
	for _, layout := range []string{"02/01/2006", "02.01.2006", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	if days, err := strconv.ParseInt(s, 10, 64); err == nil {
		return serialEpoch.AddDate(0, 0, int(days)), true
	}
	return time.Time{}, false
}

// AdjustFormula rewrites references to oldRow (a column letter directly
// followed by the row number) so they point at newRow.
func AdjustFormula(formula string, oldRow, newRow int) string {
	re := regexp.MustCompile(fmt.Sprintf(`([A-Z])%d\b`, oldRow))
	return re.ReplaceAllString(formula, fmt.Sprintf("${1}%d", newRow))
}

// matchScore rates how well an invoice line (price, qty) fits a candidate
// order line. ok is false when the price differs by more than 0.05 or the
// quantity by more than half of the candidate's.
func matchScore(candPrice, candQty, price, qty float64, candProduct, product string) (score float64, ok bool) {
	if abs(candPrice-price) > priceTolerance {
		return 0, false
	}
	rel := 1.0
	if candQty > 0 {
		rel = abs(candQty-qty) / candQty
	}
	if rel > qtyTolerance {
		return 0, false
	}
	qtyScore := 1 - rel
	if qtyScore < 0 {
		qtyScore = 0
	}
	return qtyScore*10 + TokenSimilarity(product, candProduct)*5, true
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
