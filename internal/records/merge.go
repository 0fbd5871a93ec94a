package records

import (
	"sort"
	"time"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/dvloznov/order-intake/internal/domain"
	"github.com/dvloznov/order-intake/internal/filename"
)

// MergeOptions controls Merge.
type MergeOptions struct {
	// Sort orders the result by supplier, order number and order date.
	Sort bool
	// NextID is the lowest id new rows may receive. A store passes its
	// high-water mark here so ids of removed rows are never handed out again.
	NextID int64
}

// MergeResult is the outcome of merging candidate paths into a row set.
type MergeResult struct {
	Rows       []domain.Record
	Added      []domain.Record
	Duplicates int
	Failures   []error
}

// Merge parses candidate paths that are not yet present in existing and
// appends them with fresh ids. Paths already present, or repeated within
// candidates, are counted as duplicates and not parsed. Unparseable paths are
// reported in Failures and skipped. existing is not modified.
func Merge(existing []domain.Record, candidates []string, opts MergeOptions) MergeResult {
	seen := make(map[string]struct{}, len(existing)+len(candidates))
	var maxID int64
	for _, r := range existing {
		if r.SourcePath != "" {
			seen[r.SourcePath] = struct{}{}
		}
		if r.ID > maxID {
			maxID = r.ID
		}
	}

	nextID := maxID + 1
	if opts.NextID > nextID {
		nextID = opts.NextID
	}

	var res MergeResult
	fresh := make([]string, 0, len(candidates))
	for _, p := range candidates {
		if _, dup := seen[p]; dup || p == "" {
			res.Duplicates++
			continue
		}
		seen[p] = struct{}{}
		fresh = append(fresh, p)
	}

	for _, p := range fresh {
		rec, err := filename.Parse(p)
		if err != nil {
			res.Failures = append(res.Failures, err)
			continue
		}
		rec.ID = nextID
		nextID++
		res.Added = append(res.Added, rec)
	}

	res.Rows = make([]domain.Record, 0, len(existing)+len(res.Added))
	res.Rows = append(res.Rows, existing...)
	res.Rows = append(res.Rows, res.Added...)

	if opts.Sort {
		SortRows(res.Rows)
	}
	return res
}

// SortRows stably orders rows by supplier (locale collation), order number
// (numeric-aware) and order date ascending. Rows without a date sort first
// within their group.
func SortRows(rows []domain.Record) {
	text := collate.New(language.Und)
	numeric := collate.New(language.Und, collate.Numeric)

	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if c := text.CompareString(domain.Deref(a.Supplier), domain.Deref(b.Supplier)); c != 0 {
			return c < 0
		}
		if c := numeric.CompareString(domain.Deref(a.OrderNumber), domain.Deref(b.OrderNumber)); c != 0 {
			return c < 0
		}
		return dateKey(a.OrderDate).Before(dateKey(b.OrderDate))
	})
}

// ParseDate accepts the date formats found in filenames and workbooks.
func ParseDate(s string) (time.Time, bool) {
	for _, layout := range []string{"02.01.2006", "02/01/2006", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func dateKey(s *string) time.Time {
	if s == nil {
		return time.Time{}
	}
	t, _ := ParseDate(*s)
	return t
}
