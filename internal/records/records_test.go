package records

import (
	"errors"
	"io"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/order-intake/internal/domain"
)

func paths(rows []domain.Record) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.SourcePath
	}
	return out
}

func TestMerge_DedupAndIDs(t *testing.T) {
	existing := []domain.Record{
		{ID: 3, SourcePath: "/in/1_20240101_A-X.pdf"},
		{ID: 7, SourcePath: ""},
	}
	candidates := []string{
		"/in/1_20240101_A-X.pdf", // already present
		"/in/2_20240102_B-Y.pdf",
		"/in/2_20240102_B-Y.pdf", // repeated in the same selection
		"/in/3_20240103_C-Z.pdf",
	}

	res := Merge(existing, candidates, MergeOptions{})

	assert.Equal(t, 2, res.Duplicates)
	assert.Equal(t, len(candidates)-len(res.Added), res.Duplicates)
	require.Len(t, res.Added, 2)
	assert.Equal(t, int64(8), res.Added[0].ID)
	assert.Equal(t, int64(9), res.Added[1].ID)
	assert.Len(t, res.Rows, 4)

	seen := map[string]bool{}
	for _, r := range res.Rows {
		if r.SourcePath == "" {
			continue
		}
		assert.False(t, seen[r.SourcePath], "duplicate path %s", r.SourcePath)
		seen[r.SourcePath] = true
	}
	assert.Len(t, existing, 2, "input is not modified")
}

func TestMerge_NextIDFloor(t *testing.T) {
	res := Merge(nil, []string{"/a/1_20240101_A-B.pdf"}, MergeOptions{NextID: 42})
	require.Len(t, res.Added, 1)
	assert.Equal(t, int64(42), res.Added[0].ID)
}

func TestMerge_Idempotent(t *testing.T) {
	first := Merge(nil, []string{"/a/1_20240101_A-B.pdf", "/a/2_20240101_A-B.pdf"}, MergeOptions{Sort: true})
	second := Merge(first.Rows, []string{"/a/1_20240101_A-B.pdf"}, MergeOptions{Sort: true})

	assert.Equal(t, first.Rows, second.Rows)
	assert.Empty(t, second.Added)
	assert.Equal(t, 1, second.Duplicates)
}

func TestMerge_ParseFailureSkipped(t *testing.T) {
	res := Merge(nil, []string{"/a/.pdf", "/a/1_20240101_A-B.pdf"}, MergeOptions{})

	assert.Len(t, res.Failures, 1)
	require.Len(t, res.Added, 1)
	assert.Equal(t, "/a/1_20240101_A-B.pdf", res.Added[0].SourcePath)
}

func TestSortRows(t *testing.T) {
	res := Merge(nil, []string{
		"/x/10_20240105_beta-C.pdf",
		"/x/9_20240105_BETA-C.pdf",
		"/x/100_20240101_Alpha-C.pdf",
		"/x/9_20230105_Beta-C.pdf",
		"/x/2_20240101_alpha-C.pdf",
	}, MergeOptions{Sort: true})

	assert.Equal(t, []string{
		"/x/2_20240101_alpha-C.pdf",
		"/x/100_20240101_Alpha-C.pdf",
		"/x/9_20230105_Beta-C.pdf",
		"/x/9_20240105_BETA-C.pdf",
		"/x/10_20240105_beta-C.pdf",
	}, paths(res.Rows))
}

func TestParseDate(t *testing.T) {
	for _, s := range []string{"15.01.2024", "15/01/2024", "2024-01-15"} {
		d, ok := ParseDate(s)
		require.True(t, ok, s)
		assert.Equal(t, 15, d.Day())
		assert.Equal(t, 2024, d.Year())
	}
	_, ok := ParseDate("2024")
	assert.False(t, ok)
}

func newTestStore() *Store {
	return NewStore(zerolog.New(io.Discard))
}

func TestStore_MergeNeverReusesIDs(t *testing.T) {
	s := newTestStore()
	res := s.Merge([]string{"/a/1_20240101_A-B.pdf", "/a/2_20240101_A-B.pdf"})
	require.Len(t, res.Added, 2)

	for _, r := range s.Snapshot() {
		require.NoError(t, s.Remove(r.ID))
	}
	res = s.Merge([]string{"/a/3_20240101_A-B.pdf"})
	require.Len(t, res.Added, 1)
	assert.Equal(t, int64(3), res.Added[0].ID)
}

func TestStore_ReplaceAssignsFreshIDs(t *testing.T) {
	s := newTestStore()
	s.Merge([]string{"/a/1_20240101_A-B.pdf"})
	orig := s.Snapshot()[0]

	child := orig
	child.ID = 0
	child.SourcePath = ""
	dup := orig
	dup.SourcePath = ""

	out := s.Replace([]domain.Record{orig, child, dup})
	require.Len(t, out, 3)
	assert.Equal(t, orig.ID, out[0].ID)
	assert.NotEqual(t, out[0].ID, out[1].ID)
	assert.NotEqual(t, out[1].ID, out[2].ID)
	assert.Greater(t, out[1].ID, orig.ID)
	assert.Greater(t, out[2].ID, orig.ID)
}

func TestStore_UpdateKeepsIdentity(t *testing.T) {
	s := newTestStore()
	s.Merge([]string{"/a/1_20240101_A-B.pdf"})
	id := s.Snapshot()[0].ID

	before, after, err := s.Update(id, func(r *domain.Record) {
		r.ID = 99
		r.DocType = domain.DocTypeInvoice
		r.Product = domain.StringPtr("BOLT")
	})
	require.NoError(t, err)
	assert.Nil(t, before.Product)
	assert.Equal(t, id, after.ID)
	assert.Equal(t, domain.DocTypePurchaseOrder, after.DocType)
	assert.Equal(t, "BOLT", domain.Deref(after.Product))

	_, _, err = s.Update(12345, func(*domain.Record) {})
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestStore_Confirmation(t *testing.T) {
	s := newTestStore()
	assert.Equal(t, ConfirmNone, s.ConfirmationState())

	s.Merge([]string{"/a/1_20240101_A-B.pdf", "/a/2_20240101_A-B.pdf"})
	rows := s.Snapshot()

	require.NoError(t, s.SetConfirmed(rows[0].ID, true))
	assert.Equal(t, ConfirmPartial, s.ConfirmationState())

	s.ConfirmAll(true)
	assert.Equal(t, ConfirmAll, s.ConfirmationState())

	s.ConfirmAll(false)
	assert.Equal(t, ConfirmNone, s.ConfirmationState())
}

func TestStore_InsertBelow(t *testing.T) {
	s := newTestStore()
	s.Merge([]string{"/a/1_20240101_A-B.pdf", "/a/2_20240101_A-B.pdf"})
	rows := s.Snapshot()

	_, err := s.InsertBelow(rows[0].ID, 1)
	require.ErrorIs(t, err, ErrInsertNotAllowed)

	s.SetInsertAllowed(true)
	added, err := s.InsertBelow(rows[0].ID, 2)
	require.NoError(t, err)
	require.Len(t, added, 2)

	after := s.Snapshot()
	require.Len(t, after, 4)
	assert.Equal(t, rows[0].ID, after[0].ID)
	assert.Equal(t, added[0].ID, after[1].ID)
	assert.Equal(t, added[1].ID, after[2].ID)
	assert.Equal(t, rows[1].ID, after[3].ID)

	assert.Equal(t, rows[0].Supplier, after[1].Supplier)
	assert.Equal(t, rows[0].OrderNumber, after[1].OrderNumber)
	assert.Equal(t, rows[0].DocType, after[1].DocType)
	assert.Empty(t, after[1].SourcePath)
	assert.Nil(t, after[1].Product)
}

func TestStore_ClearDisablesInsert(t *testing.T) {
	s := newTestStore()
	s.Merge([]string{"/a/1_20240101_A-B.pdf"})
	s.SetInsertAllowed(true)

	s.Clear()

	assert.Zero(t, s.Len())
	assert.False(t, s.InsertAllowed())
}

func TestStore_MergeDisablesInsert(t *testing.T) {
	s := newTestStore()
	s.Merge([]string{"/a/1_20240101_A-B.pdf"})
	s.SetInsertAllowed(true)

	// Duplicates only: the table is unchanged.
	s.Merge([]string{"/a/1_20240101_A-B.pdf"})
	assert.True(t, s.InsertAllowed())

	s.Merge([]string{"/a/2_20240101_A-B.pdf"})
	assert.False(t, s.InsertAllowed())
}
