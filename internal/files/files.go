// Package files lists source PDFs and moves processed ones out of the inbox.
package files

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dvloznov/order-intake/internal/filename"
)

// timestampLayout is appended to a file name that already exists in the
// target folder.
const timestampLayout = "20060102_150405"

// ListPDFs returns the PDF files directly inside dir, sorted by path.
func ListPDFs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("ListPDFs: %w", err)
	}

	out := []string{}
	for _, e := range entries {
		if e.IsDir() || !filename.IsPDF(e.Name()) {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	sort.Strings(out)
	return out, nil
}

// Mover moves files into a target folder.
type Mover struct {
	// Now is the clock used for collision suffixes.
	Now func() time.Time
}

// NewMover creates a Mover on the wall clock.
func NewMover() *Mover {
	return &Mover{Now: time.Now}
}

// MoveFiles moves every existing file in paths into dir, creating dir when
// needed. An empty dir is a no-op. Missing sources are skipped. A name that
// already exists in dir gets a _YYYYMMDD_HHMMSS suffix. It returns the
// number of files moved; the first failure stops the batch.
func (m *Mover) MoveFiles(ctx context.Context, paths []string, dir string) (int, error) {
	if strings.TrimSpace(dir) == "" {
		return 0, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("MoveFiles: cannot create folder: %w", err)
	}

	moved := 0
	for _, src := range paths {
		if err := ctx.Err(); err != nil {
			return moved, fmt.Errorf("MoveFiles: %w", err)
		}
		if _, err := os.Stat(src); err != nil {
			continue
		}

		dst := m.target(src, dir)
		if err := moveFile(src, dst); err != nil {
			return moved, fmt.Errorf("MoveFiles: moving %s: %w", src, err)
		}
		moved++
	}
	return moved, nil
}

// target picks the destination for src inside dir.
func (m *Mover) target(src, dir string) string {
	base := filepath.Base(src)
	dst := filepath.Join(dir, base)
	if _, err := os.Stat(dst); errors.Is(err, os.ErrNotExist) {
		return dst
	}
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	return filepath.Join(dir, fmt.Sprintf("%s_%s%s", stem, m.Now().Format(timestampLayout), ext))
}

// moveFile renames src to dst, copying across devices when rename fails.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	if err := copyFile(src, dst); err != nil {
		return err
	}
	return os.Remove(src)
}

// CopyFile copies src to dst, replacing dst.
func CopyFile(src, dst string) error {
	if err := copyFile(src, dst); err != nil {
		return fmt.Errorf("CopyFile: %w", err)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
