package workbook

import (
	"errors"
	"fmt"
	"os"
)

// ErrFileNotFound is returned by CheckFileAccess for a missing workbook.
var ErrFileNotFound = errors.New("the file does not exist")

// CheckFileAccess verifies that path exists and can be opened for writing,
// which fails on Windows while the workbook is open in a spreadsheet app.
func CheckFileAccess(path string) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrFileNotFound
		}
		return fmt.Errorf("CheckFileAccess: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("access denied, is the file open or protected? (%w)", err)
	}
	return f.Close()
}
