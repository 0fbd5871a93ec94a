package gcs

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"time"
)

const scheme = "gs://"

// IsURI reports whether s looks like a gs:// URI.
func IsURI(s string) bool {
	return strings.HasPrefix(s, scheme)
}

// URI builds gs://bucket/object.
func URI(bucket, object string) string {
	return scheme + bucket + "/" + object
}

// ParseURI splits gs://bucket/path/to/object into bucket and object path.
func ParseURI(uri string) (bucket, object string, err error) {
	if !IsURI(uri) {
		return "", "", fmt.Errorf("invalid GCS URI: %s", uri)
	}
	parts := strings.SplitN(strings.TrimPrefix(uri, scheme), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid GCS URI (no object path): %s", uri)
	}
	return parts[0], parts[1], nil
}

// FileName returns the last path element of a gs:// URI.
// e.g., "gs://bucket/folder/file.pdf" → "file.pdf"
func FileName(uri string) string {
	trimmed := strings.TrimPrefix(uri, scheme)
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) < 2 {
		return trimmed
	}
	return path.Base(parts[1])
}

// ArchiveObject names the object a local file is archived under:
// <prefix>/<YYYY-MM-DD>/<runID>/<basename>.
func ArchiveObject(prefix string, at time.Time, runID, localPath string) string {
	parts := []string{}
	if p := strings.Trim(prefix, "/"); p != "" {
		parts = append(parts, p)
	}
	parts = append(parts, at.Format("2006-01-02"), runID, filepath.Base(localPath))
	return path.Join(parts...)
}
