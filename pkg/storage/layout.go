package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ExtractedDirName is the subdirectory of the upload directory holding
// decompressed artifacts
const ExtractedDirName = "extracted"

// Layout resolves the directories of the receiving side under Base
type Layout struct {
	Base string
}

// UploadDirectory returns the directory for persisted compressed
// artifacts, creating it if needed
func (l Layout) UploadDirectory() (string, error) {
	return ensureDir(l.Base)
}

// ExtractedDirectory returns the directory for decompressed artifacts,
// creating it if needed
func (l Layout) ExtractedDirectory() (string, error) {
	return ensureDir(filepath.Join(l.Base, ExtractedDirName))
}

func ensureDir(dir string) (string, error) {
	if dir == "" {
		return "", fmt.Errorf("empty directory path")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", dir, err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return "", fmt.Errorf("create directory %s: %w", abs, err)
	}
	return abs, nil
}

// CompressedName is the persisted file name for an upload named name:
// its base name without extension, followed by ext.
func CompressedName(name, ext string) string {
	base := ExtractedName(name)
	return strings.TrimSuffix(base, filepath.Ext(base)) + ext
}

// ExtractedName is the output file name for an upload named name. Any
// directory components supplied by the sender are dropped.
func ExtractedName(name string) string {
	base := filepath.Base(filepath.Clean("/" + strings.ReplaceAll(name, "\\", "/")))
	if base == "/" || base == "." || base == "" {
		return "upload"
	}
	return base
}
