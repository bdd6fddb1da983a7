package vault

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// File pairs a decoded document with its current location on disk.
type File struct {
	Path string
	Doc  *Document
}

// SkippedFile records a document the scanner could not index and why.
// Malformed files are diagnostics, never fatal: one bad file must not
// block indexing of the rest of the vault.
type SkippedFile struct {
	Path   string
	Reason string
}

// Scan walks the vault's entity directories and decodes every document.
// Files that fail to parse or validate are collected in the skipped list.
// Directories that do not exist yet are treated as empty.
func Scan(root string) ([]File, []SkippedFile, error) {
	var files []File
	var skipped []SkippedFile

	dirs := []string{TasksDir, ProjectsDir, PeopleDir, DailyLogsDir}
	for _, dir := range dirs {
		base := filepath.Join(root, dir)
		if _, err := os.Stat(base); os.IsNotExist(err) {
			continue
		}
		err := filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || !strings.HasSuffix(d.Name(), ".md") {
				return nil
			}
			doc, decodeErr := ReadFile(path)
			if decodeErr != nil {
				skipped = append(skipped, SkippedFile{Path: path, Reason: decodeErr.Error()})
				return nil
			}
			if err := doc.Validate(); err != nil {
				skipped = append(skipped, SkippedFile{Path: path, Reason: err.Error()})
				return nil
			}
			files = append(files, File{Path: path, Doc: doc})
			return nil
		})
		if err != nil {
			return nil, nil, fmt.Errorf("scan %s: %w", base, err)
		}
	}
	return files, skipped, nil
}
