// Package archive writes table exports to a directory tree:
//
//	{root}/{Normalize(baseName)}/{Normalize(tableName)}/schema.json
//	{root}/{Normalize(baseName)}/{Normalize(tableName)}/records.json
//
// Files are overwritten on every run. JSON is written with sorted object keys
// and two-space indentation so that consecutive backups diff cleanly.
package archive

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Sternrassler/airtable-backup/pkg/logging"
	"github.com/rs/zerolog"
)

// File names inside a table directory.
const (
	SchemaFile  = "schema.json"
	RecordsFile = "records.json"
)

const (
	dirPerm  = 0o755
	filePerm = 0o644
)

var nameReplacer = strings.NewReplacer(":", "-", "/", "|")

// Normalize makes a base or table name usable as a single path segment by
// replacing ":" with "-" and "/" with "|".
//
// The mapping is not injective: "a:b" and "a-b" land in the same directory.
func Normalize(name string) string {
	return nameReplacer.Replace(name)
}

// FilesystemError reports a failed directory creation or file write.
type FilesystemError struct {
	Op   string
	Path string
	Err  error
}

// Error implements the error interface.
func (e *FilesystemError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *FilesystemError) Unwrap() error {
	return e.Err
}

// Writer writes tables below a root directory.
type Writer struct {
	root   string
	logger zerolog.Logger
}

// NewWriter creates a writer rooted at root. Nothing is created until the
// first table is written.
func NewWriter(root string) *Writer {
	return &Writer{
		root:   root,
		logger: logging.NewLogger("archive"),
	}
}

// Root returns the backup root directory.
func (w *Writer) Root() string {
	return w.root
}

// TableDir returns the directory a table is written to.
func (w *Writer) TableDir(baseName, tableName string) string {
	return filepath.Join(w.root, Normalize(baseName), Normalize(tableName))
}

// Write creates the table directory (and parents) if needed and replaces
// schema.json and records.json.
func (w *Writer) Write(baseName, tableName string, schema, records any) error {
	dir := w.TableDir(baseName, tableName)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return &FilesystemError{Op: "mkdir", Path: dir, Err: err}
	}

	if err := writeJSON(filepath.Join(dir, SchemaFile), schema); err != nil {
		return err
	}
	if err := writeJSON(filepath.Join(dir, RecordsFile), records); err != nil {
		return err
	}

	w.logger.Debug().Str("dir", dir).Msg("Wrote table files")
	return nil
}

func writeJSON(path string, v any) error {
	data, err := MarshalSorted(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, filePerm); err != nil {
		return &FilesystemError{Op: "write", Path: path, Err: err}
	}
	return nil
}

// MarshalSorted encodes v as indented JSON with the keys of every object,
// at any depth, in sorted order. Numbers keep their original text.
func MarshalSorted(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	// Round-tripping through a generic value sorts object keys; UseNumber
	// stops large integers from turning into floats.
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(generic); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
