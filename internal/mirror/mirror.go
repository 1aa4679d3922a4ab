// Package mirror keeps a local copy of EPL application sources under the
// workspace so they can be edited and uploaded again.
package mirror

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/five82/c8yview/internal/entity"
)

const (
	// Dir is the mirror directory, relative to the workspace root.
	Dir = ".eplapps"
	// Ext is the extension of mirrored EPL sources.
	Ext = ".mon"
)

// PersistenceError reports a failed mirror write or prune for one file.
type PersistenceError struct {
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("mirror %s: %v", e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Writer writes application sources to {root}/.eplapps/{label}.mon.
type Writer struct {
	root string
}

// NewWriter returns a Writer rooted at workspace. An empty workspace uses the
// current directory.
func NewWriter(workspace string) (*Writer, error) {
	root := strings.TrimSpace(workspace)
	if root == "" {
		root = "."
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace: %w", err)
	}
	return &Writer{root: abs}, nil
}

// Root returns the absolute workspace root.
func (w *Writer) Root() string { return w.root }

// Path derives the mirror file path for an application label.
func (w *Writer) Path(label string) string {
	return filepath.Join(w.root, Dir, sanitize(label)+Ext)
}

// Write overwrites the mirror file for app with its detail payload.
func (w *Writer) Write(app entity.Node) (string, error) {
	path := w.Path(app.Label())
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return path, &PersistenceError{Path: path, Err: fmt.Errorf("create mirror dir: %w", err)}
	}
	if err := os.WriteFile(path, []byte(app.Detail()), 0o644); err != nil {
		return path, &PersistenceError{Path: path, Err: fmt.Errorf("write mirror: %w", err)}
	}
	return path, nil
}

// Read returns the mirrored content for label.
func (w *Writer) Read(label string) (string, error) {
	data, err := os.ReadFile(w.Path(label))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Prune removes mirror files whose labels are not in keep and returns the
// removed paths. A missing mirror directory is not an error.
func (w *Writer) Prune(keep []string) ([]string, error) {
	dir := filepath.Join(w.root, Dir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, &PersistenceError{Path: dir, Err: err}
	}

	wanted := make(map[string]struct{}, len(keep))
	for _, label := range keep {
		wanted[sanitize(label)+Ext] = struct{}{}
	}

	var removed []string
	var errs []error
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != Ext {
			continue
		}
		if _, ok := wanted[e.Name()]; ok {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if err := os.Remove(path); err != nil {
			errs = append(errs, &PersistenceError{Path: path, Err: err})
			continue
		}
		removed = append(removed, path)
	}
	return removed, errors.Join(errs...)
}

// Label recovers the application label from a mirror file name. Names that
// were not produced by Path come back without their extension only.
func Label(file string) string {
	name := strings.TrimSuffix(filepath.Base(file), Ext)
	switch name {
	case "%":
		return ""
	case "%2E", "%2E%2E":
		return strings.ReplaceAll(name, "%2E", ".")
	}
	if label, err := url.PathUnescape(name); err == nil {
		return label
	}
	return name
}

var escaper = strings.NewReplacer("%", "%25", "/", "%2F", "\\", "%5C", "\x00", "%00")

// sanitize keeps a label inside the mirror directory. Distinct labels always
// map to distinct names.
func sanitize(label string) string {
	switch label {
	case "":
		return "%"
	case ".", "..":
		return strings.ReplaceAll(label, ".", "%2E")
	}
	return escaper.Replace(label)
}
