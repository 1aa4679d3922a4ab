// Package editor opens entity documents in the user's $EDITOR.
package editor

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

const fallbackEditor = "vi"

// Document is one piece of text to show the user. When Path is set the file
// there is opened, and only created from Content if it does not exist yet.
// Otherwise Content is written to Name inside the scratch directory.
type Document struct {
	Name    string
	Path    string
	Content string
}

// Runner executes a prepared editor command. The TUI swaps this for one that
// suspends the terminal while the editor runs.
type Runner func(cmd *exec.Cmd) error

// Opener writes documents to disk and hands them to an editor.
type Opener struct {
	ScratchDir string
	Editor     string
	Run        Runner
}

// New returns an Opener using $VISUAL, then $EDITOR, then vi.
func New(scratchDir string) *Opener {
	return &Opener{ScratchDir: scratchDir, Editor: FromEnv(), Run: RunAttached}
}

// FromEnv picks the editor command from the environment.
func FromEnv() string {
	for _, key := range []string{"VISUAL", "EDITOR"} {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			return v
		}
	}
	return fallbackEditor
}

// RunAttached runs cmd on the current terminal and waits for it.
func RunAttached(cmd *exec.Cmd) error {
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

// Open materializes doc and runs the editor on it. It returns the file path.
func (o *Opener) Open(ctx context.Context, doc Document) (string, error) {
	path, err := o.materialize(doc)
	if err != nil {
		return "", err
	}
	cmd := o.command(ctx, path)
	run := o.Run
	if run == nil {
		run = RunAttached
	}
	if err := run(cmd); err != nil {
		return path, fmt.Errorf("run editor %s: %w", cmd.Path, err)
	}
	return path, nil
}

func (o *Opener) materialize(doc Document) (string, error) {
	if doc.Path != "" {
		if _, err := os.Stat(doc.Path); err == nil {
			return doc.Path, nil
		} else if !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("stat %s: %w", doc.Path, err)
		}
		return doc.Path, write(doc.Path, doc.Content)
	}

	name := filepath.Base(strings.TrimSpace(doc.Name))
	if name == "" || name == "." || name == ".." || name == string(filepath.Separator) {
		return "", fmt.Errorf("document has no usable name %q", doc.Name)
	}
	dir := o.ScratchDir
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "c8yview")
	}
	path := filepath.Join(dir, name)
	return path, write(path, doc.Content)
}

func (o *Opener) command(ctx context.Context, path string) *exec.Cmd {
	fields := strings.Fields(o.Editor)
	if len(fields) == 0 {
		fields = []string{fallbackEditor}
	}
	args := append(fields[1:len(fields):len(fields)], path)
	return exec.CommandContext(ctx, fields[0], args...)
}

func write(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
