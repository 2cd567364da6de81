package edit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/oklog/ulid/v2"
)

const DefaultEditor = "vi"

// ResolveCommand picks the editor: configured value, then $VISUAL, then $EDITOR, then vi.
func ResolveCommand(configured string) string {
	for _, c := range []string{configured, os.Getenv("VISUAL"), os.Getenv("EDITOR")} {
		if strings.TrimSpace(c) != "" {
			return strings.TrimSpace(c)
		}
	}
	return DefaultEditor
}

// ExternalEditor runs an editor process on a transient file.
type ExternalEditor struct {
	// Command may carry arguments, e.g. "code --wait". A command naming an
	// existing file is run as is, spaces included. The file path is appended.
	Command string
	// Dir holds the transient file. Empty means os.TempDir().
	Dir    string
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

func (e ExternalEditor) Edit(ctx context.Context, content string) (string, error) {
	args := editorArgs(e.Command)
	if len(args) == 0 {
		return "", errors.New("no editor configured")
	}
	dir := e.Dir
	if dir == "" {
		dir = os.TempDir()
	}
	path := filepath.Join(dir, "tro-"+ulid.Make().String()+".md")
	defer os.Remove(path)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		return "", err
	}

	cmd := exec.CommandContext(ctx, args[0], append(args[1:], path)...)
	cmd.Stdin = orDefault(e.Stdin, os.Stdin)
	cmd.Stdout = writerOrDefault(e.Stdout, os.Stdout)
	cmd.Stderr = writerOrDefault(e.Stderr, os.Stderr)
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("run editor %q: %w", e.Command, err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func editorArgs(command string) []string {
	command = strings.TrimSpace(command)
	if command == "" {
		return nil
	}
	if fi, err := os.Stat(command); err == nil && !fi.IsDir() {
		return []string{command}
	}
	return strings.Fields(command)
}

func orDefault(r io.Reader, def io.Reader) io.Reader {
	if r == nil {
		return def
	}
	return r
}

func writerOrDefault(w io.Writer, def io.Writer) io.Writer {
	if w == nil {
		return def
	}
	return w
}
