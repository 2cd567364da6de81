package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amirbrooks/tro/internal/edit"
	"github.com/amirbrooks/tro/internal/store"
	"github.com/amirbrooks/tro/internal/trello"
)

type harness struct {
	t       *testing.T
	root    string
	cfgPath string
	editor  edit.Editor
	client  trello.Client
}

// countingClient counts the writes that reach the backend.
type countingClient struct {
	trello.Client
	cardUpdates int
}

func (c *countingClient) UpdateCard(ctx context.Context, card trello.Card) (trello.Card, error) {
	c.cardUpdates++
	return c.Client.UpdateCard(ctx, card)
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	for _, k := range []string{"TRO_BACKEND", "TRO_ROOT", "TRO_KEY", "TRO_TOKEN", "TRO_LOG_LEVEL"} {
		t.Setenv(k, "")
	}
	return &harness{
		t:       t,
		root:    filepath.Join(dir, "local"),
		cfgPath: filepath.Join(dir, "config.yaml"),
	}
}

func (h *harness) run(args ...string) (int, string, string) {
	h.t.Helper()
	var stdout, stderr bytes.Buffer
	app := &App{
		Stdin:  strings.NewReader(""),
		Stdout: &stdout,
		Stderr: &stderr,
		Editor: h.editor,
		Client: h.client,
	}
	full := append([]string{"--backend", "local", "--root", h.root, "--config", h.cfgPath}, args...)
	code := app.Run(context.Background(), full)
	return code, stdout.String(), stderr.String()
}

func (h *harness) mustRun(args ...string) string {
	h.t.Helper()
	code, out, errOut := h.run(args...)
	require.Equal(h.t, ExitOK, code, "args=%v stderr=%s", args, errOut)
	return out
}

func returning(text string) edit.EditorFunc {
	return func(context.Context, string) (string, error) { return text, nil }
}

// seed builds boards Work and Homework; Work has lists Todo and Doing and one card.
func seed(h *harness) {
	h.t.Helper()
	h.mustRun("create", "--name", "Work")
	h.mustRun("create", "--name", "Homework")
	h.mustRun("create", "^Work$", "--name", "Todo")
	h.mustRun("create", "^Work$", "--name", "Doing")
	h.editor = returning("Write report\n\nquarterly numbers\n")
	h.mustRun("create", "^Work$", "Todo")
	h.editor = nil
}

func TestCreateAndShow(t *testing.T) {
	h := newHarness(t)
	seed(h)

	out := h.mustRun("show")
	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "Work")
	assert.Contains(t, out, "Homework")

	out = h.mustRun("show", "^Work$")
	assert.Contains(t, out, "Todo\n  - Write report\n")
	assert.Contains(t, out, "Doing\n  (no cards)\n")

	out = h.mustRun("show", "^Work$", "todo")
	assert.True(t, strings.HasPrefix(out, "Todo\n"), out)

	out = h.mustRun("show", "^Work$", "todo", "report")
	assert.True(t, strings.HasPrefix(out, "Write report\n"), out)
	assert.Contains(t, out, "\nquarterly numbers\n")
}

func TestShowErrorsMapToExitCodes(t *testing.T) {
	h := newHarness(t)
	seed(h)

	code, _, errOut := h.run("show", "work")
	assert.Equal(t, ExitConflict, code)
	assert.Contains(t, errOut, "More than one Board found. Specify a more precise filter than 'work' (Found 'Work', 'Homework')")

	code, _, errOut = h.run("show", "^Work$", "Backlog")
	assert.Equal(t, ExitNotFound, code)
	assert.Contains(t, errOut, "List not found. Specify a more precise filter than 'Backlog'")

	code, _, _ = h.run("show", "[")
	assert.Equal(t, ExitUsage, code)

	code, _, errOut = h.run("show", "^Work$", "-")
	assert.Equal(t, ExitUsage, code)
	assert.Contains(t, errOut, "card name must be specified")

	code, _, _ = h.run("--case-sensitive", "show", "^work$")
	assert.Equal(t, ExitNotFound, code)
}

func TestEditUpdatesOnlyWhenChanged(t *testing.T) {
	h := newHarness(t)
	seed(h)
	ws, err := store.Open(h.root)
	require.NoError(t, err)
	counter := &countingClient{Client: ws}
	h.client = counter

	h.editor = edit.EditorFunc(func(_ context.Context, content string) (string, error) {
		return content, nil
	})
	out := h.mustRun("edit", "^Work$", "Todo", "report")
	assert.Equal(t, "No changes to card 'Write report'\n", out)
	assert.Equal(t, 0, counter.cardUpdates)

	h.editor = returning("Write final report\n\nquarterly numbers\n")
	out = h.mustRun("edit", "^Work$", "-", "report")
	assert.Equal(t, "Updated card 'Write final report'\n", out)
	assert.Equal(t, 1, counter.cardUpdates)

	h.editor = nil
	out = h.mustRun("show", "^Work$", "Todo", "final")
	assert.True(t, strings.HasPrefix(out, "Write final report\n"), out)
}

func TestEmptyPatternIsUsageError(t *testing.T) {
	h := newHarness(t)
	seed(h)

	code, _, errOut := h.run("close", "^Work$", "", "report")
	assert.Equal(t, ExitUsage, code)
	assert.Contains(t, errOut, "empty list pattern")
	out := h.mustRun("show", "^Work$", "Todo")
	assert.Contains(t, out, "Write report", "board and card stay open")

	code, _, _ = h.run("show", "", "Todo")
	assert.Equal(t, ExitUsage, code)

	called := false
	h.editor = edit.EditorFunc(func(_ context.Context, content string) (string, error) {
		called = true
		return content, nil
	})
	code, _, errOut = h.run("edit", "^Work$", "Todo", "")
	assert.Equal(t, ExitUsage, code)
	assert.Contains(t, errOut, "Usage: tro edit")
	assert.False(t, called, "editor must not open without a card")
}

func TestTerminatorIsNotAPattern(t *testing.T) {
	h := newHarness(t)
	seed(h)

	out := h.mustRun("close", "--", "Homework")
	assert.Equal(t, "Closed board 'Homework'\n", out)

	out = h.mustRun("show", "--", "^Work$", "Todo")
	assert.True(t, strings.HasPrefix(out, "Todo\n"), out)

	h.editor = returning("Write report\n\nquarterly numbers, final\n")
	out = h.mustRun("edit", "--", "^Work$", "Todo", "report")
	assert.Equal(t, "Updated card 'Write report'\n", out)
}

func TestEditMalformedDocumentIsUsageError(t *testing.T) {
	h := newHarness(t)
	seed(h)

	h.editor = returning("\n\n")
	code, _, errOut := h.run("edit", "^Work$", "Todo", "report")
	assert.Equal(t, ExitUsage, code)
	assert.Contains(t, errOut, "edit:")

	h.editor = nil
	out := h.mustRun("show", "^Work$", "Todo", "report")
	assert.True(t, strings.HasPrefix(out, "Write report\n"), "card is left untouched")
}

func TestCreateCardWithPlaceholderNameIsRejected(t *testing.T) {
	h := newHarness(t)
	seed(h)

	h.editor = returning(edit.PlaceholderName + "\n\n" + edit.PlaceholderDesc)
	code, _, errOut := h.run("create", "^Work$", "Doing")
	assert.Equal(t, ExitUsage, code)
	assert.Contains(t, errOut, "card not created")

	h.editor = nil
	out := h.mustRun("show", "^Work$", "Doing")
	assert.Contains(t, out, "(no cards)")
}

func TestCloseAndReopen(t *testing.T) {
	h := newHarness(t)
	seed(h)

	out := h.mustRun("close", "^Work$", "Todo", "report")
	assert.Equal(t, "Closed card 'Write report'\n", out)

	out = h.mustRun("show", "^Work$", "Todo")
	assert.NotContains(t, out, "Write report")

	out = h.mustRun("show", "--all", "^Work$", "Todo")
	assert.Contains(t, out, "Write report (closed)")

	code, _, _ := h.run("close", "^Work$", "Todo", "report")
	assert.Equal(t, ExitNotFound, code, "closed cards are not candidates for close")

	out = h.mustRun("open", "^Work$", "Todo", "report")
	assert.Equal(t, "Reopened card 'Write report'\n", out)

	out = h.mustRun("open", "^Work$", "Todo", "report")
	assert.Equal(t, "Card 'Write report' is already open\n", out)

	out = h.mustRun("close", "Homework")
	assert.Equal(t, "Closed board 'Homework'\n", out)
	out = h.mustRun("show", "work")
	assert.True(t, strings.HasPrefix(out, "Work\n"), "only one open board matches now")
}

func TestShowJSON(t *testing.T) {
	h := newHarness(t)
	seed(h)

	out := h.mustRun("--json", "show", "^Work$")
	var payload struct {
		Board struct {
			Name  string `json:"name"`
			Lists []struct {
				Name  string `json:"name"`
				Cards []struct {
					Name string `json:"name"`
					Desc string `json:"desc"`
				} `json:"cards"`
			} `json:"lists"`
		} `json:"board"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &payload))
	require.Equal(t, "Work", payload.Board.Name)
	require.Len(t, payload.Board.Lists, 2)
	require.Len(t, payload.Board.Lists[0].Cards, 1)
	require.Equal(t, "quarterly numbers", payload.Board.Lists[0].Cards[0].Desc)
	require.NotNil(t, payload.Board.Lists[1].Cards)
}

func TestUsageErrors(t *testing.T) {
	h := newHarness(t)

	code, _, _ := h.run()
	assert.Equal(t, ExitUsage, code)

	code, _, errOut := h.run("frobnicate")
	assert.Equal(t, ExitUsage, code)
	assert.Contains(t, errOut, "Unknown command: frobnicate")

	code, _, _ = h.run("edit", "Work", "Todo")
	assert.Equal(t, ExitUsage, code)

	code, _, _ = h.run("create")
	assert.Equal(t, ExitUsage, code)

	code, _, _ = h.run("create", "Work", "-")
	assert.Equal(t, ExitUsage, code)

	code, _, _ = h.run("--backend", "jira", "show")
	assert.Equal(t, ExitUsage, code)
}

func TestConfigInitAndShowMasksSecrets(t *testing.T) {
	h := newHarness(t)

	out := h.mustRun("config", "init")
	assert.Contains(t, out, h.cfgPath)
	_, err := os.Stat(h.cfgPath)
	require.NoError(t, err)

	code, _, _ := h.run("config", "init")
	assert.Equal(t, ExitInternal, code, "existing file needs --force")
	h.mustRun("config", "init", "--force")

	t.Setenv("TRO_TOKEN", "supersecret")
	out = h.mustRun("config", "show")
	assert.Contains(t, out, "# file: "+h.cfgPath)
	assert.Contains(t, out, "*******cret")
	assert.NotContains(t, out, "supersecret")
}

func TestTrelloBackendRequiresCredentials(t *testing.T) {
	h := newHarness(t)
	var stdout, stderr bytes.Buffer
	app := &App{Stdout: &stdout, Stderr: &stderr}
	code := app.Run(context.Background(), []string{"--config", h.cfgPath, "--backend", "trello", "show"})
	assert.Equal(t, ExitUsage, code)
	assert.Contains(t, stderr.String(), "missing key, token")
}

func TestTrelloBackendFromConfigFile(t *testing.T) {
	h := newHarness(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/1/members/me/boards", r.URL.Path)
		assert.Equal(t, "k", r.URL.Query().Get("key"))
		assert.Equal(t, "t", r.URL.Query().Get("token"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id":"b1","name":"Remote board","closed":false}]`))
	}))
	defer srv.Close()
	cfg := "host: " + srv.URL + "\nkey: k\ntoken: t\nbackend: trello\ntimeout: 5s\n"
	require.NoError(t, os.WriteFile(h.cfgPath, []byte(cfg), 0o600))

	var stdout, stderr bytes.Buffer
	app := &App{Stdout: &stdout, Stderr: &stderr}
	code := app.Run(context.Background(), []string{"--config", h.cfgPath, "show"})
	require.Equal(t, ExitOK, code, stderr.String())
	assert.Contains(t, stdout.String(), "Remote board")
	assert.Contains(t, stdout.String(), "b1")
}

func TestReorderFlagsKeepsWildcardPositional(t *testing.T) {
	got := reorderFlags([]string{"Work", "-", "card", "--name", "x"}, map[string]bool{"--name": true})
	assert.Equal(t, []string{"--name", "x", "--", "Work", "-", "card"}, got)

	got = reorderFlags([]string{"--", "--name"}, map[string]bool{"--name": true})
	assert.Equal(t, []string{"--", "--name"}, got)
}
