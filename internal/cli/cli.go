package cli

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/amirbrooks/tro/internal/config"
	"github.com/amirbrooks/tro/internal/document"
	"github.com/amirbrooks/tro/internal/edit"
	"github.com/amirbrooks/tro/internal/find"
	"github.com/amirbrooks/tro/internal/logging"
	"github.com/amirbrooks/tro/internal/store"
	"github.com/amirbrooks/tro/internal/trello"
)

// Exit codes
const (
	ExitOK       = 0
	ExitUsage    = 2
	ExitNotFound = 3
	ExitConflict = 4
	ExitInternal = 10
)

type GlobalFlags struct {
	Config        string
	Backend       string
	Root          string
	CaseSensitive bool
	JSON          bool
	Quiet         bool
	Verbose       bool
}

// App carries the streams and collaborators of one invocation.
// Zero-valued fields fall back to the process defaults.
type App struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	// Editor replaces the external editor process.
	Editor edit.Editor
	// Client replaces the backend chosen from config and flags.
	Client trello.Client
}

// env is the per-run state handed to every command.
type env struct {
	app    *App
	gf     GlobalFlags
	cfg    *config.Config
	log    *logrus.Logger
	client trello.Client
}

func Run(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	app := &App{Stdin: os.Stdin, Stdout: os.Stdout, Stderr: os.Stderr}
	return app.Run(ctx, args)
}

func (a *App) Run(ctx context.Context, args []string) int {
	a.defaults()
	gf, rest, err := extractGlobalFlags(args)
	if err != nil {
		fmt.Fprintln(a.Stderr, err.Error())
		return ExitUsage
	}

	if len(rest) == 0 {
		a.printHelp()
		return ExitUsage
	}

	cmd := rest[0]
	cmdArgs := rest[1:]

	switch cmd {
	case "help", "--help", "-h":
		a.printHelp()
		return ExitOK
	}

	cfg, err := config.Load(gf.Config)
	if err != nil {
		fmt.Fprintln(a.Stderr, "tro:", err)
		return ExitUsage
	}
	if gf.Backend != "" {
		cfg.Backend = strings.ToLower(gf.Backend)
	}
	if gf.Root != "" {
		cfg.Root = config.ExpandHome(gf.Root)
	}
	e := &env{app: a, gf: gf, cfg: cfg, log: newLogger(a.Stderr, gf, cfg)}
	e.log.WithFields(logrus.Fields{"command": cmd, "backend": cfg.Backend, "config": cfg.Path}).Debug("starting")

	switch cmd {
	case "show", "ls":
		return cmdShow(ctx, e, cmdArgs)
	case "close":
		return cmdSetClosed(ctx, e, "close", cmdArgs, true)
	case "open", "reopen":
		return cmdSetClosed(ctx, e, "open", cmdArgs, false)
	case "create", "new":
		return cmdCreate(ctx, e, cmdArgs)
	case "edit":
		return cmdEdit(ctx, e, cmdArgs)
	case "config", "cfg":
		return cmdConfig(e, cmdArgs)
	default:
		fmt.Fprintf(a.Stderr, "Unknown command: %s\n\n", cmd)
		a.printHelp()
		return ExitUsage
	}
}

func (a *App) defaults() {
	if a.Stdin == nil {
		a.Stdin = os.Stdin
	}
	if a.Stdout == nil {
		a.Stdout = os.Stdout
	}
	if a.Stderr == nil {
		a.Stderr = os.Stderr
	}
}

func (a *App) printHelp() {
	fmt.Fprint(a.Stdout, `tro — Trello from the terminal

Usage:
  tro [global flags] <command> [board] [list] [card]

Board, list and card are regular expressions matched against names
(case-insensitive unless --case-sensitive). Each must match exactly one object.
Use - as the list to search cards across every list of the board.

Global flags:
  --config <path>      Config file (default: <user config dir>/tro/config.yaml)
  --backend <name>     trello|local (default from config, else trello)
  --root <path>        Local backend root (default: ~/.tro/local or TRO_ROOT)
  --case-sensitive     Match names case-sensitively
  --json               Print JSON to stdout
  --verbose            Debug logging to stderr
  --quiet              Only warnings and errors on stderr

Commands:
  show [board] [list] [card]     List boards, or show a board, list or card
    --all                        Include closed objects
  close <board> [list] [card]    Close the deepest matched object
  open <board> [list] [card]     Reopen a closed board, list or card
  create [board] [list]          Create a board (--name), a list (--name) or a card (editor)
    --name <name>
  edit <board> <list|-> <card>   Edit a card's name and description in $EDITOR
  config show                    Print the effective config (secrets masked)
  config init [--force]          Write a starter config file

Examples:
  tro show
  tro show work todo
  tro edit work - "report"
  tro close work doing "^fix"
`)
}

func extractGlobalFlags(args []string) (GlobalFlags, []string, error) {
	// Allow flags anywhere by scanning and stripping known globals.
	gf := GlobalFlags{}
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		a := args[i]
		if a == "--" {
			out = append(out, args[i:]...)
			break
		}
		name, value, hasValue := strings.Cut(a, "=")
		switch name {
		case "--config", "--backend", "--root":
			if !hasValue {
				if i+1 >= len(args) {
					return gf, nil, fmt.Errorf("%s requires a value", name)
				}
				value = args[i+1]
				i++
			}
			switch name {
			case "--config":
				gf.Config = value
			case "--backend":
				gf.Backend = value
			case "--root":
				gf.Root = value
			}
		case "--case-sensitive":
			gf.CaseSensitive = true
		case "--json":
			gf.JSON = true
		case "--quiet", "-q":
			gf.Quiet = true
		case "--verbose", "-v":
			gf.Verbose = true
		default:
			out = append(out, a)
		}
	}
	if gf.Quiet && gf.Verbose {
		return gf, nil, errors.New("--quiet and --verbose are mutually exclusive")
	}
	if gf.Backend != "" {
		switch strings.ToLower(gf.Backend) {
		case config.BackendTrello, config.BackendLocal:
		default:
			return gf, nil, fmt.Errorf("--backend must be %s or %s", config.BackendTrello, config.BackendLocal)
		}
	}
	return gf, out, nil
}

// reorderFlags moves flags ahead of positionals so flag.FlagSet sees them.
// A lone "-" is the list wildcard, not a flag.
func reorderFlags(args []string, takesValue map[string]bool) []string {
	if len(args) == 0 {
		return args
	}
	var flags []string
	var rest []string
	for i := 0; i < len(args); i++ {
		a := args[i]
		if a == "--" {
			if i+1 < len(args) {
				rest = append(rest, args[i+1:]...)
			}
			break
		}
		if strings.HasPrefix(a, "-") && a != find.Wildcard {
			flags = append(flags, a)
			if takesValue[a] && !strings.Contains(a, "=") {
				if i+1 < len(args) {
					flags = append(flags, args[i+1])
					i++
				}
			}
			continue
		}
		rest = append(rest, a)
	}
	if len(rest) > 0 {
		flags = append(flags, "--")
	}
	return append(flags, rest...)
}

// dropTerminator removes the first "--" for commands that take no flags.
func dropTerminator(args []string) []string {
	for i, a := range args {
		if a == "--" {
			out := append([]string{}, args[:i]...)
			return append(out, args[i+1:]...)
		}
	}
	return args
}

func newLogger(w io.Writer, gf GlobalFlags, cfg *config.Config) *logrus.Logger {
	level := cfg.Level()
	if gf.Verbose {
		level = logrus.DebugLevel
	}
	if gf.Quiet {
		level = logrus.WarnLevel
	}
	return logging.New(w, level)
}

func (e *env) backend() (trello.Client, error) {
	if e.client != nil {
		return e.client, nil
	}
	if e.app.Client != nil {
		e.client = e.app.Client
		return e.client, nil
	}
	if err := e.cfg.Validate(); err != nil {
		return nil, err
	}
	switch e.cfg.Backend {
	case config.BackendLocal:
		ws, err := store.Open(e.cfg.Root)
		if err != nil {
			return nil, err
		}
		ws.Log = e.log
		e.client = ws
	default:
		opts := []trello.Option{trello.WithLogger(e.log)}
		if e.cfg.Timeout > 0 {
			opts = append(opts, trello.WithHTTPClient(&http.Client{Timeout: e.cfg.Timeout}))
		}
		e.client = trello.NewHTTPClient(e.cfg.Host, e.cfg.Key, e.cfg.Token, opts...)
	}
	return e.client, nil
}

func (e *env) resolver(client trello.Client, strategy find.Strategy) *find.Resolver {
	return &find.Resolver{
		Client:     client,
		IgnoreCase: !e.gf.CaseSensitive,
		Strategy:   strategy,
		Log:        e.log,
	}
}

func (e *env) session() *edit.Session {
	ed := e.app.Editor
	if ed == nil {
		ed = edit.ExternalEditor{
			Command: edit.ResolveCommand(e.cfg.Editor),
			Stdin:   e.app.Stdin,
			Stdout:  e.app.Stdout,
			Stderr:  e.app.Stderr,
		}
	}
	return &edit.Session{Editor: ed, Log: e.log}
}

func (e *env) writeJSON(v any) int {
	enc := json.NewEncoder(e.app.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintln(e.app.Stderr, "json:", err)
		return ExitInternal
	}
	return ExitOK
}

func (e *env) fail(cmd string, err error) int {
	fmt.Fprintf(e.app.Stderr, "%s: %v\n", cmd, err)
	return exitCode(err)
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, find.ErrAmbiguous):
		return ExitConflict
	case errors.Is(err, find.ErrNotFound), errors.Is(err, trello.ErrNotFound):
		return ExitNotFound
	case errors.Is(err, errUsage),
		errors.Is(err, find.ErrInvalidPattern),
		errors.Is(err, find.ErrWildcardRequiresCard),
		errors.Is(err, document.ErrMalformed),
		errors.Is(err, edit.ErrCardNotCreated),
		errors.Is(err, store.ErrInvalid),
		errors.Is(err, config.ErrInvalid):
		return ExitUsage
	default:
		return ExitInternal
	}
}

var errUsage = errors.New("usage")

var slotNames = [...]string{"board", "list", "card"}

// positional splits at most three name patterns into Params. A pattern
// that is given must not be empty.
func positional(args []string) (find.Params, error) {
	if len(args) > len(slotNames) {
		return find.Params{}, fmt.Errorf("%w: at most %d patterns, got %d", errUsage, len(slotNames), len(args))
	}
	for i, a := range args {
		if a == "" {
			return find.Params{}, fmt.Errorf("%w: empty %s pattern", errUsage, slotNames[i])
		}
	}
	var p find.Params
	if len(args) > 0 {
		p.Board = args[0]
	}
	if len(args) > 1 {
		p.List = args[1]
	}
	if len(args) > 2 {
		p.Card = args[2]
	}
	return p, nil
}

func cmdShow(ctx context.Context, e *env, args []string) int {
	args = reorderFlags(args, map[string]bool{"--all": false})
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	fs.SetOutput(e.app.Stderr)
	all := fs.Bool("all", false, "Include closed boards, lists and cards")
	if err := fs.Parse(args); err != nil {
		return ExitUsage
	}
	p, err := positional(fs.Args())
	if err != nil {
		fmt.Fprintln(e.app.Stderr, "Usage: tro show [board] [list] [card]")
		return e.fail("show", err)
	}
	client, err := e.backend()
	if err != nil {
		return e.fail("show", err)
	}
	filter := trello.FilterOpen
	if *all {
		filter = trello.FilterAll
	}

	p.IncludeClosed = *all
	if p.Board == "" {
		boards, err := client.Boards(ctx, filter)
		if err != nil {
			return e.fail("show", err)
		}
		if e.gf.JSON {
			return e.writeJSON(map[string]any{"boards": boards})
		}
		renderBoards(e.app.Stdout, boards)
		return ExitOK
	}

	res, err := e.resolver(client, find.Nested).Resolve(ctx, p)
	if err != nil {
		return e.fail("show", err)
	}
	switch {
	case res.Card != nil:
		if e.gf.JSON {
			return e.writeJSON(map[string]any{"card": res.Card})
		}
		renderCard(e.app.Stdout, *res.Card)
	case res.List != nil:
		if e.gf.JSON {
			return e.writeJSON(map[string]any{"list": res.List})
		}
		renderList(e.app.Stdout, *res.List)
	default:
		if e.gf.JSON {
			return e.writeJSON(map[string]any{"board": res.Board})
		}
		renderBoard(e.app.Stdout, *res.Board)
	}
	return ExitOK
}

// cmdSetClosed closes or reopens the deepest object the patterns resolve to.
func cmdSetClosed(ctx context.Context, e *env, name string, args []string, closed bool) int {
	args = dropTerminator(args)
	p, err := positional(args)
	if err != nil || len(args) == 0 {
		fmt.Fprintf(e.app.Stderr, "Usage: tro %s <board> [list] [card]\n", name)
		if err != nil {
			return e.fail(name, err)
		}
		return ExitUsage
	}
	client, err := e.backend()
	if err != nil {
		return e.fail(name, err)
	}
	// Reopening needs closed objects as candidates.
	p.IncludeClosed = !closed
	res, err := e.resolver(client, find.PerLevel).Resolve(ctx, p)
	if err != nil {
		return e.fail(name, err)
	}

	verb := "Closed"
	if !closed {
		verb = "Reopened"
	}
	var (
		kind, label string
		payload     any
		unchanged   bool
	)
	switch {
	case res.Card != nil:
		kind, label = "card", res.Card.Name
		unchanged = res.Card.Closed == closed
		if !unchanged {
			c := *res.Card
			c.Closed = closed
			payload, err = client.UpdateCard(ctx, c)
		}
	case res.List != nil:
		kind, label = "list", res.List.Name
		unchanged = res.List.Closed == closed
		if !unchanged {
			l := *res.List
			l.Closed = closed
			l.Cards = trello.Nested[trello.Card]{}
			payload, err = client.UpdateList(ctx, l)
		}
	default:
		kind, label = "board", res.Board.Name
		unchanged = res.Board.Closed == closed
		if !unchanged {
			b := *res.Board
			b.Closed = closed
			b.Lists = trello.Nested[trello.List]{}
			payload, err = client.UpdateBoard(ctx, b)
		}
	}
	if err != nil {
		return e.fail(name, err)
	}
	if unchanged {
		state := "open"
		if closed {
			state = "closed"
		}
		e.log.WithField(kind, label).Debug("nothing to update")
		fmt.Fprintf(e.app.Stdout, "%s '%s' is already %s\n", capitalize(kind), label, state)
		return ExitOK
	}
	if e.gf.JSON {
		return e.writeJSON(map[string]any{kind: payload})
	}
	fmt.Fprintf(e.app.Stdout, "%s %s '%s'\n", verb, kind, label)
	return ExitOK
}

func cmdCreate(ctx context.Context, e *env, args []string) int {
	args = reorderFlags(args, map[string]bool{"--name": true})
	fs := flag.NewFlagSet("create", flag.ContinueOnError)
	fs.SetOutput(e.app.Stderr)
	name := fs.String("name", "", "Name of the new board or list")
	if err := fs.Parse(args); err != nil {
		return ExitUsage
	}
	rest := fs.Args()
	if len(rest) > 2 {
		fmt.Fprintln(e.app.Stderr, "Usage: tro create [board] [list] [--name <name>]")
		return ExitUsage
	}
	p, err := positional(rest)
	if err != nil {
		return e.fail("create", err)
	}
	if p.List == find.Wildcard {
		fmt.Fprintln(e.app.Stderr, "create: the list wildcard cannot be used to create a card")
		return ExitUsage
	}
	if p.List == "" && strings.TrimSpace(*name) == "" {
		fmt.Fprintln(e.app.Stderr, "Usage: tro create [board] --name <name>")
		return ExitUsage
	}
	if p.List != "" && strings.TrimSpace(*name) != "" {
		fmt.Fprintln(e.app.Stderr, "create: --name names boards and lists; card names are written in the editor")
		return ExitUsage
	}
	client, err := e.backend()
	if err != nil {
		return e.fail("create", err)
	}

	if p.Board == "" {
		b, err := client.CreateBoard(ctx, *name)
		if err != nil {
			return e.fail("create", err)
		}
		if e.gf.JSON {
			return e.writeJSON(map[string]any{"board": b})
		}
		fmt.Fprintf(e.app.Stdout, "Created board '%s'\n", b.Name)
		return ExitOK
	}

	res, err := e.resolver(client, find.PerLevel).Resolve(ctx, p)
	if err != nil {
		return e.fail("create", err)
	}
	if res.List == nil {
		l, err := client.CreateList(ctx, res.Board.ID, *name)
		if err != nil {
			return e.fail("create", err)
		}
		if e.gf.JSON {
			return e.writeJSON(map[string]any{"list": l})
		}
		fmt.Fprintf(e.app.Stdout, "Created list '%s' on '%s'\n", l.Name, res.Board.Name)
		return ExitOK
	}

	in, err := e.session().NewCard(ctx)
	if err != nil {
		return e.fail("create", err)
	}
	c, err := client.CreateCard(ctx, res.List.ID, in)
	if err != nil {
		return e.fail("create", err)
	}
	if e.gf.JSON {
		return e.writeJSON(map[string]any{"card": c})
	}
	fmt.Fprintf(e.app.Stdout, "Created card '%s' in '%s'\n", c.Name, res.List.Name)
	return ExitOK
}

func cmdEdit(ctx context.Context, e *env, args []string) int {
	args = dropTerminator(args)
	p, err := positional(args)
	if err != nil || len(args) != 3 {
		fmt.Fprintln(e.app.Stderr, "Usage: tro edit <board> <list|-> <card>")
		if err != nil {
			return e.fail("edit", err)
		}
		return ExitUsage
	}
	client, err := e.backend()
	if err != nil {
		return e.fail("edit", err)
	}
	res, err := e.resolver(client, find.PerLevel).Resolve(ctx, p)
	if err != nil {
		return e.fail("edit", err)
	}
	if res.Card == nil {
		fmt.Fprintln(e.app.Stderr, "Usage: tro edit <board> <list|-> <card>")
		return ExitUsage
	}

	card, changed, err := e.session().Card(ctx, *res.Card)
	if err != nil {
		return e.fail("edit", err)
	}
	if !changed {
		fmt.Fprintf(e.app.Stdout, "No changes to card '%s'\n", card.Name)
		return ExitOK
	}
	updated, err := client.UpdateCard(ctx, card)
	if err != nil {
		return e.fail("edit", err)
	}
	if e.gf.JSON {
		return e.writeJSON(map[string]any{"card": updated})
	}
	fmt.Fprintf(e.app.Stdout, "Updated card '%s'\n", updated.Name)
	return ExitOK
}

func cmdConfig(e *env, args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(e.app.Stderr, "Usage: tro config <show|init> ...")
		return ExitUsage
	}
	switch args[0] {
	case "show":
		masked := e.cfg.Masked()
		if e.gf.JSON {
			return e.writeJSON(map[string]any{"config": masked, "path": e.cfg.Path})
		}
		b, err := yaml.Marshal(masked)
		if err != nil {
			return e.fail("config", err)
		}
		path := e.cfg.Path
		if path == "" {
			path = "(none, using defaults)"
		}
		fmt.Fprintf(e.app.Stdout, "# file: %s\n%s", path, b)
		return ExitOK
	case "init":
		fs := flag.NewFlagSet("config init", flag.ContinueOnError)
		fs.SetOutput(e.app.Stderr)
		force := fs.Bool("force", false, "Overwrite an existing config file")
		if err := fs.Parse(args[1:]); err != nil {
			return ExitUsage
		}
		path := e.gf.Config
		if path == "" {
			path = config.DefaultPath()
		}
		if err := config.WriteDefault(path, *force); err != nil {
			return e.fail("config", err)
		}
		if !e.gf.Quiet {
			fmt.Fprintln(e.app.Stdout, "Wrote config to:", path)
		}
		return ExitOK
	default:
		fmt.Fprintf(e.app.Stderr, "Unknown config subcommand: %s\n", args[0])
		return ExitUsage
	}
}
