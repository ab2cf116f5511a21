// Package console implements the interactive shellpilot REPL.
//
// Lines naming a built-in (ps, use, kill, new, history, clear, help, exit)
// are handled locally. Every other line is submitted to the active session,
// or to a new local session when none is active, and the console waits for
// the command to resolve before reading the next line.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"golang.org/x/term"

	"github.com/acolita/shellpilot/internal/adapters/realclock"
	"github.com/acolita/shellpilot/internal/ports"
	"github.com/acolita/shellpilot/internal/session"
)

const clearScreen = "\x1b[H\x1b[2J"

// Registry is the part of session.Registry the console drives.
type Registry interface {
	Create(ctx context.Context, req session.CreateRequest) (string, error)
	Kill(id string) error
	SwitchActive(id string) error
	Active() string
	List(filter session.ListFilter) []session.Info
	Submit(ctx context.Context, id, text string, force bool) (*session.Future, error)
}

var _ Registry = (*session.Registry)(nil)

// HistoryEntry is one line typed at the console.
type HistoryEntry struct {
	Line string
	At   time.Time
}

// Console reads lines from in and writes results to out.
type Console struct {
	reg     Registry
	in      *bufio.Scanner
	out     io.Writer
	clock   ports.Clock
	log     *slog.Logger
	fd      int
	history []HistoryEntry

	okStyle   lipgloss.Style
	errStyle  lipgloss.Style
	dimStyle  lipgloss.Style
	headStyle lipgloss.Style
}

// Option configures a Console.
type Option func(*Console)

// WithClock sets the clock used to timestamp history entries.
func WithClock(c ports.Clock) Option {
	return func(con *Console) {
		con.clock = c
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(con *Console) {
		con.log = l
	}
}

// WithTerminal marks out as the terminal with file descriptor fd. The
// console then prints prompts, clears the screen on "clear" and fits the
// process table to the terminal width.
func WithTerminal(fd int) Option {
	return func(con *Console) {
		con.fd = fd
	}
}

// New creates a console over reg.
func New(reg Registry, in io.Reader, out io.Writer, opts ...Option) *Console {
	c := &Console{
		reg:       reg,
		in:        bufio.NewScanner(in),
		out:       out,
		fd:        -1,
		okStyle:   lipgloss.NewStyle().Foreground(lipgloss.Color("2")),
		errStyle:  lipgloss.NewStyle().Foreground(lipgloss.Color("1")),
		dimStyle:  lipgloss.NewStyle().Faint(true),
		headStyle: lipgloss.NewStyle().Bold(true),
	}
	c.in.Buffer(make([]byte, 64*1024), 1024*1024)
	for _, opt := range opts {
		opt(c)
	}
	if c.clock == nil {
		c.clock = realclock.New()
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	return c
}

// History returns the lines typed so far.
func (c *Console) History() []HistoryEntry {
	return append([]HistoryEntry(nil), c.history...)
}

// Run reads and handles lines until "exit", end of input or ctx ends.
func (c *Console) Run(ctx context.Context) error {
	c.welcome()
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		c.prompt()
		if !c.in.Scan() {
			if err := c.in.Err(); err != nil {
				return fmt.Errorf("read input: %w", err)
			}
			return nil
		}
		line := strings.TrimSpace(c.in.Text())
		if line == "" {
			continue
		}
		c.history = append(c.history, HistoryEntry{Line: line, At: c.clock.Now()})
		if done := c.handle(ctx, line); done {
			return nil
		}
	}
}

// handle runs one line. It reports true when the console should stop.
func (c *Console) handle(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	arg := ""
	if len(fields) > 1 {
		arg = fields[1]
	}

	switch strings.ToLower(fields[0]) {
	case "exit", "quit":
		return true
	case "ps":
		c.listSessions(arg == "active")
	case "use":
		c.use(arg)
	case "kill":
		c.kill(arg)
	case "new":
		c.newSession(ctx, arg)
	case "history":
		c.printHistory()
	case "clear":
		if c.isTerminal() {
			fmt.Fprint(c.out, clearScreen)
		}
		c.welcome()
	case "help":
		c.help()
	default:
		c.execute(ctx, line)
	}
	return false
}

func (c *Console) use(id string) {
	if id == "" {
		c.fail("specify a session id; run \"ps\" to list sessions")
		return
	}
	if err := c.reg.SwitchActive(id); err != nil {
		c.fail(err.Error())
		return
	}
	if id == session.MainSession {
		c.ok("back to the main console")
		return
	}
	c.ok("switched to session " + id)
}

func (c *Console) kill(id string) {
	if id == "" {
		id = c.reg.Active()
	}
	if id == "" {
		c.fail("specify a session id; run \"ps\" to list sessions")
		return
	}
	if err := c.reg.Kill(id); err != nil {
		c.fail(err.Error())
		return
	}
	c.ok("killed session " + id)
}

func (c *Console) newSession(ctx context.Context, server string) {
	id, err := c.reg.Create(ctx, session.CreateRequest{Server: server})
	if err != nil {
		c.fail(err.Error())
		return
	}
	c.ok("started session " + id)
}

// execute submits line to the active session, starting one if needed, and
// prints the result.
func (c *Console) execute(ctx context.Context, line string) {
	id := c.reg.Active()
	if id == "" {
		created, err := c.reg.Create(ctx, session.CreateRequest{})
		if err != nil {
			c.fail(err.Error())
			return
		}
		id = created
		c.ok("started session " + id)
	}

	f, err := c.reg.Submit(ctx, id, line, false)
	if err != nil {
		c.fail(err.Error())
		return
	}
	if f.Queued() {
		c.dim("queued behind the running command")
	}

	res, err := f.Wait(ctx)
	if errors.Is(err, context.Canceled) && !f.Resolved() {
		return
	}
	if res.Output != "" {
		fmt.Fprintln(c.out, res.Output)
	}
	switch {
	case err == nil:
		if res.ExitCode != 0 {
			c.dim(fmt.Sprintf("exit code %d", res.ExitCode))
		}
	case errors.Is(err, session.ErrCommandTimeout):
		c.fail(err.Error() + "; the command may still be running")
	default:
		c.fail(err.Error())
	}
}

func (c *Console) listSessions(activeOnly bool) {
	infos := c.reg.List(session.ListFilter{ActiveOnly: activeOnly})
	if len(infos) == 0 {
		c.dim("no sessions")
		return
	}

	now := c.clock.Now()
	rows := make([][]string, 0, len(infos))
	for _, info := range infos {
		marker := ""
		if info.Active {
			marker = "*"
		}
		state := string(info.Status)
		if info.Status == session.StatusExited {
			state = fmt.Sprintf("exited (%d)", info.ExitCode)
		} else if !info.InputEnabled {
			state = "busy"
		}
		end := now
		if !info.EndedAt.IsZero() {
			end = info.EndedAt
		}
		rows = append(rows, []string{
			marker,
			info.ID,
			where(info.Server),
			state,
			fmt.Sprintf("%d", info.Queued),
			end.Sub(info.StartedAt).Truncate(time.Second).String(),
			info.LastCommand,
		})
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("", "ID", "WHERE", "STATE", "QUEUED", "UPTIME", "LAST COMMAND").
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return c.headStyle
			}
			return lipgloss.NewStyle()
		}).
		Rows(rows...)
	if w := c.width(); w > 0 {
		t = t.Width(w)
	}
	fmt.Fprintln(c.out, t.String())
}

func (c *Console) printHistory() {
	if len(c.history) == 0 {
		c.dim("no history")
		return
	}
	for i, h := range c.history {
		fmt.Fprintf(c.out, "%4d  %s  %s\n", i+1, h.At.Format("15:04:05"), h.Line)
	}
}

func (c *Console) welcome() {
	fmt.Fprintln(c.out, c.headStyle.Render("shellpilot console"))
	c.dim(`Commands run in the active session. Type "help" for built-ins.`)
}

func (c *Console) help() {
	fmt.Fprint(c.out, `ps [active]      list sessions
use <id>|main    switch the active session, "main" detaches
kill [id]        kill a session (default: the active one)
new [server]     start a session, local or on a configured server
history          show the lines typed in this console
clear            clear the screen
exit             leave the console
`)
}

func (c *Console) prompt() {
	if !c.isTerminal() {
		return
	}
	name := c.reg.Active()
	if name == "" {
		name = session.MainSession
	}
	fmt.Fprintf(c.out, "%s> ", name)
}

func (c *Console) isTerminal() bool {
	return c.fd >= 0 && term.IsTerminal(c.fd)
}

func (c *Console) width() int {
	if !c.isTerminal() {
		return 0
	}
	w, _, err := term.GetSize(c.fd)
	if err != nil {
		c.log.Debug("terminal size", slog.String("error", err.Error()))
		return 0
	}
	return w
}

func (c *Console) ok(msg string)   { fmt.Fprintln(c.out, c.okStyle.Render(msg)) }
func (c *Console) fail(msg string) { fmt.Fprintln(c.out, c.errStyle.Render(msg)) }
func (c *Console) dim(msg string)  { fmt.Fprintln(c.out, c.dimStyle.Render(msg)) }

func where(server string) string {
	if server == "" {
		return "local"
	}
	return server
}
