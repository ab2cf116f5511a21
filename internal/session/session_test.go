package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/acolita/shellpilot/internal/adapters/realclock"
	"github.com/acolita/shellpilot/internal/eventbus"
	"github.com/acolita/shellpilot/internal/sudo"
	"github.com/acolita/shellpilot/internal/testing/fakes/fakeclock"
	"github.com/acolita/shellpilot/internal/testing/fakes/fakepermission"
	"github.com/acolita/shellpilot/internal/testing/fakes/fakepty"
)

const (
	readyPrompt = "user@host:~$ "
	waitTimeout = 2 * time.Second
)

type harness struct {
	t        *testing.T
	clock    *fakeclock.Clock
	spawner  *fakepty.Spawner
	provider *fakepermission.Provider
	reg      *Registry
}

func newHarness(t *testing.T, opts ...RegistryOption) *harness {
	t.Helper()
	h := &harness{
		t:        t,
		clock:    fakeclock.New(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)),
		spawner:  fakepty.NewSpawner(),
		provider: fakepermission.New("s3cret"),
	}
	base := []RegistryOption{
		WithClock(h.clock),
		WithPermissionProvider(h.provider),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}
	h.reg = NewRegistry(h.spawner, append(base, opts...)...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
		defer cancel()
		_ = h.reg.Close(ctx)
	})
	return h
}

// start creates a session and brings it to the idle shell prompt.
func (h *harness) start(id string) (*Session, *fakepty.PTY) {
	h.t.Helper()
	s, p := h.spawn(id)
	p.Emit("Welcome\r\n" + readyPrompt)
	waitFor(h.t, "input enabled", s.InputEnabled)
	return s, p
}

// spawn creates a session that has not printed anything yet.
func (h *harness) spawn(id string) (*Session, *fakepty.PTY) {
	h.t.Helper()
	got, err := h.reg.Create(context.Background(), CreateRequest{ID: id})
	if err != nil {
		h.t.Fatalf("Create: %v", err)
	}
	s, err := h.reg.Get(got)
	if err != nil {
		h.t.Fatalf("Get: %v", err)
	}
	return s, h.spawner.Last()
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func waitResult(t *testing.T, f *Future) (Result, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	res, err := f.Wait(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("command %q did not resolve", f.Command())
	}
	return res, err
}

func submit(t *testing.T, s *Session, text string, force bool) *Future {
	t.Helper()
	f, err := s.Submit(context.Background(), text, force)
	if err != nil {
		t.Fatalf("Submit(%q): %v", text, err)
	}
	return f
}

func countWrites(p *fakepty.PTY, data string) int {
	n := 0
	for _, w := range p.Writes() {
		if w == data {
			n++
		}
	}
	return n
}

func TestSession_InputDisabledUntilShellReady(t *testing.T) {
	h := newHarness(t)
	s, p := h.spawn("s1")

	if s.InputEnabled() {
		t.Fatal("input enabled before the first prompt")
	}
	f := submit(t, s, "ls", false)
	if !f.Queued() {
		t.Error("command before ready was not queued")
	}
	if p.Written() != "" {
		t.Fatalf("wrote %q before the shell was ready", p.Written())
	}

	p.Emit("Last login: today\r\n" + readyPrompt)
	if !p.WaitForWrite("ls\r\n", waitTimeout) {
		t.Fatal("queued command not dispatched on ready")
	}
	if s.InputEnabled() {
		t.Error("input enabled while a command is in flight")
	}
}

func TestSession_CompletionResolvesWithOutput(t *testing.T) {
	h := newHarness(t)
	s, p := h.start("s1")

	f := submit(t, s, "ls", false)
	if f.Queued() {
		t.Fatal("command queued although input was enabled")
	}
	if got := p.Written(); got != "ls\r\n" {
		t.Fatalf("written = %q, want %q", got, "ls\r\n")
	}

	p.Emit("ls\r\nfile1  file2\r\n" + readyPrompt)
	res, err := waitResult(t, f)
	if err != nil {
		t.Fatalf("result error: %v", err)
	}
	if res.Outcome != OutcomeCompleted || res.ExitCode != 0 {
		t.Errorf("result = %+v, want completed/0", res)
	}
	if res.Output != "file1  file2" {
		t.Errorf("output = %q, want %q", res.Output, "file1  file2")
	}
	waitFor(t, "input re-enabled", s.InputEnabled)

	hist := s.History()
	if len(hist) != 1 || hist[0].Command != "ls" || hist[0].Outcome != OutcomeCompleted {
		t.Errorf("history = %+v", hist)
	}
}

func TestSession_QueueIsFIFOAndOneInFlight(t *testing.T) {
	h := newHarness(t)
	s, p := h.start("s1")

	a := submit(t, s, "echo a", false)
	b := submit(t, s, "echo b", false)
	c := submit(t, s, "echo c", false)

	if a.Queued() || !b.Queued() || !c.Queued() {
		t.Fatalf("queued = %v %v %v, want false true true", a.Queued(), b.Queued(), c.Queued())
	}
	if got := p.Writes(); len(got) != 1 || got[0] != "echo a\r\n" {
		t.Fatalf("writes = %q, want only the first command", got)
	}
	if info := s.Info(); info.Queued != 2 || info.InputEnabled {
		t.Errorf("info = %+v, want 2 queued and input disabled", info)
	}

	p.Emit("a\r\n" + readyPrompt)
	if !p.WaitForWrite("echo b\r\n", waitTimeout) {
		t.Fatal("second command not dispatched")
	}
	if _, err := waitResult(t, a); err != nil {
		t.Fatalf("a: %v", err)
	}
	if s.InputEnabled() {
		t.Error("input enabled while commands are queued")
	}
	if strings.Contains(p.Written(), "echo c") {
		t.Fatal("third command written before the second completed")
	}

	p.Emit("b\r\n" + readyPrompt)
	if !p.WaitForWrite("echo c\r\n", waitTimeout) {
		t.Fatal("third command not dispatched")
	}
	p.Emit("c\r\n" + readyPrompt)

	for _, f := range []*Future{b, c} {
		if _, err := waitResult(t, f); err != nil {
			t.Errorf("%s: %v", f.Command(), err)
		}
	}
	waitFor(t, "input enabled after drain", s.InputEnabled)

	want := []string{"echo a\r\n", "echo b\r\n", "echo c\r\n"}
	got := p.Writes()
	if len(got) != len(want) {
		t.Fatalf("writes = %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("write %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestSession_ForceBypassesQueue(t *testing.T) {
	h := newHarness(t)
	s, p := h.start("s1")

	submit(t, s, "sleep 100", false)
	queued := submit(t, s, "echo later", false)
	forced := submit(t, s, "echo now", true)

	if forced.Queued() {
		t.Error("forced command reported as queued")
	}
	if !p.WaitForWrite("echo now\r\n", waitTimeout) {
		t.Fatal("forced command not written")
	}
	if strings.Contains(p.Written(), "echo later") {
		t.Error("queued command written by force")
	}
	if !queued.Queued() {
		t.Error("second command not queued")
	}
}

func TestSession_SudoPreflight(t *testing.T) {
	h := newHarness(t)
	s, p := h.start("s1")

	f := submit(t, s, "sudo apt-get update", false)
	reqs := h.provider.CredentialRequests()
	if len(reqs) != 1 || reqs[0].Attempt != 0 || reqs[0].SessionID != "s1" || reqs[0].Command != "sudo apt-get update" {
		t.Fatalf("credential requests = %+v, want one preflight request", reqs)
	}
	if !p.WaitForWrite("sudo apt-get update\r\n", waitTimeout) {
		t.Fatal("command not written after preflight")
	}

	// The prompt is answered from the cache without asking again.
	p.Emit("[sudo] password for user: ")
	if !p.WaitForWrite("s3cret\r\n", waitTimeout) {
		t.Fatal("cached credential not written")
	}
	if n := len(h.provider.CredentialRequests()); n != 1 {
		t.Errorf("credential requests = %d, want 1", n)
	}

	p.Emit("\r\nHit:1 http://archive\r\n" + readyPrompt)
	if _, err := waitResult(t, f); err != nil {
		t.Fatalf("result error: %v", err)
	}

	// Once granted, later sudo commands skip the preflight.
	waitFor(t, "input enabled", s.InputEnabled)
	submit(t, s, "sudo ls /root", false)
	if n := len(h.provider.CredentialRequests()); n != 1 {
		t.Errorf("credential requests after grant = %d, want 1", n)
	}
}

func TestSession_SudoPreflightDenied(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*fakepermission.Provider)
	}{
		{"empty credential", func(p *fakepermission.Provider) { p.Credentials = nil }},
		{"provider error", func(p *fakepermission.Provider) { p.CredentialErr = errors.New("dialog closed") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			tt.setup(h.provider)
			s, p := h.start("s1")

			f := submit(t, s, "echo hi\nsudo reboot", false)
			_, err := waitResult(t, f)
			if !errors.Is(err, ErrPermissionDenied) {
				t.Fatalf("error = %v, want ErrPermissionDenied", err)
			}
			if p.Written() != "" {
				t.Errorf("wrote %q after a denied preflight", p.Written())
			}
			waitFor(t, "input enabled after denial", s.InputEnabled)
		})
	}
}

func TestSession_SudoGrantedDefaultSkipsPreflight(t *testing.T) {
	st := DefaultSettings()
	st.SudoGrantedDefault = true
	h := newHarness(t, WithSettings(st))
	s, p := h.start("s1")

	submit(t, s, "sudo true", false)
	if !p.WaitForWrite("sudo true\r\n", waitTimeout) {
		t.Fatal("command not written")
	}
	if n := len(h.provider.CredentialRequests()); n != 0 {
		t.Errorf("credential requests = %d, want 0", n)
	}
}

func TestSession_PasswordRetriesExceeded(t *testing.T) {
	st := DefaultSettings()
	st.SudoGrantedDefault = true
	h := newHarness(t, WithSettings(st))
	h.provider.Credentials = []string{"wrong1", "wrong2", "wrong3"}
	s, p := h.start("s1")

	f := submit(t, s, "sudo -k true", false)

	p.Emit("[sudo] password for user: ")
	if !p.WaitForWrite("wrong1\r\n", waitTimeout) {
		t.Fatal("first password not written")
	}
	p.Emit("\r\nSorry, try again.\r\n[sudo] password for user: ")
	if !p.WaitForWrite("wrong2\r\n", waitTimeout) {
		t.Fatal("second password not written")
	}
	p.Emit("\r\nSorry, try again.\r\n[sudo] password for user: ")
	if !p.WaitForWrite("wrong3\r\n", waitTimeout) {
		t.Fatal("third password not written")
	}
	p.Emit("\r\nSorry, try again.\r\n[sudo] password for user: ")

	_, err := waitResult(t, f)
	if !errors.Is(err, ErrPasswordRetriesExceeded) {
		t.Fatalf("error = %v, want ErrPasswordRetriesExceeded", err)
	}
	if !strings.Contains(err.Error(), sudo.SuggestFix(sudo.ErrorWrongPassword)) {
		t.Errorf("error = %q, want the wrong-password suggestion", err)
	}
	waitFor(t, "shell killed", p.WasKilled)
	waitFor(t, "session exited", func() bool { return s.Status() == StatusExited })

	reqs := h.provider.CredentialRequests()
	if len(reqs) != 3 {
		t.Fatalf("credential requests = %d, want 3", len(reqs))
	}
	for i, r := range reqs {
		if r.Attempt != i+1 {
			t.Errorf("request %d attempt = %d, want %d", i, r.Attempt, i+1)
		}
	}
}

func TestSession_PasswordRetrySucceeds(t *testing.T) {
	st := DefaultSettings()
	st.SudoGrantedDefault = true
	h := newHarness(t, WithSettings(st))
	h.provider.Credentials = []string{"typo", "right"}
	s, p := h.start("s1")

	f := submit(t, s, "sudo id", false)
	p.Emit("[sudo] password for user: ")
	if !p.WaitForWrite("typo\r\n", waitTimeout) {
		t.Fatal("first password not written")
	}
	p.Emit("\r\nSorry, try again.\r\n")
	p.Emit("[sudo] password for user: ")
	if !p.WaitForWrite("right\r\n", waitTimeout) {
		t.Fatal("second password not written")
	}
	p.Emit("\r\nuid=0(root)\r\n" + readyPrompt)

	res, err := waitResult(t, f)
	if err != nil {
		t.Fatalf("result error: %v", err)
	}
	if !strings.Contains(res.Output, "uid=0(root)") {
		t.Errorf("output = %q", res.Output)
	}
	if res.Hint != "" {
		t.Errorf("hint = %q after a successful retry", res.Hint)
	}
	if p.WasKilled() {
		t.Error("shell killed after a successful retry")
	}
}

func TestSession_PasswordProviderFailureKills(t *testing.T) {
	st := DefaultSettings()
	st.SudoGrantedDefault = true
	h := newHarness(t, WithSettings(st))
	h.provider.CredentialErr = errors.New("no terminal")
	s, p := h.start("s1")

	f := submit(t, s, "passwd", false)
	p.Emit("Current password: ")

	_, err := waitResult(t, f)
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("error = %v, want ErrPermissionDenied", err)
	}
	waitFor(t, "shell killed", p.WasKilled)
	waitFor(t, "session exited", func() bool { return s.Status() == StatusExited })
}

func TestSession_SudoGaveUpCompletes(t *testing.T) {
	st := DefaultSettings()
	st.SudoGrantedDefault = true
	h := newHarness(t, WithSettings(st))
	s, p := h.start("s1")

	f := submit(t, s, "sudo true", false)
	p.Emit("[sudo] password for user: ")
	if !p.WaitForWrite("s3cret\r\n", waitTimeout) {
		t.Fatal("password not written")
	}
	p.Emit("\r\nsudo: 1 incorrect password attempt\r\n" + readyPrompt)

	res, err := waitResult(t, f)
	if err != nil {
		t.Fatalf("result error: %v", err)
	}
	if res.Outcome != OutcomeCompleted {
		t.Errorf("outcome = %s, want completed", res.Outcome)
	}
	if want := sudo.SuggestFix(sudo.ErrorWrongPassword); res.Hint != want {
		t.Errorf("hint = %q, want %q", res.Hint, want)
	}
	if n := len(h.provider.CredentialRequests()); n != 1 {
		t.Errorf("credential requests = %d, want 1", n)
	}
}

func TestSession_SudoRefusalHint(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   sudo.ErrorType
	}{
		{"not in sudoers", "user is not in the sudoers file.  This incident will be reported.", sudo.ErrorNotInSudoers},
		{"not allowed", "Sorry, user deploy is not allowed to execute '/bin/rm' as root on web1.", sudo.ErrorNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := DefaultSettings()
			st.SudoGrantedDefault = true
			h := newHarness(t, WithSettings(st))
			s, p := h.start("s1")
			events, cancel := s.Subscribe()
			defer cancel()

			f := submit(t, s, "sudo rm /etc/motd", false)
			p.Emit("[sudo] password for user: ")
			if !p.WaitForWrite("s3cret\r\n", waitTimeout) {
				t.Fatal("password not written")
			}
			p.Emit("\r\n" + tt.output + "\r\n" + readyPrompt)

			res, err := waitResult(t, f)
			if err != nil {
				t.Fatalf("result error: %v", err)
			}
			if want := sudo.SuggestFix(tt.want); res.Hint != want {
				t.Errorf("hint = %q, want %q", res.Hint, want)
			}
			deadline := time.After(waitTimeout)
		loop:
			for {
				select {
				case e := <-events:
					if e.Type != eventbus.EventCommandCompleted {
						continue
					}
					if e.Error != res.Hint {
						t.Errorf("event error = %q, want the hint", e.Error)
					}
					break loop
				case <-deadline:
					t.Fatal("no command_completed event")
				}
			}
			if hist := s.History(); len(hist) != 1 || hist[0].Error != res.Hint {
				t.Errorf("history = %+v", hist)
			}
		})
	}
}

func TestSession_ConfirmationReplies(t *testing.T) {
	tests := []struct {
		name   string
		prompt string
		reply  string
	}{
		{"default yes", "Do you want to continue? [Y/n] ", "y\r\n"},
		{"default no", "Remove these files? [y/N] ", "y\r\n"},
		{"yes/no", "Are you sure you want to continue connecting (yes/no)? ", "yes\r\n"},
		{"unrecognized", "Press any key to continue", "y\r\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			s, p := h.start("s1")

			f := submit(t, s, "apt-get install foo", false)
			p.Emit("Reading package lists...\r\n" + tt.prompt)
			if !p.WaitForWrite(tt.reply, waitTimeout) {
				t.Fatalf("reply %q not written, got %q", tt.reply, p.Written())
			}

			p.Emit("\r\nDone\r\n" + readyPrompt)
			if _, err := waitResult(t, f); err != nil {
				t.Fatalf("result error: %v", err)
			}
			waitFor(t, "input enabled", s.InputEnabled)
		})
	}
}

func TestSession_ConfirmationAnsweredOnce(t *testing.T) {
	st := DefaultSettings()
	st.ConfirmationSettle = 50 * time.Millisecond
	st.ConfirmationReenable = 10 * time.Millisecond
	// A real clock keeps the answer pending while the duplicate arrives.
	h := newHarness(t, WithSettings(st), WithClock(realclock.New()))
	s, p := h.start("s1")

	submit(t, s, "rm -i a", false)
	p.Emit("Continue? [Y/n] ")
	p.Emit("Continue? [Y/n] ")

	if !p.WaitForWrite("y\r\n", waitTimeout) {
		t.Fatal("confirmation not answered")
	}
	time.Sleep(100 * time.Millisecond)
	if n := countWrites(p, "y\r\n"); n != 1 {
		t.Errorf("answered %d times, want 1", n)
	}
}

func TestSession_ConfirmationKeepsInputDisabledDuringCommand(t *testing.T) {
	h := newHarness(t)
	s, p := h.start("s1")

	submit(t, s, "apt-get remove foo", false)
	queued := submit(t, s, "echo next", false)

	p.Emit("Do you want to continue? [Y/n] ")
	if !p.WaitForWrite("y\r\n", waitTimeout) {
		t.Fatal("confirmation not answered")
	}
	time.Sleep(10 * time.Millisecond)
	if s.InputEnabled() {
		t.Error("input re-enabled while the command is still running")
	}
	if strings.Contains(p.Written(), "echo next") {
		t.Error("queued command written before completion")
	}

	p.Emit("\r\nRemoved\r\n" + readyPrompt)
	if !p.WaitForWrite("echo next\r\n", waitTimeout) {
		t.Fatal("queued command not dispatched after completion")
	}
	if queued.Resolved() {
		t.Error("queued command resolved before its own completion")
	}
}

func TestSession_Timeout(t *testing.T) {
	h := newHarness(t)
	s, p := h.start("s1")

	f := submit(t, s, "sleep 1000", false)
	p.Emit("working...\r\n")
	waitFor(t, "output consumed", func() bool { return strings.Contains(s.Output(), "working") })

	h.clock.Advance(5*time.Minute - time.Second)
	if f.Resolved() {
		t.Fatal("resolved before the timeout")
	}
	h.clock.Advance(time.Second)

	res, err := waitResult(t, f)
	if !errors.Is(err, ErrCommandTimeout) {
		t.Fatalf("error = %v, want ErrCommandTimeout", err)
	}
	if res.Outcome != OutcomeTimedOut {
		t.Errorf("outcome = %s, want timed_out", res.Outcome)
	}
	if !strings.Contains(res.Output, "working...") {
		t.Errorf("output = %q, want partial output", res.Output)
	}
	if s.Status() != StatusRunning {
		t.Error("session stopped after a timeout")
	}
	if s.InputEnabled() {
		t.Error("input enabled after a timeout")
	}

	if q := submit(t, s, "echo queued", false); !q.Queued() {
		t.Error("non-forced submit after timeout not queued")
	}
	submit(t, s, "\x03", true)
	if !p.WaitForWrite("\x03\r\n", waitTimeout) {
		t.Error("forced submit after timeout not written")
	}
}

func TestSession_LateCompletionIsIgnored(t *testing.T) {
	h := newHarness(t)
	s, p := h.start("s1")

	f := submit(t, s, "make", false)
	queued := submit(t, s, "echo after", false)
	h.clock.Advance(5 * time.Minute)

	if _, err := waitResult(t, f); !errors.Is(err, ErrCommandTimeout) {
		t.Fatalf("error = %v, want ErrCommandTimeout", err)
	}

	p.Emit("build finished\r\n" + readyPrompt)
	if !p.WaitForWrite("echo after\r\n", waitTimeout) {
		t.Fatal("queue not drained after the late prompt")
	}

	res, err := f.Wait(context.Background())
	if !errors.Is(err, ErrCommandTimeout) || res.Outcome != OutcomeTimedOut {
		t.Errorf("late completion changed the result: %+v, %v", res, err)
	}
	if queued.Resolved() {
		t.Error("queued command resolved early")
	}

	completed := 0
	for _, e := range s.History() {
		if e.Command == "make" {
			completed++
		}
	}
	if completed != 1 {
		t.Errorf("make resolved %d times, want 1", completed)
	}
}

func TestSession_ExitResolvesEverything(t *testing.T) {
	h := newHarness(t)
	s, p := h.start("s1")

	inFlight := submit(t, s, "exit 3", false)
	q1 := submit(t, s, "echo one", false)
	q2 := submit(t, s, "echo two", false)

	p.Exit(3)

	for _, f := range []*Future{inFlight, q1, q2} {
		res, err := waitResult(t, f)
		var exitErr *ExitError
		if !errors.As(err, &exitErr) || exitErr.Code != 3 {
			t.Errorf("%s: error = %v, want ExitError code 3", f.Command(), err)
		}
		if !errors.Is(err, ErrProcessExited) {
			t.Errorf("%s: error does not match ErrProcessExited", f.Command())
		}
		if res.ExitCode != 3 || res.Outcome != OutcomeExited {
			t.Errorf("%s: result = %+v", f.Command(), res)
		}
	}

	waitFor(t, "session exited", func() bool { return s.Status() == StatusExited })
	if !s.InputEnabled() {
		t.Error("input not enabled after exit")
	}
	if h.reg.Active() != "" {
		t.Errorf("active = %q after exit, want empty", h.reg.Active())
	}
	if info := s.Info(); info.ExitCode != 3 || info.EndedAt.IsZero() {
		t.Errorf("info = %+v", info)
	}
	if _, err := s.Submit(context.Background(), "ls", false); !errors.Is(err, ErrSessionNotRunning) {
		t.Errorf("submit after exit error = %v, want ErrSessionNotRunning", err)
	}
}

func TestSession_ApproveCommands(t *testing.T) {
	st := DefaultSettings()
	st.ApproveCommands = true
	h := newHarness(t, WithSettings(st))
	s, p := h.start("s1")

	h.provider.Approve = false
	f := submit(t, s, "rm -rf build", false)
	if _, err := waitResult(t, f); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("error = %v, want ErrPermissionDenied", err)
	}
	if p.Written() != "" {
		t.Fatalf("declined command written: %q", p.Written())
	}

	waitFor(t, "input enabled", s.InputEnabled)
	h.provider.Approve = true
	submit(t, s, "ls", false)
	if !p.WaitForWrite("ls\r\n", waitTimeout) {
		t.Fatal("approved command not written")
	}
	if n := len(h.provider.ConfirmationRequests()); n != 2 {
		t.Errorf("confirmation requests = %d, want 2", n)
	}
}

func TestSession_Subscribe(t *testing.T) {
	h := newHarness(t)
	s, p := h.start("s1")

	events, unsubscribe := s.Subscribe()
	defer unsubscribe()

	f := submit(t, s, "pwd", false)
	p.Emit("/home/user\r\n" + readyPrompt)
	if _, err := waitResult(t, f); err != nil {
		t.Fatal(err)
	}

	var got []string
	timeout := time.After(waitTimeout)
	for len(got) < 2 {
		select {
		case e := <-events:
			if e.SessionID != "s1" {
				t.Errorf("event for %q on session channel", e.SessionID)
			}
			got = append(got, string(e.Type))
		case <-timeout:
			t.Fatalf("events = %v", got)
		}
	}
	if got[0] != "command_dispatched" || got[1] != "command_completed" {
		t.Errorf("events = %v, want dispatched then completed", got)
	}
}

func TestCleanOutput(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		command    string
		dropPrompt bool
		want       string
	}{
		{"echo and prompt", "ls\r\na b\r\nuser@host:~$ ", "ls", true, "a b"},
		{"no echo", "a b\r\nuser@host:~$ ", "ls", true, "a b"},
		{"keep tail", "ls\r\npartial", "ls", false, "partial"},
		{"escapes", "\x1b[32mok\x1b[0m\r\nuser@host:~$ ", "true", true, "ok"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := cleanOutput(tt.raw, tt.command, tt.dropPrompt); got != tt.want {
				t.Errorf("cleanOutput = %q, want %q", got, tt.want)
			}
		})
	}
}
