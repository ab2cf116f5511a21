package mockssh

import (
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"
)

func dial(t *testing.T, s *Server, user, password string) *ssh.Client {
	t.Helper()
	client, err := ssh.Dial("tcp", s.Addr(), &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{ssh.Password(password)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         5 * time.Second,
	})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

// interactive starts a shell with a pty and returns its stdin and
// everything it prints.
func interactive(t *testing.T, client *ssh.Client) (*ssh.Session, io.Writer, *output) {
	t.Helper()
	sess, err := client.NewSession()
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	t.Cleanup(func() { sess.Close() })
	if err := sess.RequestPty("xterm-color", 30, 100, ssh.TerminalModes{}); err != nil {
		t.Fatalf("RequestPty: %v", err)
	}
	stdin, err := sess.StdinPipe()
	if err != nil {
		t.Fatal(err)
	}
	stdout, err := sess.StdoutPipe()
	if err != nil {
		t.Fatal(err)
	}
	if err := sess.Shell(); err != nil {
		t.Fatalf("Shell: %v", err)
	}
	out := &output{}
	go out.drain(stdout)
	return sess, stdin, out
}

type output struct {
	mu  sync.Mutex
	buf strings.Builder
}

func (o *output) drain(r io.Reader) {
	b := make([]byte, 1024)
	for {
		n, err := r.Read(b)
		o.mu.Lock()
		o.buf.Write(b[:n])
		o.mu.Unlock()
		if err != nil {
			return
		}
	}
}

func (o *output) String() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.buf.String()
}

func (o *output) waitFor(t *testing.T, want string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if strings.Contains(o.String(), want) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("output never contained %q, got %q", want, o.String())
}

func TestServer_StartStop(t *testing.T) {
	server, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if server.Host() != "127.0.0.1" || server.Port() == "" {
		t.Errorf("addr = %q", server.Addr())
	}
	if err := server.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestServer_Authentication(t *testing.T) {
	server, err := New(WithUser("testuser", "testpass"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer server.Close()

	dial(t, server, "testuser", "testpass")

	_, err = ssh.Dial("tcp", server.Addr(), &ssh.ClientConfig{
		User:            "testuser",
		Auth:            []ssh.AuthMethod{ssh.Password("wrongpass")},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         5 * time.Second,
	})
	if err == nil {
		t.Error("Dial succeeded with a wrong password")
	}
}

func TestServer_Exec(t *testing.T) {
	server, err := New(WithCommand("uptime", "up 3 days"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer server.Close()
	client := dial(t, server, "test", "test")

	tests := []struct {
		command  string
		want     string
		wantCode int
	}{
		{"echo mock_exec_ok", "mock_exec_ok\n", 0},
		{"uptime", "up 3 days\n", 0},
		{"whoami", "test\n", 0},
		{"nope", "mock: nope: command not found\n", 127},
	}
	for _, tt := range tests {
		sess, err := client.NewSession()
		if err != nil {
			t.Fatalf("NewSession: %v", err)
		}
		out, err := sess.CombinedOutput(tt.command)
		code := 0
		if exitErr, ok := err.(*ssh.ExitError); ok {
			code = exitErr.ExitStatus()
		} else if err != nil {
			t.Fatalf("%s: %v", tt.command, err)
		}
		if string(out) != tt.want || code != tt.wantCode {
			t.Errorf("%s = %q (exit %d), want %q (exit %d)", tt.command, out, code, tt.want, tt.wantCode)
		}
		sess.Close()
	}
}

func TestServer_ShellPromptAndEcho(t *testing.T) {
	server, err := New(WithUser("deploy", "pw"), WithHostname("web1"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer server.Close()
	_, stdin, out := interactive(t, dial(t, server, "deploy", "pw"))

	out.waitFor(t, "deploy@web1:~$ ")
	io.WriteString(stdin, "echo hello\r\n")
	out.waitFor(t, "echo hello\r\nhello\r\ndeploy@web1:~$ ")

	terms := server.Terminals()
	if len(terms) != 1 || terms[0] != (Terminal{Term: "xterm-color", Cols: 100, Rows: 30}) {
		t.Errorf("terminals = %+v", terms)
	}
}

func TestServer_SudoPassword(t *testing.T) {
	server, err := New(WithUser("deploy", "pw"), WithSudoPassword("s3cret"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer server.Close()
	_, stdin, out := interactive(t, dial(t, server, "deploy", "pw"))
	out.waitFor(t, "$ ")

	io.WriteString(stdin, "sudo whoami\r")
	out.waitFor(t, "[sudo] password for deploy: ")
	io.WriteString(stdin, "wrong\r")
	out.waitFor(t, "Sorry, try again.")
	io.WriteString(stdin, "s3cret\r")
	out.waitFor(t, "\r\nroot\r\n")

	if strings.Contains(out.String(), "s3cret") {
		t.Error("password echoed")
	}

	// The timestamp is cached like real sudo.
	io.WriteString(stdin, "sudo echo again\r")
	out.waitFor(t, "echo again\r\nagain\r\n")
	if n := strings.Count(out.String(), "[sudo] password"); n != 2 {
		t.Errorf("password prompts = %d, want 2", n)
	}

	got := server.Executed()
	want := []string{"sudo whoami", "sudo echo again"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("executed = %q, want %q", got, want)
	}
}

func TestServer_SudoGivesUp(t *testing.T) {
	server, err := New(WithSudoPassword("s3cret"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer server.Close()
	_, stdin, out := interactive(t, dial(t, server, "test", "test"))
	out.waitFor(t, "$ ")

	io.WriteString(stdin, "sudo ls\r")
	for i := 0; i < 3; i++ {
		io.WriteString(stdin, "bad\r")
	}
	out.waitFor(t, "sudo: 3 incorrect password attempts")
}

func TestServer_QuestionAndExit(t *testing.T) {
	server, err := New(WithQuestion("apt-get install nginx", "Do you want to continue? [Y/n] "))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer server.Close()
	sess, stdin, out := interactive(t, dial(t, server, "test", "test"))
	out.waitFor(t, "$ ")

	io.WriteString(stdin, "apt-get install nginx\r")
	out.waitFor(t, "[Y/n] ")
	io.WriteString(stdin, "y\r")
	out.waitFor(t, "answer: y")

	io.WriteString(stdin, "exit 4\r")
	err = sess.Wait()
	exitErr, ok := err.(*ssh.ExitError)
	if !ok || exitErr.ExitStatus() != 4 {
		t.Fatalf("Wait = %v, want exit status 4", err)
	}

	got := server.Executed()
	want := []string{"apt-get install nginx", "exit 4"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("executed = %q, want %q", got, want)
	}
}
