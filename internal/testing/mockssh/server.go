// Package mockssh runs an in-process SSH server for tests. Its shell is a
// small scripted interpreter rather than a real one: it prints a
// user@host prompt, echoes input the way a terminal does, and emulates
// sudo password prompts, so remote sessions behave the same on every
// machine.
package mockssh

import (
	"bufio"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/crypto/ssh"
)

// DefaultHostname is the host part of the prompt.
const DefaultHostname = "mock"

// Terminal describes a pty request received by the server.
type Terminal struct {
	Term string
	Cols int
	Rows int
}

// Server is a mock SSH server.
type Server struct {
	listener net.Listener
	config   *ssh.ServerConfig
	addr     string
	hostname string

	mu           sync.RWMutex
	users        map[string]string // username -> password
	sudoPassword string
	commands     map[string]string // command line -> output
	questions    map[string]string // command line -> question asked before answering

	done chan struct{}
	wg   sync.WaitGroup

	stateMu   sync.Mutex
	conns     map[*ssh.ServerConn]struct{}
	terminals []Terminal
	executed  []string
}

// Option configures the server.
type Option func(*Server)

// WithUser adds a user/password pair for authentication.
func WithUser(username, password string) Option {
	return func(s *Server) {
		s.users[username] = password
	}
}

// WithHostname sets the host shown in the prompt.
func WithHostname(name string) Option {
	return func(s *Server) {
		s.hostname = name
	}
}

// WithSudoPassword makes sudo ask for password. Without it sudo runs
// without asking.
func WithSudoPassword(password string) Option {
	return func(s *Server) {
		s.sudoPassword = password
	}
}

// WithCommand makes the shell print output when line is entered.
func WithCommand(line, output string) Option {
	return func(s *Server) {
		s.commands[line] = output
	}
}

// WithQuestion makes the shell ask question when line is entered and
// print "answer: <reply>" once a reply line arrives.
func WithQuestion(line, question string) Option {
	return func(s *Server) {
		s.questions[line] = question
	}
}

// New starts a server on a random local port.
func New(opts ...Option) (*Server, error) {
	_, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate host key: %w", err)
	}
	signer, err := ssh.NewSignerFromKey(key)
	if err != nil {
		return nil, fmt.Errorf("create signer: %w", err)
	}

	s := &Server{
		hostname:  DefaultHostname,
		users:     map[string]string{"test": "test"},
		commands:  make(map[string]string),
		questions: make(map[string]string),
		done:      make(chan struct{}),
		conns:     make(map[*ssh.ServerConn]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.config = &ssh.ServerConfig{
		PasswordCallback: func(c ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
			s.mu.RLock()
			expected, ok := s.users[c.User()]
			s.mu.RUnlock()
			if ok && string(password) == expected {
				return nil, nil
			}
			return nil, fmt.Errorf("password rejected for %q", c.User())
		},
	}
	s.config.AddHostKey(signer)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}
	s.listener = listener
	s.addr = listener.Addr().String()

	s.wg.Add(1)
	go s.acceptLoop()

	slog.Debug("mock SSH server started", slog.String("addr", s.addr))
	return s, nil
}

// Addr returns host:port.
func (s *Server) Addr() string {
	return s.addr
}

// Host returns the host part of the address.
func (s *Server) Host() string {
	host, _, _ := net.SplitHostPort(s.addr)
	return host
}

// Port returns the port the server listens on.
func (s *Server) Port() string {
	_, port, _ := net.SplitHostPort(s.addr)
	return port
}

// Terminals returns the pty requests received so far.
func (s *Server) Terminals() []Terminal {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return append([]Terminal(nil), s.terminals...)
}

// Executed returns every command line the shells ran, in order. Password
// replies are not included.
func (s *Server) Executed() []string {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return append([]string(nil), s.executed...)
}

// Close stops accepting, drops every connection and waits for the
// handlers to return.
func (s *Server) Close() error {
	close(s.done)
	err := s.listener.Close()

	s.stateMu.Lock()
	for c := range s.conns {
		c.Close()
	}
	s.stateMu.Unlock()

	s.wg.Wait()
	return err
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				slog.Debug("accept error", slog.String("error", err.Error()))
				continue
			}
		}
		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(netConn net.Conn) {
	defer s.wg.Done()
	defer netConn.Close()

	conn, chans, reqs, err := ssh.NewServerConn(netConn, s.config)
	if err != nil {
		slog.Debug("SSH handshake failed", slog.String("error", err.Error()))
		return
	}
	s.stateMu.Lock()
	s.conns[conn] = struct{}{}
	s.stateMu.Unlock()
	defer func() {
		s.stateMu.Lock()
		delete(s.conns, conn)
		s.stateMu.Unlock()
		conn.Close()
	}()

	go ssh.DiscardRequests(reqs)

	for newChannel := range chans {
		if newChannel.ChannelType() != "session" {
			newChannel.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}
		channel, requests, err := newChannel.Accept()
		if err != nil {
			slog.Debug("channel accept failed", slog.String("error", err.Error()))
			continue
		}
		s.wg.Add(1)
		go s.handleChannel(conn.User(), channel, requests)
	}
}

// Request payloads, RFC 4254 section 6.
type ptyRequestMsg struct {
	Term     string
	Columns  uint32
	Rows     uint32
	Width    uint32
	Height   uint32
	Modelist string
}

type execMsg struct {
	Command string
}

type exitStatusMsg struct {
	Status uint32
}

func (s *Server) handleChannel(user string, channel ssh.Channel, requests <-chan *ssh.Request) {
	defer s.wg.Done()
	defer channel.Close()

	var hasPty bool
	for req := range requests {
		switch req.Type {
		case "pty-req":
			var msg ptyRequestMsg
			ok := ssh.Unmarshal(req.Payload, &msg) == nil
			if ok {
				hasPty = true
				s.stateMu.Lock()
				s.terminals = append(s.terminals, Terminal{Term: msg.Term, Cols: int(msg.Columns), Rows: int(msg.Rows)})
				s.stateMu.Unlock()
			}
			if req.WantReply {
				req.Reply(ok, nil)
			}

		case "shell":
			// Reply before running: the client blocks on the reply.
			if req.WantReply {
				req.Reply(hasPty, nil)
			}
			if hasPty {
				s.wg.Add(1)
				go func() {
					defer s.wg.Done()
					sh := s.newShell(user, channel, true)
					sendExitStatus(channel, sh.interact())
				}()
			}

		case "exec":
			var msg execMsg
			ok := ssh.Unmarshal(req.Payload, &msg) == nil
			if req.WantReply {
				req.Reply(ok, nil)
			}
			if ok {
				s.wg.Add(1)
				go func() {
					defer s.wg.Done()
					sh := s.newShell(user, channel, false)
					sendExitStatus(channel, sh.exec(msg.Command))
				}()
			}

		case "window-change", "env", "signal":
			if req.WantReply {
				req.Reply(true, nil)
			}

		default:
			if req.WantReply {
				req.Reply(false, nil)
			}
		}
	}
}

func sendExitStatus(channel ssh.Channel, code int) {
	channel.CloseWrite()
	channel.SendRequest("exit-status", false, ssh.Marshal(exitStatusMsg{Status: uint32(code)}))
	channel.Close()
}

// shell is one scripted interpreter bound to a channel.
type shell struct {
	srv  *Server
	user string
	in   *bufio.Reader
	out  io.Writer
	// tty selects terminal behavior: echo, CRLF line endings, a prompt.
	tty bool
	// sudoValid mirrors sudo's timestamp: after one accepted password
	// later sudo commands do not ask again.
	sudoValid bool
	// afterCR swallows the LF of a CRLF pair that arrives split.
	afterCR bool
}

func (s *Server) newShell(user string, channel ssh.Channel, tty bool) *shell {
	return &shell{srv: s, user: user, in: bufio.NewReader(channel), out: channel, tty: tty}
}

func (sh *shell) printf(format string, args ...any) {
	text := fmt.Sprintf(format, args...)
	if sh.tty {
		text = strings.ReplaceAll(text, "\n", "\r\n")
	}
	io.WriteString(sh.out, text)
}

func (sh *shell) prompt() {
	sh.printf("%s@%s:~$ ", sh.user, sh.srv.hostname)
}

// readLine reads one line terminated by CR, LF or CRLF. With echo the
// line is written back followed by a newline, as a terminal in cooked
// mode would.
func (sh *shell) readLine(echo bool) (string, error) {
	var b strings.Builder
	for {
		c, err := sh.in.ReadByte()
		if err != nil {
			return b.String(), err
		}
		afterCR := sh.afterCR
		sh.afterCR = c == '\r'
		switch c {
		case '\r', '\n':
			if c == '\n' && afterCR {
				continue
			}
			if sh.tty {
				if echo {
					io.WriteString(sh.out, b.String())
				}
				io.WriteString(sh.out, "\r\n")
			}
			return b.String(), nil
		case 0x03:
			// Ctrl+C discards the line.
			b.Reset()
			if sh.tty {
				io.WriteString(sh.out, "^C\r\n")
				sh.prompt()
			}
		default:
			b.WriteByte(c)
		}
	}
}

func (sh *shell) interact() int {
	sh.prompt()
	for {
		line, err := sh.readLine(true)
		if err != nil {
			return 0
		}
		if code, exit := sh.run(strings.TrimSpace(line)); exit {
			return code
		}
		sh.prompt()
	}
}

func (sh *shell) exec(command string) int {
	code, _ := sh.run(strings.TrimSpace(command))
	return code
}

// run records and executes one command line. exit reports that the shell
// should end.
func (sh *shell) run(line string) (code int, exit bool) {
	if line == "" {
		return 0, false
	}
	sh.srv.stateMu.Lock()
	sh.srv.executed = append(sh.srv.executed, line)
	sh.srv.stateMu.Unlock()
	return sh.dispatch(line)
}

// dispatch executes line without recording it.
func (sh *shell) dispatch(line string) (code int, exit bool) {
	name, args, _ := strings.Cut(line, " ")
	args = strings.TrimSpace(args)
	switch name {
	case "exit":
		if args == "" {
			return 0, true
		}
		n, err := strconv.Atoi(args)
		if err != nil {
			sh.printf("exit: %s: numeric argument required\n", args)
			return 2, true
		}
		return n, true
	case "echo":
		sh.printf("%s\n", strings.Trim(args, `"'`))
		return 0, false
	case "whoami":
		sh.printf("%s\n", sh.user)
		return 0, false
	case "true", "export", "unset", "cd", "stty":
		return 0, false
	case "false":
		return 1, false
	case "sudo":
		return sh.sudo(args), false
	}

	sh.srv.mu.RLock()
	output, known := sh.srv.commands[line]
	question, asks := sh.srv.questions[line]
	sh.srv.mu.RUnlock()
	switch {
	case asks:
		sh.printf("%s", question)
		reply, err := sh.readLine(true)
		if err != nil {
			return 1, true
		}
		sh.printf("answer: %s\n", reply)
		return 0, false
	case known:
		sh.printf("%s\n", output)
		return 0, false
	default:
		sh.printf("mock: %s: command not found\n", name)
		return 127, false
	}
}

const sudoAttempts = 3

// sudo asks for the password unless none is configured or a previous
// attempt succeeded, then runs the command as root.
func (sh *shell) sudo(command string) int {
	sh.srv.mu.RLock()
	want := sh.srv.sudoPassword
	sh.srv.mu.RUnlock()

	if want != "" && !sh.sudoValid {
		if !sh.tty {
			sh.printf("sudo: a terminal is required to read the password\n")
			return 1
		}
		for attempt := 1; ; attempt++ {
			sh.printf("[sudo] password for %s: ", sh.user)
			got, err := sh.readLine(false)
			if err != nil {
				return 1
			}
			if got == want {
				sh.sudoValid = true
				break
			}
			if attempt == sudoAttempts {
				sh.printf("sudo: %d incorrect password attempts\n", sudoAttempts)
				return 1
			}
			sh.printf("Sorry, try again.\n")
		}
	}

	if command == "" {
		return 0
	}
	root := &shell{srv: sh.srv, user: "root", in: sh.in, out: sh.out, tty: sh.tty, sudoValid: true, afterCR: sh.afterCR}
	code, _ := root.dispatch(command)
	sh.afterCR = root.afterCR
	return code
}
