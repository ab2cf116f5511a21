// Package realdialog asks the user for credentials and approvals with
// charmbracelet/huh forms.
//
// In console mode the form runs on the controlling terminal. In MCP mode
// stdin and stdout carry the protocol, so the form runs in a separate
// terminal window instead:
//  1. Encrypt the request to a temp file (AES-256-GCM)
//  2. Create a wrapper script with env vars pointing to the encrypted file
//  3. Launch a new terminal window running the wrapper
//  4. The helper shows the form, encrypts the answer and writes a done marker
//  5. The provider polls for the marker, then reads and decrypts the answer
//
// The key is passed via the wrapper script (0700 perms, self-deleting).
// The temp file has 0600 permissions and is deleted after reading.
package realdialog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/acolita/shellpilot/internal/ports"
	"github.com/acolita/shellpilot/internal/security"
)

const (
	envFormFile = "SHELLPILOT_FORM_FILE"
	envFormKey  = "SHELLPILOT_FORM_KEY"

	kindCredential   = "credential"
	kindConfirmation = "confirmation"

	// DefaultTimeout bounds how long a windowed form may stay open.
	DefaultTimeout = 5 * time.Minute
)

// ErrCancelled is returned when the user dismisses a form.
var ErrCancelled = errors.New("dialog cancelled")

// Mode selects where forms are shown.
type Mode int

const (
	// ModeInline runs forms on the current terminal.
	ModeInline Mode = iota
	// ModeWindow runs forms in a newly launched terminal window.
	ModeWindow
)

// request is the payload handed to the form.
type request struct {
	Kind      string `json:"kind"`
	SessionID string `json:"session_id"`
	Host      string `json:"host,omitempty"`
	User      string `json:"user,omitempty"`
	Command   string `json:"command,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Attempt   int    `json:"attempt,omitempty"`
}

// answer is what the form hands back.
type answer struct {
	Secret   string `json:"secret,omitempty"`
	Approved bool   `json:"approved"`
}

// Provider implements ports.PermissionProvider with huh forms.
type Provider struct {
	timeout time.Duration
	show    func(ctx context.Context, req request) (answer, error)
}

// New returns a provider that shows forms according to mode.
func New(mode Mode, timeout time.Duration) *Provider {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	p := &Provider{timeout: timeout}
	switch mode {
	case ModeWindow:
		p.show = p.showWindow
	default:
		p.show = runForm
	}
	return p
}

// RequestCredential asks for the password of req.User on req.Host.
func (p *Provider) RequestCredential(ctx context.Context, req ports.CredentialRequest) (string, error) {
	ans, err := p.show(ctx, request{
		Kind:      kindCredential,
		SessionID: req.SessionID,
		Host:      req.Host,
		User:      req.User,
		Command:   req.Command,
		Reason:    req.Reason,
		Attempt:   req.Attempt,
	})
	if err != nil {
		return "", err
	}
	return ans.Secret, nil
}

// RequestConfirmation asks whether req.Command may run.
func (p *Provider) RequestConfirmation(ctx context.Context, req ports.ConfirmationRequest) (bool, error) {
	ans, err := p.show(ctx, request{
		Kind:      kindConfirmation,
		SessionID: req.SessionID,
		Command:   req.Command,
		Reason:    req.Reason,
	})
	if err != nil {
		return false, err
	}
	return ans.Approved, nil
}

// showWindow runs the form in a separate terminal window.
func (p *Provider) showWindow(ctx context.Context, req request) (answer, error) {
	key, err := newHandoffKey()
	if err != nil {
		return answer{}, err
	}
	defer security.WipeBytes([]byte(key))

	tmpPath, err := writeEncrypted(req, key)
	if err != nil {
		return answer{}, err
	}
	defer os.Remove(tmpPath)

	donePath := tmpPath + ".done"
	defer os.Remove(donePath)

	wrapperPath, err := writeWrapperScript(tmpPath, key)
	if err != nil {
		return answer{}, err
	}
	defer os.Remove(wrapperPath)

	closeTerminal, err := launchTerminal(wrapperPath)
	if err != nil {
		return answer{}, fmt.Errorf("launch terminal: %w", err)
	}
	if closeTerminal != nil {
		defer closeTerminal()
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if err := waitForDone(ctx, donePath); err != nil {
		return answer{}, err
	}

	return readEncryptedAnswer(tmpPath, key)
}

// writeEncrypted seals req into a new temp file.
func writeEncrypted(req request, key string) (string, error) {
	h, err := openHandoff(key)
	if err != nil {
		return "", err
	}
	encrypted, err := h.seal(labelRequest, req)
	if err != nil {
		return "", err
	}

	tmpFile, err := os.CreateTemp("", "shellpilot-form-*.enc")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	if err := os.Chmod(tmpPath, 0600); err != nil {
		tmpFile.Close()
		return "", fmt.Errorf("chmod temp file: %w", err)
	}
	if _, err := tmpFile.Write(encrypted); err != nil {
		tmpFile.Close()
		return "", fmt.Errorf("write temp file: %w", err)
	}
	tmpFile.Close()

	return tmpPath, nil
}

// writeWrapperScript creates a self-deleting shell script that launches the form helper.
func writeWrapperScript(tmpPath, key string) (string, error) {
	selfPath, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("find executable: %w", err)
	}

	content := fmt.Sprintf("#!/bin/sh\nrm -f \"$0\"\nexport %s='%s'\nexport %s='%s'\nexec '%s' --form\n",
		envFormFile, tmpPath,
		envFormKey, key,
		selfPath,
	)

	f, err := os.CreateTemp("", "shellpilot-wrapper-*.sh")
	if err != nil {
		return "", fmt.Errorf("create wrapper: %w", err)
	}
	wrapperPath := f.Name()

	if _, err := f.WriteString(content); err != nil {
		f.Close()
		return "", fmt.Errorf("write wrapper: %w", err)
	}
	f.Close()

	if err := os.Chmod(wrapperPath, 0700); err != nil {
		return "", fmt.Errorf("chmod wrapper: %w", err)
	}

	return wrapperPath, nil
}

// waitForDone polls for the done marker until it appears or ctx ends.
func waitForDone(ctx context.Context, donePath string) error {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for form: %w", ctx.Err())
		case <-ticker.C:
			data, err := os.ReadFile(donePath)
			if err != nil {
				continue
			}
			switch status := string(data); status {
			case "ok":
				return nil
			case "cancelled":
				return ErrCancelled
			default:
				return fmt.Errorf("form helper: %s", status)
			}
		}
	}
}

// readEncryptedAnswer opens the answer the helper sealed into tmpPath.
func readEncryptedAnswer(tmpPath, key string) (answer, error) {
	data, err := os.ReadFile(tmpPath)
	if err != nil {
		return answer{}, fmt.Errorf("read answer: %w", err)
	}
	h, err := openHandoff(key)
	if err != nil {
		return answer{}, err
	}
	var ans answer
	if err := h.open(labelAnswer, data, &ans); err != nil {
		return answer{}, err
	}
	return ans, nil
}

// launchTerminal opens a new terminal window running the given script.
// Returns a cleanup function to close the window (nil if not needed).
func launchTerminal(scriptPath string) (cleanup func(), err error) {
	switch runtime.GOOS {
	case "darwin":
		return launchTerminalDarwin(scriptPath)
	case "linux":
		return launchTerminalLinux(scriptPath)
	default:
		return nil, fmt.Errorf("unsupported OS: %s", runtime.GOOS)
	}
}

// launchTerminalDarwin opens a new Terminal.app window via osascript.
func launchTerminalDarwin(scriptPath string) (func(), error) {
	appleScript := fmt.Sprintf(`tell application "Terminal"
	activate
	do script "%s"
	return id of front window
end tell`, scriptPath)

	out, err := exec.Command("osascript", "-e", appleScript).Output()
	if err != nil {
		return nil, err
	}

	windowID := strings.TrimSpace(string(out))

	cleanup := func() {
		// Let the wrapper exit first or Terminal asks before closing.
		time.Sleep(500 * time.Millisecond)
		closeScript := fmt.Sprintf(`tell application "Terminal"
	close (every window whose id is %s)
end tell`, windowID)
		exec.Command("osascript", "-e", closeScript).Run()
	}

	return cleanup, nil
}

// launchTerminalLinux tries common terminal emulators in order of preference.
func launchTerminalLinux(scriptPath string) (func(), error) {
	terminals := []struct {
		name string
		args []string
	}{
		{"x-terminal-emulator", []string{"-e", scriptPath}},
		{"gnome-terminal", []string{"--", scriptPath}},
		{"konsole", []string{"-e", scriptPath}},
		{"xfce4-terminal", []string{"-e", scriptPath}},
		{"xterm", []string{"-e", scriptPath}},
	}

	for _, t := range terminals {
		binPath, err := exec.LookPath(t.name)
		if err != nil {
			continue
		}
		cmd := exec.Command(binPath, t.args...)
		if err := cmd.Start(); err != nil {
			continue
		}
		return nil, nil
	}

	return nil, fmt.Errorf("no terminal emulator found; tried: x-terminal-emulator, gnome-terminal, konsole, xfce4-terminal, xterm")
}
