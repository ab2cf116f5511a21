package realdialog

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
)

// RunFormHelper is the entry point for the --form helper subprocess.
// It runs in its own terminal window, reads the encrypted request from the
// temp file, shows the form, encrypts the answer back, and writes a done
// marker.
func RunFormHelper() error {
	formFile := os.Getenv(envFormFile)
	formKey := os.Getenv(envFormKey)

	if formFile == "" || formKey == "" {
		return fmt.Errorf("missing %s or %s", envFormFile, envFormKey)
	}
	donePath := formFile + ".done"

	req, err := readEncryptedRequest(formFile, formKey)
	if err != nil {
		_ = os.WriteFile(donePath, []byte(err.Error()), 0600)
		return err
	}

	fmt.Print("\033[2J\033[H")
	fmt.Println("\n  shellpilot: " + title(req))

	ans, err := runForm(context.Background(), req)
	if errors.Is(err, ErrCancelled) {
		return os.WriteFile(donePath, []byte("cancelled"), 0600)
	}
	if err != nil {
		_ = os.WriteFile(donePath, []byte(err.Error()), 0600)
		return fmt.Errorf("form: %w", err)
	}

	if err := writeEncryptedAnswer(formFile, formKey, ans); err != nil {
		_ = os.WriteFile(donePath, []byte(err.Error()), 0600)
		return err
	}

	if err := os.WriteFile(donePath, []byte("ok"), 0600); err != nil {
		return fmt.Errorf("write done marker: %w", err)
	}
	return nil
}

func readEncryptedRequest(path, key string) (request, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return request{}, fmt.Errorf("read form file: %w", err)
	}
	h, err := openHandoff(key)
	if err != nil {
		return request{}, err
	}
	var req request
	if err := h.open(labelRequest, data, &req); err != nil {
		return request{}, err
	}
	return req, nil
}

// writeEncryptedAnswer replaces the request at path with the sealed answer.
func writeEncryptedAnswer(path, key string, ans answer) error {
	h, err := openHandoff(key)
	if err != nil {
		return err
	}
	enc, err := h.seal(labelAnswer, ans)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, enc, 0600); err != nil {
		return fmt.Errorf("write answer: %w", err)
	}
	return nil
}

// runForm shows the form for req on stdin/stdout.
func runForm(ctx context.Context, req request) (answer, error) {
	var ans answer

	var field huh.Field
	switch req.Kind {
	case kindCredential:
		field = huh.NewInput().
			Title(title(req)).
			Description(description(req)).
			EchoMode(huh.EchoModePassword).
			Value(&ans.Secret)
	case kindConfirmation:
		field = huh.NewConfirm().
			Title(title(req)).
			Description(description(req)).
			Affirmative("Run").
			Negative("Cancel").
			Value(&ans.Approved)
	default:
		return answer{}, fmt.Errorf("unknown form kind %q", req.Kind)
	}

	err := huh.NewForm(huh.NewGroup(field)).RunWithContext(ctx)
	if errors.Is(err, huh.ErrUserAborted) {
		return answer{}, ErrCancelled
	}
	if err != nil {
		return answer{}, err
	}
	return ans, nil
}

func title(req request) string {
	if req.Kind == kindConfirmation {
		return "Allow this command?"
	}
	if req.User == "" {
		return "Password for " + req.Host
	}
	return fmt.Sprintf("Password for %s@%s", req.User, req.Host)
}

func description(req request) string {
	d := ""
	if req.Command != "" {
		d = "$ " + req.Command
	}
	if req.Reason != "" {
		if d != "" {
			d += "\n"
		}
		d += req.Reason
	}
	if req.Kind == kindCredential && req.Attempt > 1 {
		d += fmt.Sprintf("\nattempt %d", req.Attempt)
	}
	return d
}
