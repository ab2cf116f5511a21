// Package sudo recognises sudo invocations, password prompts and sudo
// failure messages.
package sudo

import (
	"regexp"
	"strings"
)

var gaveUpRe = regexp.MustCompile(`\d+ incorrect password attempts?`)

// IsSudoLine reports whether a trimmed command line starts with "sudo".
// sudoedit and friends count too.
func IsSudoLine(line string) bool {
	return strings.HasPrefix(strings.TrimSpace(line), "sudo")
}

// HasSudo reports whether any line invokes sudo.
func HasSudo(lines []string) bool {
	for _, l := range lines {
		if IsSudoLine(l) {
			return true
		}
	}
	return false
}

// IsPasswordPrompt checks if output asks for a password. The match is
// deliberately loose: any mention of a password or a [sudo] tag counts.
func IsPasswordPrompt(output string) bool {
	return strings.Contains(output, "password") ||
		strings.Contains(output, "Password:") ||
		strings.Contains(output, "[sudo]")
}

// IsPasswordError checks if output reports a rejected password.
func IsPasswordError(output string) bool {
	return strings.Contains(output, "Sorry, try again") ||
		strings.Contains(output, "incorrect password")
}

// IsGaveUp reports whether sudo stopped asking after too many rejected
// passwords.
func IsGaveUp(output string) bool {
	return gaveUpRe.MatchString(output)
}

// ErrorType represents the type of sudo error.
type ErrorType int

const (
	ErrorNone ErrorType = iota
	ErrorWrongPassword
	ErrorNotInSudoers
	ErrorNotAllowed
	ErrorTimeout
)

func (t ErrorType) String() string {
	switch t {
	case ErrorWrongPassword:
		return "wrong_password"
	case ErrorNotInSudoers:
		return "not_in_sudoers"
	case ErrorNotAllowed:
		return "not_allowed"
	case ErrorTimeout:
		return "timeout"
	default:
		return "none"
	}
}

// ParseError identifies the specific sudo error type.
func ParseError(output string) ErrorType {
	lower := strings.ToLower(output)

	switch {
	case strings.Contains(lower, "incorrect password"), strings.Contains(lower, "sorry, try again"):
		return ErrorWrongPassword
	case strings.Contains(lower, "is not in the sudoers file"):
		return ErrorNotInSudoers
	case strings.Contains(lower, "is not allowed to execute"):
		return ErrorNotAllowed
	case strings.Contains(lower, "timestamp timeout"):
		return ErrorTimeout
	}
	return ErrorNone
}

// SuggestFix provides suggestions for sudo errors.
func SuggestFix(t ErrorType) string {
	switch t {
	case ErrorWrongPassword:
		return "Check that you're entering the correct password. The password is for your user account, not root."
	case ErrorNotInSudoers:
		return "Your user is not in the sudoers file. Contact your system administrator or use: usermod -aG sudo <username>"
	case ErrorNotAllowed:
		return "Your user is not allowed to run this specific command with sudo. Check /etc/sudoers configuration."
	case ErrorTimeout:
		return "Sudo session timed out. Run the command again and provide your password."
	default:
		return ""
	}
}
