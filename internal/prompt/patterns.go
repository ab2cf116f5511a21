// Package prompt classifies raw shell output: shell prompts, password
// prompts, password errors, confirmation prompts and command completion.
//
// Detection is heuristic. A shell's own prompt reappearing is the only
// observable completion signal, so the rules here trade accuracy for
// portability and can be tuned through configuration.
package prompt

import (
	"fmt"
	"regexp"
)

// PromptType indicates the type of prompt detected.
type PromptType string

const (
	PromptTypePassword     PromptType = "password"
	PromptTypeConfirmation PromptType = "confirmation"
	PromptTypeShell        PromptType = "shell"
)

// Pattern represents a prompt detection pattern.
type Pattern struct {
	Name  string
	Regex *regexp.Regexp
	Type  PromptType
	// Response overrides the canned confirmation reply when set.
	Response string
}

// ShellReadyPatterns match the last line of output when an interactive
// shell is waiting for input.
func ShellReadyPatterns() []Pattern {
	return []Pattern{
		{Name: "dollar", Regex: regexp.MustCompile(`\$$`), Type: PromptTypeShell},
		{Name: "root", Regex: regexp.MustCompile(`#\s*$`), Type: PromptTypeShell},
		{Name: "angle", Regex: regexp.MustCompile(`>\s*$`), Type: PromptTypeShell},
		{Name: "bracketed", Regex: regexp.MustCompile(`\[.*\]\s*[$#]\s*$`), Type: PromptTypeShell},
		{Name: "user_host_path", Regex: regexp.MustCompile(`[\w]+@[\w]+:[~/].*[$#]\s*$`), Type: PromptTypeShell},
		{Name: "bash_version", Regex: regexp.MustCompile(`bash-\d+\.\d+[#$]\s*$`), Type: PromptTypeShell},
	}
}

// ConfirmationPatterns match yes/no style questions.
func ConfirmationPatterns() []Pattern {
	return []Pattern{
		{Name: "continue_Yn", Regex: regexp.MustCompile(`(?i)Do you want to continue\?.*\[Y/n\]`), Type: PromptTypeConfirmation},
		{Name: "continue_yN", Regex: regexp.MustCompile(`(?i)Continue\?.*\[y/N\]`), Type: PromptTypeConfirmation},
		{Name: "proceed", Regex: regexp.MustCompile(`(?i)Proceed\?.*\[y/N\]`), Type: PromptTypeConfirmation},
		{Name: "are_you_sure", Regex: regexp.MustCompile(`(?i)Are you sure\?.*\[y/N\]`), Type: PromptTypeConfirmation},
		{Name: "confirm", Regex: regexp.MustCompile(`(?i)Confirm.*\[Y/n\]`), Type: PromptTypeConfirmation},
		{Name: "wish_to_continue", Regex: regexp.MustCompile(`(?i)Do you wish to continue\?`), Type: PromptTypeConfirmation},
		{Name: "will_install", Regex: regexp.MustCompile(`(?i)This will install.*Continue\?`), Type: PromptTypeConfirmation},
		{Name: "press_to_continue", Regex: regexp.MustCompile(`Press.*to continue`), Type: PromptTypeConfirmation},
		{Name: "hit_enter", Regex: regexp.MustCompile(`Hit Enter to continue`), Type: PromptTypeConfirmation},
		{Name: "type_yes", Regex: regexp.MustCompile(`Type 'yes' to continue`), Type: PromptTypeConfirmation},
		{Name: "enter_yes", Regex: regexp.MustCompile(`(?i)Enter YES to continue`), Type: PromptTypeConfirmation},
		{Name: "abort", Regex: regexp.MustCompile(`(?i)Do you want to abort\?`), Type: PromptTypeConfirmation},
		{Name: "ssh_host_key", Regex: regexp.MustCompile(`(?i)continue connecting \(yes/no(/\[fingerprint\])?\)\?`), Type: PromptTypeConfirmation},
		{Name: "yes_no", Regex: regexp.MustCompile(`(?i)[(\[]yes/no[)\]]\??\s*$`), Type: PromptTypeConfirmation},
		{Name: "y_n", Regex: regexp.MustCompile(`(?i)\[y/n\]\s*:?\s*$`), Type: PromptTypeConfirmation},
	}
}

// ParsePattern compiles a pattern from configuration.
// Unknown types default to confirmation.
func ParsePattern(name, expr, promptType, response string) (Pattern, error) {
	re, err := regexp.Compile(expr)
	if err != nil {
		return Pattern{}, fmt.Errorf("pattern %q: %w", name, err)
	}

	pt := PromptTypeConfirmation
	switch PromptType(promptType) {
	case PromptTypePassword:
		pt = PromptTypePassword
	case PromptTypeShell:
		pt = PromptTypeShell
	}

	return Pattern{Name: name, Regex: re, Type: pt, Response: response}, nil
}

var ansiEscape = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]|\x1b\][^\x07\x1b]*(\x07|\x1b\\)|\x1b[()][0-9A-Za-z]`)

// StripANSI removes terminal escape sequences.
func StripANSI(s string) string {
	return ansiEscape.ReplaceAllString(s, "")
}
