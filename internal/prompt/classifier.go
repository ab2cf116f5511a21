package prompt

import (
	"strings"
	"sync"

	"github.com/acolita/shellpilot/internal/sudo"
)

// State is the slice of session state completion detection depends on.
type State struct {
	ExpectingOutput        bool
	WaitingForPassword     bool
	WaitingForConfirmation bool
}

// Classifier inspects output chunks. Implementations must be safe for
// concurrent use and must not retain chunks.
type Classifier interface {
	// IsShellReadyPrompt reports whether the last non-empty line looks like
	// an idle shell prompt. Used once per session for startup sync.
	IsShellReadyPrompt(chunk string) bool

	// IsPasswordPrompt reports whether the chunk asks for a password.
	IsPasswordPrompt(chunk string) bool

	// IsPasswordError reports whether the chunk reports a rejected password.
	IsPasswordError(chunk string) bool

	// IsConfirmationPrompt reports whether the chunk asks a yes/no question.
	IsConfirmationPrompt(chunk string) bool

	// IsCommandComplete reports whether the prompt reappeared after a
	// dispatched command.
	IsCommandComplete(chunk string, st State) bool

	// ConfirmationResponse picks the reply for a confirmation prompt,
	// without the line terminator.
	ConfirmationResponse(chunk string) string
}

// Options tunes the rule-based classifier.
type Options struct {
	// Identity is a literal prompt prefix such as "deploy@web1:" that also
	// marks completion.
	Identity string
	// CompletionMarkers are substrings that mark completion anywhere in a
	// chunk.
	CompletionMarkers []string
	// Custom patterns are checked before the built-in ones.
	Custom []Pattern
}

// Rules is the default regex and heuristic Classifier.
type Rules struct {
	mu           sync.RWMutex
	shellReady   []Pattern
	confirmation []Pattern
	custom       []Pattern
	identity     string
	markers      []string
}

// NewRules creates a classifier with the built-in patterns.
func NewRules(opts Options) *Rules {
	r := &Rules{
		shellReady:   ShellReadyPatterns(),
		confirmation: ConfirmationPatterns(),
	}
	r.Configure(opts)
	return r
}

// Configure replaces the tunable parts. It is safe to call while the
// classifier is in use.
func (r *Rules) Configure(opts Options) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.identity = opts.Identity
	r.markers = append([]string(nil), opts.CompletionMarkers...)
	r.custom = append([]Pattern(nil), opts.Custom...)
}

// IsShellReadyPrompt implements Classifier.
func (r *Rules) IsShellReadyPrompt(chunk string) bool {
	line := LastNonEmptyLine(chunk)
	if line == "" {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.matchCustom(line, PromptTypeShell) != nil {
		return true
	}
	for _, p := range r.shellReady {
		if p.Regex.MatchString(line) {
			return true
		}
	}
	return false
}

// IsPasswordPrompt implements Classifier.
func (r *Rules) IsPasswordPrompt(chunk string) bool {
	if sudo.IsPasswordPrompt(chunk) {
		return true
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.matchCustom(chunk, PromptTypePassword) != nil
}

// IsPasswordError implements Classifier.
func (r *Rules) IsPasswordError(chunk string) bool {
	return sudo.IsPasswordError(chunk)
}

// IsConfirmationPrompt implements Classifier.
func (r *Rules) IsConfirmationPrompt(chunk string) bool {
	return r.confirmationPattern(chunk) != nil
}

func (r *Rules) confirmationPattern(chunk string) *Pattern {
	chunk = StripANSI(chunk)
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p := r.matchCustom(chunk, PromptTypeConfirmation); p != nil {
		return p
	}
	for i := range r.confirmation {
		if r.confirmation[i].Regex.MatchString(chunk) {
			return &r.confirmation[i]
		}
	}
	return nil
}

// IsCommandComplete implements Classifier.
func (r *Rules) IsCommandComplete(chunk string, st State) bool {
	if st.WaitingForPassword || st.WaitingForConfirmation || !st.ExpectingOutput {
		return false
	}

	r.mu.RLock()
	identity, markers := r.identity, r.markers
	r.mu.RUnlock()

	clean := StripANSI(chunk)
	for _, m := range markers {
		if m != "" && strings.Contains(clean, m) {
			return true
		}
	}

	line := LastLine(clean)
	if identity != "" && strings.Contains(line, identity) {
		return true
	}
	return looksLikePrompt(line)
}

// ConfirmationResponse implements Classifier.
func (r *Rules) ConfirmationResponse(chunk string) string {
	if p := r.confirmationPattern(chunk); p != nil && p.Response != "" {
		return p.Response
	}
	return CannedResponse(chunk)
}

// CannedResponse maps a confirmation prompt to an affirmative reply.
func CannedResponse(chunk string) string {
	switch {
	case strings.Contains(chunk, "[Y/n]"):
		return "y"
	case strings.Contains(chunk, "[y/N]"):
		return "y"
	case strings.Contains(chunk, "(yes/no)"):
		return "yes"
	default:
		return "y"
	}
}

// matchCustom must be called with r.mu held.
func (r *Rules) matchCustom(s string, t PromptType) *Pattern {
	for i := range r.custom {
		if r.custom[i].Type == t && r.custom[i].Regex.MatchString(s) {
			return &r.custom[i]
		}
	}
	return nil
}

// looksLikePrompt is the generic user@host:path$ shape: the line holds '@'
// and ':' and ends in '$' or '#'.
func looksLikePrompt(line string) bool {
	if line == "" || !strings.Contains(line, "@") || !strings.Contains(line, ":") {
		return false
	}
	return strings.HasSuffix(line, "$") || strings.HasSuffix(line, "#")
}

// LastLine returns the final line of s, trimmed.
func LastLine(s string) string {
	s = strings.ReplaceAll(s, "\r", "")
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSpace(s)
}

// LastNonEmptyLine returns the last line of s with visible content, trimmed.
func LastNonEmptyLine(s string) string {
	lines := strings.Split(strings.ReplaceAll(StripANSI(s), "\r", ""), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			return l
		}
	}
	return ""
}

// Ensure Rules implements Classifier.
var _ Classifier = (*Rules)(nil)
