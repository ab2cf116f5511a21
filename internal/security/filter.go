package security

import (
	"fmt"
	"regexp"
	"sync"
)

// CommandFilter decides whether a command may be submitted. Blocklist
// patterns win over allowlist patterns; an empty allowlist allows everything
// not blocked.
type CommandFilter struct {
	mu        sync.RWMutex
	blocklist []*regexp.Regexp
	allowlist []*regexp.Regexp
}

// NewCommandFilter compiles the given patterns.
func NewCommandFilter(blocklist, allowlist []string) (*CommandFilter, error) {
	cf := &CommandFilter{}
	if err := cf.Update(blocklist, allowlist); err != nil {
		return nil, err
	}
	return cf, nil
}

// Update replaces both pattern lists. On error the filter is unchanged.
func (cf *CommandFilter) Update(blocklist, allowlist []string) error {
	block, err := compileAll("blocklist", blocklist)
	if err != nil {
		return err
	}
	allow, err := compileAll("allowlist", allowlist)
	if err != nil {
		return err
	}

	cf.mu.Lock()
	defer cf.mu.Unlock()
	cf.blocklist = block
	cf.allowlist = allow
	return nil
}

func compileAll(kind string, patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid %s pattern %q: %w", kind, p, err)
		}
		out = append(out, re)
	}
	return out, nil
}

// IsAllowed checks command and returns the reason when it is refused.
func (cf *CommandFilter) IsAllowed(command string) (bool, string) {
	if cf == nil {
		return true, ""
	}
	cf.mu.RLock()
	defer cf.mu.RUnlock()

	for _, re := range cf.blocklist {
		if re.MatchString(command) {
			return false, fmt.Sprintf("command blocked by pattern: %s", re.String())
		}
	}

	if len(cf.allowlist) > 0 {
		for _, re := range cf.allowlist {
			if re.MatchString(command) {
				return true, ""
			}
		}
		return false, "command not in allowlist"
	}

	return true, ""
}

// DefaultBlocklist returns patterns for commands that destroy the host.
func DefaultBlocklist() []string {
	return []string{
		`rm\s+-rf\s+/\s*$`,          // rm -rf /
		`rm\s+-rf\s+/\*`,            // rm -rf /*
		`mkfs\.`,                    // mkfs commands
		`dd\s+.*of=/dev/[sh]d`,      // dd to raw devices
		`:\s*\(\s*\)\s*\{\s*:\s*\|`, // fork bomb
		`>\s*/dev/[sh]d`,            // redirect to raw devices
	}
}
