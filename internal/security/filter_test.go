package security

import (
	"strings"
	"testing"
)

func TestCommandFilter_IsAllowed(t *testing.T) {
	tests := []struct {
		name      string
		blocklist []string
		allowlist []string
		command   string
		want      bool
		reason    string
	}{
		{"no rules", nil, nil, "ls -la", true, ""},
		{"blocked", []string{`rm\s+-rf`}, nil, "rm -rf /tmp/x", false, "blocked"},
		{"not blocked", []string{`rm\s+-rf`}, nil, "rm file", true, ""},
		{"allowlisted", nil, []string{`^git `}, "git status", true, ""},
		{"not allowlisted", nil, []string{`^git `}, "ls", false, "allowlist"},
		{"blocklist wins", []string{`push --force`}, []string{`^git `}, "git push --force", false, "blocked"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cf, err := NewCommandFilter(tt.blocklist, tt.allowlist)
			if err != nil {
				t.Fatalf("NewCommandFilter: %v", err)
			}
			got, reason := cf.IsAllowed(tt.command)
			if got != tt.want {
				t.Errorf("IsAllowed(%q) = %v, want %v", tt.command, got, tt.want)
			}
			if !strings.Contains(reason, tt.reason) {
				t.Errorf("reason = %q, want containing %q", reason, tt.reason)
			}
		})
	}
}

func TestCommandFilter_InvalidPattern(t *testing.T) {
	if _, err := NewCommandFilter([]string{"(["}, nil); err == nil {
		t.Error("expected error for invalid blocklist pattern")
	}
	if _, err := NewCommandFilter(nil, []string{"(["}); err == nil {
		t.Error("expected error for invalid allowlist pattern")
	}
}

func TestCommandFilter_Update(t *testing.T) {
	cf, err := NewCommandFilter(nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := cf.Update([]string{`^shutdown`}, nil); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if ok, _ := cf.IsAllowed("shutdown -h now"); ok {
		t.Error("updated blocklist not applied")
	}
	if err := cf.Update([]string{"(["}, nil); err == nil {
		t.Fatal("Update accepted an invalid pattern")
	}
	if ok, _ := cf.IsAllowed("shutdown -h now"); ok {
		t.Error("failed Update changed the filter")
	}
}

func TestCommandFilter_Nil(t *testing.T) {
	var cf *CommandFilter
	if ok, _ := cf.IsAllowed("anything"); !ok {
		t.Error("nil filter should allow everything")
	}
}

func TestDefaultBlocklist(t *testing.T) {
	cf, err := NewCommandFilter(DefaultBlocklist(), nil)
	if err != nil {
		t.Fatalf("DefaultBlocklist does not compile: %v", err)
	}
	for _, cmd := range []string{"rm -rf /", "mkfs.ext4 /dev/sda1", ":(){ :|:& };:", "dd if=/dev/zero of=/dev/sda"} {
		if ok, _ := cf.IsAllowed(cmd); ok {
			t.Errorf("%q allowed", cmd)
		}
	}
	if ok, _ := cf.IsAllowed("rm -rf ./build"); !ok {
		t.Error("rm -rf ./build blocked")
	}
}
