package sudo

import "testing"

func TestIsSudoLine(t *testing.T) {
	tests := []struct {
		line string
		want bool
	}{
		{"sudo apt update", true},
		{"  sudo ls", true},
		{"sudo", true},
		{"sudo\tid", true},
		{"sudoedit /etc/hosts", true},
		{"\tsudo -i", true},
		{"echo sudo", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			if got := IsSudoLine(tt.line); got != tt.want {
				t.Errorf("IsSudoLine(%q) = %v, want %v", tt.line, got, tt.want)
			}
		})
	}
}

func TestHasSudo(t *testing.T) {
	if HasSudo([]string{"ls", "pwd"}) {
		t.Error("HasSudo without sudo lines = true")
	}
	if !HasSudo([]string{"cd /tmp", " sudo rm x"}) {
		t.Error("HasSudo with a sudo line = false")
	}
	if HasSudo(nil) {
		t.Error("HasSudo(nil) = true")
	}
}

func TestIsPasswordPrompt(t *testing.T) {
	tests := []struct {
		output string
		want   bool
	}{
		{"[sudo] password for user: ", true},
		{"Password: ", true},
		{"Enter password", true},
		{"[sudo] ", true},
		{"PASSWORD", false},
		{"Reading package lists...", false},
	}

	for _, tt := range tests {
		t.Run(tt.output, func(t *testing.T) {
			if got := IsPasswordPrompt(tt.output); got != tt.want {
				t.Errorf("IsPasswordPrompt(%q) = %v, want %v", tt.output, got, tt.want)
			}
		})
	}
}

func TestIsPasswordError(t *testing.T) {
	tests := []struct {
		output string
		want   bool
	}{
		{"Sorry, try again.", true},
		{"sudo: 3 incorrect password attempts", true},
		{"sorry, try again", false},
		{"Done", false},
	}

	for _, tt := range tests {
		t.Run(tt.output, func(t *testing.T) {
			if got := IsPasswordError(tt.output); got != tt.want {
				t.Errorf("IsPasswordError(%q) = %v, want %v", tt.output, got, tt.want)
			}
		})
	}
}

func TestParseError(t *testing.T) {
	tests := []struct {
		output string
		want   ErrorType
	}{
		{"Sorry, try again.", ErrorWrongPassword},
		{"sudo: 3 incorrect password attempts", ErrorWrongPassword},
		{"bob is not in the sudoers file.  This incident will be reported.", ErrorNotInSudoers},
		{"Sorry, user bob is not allowed to execute '/bin/ls' as root", ErrorNotAllowed},
		{"sudo: timestamp timeout", ErrorTimeout},
		{"ok", ErrorNone},
	}

	for _, tt := range tests {
		t.Run(tt.want.String(), func(t *testing.T) {
			if got := ParseError(tt.output); got != tt.want {
				t.Errorf("ParseError(%q) = %v, want %v", tt.output, got, tt.want)
			}
		})
	}
}

func TestSuggestFix(t *testing.T) {
	for _, et := range []ErrorType{ErrorWrongPassword, ErrorNotInSudoers, ErrorNotAllowed, ErrorTimeout} {
		if SuggestFix(et) == "" {
			t.Errorf("SuggestFix(%v) is empty", et)
		}
	}
	if SuggestFix(ErrorNone) != "" {
		t.Error("SuggestFix(ErrorNone) should be empty")
	}
}

func TestIsGaveUp(t *testing.T) {
	tests := []struct {
		output string
		want   bool
	}{
		{"sudo: 3 incorrect password attempts\r\n", true},
		{"sudo: 1 incorrect password attempt", true},
		{"Sorry, try again.", false},
		{"[sudo] password for bob: ", false},
	}
	for _, tt := range tests {
		if got := IsGaveUp(tt.output); got != tt.want {
			t.Errorf("IsGaveUp(%q) = %v, want %v", tt.output, got, tt.want)
		}
	}
}
