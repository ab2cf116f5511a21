package permission

import (
	"context"
	"errors"
	"testing"

	"github.com/acolita/shellpilot/internal/config"
	"github.com/acolita/shellpilot/internal/ports"
)

func TestEnv_RequestCredential(t *testing.T) {
	t.Setenv("LOCAL_SUDO", "local-pw")
	t.Setenv("WEB_SUDO", "web-pw")
	t.Setenv("EMPTY_SUDO", "")

	cfg := config.DefaultConfig()
	cfg.Security.SudoPasswordEnv = "LOCAL_SUDO"
	cfg.Servers = []config.ServerConfig{
		{Name: "web", Host: "10.0.0.5", SudoPasswordEnv: "WEB_SUDO"},
		{Name: "db", Host: "10.0.0.6", SudoPasswordEnv: "EMPTY_SUDO"},
	}
	env := NewEnv(cfg)

	tests := []struct {
		name    string
		host    string
		attempt int
		want    string
		wantErr error
	}{
		{"server by host", "10.0.0.5", 1, "web-pw", nil},
		{"server by name", "web", 0, "web-pw", nil},
		{"fallback", "laptop", 1, "local-pw", nil},
		{"empty variable", "10.0.0.6", 1, "", ErrNoAnswer},
		{"retry", "10.0.0.5", 2, "", ErrNoAnswer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := env.RequestCredential(context.Background(), ports.CredentialRequest{Host: tt.host, Attempt: tt.attempt})
			if got != tt.want || !errors.Is(err, tt.wantErr) {
				t.Errorf("RequestCredential = %q, %v; want %q, %v", got, err, tt.want, tt.wantErr)
			}
		})
	}
}

func TestEnv_NoConfig(t *testing.T) {
	if _, err := NewEnv(nil).RequestCredential(context.Background(), ports.CredentialRequest{Host: "h"}); !errors.Is(err, ErrNoAnswer) {
		t.Errorf("error = %v, want ErrNoAnswer", err)
	}
}
