package ssh

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

// AuthConfig holds authentication configuration.
type AuthConfig struct {
	KeyPath       string // Path to private key file
	KeyPassphrase string // Passphrase for encrypted keys
	UseAgent      bool   // Use SSH agent for authentication
	Password      string // Password for password authentication
	Host          string // Target host for ~/.ssh/config lookup
}

// BuildAuthMethods constructs SSH auth methods from config.
func BuildAuthMethods(cfg AuthConfig) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod

	if cfg.UseAgent {
		if agentAuth, err := sshAgentAuth(); err == nil {
			methods = append(methods, agentAuth)
		}
	}

	if cfg.KeyPath != "" {
		keyAuth, err := privateKeyAuth(cfg.KeyPath, cfg.KeyPassphrase)
		if err != nil {
			return nil, fmt.Errorf("private key auth: %w", err)
		}
		methods = append(methods, keyAuth)
	}

	// ~/.ssh/config IdentityFile when no key is configured
	if cfg.KeyPath == "" && cfg.Host != "" {
		configKey := getSSHConfigIdentityFile(cfg.Host)
		if configKey != "" {
			keyAuth, err := privateKeyAuth(configKey, cfg.KeyPassphrase)
			if err == nil {
				methods = append(methods, keyAuth)
			}
		}
	}

	if cfg.KeyPath == "" && cfg.Password == "" && len(methods) == 0 {
		if keyAuth, ok := firstDefaultKey(cfg.KeyPassphrase); ok {
			methods = append(methods, keyAuth)
		}
	}

	if cfg.Password != "" {
		methods = append(methods, PasswordAuth(cfg.Password))
		methods = append(methods, KeyboardInteractiveAuth(cfg.Password))
	}

	if len(methods) == 0 {
		return nil, fmt.Errorf("no authentication methods available")
	}

	return methods, nil
}

// defaultIdentityFiles are tried, in order, when nothing else is configured.
var defaultIdentityFiles = []string{
	"~/.ssh/id_ed25519",
	"~/.ssh/id_rsa",
	"~/.ssh/id_ecdsa",
}

func firstDefaultKey(passphrase string) (ssh.AuthMethod, bool) {
	for _, path := range defaultIdentityFiles {
		if keyAuth, err := privateKeyAuth(path, passphrase); err == nil {
			return keyAuth, true
		}
	}
	return nil, false
}

// sshAgentAuth returns an SSH agent auth method.
func sshAgentAuth() (ssh.AuthMethod, error) {
	socket := os.Getenv("SSH_AUTH_SOCK")
	if socket == "" {
		return nil, fmt.Errorf("SSH_AUTH_SOCK not set")
	}

	conn, err := net.Dial("unix", socket)
	if err != nil {
		return nil, fmt.Errorf("dial agent: %w", err)
	}

	agentClient := agent.NewClient(conn)
	return ssh.PublicKeysCallback(agentClient.Signers), nil
}

// privateKeyAuth returns a private key auth method.
func privateKeyAuth(keyPath, passphrase string) (ssh.AuthMethod, error) {
	expanded := expandPath(keyPath)

	keyData, err := os.ReadFile(expanded)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}

	var signer ssh.Signer
	if passphrase != "" {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(keyData, []byte(passphrase))
	} else {
		signer, err = ssh.ParsePrivateKey(keyData)
	}
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	return ssh.PublicKeys(signer), nil
}

// BuildHostKeyCallback verifies host keys against a known_hosts file. An
// empty path disables verification.
func BuildHostKeyCallback(knownHostsPath string) (ssh.HostKeyCallback, error) {
	if knownHostsPath == "" {
		return ssh.InsecureIgnoreHostKey(), nil
	}

	callback, err := knownhosts.New(expandPath(knownHostsPath))
	if err != nil {
		return nil, fmt.Errorf("parse known_hosts: %w", err)
	}
	return callback, nil
}

// expandPath expands ~ to home directory.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

// getSSHConfigIdentityFile returns the first IdentityFile that
// ~/.ssh/config assigns to host, with %h expanded.
func getSSHConfigIdentityFile(host string) string {
	f, err := os.Open(expandPath("~/.ssh/config"))
	if err != nil {
		return ""
	}
	defer f.Close()

	matched := true // options before the first Host line apply to every host
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		key, value, ok := configLine(scanner.Text())
		if !ok {
			continue
		}
		switch key {
		case "host":
			matched = matchSSHHostPattern(host, value)
		case "match":
			// Match blocks need criteria evaluation; skip them.
			matched = false
		case "identityfile":
			if matched {
				return expandPath(strings.ReplaceAll(value, "%h", host))
			}
		}
	}
	return ""
}

// configLine splits an ssh_config line into a lowercased keyword and its
// argument. Both "Key value" and "Key=value" forms are accepted.
func configLine(line string) (key, value string, ok bool) {
	line = strings.TrimSpace(line)
	if line == "" || line[0] == '#' {
		return "", "", false
	}
	i := strings.IndexAny(line, " \t=")
	if i < 0 {
		return "", "", false
	}
	key = strings.ToLower(line[:i])
	value = strings.Trim(strings.TrimLeft(line[i:], " \t="), `"`)
	return key, value, value != ""
}

// matchSSHHostPattern reports whether host matches a Host line: any of its
// space separated patterns matches and no negated (!) pattern does.
func matchSSHHostPattern(host, patterns string) bool {
	if host == "" {
		return false
	}
	matched := false
	for _, p := range strings.Fields(patterns) {
		negate := strings.HasPrefix(p, "!")
		ok, err := doublestar.Match(strings.TrimPrefix(p, "!"), host)
		if err != nil || !ok {
			continue
		}
		if negate {
			return false
		}
		matched = true
	}
	return matched
}

// PasswordAuth returns a password auth method.
func PasswordAuth(password string) ssh.AuthMethod {
	return ssh.Password(password)
}

// KeyboardInteractiveAuth returns a keyboard-interactive auth method.
func KeyboardInteractiveAuth(password string) ssh.AuthMethod {
	return ssh.KeyboardInteractive(func(user, instruction string, questions []string, echos []bool) ([]string, error) {
		answers := make([]string, len(questions))
		for i := range questions {
			answers[i] = password
		}
		return answers, nil
	})
}
