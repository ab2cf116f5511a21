package realdialog

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/acolita/shellpilot/internal/security"
)

// The MCP process and the form helper it launches in a terminal window
// exchange one request and one answer through a temp file. Both messages are
// JSON sealed with AES-256-GCM under a one-time key that travels in the
// helper's environment. The message direction is bound as additional data,
// so a request file cannot be read back as an answer.
const (
	labelRequest = "shellpilot/form-request"
	labelAnswer  = "shellpilot/form-answer"
)

var errShortMessage = errors.New("sealed message too short")

// handoff seals and opens form messages under one key.
type handoff struct {
	aead cipher.AEAD
}

// newHandoffKey returns a fresh hex-encoded AES-256 key.
func newHandoffKey() (string, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	defer security.WipeBytes(key)
	return hex.EncodeToString(key), nil
}

func openHandoff(hexKey string) (*handoff, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("decode key: %w", err)
	}
	defer security.WipeBytes(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}
	return &handoff{aead: aead}, nil
}

// seal marshals v and encrypts it for label. The output is nonce|ciphertext.
func (h *handoff) seal(label string, v any) ([]byte, error) {
	plain, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", label, err)
	}
	defer security.WipeBytes(plain)

	nonce := make([]byte, h.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return h.aead.Seal(nonce, nonce, plain, []byte(label)), nil
}

// open decrypts a message sealed for label and unmarshals it into v.
func (h *handoff) open(label string, data []byte, v any) error {
	n := h.aead.NonceSize()
	if len(data) < n {
		return errShortMessage
	}
	plain, err := h.aead.Open(nil, data[:n], data[n:], []byte(label))
	if err != nil {
		return fmt.Errorf("decrypt %s: %w", label, err)
	}
	defer security.WipeBytes(plain)

	if err := json.Unmarshal(plain, v); err != nil {
		return fmt.Errorf("unmarshal %s: %w", label, err)
	}
	return nil
}
