// Package fakepermission provides a test fake for ports.PermissionProvider.
package fakepermission

import (
	"context"
	"sync"

	"github.com/acolita/shellpilot/internal/ports"
)

// Provider is a controllable fake PermissionProvider. Credentials are
// handed out in order; once exhausted the last one is repeated.
type Provider struct {
	mu sync.Mutex

	// Credentials are returned by successive RequestCredential calls.
	Credentials []string
	// CredentialErr is returned by RequestCredential when set.
	CredentialErr error
	// Approve is returned by RequestConfirmation.
	Approve bool
	// ConfirmErr is returned by RequestConfirmation when set.
	ConfirmErr error

	credentialReqs   []ports.CredentialRequest
	confirmationReqs []ports.ConfirmationRequest
}

// New returns a fake that hands out the given credentials and approves
// every confirmation.
func New(credentials ...string) *Provider {
	return &Provider{Credentials: credentials, Approve: true}
}

// RequestCredential records the request and returns the next credential.
func (p *Provider) RequestCredential(ctx context.Context, req ports.CredentialRequest) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.credentialReqs = append(p.credentialReqs, req)
	if p.CredentialErr != nil {
		return "", p.CredentialErr
	}
	if len(p.Credentials) == 0 {
		return "", nil
	}
	idx := len(p.credentialReqs) - 1
	if idx >= len(p.Credentials) {
		idx = len(p.Credentials) - 1
	}
	return p.Credentials[idx], nil
}

// RequestConfirmation records the request and returns Approve.
func (p *Provider) RequestConfirmation(ctx context.Context, req ports.ConfirmationRequest) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.confirmationReqs = append(p.confirmationReqs, req)
	if p.ConfirmErr != nil {
		return false, p.ConfirmErr
	}
	return p.Approve, nil
}

// CredentialRequests returns every credential request received so far.
func (p *Provider) CredentialRequests() []ports.CredentialRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ports.CredentialRequest(nil), p.credentialReqs...)
}

// ConfirmationRequests returns every confirmation request received so far.
func (p *Provider) ConfirmationRequests() []ports.ConfirmationRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ports.ConfirmationRequest(nil), p.confirmationReqs...)
}

// Ensure Provider implements ports.PermissionProvider.
var _ ports.PermissionProvider = (*Provider)(nil)
