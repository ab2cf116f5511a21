package ports

import "context"

// CredentialRequest describes why a secret is needed.
type CredentialRequest struct {
	SessionID string
	// Host and User identify the account the secret belongs to. Host is
	// "localhost" for local shells.
	Host    string
	User    string
	Command string
	// Attempt is 1-based. Zero means a pre-emptive request made before
	// any password prompt was seen.
	Attempt int
	Reason  string
}

// ConfirmationRequest describes an action awaiting approval.
type ConfirmationRequest struct {
	SessionID string
	Command   string
	Reason    string
}

// PermissionProvider supplies credentials and approvals on behalf of a user.
// Implementations may prompt on a terminal, read the OS keyring, or be test
// fakes. They carry no retry obligation; callers treat any error as a
// declined request.
type PermissionProvider interface {
	// RequestCredential returns a secret, or an empty string if none is
	// available.
	RequestCredential(ctx context.Context, req CredentialRequest) (string, error)

	// RequestConfirmation reports whether the action may proceed.
	RequestConfirmation(ctx context.Context, req ConfirmationRequest) (bool, error)
}
