package client

import "errors"

// Error categories surfaced by the client core. Every failure returned by
// this module and the transfer engines wraps exactly one of these, so callers
// can branch with errors.Is without parsing messages.
var (
	// ErrConnection covers DNS resolution and TCP connect failures.
	ErrConnection = errors.New("connection failed")
	// ErrHandshake covers SSH protocol negotiation failures after the TCP
	// connect succeeded.
	ErrHandshake = errors.New("handshake failed")
	// ErrHostKeyMismatch means the server presented a key that differs from
	// the known_hosts entry. Callers must abort, never downgrade.
	ErrHostKeyMismatch = errors.New("host key mismatch")
	// ErrAuth means the server rejected the supplied credentials.
	ErrAuth = errors.New("authentication failed")
	// ErrChannel covers open/read/write/close failures on a channel.
	ErrChannel = errors.New("channel operation failed")
	// ErrTransfer covers SCP/SFTP protocol errors: size mismatches,
	// truncated reads, remote path errors.
	ErrTransfer = errors.New("transfer failed")
)
