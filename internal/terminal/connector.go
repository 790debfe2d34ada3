// Package terminal provides interactive shell sessions for WebSocket
// bridging: remote shells over SSH and a local PTY fallback.
//
// A Session pairs a byte-stream terminal with out-of-band resize control;
// the WebSocket route handler owns the framing. The registry enforces idle
// timeouts on sessions whose peers silently disappear.
package terminal

import "context"

// Session is the common interface for streaming terminal backends. Callers
// Write keyboard input and Read terminal output. Control messages (resize,
// close) are handled out-of-band by the route handler.
type Session interface {
	// Write sends bytes to the remote stdin.
	Write(p []byte) (n int, err error)
	// Read receives bytes from the remote stdout.
	Read(p []byte) (n int, err error)
	// Resize changes the PTY dimensions.
	Resize(rows, cols uint16) error
	// Close terminates the session and frees all resources.
	Close() error
}

// Connector creates a Session for a given target configuration.
// Implementations must be safe for concurrent use.
type Connector interface {
	Connect(ctx context.Context, cfg ConnectorConfig) (Session, error)
}

// ConnectorConfig carries the parameters required to open a connection.
type ConnectorConfig struct {
	// Host is the target hostname or IP address.
	Host string
	// Port is the target TCP port (e.g. 22 for SSH).
	Port int
	// User is the login username.
	User string
	// AuthType is "password" or "private_key".
	AuthType string
	// Secret is the decrypted credential value (password or PEM private
	// key). Consumed during Connect and never stored.
	Secret string
	// KnownHostsPath enables host-key verification; empty skips it.
	KnownHostsPath string
	// StrictHostKey additionally rejects hosts absent from known_hosts.
	StrictHostKey bool
	// Term is the terminal type requested for the remote PTY
	// (default xterm-256color).
	Term string
	// Shell overrides the login shell (empty = server default).
	Shell string
}
