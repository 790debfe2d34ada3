// Package client implements the authenticated SSH session core: TCP connect,
// handshake, host-key verification against an OpenSSH known_hosts store, and
// one-shot password or public-key authentication.
//
// The transport protocol itself (key exchange, ciphers, packet framing) is
// delegated to golang.org/x/crypto/ssh; this package owns the lifecycle.
package client

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	cryptossh "golang.org/x/crypto/ssh"
)

const dialTimeout = 10 * time.Second

// Auth type values accepted in Config.AuthType.
const (
	AuthPassword   = "password"
	AuthPrivateKey = "private_key"
)

// Config carries the parameters required to open a connection.
type Config struct {
	// Host is the target hostname or IP address.
	Host string
	// Port is the target TCP port (e.g. 22).
	Port int
	// User is the login username.
	User string
	// AuthType is AuthPassword or AuthPrivateKey.
	AuthType string
	// Password is the credential for AuthPassword.
	Password string
	// PrivateKey is inline PEM key material for AuthPrivateKey, e.g. a
	// credential decrypted from a secrets store. Takes precedence over
	// PrivateKeyPath.
	PrivateKey []byte
	// PrivateKeyPath is the PEM key file for AuthPrivateKey.
	PrivateKeyPath string
	// Passphrase decrypts the private key when set.
	Passphrase string
	// KnownHostsPath enables host-key verification against an OpenSSH
	// known_hosts file. Empty disables verification (the presented key is
	// still captured for a later VerifyHost call).
	KnownHostsPath string
	// StrictHostKey additionally rejects hosts absent from known_hosts.
	// A key mismatch always aborts, regardless of this flag.
	StrictHostKey bool
}

// Client owns one authenticated SSH connection. Exactly one Client exists per
// TCP socket. It is not internally synchronized: callers sequence channel
// operations, and Close must not race an in-flight read or write.
type Client struct {
	addr     string
	ssh      *cryptossh.Client
	hostKey  cryptossh.PublicKey
	blocking atomic.Bool
	closed   atomic.Bool
}

// Dial connects, handshakes and authenticates in one step. Host-key
// verification happens inside the handshake, before any credential is sent:
// a known_hosts mismatch aborts with ErrHostKeyMismatch and the server never
// sees an authentication attempt.
//
// Failures are classified as ErrConnection (resolve/connect), ErrHandshake
// (protocol negotiation), ErrHostKeyMismatch, or ErrAuth. The socket is
// closed before any error propagates.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	authMethod, err := authMethodFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuth, err)
	}

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	d := net.Dialer{Timeout: dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrConnection, addr, err)
	}

	verifier := &hostKeyVerifier{
		host:           cfg.Host,
		port:           cfg.Port,
		knownHostsPath: cfg.KnownHostsPath,
		strict:         cfg.StrictHostKey,
	}
	clientCfg := &cryptossh.ClientConfig{
		User:            cfg.User,
		Auth:            []cryptossh.AuthMethod{authMethod},
		HostKeyCallback: verifier.callback(),
		Timeout:         dialTimeout,
	}

	// Run the handshake in a goroutine so ctx cancellation is honored.
	type handshakeResult struct {
		client *cryptossh.Client
		err    error
	}
	ch := make(chan handshakeResult, 1)
	go func() {
		sshConn, chans, reqs, hsErr := cryptossh.NewClientConn(conn, addr, clientCfg)
		if hsErr != nil {
			ch <- handshakeResult{nil, hsErr}
			return
		}
		ch <- handshakeResult{cryptossh.NewClient(sshConn, chans, reqs), nil}
	}()

	select {
	case <-ctx.Done():
		conn.Close()
		return nil, ctx.Err()
	case r := <-ch:
		if r.err != nil {
			conn.Close()
			return nil, classifyHandshakeError(addr, verifier, r.err)
		}
		c := &Client{
			addr:    addr,
			ssh:     r.client,
			hostKey: verifier.presented,
		}
		c.blocking.Store(true)
		log.Debug().Str("addr", addr).Str("user", cfg.User).Msg("ssh: session established")
		return c, nil
	}
}

func classifyHandshakeError(addr string, v *hostKeyVerifier, err error) error {
	if v.status == HostKeyMismatch {
		return fmt.Errorf("%w: %s", ErrHostKeyMismatch, addr)
	}
	if strings.Contains(err.Error(), "unable to authenticate") {
		return fmt.Errorf("%w: %s: %v", ErrAuth, addr, err)
	}
	return fmt.Errorf("%w: %s: %v", ErrHandshake, addr, err)
}

// Addr returns the host:port this client is connected to.
func (c *Client) Addr() string { return c.addr }

// HostKey returns the host key the server presented during the handshake.
func (c *Client) HostKey() cryptossh.PublicKey { return c.hostKey }

// SetBlocking toggles the I/O discipline for subsequent channel reads.
// Channels consult the flag live via their back-reference, so the toggle
// applies to channels created before and after the call. Toggling while a
// transfer is in flight is caller-synchronized.
func (c *Client) SetBlocking(blocking bool) { c.blocking.Store(blocking) }

// Blocking reports the current I/O discipline.
func (c *Client) Blocking() bool { return c.blocking.Load() }

// NewSession opens a new logical channel on the connection.
func (c *Client) NewSession() (*cryptossh.Session, error) {
	sess, err := c.ssh.NewSession()
	if err != nil {
		return nil, fmt.Errorf("%w: open: %v", ErrChannel, err)
	}
	return sess, nil
}

// VerifyHost compares the captured host key against knownHostsPath. The store
// is loaded for this call only and released before returning.
func (c *Client) VerifyHost(knownHostsPath string) (HostKeyStatus, error) {
	host, portStr, err := net.SplitHostPort(c.addr)
	if err != nil {
		return HostKeyFailure, fmt.Errorf("split addr %q: %w", c.addr, err)
	}
	port, _ := strconv.Atoi(portStr)
	return CheckKnownHost(host, port, c.hostKey, knownHostsPath)
}

// Close disconnects with a human-readable reason and releases the connection.
// Subsequent calls are no-ops.
func (c *Client) Close(reason string) error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	log.Debug().Str("addr", c.addr).Str("reason", reason).Msg("ssh: session closed")
	if err := c.ssh.Close(); err != nil {
		return fmt.Errorf("close %s: %w", c.addr, err)
	}
	return nil
}
