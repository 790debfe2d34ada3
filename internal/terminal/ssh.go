package terminal

import (
	"context"
	"fmt"
	"sync"

	"github.com/skiffhq/skiff/internal/channel"
	"github.com/skiffhq/skiff/internal/client"
)

const defaultTerm = "xterm-256color"

// SSHConnector establishes SSH sessions to remote servers. Credentials are
// consumed once during Connect and held only in-memory for the duration of
// the session.
type SSHConnector struct{}

// Connect opens an SSH connection and returns a Session backed by a remote
// PTY. The returned Session must be closed by the caller.
func (c *SSHConnector) Connect(ctx context.Context, cfg ConnectorConfig) (Session, error) {
	clientCfg := client.Config{
		Host:           cfg.Host,
		Port:           cfg.Port,
		User:           cfg.User,
		AuthType:       cfg.AuthType,
		KnownHostsPath: cfg.KnownHostsPath,
		StrictHostKey:  cfg.StrictHostKey,
	}
	switch cfg.AuthType {
	case client.AuthPrivateKey:
		clientCfg.PrivateKey = []byte(cfg.Secret)
	default:
		clientCfg.Password = cfg.Secret
	}

	cl, err := client.Dial(ctx, clientCfg)
	if err != nil {
		return nil, err
	}
	sess, err := newSSHSession(cl, cfg)
	if err != nil {
		cl.Close("terminal setup failed")
		return nil, err
	}
	return sess, nil
}

// sshSession wraps a dedicated connection plus one PTY channel.
type sshSession struct {
	client *client.Client
	ch     *channel.Channel
	mu     sync.Mutex
}

func newSSHSession(cl *client.Client, cfg ConnectorConfig) (*sshSession, error) {
	ch, err := channel.Open(cl)
	if err != nil {
		return nil, err
	}
	term := cfg.Term
	if term == "" {
		term = defaultTerm
	}
	if err := ch.RequestPTY(term); err != nil {
		ch.Close()
		return nil, err
	}

	// A configured shell is exec'd directly; otherwise ask the server for
	// the user's login shell. Exec("$SHELL") would send the literal string,
	// which remote servers do not expand.
	if cfg.Shell != "" {
		err = ch.Exec(cfg.Shell)
	} else {
		err = ch.Shell()
	}
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("start shell: %w", err)
	}

	return &sshSession{client: cl, ch: ch}, nil
}

func (s *sshSession) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ch.Write(p)
}

func (s *sshSession) Read(p []byte) (int, error) {
	return s.ch.Read(p)
}

func (s *sshSession) Resize(rows, cols uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ch.Resize(rows, cols)
}

func (s *sshSession) Close() error {
	_ = s.ch.Close()
	return s.client.Close("terminal session closed")
}

var _ Session = (*sshSession)(nil)
var _ Connector = (*SSHConnector)(nil)
