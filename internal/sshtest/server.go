// Package sshtest runs a minimal in-process SSH server for exercising the
// client core without a real remote host. It supports password and
// public-key auth, a small exec dispatcher (echo, scp sink/source), a toy
// line-based shell, and the sftp subsystem served from the local filesystem.
//
// Not hardened in any way; test use only.
package sshtest

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	gosftp "github.com/pkg/sftp"
	cryptossh "golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// Server is one listening test SSH endpoint.
type Server struct {
	user     string
	password string
	// authorizedKey, when set, is accepted for public-key auth.
	authorizedKey cryptossh.PublicKey
	rootDir       string

	config   *cryptossh.ServerConfig
	signer   cryptossh.Signer
	listener net.Listener

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup

	authAttempts atomic.Int64
}

// New builds a server that accepts the given password for user. rootDir
// anchors relative SCP paths. The host key is a fresh ed25519 key.
func New(user, password, rootDir string) (*Server, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate host key: %w", err)
	}
	signer, err := cryptossh.NewSignerFromKey(priv)
	if err != nil {
		return nil, fmt.Errorf("host key signer: %w", err)
	}

	s := &Server{
		user:     user,
		password: password,
		rootDir:  rootDir,
		signer:   signer,
	}
	s.config = &cryptossh.ServerConfig{
		PasswordCallback: func(meta cryptossh.ConnMetadata, pass []byte) (*cryptossh.Permissions, error) {
			s.authAttempts.Add(1)
			if meta.User() == s.user && string(pass) == s.password {
				return nil, nil
			}
			return nil, fmt.Errorf("password rejected for %s", meta.User())
		},
		PublicKeyCallback: func(meta cryptossh.ConnMetadata, key cryptossh.PublicKey) (*cryptossh.Permissions, error) {
			s.authAttempts.Add(1)
			if s.authorizedKey != nil && meta.User() == s.user &&
				string(key.Marshal()) == string(s.authorizedKey.Marshal()) {
				return nil, nil
			}
			return nil, fmt.Errorf("public key rejected for %s", meta.User())
		},
	}
	s.config.AddHostKey(signer)
	return s, nil
}

// AuthorizeKey allows key for public-key auth.
func (s *Server) AuthorizeKey(key cryptossh.PublicKey) { s.authorizedKey = key }

// AuthAttempts reports how many authentication callbacks have fired. A
// host-key mismatch must abort the handshake with this still at zero.
func (s *Server) AuthAttempts() int { return int(s.authAttempts.Load()) }

// Start listens on a dynamic loopback port and begins accepting.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	s.listener = ln
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.handle(conn)
			}()
		}
	}()
	return nil
}

// Stop closes the listener and waits for in-flight connections.
func (s *Server) Stop() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	if s.listener != nil {
		s.listener.Close()
	}
	s.wg.Wait()
}

// Host returns the loopback host the server listens on.
func (s *Server) Host() string { return "127.0.0.1" }

// Port returns the dynamic port. Valid after Start.
func (s *Server) Port() int {
	return s.listener.Addr().(*net.TCPAddr).Port
}

// HostKey returns the server's public host key.
func (s *Server) HostKey() cryptossh.PublicKey { return s.signer.PublicKey() }

// KnownHostsLine renders a known_hosts entry for this server's address and
// the given key (pass a different key to fabricate a mismatch).
func (s *Server) KnownHostsLine(key cryptossh.PublicKey) string {
	addr := net.JoinHostPort(s.Host(), strconv.Itoa(s.Port()))
	return knownhosts.Line([]string{addr}, key)
}

// WriteKnownHosts writes a one-entry known_hosts file matching this server.
func (s *Server) WriteKnownHosts(path string) error {
	return os.WriteFile(path, []byte(s.KnownHostsLine(s.HostKey())+"\n"), 0o600)
}

func (s *Server) handle(conn net.Conn) {
	serverConn, chans, reqs, err := cryptossh.NewServerConn(conn, s.config)
	if err != nil {
		conn.Close()
		return
	}
	defer serverConn.Close()
	go cryptossh.DiscardRequests(reqs)

	for newCh := range chans {
		if newCh.ChannelType() != "session" {
			newCh.Reject(cryptossh.UnknownChannelType, "unsupported channel type")
			continue
		}
		ch, requests, err := newCh.Accept()
		if err != nil {
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.session(ch, requests)
		}()
	}
}

func (s *Server) session(ch cryptossh.Channel, reqs <-chan *cryptossh.Request) {
	defer ch.Close()
	for req := range reqs {
		switch req.Type {
		case "pty-req":
			req.Reply(true, nil)
		case "shell":
			req.Reply(true, nil)
			// Keep draining late requests (window-change etc.) while the
			// shell runs.
			go cryptossh.DiscardRequests(reqs)
			sendExit(ch, shellLoop(ch))
			return
		case "exec":
			var p struct{ Command string }
			if err := cryptossh.Unmarshal(req.Payload, &p); err != nil {
				req.Reply(false, nil)
				continue
			}
			req.Reply(true, nil)
			go cryptossh.DiscardRequests(reqs)
			sendExit(ch, s.exec(ch, p.Command))
			return
		case "subsystem":
			var p struct{ Name string }
			if err := cryptossh.Unmarshal(req.Payload, &p); err != nil || p.Name != "sftp" {
				req.Reply(false, nil)
				continue
			}
			req.Reply(true, nil)
			go cryptossh.DiscardRequests(reqs)
			s.serveSFTP(ch)
			sendExit(ch, 0)
			return
		default:
			req.Reply(false, nil)
		}
	}
}

func (s *Server) serveSFTP(ch cryptossh.Channel) {
	srv, err := gosftp.NewServer(ch)
	if err != nil {
		return
	}
	_ = srv.Serve()
	srv.Close()
}

func (s *Server) exec(ch cryptossh.Channel, command string) int {
	switch {
	case strings.HasPrefix(command, "echo "):
		fmt.Fprintf(ch, "%s\n", strings.TrimPrefix(command, "echo "))
		return 0
	case strings.HasPrefix(command, "scp -qt "):
		return s.scpSink(ch, s.resolve(unquote(strings.TrimPrefix(command, "scp -qt "))))
	case strings.HasPrefix(command, "scp -qf "):
		return s.scpSource(ch, s.resolve(unquote(strings.TrimPrefix(command, "scp -qf "))))
	case command == "true":
		return 0
	case command == "false":
		return 1
	default:
		fmt.Fprintf(ch.Stderr(), "unknown command: %s\n", command)
		return 127
	}
}

// shellLoop is a toy line shell: echo produces output, cd produces none
// (the case a polling read must survive), exit ends the session.
func shellLoop(ch cryptossh.Channel) int {
	buf := make([]byte, 1024)
	var line []byte
	for {
		n, err := ch.Read(buf)
		if err != nil {
			return 0
		}
		for _, b := range buf[:n] {
			if b != '\n' && b != '\r' {
				line = append(line, b)
				continue
			}
			cmd := strings.TrimSpace(string(line))
			line = line[:0]
			switch {
			case cmd == "":
			case cmd == "exit":
				return 0
			case strings.HasPrefix(cmd, "cd"):
				// no output, like a real shell
			case strings.HasPrefix(cmd, "echo "):
				fmt.Fprintf(ch, "%s\n", strings.TrimPrefix(cmd, "echo "))
			default:
				fmt.Fprintf(ch, "%s: not found\n", cmd)
			}
		}
	}
}

func (s *Server) resolve(path string) string {
	if strings.HasPrefix(path, "/") {
		return path
	}
	return s.rootDir + "/" + path
}

// unquote undoes the client's single-quote shell quoting.
func unquote(arg string) string {
	arg = strings.TrimSpace(arg)
	if len(arg) >= 2 && strings.HasPrefix(arg, "'") && strings.HasSuffix(arg, "'") {
		arg = arg[1 : len(arg)-1]
		arg = strings.ReplaceAll(arg, `'\''`, "'")
	}
	return arg
}

func sendExit(ch cryptossh.Channel, status int) {
	payload := cryptossh.Marshal(struct{ Status uint32 }{uint32(status)})
	ch.SendRequest("exit-status", false, payload)
}
