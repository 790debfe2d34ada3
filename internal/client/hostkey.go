package client

import (
	"errors"
	"fmt"
	"net"
	"strconv"

	cryptossh "golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// HostKeyStatus is the outcome of comparing a presented host key against a
// known_hosts store.
type HostKeyStatus int

const (
	// HostKeyMatch: an entry for (host, port) exists and the key bytes are
	// identical.
	HostKeyMatch HostKeyStatus = iota
	// HostKeyMismatch: an entry exists but the key differs. Callers
	// must abort, not warn.
	HostKeyMismatch
	// HostKeyNotFound: no entry exists for (host, port).
	HostKeyNotFound
	// HostKeyFailure: the comparison itself failed (unreadable store,
	// malformed entry, missing key).
	HostKeyFailure
)

func (s HostKeyStatus) String() string {
	switch s {
	case HostKeyMatch:
		return "match"
	case HostKeyMismatch:
		return "mismatch"
	case HostKeyNotFound:
		return "not_found"
	default:
		return "failure"
	}
}

// CheckKnownHost loads the known_hosts file at knownHostsPath, looks up
// (host, port) with exact-match semantics, and compares raw key bytes against
// key. The store is loaded per call and released before returning; nothing is
// cached and nothing is written.
//
// An unreadable store returns (HostKeyFailure, err); the caller decides
// whether to treat that as not-found or to propagate.
func CheckKnownHost(host string, port int, key cryptossh.PublicKey, knownHostsPath string) (HostKeyStatus, error) {
	if key == nil {
		return HostKeyFailure, fmt.Errorf("no host key presented")
	}

	check, err := knownhosts.New(knownHostsPath)
	if err != nil {
		return HostKeyFailure, fmt.Errorf("load known_hosts %s: %w", knownHostsPath, err)
	}

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	remote := &net.TCPAddr{IP: net.IPv4zero, Port: port}
	err = check(addr, remote, key)
	if err == nil {
		return HostKeyMatch, nil
	}

	var keyErr *knownhosts.KeyError
	if errors.As(err, &keyErr) {
		if len(keyErr.Want) > 0 {
			return HostKeyMismatch, nil
		}
		return HostKeyNotFound, nil
	}
	return HostKeyFailure, fmt.Errorf("known_hosts lookup %s: %w", addr, err)
}

// hostKeyVerifier is the handshake-time host key callback. It always captures
// the presented key; when a known_hosts path is configured it also enforces
// the store, failing the handshake on mismatch before any credential is sent.
type hostKeyVerifier struct {
	host           string
	port           int
	knownHostsPath string
	strict         bool

	presented cryptossh.PublicKey
	status    HostKeyStatus
}

func (v *hostKeyVerifier) callback() cryptossh.HostKeyCallback {
	return func(hostname string, remote net.Addr, key cryptossh.PublicKey) error {
		v.presented = key

		if v.knownHostsPath == "" {
			v.status = HostKeyNotFound
			return nil
		}

		status, err := CheckKnownHost(v.host, v.port, key, v.knownHostsPath)
		v.status = status
		switch status {
		case HostKeyMatch:
			return nil
		case HostKeyMismatch:
			return fmt.Errorf("%w: %s", ErrHostKeyMismatch, hostname)
		case HostKeyNotFound:
			if v.strict {
				return fmt.Errorf("host %s not in known_hosts", hostname)
			}
			return nil
		default:
			return err
		}
	}
}
