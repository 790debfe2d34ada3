package client_test

import (
	"crypto/ed25519"
	"crypto/rand"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
	cryptossh "golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/skiffhq/skiff/internal/client"
)

func genPublicKey(t *testing.T) cryptossh.PublicKey {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	sshPub, err := cryptossh.NewPublicKey(pub)
	require.NoError(t, err)
	return sshPub
}

func writeKnownHosts(t *testing.T, host string, port int, key cryptossh.PublicKey) string {
	t.Helper()
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	path := filepath.Join(t.TempDir(), "known_hosts")
	require.NoError(t, os.WriteFile(path, []byte(knownhosts.Line([]string{addr}, key)+"\n"), 0o600))
	return path
}

func TestCheckKnownHost(t *testing.T) {
	stored := genPublicKey(t)
	other := genPublicKey(t)
	path := writeKnownHosts(t, "192.0.2.10", 2022, stored)

	tests := []struct {
		name string
		host string
		port int
		key  cryptossh.PublicKey
		want client.HostKeyStatus
	}{
		{"match", "192.0.2.10", 2022, stored, client.HostKeyMatch},
		{"mismatch", "192.0.2.10", 2022, other, client.HostKeyMismatch},
		{"other host not found", "192.0.2.11", 2022, stored, client.HostKeyNotFound},
		{"other port not found", "192.0.2.10", 22, stored, client.HostKeyNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			status, err := client.CheckKnownHost(tc.host, tc.port, tc.key, path)
			require.NoError(t, err)
			require.Equal(t, tc.want, status)
		})
	}
}

func TestCheckKnownHostUnreadableStore(t *testing.T) {
	key := genPublicKey(t)
	status, err := client.CheckKnownHost("192.0.2.10", 22, key, filepath.Join(t.TempDir(), "absent"))
	require.Error(t, err)
	require.Equal(t, client.HostKeyFailure, status)
}

func TestCheckKnownHostNilKey(t *testing.T) {
	path := writeKnownHosts(t, "192.0.2.10", 22, genPublicKey(t))
	status, err := client.CheckKnownHost("192.0.2.10", 22, nil, path)
	require.Error(t, err)
	require.Equal(t, client.HostKeyFailure, status)
}

func TestHostKeyStatusString(t *testing.T) {
	require.Equal(t, "match", client.HostKeyMatch.String())
	require.Equal(t, "mismatch", client.HostKeyMismatch.String())
	require.Equal(t, "not_found", client.HostKeyNotFound.String())
	require.Equal(t, "failure", client.HostKeyFailure.String())
}
