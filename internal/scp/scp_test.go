package scp_test

import (
	"context"
	"crypto/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/skiffhq/skiff/internal/client"
	"github.com/skiffhq/skiff/internal/scp"
	"github.com/skiffhq/skiff/internal/sshtest"
)

func setup(t *testing.T) (*client.Client, string) {
	t.Helper()
	remoteRoot := t.TempDir()
	srv, err := sshtest.New("testuser", "testpass", remoteRoot)
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	t.Cleanup(srv.Stop)

	c, err := client.Dial(context.Background(), client.Config{
		Host:     srv.Host(),
		Port:     srv.Port(),
		User:     "testuser",
		AuthType: client.AuthPassword,
		Password: "testpass",
	})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close("test done") })
	return c, remoteRoot
}

func writeRandomFile(t *testing.T, path string, size int) []byte {
	t.Helper()
	data := make([]byte, size)
	_, err := rand.Read(data)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return data
}

func TestSendRoundTrip(t *testing.T) {
	c, remoteRoot := setup(t)

	local := filepath.Join(t.TempDir(), "payload.bin")
	data := writeRandomFile(t, local, 100*1024)

	n, err := scp.Send(c, 0o644, local, "payload.bin")
	require.NoError(t, err)
	require.Equal(t, int64(len(data)), n)

	got, err := os.ReadFile(filepath.Join(remoteRoot, "payload.bin"))
	require.NoError(t, err)
	require.Equal(t, data, got)

	fi, err := os.Stat(filepath.Join(remoteRoot, "payload.bin"))
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o644), fi.Mode().Perm())
}

func TestSendLargeRoundTrip(t *testing.T) {
	c, remoteRoot := setup(t)

	local := filepath.Join(t.TempDir(), "big.bin")
	data := writeRandomFile(t, local, 10<<20)

	n, err := scp.Send(c, 0o644, local, "big.bin")
	require.NoError(t, err)
	require.Equal(t, int64(len(data)), n)

	got, err := os.ReadFile(filepath.Join(remoteRoot, "big.bin"))
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestSendEmptyFile(t *testing.T) {
	c, remoteRoot := setup(t)

	local := filepath.Join(t.TempDir(), "empty")
	require.NoError(t, os.WriteFile(local, nil, 0o600))

	n, err := scp.Send(c, 0o600, local, "empty")
	require.NoError(t, err)
	require.Zero(t, n)

	got, err := os.ReadFile(filepath.Join(remoteRoot, "empty"))
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestSendMissingLocalFile(t *testing.T) {
	c, _ := setup(t)

	_, err := scp.Send(c, 0o644, filepath.Join(t.TempDir(), "absent"), "absent")
	require.Error(t, err)
}

func TestSendRemoteRejects(t *testing.T) {
	c, _ := setup(t)

	local := filepath.Join(t.TempDir(), "payload.bin")
	writeRandomFile(t, local, 1024)

	// Remote directory does not exist; the sink reports a fatal error.
	_, err := scp.Send(c, 0o644, local, "no/such/dir/payload.bin")
	require.ErrorIs(t, err, client.ErrTransfer)
}

func TestReceiveRoundTrip(t *testing.T) {
	c, remoteRoot := setup(t)

	data := writeRandomFile(t, filepath.Join(remoteRoot, "payload.bin"), 100*1024)

	local := filepath.Join(t.TempDir(), "copy.bin")
	n, err := scp.Receive(c, "payload.bin", local)
	require.NoError(t, err)
	require.Equal(t, int64(len(data)), n)

	got, err := os.ReadFile(local)
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestReceiveWithLimit(t *testing.T) {
	c, remoteRoot := setup(t)

	data := writeRandomFile(t, filepath.Join(remoteRoot, "small.bin"), 8*1024)

	local := filepath.Join(t.TempDir(), "copy.bin")
	n, err := scp.Receive(c, "small.bin", local, scp.WithLimit(1<<20))
	require.NoError(t, err)
	require.Equal(t, int64(len(data)), n)
}

func TestReceiveMissingRemoteFile(t *testing.T) {
	c, _ := setup(t)

	local := filepath.Join(t.TempDir(), "copy.bin")
	_, err := scp.Receive(c, "absent.bin", local)
	require.ErrorIs(t, err, client.ErrTransfer)

	// A failed receive leaves no partial local file behind.
	_, statErr := os.Stat(local)
	require.True(t, os.IsNotExist(statErr))
}

func TestReceiveFailureKeepsExistingLocalFile(t *testing.T) {
	c, _ := setup(t)

	dir := t.TempDir()
	local := filepath.Join(dir, "keep.bin")
	require.NoError(t, os.WriteFile(local, []byte("precious"), 0o644))

	_, err := scp.Receive(c, "absent.bin", local)
	require.ErrorIs(t, err, client.ErrTransfer)

	got, err := os.ReadFile(local)
	require.NoError(t, err)
	require.Equal(t, []byte("precious"), got)

	// No leftover temp files either.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestSendQuotedRemotePath(t *testing.T) {
	c, remoteRoot := setup(t)

	local := filepath.Join(t.TempDir(), "spaced")
	data := writeRandomFile(t, local, 2048)

	n, err := scp.Send(c, 0o644, local, "with space.bin")
	require.NoError(t, err)
	require.Equal(t, int64(len(data)), n)

	got, err := os.ReadFile(filepath.Join(remoteRoot, "with space.bin"))
	require.NoError(t, err)
	require.Equal(t, data, got)
}
