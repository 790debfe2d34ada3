package sftp_test

import (
	"bytes"
	"context"
	"crypto/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/skiffhq/skiff/internal/client"
	"github.com/skiffhq/skiff/internal/sftp"
	"github.com/skiffhq/skiff/internal/sshtest"
)

func openSubsystem(t *testing.T) *sftp.Subsystem {
	t.Helper()
	srv, err := sshtest.New("testuser", "testpass", t.TempDir())
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

	sub, err := sftp.Open(c)
	require.NoError(t, err)
	t.Cleanup(func() { sub.Close() })
	return sub
}

func writeRandomFile(t *testing.T, path string, size int) []byte {
	t.Helper()
	data := make([]byte, size)
	_, err := rand.Read(data)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return data
}

func TestListDir(t *testing.T) {
	sub := openSubsystem(t)

	dir := t.TempDir()
	writeRandomFile(t, filepath.Join(dir, "a.bin"), 100)
	writeRandomFile(t, filepath.Join(dir, "b.bin"), 2000)
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))

	entries, err := sub.ListDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	byName := map[string]sftp.Entry{}
	for _, e := range entries {
		byName[e.Name] = e
	}
	require.Equal(t, int64(100), byName["a.bin"].Size)
	require.Equal(t, int64(2000), byName["b.bin"].Size)
	require.True(t, byName["sub"].IsDir)
	require.False(t, byName["a.bin"].IsDir)
}

func TestListDirMissing(t *testing.T) {
	sub := openSubsystem(t)

	_, err := sub.ListDir(filepath.Join(t.TempDir(), "absent"))
	require.ErrorIs(t, err, client.ErrTransfer)
}

func TestSendReceiveRoundTrip(t *testing.T) {
	sub := openSubsystem(t)

	local := filepath.Join(t.TempDir(), "payload.bin")
	data := writeRandomFile(t, local, 256*1024)

	remote := filepath.Join(t.TempDir(), "uploaded.bin")
	n, err := sub.SendFile(0o640, local, remote)
	require.NoError(t, err)
	require.Equal(t, int64(len(data)), n)

	fi, err := os.Stat(remote)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o640), fi.Mode().Perm())

	back := filepath.Join(t.TempDir(), "downloaded.bin")
	n, err = sub.ReceiveFile(back, remote)
	require.NoError(t, err)
	require.Equal(t, int64(len(data)), n)

	got, err := os.ReadFile(back)
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestSendFileRefusesOverwrite(t *testing.T) {
	sub := openSubsystem(t)

	local := filepath.Join(t.TempDir(), "payload.bin")
	writeRandomFile(t, local, 1024)

	remote := filepath.Join(t.TempDir(), "existing.bin")
	original := writeRandomFile(t, remote, 64)

	// The exclusive open fails before a single byte is written.
	_, err := sub.SendFile(0o644, local, remote)
	require.ErrorIs(t, err, client.ErrTransfer)

	got, err := os.ReadFile(remote)
	require.NoError(t, err)
	require.Equal(t, original, got)
}

func TestSendFileMissingLocal(t *testing.T) {
	sub := openSubsystem(t)

	_, err := sub.SendFile(0o644, filepath.Join(t.TempDir(), "absent"), filepath.Join(t.TempDir(), "out"))
	require.Error(t, err)
	require.NotErrorIs(t, err, client.ErrTransfer)
}

func TestReceiveFileMissingRemote(t *testing.T) {
	sub := openSubsystem(t)

	local := filepath.Join(t.TempDir(), "copy.bin")
	_, err := sub.ReceiveFile(local, filepath.Join(t.TempDir(), "absent"))
	require.ErrorIs(t, err, client.ErrTransfer)

	_, statErr := os.Stat(local)
	require.True(t, os.IsNotExist(statErr))
}

func TestReceiveFileFailureKeepsExistingLocal(t *testing.T) {
	sub := openSubsystem(t)

	dir := t.TempDir()
	local := filepath.Join(dir, "keep.bin")
	require.NoError(t, os.WriteFile(local, []byte("precious"), 0o644))

	_, err := sub.ReceiveFile(local, filepath.Join(t.TempDir(), "absent"))
	require.ErrorIs(t, err, client.ErrTransfer)

	got, err := os.ReadFile(local)
	require.NoError(t, err)
	require.Equal(t, []byte("precious"), got)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestRename(t *testing.T) {
	sub := openSubsystem(t)

	dir := t.TempDir()
	data := writeRandomFile(t, filepath.Join(dir, "old.bin"), 512)

	require.NoError(t, sub.Rename(filepath.Join(dir, "old.bin"), filepath.Join(dir, "new.bin")))

	got, err := os.ReadFile(filepath.Join(dir, "new.bin"))
	require.NoError(t, err)
	require.Equal(t, data, got)
	_, statErr := os.Stat(filepath.Join(dir, "old.bin"))
	require.True(t, os.IsNotExist(statErr))
}

func TestRenameMissingSource(t *testing.T) {
	sub := openSubsystem(t)

	dir := t.TempDir()
	err := sub.Rename(filepath.Join(dir, "absent"), filepath.Join(dir, "dest"))
	require.ErrorIs(t, err, client.ErrTransfer)
}

func TestMkdirStatRemove(t *testing.T) {
	sub := openSubsystem(t)

	path := filepath.Join(t.TempDir(), "made")
	require.NoError(t, sub.Mkdir(path))

	entry, err := sub.Stat(path)
	require.NoError(t, err)
	require.True(t, entry.IsDir)
	require.Equal(t, "made", entry.Name)

	require.NoError(t, sub.Remove(path))
	_, err = sub.Stat(path)
	require.ErrorIs(t, err, client.ErrTransfer)
}

func TestUploadDownloadStreams(t *testing.T) {
	sub := openSubsystem(t)

	remote := filepath.Join(t.TempDir(), "streamed.bin")
	payload := bytes.Repeat([]byte("stream"), 4096)

	n, err := sub.Upload(remote, bytes.NewReader(payload), 0)
	require.NoError(t, err)
	require.Equal(t, int64(len(payload)), n)

	var back bytes.Buffer
	n, err = sub.Download(remote, &back)
	require.NoError(t, err)
	require.Equal(t, int64(len(payload)), n)
	require.Equal(t, payload, back.Bytes())
}

func TestUploadEnforcesLimit(t *testing.T) {
	sub := openSubsystem(t)

	remote := filepath.Join(t.TempDir(), "toolarge.bin")
	payload := bytes.Repeat([]byte("x"), 4096)

	_, err := sub.Upload(remote, bytes.NewReader(payload), 1024)
	require.ErrorIs(t, err, client.ErrTransfer)

	// The oversize upload leaves nothing behind.
	_, statErr := os.Stat(remote)
	require.True(t, os.IsNotExist(statErr))
}

func TestWithLimit(t *testing.T) {
	sub := openSubsystem(t)

	local := filepath.Join(t.TempDir(), "payload.bin")
	data := writeRandomFile(t, local, 32*1024)

	remote := filepath.Join(t.TempDir(), "limited.bin")
	n, err := sub.SendFile(0o644, local, remote, sftp.WithLimit(4<<20))
	require.NoError(t, err)
	require.Equal(t, int64(len(data)), n)
}
