package worker

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/skiffhq/skiff/internal/client"
	"github.com/skiffhq/skiff/internal/crypto"
	"github.com/skiffhq/skiff/internal/sshtest"
)

// sealedPayload builds a ready-to-queue payload against an sshtest server.
func sealedPayload(t *testing.T, srv *sshtest.Server) TransferPayload {
	t.Helper()
	sealed, err := crypto.Encrypt("taskpass")
	require.NoError(t, err)
	return TransferPayload{
		Host:         srv.Host(),
		Port:         srv.Port(),
		User:         "taskuser",
		AuthType:     client.AuthPassword,
		SealedSecret: sealed,
	}
}

func startServer(t *testing.T) (*sshtest.Server, string) {
	t.Helper()
	remoteRoot := t.TempDir()
	srv, err := sshtest.New("taskuser", "taskpass", remoteRoot)
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	t.Cleanup(srv.Stop)
	return srv, remoteRoot
}

func TestHandleSCPSend(t *testing.T) {
	srv, remoteRoot := startServer(t)

	local := filepath.Join(t.TempDir(), "payload.bin")
	require.NoError(t, os.WriteFile(local, []byte("queued transfer body"), 0o600))

	p := sealedPayload(t, srv)
	p.LocalPath = local
	p.RemotePath = "queued.bin"
	task, err := NewTask(TaskSCPSend, p)
	require.NoError(t, err)
	require.Equal(t, TaskSCPSend, task.Type())

	require.NoError(t, handleSCPSend(context.Background(), task))

	got, err := os.ReadFile(filepath.Join(remoteRoot, "queued.bin"))
	require.NoError(t, err)
	require.Equal(t, "queued transfer body", string(got))
}

func TestHandleSCPReceive(t *testing.T) {
	srv, remoteRoot := startServer(t)
	require.NoError(t, os.WriteFile(filepath.Join(remoteRoot, "fetch.bin"), []byte("remote body"), 0o600))

	local := filepath.Join(t.TempDir(), "fetched.bin")
	p := sealedPayload(t, srv)
	p.LocalPath = local
	p.RemotePath = "fetch.bin"
	task, err := NewTask(TaskSCPReceive, p)
	require.NoError(t, err)

	require.NoError(t, handleSCPReceive(context.Background(), task))

	got, err := os.ReadFile(local)
	require.NoError(t, err)
	require.Equal(t, "remote body", string(got))
}

func TestHandleSFTPRoundTrip(t *testing.T) {
	srv, _ := startServer(t)

	local := filepath.Join(t.TempDir(), "up.bin")
	require.NoError(t, os.WriteFile(local, []byte("sftp task body"), 0o600))

	remote := filepath.Join(t.TempDir(), "stored.bin")
	p := sealedPayload(t, srv)
	p.LocalPath = local
	p.RemotePath = remote
	task, err := NewTask(TaskSFTPSend, p)
	require.NoError(t, err)
	require.NoError(t, handleSFTPSend(context.Background(), task))

	back := filepath.Join(t.TempDir(), "down.bin")
	p.LocalPath = back
	task, err = NewTask(TaskSFTPReceive, p)
	require.NoError(t, err)
	require.NoError(t, handleSFTPReceive(context.Background(), task))

	got, err := os.ReadFile(back)
	require.NoError(t, err)
	require.Equal(t, "sftp task body", string(got))
}

func TestHandleRejectsBadPayload(t *testing.T) {
	task, err := NewTask(TaskSCPSend, TransferPayload{SealedSecret: "not-sealed"})
	require.NoError(t, err)
	require.Error(t, handleSCPSend(context.Background(), task))
}
