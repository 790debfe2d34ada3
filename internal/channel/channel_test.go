package channel_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/skiffhq/skiff/internal/channel"
	"github.com/skiffhq/skiff/internal/client"
	"github.com/skiffhq/skiff/internal/sshtest"
)

func dialTestServer(t *testing.T) *client.Client {
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
	return c
}

func TestOutputEcho(t *testing.T) {
	c := dialTestServer(t)

	status, out, err := channel.Output(c, "echo hello")
	require.NoError(t, err)
	require.Equal(t, 0, status)
	require.Equal(t, "hello\n", string(out))
}

func TestOutputExitStatus(t *testing.T) {
	c := dialTestServer(t)

	status, _, err := channel.Output(c, "false")
	require.NoError(t, err)
	require.Equal(t, 1, status)

	status, _, err = channel.Output(c, "no-such-binary")
	require.NoError(t, err)
	require.Equal(t, 127, status)
}

func TestReadAllAccumulatesBeyondOneChunk(t *testing.T) {
	c := dialTestServer(t)

	// Well past the 1024-byte read granularity; order must survive the
	// chunked accumulation.
	payload := strings.Repeat("0123456789", 500)
	status, out, err := channel.Output(c, "echo "+payload)
	require.NoError(t, err)
	require.Equal(t, 0, status)
	require.Equal(t, payload+"\n", string(out))
}

func TestShellRoundTrip(t *testing.T) {
	c := dialTestServer(t)

	ch, err := channel.Open(c)
	require.NoError(t, err)
	defer ch.Close()

	require.NoError(t, ch.RequestPTY("xterm"))
	require.NoError(t, ch.Shell())

	_, err = ch.Write([]byte("echo one\n"))
	require.NoError(t, err)
	out, err := ch.ReadAvailable(500 * time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, "one\n", string(out))

	_, err = ch.Write([]byte("exit\n"))
	require.NoError(t, err)
	require.NoError(t, ch.WaitEOF())
	require.NoError(t, ch.Close())

	status, err := ch.ExitStatus()
	require.NoError(t, err)
	require.Equal(t, 0, status)
}

func TestReadAvailableSurvivesSilentCommand(t *testing.T) {
	c := dialTestServer(t)

	ch, err := channel.Open(c)
	require.NoError(t, err)
	defer ch.Close()
	require.NoError(t, ch.Shell())

	// cd produces no output and no EOF; a blocking drain would hang here.
	_, err = ch.Write([]byte("cd /tmp\n"))
	require.NoError(t, err)
	out, err := ch.ReadAvailable(200 * time.Millisecond)
	require.NoError(t, err)
	require.Empty(t, out)

	// The channel is still usable afterwards.
	_, err = ch.Write([]byte("echo back\n"))
	require.NoError(t, err)
	out, err = ch.ReadAvailable(500 * time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, "back\n", string(out))
}

func TestNonBlockingReadWouldBlock(t *testing.T) {
	c := dialTestServer(t)
	c.SetBlocking(false)

	ch, err := channel.Open(c)
	require.NoError(t, err)
	defer ch.Close()
	require.NoError(t, ch.Shell())

	// Nothing written yet, so nothing is buffered.
	buf := make([]byte, 64)
	_, err = ch.Read(buf)
	require.ErrorIs(t, err, channel.ErrWouldBlock)

	_, err = ch.Write([]byte("echo poll\n"))
	require.NoError(t, err)
	require.True(t, ch.Poll(2*time.Second), "output should arrive within the window")

	n, err := ch.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "poll\n", string(buf[:n]))
}

func TestPollTimesOutOnIdleChannel(t *testing.T) {
	c := dialTestServer(t)

	ch, err := channel.Open(c)
	require.NoError(t, err)
	defer ch.Close()
	require.NoError(t, ch.Shell())

	start := time.Now()
	require.False(t, ch.Poll(100*time.Millisecond))
	require.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}

func TestLifecycleViolations(t *testing.T) {
	c := dialTestServer(t)

	ch, err := channel.Open(c)
	require.NoError(t, err)
	defer ch.Close()

	// Read and EOF before start.
	_, err = ch.Read(make([]byte, 1))
	require.ErrorIs(t, err, client.ErrChannel)
	require.ErrorIs(t, ch.SendEOF(), client.ErrChannel)

	// Exit status before close.
	_, err = ch.ExitStatus()
	require.ErrorIs(t, err, client.ErrChannel)

	require.NoError(t, ch.Exec("true"))

	// Forward-only: no second start, no late PTY.
	require.ErrorIs(t, ch.Exec("true"), client.ErrChannel)
	require.ErrorIs(t, ch.RequestPTY("xterm"), client.ErrChannel)
}

func TestCloseTwice(t *testing.T) {
	c := dialTestServer(t)

	ch, err := channel.Open(c)
	require.NoError(t, err)
	require.NoError(t, ch.Exec("true"))
	_, err = ch.ReadAll()
	require.NoError(t, err)
	require.NoError(t, ch.Close())
	require.NoError(t, ch.Close())
	require.Equal(t, channel.StateClosed, ch.State())
}

func TestStateString(t *testing.T) {
	require.Equal(t, "open", channel.StateOpen.String())
	require.Equal(t, "pty", channel.StatePTY.String())
	require.Equal(t, "started", channel.StateStarted.String())
	require.Equal(t, "eof-sent", channel.StateEOFSent.String())
	require.Equal(t, "closed", channel.StateClosed.String())
}
