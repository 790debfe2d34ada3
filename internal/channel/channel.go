// Package channel manages logical SSH channels: open, PTY allocation, exec
// and shell startup, blocking and polling reads, EOF signalling, and exit
// status retrieval.
//
// A Channel moves strictly forward through its states; a closed channel is
// never reopened. The read discipline (blocking vs. would-block) is owned by
// the parent connection and consulted live on every read, so a single toggle
// covers all channels of a session.
package channel

import (
	"errors"
	"fmt"
	"io"
	"time"

	cryptossh "golang.org/x/crypto/ssh"

	"github.com/skiffhq/skiff/internal/client"
)

// ErrWouldBlock is returned by Read in non-blocking mode when no data is
// buffered. The caller polls for readability and retries.
var ErrWouldBlock = errors.New("would block")

const (
	// readChunkSize is the fixed read granularity of ReadAll and
	// ReadAvailable. Output larger than one chunk is accumulated in order.
	readChunkSize = 1024
	// writeChunkSize bounds a single write to the channel; Write loops.
	writeChunkSize = 32 * 1024
)

// State is a channel lifecycle stage. Transitions are strictly forward.
type State int

const (
	StateOpen State = iota
	StatePTY
	StateStarted
	StateEOFSent
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StatePTY:
		return "pty"
	case StateStarted:
		return "started"
	case StateEOFSent:
		return "eof-sent"
	default:
		return "closed"
	}
}

// Conn is the slice of the session client a channel needs: channel creation
// and the live blocking-mode flag. *client.Client satisfies it.
type Conn interface {
	NewSession() (*cryptossh.Session, error)
	Blocking() bool
}

// Channel is one logical multiplexed stream within a session. It must not
// outlive its connection, must be closed before the exit status is read, and
// is not safe for concurrent use.
type Channel struct {
	conn   Conn
	sess   *cryptossh.Session
	stdin  io.WriteCloser
	stdout io.Reader

	state      State
	exitStatus int
	waitErr    error

	// frames carries pump output; closed on remote EOF or read error.
	frames  chan []byte
	readErr error
	pending []byte
	eof     bool
}

// Open creates a channel in the OPEN state bound to conn. Every Open must be
// paired with a Close.
func Open(conn Conn) (*Channel, error) {
	sess, err := conn.NewSession()
	if err != nil {
		return nil, err
	}
	stdin, err := sess.StdinPipe()
	if err != nil {
		sess.Close()
		return nil, fmt.Errorf("%w: stdin pipe: %v", client.ErrChannel, err)
	}
	stdout, err := sess.StdoutPipe()
	if err != nil {
		sess.Close()
		return nil, fmt.Errorf("%w: stdout pipe: %v", client.ErrChannel, err)
	}
	return &Channel{
		conn:       conn,
		sess:       sess,
		stdin:      stdin,
		stdout:     stdout,
		state:      StateOpen,
		exitStatus: -1,
	}, nil
}

// State returns the current lifecycle stage.
func (c *Channel) State() State { return c.state }

// RequestPTY allocates a pseudo-terminal of the given terminal type. Valid
// only before Exec or Shell.
func (c *Channel) RequestPTY(term string) error {
	if c.state != StateOpen {
		return fmt.Errorf("%w: pty request in state %s", client.ErrChannel, c.state)
	}
	modes := cryptossh.TerminalModes{
		cryptossh.ECHO:          1,
		cryptossh.TTY_OP_ISPEED: 14400,
		cryptossh.TTY_OP_OSPEED: 14400,
	}
	if err := c.sess.RequestPty(term, 24, 80, modes); err != nil {
		return fmt.Errorf("%w: request pty: %v", client.ErrChannel, err)
	}
	c.state = StatePTY
	return nil
}

// Exec starts a single remote command on the channel.
func (c *Channel) Exec(cmd string) error {
	if err := c.startable(); err != nil {
		return err
	}
	if err := c.sess.Start(cmd); err != nil {
		return fmt.Errorf("%w: exec %q: %v", client.ErrChannel, cmd, err)
	}
	c.start()
	return nil
}

// Shell starts an interactive shell that the caller drives via Write/Read.
func (c *Channel) Shell() error {
	if err := c.startable(); err != nil {
		return err
	}
	if err := c.sess.Shell(); err != nil {
		return fmt.Errorf("%w: start shell: %v", client.ErrChannel, err)
	}
	c.start()
	return nil
}

func (c *Channel) startable() error {
	if c.state != StateOpen && c.state != StatePTY {
		return fmt.Errorf("%w: start in state %s", client.ErrChannel, c.state)
	}
	return nil
}

// start launches the pump that moves remote output into frames. The pump is
// the only reader of the raw stdout pipe; everything else reads frames.
func (c *Channel) start() {
	c.state = StateStarted
	c.frames = make(chan []byte, 32)
	go func() {
		defer close(c.frames)
		for {
			buf := make([]byte, readChunkSize)
			n, err := c.stdout.Read(buf)
			if n > 0 {
				c.frames <- buf[:n]
			}
			if err != nil {
				if err != io.EOF {
					c.readErr = err
				}
				return
			}
		}
	}()
}

func (c *Channel) readable() error {
	if c.state < StateStarted || c.state == StateClosed {
		return fmt.Errorf("%w: read in state %s", client.ErrChannel, c.state)
	}
	return nil
}

// Read reads up to len(p) bytes. In blocking mode it waits for at least one
// byte or EOF; in non-blocking mode it returns ErrWouldBlock immediately when
// nothing is buffered, and the caller polls before retrying.
func (c *Channel) Read(p []byte) (int, error) {
	if err := c.readable(); err != nil {
		return 0, err
	}
	if len(c.pending) == 0 {
		if c.eof {
			return 0, io.EOF
		}
		if c.conn.Blocking() {
			if err := c.waitFrame(); err != nil {
				return 0, err
			}
		} else {
			select {
			case frame, ok := <-c.frames:
				if err := c.takeFrame(frame, ok); err != nil {
					return 0, err
				}
			default:
				return 0, ErrWouldBlock
			}
		}
	}
	n := copy(p, c.pending)
	c.pending = c.pending[n:]
	return n, nil
}

// blockingRead is Read pinned to the blocking discipline. The transfer
// engines use it so a session left in polling mode cannot corrupt a bulk
// transfer.
func (c *Channel) blockingRead(p []byte) (int, error) {
	if err := c.readable(); err != nil {
		return 0, err
	}
	if len(c.pending) == 0 {
		if c.eof {
			return 0, io.EOF
		}
		if err := c.waitFrame(); err != nil {
			return 0, err
		}
	}
	n := copy(p, c.pending)
	c.pending = c.pending[n:]
	return n, nil
}

func (c *Channel) waitFrame() error {
	frame, ok := <-c.frames
	return c.takeFrame(frame, ok)
}

func (c *Channel) takeFrame(frame []byte, ok bool) error {
	if !ok {
		c.eof = true
		if c.readErr != nil {
			return fmt.Errorf("%w: read: %v", client.ErrChannel, c.readErr)
		}
		return io.EOF
	}
	c.pending = frame
	return nil
}

// ReadFull fills p entirely under the blocking discipline, failing with
// io.ErrUnexpectedEOF if the peer ends the stream early. Transfer framing
// (SCP headers, exact-length bodies) depends on this.
func (c *Channel) ReadFull(p []byte) error {
	for len(p) > 0 {
		n, err := c.blockingRead(p)
		p = p[n:]
		if err == io.EOF {
			if len(p) > 0 {
				return io.ErrUnexpectedEOF
			}
			return nil
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// BlockingReader adapts the channel to io.Reader with reads pinned to the
// blocking discipline, for io.Copy-style bulk consumption.
func (c *Channel) BlockingReader() io.Reader { return blockingReader{c} }

type blockingReader struct{ c *Channel }

func (r blockingReader) Read(p []byte) (int, error) { return r.c.blockingRead(p) }

// Poll waits up to timeout for the channel to become readable. EOF counts as
// readable: the subsequent zero-byte read is the termination signal.
func (c *Channel) Poll(timeout time.Duration) bool {
	if len(c.pending) > 0 || c.eof {
		return true
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case frame, ok := <-c.frames:
		if !ok {
			c.eof = true
			return true
		}
		c.pending = frame
		return true
	case <-timer.C:
		return false
	}
}

// Resize changes the remote PTY dimensions. Valid once the channel has
// started with a PTY allocated.
func (c *Channel) Resize(rows, cols uint16) error {
	if c.state != StateStarted {
		return fmt.Errorf("%w: resize in state %s", client.ErrChannel, c.state)
	}
	if err := c.sess.WindowChange(int(rows), int(cols)); err != nil {
		return fmt.Errorf("%w: window change: %v", client.ErrChannel, err)
	}
	return nil
}

// Write writes exactly len(p) bytes, chunked internally. A short write only
// occurs together with an error.
func (c *Channel) Write(p []byte) (int, error) {
	if c.state < StateStarted || c.state >= StateEOFSent {
		return 0, fmt.Errorf("%w: write in state %s", client.ErrChannel, c.state)
	}
	written := 0
	for len(p) > 0 {
		n := len(p)
		if n > writeChunkSize {
			n = writeChunkSize
		}
		wn, err := c.stdin.Write(p[:n])
		written += wn
		if err != nil {
			return written, fmt.Errorf("%w: write: %v", client.ErrChannel, err)
		}
		p = p[wn:]
	}
	return written, nil
}

// SendEOF signals that no more data will be written. On transfer-style
// channels it must precede WaitEOF.
func (c *Channel) SendEOF() error {
	if c.state != StateStarted {
		return fmt.Errorf("%w: send eof in state %s", client.ErrChannel, c.state)
	}
	if err := c.stdin.Close(); err != nil {
		return fmt.Errorf("%w: send eof: %v", client.ErrChannel, err)
	}
	c.state = StateEOFSent
	return nil
}

// WaitEOF blocks until the peer signals EOF, confirming the remote side
// finished processing (e.g. flushed an SCP upload). Output arriving before
// the EOF stays buffered for later reads.
func (c *Channel) WaitEOF() error {
	if c.state < StateStarted || c.state == StateClosed {
		return fmt.Errorf("%w: wait eof in state %s", client.ErrChannel, c.state)
	}
	for frame := range c.frames {
		c.pending = append(c.pending, frame...)
	}
	c.eof = true
	if c.readErr != nil {
		return fmt.Errorf("%w: wait eof: %v", client.ErrChannel, c.readErr)
	}
	return nil
}

// ReadAll drains the channel under the blocking discipline: fixed-size reads
// accumulated in order until a zero-length read signals EOF. It never assumes
// the output fits in one read.
func (c *Channel) ReadAll() ([]byte, error) {
	var out []byte
	buf := make([]byte, readChunkSize)
	for {
		n, err := c.blockingRead(buf)
		out = append(out, buf[:n]...)
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
	}
}

// ReadAvailable is the polling variant of ReadAll, for interactive shells
// where the peer may never send EOF (after `cd`, say) and a bare blocking
// read would hang forever. Each read is preceded by a poll; accumulation
// stops at peer EOF or when no byte arrives within the idle window.
func (c *Channel) ReadAvailable(idle time.Duration) ([]byte, error) {
	var out []byte
	buf := make([]byte, readChunkSize)
	for {
		if !c.Poll(idle) {
			return out, nil
		}
		n, err := c.Read(buf)
		out = append(out, buf[:n]...)
		if err == io.EOF {
			return out, nil
		}
		if err != nil && err != ErrWouldBlock {
			return out, err
		}
	}
}

// Close tears the channel down and, when the data phase completed (EOF seen
// or sent), harvests the remote exit status. Closing twice is a no-op.
func (c *Channel) Close() error {
	if c.state == StateClosed {
		return nil
	}
	harvest := c.state == StateEOFSent || c.eof
	started := c.state >= StateStarted
	c.state = StateClosed

	if started && harvest {
		switch err := c.sess.Wait().(type) {
		case nil:
			c.exitStatus = 0
		case *cryptossh.ExitError:
			c.exitStatus = err.ExitStatus()
		default:
			c.waitErr = err
		}
	}
	if err := c.sess.Close(); err != nil && err != io.EOF {
		return fmt.Errorf("%w: close: %v", client.ErrChannel, err)
	}
	return nil
}

// ExitStatus reports the remote command's exit status. Only meaningful after
// Close.
func (c *Channel) ExitStatus() (int, error) {
	if c.state != StateClosed {
		return -1, fmt.Errorf("%w: exit status before close", client.ErrChannel)
	}
	if c.waitErr != nil {
		return -1, fmt.Errorf("%w: wait: %v", client.ErrChannel, c.waitErr)
	}
	if c.exitStatus < 0 {
		return -1, fmt.Errorf("%w: exit status not collected", client.ErrChannel)
	}
	return c.exitStatus, nil
}
