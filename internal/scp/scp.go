// Package scp implements the client side of the classic SCP protocol on a
// dedicated channel: one file per channel, size declared upfront on send,
// exact-length body reads on receive (SCP framing never relies on EOF).
package scp

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/time/rate"

	"github.com/skiffhq/skiff/internal/channel"
	"github.com/skiffhq/skiff/internal/client"
	"github.com/skiffhq/skiff/internal/fileutil"
)

// Option tunes a transfer.
type Option func(*options)

type options struct {
	limiter *rate.Limiter
}

// WithLimit caps transfer throughput in bytes per second. Zero or negative
// means unlimited.
func WithLimit(bytesPerSec int) Option {
	return func(o *options) { o.limiter = fileutil.NewLimiter(bytesPerSec) }
}

func applyOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Send streams the local file to remotePath over a dedicated SCP send
// channel and returns the bytes sent. The file size is read before the
// channel opens because the C-header declares it. After the body the engine
// sends EOF and waits for the peer's EOF before closing; skipping that wait
// can truncate the remote file when the close races the peer's flush.
func Send(conn channel.Conn, mode os.FileMode, localPath, remotePath string, opts ...Option) (int64, error) {
	o := applyOptions(opts)

	size, err := fileutil.Size(localPath)
	if err != nil {
		return 0, fmt.Errorf("local %s: %w", localPath, err)
	}
	f, err := os.Open(localPath)
	if err != nil {
		return 0, fmt.Errorf("local %s: %w", localPath, err)
	}
	defer f.Close()

	var sent int64
	status, err := channel.Run(conn,
		func(ch *channel.Channel) error {
			return ch.Exec("scp -qt " + shellQuote(remotePath))
		},
		func(ch *channel.Channel) error {
			if err := readAck(ch); err != nil {
				return err
			}
			header := fmt.Sprintf("C%04o %d %s\n", mode.Perm(), size, filepath.Base(remotePath))
			if _, err := ch.Write([]byte(header)); err != nil {
				return err
			}
			if err := readAck(ch); err != nil {
				return err
			}

			n, err := fileutil.Copy(ch, f, o.limiter)
			sent = n
			if err != nil {
				return fmt.Errorf("%w: stream %s: %v", client.ErrTransfer, localPath, err)
			}
			if n != size {
				return fmt.Errorf("%w: sent %d of %d bytes", client.ErrTransfer, n, size)
			}

			if _, err := ch.Write([]byte{0}); err != nil {
				return err
			}
			// Close our side before reading the final ack, the way an
			// openssh source does: the sink may tear the channel down the
			// moment it writes that ack.
			if err := ch.SendEOF(); err != nil {
				return err
			}
			if err := readAck(ch); err != nil {
				return err
			}
			return ch.WaitEOF()
		},
	)
	if err != nil {
		return sent, err
	}
	if status != 0 {
		return sent, fmt.Errorf("%w: remote scp exited %d", client.ErrTransfer, status)
	}
	return sent, nil
}

// Receive copies remotePath into localPath over a dedicated SCP receive
// channel and returns the bytes received. The peer declares the size in its
// C-header; exactly that many bytes are read. The body lands in a temp file
// that is renamed into place on success, so a failed receive cannot clobber
// an existing destination.
func Receive(conn channel.Conn, remotePath, localPath string, opts ...Option) (int64, error) {
	o := applyOptions(opts)

	f, err := os.CreateTemp(filepath.Dir(localPath), filepath.Base(localPath)+".partial-*")
	if err != nil {
		return 0, fmt.Errorf("local %s: %w", localPath, err)
	}
	tmpPath := f.Name()

	var received int64
	status, err := channel.Run(conn,
		func(ch *channel.Channel) error {
			return ch.Exec("scp -qf " + shellQuote(remotePath))
		},
		func(ch *channel.Channel) error {
			// Ready signal: the source side waits for it before the header.
			if _, err := ch.Write([]byte{0}); err != nil {
				return err
			}

			size, err := readHeader(ch)
			if err != nil {
				return err
			}
			if _, err := ch.Write([]byte{0}); err != nil {
				return err
			}

			n, err := fileutil.CopyN(f, ch.BlockingReader(), size, o.limiter)
			received = n
			if err != nil {
				return fmt.Errorf("%w: received %d of %d bytes: %v", client.ErrTransfer, n, size, err)
			}

			// Trailing status byte after the body, then our final ack.
			if err := readAck(ch); err != nil {
				return err
			}
			if _, err := ch.Write([]byte{0}); err != nil {
				return err
			}
			if err := ch.SendEOF(); err != nil {
				return err
			}
			return ch.WaitEOF()
		},
	)
	f.Close()
	if err != nil {
		os.Remove(tmpPath)
		return received, err
	}
	if status != 0 {
		os.Remove(tmpPath)
		return received, fmt.Errorf("%w: remote scp exited %d", client.ErrTransfer, status)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		os.Remove(tmpPath)
		return received, fmt.Errorf("local %s: %w", localPath, err)
	}
	if err := os.Rename(tmpPath, localPath); err != nil {
		os.Remove(tmpPath)
		return received, fmt.Errorf("local %s: %w", localPath, err)
	}
	return received, nil
}

// readAck consumes one SCP status byte: 0 OK, 1 warning, 2 fatal. Warnings
// and fatals carry a message line and both fail the transfer.
func readAck(ch *channel.Channel) error {
	var code [1]byte
	if err := ch.ReadFull(code[:]); err != nil {
		return fmt.Errorf("%w: read ack: %v", client.ErrTransfer, err)
	}
	switch code[0] {
	case 0:
		return nil
	case 1, 2:
		msg, _ := readLine(ch)
		return fmt.Errorf("%w: remote: %s", client.ErrTransfer, strings.TrimSpace(msg))
	default:
		return fmt.Errorf("%w: unexpected ack byte %#x", client.ErrTransfer, code[0])
	}
}

// readHeader parses the source's "C<mode> <size> <name>" line and returns
// the declared size.
func readHeader(ch *channel.Channel) (int64, error) {
	var code [1]byte
	if err := ch.ReadFull(code[:]); err != nil {
		return 0, fmt.Errorf("%w: read header: %v", client.ErrTransfer, err)
	}
	line, err := readLine(ch)
	if err != nil {
		return 0, fmt.Errorf("%w: read header: %v", client.ErrTransfer, err)
	}
	switch code[0] {
	case 'C':
	case 1, 2:
		return 0, fmt.Errorf("%w: remote: %s", client.ErrTransfer, strings.TrimSpace(line))
	default:
		return 0, fmt.Errorf("%w: unexpected header %q", client.ErrTransfer, string(code[0])+line)
	}

	// Name is the last field and may contain spaces.
	fields := strings.SplitN(line, " ", 3)
	if len(fields) != 3 || fields[2] == "" {
		return 0, fmt.Errorf("%w: malformed header %q", client.ErrTransfer, line)
	}
	if _, err := strconv.ParseUint(fields[0], 8, 32); err != nil {
		return 0, fmt.Errorf("%w: bad mode in header %q", client.ErrTransfer, line)
	}
	size, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil || size < 0 {
		return 0, fmt.Errorf("%w: bad size in header %q", client.ErrTransfer, line)
	}
	return size, nil
}

// readLine reads bytes up to and including '\n', returning the line without
// the terminator. Headers are tiny; byte-at-a-time is fine here.
func readLine(ch *channel.Channel) (string, error) {
	var sb strings.Builder
	var b [1]byte
	for {
		if err := ch.ReadFull(b[:]); err != nil {
			return sb.String(), err
		}
		if b[0] == '\n' {
			return sb.String(), nil
		}
		sb.WriteByte(b[0])
	}
}

// shellQuote single-quotes a path for the remote scp invocation.
func shellQuote(value string) string {
	if value == "" {
		return "''"
	}
	return "'" + strings.ReplaceAll(value, "'", "'\\''") + "'"
}
