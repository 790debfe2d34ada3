// Package sftp layers the SFTP sub-protocol on a dedicated channel of an
// established session. One Subsystem owns one channel; its file and
// directory handles must not outlive it.
package sftp

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	gosftp "github.com/pkg/sftp"
	cryptossh "golang.org/x/crypto/ssh"
	"golang.org/x/time/rate"

	"github.com/skiffhq/skiff/internal/channel"
	"github.com/skiffhq/skiff/internal/client"
	"github.com/skiffhq/skiff/internal/fileutil"
)

// Flag is a file-transfer intent flag for opening remote files.
type Flag int

const (
	Read Flag = 1 << iota
	Write
	Create
	Truncate
	// Exclusive makes the open fail if the remote file already exists,
	// preventing silent overwrite. Nothing is written on that failure.
	Exclusive
)

func (f Flag) osFlags() int {
	var flags int
	if f&Read != 0 && f&Write != 0 {
		flags |= os.O_RDWR
	} else if f&Write != 0 {
		flags |= os.O_WRONLY
	}
	if f&Create != 0 {
		flags |= os.O_CREATE
	}
	if f&Truncate != 0 {
		flags |= os.O_TRUNC
	}
	if f&Exclusive != 0 {
		flags |= os.O_EXCL
	}
	return flags
}

// Entry is a single remote directory entry.
type Entry struct {
	Name    string    `json:"name"`
	Size    int64     `json:"size"`
	Mode    string    `json:"mode"`
	ModTime time.Time `json:"modified_at"`
	IsDir   bool      `json:"is_dir"`
}

// Option tunes a transfer.
type Option func(*options)

type options struct {
	limiter *rate.Limiter
}

// WithLimit caps transfer throughput in bytes per second.
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

// Subsystem is an SFTP session on a dedicated channel. Paired with Close.
type Subsystem struct {
	sess *cryptossh.Session
	cl   *gosftp.Client
}

// Open negotiates the SFTP sub-protocol on a fresh channel of conn.
func Open(conn channel.Conn) (*Subsystem, error) {
	sess, err := conn.NewSession()
	if err != nil {
		return nil, err
	}
	if err := sess.RequestSubsystem("sftp"); err != nil {
		sess.Close()
		return nil, fmt.Errorf("%w: sftp subsystem: %v", client.ErrChannel, err)
	}
	pw, err := sess.StdinPipe()
	if err != nil {
		sess.Close()
		return nil, fmt.Errorf("%w: stdin pipe: %v", client.ErrChannel, err)
	}
	pr, err := sess.StdoutPipe()
	if err != nil {
		sess.Close()
		return nil, fmt.Errorf("%w: stdout pipe: %v", client.ErrChannel, err)
	}
	cl, err := gosftp.NewClientPipe(pr, pw)
	if err != nil {
		sess.Close()
		return nil, fmt.Errorf("%w: sftp init: %v", client.ErrChannel, err)
	}
	return &Subsystem{sess: sess, cl: cl}, nil
}

// Close shuts the sub-protocol down and releases its channel.
func (s *Subsystem) Close() error {
	err := s.cl.Close()
	if cerr := s.sess.Close(); cerr != nil && cerr != io.EOF && err == nil {
		err = cerr
	}
	return err
}

// ListDir returns all entries of the remote directory in server order (not
// guaranteed alphabetical).
func (s *Subsystem) ListDir(dirPath string) ([]Entry, error) {
	infos, err := s.cl.ReadDir(dirPath)
	if err != nil {
		return nil, fmt.Errorf("%w: readdir %q: %v", client.ErrTransfer, dirPath, err)
	}
	entries := make([]Entry, 0, len(infos))
	for _, fi := range infos {
		entries = append(entries, Entry{
			Name:    fi.Name(),
			Size:    fi.Size(),
			Mode:    fi.Mode().String(),
			ModTime: fi.ModTime().UTC(),
			IsDir:   fi.IsDir(),
		})
	}
	return entries, nil
}

// SendFile uploads the local file to remotePath, opened with
// WRITE|CREATE|TRUNCATE|EXCLUSIVE: an existing remote file fails the call
// before any byte is written. Returns the bytes sent.
func (s *Subsystem) SendFile(mode os.FileMode, localPath, remotePath string, opts ...Option) (int64, error) {
	o := applyOptions(opts)

	local, err := os.Open(localPath)
	if err != nil {
		return 0, fmt.Errorf("local %s: %w", localPath, err)
	}
	defer local.Close()

	remote, err := s.cl.OpenFile(remotePath, (Write | Create | Truncate | Exclusive).osFlags())
	if err != nil {
		return 0, fmt.Errorf("%w: open remote %q: %v", client.ErrTransfer, remotePath, err)
	}
	defer remote.Close()

	n, err := fileutil.Copy(remote, local, o.limiter)
	if err != nil {
		// Remove the partial remote file so a failed upload leaves nothing.
		_ = s.cl.Remove(remotePath)
		return n, fmt.Errorf("%w: write %q: %v", client.ErrTransfer, remotePath, err)
	}
	if err := s.cl.Chmod(remotePath, mode); err != nil {
		return n, fmt.Errorf("%w: chmod %q: %v", client.ErrTransfer, remotePath, err)
	}
	return n, nil
}

// ReceiveFile downloads remotePath into localPath. The size comes from a
// stat on the open handle and exactly that many bytes are read; the
// transfer does not rely on EOF.
func (s *Subsystem) ReceiveFile(localPath, remotePath string, opts ...Option) (int64, error) {
	o := applyOptions(opts)

	remote, err := s.cl.OpenFile(remotePath, Read.osFlags())
	if err != nil {
		return 0, fmt.Errorf("%w: open remote %q: %v", client.ErrTransfer, remotePath, err)
	}
	defer remote.Close()

	fi, err := remote.Stat()
	if err != nil {
		return 0, fmt.Errorf("%w: stat %q: %v", client.ErrTransfer, remotePath, err)
	}

	// Land the bytes in a temp file and rename on success so a failed
	// receive cannot clobber an existing destination.
	local, err := os.CreateTemp(filepath.Dir(localPath), filepath.Base(localPath)+".partial-*")
	if err != nil {
		return 0, fmt.Errorf("local %s: %w", localPath, err)
	}
	tmpPath := local.Name()

	n, err := fileutil.CopyN(local, remote, fi.Size(), o.limiter)
	local.Close()
	if err != nil {
		os.Remove(tmpPath)
		return n, fmt.Errorf("%w: received %d of %d bytes from %q: %v", client.ErrTransfer, n, fi.Size(), remotePath, err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		os.Remove(tmpPath)
		return n, fmt.Errorf("local %s: %w", localPath, err)
	}
	if err := os.Rename(tmpPath, localPath); err != nil {
		os.Remove(tmpPath)
		return n, fmt.Errorf("local %s: %w", localPath, err)
	}
	return n, nil
}

// Download streams the remote file to dst (e.g. an http.ResponseWriter) and
// returns the bytes written.
func (s *Subsystem) Download(remotePath string, dst io.Writer) (int64, error) {
	remote, err := s.cl.OpenFile(remotePath, Read.osFlags())
	if err != nil {
		return 0, fmt.Errorf("%w: open remote %q: %v", client.ErrTransfer, remotePath, err)
	}
	defer remote.Close()
	n, err := io.Copy(dst, remote)
	if err != nil {
		return n, fmt.Errorf("%w: download %q: %v", client.ErrTransfer, remotePath, err)
	}
	return n, nil
}

// Upload writes src to remotePath, creating or truncating it. Reading more
// than maxBytes (when positive) fails the call and removes the partial remote
// file.
func (s *Subsystem) Upload(remotePath string, src io.Reader, maxBytes int64) (int64, error) {
	if maxBytes > 0 {
		src = io.LimitReader(src, maxBytes+1)
	}
	remote, err := s.cl.OpenFile(remotePath, (Write | Create | Truncate).osFlags())
	if err != nil {
		return 0, fmt.Errorf("%w: create remote %q: %v", client.ErrTransfer, remotePath, err)
	}
	defer remote.Close()

	n, err := io.Copy(remote, src)
	if err != nil {
		_ = s.cl.Remove(remotePath)
		return n, fmt.Errorf("%w: write %q: %v", client.ErrTransfer, remotePath, err)
	}
	if maxBytes > 0 && n > maxBytes {
		_ = s.cl.Remove(remotePath)
		return n, fmt.Errorf("%w: upload %q exceeds %d bytes limit", client.ErrTransfer, remotePath, maxBytes)
	}
	return n, nil
}

// Rename moves oldPath to newPath with the server's rename semantics; it
// fails if the destination exists on servers that enforce that.
func (s *Subsystem) Rename(oldPath, newPath string) error {
	if err := s.cl.Rename(oldPath, newPath); err != nil {
		return fmt.Errorf("%w: rename %q to %q: %v", client.ErrTransfer, oldPath, newPath, err)
	}
	return nil
}

// Mkdir creates the remote directory (no intermediate directories).
func (s *Subsystem) Mkdir(path string) error {
	if err := s.cl.Mkdir(path); err != nil {
		return fmt.Errorf("%w: mkdir %q: %v", client.ErrTransfer, path, err)
	}
	return nil
}

// Remove deletes a remote file or empty directory.
func (s *Subsystem) Remove(path string) error {
	if err := s.cl.Remove(path); err != nil {
		return fmt.Errorf("%w: remove %q: %v", client.ErrTransfer, path, err)
	}
	return nil
}

// Stat returns metadata for a single remote path.
func (s *Subsystem) Stat(path string) (Entry, error) {
	fi, err := s.cl.Stat(path)
	if err != nil {
		return Entry{}, fmt.Errorf("%w: stat %q: %v", client.ErrTransfer, path, err)
	}
	return Entry{
		Name:    fi.Name(),
		Size:    fi.Size(),
		Mode:    fi.Mode().String(),
		ModTime: fi.ModTime().UTC(),
		IsDir:   fi.IsDir(),
	}, nil
}
