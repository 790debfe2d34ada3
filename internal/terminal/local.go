package terminal

import (
	"os"
	"os/exec"

	"github.com/creack/pty"
)

// localSession wraps a local subprocess and its PTY master. It backs the
// terminal route when no remote host is requested.
type localSession struct {
	cmd  *exec.Cmd
	ptmx *os.File
}

// NewLocalSession starts shell (default bash) under a fresh PTY.
func NewLocalSession(shell string) (Session, error) {
	if shell == "" {
		shell = "bash"
	}
	cmd := exec.Command(shell)
	cmd.Env = append(os.Environ(), "TERM="+defaultTerm)
	ptmx, err := pty.Start(cmd)
	if err != nil {
		return nil, err
	}
	return &localSession{cmd: cmd, ptmx: ptmx}, nil
}

func (s *localSession) Write(p []byte) (int, error) { return s.ptmx.Write(p) }
func (s *localSession) Read(p []byte) (int, error)  { return s.ptmx.Read(p) }

func (s *localSession) Resize(rows, cols uint16) error {
	return pty.Setsize(s.ptmx, &pty.Winsize{Rows: rows, Cols: cols})
}

// Close kills the subprocess to avoid orphans, then releases the PTY.
func (s *localSession) Close() error {
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	err := s.ptmx.Close()
	_ = s.cmd.Wait()
	return err
}

var _ Session = (*localSession)(nil)
