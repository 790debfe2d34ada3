package sshtest

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	cryptossh "golang.org/x/crypto/ssh"
)

// scpSink is the server half of an upload (`scp -t`): ack, header, ack,
// exact-length body, terminator, final ack.
func (s *Server) scpSink(ch cryptossh.Channel, target string) int {
	if _, err := ch.Write([]byte{0}); err != nil {
		return 1
	}
	r := bufio.NewReader(ch)

	code, err := r.ReadByte()
	if err != nil {
		return 1
	}
	line, err := r.ReadString('\n')
	if err != nil {
		return 1
	}
	if code != 'C' {
		return scpFail(ch, "unexpected header")
	}
	// Name is the last field and may contain spaces; split on the first two
	// only.
	fields := strings.SplitN(strings.TrimSuffix(line, "\n"), " ", 3)
	if len(fields) != 3 || fields[2] == "" {
		return scpFail(ch, "malformed header")
	}
	mode, modeErr := strconv.ParseUint(fields[0], 8, 32)
	size, sizeErr := strconv.ParseInt(fields[1], 10, 64)
	if modeErr != nil || sizeErr != nil || size < 0 {
		return scpFail(ch, "malformed header")
	}

	dest := target
	if fi, statErr := os.Stat(target); statErr == nil && fi.IsDir() {
		dest = filepath.Join(target, fields[2])
	}
	f, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, os.FileMode(mode))
	if err != nil {
		return scpFail(ch, err.Error())
	}

	if _, err := ch.Write([]byte{0}); err != nil {
		f.Close()
		return 1
	}
	if _, err := io.CopyN(f, r, size); err != nil {
		f.Close()
		return scpFail(ch, "short body")
	}
	f.Close()

	if b, err := r.ReadByte(); err != nil || b != 0 {
		return scpFail(ch, "missing terminator")
	}
	if _, err := ch.Write([]byte{0}); err != nil {
		return 1
	}
	return 0
}

// scpSource is the server half of a download (`scp -f`): wait for the
// client's ready byte, send header, stream the body, terminate.
func (s *Server) scpSource(ch cryptossh.Channel, path string) int {
	r := bufio.NewReader(ch)
	if b, err := r.ReadByte(); err != nil || b != 0 {
		return 1
	}

	f, err := os.Open(path)
	if err != nil {
		return scpFail(ch, err.Error())
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return scpFail(ch, err.Error())
	}

	fmt.Fprintf(ch, "C%04o %d %s\n", fi.Mode().Perm(), fi.Size(), filepath.Base(path))
	if b, err := r.ReadByte(); err != nil || b != 0 {
		return 1
	}
	if _, err := io.Copy(ch, f); err != nil {
		return 1
	}
	if _, err := ch.Write([]byte{0}); err != nil {
		return 1
	}
	if b, err := r.ReadByte(); err != nil || b != 0 {
		return 1
	}
	return 0
}

func scpFail(ch cryptossh.Channel, msg string) int {
	fmt.Fprintf(ch, "\x02scp: %s\n", msg)
	return 1
}
