package fileutil_test

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/skiffhq/skiff/internal/fileutil"
)

func TestSize(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.bin")
	if err := os.WriteFile(path, make([]byte, 4097), 0o644); err != nil {
		t.Fatal(err)
	}

	n, err := fileutil.Size(path)
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if n != 4097 {
		t.Errorf("Size = %d, want 4097", n)
	}
}

func TestSizeRejectsDirectory(t *testing.T) {
	if _, err := fileutil.Size(t.TempDir()); err == nil {
		t.Error("expected error for directory")
	}
}

func TestCopyRoundTrip(t *testing.T) {
	// Larger than one chunk so the loop runs more than once.
	src := bytes.Repeat([]byte("skiff"), 20_000)
	var dst bytes.Buffer

	n, err := fileutil.Copy(&dst, bytes.NewReader(src), nil)
	if err != nil {
		t.Fatalf("Copy: %v", err)
	}
	if n != int64(len(src)) {
		t.Errorf("copied %d bytes, want %d", n, len(src))
	}
	if !bytes.Equal(dst.Bytes(), src) {
		t.Error("content mismatch after Copy")
	}
}

func TestCopyWithLimiter(t *testing.T) {
	src := bytes.Repeat([]byte("x"), 64*1024)
	var dst bytes.Buffer

	// Generous limit: correctness only, no timing assertions.
	limiter := fileutil.NewLimiter(10 << 20)
	n, err := fileutil.Copy(&dst, bytes.NewReader(src), limiter)
	if err != nil {
		t.Fatalf("Copy: %v", err)
	}
	if n != int64(len(src)) || !bytes.Equal(dst.Bytes(), src) {
		t.Error("rate-limited copy corrupted the stream")
	}
}

func TestCopyN(t *testing.T) {
	var dst bytes.Buffer
	n, err := fileutil.CopyN(&dst, strings.NewReader("0123456789tail"), 10, nil)
	if err != nil {
		t.Fatalf("CopyN: %v", err)
	}
	if n != 10 || dst.String() != "0123456789" {
		t.Errorf("CopyN = (%d, %q), want (10, 0123456789)", n, dst.String())
	}
}

func TestCopyNShortStream(t *testing.T) {
	var dst bytes.Buffer
	_, err := fileutil.CopyN(&dst, strings.NewReader("short"), 10, nil)
	if err != io.ErrUnexpectedEOF {
		t.Errorf("CopyN on short stream = %v, want io.ErrUnexpectedEOF", err)
	}
}

func TestNewLimiterUnlimited(t *testing.T) {
	if fileutil.NewLimiter(0) != nil {
		t.Error("NewLimiter(0) should be nil (unlimited)")
	}
	if fileutil.NewLimiter(-1) != nil {
		t.Error("NewLimiter(-1) should be nil (unlimited)")
	}
}
