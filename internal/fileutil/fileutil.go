// Package fileutil is the thin local-filesystem collaborator used by the
// transfer engines: size lookup and chunked, optionally rate-limited copies.
// It has no SSH dependencies.
package fileutil

import (
	"context"
	"fmt"
	"io"
	"os"

	"golang.org/x/time/rate"
)

const copyChunkSize = 32 * 1024

// Size returns the byte size of a regular local file. SCP requires the size
// upfront, so this runs before a send channel is opened.
func Size(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	if info.IsDir() {
		return 0, fmt.Errorf("%s is a directory", path)
	}
	return info.Size(), nil
}

// Copy streams src into dst in fixed chunks until EOF and returns the bytes
// copied. A non-nil limiter caps throughput; the wait happens before each
// chunk is written.
func Copy(dst io.Writer, src io.Reader, limiter *rate.Limiter) (int64, error) {
	var copied int64
	buf := make([]byte, copyChunkSize)
	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			if err := waitQuota(limiter, n); err != nil {
				return copied, err
			}
			wn, writeErr := dst.Write(buf[:n])
			copied += int64(wn)
			if writeErr != nil {
				return copied, writeErr
			}
			if wn < n {
				return copied, io.ErrShortWrite
			}
		}
		if readErr == io.EOF {
			return copied, nil
		}
		if readErr != nil {
			return copied, readErr
		}
	}
}

// CopyN copies exactly n bytes from src to dst. A stream ending early is an
// error: transfer framing depends on the declared length, not on EOF.
func CopyN(dst io.Writer, src io.Reader, n int64, limiter *rate.Limiter) (int64, error) {
	var copied int64
	buf := make([]byte, copyChunkSize)
	for copied < n {
		chunk := n - copied
		if chunk > copyChunkSize {
			chunk = copyChunkSize
		}
		rn, readErr := io.ReadFull(src, buf[:chunk])
		if rn > 0 {
			if err := waitQuota(limiter, rn); err != nil {
				return copied, err
			}
			wn, writeErr := dst.Write(buf[:rn])
			copied += int64(wn)
			if writeErr != nil {
				return copied, writeErr
			}
		}
		if readErr != nil {
			if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
				return copied, io.ErrUnexpectedEOF
			}
			return copied, readErr
		}
	}
	return copied, nil
}

func waitQuota(limiter *rate.Limiter, n int) error {
	if limiter == nil {
		return nil
	}
	return limiter.WaitN(context.Background(), n)
}

// NewLimiter builds a byte-per-second limiter for the transfer engines, or
// nil for unlimited.
func NewLimiter(bytesPerSec int) *rate.Limiter {
	if bytesPerSec <= 0 {
		return nil
	}
	burst := bytesPerSec
	if burst < copyChunkSize {
		burst = copyChunkSize
	}
	return rate.NewLimiter(rate.Limit(bytesPerSec), burst)
}
