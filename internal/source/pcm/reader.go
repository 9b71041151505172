package pcm

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const reopenDelay = 500 * time.Millisecond

// Reader delivers fixed-size blocks of decoded samples. A FIFO path is
// reopened after each writer goes away; a regular file or plain reader ends
// the stream at EOF.
type Reader struct {
	format Format
	path   string
	src    io.Reader
	logger *zap.Logger

	mu      sync.Mutex
	current io.Closer
	closed  bool
}

// NewReader streams from r. Close closes r when it is an io.Closer.
func NewReader(r io.Reader, format Format, logger *zap.Logger) *Reader {
	if logger == nil {
		logger = zap.NewNop()
	}
	rd := &Reader{format: format.normalized(), src: r, logger: logger}
	if c, ok := r.(io.Closer); ok {
		rd.current = c
	}
	return rd
}

// Open streams from path, or from stdin when path is "-".
func Open(path string, format Format, logger *zap.Logger) *Reader {
	path = strings.TrimSpace(path)
	if path == "-" {
		return NewReader(os.Stdin, format, logger)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reader{format: format.normalized(), path: path, logger: logger}
}

// Format returns the normalized stream layout.
func (r *Reader) Format() Format { return r.format }

func (r *Reader) Channels() int { return r.format.Channels }

// Run calls fn for every block until the stream ends, ctx is done or Close is
// called. fn must not retain the slice.
func (r *Reader) Run(ctx context.Context, fn func(samples []float64)) error {
	if r.src != nil {
		return r.stream(ctx, r.src, fn)
	}
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		f, err := os.Open(r.path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return err
			}
			r.logger.Warn("pcm open failed", zap.String("path", r.path), zap.Error(err))
			if !sleep(ctx, reopenDelay) {
				return nil
			}
			continue
		}
		if !r.track(f) {
			_ = f.Close()
			return nil
		}

		info, statErr := f.Stat()
		err = r.stream(ctx, f, fn)
		r.untrack(f)
		_ = f.Close()

		if err != nil || r.isClosed() {
			return err
		}
		if statErr != nil || info.Mode()&os.ModeNamedPipe == 0 {
			return nil
		}
		r.logger.Debug("pcm writer went away, reopening", zap.String("path", r.path))
	}
}

// Close unblocks a pending read and ends Run.
func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	if r.current != nil {
		return r.current.Close()
	}
	return nil
}

func (r *Reader) stream(ctx context.Context, src io.Reader, fn func([]float64)) error {
	buf := make([]byte, r.format.BlockBytes())
	samples := make([]float64, 0, r.format.BlockFrames*r.format.Channels)
	frameBytes := r.format.Channels * r.format.Encoding.SampleSize()

	for {
		if ctx.Err() != nil {
			return nil
		}
		n, err := io.ReadFull(src, buf)
		if n >= frameBytes {
			whole := n - n%frameBytes
			samples = Decode(samples[:0], buf[:whole], r.format.Encoding)
			fn(samples)
		}
		switch {
		case err == nil:
			continue
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			return nil
		case r.isClosed() || ctx.Err() != nil:
			return nil
		default:
			return err
		}
	}
}

func (r *Reader) track(c io.Closer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	r.current = c
	return true
}

func (r *Reader) untrack(c io.Closer) {
	r.mu.Lock()
	if r.current == c {
		r.current = nil
	}
	r.mu.Unlock()
}

func (r *Reader) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
