package sensor

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/utrack/hypelens/internal/hub"
	"github.com/utrack/hypelens/internal/model"
)

type fakePublisher struct {
	mu       sync.Mutex
	sent     []model.Envelope
	connects int
	closed   bool
	handlers map[string]hub.Handler
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{handlers: make(map[string]hub.Handler)}
}

func (p *fakePublisher) Connect(context.Context) error {
	p.mu.Lock()
	p.connects++
	p.mu.Unlock()
	return nil
}

func (p *fakePublisher) Send(_ context.Context, env model.Envelope) {
	p.mu.Lock()
	p.sent = append(p.sent, env)
	p.mu.Unlock()
}

func (p *fakePublisher) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

func (p *fakePublisher) On(event string, h hub.Handler) {
	p.mu.Lock()
	p.handlers[event] = h
	p.mu.Unlock()
}

func (p *fakePublisher) handler(event string) hub.Handler {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.handlers[event]
}

func (p *fakePublisher) state() (connects int, closed bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connects, p.closed
}

func (p *fakePublisher) envelopes() []model.Envelope {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]model.Envelope(nil), p.sent...)
}

type fakeLines struct {
	lines chan string

	mu      sync.Mutex
	written []string

	closeOnce sync.Once
	done      chan struct{}
}

func newFakeLines(lines ...string) *fakeLines {
	f := &fakeLines{
		lines: make(chan string, len(lines)+16),
		done:  make(chan struct{}),
	}
	for _, l := range lines {
		f.lines <- l
	}
	return f
}

func (f *fakeLines) ReadLine(ctx context.Context) (string, error) {
	select {
	case l, ok := <-f.lines:
		if !ok {
			return "", io.EOF
		}
		return l, nil
	case <-f.done:
		return "", io.ErrClosedPipe
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (f *fakeLines) WriteLine(_ context.Context, line string) error {
	f.mu.Lock()
	f.written = append(f.written, line)
	f.mu.Unlock()
	return nil
}

func (f *fakeLines) Close() error {
	f.closeOnce.Do(func() { close(f.done) })
	return nil
}

func (f *fakeLines) writes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.written...)
}

type fakeBlocks struct {
	channels int
	blocks   [][]float64

	closeOnce sync.Once
	done      chan struct{}
}

func (b *fakeBlocks) Channels() int { return b.channels }

func (b *fakeBlocks) Run(ctx context.Context, fn func([]float64)) error {
	for _, block := range b.blocks {
		fn(block)
	}
	select {
	case <-ctx.Done():
	case <-b.done:
	}
	return nil
}

func (b *fakeBlocks) Close() error {
	b.closeOnce.Do(func() { close(b.done) })
	return nil
}

type fakeRegistrar struct {
	mu           sync.Mutex
	combo        string
	fn           func()
	err          error
	unregistered bool
}

func (r *fakeRegistrar) Register(combo string, fn func()) (func(), error) {
	if r.err != nil {
		return nil, r.err
	}
	r.mu.Lock()
	r.combo, r.fn = combo, fn
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		r.unregistered = true
		r.mu.Unlock()
	}, nil
}

type fakeCapturer struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (c *fakeCapturer) SaveReplayBuffer(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return c.err
}

func (c *fakeCapturer) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type clipCall struct {
	path        string
	since       time.Time
	score       int
	triggerType string
}

type fakeClips struct {
	processed  chan clipCall
	discovered chan clipCall
}

func newFakeClips() *fakeClips {
	return &fakeClips{processed: make(chan clipCall, 8), discovered: make(chan clipCall, 8)}
}

func (c *fakeClips) ProcessArtifact(_ context.Context, path string, score int, triggerType string) (*model.ClipMetadata, error) {
	c.processed <- clipCall{path: path, score: score, triggerType: triggerType}
	return &model.ClipMetadata{FileName: path}, nil
}

func (c *fakeClips) DiscoverSince(_ context.Context, since time.Time, score int, triggerType string) (*model.ClipMetadata, error) {
	c.discovered <- clipCall{since: since, score: score, triggerType: triggerType}
	return nil, nil
}
