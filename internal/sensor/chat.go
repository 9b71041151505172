package sensor

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/utrack/hypelens/internal/detect"
	"github.com/utrack/hypelens/internal/model"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const defaultPingHost = "tmi.twitch.tv"

// LineSource is a line-oriented text connection.
type LineSource interface {
	ReadLine(ctx context.Context) (string, error)
	WriteLine(ctx context.Context, line string) error
	Close() error
}

// LineDialer opens a fresh text source. Chat reconnects through it.
type LineDialer interface {
	DialLines(ctx context.Context) (LineSource, error)
}

// LineDialerFunc adapts a function to LineDialer.
type LineDialerFunc func(ctx context.Context) (LineSource, error)

func (f LineDialerFunc) DialLines(ctx context.Context) (LineSource, error) { return f(ctx) }

// ChatConfig tunes chat detection.
type ChatConfig struct {
	Keywords []string
	// Spam fires chat_spam once the windowed message count reaches its threshold.
	Spam   detect.Activation
	Window time.Duration
	// ReconnectEvery paces text source redials.
	ReconnectEvery time.Duration
}

// ChatSensor watches a chat stream for message bursts and keywords.
type ChatSensor struct {
	lifecycle

	cfg      ChatConfig
	dialer   LineDialer
	pub      Publisher
	logger   *zap.Logger
	window   *detect.RateWindow
	limiter  *rate.Limiter
	keywords []keyword
	now      func() time.Time

	// detection may run from tests while the loop reads
	detectMu sync.Mutex

	srcMu sync.Mutex
	src   LineSource
}

type keyword struct {
	word  string
	lower string
}

// NewChat builds a chat sensor.
func NewChat(cfg ChatConfig, dialer LineDialer, pub Publisher, logger *zap.Logger) *ChatSensor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ReconnectEvery <= 0 {
		cfg.ReconnectEvery = 5 * time.Second
	}
	kws := make([]keyword, 0, len(cfg.Keywords))
	for _, kw := range cfg.Keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		kws = append(kws, keyword{word: kw, lower: strings.ToLower(kw)})
	}
	return &ChatSensor{
		cfg:      cfg,
		dialer:   dialer,
		pub:      pub,
		logger:   logger.Named("chat"),
		window:   detect.NewRateWindow(cfg.Window),
		limiter:  rate.NewLimiter(rate.Every(cfg.ReconnectEvery), 1),
		keywords: kws,
		now:      time.Now,
	}
}

func (s *ChatSensor) Name() string { return "chat" }

// Start connects the hub channel and begins reading chat.
func (s *ChatSensor) Start(ctx context.Context) error {
	if s.dialer == nil {
		return ErrDisabled
	}
	return s.launch(ctx, s.connectHub, s.run)
}

// Stop closes the text source and the hub channel.
func (s *ChatSensor) Stop() {
	s.halt(func() {
		s.srcMu.Lock()
		if s.src != nil {
			_ = s.src.Close()
		}
		s.srcMu.Unlock()
	})
	_ = s.pub.Close()
}

func (s *ChatSensor) connectHub(ctx context.Context) error {
	_ = s.pub.Connect(ctx)
	return nil
}

func (s *ChatSensor) run(ctx context.Context) {
	for {
		if err := s.limiter.Wait(ctx); err != nil {
			return
		}
		src, err := s.dialer.DialLines(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Warn("chat connect failed", zap.Error(err))
			continue
		}
		if !s.attach(src) {
			_ = src.Close()
			return
		}

		err = s.consume(ctx, src)
		s.detach(src)
		if ctx.Err() != nil {
			return
		}
		s.logger.Info("chat source dropped, reconnecting", zap.Error(err))
	}
}

func (s *ChatSensor) attach(src LineSource) bool {
	s.srcMu.Lock()
	defer s.srcMu.Unlock()
	if s.State() == StateStopped {
		return false
	}
	s.src = src
	return true
}

func (s *ChatSensor) detach(src LineSource) {
	s.srcMu.Lock()
	if s.src == src {
		s.src = nil
	}
	s.srcMu.Unlock()
	_ = src.Close()
}

func (s *ChatSensor) consume(ctx context.Context, src LineSource) error {
	for {
		line, err := src.ReadLine(ctx)
		if err != nil {
			return err
		}
		s.handleLine(ctx, src, line)
	}
}

func (s *ChatSensor) handleLine(ctx context.Context, src LineSource, line string) {
	line = strings.TrimRight(line, "\r\n")
	if strings.HasPrefix(line, "PING") {
		host := strings.TrimPrefix(strings.TrimSpace(strings.TrimPrefix(line, "PING")), ":")
		if host == "" {
			host = defaultPingHost
		}
		if err := src.WriteLine(ctx, "PONG :"+host); err != nil {
			s.logger.Warn("chat pong failed", zap.Error(err))
		}
		return
	}
	body, ok := ParsePrivmsg(line)
	if !ok {
		return
	}
	s.Observe(ctx, body)
}

// Observe runs detection on one chat message body.
func (s *ChatSensor) Observe(ctx context.Context, body string) {
	s.detectMu.Lock()
	defer s.detectMu.Unlock()

	count := s.window.Observe(s.now())
	if gate, ok := s.cfg.Spam.Gate(); ok && gate.Evaluate(float64(count)) {
		s.logger.Info("chat spam detected", zap.Int("count", count))
		s.pub.Send(ctx, model.NewEnvelope(model.EventChatSpam, model.ChatSpam{Count: count}))
		s.window.Reset()
	}

	lower := strings.ToLower(body)
	for _, kw := range s.keywords {
		if strings.Contains(lower, kw.lower) {
			s.logger.Info("keyword found", zap.String("keyword", kw.word))
			s.pub.Send(ctx, model.NewEnvelope(model.EventKeyword, model.KeywordHit{Keyword: kw.word, Message: body}))
		}
	}
}

// ParsePrivmsg extracts the message body from a PRIVMSG line, e.g.
// ":u!u@u.tmi.twitch.tv PRIVMSG #chan :hello" yields "hello".
func ParsePrivmsg(line string) (string, bool) {
	_, rest, ok := strings.Cut(line, " PRIVMSG ")
	if !ok {
		if !strings.HasPrefix(line, "PRIVMSG ") {
			return "", false
		}
		rest = strings.TrimPrefix(line, "PRIVMSG ")
	}
	_, body, ok := strings.Cut(rest, ":")
	if !ok {
		return "", false
	}
	return body, true
}
