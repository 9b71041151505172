package sensor

import (
	"context"
	"encoding/json"
	"time"

	"github.com/utrack/hypelens/internal/hub"
	"github.com/utrack/hypelens/internal/model"
	"go.uber.org/zap"
)

const (
	triggerQueueSize  = 16
	defaultPendingTTL = 30 * time.Second
)

// Subscriber is a Publisher that also receives hub events.
type Subscriber interface {
	Publisher
	On(event string, h hub.Handler)
}

// ReplayCapturer asks the capture tool to save its replay buffer.
type ReplayCapturer interface {
	SaveReplayBuffer(ctx context.Context) error
}

// ClipProcessor uploads artifacts and notifies the hub.
type ClipProcessor interface {
	ProcessArtifact(ctx context.Context, path string, hypeScore int, triggerType string) (*model.ClipMetadata, error)
	DiscoverSince(ctx context.Context, since time.Time, hypeScore int, triggerType string) (*model.ClipMetadata, error)
}

// pendingTrigger is a hub trigger waiting for its saved replay.
type pendingTrigger struct {
	score int
	at    time.Time
}

type triggerJob struct {
	replayPath string
	score      int
	at         time.Time
}

// TriggerSensor reacts to hub trigger_clip commands by capturing a replay and
// handing the artifact to the clip processor.
type TriggerSensor struct {
	lifecycle

	sub      Subscriber
	capturer ReplayCapturer
	clips    ClipProcessor
	logger   *zap.Logger
	now      func() time.Time

	queue chan triggerJob
	// triggers still waiting for their replay, oldest first; loop goroutine only
	pending    []pendingTrigger
	pendingTTL time.Duration
}

// TriggerOption tunes a TriggerSensor.
type TriggerOption func(*TriggerSensor)

// WithPendingTTL bounds how long a requested replay may take to be reported.
// Older triggers no longer claim incoming replays.
func WithPendingTTL(d time.Duration) TriggerOption {
	return func(s *TriggerSensor) {
		if d > 0 {
			s.pendingTTL = d
		}
	}
}

// NewTrigger builds a trigger sensor. capturer and clips may be nil.
func NewTrigger(sub Subscriber, capturer ReplayCapturer, clips ClipProcessor, logger *zap.Logger, opts ...TriggerOption) *TriggerSensor {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &TriggerSensor{
		sub:        sub,
		capturer:   capturer,
		clips:      clips,
		logger:     logger.Named("trigger"),
		now:        time.Now,
		queue:      make(chan triggerJob, triggerQueueSize),
		pendingTTL: defaultPendingTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *TriggerSensor) Name() string { return "trigger" }

// Start subscribes to trigger_clip and runs the capture loop.
func (s *TriggerSensor) Start(ctx context.Context) error {
	if s.sub == nil || (s.capturer == nil && s.clips == nil) {
		return ErrDisabled
	}
	return s.launch(ctx, func(ctx context.Context) error {
		s.sub.On(model.MessageTriggerClip, s.onTrigger)
		_ = s.sub.Connect(ctx)
		return nil
	}, s.run)
}

// Stop ends the loop and closes the hub channel.
func (s *TriggerSensor) Stop() {
	s.halt(nil)
	_ = s.sub.Close()
}

// HandleReplaySaved queues a replay file reported by the capture tool.
func (s *TriggerSensor) HandleReplaySaved(path string) {
	s.enqueue(triggerJob{replayPath: path, at: s.now()})
}

func (s *TriggerSensor) onTrigger(_ context.Context, data json.RawMessage) {
	var body model.TriggerClip
	if len(data) > 0 {
		if err := json.Unmarshal(data, &body); err != nil {
			s.logger.Warn("trigger_clip body ignored", zap.Error(err))
		}
	}
	s.logger.Info("clip trigger received", zap.Int("hype_score", body.HypeScore()))
	s.enqueue(triggerJob{score: body.HypeScore(), at: s.now()})
}

func (s *TriggerSensor) enqueue(job triggerJob) {
	if s.State() != StateRunning {
		return
	}
	select {
	case s.queue <- job:
	default:
		s.logger.Warn("trigger queue full, dropping", zap.String("replay", job.replayPath))
	}
}

func (s *TriggerSensor) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-s.queue:
			if job.replayPath != "" {
				s.processReplay(ctx, job)
			} else {
				s.capture(ctx, job)
			}
		}
	}
}

func (s *TriggerSensor) capture(ctx context.Context, job triggerJob) {
	if s.capturer != nil {
		s.expirePending(job.at)
		if len(s.pending) >= triggerQueueSize {
			s.logger.Warn("too many replays outstanding, forgetting the oldest", zap.Int("hype_score", s.pending[0].score))
			s.pending = s.pending[1:]
		}
		s.pending = append(s.pending, pendingTrigger{score: job.score, at: job.at})
		err := s.capturer.SaveReplayBuffer(ctx)
		if err == nil {
			s.logger.Info("replay save requested")
			return
		}
		s.pending = s.pending[:len(s.pending)-1]
		s.logger.Warn("replay save request failed, discovering instead", zap.Error(err))
	}
	if s.clips == nil {
		return
	}
	if _, err := s.clips.DiscoverSince(ctx, job.at, job.score, model.TriggerHub); err != nil && ctx.Err() == nil {
		s.logger.Error("clip discovery failed", zap.Error(err))
	}
}

func (s *TriggerSensor) processReplay(ctx context.Context, job triggerJob) {
	s.expirePending(job.at)
	score, triggerType := 0, model.TriggerReplaySaved
	if len(s.pending) > 0 {
		score, triggerType = s.pending[0].score, model.TriggerHub
		s.pending = s.pending[1:]
	}
	if s.clips == nil {
		s.logger.Info("replay saved, no storage configured", zap.String("path", job.replayPath))
		return
	}
	if _, err := s.clips.ProcessArtifact(ctx, job.replayPath, score, triggerType); err != nil {
		s.logger.Error("replay processing failed", zap.String("path", job.replayPath), zap.Error(err))
	}
}

// expirePending drops triggers whose replay never arrived within pendingTTL.
func (s *TriggerSensor) expirePending(now time.Time) {
	kept := s.pending[:0]
	for _, p := range s.pending {
		if now.Sub(p.at) > s.pendingTTL {
			s.logger.Warn("replay never reported for trigger", zap.Int("hype_score", p.score), zap.Time("triggered_at", p.at))
			continue
		}
		kept = append(kept, p)
	}
	s.pending = kept
}
