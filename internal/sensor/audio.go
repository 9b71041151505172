package sensor

import (
	"context"
	"math"
	"sync"

	"github.com/utrack/hypelens/internal/detect"
	"github.com/utrack/hypelens/internal/model"
	"go.uber.org/zap"
)

// BlockSource delivers blocks of interleaved samples to fn on its own
// goroutine until ctx ends, the stream ends or Close is called.
type BlockSource interface {
	Channels() int
	Run(ctx context.Context, fn func(samples []float64)) error
	Close() error
}

// AudioSensor emits audio_spike when a block's RMS reaches the threshold.
type AudioSensor struct {
	lifecycle

	activation detect.Activation
	src        BlockSource
	pub        Publisher
	logger     *zap.Logger

	mu   sync.Mutex
	ctx  context.Context
	mono []float64
}

// NewAudio builds an audio sensor.
func NewAudio(activation detect.Activation, src BlockSource, pub Publisher, logger *zap.Logger) *AudioSensor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AudioSensor{
		activation: activation,
		src:        src,
		pub:        pub,
		logger:     logger.Named("audio"),
		ctx:        context.Background(),
	}
}

func (s *AudioSensor) Name() string { return "audio" }

// Start refuses a disabled activation and otherwise streams the source.
func (s *AudioSensor) Start(ctx context.Context) error {
	if !s.activation.Enabled() || s.src == nil {
		return ErrDisabled
	}
	return s.launch(ctx, func(ctx context.Context) error {
		_ = s.pub.Connect(ctx)
		s.logger.Info("audio detector started", zap.Stringer("activation", s.activation))
		return nil
	}, s.run)
}

// Stop closes the audio stream and the hub channel.
func (s *AudioSensor) Stop() {
	s.halt(func() {
		if s.src != nil {
			_ = s.src.Close()
		}
	})
	_ = s.pub.Close()
}

func (s *AudioSensor) run(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	channels := s.src.Channels()
	err := s.src.Run(ctx, func(samples []float64) {
		s.Process(samples, channels)
	})
	if err != nil && ctx.Err() == nil {
		s.logger.Error("audio stream ended", zap.Error(err))
	}
}

// Process evaluates one block and reports whether it produced a spike.
func (s *AudioSensor) Process(samples []float64, channels int) bool {
	gate, ok := s.activation.Gate()
	if !ok {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.mono = Downmix(s.mono[:0], samples, channels)
	rms := RMS(s.mono)
	if !gate.Evaluate(rms) {
		return false
	}
	s.logger.Info("audio spike detected", zap.Float64("rms", rms))
	s.pub.Send(s.ctx, model.NewEnvelope(model.EventAudioSpike, model.AudioSpike{RMS: rms}))
	return true
}

// Downmix appends the per-frame arithmetic mean of interleaved samples to dst.
// A trailing partial frame is ignored.
func Downmix(dst, samples []float64, channels int) []float64 {
	if channels <= 1 {
		return append(dst, samples...)
	}
	for i := 0; i+channels <= len(samples); i += channels {
		var sum float64
		for _, v := range samples[i : i+channels] {
			sum += v
		}
		dst = append(dst, sum/float64(channels))
	}
	return dst
}

// RMS is the root mean square of samples, zero for an empty block.
func RMS(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, v := range samples {
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}
