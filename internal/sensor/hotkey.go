package sensor

import (
	"context"
	"sync"

	"github.com/utrack/hypelens/internal/model"
	"go.uber.org/zap"
)

// KeyRegistrar binds a key combination to fn. fn runs on the registrar's
// goroutine.
type KeyRegistrar interface {
	Register(combo string, fn func()) (unregister func(), err error)
}

// HotkeySensor emits manual_trigger when the configured combination fires.
type HotkeySensor struct {
	lifecycle

	combo     string
	registrar KeyRegistrar
	pub       Publisher
	logger    *zap.Logger

	mu         sync.Mutex
	ctx        context.Context
	unregister func()
}

// NewHotkey builds a hotkey sensor.
func NewHotkey(combo string, registrar KeyRegistrar, pub Publisher, logger *zap.Logger) *HotkeySensor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HotkeySensor{
		combo:     combo,
		registrar: registrar,
		pub:       pub,
		logger:    logger.Named("hotkey").With(zap.String("hotkey", combo)),
		ctx:       context.Background(),
	}
}

func (s *HotkeySensor) Name() string { return "hotkey" }

// Start registers the combination. A missing combination or a registrar
// failure leaves the sensor Idle.
func (s *HotkeySensor) Start(ctx context.Context) error {
	if s.combo == "" || s.registrar == nil {
		return ErrDisabled
	}
	return s.launch(ctx, s.register, func(ctx context.Context) {
		s.mu.Lock()
		s.ctx = ctx
		s.mu.Unlock()
		<-ctx.Done()
	})
}

// register binds the combination before dialing the hub, so an unavailable
// input layer leaves no connection behind.
func (s *HotkeySensor) register(ctx context.Context) error {
	unregister, err := s.registrar.Register(s.combo, s.Fire)
	if err != nil {
		s.logger.Error("hotkey registration failed", zap.Error(err))
		return err
	}
	s.mu.Lock()
	s.unregister = unregister
	s.mu.Unlock()

	_ = s.pub.Connect(ctx)
	s.logger.Info("hotkey listener started")
	return nil
}

// Fire emits one manual_trigger.
func (s *HotkeySensor) Fire() {
	if s.State() != StateRunning {
		return
	}
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	s.logger.Info("hotkey pressed")
	s.pub.Send(ctx, model.NewEnvelope(model.EventManualTrigger, nil))
}

// Stop removes the key hook and closes the hub channel.
func (s *HotkeySensor) Stop() {
	s.halt(func() {
		s.mu.Lock()
		unregister := s.unregister
		s.unregister = nil
		s.mu.Unlock()
		if unregister != nil {
			unregister()
		}
	})
	_ = s.pub.Close()
}
