// Package agent wires sensors, hub channels and the clip pipeline into one
// process.
package agent

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/utrack/hypelens/internal/capture"
	"github.com/utrack/hypelens/internal/config"
	"github.com/utrack/hypelens/internal/detect"
	"github.com/utrack/hypelens/internal/hub"
	"github.com/utrack/hypelens/internal/model"
	"github.com/utrack/hypelens/internal/obs"
	"github.com/utrack/hypelens/internal/sensor"
	"github.com/utrack/hypelens/internal/source/irc"
	"github.com/utrack/hypelens/internal/source/keys"
	"github.com/utrack/hypelens/internal/source/pcm"
	"github.com/utrack/hypelens/internal/storage"
	"github.com/utrack/hypelens/internal/tap"
	"github.com/utrack/hypelens/internal/telemetry"
	"go.uber.org/zap"
)

const (
	chatWindow     = 60 * time.Second
	chatRedialWait = 5 * time.Second
	stateDisabled  = "disabled"
)

// Option customizes agent construction.
type Option func(*options)

type options struct {
	keys keys.Registrar
}

// WithKeyRegistrar replaces the platform hotkey registrar.
func WithKeyRegistrar(r keys.Registrar) Option {
	return func(o *options) { o.keys = r }
}

type component struct {
	sensor  sensor.Sensor
	channel *hub.Channel
	detail  string
}

// Agent owns every component built from one configuration.
type Agent struct {
	cfg    config.Config
	logger *zap.Logger

	taps      *tap.Registry
	telemetry *telemetry.Provider
	api       *apiServer

	mu           sync.Mutex
	components   []*component
	skipped      []model.ComponentStatus
	orchestrator *capture.Orchestrator
	uploads      *hub.Channel
	obs          *obs.Client

	startOnce sync.Once
	startErr  error

	shutdownOnce sync.Once
	shutdownErr  error
}

// New builds every configured component. Components with missing
// configuration are logged and reported as disabled.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*Agent, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.keys == nil {
		o.keys = keys.Default(logger.Named("keys"))
	}

	provider, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName:  "hypelens",
		OTLPEndpoint: cfg.OTLPEndpoint,
	}, logger.Named("telemetry"))
	if err != nil {
		return nil, err
	}
	recorder, err := telemetry.NewRecorder(provider.Meter())
	if err != nil {
		_ = provider.Shutdown(ctx)
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	a := &Agent{
		cfg:       cfg,
		logger:    logger,
		taps:      tap.NewRegistry(cfg.MaxTapSessions),
		telemetry: provider,
	}
	observers := hub.Observers{a.taps, recorder}
	channel := func(name string) *hub.Channel {
		return hub.NewChannel(name, cfg.Hub.URL, logger,
			hub.WithObserver(observers),
			hub.WithSendTimeout(cfg.Hub.SendTimeout),
		)
	}

	a.buildChat(channel)
	a.buildAudio(channel)
	a.buildHotkey(channel, o.keys)
	if err := a.buildClips(ctx, channel, observers); err != nil {
		_ = provider.Shutdown(ctx)
		return nil, err
	}
	a.buildTrigger(channel)

	if cfg.HTTPAddress != "" {
		a.api = newAPIServer(cfg.HTTPAddress, a.taps, a, logger.Named("api"))
	}
	return a, nil
}

func (a *Agent) buildChat(channel func(string) *hub.Channel) {
	if err := a.cfg.Chat.Require(); err != nil {
		a.skip("chat", err)
		return
	}
	ircCfg := irc.Config{
		Addr:    a.cfg.Chat.Addr,
		Nick:    a.cfg.Chat.Nick,
		Token:   a.cfg.Chat.Token,
		Channel: a.cfg.Chat.Channel,
	}
	logger := a.logger.Named("irc")
	dialer := sensor.LineDialerFunc(func(ctx context.Context) (sensor.LineSource, error) {
		conn, err := irc.Dial(ctx, ircCfg, logger)
		if err != nil {
			return nil, err
		}
		return conn, nil
	})

	pub := channel("chat")
	s := sensor.NewChat(sensor.ChatConfig{
		Keywords:       a.cfg.Chat.Keywords,
		Spam:           detect.ActivationFromThreshold(float64(a.cfg.Chat.FreqThreshold)),
		Window:         chatWindow,
		ReconnectEvery: chatRedialWait,
	}, dialer, pub, a.logger)
	a.components = append(a.components, &component{sensor: s, channel: pub})
}

func (a *Agent) buildAudio(channel func(string) *hub.Channel) {
	activation := detect.ActivationFromThreshold(a.cfg.Audio.Threshold)
	if !activation.Enabled() {
		a.skip("audio", fmt.Errorf("%w: AUDIO_THRESHOLD <= 0", sensor.ErrDisabled))
		return
	}
	if a.cfg.Audio.Source == "" {
		a.skip("audio", fmt.Errorf("%w: AUDIO_SOURCE", config.ErrMissing))
		return
	}
	src := pcm.Open(a.cfg.Audio.Source, a.cfg.Audio.PCMFormat(), a.logger)
	pub := channel("audio")
	s := sensor.NewAudio(activation, src, pub, a.logger)
	a.components = append(a.components, &component{sensor: s, channel: pub})
}

func (a *Agent) buildHotkey(channel func(string) *hub.Channel, registrar keys.Registrar) {
	if a.cfg.Hotkey == "" {
		a.skip("hotkey", fmt.Errorf("%w: HOTKEY", config.ErrMissing))
		return
	}
	pub := channel("hotkey")
	s := sensor.NewHotkey(a.cfg.Hotkey, registrar, pub, a.logger)
	c := &component{sensor: s, channel: pub}
	if d, ok := registrar.(keys.Describer); ok {
		c.detail = d.Describe(a.cfg.Hotkey)
	}
	a.components = append(a.components, c)
}

func (a *Agent) buildClips(ctx context.Context, channel func(string) *hub.Channel, observers hub.Observers) error {
	if err := a.cfg.Storage.Require(); err != nil {
		a.skip("clips", err)
		return nil
	}
	if err := a.cfg.Clips.Require(); err != nil {
		a.skip("clips", err)
		return nil
	}

	store, err := storage.NewS3(ctx, storage.Config{
		Bucket:          a.cfg.Storage.Bucket,
		Region:          a.cfg.Storage.Region,
		Endpoint:        a.cfg.Storage.Endpoint,
		AccessKeyID:     a.cfg.Storage.AccessKeyID,
		SecretAccessKey: a.cfg.Storage.SecretAccessKey,
	}, a.logger)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}

	uploads := channel("upload")
	fallback := hub.NewRESTClient(a.cfg.Hub.URL, a.cfg.Hub.SendTimeout, a.logger.Named("rest"), observers)
	orchestrator, err := capture.NewOrchestrator(capture.Config{
		WatchDir:    a.cfg.Clips.Dir,
		AllowCWD:    a.cfg.Clips.AllowCWD,
		Extensions:  a.cfg.Clips.Extensions,
		SettleDelay: a.cfg.Clips.SettleDelay,
	}, store, uploads, fallback, a.logger)
	if err != nil {
		_ = uploads.Close()
		a.skip("clips", err)
		return nil
	}
	a.orchestrator = orchestrator
	a.uploads = uploads
	return nil
}

func (a *Agent) buildTrigger(channel func(string) *hub.Channel) {
	var capturer sensor.ReplayCapturer
	if a.cfg.OBS.URL != "" {
		a.obs = obs.NewClient(a.cfg.OBS.URL, a.cfg.OBS.Password, a.cfg.Hub.SendTimeout, a.logger)
		capturer = a.obs
	}
	var clips sensor.ClipProcessor
	if a.orchestrator != nil {
		clips = a.orchestrator
	}
	if capturer == nil && clips == nil {
		a.skip("trigger", fmt.Errorf("%w: no capture tool or clip pipeline", sensor.ErrDisabled))
		return
	}

	sub := channel("trigger")
	// a requested replay is reported once OBS answers and the file settles
	ttl := a.cfg.Hub.SendTimeout + a.cfg.Clips.SettleDelay
	s := sensor.NewTrigger(sub, capturer, clips, a.logger, sensor.WithPendingTTL(ttl))
	if a.obs != nil {
		a.obs.OnReplayBufferSaved(s.HandleReplaySaved)
	}
	a.components = append(a.components, &component{sensor: s, channel: sub})
}

func (a *Agent) skip(name string, reason error) {
	a.logger.Warn("component disabled", zap.String("component", name), zap.Error(reason))
	a.skipped = append(a.skipped, model.ComponentStatus{
		Name:   name,
		State:  stateDisabled,
		Detail: reason.Error(),
	})
}

// Start connects the capture tool and clip channel, then starts every sensor
// and the local API. A sensor that fails to start is reported as disabled;
// only an API bind failure is returned.
func (a *Agent) Start(ctx context.Context) error {
	a.startOnce.Do(func() {
		if a.obs != nil {
			if err := a.obs.Connect(ctx); err != nil {
				a.logger.Warn("obs unavailable, will retry on first trigger", zap.Error(err))
			}
		}
		if a.orchestrator != nil {
			if err := a.orchestrator.Connect(ctx); err != nil {
				a.logger.Warn("upload channel not connected", zap.Error(err))
			}
		}

		for _, c := range a.components {
			if err := c.sensor.Start(ctx); err != nil {
				a.logger.Warn("sensor not started", zap.String("sensor", c.sensor.Name()), zap.Error(err))
				a.mu.Lock()
				c.detail = err.Error()
				a.mu.Unlock()
				continue
			}
			a.logger.Info("sensor started", zap.String("sensor", c.sensor.Name()))
		}

		if a.api != nil {
			a.startErr = a.api.start()
		}
	})
	return a.startErr
}

// Shutdown stops every component. It is safe to call more than once.
func (a *Agent) Shutdown(ctx context.Context) error {
	a.shutdownOnce.Do(func() {
		var errs []error
		if a.api != nil {
			if err := a.api.shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("api: %w", err))
			}
		}
		a.taps.CloseAll()

		for i := len(a.components) - 1; i >= 0; i-- {
			a.components[i].sensor.Stop()
		}
		if a.obs != nil {
			_ = a.obs.Close()
		}
		if a.orchestrator != nil {
			_ = a.orchestrator.Close()
		}
		if err := a.telemetry.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("telemetry: %w", err))
		}
		a.shutdownErr = errors.Join(errs...)
	})
	return a.shutdownErr
}

// Status reports every component, including disabled ones.
func (a *Agent) Status() []model.ComponentStatus {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]model.ComponentStatus, 0, len(a.components)+len(a.skipped)+2)
	for _, c := range a.components {
		out = append(out, model.ComponentStatus{
			Name:         c.sensor.Name(),
			State:        c.sensor.State().String(),
			HubConnected: c.channel.Connected(),
			HubDials:     c.channel.Dials(),
			Detail:       c.detail,
		})
	}
	if a.orchestrator != nil {
		out = append(out, model.ComponentStatus{
			Name:         "clips",
			State:        "ready",
			HubConnected: a.uploads.Connected(),
			HubDials:     a.uploads.Dials(),
			Detail:       a.orchestrator.WatchDir(),
		})
	}
	if a.obs != nil {
		state := "disconnected"
		if a.obs.Connected() {
			state = "connected"
		}
		out = append(out, model.ComponentStatus{Name: "obs", State: state})
	}
	return append(out, a.skipped...)
}

// APIAddr returns the bound local API address, nil when the API is off or not
// started.
func (a *Agent) APIAddr() net.Addr {
	if a.api == nil {
		return nil
	}
	return a.api.boundAddr()
}

// Taps exposes the delivery tap registry.
func (a *Agent) Taps() *tap.Registry { return a.taps }
