// Package sensor turns raw chat, audio, hotkey and hub signals into hype
// events.
package sensor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/utrack/hypelens/internal/model"
)

var (
	ErrDisabled = errors.New("sensor disabled")
	ErrStopped  = errors.New("sensor stopped")
)

// State is a sensor lifecycle position. It only moves forward.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Sensor is one independently running detector.
type Sensor interface {
	Name() string
	Start(ctx context.Context) error
	Stop()
	State() State
}

// Publisher is the outbound hub surface a sensor owns.
type Publisher interface {
	Connect(ctx context.Context) error
	Send(ctx context.Context, env model.Envelope)
	Close() error
}

// lifecycle runs one detection loop per sensor.
type lifecycle struct {
	mu     sync.Mutex
	state  atomic.Int32
	cancel context.CancelFunc
	done   chan struct{}
}

func (l *lifecycle) State() State { return State(l.state.Load()) }

// launch moves Idle to Running and starts loop on its own goroutine. prepare
// runs first; an error from it leaves the sensor Idle.
func (l *lifecycle) launch(ctx context.Context, prepare func(context.Context) error, loop func(context.Context)) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.State() {
	case StateRunning:
		return nil
	case StateStopped:
		return ErrStopped
	}
	if prepare != nil {
		if err := prepare(ctx); err != nil {
			return err
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	l.cancel, l.done = cancel, done
	l.state.Store(int32(StateRunning))

	go func() {
		defer close(done)
		loop(runCtx)
	}()
	return nil
}

// halt moves to Stopped, runs teardown and waits for the loop to exit. It must
// not be called from the loop goroutine.
func (l *lifecycle) halt(teardown func()) {
	l.mu.Lock()
	if l.State() == StateStopped {
		l.mu.Unlock()
		return
	}
	l.state.Store(int32(StateStopped))
	cancel, done := l.cancel, l.done
	l.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if teardown != nil {
		teardown()
	}
	if done != nil {
		<-done
	}
}
