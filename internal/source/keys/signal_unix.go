//go:build unix

package keys

import (
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"go.uber.org/zap"
)

// SignalRegistrar activates a combination when the process receives a signal,
// e.g. from a desktop shortcut running `pkill -USR1 hypelens`.
type SignalRegistrar struct {
	Signal os.Signal
	Logger *zap.Logger
}

// Default returns the SIGUSR1 registrar. It does not read the keyboard; the
// combination is only validated, the signal fires it.
func Default(logger *zap.Logger) Registrar {
	return &SignalRegistrar{Signal: syscall.SIGUSR1, Logger: logger}
}

func (r *SignalRegistrar) Describe(combo string) string {
	return fmt.Sprintf("%s fires on %s (pkill -%s hypelens)", combo, r.signal(), signalFlag(r.signal()))
}

func (r *SignalRegistrar) signal() os.Signal {
	if r.Signal == nil {
		return syscall.SIGUSR1
	}
	return r.Signal
}

func signalFlag(sig os.Signal) string {
	switch sig {
	case syscall.SIGUSR1:
		return "USR1"
	case syscall.SIGUSR2:
		return "USR2"
	}
	return sig.String()
}

func (r *SignalRegistrar) Register(combo string, fn func()) (func(), error) {
	parsed, err := ParseCombo(combo)
	if err != nil {
		return nil, err
	}
	sig := r.signal()
	if r.Logger != nil {
		r.Logger.Info("hotkey is fired by a signal, not the keyboard",
			zap.Stringer("combo", parsed), zap.Stringer("signal", sig),
			zap.String("fire_with", "pkill -"+signalFlag(sig)+" hypelens"))
	}

	ch := make(chan os.Signal, 1)
	done := make(chan struct{})
	signal.Notify(ch, sig)
	go func() {
		for {
			select {
			case <-ch:
				fn()
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			signal.Stop(ch)
			close(done)
		})
	}, nil
}
