// Package hypelens runs the stream hype agent: sensors that turn chat, audio
// and hotkey input into hub events, and the pipeline that uploads replay
// clips when the hub asks for one.
package hypelens

import (
	"context"
	"errors"
	"fmt"

	"github.com/utrack/hypelens/internal/agent"
	"github.com/utrack/hypelens/internal/config"
	"go.uber.org/zap"
)

// Run starts the agent and blocks until ctx is cancelled, then shuts down
// within cfg.ShutdownTimeout.
func Run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	a, err := agent.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("build agent: %w", err)
	}
	startErr := a.Start(ctx)
	if startErr == nil {
		logger.Info("hypelens running", zap.String("hub", cfg.Hub.URL))
		<-ctx.Done()
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownTimeout)
	defer cancel()
	if err := a.Shutdown(shutdownCtx); err != nil {
		return errors.Join(startErr, fmt.Errorf("shutdown: %w", err))
	}
	return startErr
}
