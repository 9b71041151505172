// Package capture locates saved replay artifacts, uploads them and notifies
// the hub.
package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/utrack/hypelens/internal/model"
	"github.com/utrack/hypelens/internal/storage"
	"go.uber.org/zap"
)

var (
	ErrWatchDirMissing = errors.New("clip watch directory not configured")
	ErrUploadFailed    = errors.New("clip upload failed")
)

// Uploader stores a local file under key and returns its URL.
type Uploader interface {
	Upload(ctx context.Context, localPath, key string) (string, error)
}

// Notifier is the primary metadata channel.
type Notifier interface {
	Connect(ctx context.Context) error
	Emit(ctx context.Context, event string, body interface{}) error
	Close() error
}

// Fallback delivers metadata when the primary channel could not.
type Fallback interface {
	PostClip(ctx context.Context, meta model.ClipMetadata) error
}

// Config tunes artifact discovery.
type Config struct {
	WatchDir string
	// AllowCWD permits the working directory when WatchDir is empty.
	AllowCWD    bool
	Extensions  []string
	SettleDelay time.Duration
}

// Orchestrator runs locate, upload and notify for one artifact at a time per
// caller. It never writes to the watch directory.
type Orchestrator struct {
	watchDir string
	filter   Filter
	settle   time.Duration
	uploader Uploader
	notifier Notifier
	fallback Fallback
	logger   *zap.Logger
	now      func() time.Time
}

// NewOrchestrator validates the watch directory. fallback may be nil.
func NewOrchestrator(cfg Config, uploader Uploader, notifier Notifier, fallback Fallback, logger *zap.Logger) (*Orchestrator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	dir := cfg.WatchDir
	if dir == "" {
		if !cfg.AllowCWD {
			return nil, ErrWatchDirMissing
		}
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolve working directory: %w", err)
		}
		dir = wd
		logger.Warn("watching the working directory for clips", zap.String("dir", dir))
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWatchDirMissing, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrWatchDirMissing, dir)
	}

	return &Orchestrator{
		watchDir: dir,
		filter:   NewFilter(cfg.Extensions),
		settle:   cfg.SettleDelay,
		uploader: uploader,
		notifier: notifier,
		fallback: fallback,
		logger:   logger.Named("capture").With(zap.String("dir", dir)),
		now:      time.Now,
	}, nil
}

// WatchDir returns the resolved watch directory.
func (o *Orchestrator) WatchDir() string { return o.watchDir }

// Connect opens the notification channel; failures are logged by it.
func (o *Orchestrator) Connect(ctx context.Context) error {
	return o.notifier.Connect(ctx)
}

// Close closes the notification channel.
func (o *Orchestrator) Close() error {
	return o.notifier.Close()
}

// LocateArtifact returns explicit when given, else the newest matching file in
// the watch directory.
func (o *Orchestrator) LocateArtifact(explicit string) (string, bool) {
	if explicit != "" {
		return explicit, true
	}
	return o.newest(o.filter)
}

func (o *Orchestrator) newest(f Filter) (string, bool) {
	entries, err := os.ReadDir(o.watchDir)
	if err != nil {
		o.logger.Warn("watch directory unreadable", zap.Error(err))
		return "", false
	}

	var (
		best     string
		bestTime time.Time
	)
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			// removed between listing and stat
			continue
		}
		if !f.Match(entry.Name(), info) {
			continue
		}
		mt := info.ModTime()
		if best == "" || mt.After(bestTime) || (mt.Equal(bestTime) && entry.Name() > filepath.Base(best)) {
			best, bestTime = filepath.Join(o.watchDir, entry.Name()), mt
		}
	}
	return best, best != ""
}

// ProcessArtifact uploads path under its base name and announces it. A file
// that no longer exists yields nil metadata and no error. Metadata is returned
// whether or not the announcement reached the hub.
func (o *Orchestrator) ProcessArtifact(ctx context.Context, path string, hypeScore int, triggerType string) (*model.ClipMetadata, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		o.logger.Warn("artifact vanished before upload", zap.String("path", path))
		return nil, nil
	}

	fileName := filepath.Base(path)
	url, err := o.uploader.Upload(ctx, path, fileName)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			o.logger.Warn("artifact vanished during upload", zap.String("path", path))
			return nil, nil
		}
		o.logger.Error("upload failed", zap.String("path", path), zap.Error(err))
		return nil, fmt.Errorf("%w: %s: %w", ErrUploadFailed, fileName, err)
	}

	meta := model.NewClipMetadata(fileName, url, hypeScore, triggerType, o.now())
	o.notify(ctx, meta)
	return &meta, nil
}

func (o *Orchestrator) notify(ctx context.Context, meta model.ClipMetadata) {
	err := o.notifier.Emit(ctx, model.MessageClipUploaded, meta)
	if err == nil {
		o.logger.Info("sent clip metadata", zap.String("file", meta.FileName), zap.String("url", meta.URL))
		return
	}
	o.logger.Warn("websocket metadata send failed", zap.Error(err))
	if o.fallback == nil {
		return
	}
	// failures are logged by the fallback client
	_ = o.fallback.PostClip(ctx, meta)
}

// ProcessLatest uploads the newest artifact in the watch directory.
func (o *Orchestrator) ProcessLatest(ctx context.Context, hypeScore int) (*model.ClipMetadata, error) {
	path, ok := o.LocateArtifact("")
	if !ok {
		o.logger.Warn("no clip found")
		return nil, nil
	}
	return o.ProcessArtifact(ctx, path, hypeScore, model.TriggerManual)
}

// DiscoverSince waits for the capture tool to finish writing, then processes
// the newest artifact modified at or after since.
func (o *Orchestrator) DiscoverSince(ctx context.Context, since time.Time, hypeScore int, triggerType string) (*model.ClipMetadata, error) {
	if o.settle > 0 {
		t := time.NewTimer(o.settle)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.C:
		}
	}

	// coarse filesystem clocks round modification times down
	path, ok := o.newest(o.filter.Since(since.Truncate(time.Second)))
	if !ok {
		o.logger.Warn("no clip saved after trigger", zap.Time("since", since))
		return nil, nil
	}
	return o.ProcessArtifact(ctx, path, hypeScore, triggerType)
}
