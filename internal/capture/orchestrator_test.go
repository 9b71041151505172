package capture

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/utrack/hypelens/internal/hub"
	"github.com/utrack/hypelens/internal/hub/hubtest"
	"github.com/utrack/hypelens/internal/model"
	"github.com/utrack/hypelens/internal/storage"
	"go.uber.org/zap"
)

type fakeUploader struct {
	mu    sync.Mutex
	paths []string
	keys  []string
	err   error
}

func (u *fakeUploader) Upload(_ context.Context, localPath, key string) (string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.paths = append(u.paths, localPath)
	u.keys = append(u.keys, key)
	if u.err != nil {
		return "", u.err
	}
	return "https://cdn.example.com/clips/" + key, nil
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []string
	bodies []interface{}
	err    error
}

func (n *fakeNotifier) Connect(context.Context) error { return nil }
func (n *fakeNotifier) Close() error                  { return nil }

func (n *fakeNotifier) Emit(_ context.Context, event string, body interface{}) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	n.bodies = append(n.bodies, body)
	return n.err
}

type fakeFallback struct {
	metas []model.ClipMetadata
}

func (f *fakeFallback) PostClip(_ context.Context, meta model.ClipMetadata) error {
	f.metas = append(f.metas, meta)
	return nil
}

func writeFile(t *testing.T, dir, name string, mtime time.Time) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(name), 0o600))
	require.NoError(t, os.Chtimes(path, mtime, mtime))
	return path
}

func newTestOrchestrator(t *testing.T, cfg Config, up Uploader, n Notifier, fb Fallback) *Orchestrator {
	t.Helper()
	if cfg.WatchDir == "" {
		cfg.WatchDir = t.TempDir()
	}
	o, err := NewOrchestrator(cfg, up, n, fb, zap.NewNop())
	require.NoError(t, err)
	return o
}

func TestNewOrchestratorRequiresWatchDir(t *testing.T) {
	_, err := NewOrchestrator(Config{}, &fakeUploader{}, &fakeNotifier{}, nil, zap.NewNop())
	assert.ErrorIs(t, err, ErrWatchDirMissing)

	_, err = NewOrchestrator(Config{WatchDir: filepath.Join(t.TempDir(), "missing")}, &fakeUploader{}, &fakeNotifier{}, nil, zap.NewNop())
	assert.ErrorIs(t, err, ErrWatchDirMissing)

	o, err := NewOrchestrator(Config{AllowCWD: true}, &fakeUploader{}, &fakeNotifier{}, nil, zap.NewNop())
	require.NoError(t, err)
	wd, _ := os.Getwd()
	assert.Equal(t, wd, o.WatchDir())
}

func TestLocateArtifactPicksNewest(t *testing.T) {
	dir := t.TempDir()
	base := time.Now().Add(-time.Hour)
	writeFile(t, dir, "a.mp4", base)
	b := writeFile(t, dir, "b.mp4", base.Add(time.Minute))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "z-newer-dir"), 0o700))

	o := newTestOrchestrator(t, Config{WatchDir: dir}, &fakeUploader{}, &fakeNotifier{}, nil)

	got, ok := o.LocateArtifact("")
	require.True(t, ok)
	assert.Equal(t, b, got)

	got, ok = o.LocateArtifact("/explicit/clip.mkv")
	require.True(t, ok)
	assert.Equal(t, "/explicit/clip.mkv", got)
}

func TestLocateArtifactEmptyDir(t *testing.T) {
	o := newTestOrchestrator(t, Config{}, &fakeUploader{}, &fakeNotifier{}, nil)
	got, ok := o.LocateArtifact("")
	assert.False(t, ok)
	assert.Empty(t, got)
}

func TestLocateArtifactExtensionFilter(t *testing.T) {
	dir := t.TempDir()
	base := time.Now().Add(-time.Hour)
	clip := writeFile(t, dir, "clip.MKV", base)
	writeFile(t, dir, "notes.txt", base.Add(time.Minute))

	o := newTestOrchestrator(t, Config{WatchDir: dir, Extensions: []string{"mkv", ".mp4"}}, &fakeUploader{}, &fakeNotifier{}, nil)
	got, ok := o.LocateArtifact("")
	require.True(t, ok)
	assert.Equal(t, clip, got)
}

func TestProcessArtifactUploadsAndNotifiesHub(t *testing.T) {
	srv := hubtest.New(t)
	ch := hub.NewChannel("upload", srv.Endpoint(), zap.NewNop())
	defer ch.Close()

	dir := t.TempDir()
	path := writeFile(t, dir, "b.mp4", time.Now())
	up := &fakeUploader{}
	fb := &fakeFallback{}
	o := newTestOrchestrator(t, Config{WatchDir: dir}, up, ch, fb)
	sentAt := time.Unix(1700000000, 0)
	o.now = func() time.Time { return sentAt }

	meta, err := o.ProcessArtifact(context.Background(), path, 12, model.TriggerHub)
	require.NoError(t, err)
	require.NotNil(t, meta)

	want := model.NewClipMetadata("b.mp4", "https://cdn.example.com/clips/b.mp4", 12, model.TriggerHub, sentAt)
	assert.Equal(t, want, *meta)
	assert.Equal(t, []string{"b.mp4"}, up.keys)

	ev := srv.Next(t, 2*time.Second)
	assert.Equal(t, model.MessageClipUploaded, ev.Name)
	var got model.ClipMetadata
	require.NoError(t, json.Unmarshal(ev.Data, &got))
	assert.Equal(t, want, got)
	assert.Empty(t, fb.metas)
}

func TestProcessArtifactUploadFailureSendsNothing(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "a.mp4", time.Now())
	up := &fakeUploader{err: storage.ErrCredentials}
	n := &fakeNotifier{}
	fb := &fakeFallback{}
	o := newTestOrchestrator(t, Config{WatchDir: dir}, up, n, fb)

	meta, err := o.ProcessArtifact(context.Background(), path, 5, model.TriggerHub)
	assert.Nil(t, meta)
	assert.ErrorIs(t, err, ErrUploadFailed)
	assert.ErrorIs(t, err, storage.ErrCredentials)
	assert.Empty(t, n.events)
	assert.Empty(t, fb.metas)
}

func TestProcessArtifactFallsBackToREST(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "a.mp4", time.Now())
	n := &fakeNotifier{err: hub.ErrNotConnected}
	fb := &fakeFallback{}
	o := newTestOrchestrator(t, Config{WatchDir: dir}, &fakeUploader{}, n, fb)

	meta, err := o.ProcessArtifact(context.Background(), path, 0, model.TriggerReplaySaved)
	require.NoError(t, err)
	require.NotNil(t, meta)
	require.Len(t, fb.metas, 1)
	assert.Equal(t, *meta, fb.metas[0])
	assert.Equal(t, model.TriggerReplaySaved, fb.metas[0].TriggerType)
	assert.Equal(t, []string{model.MessageClipUploaded}, n.events)
}

func TestProcessArtifactVanishedFile(t *testing.T) {
	up := &fakeUploader{}
	n := &fakeNotifier{}
	o := newTestOrchestrator(t, Config{}, up, n, nil)

	meta, err := o.ProcessArtifact(context.Background(), filepath.Join(o.WatchDir(), "gone.mp4"), 1, model.TriggerHub)
	assert.NoError(t, err)
	assert.Nil(t, meta)
	assert.Empty(t, up.paths)
	assert.Empty(t, n.events)

	up.err = storage.ErrNotFound
	path := writeFile(t, o.WatchDir(), "racy.mp4", time.Now())
	meta, err = o.ProcessArtifact(context.Background(), path, 1, model.TriggerHub)
	assert.NoError(t, err)
	assert.Nil(t, meta)
}

func TestProcessLatest(t *testing.T) {
	dir := t.TempDir()
	up := &fakeUploader{}
	o := newTestOrchestrator(t, Config{WatchDir: dir}, up, &fakeNotifier{}, nil)

	meta, err := o.ProcessLatest(context.Background(), 3)
	assert.NoError(t, err)
	assert.Nil(t, meta)

	base := time.Now().Add(-time.Minute)
	writeFile(t, dir, "a.mp4", base)
	writeFile(t, dir, "b.mp4", base.Add(time.Second))

	meta, err = o.ProcessLatest(context.Background(), 3)
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Equal(t, "b.mp4", meta.FileName)
	assert.Equal(t, model.TriggerManual, meta.TriggerType)
}

func TestDiscoverSinceOnlyTakesNewerFiles(t *testing.T) {
	dir := t.TempDir()
	trigger := time.Now()
	writeFile(t, dir, "old.mp4", trigger.Add(-time.Hour))

	up := &fakeUploader{}
	o := newTestOrchestrator(t, Config{WatchDir: dir, SettleDelay: 10 * time.Millisecond}, up, &fakeNotifier{}, nil)

	meta, err := o.DiscoverSince(context.Background(), trigger, 7, model.TriggerHub)
	assert.NoError(t, err)
	assert.Nil(t, meta)
	assert.Empty(t, up.paths)

	writeFile(t, dir, "fresh.mp4", trigger.Add(2*time.Second))
	meta, err = o.DiscoverSince(context.Background(), trigger, 7, model.TriggerHub)
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Equal(t, "fresh.mp4", meta.FileName)
	assert.Equal(t, 7, meta.HypeScore)
}

func TestDiscoverSinceHonoursContext(t *testing.T) {
	o := newTestOrchestrator(t, Config{SettleDelay: time.Hour}, &fakeUploader{}, &fakeNotifier{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := o.DiscoverSince(ctx, time.Now(), 0, model.TriggerHub)
	assert.True(t, errors.Is(err, context.Canceled))
}
