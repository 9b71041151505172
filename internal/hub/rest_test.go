package hub_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/utrack/hypelens/internal/hub"
	"github.com/utrack/hypelens/internal/model"
	"go.uber.org/zap"
)

func TestRESTClientPostClip(t *testing.T) {
	var (
		gotMeta model.ClipMetadata
		gotKey  string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != hub.ClipsPath {
			http.NotFound(w, r)
			return
		}
		gotKey = r.Header.Get("Idempotency-Key")
		if err := json.NewDecoder(r.Body).Decode(&gotMeta); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	obs := &recordingObserver{}
	client := hub.NewRESTClient(srv.URL, time.Second, zap.NewNop(), obs)
	assert.Equal(t, srv.URL+"/api/clips", client.URL())

	meta := model.NewClipMetadata("b.mp4", "https://cdn/b.mp4", 12, model.TriggerHub, time.Unix(1700000000, 0))
	require.NoError(t, client.PostClip(context.Background(), meta))

	assert.Equal(t, meta, gotMeta)
	assert.Equal(t, meta.IdempotencyKey, gotKey)

	got := obs.deliveries()
	require.Len(t, got, 1)
	assert.Equal(t, "rest", got[0].Channel)
	assert.NoError(t, got[0].Err)
}

func TestRESTClientRejectsNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := hub.NewRESTClient(srv.URL, time.Second, zap.NewNop(), nil)
	err := client.PostClip(context.Background(), model.NewClipMetadata("a.mp4", "u", 0, "", time.Now()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestRESTClientDerivesHTTPBaseFromSocketEndpoint(t *testing.T) {
	client := hub.NewRESTClient("ws://localhost:3001/", 0, nil, nil)
	assert.Equal(t, "http://localhost:3001/api/clips", client.URL())
}
