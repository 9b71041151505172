package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeOmitsMissingValue(t *testing.T) {
	data, err := json.Marshal(NewEnvelope(EventManualTrigger, nil))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"manual_trigger"}`, string(data))
	assert.NotContains(t, string(data), "null")
}

func TestEnvelopeCarriesPayload(t *testing.T) {
	data, err := json.Marshal(NewEnvelope(EventKeyword, KeywordHit{Keyword: "nitro", Message: "free nitro now"}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"keyword","value":{"keyword":"nitro","message":"free nitro now"}}`, string(data))
}

func TestTriggerClipHypeScore(t *testing.T) {
	var trig TriggerClip
	require.NoError(t, json.Unmarshal([]byte(`{}`), &trig))
	assert.Equal(t, 0, trig.HypeScore())

	require.NoError(t, json.Unmarshal([]byte(`{"score":11.6}`), &trig))
	assert.Equal(t, 12, trig.HypeScore())

	require.NoError(t, json.Unmarshal([]byte(`{"score":-3}`), &trig))
	assert.Equal(t, 0, trig.HypeScore())
}

func TestNewClipMetadata(t *testing.T) {
	at := time.Unix(1700000000, 0)
	meta := NewClipMetadata("clip.mp4", "https://b.s3.amazonaws.com/clip.mp4", -4, TriggerHub, at)

	assert.Equal(t, "clip.mp4", meta.FileName)
	assert.Equal(t, 0, meta.HypeScore)
	assert.Equal(t, int64(1700000000), meta.Timestamp)
	assert.Equal(t, IdempotencyKey("clip.mp4", 1700000000), meta.IdempotencyKey)
	assert.NotEqual(t, IdempotencyKey("clip.mp4", 1700000001), meta.IdempotencyKey)

	data, err := json.Marshal(meta)
	require.NoError(t, err)
	var fields map[string]any
	require.NoError(t, json.Unmarshal(data, &fields))
	for _, key := range []string{"fileName", "url", "hypeScore", "timestamp", "idempotencyKey", "triggerType"} {
		assert.Contains(t, fields, key)
	}
}
