package model

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Trigger types reported with uploaded clips.
const (
	TriggerHub         = "trigger_clip"
	TriggerReplaySaved = "replay_saved"
	TriggerManual      = "manual"
)

var clipNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("hypelens/clip"))

// ClipMetadata describes an uploaded artifact. It is the clip_uploaded body and
// the REST fallback payload.
type ClipMetadata struct {
	FileName       string `json:"fileName"`
	URL            string `json:"url"`
	HypeScore      int    `json:"hypeScore"`
	Timestamp      int64  `json:"timestamp"`
	IdempotencyKey string `json:"idempotencyKey"`
	TriggerType    string `json:"triggerType,omitempty"`
}

// NewClipMetadata stamps metadata with sentAt and derives its idempotency key.
// Negative scores are clamped to zero.
func NewClipMetadata(fileName, url string, hypeScore int, triggerType string, sentAt time.Time) ClipMetadata {
	if hypeScore < 0 {
		hypeScore = 0
	}
	ts := sentAt.Unix()
	return ClipMetadata{
		FileName:       fileName,
		URL:            url,
		HypeScore:      hypeScore,
		Timestamp:      ts,
		IdempotencyKey: IdempotencyKey(fileName, ts),
		TriggerType:    triggerType,
	}
}

// IdempotencyKey is stable for one fileName and timestamp pair, so the hub can
// drop the second copy when both notification paths deliver.
func IdempotencyKey(fileName string, timestamp int64) string {
	return uuid.NewSHA1(clipNamespace, []byte(fileName+"@"+strconv.FormatInt(timestamp, 10))).String()
}
