package model

import (
	"math"
	"time"
)

// EventType tags a hype event. The set is open: unknown values pass through.
type EventType string

const (
	EventAudioSpike    EventType = "audio_spike"
	EventChatSpam      EventType = "chat_spam"
	EventKeyword       EventType = "keyword"
	EventManualTrigger EventType = "manual_trigger"
	EventTriggerClip   EventType = "trigger_clip"
	EventClipUploaded  EventType = "clip_uploaded"
)

// Hub message names.
const (
	MessageHypeEvent    = "hype_event"
	MessageClipUploaded = "clip_uploaded"
	MessageTriggerClip  = "trigger_clip"
)

// Envelope is the canonical hype event sent to the hub as a hype_event body.
type Envelope struct {
	Type  EventType   `json:"type"`
	Value interface{} `json:"value,omitempty"`
}

// NewEnvelope builds an envelope. A nil value is left out of the JSON body.
func NewEnvelope(t EventType, value interface{}) Envelope {
	return Envelope{Type: t, Value: value}
}

// AudioSpike is the audio_spike payload.
type AudioSpike struct {
	RMS float64 `json:"rms"`
}

// ChatSpam is the chat_spam payload.
type ChatSpam struct {
	Count int `json:"count"`
}

// KeywordHit is the keyword payload.
type KeywordHit struct {
	Keyword string `json:"keyword"`
	Message string `json:"message"`
}

// TriggerClip is the inbound trigger_clip body. Score is optional.
type TriggerClip struct {
	Score *float64 `json:"score,omitempty"`
}

// HypeScore converts the optional score into a non-negative integer.
func (t TriggerClip) HypeScore() int {
	if t.Score == nil || *t.Score <= 0 {
		return 0
	}
	return int(math.Round(*t.Score))
}

// Record is one delivery attempt mirrored to local tap sessions.
type Record struct {
	SessionID  string      `json:"session_id"`
	Source     string      `json:"source"`
	Message    string      `json:"message"`
	Type       EventType   `json:"type,omitempty"`
	Delivered  bool        `json:"delivered"`
	Error      string      `json:"error,omitempty"`
	Index      uint64      `json:"index"`
	CapturedAt time.Time   `json:"captured_at"`
	Payload    interface{} `json:"payload,omitempty"`
}

// StreamEnd is emitted when a tap session ends.
type StreamEnd struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Sent      uint64 `json:"sent"`
	Dropped   uint64 `json:"dropped"`
}

// ComponentStatus describes one running agent component.
type ComponentStatus struct {
	Name         string `json:"name"`
	State        string `json:"state"`
	HubConnected bool   `json:"hub_connected"`
	HubDials     uint64 `json:"hub_dials"`
	Detail       string `json:"detail,omitempty"`
}
