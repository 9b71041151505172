package tap

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/utrack/hypelens/internal/hub"
	"github.com/utrack/hypelens/internal/model"
)

func chatSpamDelivery(count int) hub.Delivery {
	return hub.Delivery{
		Channel: "chat",
		Message: model.MessageHypeEvent,
		Body:    model.NewEnvelope(model.EventChatSpam, model.ChatSpam{Count: count}),
		At:      time.Now().UTC(),
	}
}

func TestRegistryHasActiveSessions(t *testing.T) {
	registry := NewRegistry(10)
	if registry.HasActiveSessions() {
		t.Fatal("expected no active sessions")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	session, err := registry.Register(ctx, RegisterRequest{MaxEvents: 2, BufferSize: 2})
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if !registry.HasActiveSessions() {
		t.Fatal("expected active session")
	}

	registry.Deregister(session.ID())
	if registry.HasActiveSessions() {
		t.Fatal("expected no active sessions after deregister")
	}
}

func TestRegistryPublishesAndAutoDeregistersAtEventLimit(t *testing.T) {
	registry := NewRegistry(10)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	session, err := registry.Register(ctx, RegisterRequest{
		Filter:     Filter{Types: map[model.EventType]struct{}{model.EventChatSpam: {}}},
		MaxEvents:  2,
		BufferSize: 2,
	})
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}

	registry.ObserveDelivery(hub.Delivery{Channel: "audio", Message: model.MessageHypeEvent, Body: model.NewEnvelope(model.EventAudioSpike, model.AudioSpike{RMS: 0.5})})
	registry.ObserveDelivery(chatSpamDelivery(20))
	registry.ObserveDelivery(chatSpamDelivery(21))

	received := 0
	for rec := range session.Records() {
		received++
		if rec.Type != model.EventChatSpam || rec.SessionID != session.ID() || !rec.Delivered {
			t.Fatalf("unexpected record: %+v", rec)
		}
	}
	if received != 2 {
		t.Fatalf("expected 2 records, got %d", received)
	}

	if registry.HasActiveSessions() {
		t.Fatal("expected auto-deregister after max events")
	}
}

func TestRegistrySessionLimit(t *testing.T) {
	registry := NewRegistry(1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := registry.Register(ctx, RegisterRequest{}); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if _, err := registry.Register(ctx, RegisterRequest{}); !errors.Is(err, ErrSessionLimitReached) {
		t.Fatalf("expected ErrSessionLimitReached, got %v", err)
	}
}

func TestRegistryDeregistersOnContextCancel(t *testing.T) {
	registry := NewRegistry(1)
	ctx, cancel := context.WithCancel(context.Background())

	session, err := registry.Register(ctx, RegisterRequest{})
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	cancel()

	select {
	case <-session.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session not closed after cancel")
	}
	if registry.Len() != 0 {
		t.Fatalf("expected empty registry, got %d", registry.Len())
	}
}

func TestRegistryCountsDrops(t *testing.T) {
	registry := NewRegistry(1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	session, err := registry.Register(ctx, RegisterRequest{BufferSize: 1})
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	for i := 0; i < 5; i++ {
		registry.ObserveDelivery(chatSpamDelivery(20 + i))
	}
	if session.Sent() != 1 || session.Dropped() != 4 {
		t.Fatalf("expected 1 sent and 4 dropped, got %d and %d", session.Sent(), session.Dropped())
	}
}

func TestRegistryFastDropPath(t *testing.T) {
	registry := NewRegistry(1)
	for i := 0; i < 1000; i++ {
		registry.ObserveDelivery(chatSpamDelivery(i))
	}
}

func TestRecordFromDelivery(t *testing.T) {
	meta := model.NewClipMetadata("a.mp4", "https://cdn/a.mp4", 3, model.TriggerHub, time.Unix(100, 0))
	rec := RecordFromDelivery(hub.Delivery{
		Channel: "rest",
		Message: model.MessageClipUploaded,
		Body:    meta,
		Err:     errors.New("server returned 502"),
	})
	if rec.Delivered || rec.Error != "server returned 502" {
		t.Fatalf("expected failed record, got %+v", rec)
	}
	if rec.Type != model.EventClipUploaded || rec.Source != "rest" {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if rec.CapturedAt.IsZero() {
		t.Fatal("expected capture time")
	}
}
