package hub

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/utrack/hypelens/internal/model"
)

func TestEncodeEvent(t *testing.T) {
	frame, err := EncodeEvent(model.MessageHypeEvent, model.NewEnvelope(model.EventChatSpam, model.ChatSpam{Count: 20}))
	require.NoError(t, err)
	assert.Equal(t, `42["hype_event",{"type":"chat_spam","value":{"count":20}}]`, string(frame))

	frame, err = EncodeEvent("ping_me", nil)
	require.NoError(t, err)
	assert.Equal(t, `42["ping_me"]`, string(frame))
}

func TestDecodePacket(t *testing.T) {
	p, err := DecodePacket([]byte(`42["trigger_clip",{"score":12}]`))
	require.NoError(t, err)
	assert.Equal(t, byte(engineMessage), p.Engine)
	assert.Equal(t, byte(socketEvent), p.Socket)
	assert.Equal(t, "trigger_clip", p.Event)
	assert.JSONEq(t, `{"score":12}`, string(p.Data))

	p, err = DecodePacket([]byte(`42["trigger_clip"]`))
	require.NoError(t, err)
	assert.Equal(t, "trigger_clip", p.Event)
	assert.Nil(t, p.Data)

	p, err = DecodePacket([]byte(`4217["trigger_clip",{}]`))
	require.NoError(t, err)
	assert.Equal(t, "trigger_clip", p.Event)

	p, err = DecodePacket([]byte(`0{"sid":"abc","pingInterval":25000}`))
	require.NoError(t, err)
	assert.Equal(t, byte(engineOpen), p.Engine)

	p, err = DecodePacket([]byte(`2`))
	require.NoError(t, err)
	assert.Equal(t, byte(enginePing), p.Engine)

	p, err = DecodePacket([]byte(`40{"sid":"x"}`))
	require.NoError(t, err)
	assert.Equal(t, byte(socketConnect), p.Socket)

	for _, bad := range []string{"", "4", `42not-json`, `42[]`, `42/admin,["x"]`} {
		_, err := DecodePacket([]byte(bad))
		assert.ErrorIs(t, err, ErrMalformedFrame, bad)
	}
}

func TestSocketURL(t *testing.T) {
	cases := map[string]string{
		"http://localhost:3001":    "ws://localhost:3001/socket.io/?EIO=4&transport=websocket",
		"https://hub.example.com/": "wss://hub.example.com/socket.io/?EIO=4&transport=websocket",
		"ws://10.0.0.2:3001/base":  "ws://10.0.0.2:3001/base/socket.io/?EIO=4&transport=websocket",
		"wss://hub.example.com":    "wss://hub.example.com/socket.io/?EIO=4&transport=websocket",
	}
	for in, want := range cases {
		got, err := SocketURL(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := SocketURL("ftp://example.com")
	assert.Error(t, err)
	_, err = SocketURL("http://")
	assert.Error(t, err)
}

func TestHTTPBase(t *testing.T) {
	assert.Equal(t, "http://localhost:3001", HTTPBase("ws://localhost:3001"))
	assert.Equal(t, "https://hub.example.com", HTTPBase("wss://hub.example.com/"))
	assert.Equal(t, "http://localhost:3001", HTTPBase("http://localhost:3001"))
}
