package obs

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
)

// Subprotocol is the JSON flavour of the OBS websocket v5 protocol.
const Subprotocol = "obswebsocket.json"

const rpcVersion = 1

const (
	opHello           = 0
	opIdentify        = 1
	opIdentified      = 2
	opEvent           = 5
	opRequest         = 6
	opRequestResponse = 7
)

// eventSubOutputs selects output events, which include ReplayBufferSaved.
const eventSubOutputs = 1 << 6

const (
	requestSaveReplayBuffer = "SaveReplayBuffer"
	eventReplayBufferSaved  = "ReplayBufferSaved"
)

type message struct {
	Op int             `json:"op"`
	D  json.RawMessage `json:"d"`
}

type hello struct {
	OBSWebSocketVersion string `json:"obsWebSocketVersion"`
	RPCVersion          int    `json:"rpcVersion"`
	Authentication      *struct {
		Challenge string `json:"challenge"`
		Salt      string `json:"salt"`
	} `json:"authentication,omitempty"`
}

type identify struct {
	RPCVersion         int    `json:"rpcVersion"`
	Authentication     string `json:"authentication,omitempty"`
	EventSubscriptions int    `json:"eventSubscriptions"`
}

type request struct {
	RequestType string `json:"requestType"`
	RequestID   string `json:"requestId"`
}

type requestStatus struct {
	Result  bool   `json:"result"`
	Code    int    `json:"code"`
	Comment string `json:"comment,omitempty"`
}

type requestResponse struct {
	RequestType   string        `json:"requestType"`
	RequestID     string        `json:"requestId"`
	RequestStatus requestStatus `json:"requestStatus"`
}

type event struct {
	EventType   string          `json:"eventType"`
	EventIntent int             `json:"eventIntent"`
	EventData   json.RawMessage `json:"eventData"`
}

type replayBufferSaved struct {
	SavedReplayPath string `json:"savedReplayPath"`
}

func encode(op int, d interface{}) (message, error) {
	raw, err := json.Marshal(d)
	if err != nil {
		return message{}, err
	}
	return message{Op: op, D: raw}, nil
}

// AuthResponse answers a Hello challenge:
// base64(sha256(base64(sha256(password + salt)) + challenge)).
func AuthResponse(password, salt, challenge string) string {
	secret := sha256.Sum256([]byte(password + salt))
	secretB64 := base64.StdEncoding.EncodeToString(secret[:])
	auth := sha256.Sum256([]byte(secretB64 + challenge))
	return base64.StdEncoding.EncodeToString(auth[:])
}
