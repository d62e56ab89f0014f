package update

import (
	"bytes"

	"github.com/bytedance/sonic"
)

const skipWaiting = "SKIP_WAITING"

// ActivationMessage is the canonical wire shape of the activation signal.
type ActivationMessage struct {
	Type string `json:"type"`
}

// IsActivationMessage reports whether a raw frame is the activation signal.
// Two shapes are accepted as a closed, stable wire contract: the bare string
// "SKIP_WAITING" (raw or JSON-encoded) and an object with a matching "type"
// field. Older clients send the bare string.
func IsActivationMessage(data []byte) bool {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return false
	}

	if string(trimmed) == skipWaiting {
		return true
	}

	var s string
	if err := sonic.Unmarshal(trimmed, &s); err == nil {
		return s == skipWaiting
	}

	var msg ActivationMessage
	if err := sonic.Unmarshal(trimmed, &msg); err == nil {
		return msg.Type == skipWaiting
	}
	return false
}

// NewActivationPayload encodes the object form of the activation signal.
func NewActivationPayload() []byte {
	payload, _ := sonic.Marshal(ActivationMessage{Type: skipWaiting})
	return payload
}
