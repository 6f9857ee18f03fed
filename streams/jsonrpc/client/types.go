package client

import (
	"encoding/json"
)

// Event types carried by SubscriptionEvent.Type.
const (
	EventFull = "full"
	EventDiff = "diff"
)

// SubscriptionEvent is the wrapper object received from the server. Payload
// is a stateops.State for EventFull and a stateops.StateDiff for EventDiff.
type SubscriptionEvent struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
	SentAt  int64           `json:"sentAt"` // unix nanoseconds
}
