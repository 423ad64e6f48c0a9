// Package protocol defines the websocket frames exchanged between exercise
// clients and the server.
package protocol

import "encoding/json"

const Version = "1.0"

// Message types.
const (
	TypeJoinExercise    = "joinExercise"
	TypeProposeAction   = "proposeAction"
	TypeGetState        = "getState"
	TypeGetPartialState = "getPartialState"

	TypeResponse      = "response"
	TypePerformAction = "performAction"
)

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocolVersion,omitempty"`
	RequestID       string `json:"requestId,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}
