package protocol

import "encoding/json"

// joinExercise (client -> server). The exercise id is either the participant
// id or the trainer id; the latter grants the trainer role. The response
// payload is the new client id.
type JoinExerciseMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocolVersion"`
	RequestID       string `json:"requestId"`
	ExerciseID      string `json:"exerciseId"`
	ClientName      string `json:"clientName"`
}

// proposeAction (client -> server). The response has no payload.
type ProposeActionMsg struct {
	Type      string          `json:"type"`
	RequestID string          `json:"requestId"`
	Action    json.RawMessage `json:"action"`
}

// getState (client -> server). The response payload is the full state.
type GetStateMsg struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId"`
}

// getPartialState (client -> server). The response payload is the set of
// elements associated with one simulated region.
type GetPartialStateMsg struct {
	Type              string `json:"type"`
	RequestID         string `json:"requestId"`
	SimulatedRegionID string `json:"simulatedRegionId"`
}

// response (server -> client) answers exactly one request.
type ResponseMsg struct {
	Type      string          `json:"type"`
	RequestID string          `json:"requestId"`
	Success   bool            `json:"success"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Message   string          `json:"message,omitempty"`
	Expected  bool            `json:"expected,omitempty"`
	Code      string          `json:"code,omitempty"`
}

// performAction (server -> client) broadcasts one applied action.
type PerformActionMsg struct {
	Type     string          `json:"type"`
	ClientID string          `json:"clientId,omitempty"`
	Action   json.RawMessage `json:"action"`
}

// OK builds a successful response. A nil payload is omitted.
func OK(requestID string, payload any) (ResponseMsg, error) {
	r := ResponseMsg{Type: TypeResponse, RequestID: requestID, Success: true}
	if payload == nil {
		return r, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return r, err
	}
	r.Payload = b
	return r, nil
}

// Fail builds a failed response.
func Fail(requestID, code, message string, expected bool) ResponseMsg {
	return ResponseMsg{
		Type:      TypeResponse,
		RequestID: requestID,
		Success:   false,
		Message:   message,
		Expected:  expected,
		Code:      code,
	}
}

// PerformAction builds the broadcast of an applied action. clientID names the
// proposer and is empty for actions of the server.
func PerformAction(action json.RawMessage, clientID string) PerformActionMsg {
	return PerformActionMsg{Type: TypePerformAction, ClientID: clientID, Action: action}
}
