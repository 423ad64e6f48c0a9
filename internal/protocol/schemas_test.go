package protocol_test

import (
	"encoding/json"
	"testing"

	"manvsim.ai/internal/protocol"
)

func TestSchemas_ValidateSamples(t *testing.T) {
	valid := []string{
		`{"type":"joinExercise","protocolVersion":"1.0","requestId":"1","exerciseId":"123456","clientName":"Trainer A"}`,
		`{"type":"joinExercise","protocolVersion":"1.0","requestId":"1","exerciseId":"12345678","clientName":"Trainer A"}`,
		`{"type":"proposeAction","requestId":"2","action":{"type":"[Exercise] Start","timestamp":0}}`,
		`{"type":"getState","requestId":"3"}`,
		`{"type":"getPartialState","requestId":"4","simulatedRegionId":"r1"}`,
		`{"type":"response","requestId":"2","success":false,"message":"no","expected":true,"code":"E_CONFLICT"}`,
		`{"type":"response","requestId":"3","success":true,"payload":{"participantId":"123456"}}`,
		`{"type":"performAction","action":{"type":"[Exercise] Tick"}}`,
		`{"type":"performAction","clientId":"c1","action":{"type":"[Exercise] Pause"}}`,
	}
	for _, raw := range valid {
		if _, err := protocol.Validate([]byte(raw)); err != nil {
			t.Fatalf("validate %s: %v", raw, err)
		}
	}

	invalid := []string{
		`{"type":"joinExercise","protocolVersion":"1.0","requestId":"1","exerciseId":"1234567","clientName":"x"}`,
		`{"type":"joinExercise","protocolVersion":"1.0","requestId":"1","exerciseId":"123456","clientName":""}`,
		`{"type":"proposeAction","requestId":"2","action":"tick"}`,
		`{"type":"getState"}`,
		`{"type":"response","requestId":"2","success":false}`,
		`{"type":"HELLO"}`,
		`not json`,
	}
	for _, raw := range invalid {
		if _, err := protocol.Validate([]byte(raw)); err == nil {
			t.Fatalf("expected %s to be rejected", raw)
		}
	}
}

func TestResponsesMatchSchema(t *testing.T) {
	ok, err := protocol.OK("7", map[string]string{"clientId": "c1"})
	if err != nil {
		t.Fatalf("OK: %v", err)
	}
	for _, v := range []any{
		ok,
		protocol.Fail("8", protocol.ErrNotJoined, "join an exercise first", false),
		protocol.PerformAction(json.RawMessage(`{"type":"[Exercise] Pause","timestamp":1}`), ""),
		protocol.PerformAction(json.RawMessage(`{"type":"[Exercise] Pause","timestamp":1}`), "c1"),
	} {
		b, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		if _, err := protocol.Validate(b); err != nil {
			t.Fatalf("validate %s: %v", b, err)
		}
	}
}
