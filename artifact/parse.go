package artifact

import (
	"encoding/json"
	"fmt"
)

// ParseNATSMessage unwraps a pipeline payload from wire bytes. It accepts
// both BaseMessage-wrapped JSON (the normal component-to-component format)
// and raw payload JSON, so consumers keep working when a producer publishes
// without the envelope.
func ParseNATSMessage[T any](data []byte) (*T, error) {
	var envelope struct {
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &envelope); err == nil && len(envelope.Payload) > 0 {
		var payload T
		if err := json.Unmarshal(envelope.Payload, &payload); err != nil {
			return nil, fmt.Errorf("unmarshal wrapped payload: %w", err)
		}
		return &payload, nil
	}

	var payload T
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	return &payload, nil
}
