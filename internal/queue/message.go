// Package queue carries ingestion task messages from the runner to workers.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
)

// TaskMessage asks a worker to ingest one endpoint for one run.
type TaskMessage struct {
	RunID            string `json:"runId"`
	SourceEndpointID string `json:"sourceEndpointId"`
	CorrelationID    string `json:"correlationId,omitempty"`
}

// Handler processes one delivered task. Delivery is at least once, so
// implementations must tolerate duplicates.
type Handler interface {
	Handle(ctx context.Context, msg TaskMessage)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, msg TaskMessage)

// Handle calls f(ctx, msg).
func (f HandlerFunc) Handle(ctx context.Context, msg TaskMessage) {
	f(ctx, msg)
}

// Encode serializes msg for the wire.
func Encode(msg TaskMessage) ([]byte, error) {
	return json.Marshal(msg)
}

// Decode parses a wire message and checks its required fields.
func Decode(data []byte) (TaskMessage, error) {
	var msg TaskMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return msg, fmt.Errorf("failed to decode task message: %w", err)
	}
	if msg.RunID == "" || msg.SourceEndpointID == "" {
		return msg, fmt.Errorf("task message missing runId or sourceEndpointId")
	}
	return msg, nil
}
