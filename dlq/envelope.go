package dlq

import (
	"encoding/json"
	"fmt"
	"time"
)

// Dead-letter reason codes.
const (
	ReasonSchemaInvalid = "schema_invalid"
	ReasonMaxDeliver    = "max_deliver"
	ReasonNonRetryable  = "non_retryable"
)

// Envelope wraps a dead-lettered message with its delivery context.
type Envelope struct {
	Payload        []byte    `json:"payload"`
	Subject        string    `json:"subject"`
	Consumer       string    `json:"consumer"`
	Stream         string    `json:"stream"`
	StreamSequence uint64    `json:"streamSequence"`
	DeliveryCount  int       `json:"deliveryCount"`
	Reason         string    `json:"reason"`
	Error          string    `json:"error,omitempty"`
	DeadLetteredAt time.Time `json:"deadLetteredAt"`
}

// Marshal encodes the envelope as JSON.
func (e *Envelope) Marshal() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal dlq envelope: %w", err)
	}

	return data, nil
}

// UnmarshalEnvelope decodes a JSON envelope.
func UnmarshalEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to unmarshal dlq envelope: %w", err)
	}

	return &env, nil
}
