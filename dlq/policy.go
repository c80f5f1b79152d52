package dlq

// DefaultMaxDeliver is the delivery count at which an invalid message is
// dead-lettered instead of retried.
const DefaultMaxDeliver = 5

// Action is the acknowledgement decision for one message.
type Action int

const (
	// ActionAck acknowledges the message; it will not be redelivered.
	ActionAck Action = iota
	// ActionNak negatively acknowledges the message for redelivery.
	ActionNak
	// ActionDLQ routes the message to the dead-letter subject and acknowledges it.
	ActionDLQ
)

// String returns the lowercase action name.
func (a Action) String() string {
	switch a {
	case ActionAck:
		return "ack"
	case ActionNak:
		return "nak"
	case ActionDLQ:
		return "dlq"
	default:
		return "unknown"
	}
}

// Policy decides message actions against a configured delivery threshold.
type Policy struct {
	// MaxDeliver is the delivery count at which retrying stops.
	// Values below 1 fall back to DefaultMaxDeliver.
	MaxDeliver int
}

// Decide returns the action for a message.
//
// Parameters:
//   - valid: whether the message was processed successfully
//   - deliveryCount: how many times the message has been delivered, including this one
//
// Returns:
//   - Action: ActionAck when valid, ActionNak while deliveryCount is below the
//     threshold, ActionDLQ once it is reached
func (p Policy) Decide(valid bool, deliveryCount int) Action {
	if valid {
		return ActionAck
	}

	maxDeliver := p.MaxDeliver
	if maxDeliver < 1 {
		maxDeliver = DefaultMaxDeliver
	}

	if deliveryCount >= maxDeliver {
		return ActionDLQ
	}

	return ActionNak
}

// Decide applies the default policy with a threshold of DefaultMaxDeliver.
func Decide(valid bool, deliveryCount int) Action {
	return Policy{MaxDeliver: DefaultMaxDeliver}.Decide(valid, deliveryCount)
}
