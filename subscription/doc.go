// Package subscription provides a durable JetStream pull consumer with
// retry classification and dead-letter routing.
//
// A DurableConsumer fetches batches from a durable consumer, hands each
// message to a Handler and converts the outcome into exactly one
// acknowledgement decision:
//
//   - success: ack
//   - retryable failure (transient infrastructure errors): nak with delay
//     until the delivery threshold, then dead-letter with reason max_deliver
//   - non-retryable failure (validation, business rule, panic): dead-letter
//     on first occurrence
//
// No handler error or panic ever stops the consume loop.
package subscription
