// Package eventbus publishes terminal job events.
//
// Implementations of types.EventBus:
//
//   - NATSBus: core NATS publish, or JetStream publish with message-id
//     deduplication when a JetStream context is supplied
//   - RedisBus: Redis PUBLISH
//   - Recorder: in-memory, for tests
//   - Fanout: publishes to several buses
//
// Payloads are encoded with a Codec (JSON or msgpack).
package eventbus
