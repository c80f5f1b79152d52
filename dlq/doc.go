// Package dlq decides what happens to a consumed message and routes poison
// messages to a dead-letter subject.
//
// Decide is a pure function of payload validity and delivery count. Messages
// that fail validation, fail permanently or exhaust their delivery budget are
// wrapped in an Envelope and published once to the dead-letter subject, where
// the pipeline never retries them.
package dlq
