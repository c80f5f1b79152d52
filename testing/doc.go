// Package testing provides test utilities for jobline.
//
// The helpers start an in-process NATS server with JetStream enabled so that
// consumer, reconciler, store and pipeline tests run without Docker or an
// external broker. It follows Go's convention of providing testing utilities
// in a dedicated package (similar to net/http/httptest).
//
// Key utilities:
//   - StartEmbeddedNATS: single NATS server with JetStream
//   - NewJetStream: JetStream context bound to the test connection
//   - CreateStream: create a stream and fail the test on error
//
// Example usage:
//
//	import jltesting "github.com/arloliu/jobline/testing"
//
//	func TestConsumer(t *testing.T) {
//	    _, nc := jltesting.StartEmbeddedNATS(t)
//	    js := jltesting.NewJetStream(t, nc)
//	    jltesting.CreateStream(t, js, jetstream.StreamConfig{Name: "JOBS", Subjects: []string{"jobs.>"}})
//	}
package testing
