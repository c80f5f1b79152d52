package subscription

import "errors"

var (
	// ErrAlreadyStarted is returned by Start on a running consumer.
	ErrAlreadyStarted = errors.New("durable consumer already started")

	// ErrNotStarted is returned by Stop on a consumer that is not running.
	ErrNotStarted = errors.New("durable consumer not started")
)
