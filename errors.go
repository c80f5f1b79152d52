package jobline

import (
	"errors"

	"github.com/arloliu/jobline/types"
)

// Sentinel errors returned by the Pipeline.
var (
	// ErrInvalidConfig is returned when the configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrNATSConnectionRequired is returned when the NATS connection is nil.
	ErrNATSConnectionRequired = errors.New("NATS connection is required")

	// ErrGeneratorRequired is returned when no generator is supplied.
	ErrGeneratorRequired = errors.New("generator is required")

	// ErrAlreadyStarted is returned when Start is called on a running pipeline.
	ErrAlreadyStarted = errors.New("pipeline already started")

	// ErrNotStarted is returned when Stop is called on a pipeline that is not running.
	ErrNotStarted = errors.New("pipeline not started")

	// ErrNoIngestHandler is returned for ingest messages when no ingest
	// handler is configured. Such messages are dead-lettered.
	ErrNoIngestHandler = errors.New("no ingest handler configured")
)

// Re-exported error taxonomy.
var (
	ErrTransient         = types.ErrTransient
	ErrValidation        = types.ErrValidation
	ErrNonRetryable      = types.ErrNonRetryable
	ErrTimeout           = types.ErrTimeout
	ErrPersistence       = types.ErrPersistence
	ErrJobNotFound       = types.ErrJobNotFound
	ErrInvalidTransition = types.ErrInvalidTransition
	ErrGateReset         = types.ErrGateReset
)
