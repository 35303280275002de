package controller

import "errors"

// Option validation failures, returned from New.
var (
	ErrInvalidMaximumPoolSize        = errors.New("connpool: maximumPoolSize must be > 0")
	ErrInvalidMinimumIdle            = errors.New("connpool: minimumIdle must not exceed maximumPoolSize")
	ErrInvalidConnectionTimeout      = errors.New("connpool: connectionTimeout must be >= 250ms")
	ErrInvalidValidationTimeout      = errors.New("connpool: validationTimeout must not exceed connectionTimeout")
	ErrInvalidLeakDetectionThreshold = errors.New("connpool: leakDetectionThreshold must be 0 or >= 2s")
)

// Runtime acquisition failures.
var (
	// ErrTimeout is returned by Acquire when no entry became available
	// before the deadline, and the pool was not empty (i.e. connections
	// existed or were being attempted, they just weren't handed off in
	// time).
	ErrTimeout = errors.New("connpool: timed out waiting for a connection")

	// ErrConnectionFailure is returned instead of ErrTimeout when the
	// deadline is reached and the pool holds zero connections — the
	// borrower is told about the underlying dial failure instead of a
	// generic timeout, per spec §4.4.
	ErrConnectionFailure = errors.New("connpool: pool is empty and connection creation is failing")

	// ErrPoolClosed is returned by Acquire and AcquireTimeout once Close
	// has run, including to borrowers that were already waiting when it
	// ran.
	ErrPoolClosed = errors.New("connpool: pool is closed")

	// ErrPoolSuspendedTimeout is returned when the pool is suspended and
	// remains so past the acquisition deadline.
	ErrPoolSuspendedTimeout = errors.New("connpool: pool suspended beyond acquisition deadline")

	// ErrSuspensionNotAllowed is returned by SuspendPool when the
	// controller was not configured with AllowPoolSuspension.
	ErrSuspensionNotAllowed = errors.New("connpool: pool suspension is not enabled")
)
