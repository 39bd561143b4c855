package config

import "errors"

// Configuration validation errors, returned by Config.Validate.
var (
	// ErrNoProxy is returned when neither a proxy address nor the embedded
	// daemon is configured.
	ErrNoProxy = errors.New("no proxy configured: set --proxy or use --embedded-tor")

	// ErrInvalidTimeout is returned when the fetch timeout is not positive.
	ErrInvalidTimeout = errors.New("invalid timeout: must be positive")

	// ErrInvalidDepth is returned for a negative depth budget.
	ErrInvalidDepth = errors.New("invalid depth: must be non-negative")

	// ErrInvalidWorkers is returned when the worker count is not positive.
	ErrInvalidWorkers = errors.New("invalid worker count: must be positive")

	// ErrInvalidMaxBodySize is returned when the max body size is negative.
	// Use 0 for the default limit.
	ErrInvalidMaxBodySize = errors.New("invalid max body size: must be non-negative")

	// ErrNoIPCheckURL is returned when the anonymity check is enabled
	// without an endpoint.
	ErrNoIPCheckURL = errors.New("no IP check URL: set --ip-check-url or use --skip-ip-check")

	// ErrNoDBDir is returned when the database directory is empty.
	ErrNoDBDir = errors.New("no database directory configured")
)
