package fetcher

import "errors"

// Upstream failure classes. Every error the client produces wraps exactly one of them.
var (
	// ErrUpstreamUnavailable covers transport errors, timeouts and an open circuit.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrUpstreamRejected is a non-2xx response.
	ErrUpstreamRejected = errors.New("upstream rejected request")
	// ErrUpstreamMalformed is a 2xx response without the expected shape.
	ErrUpstreamMalformed = errors.New("upstream response malformed")
)
