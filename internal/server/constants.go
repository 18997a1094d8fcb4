// Package server exposes the manager over HTTP and a WebSocket event stream.
package server

import "time"

// Server configuration constants
const (
	// Per-connection WebSocket command limit (sliding window)
	RateLimitMessages = 10
	RateLimitWindow   = time.Second

	// Upper bound for JSON request bodies
	MaxRequestBytes = 64 << 10

	// Broadcast writes to a slow client are abandoned after this long
	WriteTimeout = 5 * time.Second

	DefaultEventLimit = 50
)
