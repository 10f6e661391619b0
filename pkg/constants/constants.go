// Package constants defines magic numbers and default values shared across
// httpcore's packages.
package constants

import "time"

// Connection timeouts and limits
const (
	DefaultIdleTimeout    = 90 * time.Second
	DefaultConnTimeout    = 10 * time.Second
	DefaultReadTimeout    = 30 * time.Second
	DefaultPingInterval   = 15 * time.Second
	MaxConnectionIdleTime = 5 * time.Minute
	HealthCheckInterval   = 30 * time.Second
	CleanupInterval       = 30 * time.Second
)

// HTTP/2 limits
const (
	MaxTotalStreams       = 10000
	SettingsAckTimeout    = 10 * time.Second
	DefaultHpackTableSize = 4096
)

// HTTP limits
const (
	MaxContentLength = 1024 * 1024 * 1024 * 1024 // 1TB
)

// Buffer limits
const (
	DefaultBodyMemLimit = 4 * 1024 * 1024   // 4MB
	MaxRawBufferSize    = 100 * 1024 * 1024 // 100MB cap for raw buffer
)

// Request engine limits
const (
	// DiscardStreamTimeout bounds how long the engine will drain an unread
	// response body before giving up on reusing the connection.
	DiscardStreamTimeout = 100 * time.Millisecond

	// MaxFollowUps caps redirect/auth follow-up hops per logical call.
	MaxFollowUps = 20
)

// Dispatcher limits
const (
	DefaultMaxRequests        = 64
	DefaultMaxRequestsPerHost = 5
)

// Route database
const (
	// RouteBlacklistTTL is how long a failed route is postponed before being
	// retried as a first-choice route again.
	RouteBlacklistTTL = 10 * time.Minute
)
