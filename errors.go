package offlinecache

import "errors"

// Failure taxonomy for the interception layer. Every failure along the
// network, cache, offline-synthesis chain is recovered locally into a
// response; these values are used internally to pick the recovery path.
// The only error surfaced to the hosting application is ErrRetryExhausted,
// reported through the retry queue's event callback.
var (
	// ErrNetworkUnavailable means the origin could not be reached at all.
	ErrNetworkUnavailable = errors.New("network unavailable")
	// ErrTimeout means the origin did not answer within the bounded
	// network timeout.
	ErrTimeout = errors.New("network timeout")
	// ErrCacheMiss means no usable entry exists for the key.
	ErrCacheMiss = errors.New("cache miss")
	// ErrCacheEntryCorrupt means a stored entry could not be decoded.
	// It is always treated as a miss, never as a fatal error.
	ErrCacheEntryCorrupt = errors.New("cache entry corrupt")
	// ErrRetryExhausted means a queued request exceeded its attempt
	// budget and was dropped.
	ErrRetryExhausted = errors.New("retry attempts exhausted")
)
