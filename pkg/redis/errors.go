package redis

import "errors"

var (
	// ErrCacheDisabled is returned by every operation of a manager whose
	// config has Enabled false. Sessions treat it as "nothing to do".
	ErrCacheDisabled = errors.New("row cache is disabled")

	ErrClientNotInitialized = errors.New("redis client not initialized")

	// ErrKeyNotFound is returned by Get on a miss
	ErrKeyNotFound = errors.New("row not cached")

	// ErrConnectionFailed wraps the error of a failed Ping
	ErrConnectionFailed = errors.New("redis connection failed")

	// ErrSerializationFailed is returned when a row snapshot cannot be msgpack encoded or decoded
	ErrSerializationFailed = errors.New("row snapshot serialization failed")
)

// IsCacheDisabled reports whether err comes from a disabled cache
func IsCacheDisabled(err error) bool {
	return errors.Is(err, ErrCacheDisabled)
}

// IsKeyNotFound reports whether err is a cache miss
func IsKeyNotFound(err error) bool {
	return errors.Is(err, ErrKeyNotFound)
}

// IsConnectionFailed reports whether err comes from an unreachable server
func IsConnectionFailed(err error) bool {
	return errors.Is(err, ErrConnectionFailed)
}

// IsSerializationFailed reports whether a row snapshot could not be encoded or decoded
func IsSerializationFailed(err error) bool {
	return errors.Is(err, ErrSerializationFailed)
}
