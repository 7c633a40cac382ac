package mqtt

import "errors"

// Domain-specific errors for MQTT operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotConnected is returned when attempting operations on a disconnected client.
	ErrNotConnected = errors.New("mqtt: client not connected")

	// ErrConnectionFailed is returned when a connection attempt fails for a
	// reason that retrying will not fix (bad credentials, TLS verification,
	// protocol errors).
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	// ErrConnectionLost is returned when the broker closed or reset the
	// connection during the handshake. Retryable.
	ErrConnectionLost = errors.New("mqtt: connection lost")

	// ErrServerUnreachable is returned when the broker could not be reached
	// or reported itself unavailable. Retryable.
	ErrServerUnreachable = errors.New("mqtt: server unreachable")

	// ErrRetryBudgetExhausted is returned when retryable failures kept
	// occurring until the total backoff time reached its ceiling.
	ErrRetryBudgetExhausted = errors.New("mqtt: connect retry budget exhausted")

	// ErrPublishFailed is returned when a publish operation fails.
	ErrPublishFailed = errors.New("mqtt: publish failed")

	// ErrSubscribeFailed is returned when a subscribe operation fails.
	ErrSubscribeFailed = errors.New("mqtt: subscribe failed")

	// ErrInvalidQoS is returned when an unsupported QoS level is specified.
	// Valid QoS levels are 0 and 1.
	ErrInvalidQoS = errors.New("mqtt: invalid QoS level (must be 0 or 1)")

	// ErrInvalidTopic is returned when an empty topic is provided.
	ErrInvalidTopic = errors.New("mqtt: topic cannot be empty")

	// ErrInvalidTLSConfig is returned when the CA bundle cannot be used.
	ErrInvalidTLSConfig = errors.New("mqtt: invalid TLS configuration")
)

// IsRetryable reports whether a connect error should be retried with backoff.
// Only lost connections and unreachable servers qualify; everything else is fatal.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConnectionLost) || errors.Is(err, ErrServerUnreachable)
}
