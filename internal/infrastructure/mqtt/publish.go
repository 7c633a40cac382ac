package mqtt

import (
	"fmt"
)

// maxPayloadSize bounds a single uplink payload.
const maxPayloadSize = 1 << 20

// Publish sends payload on topic and, at QoS 1, blocks until the broker's
// PUBACK or defaultPublishTimeout.
//
// The device only publishes telemetry on its uplink topic, unretained; the
// retained flag exists for Connector fakes and tests. A failed publish is
// not retried here.
//
// Returns:
//   - error: ErrInvalidTopic, ErrInvalidQoS, ErrNotConnected, or
//     ErrPublishFailed wrapping an oversize payload, timeout or broker error
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}

	return nil
}
