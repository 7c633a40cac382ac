package downlink

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidPayload is returned when a downlink payload is not valid JSON
// or is not a JSON object.
var ErrInvalidPayload = errors.New("downlink: invalid payload")

// Channel identifies which downlink subscription a message arrived on.
type Channel string

const (
	// ChannelCommands is the .../commands topic.
	ChannelCommands Channel = "commands"
	// ChannelConfig is the .../config topic.
	ChannelConfig Channel = "config"
	// ChannelUnknown is any other topic.
	ChannelUnknown Channel = "unknown"
)

// ChannelOf classifies a downlink topic by its last segment.
func ChannelOf(topic string) Channel {
	switch {
	case strings.HasSuffix(topic, "/"+string(ChannelCommands)):
		return ChannelCommands
	case strings.HasSuffix(topic, "/"+string(ChannelConfig)):
		return ChannelConfig
	default:
		return ChannelUnknown
	}
}

// Message is a decoded downlink.
type Message struct {
	Topic   string
	Channel Channel
	Payload Value
}

// Handler receives decoded downlinks.
//
// HandleDownlink is called from the MQTT client's delivery goroutine,
// concurrently with the publish loop. Implementations must not block for
// long and must synchronise any state they share with other goroutines.
type Handler interface {
	HandleDownlink(msg Message)
}

// HandlerFunc adapts an ordinary function to Handler.
type HandlerFunc func(msg Message)

// HandleDownlink calls f(msg).
func (f HandlerFunc) HandleDownlink(msg Message) { f(msg) }

// DecodePayload decodes a downlink payload. The top level must be a JSON object.
func DecodePayload(payload []byte) (Value, error) {
	v, err := Parse(payload)
	if err != nil {
		return Value{}, err
	}
	if v.Kind() != KindObject {
		return Value{}, fmt.Errorf("%w: expected object, got %s", ErrInvalidPayload, v.Kind())
	}
	return v, nil
}

// NewMQTTHandler adapts h to the MQTT client's raw message callback.
//
// Payloads that fail to decode are not passed to h; the returned error is
// reported by the MQTT client and the message is dropped. The session is
// never terminated by a bad downlink.
func NewMQTTHandler(h Handler) func(topic string, payload []byte) error {
	return func(topic string, payload []byte) error {
		v, err := DecodePayload(payload)
		if err != nil {
			return fmt.Errorf("could not parse message on %s: %w", topic, err)
		}

		h.HandleDownlink(Message{
			Topic:   topic,
			Channel: ChannelOf(topic),
			Payload: v,
		})
		return nil
	}
}

// Logger is the logging capability LogHandler needs.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Info(msg string, args ...any)
}

// LogHandler logs every downlink and does nothing else.
// Command and configuration semantics are left to the integrator.
type LogHandler struct {
	logger Logger
}

// NewLogHandler returns a Handler that logs downlinks to logger.
func NewLogHandler(logger Logger) *LogHandler {
	return &LogHandler{logger: logger}
}

// HandleDownlink implements Handler.
func (h *LogHandler) HandleDownlink(msg Message) {
	h.logger.Info("downlink received",
		"topic", msg.Topic,
		"channel", string(msg.Channel),
		"payload", msg.Payload.String(),
	)
}
