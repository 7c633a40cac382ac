package mqtt

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"syscall"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/eclipse/paho.mqtt.golang/packets"

	"github.com/akenza-io/mqtt-device/internal/auth"
	"github.com/akenza-io/mqtt-device/internal/infrastructure/config"
)

// Client wraps paho.mqtt.golang for a single device connection.
//
// A Client is created disconnected. Connect performs exactly one attempt and
// classifies its failure; retrying is the Manager's job.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Client struct {
	client  pahomqtt.Client
	options *pahomqtt.ClientOptions
	cfg     config.MQTTConfig

	// connected tracks current connection state.
	connected bool
	connMu    sync.RWMutex

	// onDisconnect is invoked when an established connection drops.
	onDisconnect func(err error)
	callbackMu   sync.RWMutex

	// logger for error/panic logging (optional, set via SetLogger).
	logger   Logger
	loggerMu sync.RWMutex
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// MessageHandler is the callback signature for received messages.
//
// Handlers are invoked in separate goroutines by the paho library.
// They should not block for extended periods.
//
// Returns:
//   - error: Logged but does not affect message acknowledgment
type MessageHandler func(topic string, payload []byte) error

// NewClient prepares a device connection to the configured broker.
//
// The client id is the device id and the password is the signed token.
// Nothing is dialled until Connect is called.
func NewClient(cfg config.MQTTConfig, deviceID string, cred *auth.Credential) (*Client, error) {
	if cred == nil || cred.Token == "" {
		return nil, fmt.Errorf("%w: missing device credential", ErrConnectionFailed)
	}

	tlsConfig, err := buildTLSConfig(cfg.Broker)
	if err != nil {
		return nil, err
	}

	opts := buildClientOptions(cfg, deviceID, cred.Token, tlsConfig)

	c := &Client{
		cfg:     cfg,
		options: opts,
	}

	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		c.setConnected(true)
	})

	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.handleDisconnect(err)
	})

	c.client = pahomqtt.NewClient(opts)
	return c, nil
}

// Connect makes a single connection attempt.
//
// The attempt is bounded by the configured connect timeout (enforced by
// paho for dial, TLS handshake and CONNACK) and by ctx. Failures are
// wrapped with ErrConnectionLost, ErrServerUnreachable or
// ErrConnectionFailed; use IsRetryable to decide what to do next.
func (c *Client) Connect(ctx context.Context) error {
	token := c.client.Connect()

	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrConnectionFailed, ctx.Err())
	}

	if err := token.Error(); err != nil {
		return classifyConnectError(err)
	}

	// The OnConnectHandler callback runs asynchronously and may not have
	// executed yet.
	c.setConnected(true)
	return nil
}

// classifyConnectError maps a paho connect failure onto the package errors.
//
// Connection lost: the broker or network closed the socket mid-handshake.
// Server unreachable: refused dials and CONNACK "server unavailable".
// Anything else (refused credentials, TLS verification, unknown host,
// connect timeout) is not retryable.
func classifyConnectError(err error) error {
	switch {
	case isTLSFailure(err), isUnresolvedOrTimedOut(err):
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	case isConnectionLost(err):
		return fmt.Errorf("%w: %w", ErrConnectionLost, err)
	case isServerUnreachable(err):
		return fmt.Errorf("%w: %w", ErrServerUnreachable, err)
	default:
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
}

func isTLSFailure(err error) bool {
	var verifyErr *tls.CertificateVerificationError
	var authorityErr x509.UnknownAuthorityError
	var hostnameErr x509.HostnameError
	var invalidErr x509.CertificateInvalidError
	if errors.As(err, &verifyErr) || errors.As(err, &authorityErr) ||
		errors.As(err, &hostnameErr) || errors.As(err, &invalidErr) {
		return true
	}

	// Paho may flatten network errors into a string, and remote TLS alerts
	// arrive as net.OpError.
	msg := err.Error()
	return strings.Contains(msg, "tls: ") || strings.Contains(msg, "x509: ")
}

func isUnresolvedOrTimedOut(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := err.Error()
	return strings.Contains(msg, "no such host") || strings.Contains(msg, "i/o timeout")
}

func isConnectionLost(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE)
}

func isServerUnreachable(err error) bool {
	if errors.Is(err, packets.ErrorRefusedServerUnavailable) ||
		errors.Is(err, packets.ErrorNetworkError) ||
		errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	return strings.HasPrefix(err.Error(), packets.ErrorNetworkError.Error())
}

// handleDisconnect is called when an established connection is lost.
// The connection is not re-established.
func (c *Client) handleDisconnect(err error) {
	c.setConnected(false)

	if logger := c.getLogger(); logger != nil {
		logger.Warn("MQTT connection lost", "error", err)
	}

	c.callbackMu.RLock()
	callback := c.onDisconnect
	c.callbackMu.RUnlock()
	if callback != nil {
		callback(err)
	}
}

func (c *Client) setConnected(v bool) {
	c.connMu.Lock()
	c.connected = v
	c.connMu.Unlock()
}

// Close disconnects from the broker.
//
// Returns:
//   - error: always nil; a connection that is already closed is not an error
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}

	// Disconnect with quiesce period for in-flight acknowledgements
	if c.client.IsConnected() {
		c.client.Disconnect(defaultDisconnectQuiesce)
	}

	c.setConnected(false)
	return nil
}

// IsConnected returns the current connection state.
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected && c.client.IsConnected()
}

// SetOnDisconnect sets a callback invoked once an established connection
// drops. NewManager installs one to track its State.
func (c *Client) SetOnDisconnect(callback func(err error)) {
	c.callbackMu.Lock()
	c.onDisconnect = callback
	c.callbackMu.Unlock()
}

// SetLogger sets a logger for error and panic logging.
// If not set, errors in handlers are silently ignored.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

// getLogger returns the current logger (may be nil).
func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

// wrapHandler wraps a MessageHandler with panic recovery and optional logging.
func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				if logger := c.getLogger(); logger != nil {
					logger.Error("MQTT handler panic recovered",
						"topic", msg.Topic(),
						"panic", r,
					)
				}
			}
		}()

		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			if logger := c.getLogger(); logger != nil {
				logger.Warn("MQTT handler returned error",
					"topic", msg.Topic(),
					"error", err,
				)
			}
		}
	}
}
