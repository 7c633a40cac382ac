package mqtt

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/akenza-io/mqtt-device/internal/downlink"
)

// State represents the connection manager state.
type State int

const (
	// StateDisconnected means no connection is established.
	StateDisconnected State = iota
	// StateConnecting means a connection attempt or backoff wait is in progress.
	StateConnecting
	// StateConnected means the connection is established and subscriptions are active.
	StateConnected
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	default:
		return "UNKNOWN"
	}
}

// Connector is a single broker connection. *Client implements it.
type Connector interface {
	// Connect makes one attempt. Failures must be classified so that
	// IsRetryable can tell transient from fatal errors.
	Connect(ctx context.Context) error
	Subscribe(topic string, qos byte, handler MessageHandler) error
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
	Close() error
}

// disconnectNotifier is implemented by connectors that report an
// established connection dropping.
type disconnectNotifier interface {
	SetOnDisconnect(callback func(err error))
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	// DeviceID selects the device topics.
	DeviceID string

	// Policy is the retry policy. Zero value means DefaultPolicy.
	Policy Policy

	// QoS for subscriptions and telemetry.
	QoS byte

	// Handler receives decoded downlinks. Defaults to a LogHandler.
	Handler downlink.Handler

	// Logger defaults to a no-op logger.
	Logger Logger

	// Sleep defaults to a context-aware timer. Tests replace it to run
	// the retry loop without real waiting.
	Sleep SleepFunc
}

// Manager owns connection establishment: retry with bounded backoff,
// then subscription to the downlink topics.
type Manager struct {
	conn     Connector
	deviceID string
	policy   Policy
	qos      byte
	handler  downlink.Handler
	logger   Logger
	sleep    SleepFunc

	state   State
	stateMu sync.RWMutex
}

// NewManager creates a manager around conn.
func NewManager(conn Connector, opts ManagerOptions) *Manager {
	m := &Manager{
		conn:     conn,
		deviceID: opts.DeviceID,
		policy:   opts.Policy,
		qos:      opts.QoS,
		handler:  opts.Handler,
		logger:   opts.Logger,
		sleep:    opts.Sleep,
		state:    StateDisconnected,
	}

	if m.policy == (Policy{}) {
		m.policy = DefaultPolicy()
	}
	if m.logger == nil {
		m.logger = nopLogger{}
	}
	if m.handler == nil {
		m.handler = downlink.NewLogHandler(m.logger)
	}
	if m.sleep == nil {
		m.sleep = sleepContext
	}

	if n, ok := conn.(disconnectNotifier); ok {
		n.SetOnDisconnect(m.connectionLost)
	}

	return m
}

// connectionLost records a dropped session. There is no reconnect.
func (m *Manager) connectionLost(err error) {
	m.setState(StateDisconnected)
	m.logger.Error("MQTT session ended", "error", err)
}

// State returns the current manager state.
func (m *Manager) State() State {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return m.state
}

func (m *Manager) setState(s State) {
	m.stateMu.Lock()
	m.state = s
	m.stateMu.Unlock()
}

// Connect establishes the connection and subscribes to the downlink topics.
//
// Retryable failures (see IsRetryable) are retried after the policy's wait;
// the total time spent waiting is bounded by Policy.MaxElapsed. Any other
// failure is returned immediately. When the budget runs out the last
// connection error is returned wrapped with ErrRetryBudgetExhausted.
func (m *Manager) Connect(ctx context.Context) (*Session, error) {
	m.setState(StateConnecting)

	if err := m.connectWithRetry(ctx); err != nil {
		m.setState(StateDisconnected)
		return nil, err
	}

	if err := m.subscribe(); err != nil {
		_ = m.conn.Close()
		m.setState(StateDisconnected)
		return nil, err
	}

	m.setState(StateConnected)
	return &Session{
		conn:    m.conn,
		manager: m,
		topic:   Topics{}.Uplink(m.deviceID),
		qos:     m.qos,
	}, nil
}

func (m *Manager) connectWithRetry(ctx context.Context) error {
	interval := m.policy.Initial
	var elapsed time.Duration
	var lastErr error

	for attempt := 1; !m.policy.Exhausted(elapsed); attempt++ {
		err := m.conn.Connect(ctx)
		if err == nil {
			m.logger.Info("MQTT connected", "attempt", attempt, "elapsed", elapsed)
			return nil
		}
		lastErr = err

		if !IsRetryable(err) {
			m.logger.Error("MQTT connect failed", "attempt", attempt, "error", err)
			return err
		}

		m.logger.Warn("MQTT connect failed, retrying",
			"attempt", attempt,
			"retry_in", interval,
			"elapsed", elapsed,
			"error", err,
		)

		if err := m.sleep(ctx, interval); err != nil {
			return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
		}
		elapsed += interval
		interval = m.policy.Next(interval)
	}

	return fmt.Errorf("%w after %v: %w", ErrRetryBudgetExhausted, elapsed, lastErr)
}

// subscribe registers the downlink handler on config then commands.
func (m *Manager) subscribe() error {
	handler := downlink.NewMQTTHandler(m.handler)

	for _, topic := range (Topics{}).Downlinks(m.deviceID) {
		if err := m.conn.Subscribe(topic, m.qos, handler); err != nil {
			return fmt.Errorf("subscribing to %s: %w", topic, err)
		}
		m.logger.Info("MQTT subscribed", "topic", topic, "qos", m.qos)
	}

	return nil
}

// Session is an established device connection.
type Session struct {
	conn    Connector
	manager *Manager
	topic   string
	qos     byte

	closeOnce sync.Once
	closeErr  error
}

// Topic returns the uplink topic telemetry is published to.
func (s *Session) Topic() string {
	return s.topic
}

// PublishTelemetry publishes payload on the device uplink topic.
func (s *Session) PublishTelemetry(payload []byte) error {
	return s.conn.Publish(s.topic, payload, s.qos, false)
}

// IsConnected reports whether the underlying connection is up.
func (s *Session) IsConnected() bool {
	return s.conn.IsConnected()
}

// Close disconnects. Safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.conn.Close()
		s.manager.setState(StateDisconnected)
	})
	return s.closeErr
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type nopLogger struct{}

func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
