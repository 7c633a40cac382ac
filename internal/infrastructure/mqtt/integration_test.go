package mqtt

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/akenza-io/mqtt-device/internal/downlink"
	"github.com/akenza-io/mqtt-device/internal/infrastructure/mqtt/mqtttest"
)

// Integration tests run the Manager against an in-process TLS broker that
// verifies device tokens.

func fastPolicy() Policy {
	return Policy{
		Initial:    20 * time.Millisecond,
		Max:        100 * time.Millisecond,
		Multiplier: 1.5,
		MaxElapsed: 10 * time.Second,
	}
}

type connectResult struct {
	session *Session
	err     error
}

// TestIntegration_RetryUntilBrokerUp points the device at a broker that is
// not listening yet and starts it while the manager is backing off.
func TestIntegration_RetryUntilBrokerUp(t *testing.T) {
	dev := newTestDevice(t, "dev-late")
	broker := mqtttest.New(t, mqtttest.Options{
		PublicKey: &dev.key.PublicKey,
		Audience:  testAudience,
	})

	client, err := NewClient(testConfig(broker), dev.id, dev.cred)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	logger := &recordingLogger{}
	m := NewManager(client, ManagerOptions{
		DeviceID: dev.id,
		Policy:   fastPolicy(),
		QoS:      1,
		Logger:   logger,
	})

	done := make(chan connectResult, 1)
	go func() {
		s, err := m.Connect(context.Background())
		done <- connectResult{s, err}
	}()

	time.Sleep(300 * time.Millisecond)
	broker.Start()

	select {
	case res := <-done:
		if res.err != nil {
			t.Fatalf("Connect() error = %v", res.err)
		}
		defer res.session.Close()
	case <-time.After(15 * time.Second):
		t.Fatal("timeout waiting for Connect()")
	}

	logger.mu.Lock()
	retries := len(logger.warns)
	logger.mu.Unlock()
	if retries == 0 {
		t.Error("expected at least one retry before the broker came up")
	}
	if m.State() != StateConnected {
		t.Errorf("State() = %v, want CONNECTED", m.State())
	}
}

// TestIntegration_BadTokenFailsFast checks refused credentials are not retried.
func TestIntegration_BadTokenFailsFast(t *testing.T) {
	dev := newTestDevice(t, "dev-refused")
	other := newTestDevice(t, "dev-refused")
	broker := startBroker(t, other)

	client, err := NewClient(testConfig(broker), dev.id, dev.cred)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	m := NewManager(client, ManagerOptions{DeviceID: dev.id, Policy: fastPolicy(), QoS: 1})

	start := time.Now()
	_, err = m.Connect(context.Background())
	if err == nil {
		t.Fatal("Connect() expected error")
	}
	if IsRetryable(err) {
		t.Errorf("Connect() error = %v, want non-retryable", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Connect() took %v, want immediate failure", elapsed)
	}
	if got := len(broker.Rejected()); got != 1 {
		t.Errorf("broker rejected %d attempts, want 1", got)
	}
}

// TestIntegration_SessionRoundTrip connects, receives a downlink on each
// channel and publishes telemetry.
func TestIntegration_SessionRoundTrip(t *testing.T) {
	dev := newTestDevice(t, "dev-roundtrip")
	broker := startBroker(t, dev)

	client, err := NewClient(testConfig(broker), dev.id, dev.cred)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	received := make(chan downlink.Message, 4)
	m := NewManager(client, ManagerOptions{
		DeviceID: dev.id,
		Policy:   fastPolicy(),
		QoS:      1,
		Handler: downlink.HandlerFunc(func(msg downlink.Message) {
			received <- msg
		}),
	})

	session, err := m.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer session.Close()

	if m.State() != StateConnected {
		t.Errorf("State() = %v, want CONNECTED", m.State())
	}

	if err := broker.Publish(Topics{}.Config(dev.id), []byte(`{"interval":30}`)); err != nil {
		t.Fatalf("broker Publish() error = %v", err)
	}
	if err := broker.Publish(Topics{}.Commands(dev.id), []byte(`{"led":"on"}`)); err != nil {
		t.Fatalf("broker Publish() error = %v", err)
	}

	got := map[downlink.Channel]string{}
	for len(got) < 2 {
		select {
		case msg := <-received:
			got[msg.Channel] = msg.Payload.String()
		case <-time.After(5 * time.Second):
			t.Fatalf("timeout waiting for downlinks, got %v", got)
		}
	}
	if got[downlink.ChannelConfig] != `{"interval":30}` || got[downlink.ChannelCommands] != `{"led":"on"}` {
		t.Errorf("downlinks = %v", got)
	}

	for i := 1; i <= 3; i++ {
		payload := fmt.Sprintf(`{"temperature":%d}`, 12*i)
		if err := session.PublishTelemetry([]byte(payload)); err != nil {
			t.Fatalf("PublishTelemetry() error = %v", err)
		}
	}

	msgs := broker.WaitForMessages(3, 5*time.Second)
	if len(msgs) != 3 {
		t.Fatalf("broker received %d messages, want 3", len(msgs))
	}
	for i, msg := range msgs {
		want := fmt.Sprintf(`{"temperature":%d}`, 12*(i+1))
		if msg.Topic != "/up/device/id/dev-roundtrip" || string(msg.Payload) != want {
			t.Errorf("message %d = %s %s, want %s", i, msg.Topic, msg.Payload, want)
		}
		if msg.ClientID != dev.id {
			t.Errorf("message %d client = %q, want %q", i, msg.ClientID, dev.id)
		}
	}
}

// TestIntegration_ConnectionLostEndsSession drops the device from the broker
// side after setup: the manager reports DISCONNECTED and nothing reconnects.
func TestIntegration_ConnectionLostEndsSession(t *testing.T) {
	dev := newTestDevice(t, "dev-dropped")
	broker := startBroker(t, dev)

	client, err := NewClient(testConfig(broker), dev.id, dev.cred)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	m := NewManager(client, ManagerOptions{DeviceID: dev.id, Policy: fastPolicy(), QoS: 1})
	session, err := m.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer session.Close()

	if !broker.Disconnect(dev.id) {
		t.Fatal("broker does not know the device")
	}

	deadline := time.Now().Add(5 * time.Second)
	for m.State() != StateDisconnected {
		if time.Now().After(deadline) {
			t.Fatalf("State() = %v after connection loss, want DISCONNECTED", m.State())
		}
		time.Sleep(10 * time.Millisecond)
	}

	if session.IsConnected() {
		t.Error("session still reports connected")
	}
	if err := session.PublishTelemetry([]byte(`{"temperature":12}`)); !errors.Is(err, ErrNotConnected) {
		t.Errorf("PublishTelemetry() error = %v, want ErrNotConnected", err)
	}
}
