// Package mqtttest runs an in-process TLS MQTT broker for tests.
//
// The broker is mochi-mqtt listening on 127.0.0.1 with a freshly generated
// self-signed certificate. When a public key is configured it authenticates
// clients the way the production broker does: the CONNECT password must be a
// device token signed by that key, issued for the connecting client id.
package mqtttest

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/mochi-mqtt/server/v2/packets"

	"github.com/akenza-io/mqtt-device/internal/auth"
)

// Options configures a test broker.
type Options struct {
	// PublicKey verifies device tokens. Nil accepts any password.
	PublicKey crypto.PublicKey

	// Audience is the audience host tokens must be issued for.
	Audience string

	// RecordPrefix limits which published topics are recorded.
	// Empty records everything.
	RecordPrefix string
}

// Message is a publish received by the broker.
type Message struct {
	ClientID string
	Topic    string
	Payload  []byte
	QoS      byte
}

// Broker is a running or reserved test broker.
type Broker struct {
	Host   string
	Port   int
	CAFile string

	t         testing.TB
	opts      Options
	tlsConfig *tls.Config
	server    *mochi.Server

	mu       sync.Mutex
	received []Message
	rejected []string
	notify   chan struct{}
}

// Start reserves a port and starts the broker on it.
func Start(t testing.TB, opts Options) *Broker {
	t.Helper()
	b := New(t, opts)
	b.Start()
	return b
}

// New reserves a free port and prepares certificates without accepting
// connections, so clients can be pointed at a broker that is not up yet.
func New(t testing.TB, opts Options) *Broker {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserving port: %v", err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	if err := l.Close(); err != nil {
		t.Fatalf("releasing port: %v", err)
	}

	cert, caPEM := selfSignedCert(t)
	caFile := filepath.Join(t.TempDir(), "ca.pem")
	if err := os.WriteFile(caFile, caPEM, 0o600); err != nil {
		t.Fatalf("writing CA file: %v", err)
	}

	return &Broker{
		Host:   "127.0.0.1",
		Port:   port,
		CAFile: caFile,
		t:      t,
		opts:   opts,
		tlsConfig: &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		},
		notify: make(chan struct{}, 1),
	}
}

// Start begins accepting connections. The broker is closed on test cleanup.
func (b *Broker) Start() {
	b.t.Helper()

	server := mochi.New(&mochi.Options{
		InlineClient: true,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	if err := server.AddHook(&deviceHook{broker: b}, nil); err != nil {
		b.t.Fatalf("adding hook: %v", err)
	}

	tcp := listeners.NewTCP(listeners.Config{
		ID:        "tls",
		Address:   fmt.Sprintf("%s:%d", b.Host, b.Port),
		TLSConfig: b.tlsConfig,
	})
	if err := server.AddListener(tcp); err != nil {
		b.t.Fatalf("adding listener: %v", err)
	}

	go func() {
		_ = server.Serve()
	}()

	b.server = server
	b.t.Cleanup(func() {
		_ = server.Close()
	})
}

// Publish sends a message from the broker to subscribed clients.
func (b *Broker) Publish(topic string, payload []byte) error {
	if b.server == nil {
		return fmt.Errorf("mqtttest: broker not started")
	}
	return b.server.Publish(topic, payload, false, 1)
}

// Disconnect drops the named client's connection from the broker side.
// It reports whether the client was connected.
func (b *Broker) Disconnect(clientID string) bool {
	if b.server == nil {
		return false
	}
	cl, ok := b.server.Clients.Get(clientID)
	if !ok {
		return false
	}
	cl.Stop(fmt.Errorf("mqtttest: disconnected %s", clientID))
	return true
}

// Received returns a copy of the recorded publishes.
func (b *Broker) Received() []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Message(nil), b.received...)
}

// Rejected returns the client ids whose CONNECT was refused.
func (b *Broker) Rejected() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.rejected...)
}

// WaitForMessages blocks until at least n publishes were recorded or
// timeout elapses, and returns what was recorded.
func (b *Broker) WaitForMessages(n int, timeout time.Duration) []Message {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		if msgs := b.Received(); len(msgs) >= n {
			return msgs
		}
		select {
		case <-b.notify:
		case <-deadline.C:
			return b.Received()
		}
	}
}

func (b *Broker) record(msg Message) {
	b.mu.Lock()
	b.received = append(b.received, msg)
	b.mu.Unlock()

	select {
	case b.notify <- struct{}{}:
	default:
	}
}

func (b *Broker) reject(clientID string) {
	b.mu.Lock()
	b.rejected = append(b.rejected, clientID)
	b.mu.Unlock()
}

// deviceHook authenticates device tokens and records publishes.
type deviceHook struct {
	mochi.HookBase
	broker *Broker
}

func (h *deviceHook) ID() string {
	return "device-token"
}

func (h *deviceHook) Provides(b byte) bool {
	return bytes.Contains([]byte{
		mochi.OnConnectAuthenticate,
		mochi.OnACLCheck,
		mochi.OnPublished,
	}, []byte{b})
}

func (h *deviceHook) OnConnectAuthenticate(cl *mochi.Client, pk packets.Packet) bool {
	key := h.broker.opts.PublicKey
	if key == nil {
		return true
	}

	audience := auth.Identity{DeviceID: cl.ID, Audience: h.broker.opts.Audience}.AudienceURL()
	claims, err := auth.Verify(string(pk.Connect.Password), key, audience)
	if err != nil || claims.Subject != cl.ID {
		h.broker.reject(cl.ID)
		return false
	}
	return true
}

func (h *deviceHook) OnACLCheck(_ *mochi.Client, _ string, _ bool) bool {
	return true
}

func (h *deviceHook) OnPublished(cl *mochi.Client, pk packets.Packet) {
	if !strings.HasPrefix(pk.TopicName, h.broker.opts.RecordPrefix) {
		return
	}
	h.broker.record(Message{
		ClientID: cl.ID,
		Topic:    pk.TopicName,
		Payload:  append([]byte(nil), pk.Payload...),
		QoS:      pk.FixedHeader.Qos,
	})
}

// selfSignedCert returns a P-256 certificate for 127.0.0.1 that is its own CA.
func selfSignedCert(t testing.TB) (tls.Certificate, []byte) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generating broker key: %v", err)
	}

	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "mqtttest"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1")},
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("creating broker certificate: %v", err)
	}

	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key},
		pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
}
