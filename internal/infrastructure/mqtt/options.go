package mqtt

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/akenza-io/mqtt-device/internal/infrastructure/config"
)

// Connection constants.
const (
	// defaultPublishTimeout is the maximum time to wait for publish acknowledgment.
	defaultPublishTimeout = 10 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending operations on disconnect.
	defaultDisconnectQuiesce = 1000 // milliseconds

	// defaultKeepAlive is the keepalive interval for the connection.
	defaultKeepAlive = 60 * time.Second

	// maxQoS is the maximum QoS level supported. QoS 2 is not implemented.
	maxQoS = 1

	// protocolVersion311 selects MQTT 3.1.1 in paho.
	protocolVersion311 = 4

	// tlsVersion is the only TLS version negotiated with the broker.
	tlsVersion = tls.VersionTLS12

	// username is sent with every CONNECT. The broker ignores it and
	// authenticates the device by the JWT in the password field.
	username = "unused"
)

// buildClientOptions creates paho MQTT options for a device connection.
//
// This configures:
//   - Broker URL (always ssl://host:port)
//   - Client ID = device id
//   - Username "unused", password = signed device token
//   - MQTT 3.1.1, clean session, in-memory store
//   - TLS pinned to 1.2
//
// Paho's own reconnect and connect-retry are disabled; the Manager owns
// the retry policy.
func buildClientOptions(cfg config.MQTTConfig, clientID, password string, tlsConfig *tls.Config) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	opts.AddBroker(brokerURL(cfg.Broker))
	opts.SetClientID(clientID)

	opts.SetUsername(username)
	opts.SetPassword(password)

	opts.SetProtocolVersion(protocolVersion311)
	opts.SetCleanSession(true)
	opts.SetStore(pahomqtt.NewMemoryStore())

	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)

	// Bounds the dial, TLS handshake and CONNACK wait of a single attempt.
	opts.SetConnectTimeout(cfg.ConnectTimeout)
	opts.SetKeepAlive(defaultKeepAlive)

	opts.SetTLSConfig(tlsConfig)

	return opts
}

// brokerURL returns ssl://host:port.
func brokerURL(broker config.MQTTBrokerConfig) string {
	return fmt.Sprintf("ssl://%s:%d", broker.Host, broker.Port)
}

// buildTLSConfig pins the TLS version and loads the optional CA bundle.
// Without a bundle the system roots are used.
func buildTLSConfig(broker config.MQTTBrokerConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion: tlsVersion,
		MaxVersion: tlsVersion,
	}

	if broker.CAFile == "" {
		return tlsConfig, nil
	}

	pem, err := os.ReadFile(broker.CAFile)
	if err != nil {
		return nil, fmt.Errorf("%w: reading CA file: %w", ErrInvalidTLSConfig, err)
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("%w: no certificates found in %s", ErrInvalidTLSConfig, broker.CAFile)
	}
	tlsConfig.RootCAs = pool

	return tlsConfig, nil
}
