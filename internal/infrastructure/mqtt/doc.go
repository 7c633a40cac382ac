// Package mqtt provides the device's MQTT connectivity.
//
// This package manages:
//   - A TLS 1.2 connection to the broker, authenticated with a signed device token
//   - Connection retry with bounded exponential backoff
//   - Subscription to the device's downlink topics
//   - Telemetry publishing with QoS 1 acknowledgement
//
// # Architecture
//
// Client adapts paho.mqtt.golang and makes exactly one connection attempt
// per Connect call. It classifies failures into retryable
// (ErrConnectionLost, ErrServerUnreachable) and fatal (ErrConnectionFailed).
//
// Manager drives a Connector (normally a *Client) through
//
//	DISCONNECTED → CONNECTING → CONNECTED
//
// retrying per Policy, then subscribes to config and commands and hands back
// a Session for publishing.
//
// # Retry Policy
//
// The first wait is 500ms, each following wait is 1.5 times the previous
// one capped at 6s, and retrying stops once the waits add up to 15 minutes:
//
//	500ms, 750ms, 1.125s, 1.687s, 2.53s, 3.795s, 5.692s, 6s, 6s, ...
//
// Paho's own auto-reconnect is disabled; a connection lost after setup is
// logged and not re-established.
//
// # Topics
//
//	/up/device/id/{deviceId}               telemetry, device → broker
//	/down/device/id/{deviceId}/commands    commands, broker → device
//	/down/device/id/{deviceId}/config      configuration, broker → device
//
// # Usage
//
//	client, err := mqtt.NewClient(cfg.MQTT, deviceID, cred)
//	if err != nil {
//	    return err
//	}
//
//	manager := mqtt.NewManager(client, mqtt.ManagerOptions{
//	    DeviceID: deviceID,
//	    QoS:      1,
//	    Handler:  downlink.NewLogHandler(logger),
//	    Logger:   logger,
//	})
//
//	session, err := manager.Connect(ctx)
//	if err != nil {
//	    return err
//	}
//	defer session.Close()
//
//	err = session.PublishTelemetry([]byte(`{"temperature":12}`))
package mqtt
