// Package downlink decodes broker-to-device messages.
//
// The device subscribes to two downlink topics, commands and config. Their
// payloads are JSON objects with no fixed schema, so they are decoded into
// Value, a tagged variant (null, bool, number, string, array, object) that
// keeps member order and number literals intact.
//
// What a command or configuration means is up to the integrator: supply a
// Handler to the MQTT connection manager. LogHandler is the default and
// only logs what arrives.
//
//	h := downlink.HandlerFunc(func(msg downlink.Message) {
//	    if v, ok := msg.Payload.Get("interval"); ok {
//	        ...
//	    }
//	})
package downlink
