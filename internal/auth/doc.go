// Package auth builds the signed credential a device presents to the broker.
//
// The broker authenticates devices by a short-lived JWT sent as the MQTT
// password (the username is ignored). The token is signed with the
// device's private key:
//   - RS256: RSA key, PKCS#1 or PKCS#8 PEM
//   - ES256: ECDSA P-256 key, SEC 1 or PKCS#8 PEM
//
// Claims carry the device id as subject, https://{audience}/devices/{id} as
// audience, and issued-at/expiry timestamps.
//
// Credentials are never refreshed: a session that outlives the token keeps
// running until the broker drops it.
package auth
