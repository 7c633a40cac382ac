package main

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akenza-io/mqtt-device/internal/auth"
	"github.com/akenza-io/mqtt-device/internal/infrastructure/config"
	"github.com/akenza-io/mqtt-device/internal/infrastructure/mqtt/mqtttest"
)

func rsaKeyFile(t *testing.T) (string, *rsa.PrivateKey) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "rsa_private.pem")
	block := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(block), 0o600))
	return path, key
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(&out)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func clearIdentityEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{configEnv, "AKENZA_DEVICE_ID", "AKENZA_PRIVATE_KEY_FILE", "AKENZA_ALGORITHM"} {
		t.Setenv(name, "")
	}
}

func TestRootCommand_RequiredSettings(t *testing.T) {
	clearIdentityEnv(t)

	_, err := execute(t)
	require.Error(t, err)
	for _, want := range []string{"device id", "private key file", "algorithm"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestRootCommand_IdentityFromEnv(t *testing.T) {
	clearIdentityEnv(t)
	missing := filepath.Join(t.TempDir(), "does-not-exist.pem")
	t.Setenv("AKENZA_DEVICE_ID", "dev-env")
	t.Setenv("AKENZA_PRIVATE_KEY_FILE", missing)
	t.Setenv("AKENZA_ALGORITHM", "RS256")

	// Getting as far as reading the key file means the identity was accepted.
	_, err := execute(t)
	require.ErrorIs(t, err, auth.ErrKeyLoad)
	assert.Contains(t, err.Error(), missing)
}

func TestRootCommand_IdentityFromConfigFile(t *testing.T) {
	clearIdentityEnv(t)
	missing := filepath.Join(t.TempDir(), "does-not-exist.pem")
	path := writeConfig(t, "device:\n  id: dev-yaml\n  private_key_file: "+missing+"\n  algorithm: HS256\n")

	_, err := execute(t, "--config", path)
	require.ErrorIs(t, err, auth.ErrInvalidAlgorithm)

	// A flag still beats the file.
	_, err = execute(t, "--config", path, "--algorithm", "ES256")
	require.ErrorIs(t, err, auth.ErrKeyLoad)
}

func TestRootCommand_UnknownFlag(t *testing.T) {
	_, err := execute(t, "--device_id", "d", "--private_key_file", "k", "--algorithm", "ES256", "--bogus")
	require.Error(t, err)
}

func TestRootCommand_InvalidAlgorithm(t *testing.T) {
	clearIdentityEnv(t)
	missing := filepath.Join(t.TempDir(), "does-not-exist.pem")

	_, err := execute(t,
		"--device_id", "dev-1",
		"--private_key_file", missing,
		"--algorithm", "HS256",
	)
	require.ErrorIs(t, err, auth.ErrInvalidAlgorithm)
}

func TestRootCommand_MissingKeyFile(t *testing.T) {
	clearIdentityEnv(t)
	missing := filepath.Join(t.TempDir(), "does-not-exist.pem")

	_, err := execute(t,
		"--device_id", "dev-1",
		"--private_key_file", missing,
		"--algorithm", "RS256",
	)
	require.ErrorIs(t, err, auth.ErrKeyLoad)
}

func TestLoadConfig_Precedence(t *testing.T) {
	t.Setenv(configEnv, "")
	path := writeConfig(t, `
device:
  audience: example.test
telemetry:
  num_messages: 5
  wait_time_seconds: 9
mqtt:
  broker:
    host: broker.example.test
`)

	cmd := newRootCommand()
	require.NoError(t, cmd.ParseFlags([]string{
		"--config", path,
		"--device_id", "dev-1",
		"--private_key_file", "key.pem",
		"--algorithm", "ES256",
		"--num_messages", "7",
	}))

	var flags cliFlags
	flags.configPath = path
	flags.deviceID = "dev-1"
	flags.privateKeyFile = "key.pem"
	flags.algorithm = "ES256"
	flags.numMessages = 7

	cfg, err := loadConfig(cmd, flags)
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Telemetry.NumMessages, "flag beats file")
	assert.Equal(t, 9, cfg.Telemetry.WaitTimeSeconds, "file beats default")
	assert.Equal(t, "broker.example.test", cfg.MQTT.Broker.Host)
	assert.Equal(t, "example.test", cfg.Device.Audience)
	assert.Equal(t, 8883, cfg.MQTT.Broker.Port, "default kept")
}

func TestLoadConfig_ConfigFromEnv(t *testing.T) {
	path := writeConfig(t, "telemetry:\n  num_messages: 3\n")
	t.Setenv(configEnv, path)

	cmd := newRootCommand()
	require.NoError(t, cmd.ParseFlags([]string{"--device_id", "d", "--private_key_file", "k", "--algorithm", "RS256"}))

	cfg, err := loadConfig(cmd, cliFlags{deviceID: "d", privateKeyFile: "k", algorithm: "RS256"})
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Telemetry.NumMessages)
}

func TestLoadConfig_Invalid(t *testing.T) {
	t.Setenv(configEnv, "")

	cmd := newRootCommand()
	require.NoError(t, cmd.ParseFlags([]string{
		"--device_id", "d", "--private_key_file", "k", "--algorithm", "RS256",
		"--mqtt_port", "0",
	}))

	_, err := loadConfig(cmd, cliFlags{deviceID: "d", privateKeyFile: "k", algorithm: "RS256", mqttPort: 0})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mqtt port")
}

func TestPlannedRunTime(t *testing.T) {
	cfg := config.Default()
	assert.Equal(t, 100*time.Second+300*time.Second, plannedRunTime(cfg))

	cfg.Telemetry.NumMessages = 0
	cfg.Telemetry.WaitTimeSeconds = 0
	assert.Zero(t, plannedRunTime(cfg))
}

// TestRootCommand_EndToEnd runs the whole device against an in-process
// broker: three readings published, then a short wait.
func TestRootCommand_EndToEnd(t *testing.T) {
	keyFile, key := rsaKeyFile(t)
	broker := mqtttest.Start(t, mqtttest.Options{
		PublicKey:    &key.PublicKey,
		Audience:     "akenza.test",
		RecordPrefix: "/up/",
	})

	cfgFile := writeConfig(t, `
telemetry:
  interval: 10ms
logging:
  format: json
  output: stdout
mqtt:
  reconnect:
    initial_interval: 20ms
    max_interval: 100ms
    max_elapsed: 5s
`)

	out, err := execute(t,
		"--config", cfgFile,
		"--device_id", "dev-e2e",
		"--private_key_file", keyFile,
		"--algorithm", "RS256",
		"--audience", "akenza.test",
		"--mqtt_hostname", broker.Host,
		"--mqtt_port", strconv.Itoa(broker.Port),
		"--ca_file", broker.CAFile,
		"--num_messages", "3",
		"--wait_time_seconds", "0",
	)
	require.NoError(t, err, out)

	msgs := broker.WaitForMessages(3, 5*time.Second)
	require.Len(t, msgs, 3)
	for i, want := range []string{`{"temperature":12}`, `{"temperature":24}`, `{"temperature":36}`} {
		assert.Equal(t, "/up/device/id/dev-e2e", msgs[i].Topic)
		assert.Equal(t, want, string(msgs[i].Payload))
		assert.Equal(t, byte(1), msgs[i].QoS)
	}

	assert.Contains(t, out, "Finished loop successfully")
	assert.Contains(t, out, `"session_id"`)
	assert.NotContains(t, out, "eyJ", "token must never be logged")
}

func TestRootCommand_ShortRunDoesNotWarn(t *testing.T) {
	keyFile, key := rsaKeyFile(t)
	broker := mqtttest.Start(t, mqtttest.Options{PublicKey: &key.PublicKey, Audience: "akenza.io"})

	cfgFile := writeConfig(t, "telemetry:\n  interval: 1ms\nlogging:\n  output: stdout\n")

	out, err := execute(t,
		"--config", cfgFile,
		"--device_id", "dev-warn",
		"--private_key_file", keyFile,
		"--algorithm", "RS256",
		"--mqtt_hostname", broker.Host,
		"--mqtt_port", strconv.Itoa(broker.Port),
		"--ca_file", broker.CAFile,
		"--num_messages", "1",
		"--token_exp_minutes", "1",
		"--wait_time_seconds", "0",
	)
	require.NoError(t, err, out)
	assert.NotContains(t, out, "token refresh is not implemented")

	cfg := config.Default()
	cfg.Device.TokenExpMinutes = 1
	assert.Greater(t, plannedRunTime(cfg), cfg.TokenTTL(), "defaults outlive a one minute token")
}
