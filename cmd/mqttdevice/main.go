// mqttdevice is an example device for the akenza MQTT broker.
//
// It signs a short-lived token with the device's private key, connects over
// TLS using the token as password, subscribes to its commands and config
// topics, publishes a series of temperature readings and then waits a while
// for downlinks before disconnecting.
//
//	mqttdevice --device_id dev-1 --private_key_file ec_private.pem --algorithm ES256
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/akenza-io/mqtt-device/internal/auth"
	"github.com/akenza-io/mqtt-device/internal/downlink"
	"github.com/akenza-io/mqtt-device/internal/infrastructure/config"
	"github.com/akenza-io/mqtt-device/internal/infrastructure/logging"
	"github.com/akenza-io/mqtt-device/internal/infrastructure/mqtt"
	"github.com/akenza-io/mqtt-device/internal/telemetry"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// exitFailure is returned for flag errors and every fatal error.
const exitFailure = -1

// configEnv names the environment variable holding the config file path.
const configEnv = "AKENZA_CONFIG"

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		cancel()
		os.Exit(exitFailure)
	}
}

// cliFlags holds raw flag values before they are merged into the config.
type cliFlags struct {
	configPath      string
	deviceID        string
	privateKeyFile  string
	algorithm       string
	audience        string
	numMessages     int
	mqttHostname    string
	mqttPort        int
	caFile          string
	tokenExpMinutes int
	waitTimeSeconds int
	logLevel        string
}

func newRootCommand() *cobra.Command {
	var flags cliFlags
	defaults := config.Default()

	cmd := &cobra.Command{
		Use:           "mqttdevice",
		Short:         "Connect a device to the MQTT broker, publish telemetry and receive downlinks",
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Flags parsed fine; from here on errors are not usage problems.
			cmd.SilenceUsage = true

			cfg, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	f := cmd.Flags()
	f.StringVar(&flags.configPath, "config", "", "Optional YAML configuration file (env "+configEnv+").")
	// device_id, private_key_file and algorithm are required, but may also
	// come from the config file or AKENZA_* variables; Validate reports them.
	f.StringVar(&flags.deviceID, "device_id", "", "The physical device id (required).")
	f.StringVar(&flags.privateKeyFile, "private_key_file", "", "Path to the PEM private key used to sign the token (required).")
	f.StringVar(&flags.algorithm, "algorithm", "", "Signing algorithm: RS256 or ES256 (required).")
	f.StringVar(&flags.audience, "audience", defaults.Device.Audience, "Audience host of the token.")
	f.IntVar(&flags.numMessages, "num_messages", defaults.Telemetry.NumMessages, "Number of messages to publish.")
	f.StringVar(&flags.mqttHostname, "mqtt_hostname", defaults.MQTT.Broker.Host, "MQTT broker hostname.")
	f.IntVar(&flags.mqttPort, "mqtt_port", defaults.MQTT.Broker.Port, "MQTT broker TLS port.")
	f.StringVar(&flags.caFile, "ca_file", "", "Optional PEM bundle of trusted root certificates.")
	f.IntVar(&flags.tokenExpMinutes, "token_exp_minutes", defaults.Device.TokenExpMinutes, "Token lifetime in minutes.")
	f.IntVar(&flags.waitTimeSeconds, "wait_time_seconds", defaults.Telemetry.WaitTimeSeconds, "Seconds to wait for downlinks after publishing.")
	f.StringVar(&flags.logLevel, "log_level", defaults.Logging.Level, "Log level: debug, info, warn or error.")

	return cmd
}

// loadConfig merges defaults, the optional YAML file, environment variables
// and explicitly set flags, in that order, and validates the result.
func loadConfig(cmd *cobra.Command, flags cliFlags) (*config.Config, error) {
	path := flags.configPath
	if path == "" {
		path = os.Getenv(configEnv)
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	changed := cmd.Flags().Changed
	if changed("device_id") {
		cfg.Device.ID = flags.deviceID
	}
	if changed("private_key_file") {
		cfg.Device.PrivateKeyFile = flags.privateKeyFile
	}
	if changed("algorithm") {
		cfg.Device.Algorithm = flags.algorithm
	}
	if changed("audience") {
		cfg.Device.Audience = flags.audience
	}
	if changed("num_messages") {
		cfg.Telemetry.NumMessages = flags.numMessages
	}
	if changed("mqtt_hostname") {
		cfg.MQTT.Broker.Host = flags.mqttHostname
	}
	if changed("mqtt_port") {
		cfg.MQTT.Broker.Port = flags.mqttPort
	}
	if changed("ca_file") {
		cfg.MQTT.Broker.CAFile = flags.caFile
	}
	if changed("token_exp_minutes") {
		cfg.Device.TokenExpMinutes = flags.tokenExpMinutes
	}
	if changed("wait_time_seconds") {
		cfg.Telemetry.WaitTimeSeconds = flags.waitTimeSeconds
	}
	if changed("log_level") {
		cfg.Logging.Level = flags.logLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// run is the actual application logic, separated from main for testability.
//
// Returns:
//   - error: nil once every message was published and the wait phase ended
func run(ctx context.Context, cfg *config.Config, stdout, stderr io.Writer) error {
	out := stderr
	if cfg.Logging.Output == "stdout" {
		out = stdout
	}
	log := logging.NewWithWriter(cfg.Logging, version, out).With(
		"session_id", uuid.NewString(),
		"device_id", cfg.Device.ID,
	)

	log.Info("starting mqtt device",
		"version", version,
		"commit", commit,
		"broker", cfg.BrokerURL(),
	)

	alg, err := auth.ParseAlgorithm(cfg.Device.Algorithm)
	if err != nil {
		return err
	}

	cred, err := auth.Build(auth.Identity{
		DeviceID:       cfg.Device.ID,
		Audience:       cfg.Device.Audience,
		PrivateKeyFile: cfg.Device.PrivateKeyFile,
		Algorithm:      alg,
	}, cfg.TokenTTL())
	if err != nil {
		return fmt.Errorf("creating device credential: %w", err)
	}
	log.Info("device credential created", "algorithm", string(alg), "expires_at", cred.ExpiresAt)

	if planned := plannedRunTime(cfg); planned >= cred.Remaining(time.Now()) {
		log.Warn("credential expires before the run completes; token refresh is not implemented",
			"planned", planned,
			"token_ttl", cfg.TokenTTL(),
		)
	}

	client, err := mqtt.NewClient(cfg.MQTT, cfg.Device.ID, cred)
	if err != nil {
		return fmt.Errorf("creating MQTT client: %w", err)
	}
	client.SetLogger(log.With("component", "mqtt"))

	manager := mqtt.NewManager(client, mqtt.ManagerOptions{
		DeviceID: cfg.Device.ID,
		Policy:   mqtt.PolicyFromConfig(cfg.MQTT.Reconnect),
		QoS:      byte(cfg.MQTT.QoS),
		Handler:  downlink.NewLogHandler(log.With("component", "downlink")),
		Logger:   log.With("component", "mqtt"),
	})

	session, err := manager.Connect(ctx)
	if err != nil {
		return fmt.Errorf("connecting to MQTT broker: %w", err)
	}
	defer func() {
		if err := session.Close(); err != nil {
			log.Error("error closing MQTT connection", "error", err)
		}
	}()

	if err := telemetry.Run(ctx, session, telemetry.Options{
		NumMessages: cfg.Telemetry.NumMessages,
		Interval:    cfg.Telemetry.Interval,
		Logger:      log,
	}); err != nil {
		return err
	}

	if err := telemetry.Wait(ctx, cfg.WaitTime(), log); err != nil {
		return err
	}

	log.Info("Finished loop successfully. Goodbye!")
	return nil
}

// plannedRunTime is how long the device stays connected after the token
// is signed, ignoring connect retries.
func plannedRunTime(cfg *config.Config) time.Duration {
	return time.Duration(cfg.Telemetry.NumMessages)*cfg.Telemetry.Interval + cfg.WaitTime()
}
