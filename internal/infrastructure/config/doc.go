// Package config handles loading and validating the device configuration.
//
// This package manages:
//   - Loading optional tuning settings from a YAML file
//   - Overriding with environment variables (AKENZA_*)
//   - Validation of required fields once command-line flags are merged
//   - Default value handling
//
// Security Considerations:
//   - The private key path is configuration; the key itself is never stored here
//   - Signed tokens are derived at runtime and never written back to config
//
// Usage:
//
//	cfg, err := config.Load(os.Getenv("AKENZA_CONFIG"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	cfg.Device.ID = "dev1"
//	if err := cfg.Validate(); err != nil {
//	    log.Fatal(err)
//	}
package config
