// Package config handles loading and validating meter bridge configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables (METERBRIDGE_*)
//   - Validation of required fields
//   - Default value handling
//
// A configuration that still names the placeholder broker host
// IP_ADDR_OR_FQDN is rejected: it has not been edited since install.
//
// Security Considerations:
//   - Broker credentials and the InfluxDB token should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Device.CustomName())
package config
