// Package config handles loading and validating irrigation core configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables (IRRIGATION_*)
//   - Validation of required fields and value ranges
//   - Default value handling
//
// Security Considerations:
//   - Broker credentials, the InfluxDB token and the JWT secret should be
//     set via environment variables rather than the config file
//   - An empty JWT secret leaves write endpoints unauthenticated
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.MQTT.Topics.Readings)
package config
