// Package config handles loading and validating medtwin configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Populating the environment from an optional .env file
//   - Overriding with MEDTWIN_* environment variables
//   - Validation of required fields
//
// Security Considerations:
//   - Broker passwords and the JWT secret should be set via environment variables
//   - The fallback operator id is a delivery target of last resort, not an access grant
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Fleet.Name)
package config
