// Package config handles loading and validating mqttbridge configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Falling back to the hostname as instance name
//   - Validation of required fields
//
// Security Considerations:
//   - The broker password should be set via MQTTBRIDGE_MQTT_PASSWORD
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load(config.DefaultPath())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.MQTT.InstanceName)
//
// The action list is consumed as-is; slug generation and collision
// checks happen in the action package.
package config
