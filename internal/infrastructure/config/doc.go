// Package config loads and validates the audit logger configuration.
//
// Configuration is layered: built-in defaults, then the YAML file (when one
// is given), then LWAUDIT_* environment variables, then Validate. Every
// validation problem is reported in one error.
//
// Secrets (the MQTT password, the InfluxDB token) are best supplied through
// the environment rather than the file.
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    return err
//	}
//	fmt.Println(cfg.Devices.File)
package config
