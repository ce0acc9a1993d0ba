// Package config provides application configuration management.
//
// The config package handles loading and validation of the application's
// configuration from YAML files and PLAYGROUND_ prefixed environment
// variables. It covers the server transport, sandbox limits and isolation
// mode, the Python interpreter bundle, the code store, the problem catalog,
// metrics and logging.
//
// Usage:
//
//	cfg, err := config.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("Sandbox timeout: %s\n", cfg.GetTimeout())
package config
