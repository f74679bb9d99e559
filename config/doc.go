// Package config provides configuration management for dataports processes.
//
// This package handles loading, validation, and reloading of the process
// configuration from JSON or YAML files and environment variables.
//
// # Core Components
//
// Config: Main configuration structure containing runtime sizing, NATS
// connection details, network adapter settings, metrics, logging and the
// ports to create.
//
// SafeConfig: Thread-safe wrapper using RWMutex and deep cloning to prevent
// concurrent access issues and accidental mutations.
//
// Loader: Loads configuration with layer merging (base + overrides) and
// environment variable overrides.
//
// Manager: Owns the live configuration, re-reads the layers on Reload and
// notifies subscribers of each changed section through channels.
//
// # Basic Usage
//
//	loader := config.NewLoader()
//	loader.AddLayer("configs/base.yaml")
//	loader.AddLayer("configs/production.json") // Overrides base
//	loader.EnableValidation(true)
//
//	cfg, err := loader.Load()
//	if err != nil {
//		log.Fatal(err)
//	}
//
// # Reloading
//
//	cm, err := config.NewManager(cfg, loader, logger)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer cm.Stop()
//
//	updates := cm.OnChange("log")
//	go func() {
//		for u := range updates {
//			level.Set(parseLevel(u.Config.Get().Log.Level))
//		}
//	}()
//
//	// on SIGHUP
//	if err := cm.Reload(); err != nil {
//		logger.Warn("reload rejected", "error", err)
//	}
//
// A configuration whose version is older than the running one is rejected,
// so a stale file cannot roll a process back.
//
// # Environment Variable Overrides
//
//	DATAPORTS_NATS_URLS       comma separated server list
//	DATAPORTS_NATS_USERNAME   DATAPORTS_NATS_PASSWORD   DATAPORTS_NATS_TOKEN
//	DATAPORTS_TRANSPORT       nats or loopback
//	DATAPORTS_PULL_TIMEOUT    e.g. 250ms
//	DATAPORTS_METRICS_PORT
//	DATAPORTS_LOG_LEVEL
//
// # Layer Merging
//
// Objects are merged key by key with last-wins semantics. Lists, such as
// ports, are replaced as a whole.
//
// # Security
//
// The package includes security validation:
//   - File size limits (10MB max) to prevent memory exhaustion
//   - JSON depth validation (100 levels max)
//   - Path validation to prevent directory traversal
//   - Regular file checks (no symlinks or device files)
package config
