package main

import (
	"flag"
	"fmt"
	"os"
	"slices"
	"strconv"
	"time"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigPath      string
	LogLevel        string
	LogFormat       string
	Debug           bool
	Demo            bool
	DemoInterval    time.Duration
	ShutdownTimeout time.Duration
	ShowVersion     bool
	ShowHelp        bool
	Validate        bool
}

func parseFlags(fs *flag.FlagSet, args []string) (*CLIConfig, error) {
	cfg := &CLIConfig{}

	fs.StringVar(&cfg.ConfigPath, "config",
		getEnv("DATAPORTS_CONFIG", ""),
		"Path to a JSON or YAML configuration file (env: DATAPORTS_CONFIG)")

	fs.StringVar(&cfg.ConfigPath, "c",
		getEnv("DATAPORTS_CONFIG", ""),
		"Path to a JSON or YAML configuration file (env: DATAPORTS_CONFIG)")

	fs.StringVar(&cfg.LogLevel, "log-level",
		getEnv("DATAPORTS_LOG_LEVEL", ""),
		"Log level: debug, info, warn, error; overrides the config file (env: DATAPORTS_LOG_LEVEL)")

	fs.StringVar(&cfg.LogFormat, "log-format",
		getEnv("DATAPORTS_LOG_FORMAT", ""),
		"Log format: json, text; overrides the config file (env: DATAPORTS_LOG_FORMAT)")

	fs.BoolVar(&cfg.Debug, "debug",
		getEnvBool("DATAPORTS_DEBUG", false),
		"Enable debug logging (env: DATAPORTS_DEBUG)")

	fs.BoolVar(&cfg.Demo, "demo",
		getEnvBool("DATAPORTS_DEMO", false),
		"Publish a test signal into every exported numeric port (env: DATAPORTS_DEMO)")

	fs.DurationVar(&cfg.DemoInterval, "demo-interval",
		getEnvDuration("DATAPORTS_DEMO_INTERVAL", 500*time.Millisecond),
		"Demo publish interval (env: DATAPORTS_DEMO_INTERVAL)")

	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout",
		getEnvDuration("DATAPORTS_SHUTDOWN_TIMEOUT", 10*time.Second),
		"Graceful shutdown timeout (env: DATAPORTS_SHUTDOWN_TIMEOUT)")

	fs.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	fs.BoolVar(&cfg.ShowVersion, "v", false, "Show version information")
	fs.BoolVar(&cfg.ShowHelp, "help", false, "Show help information")
	fs.BoolVar(&cfg.ShowHelp, "h", false, "Show help information")
	fs.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")

	fs.Usage = func() {
		printDetailedHelp(fs)
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if cfg.Debug {
		cfg.LogLevel = "debug"
	}
	return cfg, nil
}

func validateFlags(cfg *CLIConfig) error {
	if cfg.ShowVersion || cfg.ShowHelp {
		return nil
	}

	if cfg.ConfigPath != "" {
		if _, err := os.Stat(cfg.ConfigPath); err != nil {
			return fmt.Errorf("config file not found: %s", cfg.ConfigPath)
		}
	}

	if cfg.LogLevel != "" && !slices.Contains([]string{"debug", "info", "warn", "error"}, cfg.LogLevel) {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}
	if cfg.LogFormat != "" && !slices.Contains([]string{"json", "text"}, cfg.LogFormat) {
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}
	if cfg.DemoInterval <= 0 {
		return fmt.Errorf("invalid demo interval: %s", cfg.DemoInterval)
	}
	if cfg.ShutdownTimeout <= 0 {
		return fmt.Errorf("invalid shutdown timeout: %s", cfg.ShutdownTimeout)
	}
	return nil
}

func printDetailedHelp(fs *flag.FlagSet) {
	_, _ = fmt.Fprintf(fs.Output(), `%s - typed publish/subscribe data ports

Usage: %s [options]

Options:
`, appName, os.Args[0])
	fs.PrintDefaults()
	_, _ = fmt.Fprintf(fs.Output(), `
Examples:
  # Run the ports declared in a config file
  %s --config=/etc/dataports/config.yaml

  # Run in-process with a test signal and readable logs
  DATAPORTS_TRANSPORT=loopback %s --demo --log-format=text

  # Validate configuration only
  %s --config=config.json --validate

  # Reload configuration (log level, ports are fixed at start)
  kill -HUP <pid>

Version: %s
Build: %s
`, os.Args[0], os.Args[0], os.Args[0], Version, BuildTime)
}

// Environment variable helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
