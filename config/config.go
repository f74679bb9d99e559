package config

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"gopkg.in/yaml.v3"

	"github.com/c360/dataports/errors"
	"github.com/c360/dataports/pkg/handle"
)

// Transport names
const (
	TransportNATS     = "nats"
	TransportLoopback = "loopback"
)

// Port data type names understood by the demo graph
var portTypes = map[string]bool{
	"bool":    true,
	"int":     true,
	"int64":   true,
	"float64": true,
	"string":  true,
	"bytes":   true,
}

// Config represents the complete application configuration
type Config struct {
	Version string        `json:"version"` // Semantic version, a reload never goes backwards
	Runtime RuntimeConfig `json:"runtime"`
	NATS    NATSConfig    `json:"nats"`
	Network NetworkConfig `json:"network"`
	Metrics MetricsConfig `json:"metrics"`
	Log     LogConfig     `json:"log"`
	Ports   []PortConfig  `json:"ports,omitempty"`
}

// RuntimeConfig sizes the port runtime
type RuntimeConfig struct {
	RegistryCapacity    int `json:"registry_capacity,omitempty"`
	MaxPropagationDepth int `json:"max_propagation_depth,omitempty"`
}

// NATSConfig defines NATS connection settings
type NATSConfig struct {
	URLs          []string      `json:"urls,omitempty"`
	Name          string        `json:"name,omitempty"`
	MaxReconnects int           `json:"max_reconnects,omitempty"`
	ReconnectWait time.Duration `json:"reconnect_wait,omitempty"`
	Timeout       time.Duration `json:"timeout,omitempty"`
	PingInterval  time.Duration `json:"ping_interval,omitempty"`
	DrainTimeout  time.Duration `json:"drain_timeout,omitempty"`
	Compression   bool          `json:"compression,omitempty"`
	Username      string        `json:"username,omitempty"`
	Password      string        `json:"password,omitempty"`
	Token         string        `json:"token,omitempty"`
	TLS           NATSTLSConfig `json:"tls,omitempty"`
}

// NATSTLSConfig for secure NATS connections
type NATSTLSConfig struct {
	Enabled  bool   `json:"enabled"`
	CertFile string `json:"cert_file,omitempty"`
	KeyFile  string `json:"key_file,omitempty"`
	CAFile   string `json:"ca_file,omitempty"`
}

// NetworkConfig configures the port adapters
type NetworkConfig struct {
	Transport     string        `json:"transport"`
	SubjectPrefix string        `json:"subject_prefix,omitempty"`
	PullTimeout   time.Duration `json:"pull_timeout,omitempty"`
	InboxSize     int           `json:"inbox_size,omitempty"`
}

// MetricsConfig configures the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Port    int    `json:"port"`
	Path    string `json:"path,omitempty"`
}

// LogConfig configures the process logger
type LogConfig struct {
	Level  string `json:"level,omitempty"`
	Format string `json:"format,omitempty"`
}

// PortConfig declares one port and, optionally, its network binding
type PortConfig struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Mode    string `json:"mode,omitempty"`    // export, import or empty for a local port
	Subject string `json:"subject,omitempty"` // subject name override
	Queue   int    `json:"queue,omitempty"`

	// ConnectTo names the ports this port feeds
	ConnectTo []string `json:"connect_to,omitempty"`
}

// SafeConfig provides thread-safe access to configuration
type SafeConfig struct {
	mu     sync.RWMutex
	config *Config
}

// NewSafeConfig creates a new thread-safe config wrapper
func NewSafeConfig(cfg *Config) *SafeConfig {
	if cfg == nil {
		cfg = &Config{}
	}
	return &SafeConfig{
		config: cfg,
	}
}

// Get returns a deep copy of the current configuration
func (sc *SafeConfig) Get() *Config {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.config.Clone()
}

// Update atomically updates the configuration after validation
func (sc *SafeConfig) Update(cfg *Config) error {
	if cfg == nil {
		return errors.WrapInvalid(errors.ErrMissingConfig, "SafeConfig", "Update", "config cannot be nil")
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.config = cfg
	return nil
}

// Clone creates a deep copy of the configuration
func (c *Config) Clone() *Config {
	if c == nil {
		return &Config{}
	}

	data, err := json.Marshal(c)
	if err != nil {
		copied := *c
		return &copied
	}

	var clone Config
	if err := json.Unmarshal(data, &clone); err != nil {
		copied := *c
		return &copied
	}
	return &clone
}

func invalid(format string, args ...any) error {
	return errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrInvalidConfig, fmt.Sprintf(format, args...)),
		"Config", "Validate", "validate configuration")
}

// Validate checks if the config is valid
func (c *Config) Validate() error {
	if c.Version != "" {
		if _, _, _, err := parseSemVer(c.Version); err != nil {
			return invalid("version: %v", err)
		}
	}

	if c.Runtime.RegistryCapacity < 0 || c.Runtime.RegistryCapacity > handle.MaxCapacity {
		return invalid("runtime.registry_capacity must be between 0 and %d", handle.MaxCapacity)
	}
	if c.Runtime.MaxPropagationDepth < 0 {
		return invalid("runtime.max_propagation_depth cannot be negative")
	}

	switch c.Network.Transport {
	case TransportNATS:
		if len(c.NATS.URLs) == 0 {
			return invalid("nats.urls is required for the nats transport")
		}
	case TransportLoopback:
	default:
		return invalid("network.transport %q must be %q or %q", c.Network.Transport, TransportNATS, TransportLoopback)
	}
	if c.Network.SubjectPrefix != "" && !isValidNATSSubjectPart(c.Network.SubjectPrefix) {
		return invalid("network.subject_prefix %q is not valid for NATS subjects", c.Network.SubjectPrefix)
	}
	if c.Network.PullTimeout < 0 {
		return invalid("network.pull_timeout cannot be negative")
	}
	if c.Network.InboxSize < 0 {
		return invalid("network.inbox_size cannot be negative")
	}

	if c.NATS.TLS.Enabled {
		if err := c.validateTLS(); err != nil {
			return err
		}
	}

	if c.Metrics.Port < 0 || c.Metrics.Port > 65535 {
		return invalid("metrics.port %d out of range", c.Metrics.Port)
	}

	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return invalid("log.level %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "json", "text":
	default:
		return invalid("log.format %q", c.Log.Format)
	}

	seen := make(map[string]bool, len(c.Ports))
	for i, p := range c.Ports {
		if p.Name == "" {
			return invalid("ports[%d].name is required", i)
		}
		if seen[p.Name] {
			return invalid("ports[%d]: duplicate name %q", i, p.Name)
		}
		seen[p.Name] = true
		if !portTypes[p.Type] {
			return invalid("ports[%d] %s: unknown type %q", i, p.Name, p.Type)
		}
		switch p.Mode {
		case "", "export", "import":
		default:
			return invalid("ports[%d] %s: mode %q must be export or import", i, p.Name, p.Mode)
		}
		if p.Queue < 0 {
			return invalid("ports[%d] %s: queue cannot be negative", i, p.Name)
		}
	}
	for _, p := range c.Ports {
		for _, dst := range p.ConnectTo {
			if dst == p.Name {
				return invalid("ports %s: cannot connect to itself", p.Name)
			}
			if !seen[dst] {
				return invalid("ports %s: connect_to names unknown port %q", p.Name, dst)
			}
		}
	}

	return nil
}

func (c *Config) validateTLS() error {
	tls := c.NATS.TLS
	if (tls.CertFile == "") != (tls.KeyFile == "") {
		return invalid("nats.tls.cert_file and nats.tls.key_file must be set together")
	}
	for _, f := range []string{tls.CertFile, tls.KeyFile, tls.CAFile} {
		if f == "" {
			continue
		}
		if _, err := os.Stat(f); err != nil {
			return invalid("nats.tls: %v", err)
		}
	}
	return nil
}

// isValidNATSSubjectPart checks if a string is valid for use in NATS subjects.
// Valid characters are alphanumeric, dots, dashes, and underscores.
func isValidNATSSubjectPart(s string) bool {
	if len(s) == 0 {
		return false
	}
	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) &&
			r != '-' && r != '_' && r != '.' {
			return false
		}
	}
	return true
}

// Loader handles configuration loading with layers and overrides
type Loader struct {
	layers     []string
	validation bool
	envPrefix  string
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		layers:     []string{},
		validation: false,
		envPrefix:  "DATAPORTS",
	}
}

// AddLayer adds a configuration file layer. Later layers override earlier ones.
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// Layers returns the configured file layers
func (l *Loader) Layers() []string {
	return append([]string(nil), l.layers...)
}

// EnableValidation enables or disables configuration validation
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// LoadFile loads configuration from a single file
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load loads and merges all configuration layers
func (l *Loader) Load() (*Config, error) {
	cfg := Defaults()

	for _, path := range l.layers {
		raw, err := l.loadRaw(path)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Loader", "Load", fmt.Sprintf("load %s", path))
		}
		if cfg, err = l.mergeFromMap(cfg, raw); err != nil {
			return nil, errors.WrapInvalid(err, "Loader", "Load", fmt.Sprintf("merge %s", path))
		}
	}

	if err := l.applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// Defaults returns the configuration used before any layer is applied
func Defaults() *Config {
	return &Config{
		NATS: NATSConfig{
			URLs:          []string{"nats://localhost:4222"},
			Name:          "dataports",
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
			Timeout:       5 * time.Second,
		},
		Network: NetworkConfig{
			Transport:     TransportNATS,
			SubjectPrefix: "dataports",
			PullTimeout:   time.Second,
			InboxSize:     1024,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
			Path:    "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// loadRaw loads a JSON or YAML file as a map
func (l *Loader) loadRaw(path string) (map[string]any, error) {
	data, format, err := readGraphFile(path)
	if err != nil {
		return nil, err
	}

	var raw map[string]any
	switch format {
	case formatYAML:
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("%w: %v", errors.ErrInvalidData, err)
		}
	default:
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("%w: %v", errors.ErrInvalidData, err)
		}
	}

	if err := parseDurations(raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// mergeFromMap merges configuration from a raw map, only overriding fields present in the map
func (l *Loader) mergeFromMap(base *Config, override map[string]any) (*Config, error) {
	if override == nil {
		return base, nil
	}

	baseJSON, err := json.Marshal(base)
	if err != nil {
		return nil, err
	}
	var baseMap map[string]any
	if err := json.Unmarshal(baseJSON, &baseMap); err != nil {
		return nil, err
	}

	mergedJSON, err := json.Marshal(deepMergeMaps(baseMap, override))
	if err != nil {
		return nil, err
	}
	var merged Config
	if err := json.Unmarshal(mergedJSON, &merged); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrInvalidData, err)
	}
	return &merged, nil
}

// deepMergeMaps recursively merges two maps, with override taking precedence.
// Lists are replaced, not merged.
func deepMergeMaps(base, override map[string]any) map[string]any {
	result := make(map[string]any, len(base))
	for k, v := range base {
		result[k] = v
	}

	for k, v := range override {
		if v == nil {
			continue
		}
		if baseMap, ok := base[k].(map[string]any); ok {
			if overrideMap, ok := v.(map[string]any); ok {
				result[k] = deepMergeMaps(baseMap, overrideMap)
				continue
			}
		}
		result[k] = v
	}
	return result
}

// durationFields lists the duration settings that may be written as strings
var durationFields = map[string][]string{
	"nats":    {"reconnect_wait", "timeout", "ping_interval", "drain_timeout"},
	"network": {"pull_timeout"},
}

// parseDurations converts duration strings to nanoseconds for json unmarshaling
func parseDurations(data map[string]any) error {
	for section, keys := range durationFields {
		m, ok := data[section].(map[string]any)
		if !ok {
			continue
		}
		for _, key := range keys {
			s, ok := m[key].(string)
			if !ok {
				continue
			}
			d, err := time.ParseDuration(s)
			if err != nil {
				return fmt.Errorf("%w: %s.%s: %v", errors.ErrInvalidConfig, section, key, err)
			}
			m[key] = d.Nanoseconds()
		}
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides
func (l *Loader) applyEnvOverrides(cfg *Config) error {
	var errs []error
	get := func(name string) string {
		key := l.envPrefix + "_" + name
		val := os.Getenv(key)
		if err := checkEnvValue(key, val); err != nil {
			errs = append(errs, err)
			return ""
		}
		return val
	}

	if val := get("NATS_URLS"); val != "" {
		cfg.NATS.URLs = strings.Split(val, ",")
	}
	if val := get("NATS_USERNAME"); val != "" {
		cfg.NATS.Username = val
	}
	if val := get("NATS_PASSWORD"); val != "" {
		cfg.NATS.Password = val
	}
	if val := get("NATS_TOKEN"); val != "" {
		cfg.NATS.Token = val
	}
	if val := get("TRANSPORT"); val != "" {
		cfg.Network.Transport = val
	}
	if val := get("PULL_TIMEOUT"); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s_PULL_TIMEOUT: %w", l.envPrefix, err))
		} else {
			cfg.Network.PullTimeout = d
		}
	}
	if val := get("METRICS_PORT"); val != "" {
		port, err := strconv.Atoi(val)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s_METRICS_PORT: %w", l.envPrefix, err))
		} else {
			cfg.Metrics.Port = port
		}
	}
	if val := get("LOG_LEVEL"); val != "" {
		cfg.Log.Level = val
	}

	if err := stderrors.Join(errs...); err != nil {
		return errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err), "Loader", "Load", "apply environment overrides")
	}
	return nil
}

// SaveToFile saves the configuration to a JSON or YAML file
func (c *Config) SaveToFile(path string) error {
	format, err := checkGraphPath(path)
	if err != nil {
		return err
	}

	var data []byte
	switch format {
	case formatYAML:
		var m map[string]any
		if m, err = c.toMap(); err == nil {
			data, err = yaml.Marshal(m)
		}
	default:
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return errors.WrapInvalid(err, "Config", "SaveToFile", "encode configuration")
	}
	return writeGraphFile(path, data)
}

func (c *Config) toMap() (map[string]any, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// Port returns the declared port with the given name
func (c *Config) Port(name string) (PortConfig, bool) {
	for _, p := range c.Ports {
		if p.Name == name {
			return p, true
		}
	}
	return PortConfig{}, false
}

// String returns a JSON representation of the config with secrets masked
func (c *Config) String() string {
	clone := c.Clone()
	if clone.NATS.Password != "" {
		clone.NATS.Password = "***"
	}
	if clone.NATS.Token != "" {
		clone.NATS.Token = "***"
	}
	data, _ := json.MarshalIndent(clone, "", "  ")
	return string(data)
}

// CompareVersions compares two semver version strings
// Returns:
//
//	-1 if v1 < v2
//	 0 if v1 == v2
//	 1 if v1 > v2
//	error if either version is invalid
func CompareVersions(v1, v2 string) (int, error) {
	major1, minor1, patch1, err := parseSemVer(v1)
	if err != nil {
		return 0, fmt.Errorf("invalid version '%s': %w", v1, err)
	}
	major2, minor2, patch2, err := parseSemVer(v2)
	if err != nil {
		return 0, fmt.Errorf("invalid version '%s': %w", v2, err)
	}

	for _, pair := range [][2]int{{major1, major2}, {minor1, minor2}, {patch1, patch2}} {
		switch {
		case pair[0] > pair[1]:
			return 1, nil
		case pair[0] < pair[1]:
			return -1, nil
		}
	}
	return 0, nil
}

// parseSemVer parses a semantic version string (e.g., "1.2.3")
func parseSemVer(version string) (int, int, int, error) {
	if version == "" {
		return 0, 0, 0, stderrors.New("version cannot be empty")
	}

	version = strings.TrimPrefix(version, "v")
	parts := strings.Split(version, ".")
	if len(parts) != 3 {
		return 0, 0, 0, fmt.Errorf("version must be in format 'major.minor.patch', got '%s'", version)
	}

	var nums [3]int
	for i, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return 0, 0, 0, fmt.Errorf("invalid version component '%s'", part)
		}
		nums[i] = n
	}
	return nums[0], nums[1], nums[2], nil
}
