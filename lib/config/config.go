// Package config loads HoneyLink's layered configuration: a YAML file
// overridden by HONEYLINK_<SECTION>_<FIELD> environment variables, with
// each section validated via its own CheckAndSetDefaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/gravitational/trace"
	"gopkg.in/yaml.v3"
)

// TransportConfig configures the transport manager and connection pool.
type TransportConfig struct {
	ListenAddress              string `yaml:"listen_address"`
	MaxConnections             int    `yaml:"max_connections"`
	ConnectionTimeoutSecs      int    `yaml:"connection_timeout_secs"`
	EnableQUIC                 bool   `yaml:"enable_quic"`
	EnableWebRTC               bool   `yaml:"enable_webrtc"`
	QUICIdleTimeoutSecs        int    `yaml:"quic_idle_timeout_secs"`
	MaxStreamsPerConnection    int    `yaml:"max_streams_per_connection"`
}

// CheckAndSetDefaults validates t, filling in defaults for zero fields.
func (t *TransportConfig) CheckAndSetDefaults() error {
	if t.ListenAddress == "" {
		t.ListenAddress = "0.0.0.0:7400"
	}
	if t.MaxConnections == 0 {
		t.MaxConnections = 1024
	}
	if t.ConnectionTimeoutSecs == 0 {
		t.ConnectionTimeoutSecs = 30
	}
	if t.QUICIdleTimeoutSecs == 0 {
		t.QUICIdleTimeoutSecs = 30
	}
	if t.MaxStreamsPerConnection == 0 {
		t.MaxStreamsPerConnection = 16
	}
	if !t.EnableQUIC && !t.EnableWebRTC {
		t.EnableQUIC = true
	}
	return nil
}

// QoSConfig configures bandwidth and priority enforcement defaults.
type QoSConfig struct {
	MaxBandwidthMbps          int  `yaml:"max_bandwidth_mbps"`
	PriorityLevels            int  `yaml:"priority_levels"`
	DefaultPriority           int  `yaml:"default_priority"`
	EnableBandwidthEnforcement bool `yaml:"enable_bandwidth_enforcement"`
}

// CheckAndSetDefaults validates q, filling in defaults for zero fields.
func (q *QoSConfig) CheckAndSetDefaults() error {
	if q.MaxBandwidthMbps == 0 {
		q.MaxBandwidthMbps = 100
	}
	if q.PriorityLevels == 0 {
		q.PriorityLevels = 8
	}
	if q.PriorityLevels < 1 || q.PriorityLevels > 8 {
		return trace.BadParameter("qos.priority_levels must be in 1..8, got %d", q.PriorityLevels)
	}
	if q.DefaultPriority == 0 {
		q.DefaultPriority = 1
	}
	if q.DefaultPriority < 1 || q.DefaultPriority > q.PriorityLevels {
		return trace.BadParameter("qos.default_priority must be in 1..%d, got %d", q.PriorityLevels, q.DefaultPriority)
	}
	return nil
}

// DiscoveryConfig configures peer discovery advertisement feeds.
type DiscoveryConfig struct {
	EnableMDNS          bool   `yaml:"enable_mdns"`
	EnableManual        bool   `yaml:"enable_manual"`
	DiscoveryTimeoutSecs int   `yaml:"discovery_timeout_secs"`
	MDNSServiceName     string `yaml:"mdns_service_name"`
}

// CheckAndSetDefaults validates d, filling in defaults for zero fields.
func (d *DiscoveryConfig) CheckAndSetDefaults() error {
	if d.DiscoveryTimeoutSecs == 0 {
		d.DiscoveryTimeoutSecs = 5
	}
	if d.MDNSServiceName == "" {
		d.MDNSServiceName = "_honeylink._tcp"
	}
	if !d.EnableMDNS && !d.EnableManual {
		d.EnableManual = true
	}
	return nil
}

// LogFormat is the structured-log rendering mode.
type LogFormat string

const (
	LogFormatCompact LogFormat = "compact"
	LogFormatPretty  LogFormat = "pretty"
	LogFormatJSON    LogFormat = "json"
)

// LoggingConfig configures the logrus-based logger.
type LoggingConfig struct {
	Level             string    `yaml:"level"` // error|warn|info|debug|trace
	Format            LogFormat `yaml:"format"`
	EnableFileLogging bool      `yaml:"enable_file_logging"`
	LogFilePath       string    `yaml:"log_file_path,omitempty"`
}

var validLogLevels = map[string]bool{"error": true, "warn": true, "info": true, "debug": true, "trace": true}

// CheckAndSetDefaults validates l, filling in defaults for zero fields.
func (l *LoggingConfig) CheckAndSetDefaults() error {
	if l.Level == "" {
		l.Level = "info"
	}
	if !validLogLevels[l.Level] {
		return trace.BadParameter("logging.level %q is not one of error|warn|info|debug|trace", l.Level)
	}
	if l.Format == "" {
		l.Format = LogFormatJSON
	}
	switch l.Format {
	case LogFormatCompact, LogFormatPretty, LogFormatJSON:
	default:
		return trace.BadParameter("logging.format %q is not one of compact|pretty|json", l.Format)
	}
	if l.EnableFileLogging && l.LogFilePath == "" {
		return trace.BadParameter("logging.log_file_path is required when enable_file_logging is true")
	}
	return nil
}

// TelemetryConfig configures the SLI/metrics export pipeline.
type TelemetryConfig struct {
	Enabled                   bool    `yaml:"enabled"`
	OTLPEndpoint              string  `yaml:"otlp_endpoint"`
	ServiceName               string  `yaml:"service_name"`
	ServiceVersion             string  `yaml:"service_version"`
	Environment               string  `yaml:"environment"`
	MetricsExportIntervalSecs int     `yaml:"metrics_export_interval_secs"`
	TraceSamplingRatio        float64 `yaml:"trace_sampling_ratio"`
}

// CheckAndSetDefaults validates t, filling in defaults for zero fields.
func (t *TelemetryConfig) CheckAndSetDefaults() error {
	if t.ServiceName == "" {
		t.ServiceName = "honeylinkd"
	}
	if t.ServiceVersion == "" {
		t.ServiceVersion = "dev"
	}
	if t.Environment == "" {
		t.Environment = "development"
	}
	if t.MetricsExportIntervalSecs == 0 {
		t.MetricsExportIntervalSecs = 30
	}
	if t.TraceSamplingRatio == 0 {
		t.TraceSamplingRatio = 0.1
	}
	if t.TraceSamplingRatio < 0 || t.TraceSamplingRatio > 1 {
		return trace.BadParameter("telemetry.trace_sampling_ratio must be in 0.0..=1.0, got %v", t.TraceSamplingRatio)
	}
	if t.Enabled && t.OTLPEndpoint == "" {
		return trace.BadParameter("telemetry.otlp_endpoint is required when telemetry is enabled")
	}
	return nil
}

// Config is the full, validated HoneyLink daemon configuration.
type Config struct {
	Transport TransportConfig `yaml:"transport"`
	QoS       QoSConfig       `yaml:"qos"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// CheckAndSetDefaults validates every section of c.
func (c *Config) CheckAndSetDefaults() error {
	if err := c.Transport.CheckAndSetDefaults(); err != nil {
		return trace.Wrap(err, "transport")
	}
	if err := c.QoS.CheckAndSetDefaults(); err != nil {
		return trace.Wrap(err, "qos")
	}
	if err := c.Discovery.CheckAndSetDefaults(); err != nil {
		return trace.Wrap(err, "discovery")
	}
	if err := c.Logging.CheckAndSetDefaults(); err != nil {
		return trace.Wrap(err, "logging")
	}
	if err := c.Telemetry.CheckAndSetDefaults(); err != nil {
		return trace.Wrap(err, "telemetry")
	}
	return nil
}

// LoadFromFile reads and parses a YAML config file at path. An empty
// path yields a zero-value Config (ENV-only configuration).
func LoadFromFile(path string) (Config, error) {
	var c Config
	if path == "" {
		return c, nil
	}
	buf, err := os.ReadFile(path)
	if err != nil {
		return c, trace.Wrap(err, "reading config file %s", path)
	}
	if err := yaml.Unmarshal(buf, &c); err != nil {
		return c, trace.Wrap(err, "parsing config file %s", path)
	}
	return c, nil
}

// Load reads path (if non-empty), applies HONEYLINK_<SECTION>_<FIELD>
// environment overrides, then validates and fills defaults.
func Load(path string) (Config, error) {
	c, err := LoadFromFile(path)
	if err != nil {
		return c, trace.Wrap(err)
	}
	if err := applyEnvOverrides(&c); err != nil {
		return c, trace.Wrap(err, "applying environment overrides")
	}
	if err := c.CheckAndSetDefaults(); err != nil {
		return c, trace.Wrap(err)
	}
	return c, nil
}

// envOverrideTable maps a HONEYLINK_<SECTION>_<FIELD> suffix to a setter
// applied against c.
var envOverrideTable = []struct {
	key string
	set func(c *Config, v string) error
}{
	{"TRANSPORT_LISTEN_ADDRESS", func(c *Config, v string) error { c.Transport.ListenAddress = v; return nil }},
	{"TRANSPORT_MAX_CONNECTIONS", intSetter(func(c *Config) *int { return &c.Transport.MaxConnections })},
	{"TRANSPORT_CONNECTION_TIMEOUT_SECS", intSetter(func(c *Config) *int { return &c.Transport.ConnectionTimeoutSecs })},
	{"TRANSPORT_ENABLE_QUIC", boolSetter(func(c *Config) *bool { return &c.Transport.EnableQUIC })},
	{"TRANSPORT_ENABLE_WEBRTC", boolSetter(func(c *Config) *bool { return &c.Transport.EnableWebRTC })},
	{"TRANSPORT_QUIC_IDLE_TIMEOUT_SECS", intSetter(func(c *Config) *int { return &c.Transport.QUICIdleTimeoutSecs })},
	{"TRANSPORT_MAX_STREAMS_PER_CONNECTION", intSetter(func(c *Config) *int { return &c.Transport.MaxStreamsPerConnection })},

	{"QOS_MAX_BANDWIDTH_MBPS", intSetter(func(c *Config) *int { return &c.QoS.MaxBandwidthMbps })},
	{"QOS_PRIORITY_LEVELS", intSetter(func(c *Config) *int { return &c.QoS.PriorityLevels })},
	{"QOS_DEFAULT_PRIORITY", intSetter(func(c *Config) *int { return &c.QoS.DefaultPriority })},
	{"QOS_ENABLE_BANDWIDTH_ENFORCEMENT", boolSetter(func(c *Config) *bool { return &c.QoS.EnableBandwidthEnforcement })},

	{"DISCOVERY_ENABLE_MDNS", boolSetter(func(c *Config) *bool { return &c.Discovery.EnableMDNS })},
	{"DISCOVERY_ENABLE_MANUAL", boolSetter(func(c *Config) *bool { return &c.Discovery.EnableManual })},
	{"DISCOVERY_DISCOVERY_TIMEOUT_SECS", intSetter(func(c *Config) *int { return &c.Discovery.DiscoveryTimeoutSecs })},
	{"DISCOVERY_MDNS_SERVICE_NAME", func(c *Config, v string) error { c.Discovery.MDNSServiceName = v; return nil }},

	{"LOGGING_LEVEL", func(c *Config, v string) error { c.Logging.Level = v; return nil }},
	{"LOGGING_FORMAT", func(c *Config, v string) error { c.Logging.Format = LogFormat(v); return nil }},
	{"LOGGING_ENABLE_FILE_LOGGING", boolSetter(func(c *Config) *bool { return &c.Logging.EnableFileLogging })},
	{"LOGGING_LOG_FILE_PATH", func(c *Config, v string) error { c.Logging.LogFilePath = v; return nil }},

	{"TELEMETRY_ENABLED", boolSetter(func(c *Config) *bool { return &c.Telemetry.Enabled })},
	{"TELEMETRY_OTLP_ENDPOINT", func(c *Config, v string) error { c.Telemetry.OTLPEndpoint = v; return nil }},
	{"TELEMETRY_SERVICE_NAME", func(c *Config, v string) error { c.Telemetry.ServiceName = v; return nil }},
	{"TELEMETRY_SERVICE_VERSION", func(c *Config, v string) error { c.Telemetry.ServiceVersion = v; return nil }},
	{"TELEMETRY_ENVIRONMENT", func(c *Config, v string) error { c.Telemetry.Environment = v; return nil }},
	{"TELEMETRY_METRICS_EXPORT_INTERVAL_SECS", intSetter(func(c *Config) *int { return &c.Telemetry.MetricsExportIntervalSecs })},
	{"TELEMETRY_TRACE_SAMPLING_RATIO", floatSetter(func(c *Config) *float64 { return &c.Telemetry.TraceSamplingRatio })},
}

func intSetter(field func(c *Config) *int) func(c *Config, v string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*field(c) = n
		return nil
	}
}

func boolSetter(field func(c *Config) *bool) func(c *Config, v string) error {
	return func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*field(c) = b
		return nil
	}
}

func floatSetter(field func(c *Config) *float64) func(c *Config, v string) error {
	return func(c *Config, v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		*field(c) = f
		return nil
	}
}

// applyEnvOverrides applies every HONEYLINK_<SECTION>_<FIELD> variable
// present in the environment, taking precedence over file values.
func applyEnvOverrides(c *Config) error {
	for _, e := range envOverrideTable {
		v, ok := os.LookupEnv("HONEYLINK_" + e.key)
		if !ok || v == "" {
			continue
		}
		if err := e.set(c, v); err != nil {
			return fmt.Errorf("%s: %w", strings.ToLower(e.key), err)
		}
	}
	return nil
}
