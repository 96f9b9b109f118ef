package config

import (
	"bufio"
	"flag"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultPort is the MQTT over TLS port used when the endpoint has none.
const DefaultPort = 8883

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Value   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("configuration validation failed for %s=%s: %s", e.Field, e.Value, e.Message)
}

// ConfigLoader provides unified configuration loading with priority handling
type ConfigLoader struct {
	envVars map[string]string
	logger  *zap.Logger
}

// NewConfigLoader creates a new configuration loader
func NewConfigLoader() *ConfigLoader {
	return &ConfigLoader{
		envVars: make(map[string]string),
	}
}

// WithLogger sets the logger for the config loader
func (cl *ConfigLoader) WithLogger(logger *zap.Logger) *ConfigLoader {
	cl.logger = logger
	return cl
}

// LoadEnvFile loads environment variables from .env file
func (cl *ConfigLoader) LoadEnvFile(filename string) error {
	file, err := os.Open(filename)
	if err != nil {
		// File doesn't exist, not an error
		if cl.logger != nil {
			cl.logger.Debug("Environment file not found", zap.String("file", filename))
		}
		return nil
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			if cl.logger != nil {
				cl.logger.Warn("Invalid line in env file",
					zap.String("file", filename),
					zap.Int("line", lineNum))
			}
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		// Remove quotes if present
		if len(value) >= 2 {
			if (strings.HasPrefix(value, `"`) && strings.HasSuffix(value, `"`)) ||
				(strings.HasPrefix(value, `'`) && strings.HasSuffix(value, `'`)) {
				value = value[1 : len(value)-1]
			}
		}

		cl.envVars[key] = value
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading env file %s: %w", filename, err)
	}

	if cl.logger != nil {
		cl.logger.Debug("Loaded environment file",
			zap.String("file", filename),
			zap.Int("variables", len(cl.envVars)))
	}

	return nil
}

// GetString gets string value with priority: env → file → default
func (cl *ConfigLoader) GetString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}

	if value, exists := cl.envVars[key]; exists {
		return value
	}

	return defaultValue
}

// GetInt gets int value with validation
func (cl *ConfigLoader) GetInt(key string, defaultValue int) (int, error) {
	value := cl.GetString(key, "")
	if value == "" {
		return defaultValue, nil
	}

	intVal, err := strconv.Atoi(value)
	if err != nil {
		return 0, ValidationError{
			Field:   key,
			Value:   value,
			Message: "must be a valid integer",
		}
	}

	return intVal, nil
}

// GetIntInRange gets int value with range validation
func (cl *ConfigLoader) GetIntInRange(key string, defaultValue, min, max int) (int, error) {
	value, err := cl.GetInt(key, defaultValue)
	if err != nil {
		return 0, err
	}

	if value < min || value > max {
		return 0, ValidationError{
			Field:   key,
			Value:   strconv.Itoa(value),
			Message: fmt.Sprintf("must be between %d and %d", min, max),
		}
	}

	return value, nil
}

// GetBool gets bool value with validation
func (cl *ConfigLoader) GetBool(key string, defaultValue bool) (bool, error) {
	value := cl.GetString(key, "")
	if value == "" {
		return defaultValue, nil
	}

	boolVal, err := strconv.ParseBool(value)
	if err != nil {
		return false, ValidationError{
			Field:   key,
			Value:   value,
			Message: "must be true/false or 1/0",
		}
	}

	return boolVal, nil
}

// GetDuration gets duration value with validation
func (cl *ConfigLoader) GetDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := cl.GetString(key, "")
	if value == "" {
		return defaultValue, nil
	}

	if duration, err := time.ParseDuration(value); err == nil {
		return duration, nil
	}

	// Plain numbers are seconds
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second, nil
	}

	return 0, ValidationError{
		Field:   key,
		Value:   value,
		Message: "must be a valid duration (e.g., '10s', '5m') or number of seconds",
	}
}

// GetDurationInRange gets duration value with range validation
func (cl *ConfigLoader) GetDurationInRange(key string, defaultValue, min, max time.Duration) (time.Duration, error) {
	value, err := cl.GetDuration(key, defaultValue)
	if err != nil {
		return 0, err
	}
	if err := ValidateDurationRange(key, value, min, max); err != nil {
		return 0, err
	}
	return value, nil
}

// ValidateDurationRange checks min <= value <= max
func ValidateDurationRange(key string, value, min, max time.Duration) error {
	if value < min || value > max {
		return ValidationError{
			Field:   key,
			Value:   value.String(),
			Message: fmt.Sprintf("must be between %s and %s", min, max),
		}
	}
	return nil
}

// ValidateEndpoint validates a broker endpoint of the form
// mqtts://host[:port]. ssl:// and tls:// are accepted as aliases.
func (cl *ConfigLoader) ValidateEndpoint(key, value string) error {
	if value == "" {
		return ValidationError{
			Field:   key,
			Value:   value,
			Message: "endpoint cannot be empty",
		}
	}

	u, err := url.Parse(value)
	if err != nil {
		return ValidationError{
			Field:   key,
			Value:   value,
			Message: "must be a URL like mqtts://host:port",
		}
	}

	switch strings.ToLower(u.Scheme) {
	case "mqtts", "ssl", "tls":
	default:
		return ValidationError{
			Field:   key,
			Value:   value,
			Message: "scheme must be mqtts, ssl or tls",
		}
	}

	if u.Hostname() == "" {
		return ValidationError{
			Field:   key,
			Value:   value,
			Message: "host cannot be empty",
		}
	}

	if port := u.Port(); port != "" {
		if portNum, err := strconv.Atoi(port); err != nil || portNum < 1 || portNum > 65535 {
			return ValidationError{
				Field:   key,
				Value:   value,
				Message: "port must be between 1 and 65535",
			}
		}
	}

	return nil
}

// ValidateTopic ensures a topic can be published to
func (cl *ConfigLoader) ValidateTopic(key, value string) error {
	if value == "" {
		return ValidationError{
			Field:   key,
			Value:   value,
			Message: "topic cannot be empty",
		}
	}
	if strings.ContainsAny(value, "+#") {
		return ValidationError{
			Field:   key,
			Value:   value,
			Message: "topic cannot contain wildcards",
		}
	}
	return nil
}

// ValidateRequired ensures a required field is not empty
func (cl *ConfigLoader) ValidateRequired(key, value string) error {
	if value == "" {
		return ValidationError{
			Field:   key,
			Value:   value,
			Message: "is required and cannot be empty",
		}
	}
	return nil
}

// ValidateDirectory ensures a directory path is valid
func (cl *ConfigLoader) ValidateDirectory(key, value string) error {
	if value == "" {
		return ValidationError{
			Field:   key,
			Value:   value,
			Message: "directory path cannot be empty",
		}
	}

	info, err := os.Stat(value)
	if err != nil {
		if os.IsNotExist(err) {
			return ValidationError{
				Field:   key,
				Value:   value,
				Message: "directory does not exist",
			}
		}
		return ValidationError{
			Field:   key,
			Value:   value,
			Message: fmt.Sprintf("cannot access directory: %v", err),
		}
	}

	if !info.IsDir() {
		return ValidationError{
			Field:   key,
			Value:   value,
			Message: "path exists but is not a directory",
		}
	}

	return nil
}

// DeviceConfig holds configuration for the device agent
type DeviceConfig struct {
	Endpoint          string
	ClientID          string // derived from the hardware fingerprint when empty
	Topic             string
	QoS               int
	MessagePrefix     string
	PublishInterval   time.Duration
	ConnectTimeout    time.Duration
	KeepAlive         time.Duration
	Interface         string // empty selects the first up non-loopback interface
	InterfaceTimeout  time.Duration
	CertDir           string // empty uses the embedded credentials
	AttachSystemRoots bool
	Debug             bool
}

// DefaultDeviceConfig returns default configuration for the device agent
func DefaultDeviceConfig() *DeviceConfig {
	return &DeviceConfig{
		Endpoint:          fmt.Sprintf("mqtts://localhost:%d", DefaultPort),
		Topic:             "devlink/telemetry",
		QoS:               1,
		MessagePrefix:     "Hello from devlink",
		PublishInterval:   10 * time.Second,
		ConnectTimeout:    10 * time.Second,
		KeepAlive:         30 * time.Second,
		InterfaceTimeout:  30 * time.Second,
		AttachSystemRoots: true,
	}
}

// LoadDeviceConfig loads device configuration with validation.
// args are the command line arguments without the program name.
func LoadDeviceConfig(args []string) (*DeviceConfig, error) {
	return loadDeviceConfig(NewConfigLoader(), ".env", args)
}

func loadDeviceConfig(loader *ConfigLoader, envFile string, args []string) (*DeviceConfig, error) {
	if err := loader.LoadEnvFile(envFile); err != nil {
		return nil, fmt.Errorf("failed to load environment file: %w", err)
	}

	config := DefaultDeviceConfig()
	var validationErrors []error

	config.Endpoint = loader.GetString("DEVLINK_ENDPOINT", config.Endpoint)
	config.ClientID = loader.GetString("DEVLINK_CLIENT_ID", config.ClientID)
	config.Topic = loader.GetString("DEVLINK_TOPIC", config.Topic)
	config.MessagePrefix = loader.GetString("DEVLINK_MESSAGE_PREFIX", config.MessagePrefix)
	config.Interface = loader.GetString("NETIF", config.Interface)
	config.CertDir = loader.GetString("CERT_DIR", config.CertDir)

	if qos, err := loader.GetIntInRange("DEVLINK_QOS", config.QoS, 0, 2); err != nil {
		validationErrors = append(validationErrors, err)
	} else {
		config.QoS = qos
	}

	if interval, err := loader.GetDurationInRange("PUBLISH_INTERVAL", config.PublishInterval, time.Second, time.Hour); err != nil {
		validationErrors = append(validationErrors, err)
	} else {
		config.PublishInterval = interval
	}

	if timeout, err := loader.GetDurationInRange("CONNECT_TIMEOUT", config.ConnectTimeout, time.Second, 300*time.Second); err != nil {
		validationErrors = append(validationErrors, err)
	} else {
		config.ConnectTimeout = timeout
	}

	if keepAlive, err := loader.GetDurationInRange("KEEPALIVE", config.KeepAlive, 5*time.Second, time.Hour); err != nil {
		validationErrors = append(validationErrors, err)
	} else {
		config.KeepAlive = keepAlive
	}

	if netifTimeout, err := loader.GetDurationInRange("NETIF_TIMEOUT", config.InterfaceTimeout, time.Second, 600*time.Second); err != nil {
		validationErrors = append(validationErrors, err)
	} else {
		config.InterfaceTimeout = netifTimeout
	}

	if attach, err := loader.GetBool("ATTACH_SYSTEM_ROOTS", config.AttachSystemRoots); err != nil {
		validationErrors = append(validationErrors, err)
	} else {
		config.AttachSystemRoots = attach
	}

	if debug, err := loader.GetBool("DEBUG", config.Debug); err != nil {
		validationErrors = append(validationErrors, err)
	} else {
		config.Debug = debug
	}

	// Command line flags (highest priority), defaulting to the values above
	fs := flag.NewFlagSet("devlink", flag.ContinueOnError)
	endpoint := fs.String("endpoint", config.Endpoint, "Broker endpoint (mqtts://host:port)")
	clientID := fs.String("client-id", config.ClientID, "MQTT client identifier (derived from hardware when empty)")
	topic := fs.String("topic", config.Topic, "Topic to subscribe and publish to")
	qos := fs.Int("qos", config.QoS, "Quality of service for subscribe and publish (0-2)")
	prefix := fs.String("message-prefix", config.MessagePrefix, "Prefix of published messages")
	publishInterval := fs.Duration("publish-interval", config.PublishInterval, "Interval between published messages")
	connectTimeout := fs.Duration("connect-timeout", config.ConnectTimeout, "Broker connection timeout")
	keepAlive := fs.Duration("keepalive", config.KeepAlive, "MQTT keepalive interval")
	iface := fs.String("netif", config.Interface, "Network interface to wait for")
	ifaceTimeout := fs.Duration("netif-timeout", config.InterfaceTimeout, "How long to wait for the network interface")
	certDir := fs.String("cert-dir", config.CertDir, "Directory holding ca.crt, device.crt and device.key (embedded when empty)")
	attach := fs.Bool("attach-system-roots", config.AttachSystemRoots, "Trust the host certificate bundle in addition to the CA")
	debug := fs.Bool("debug", config.Debug, "Enable debug mode")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("failed to parse flags: %w", err)
	}

	config.Endpoint = *endpoint
	config.ClientID = *clientID
	config.Topic = *topic
	config.MessagePrefix = *prefix
	config.Interface = *iface
	config.CertDir = *certDir
	config.AttachSystemRoots = *attach
	config.Debug = *debug

	if err := loader.ValidateEndpoint("endpoint", config.Endpoint); err != nil {
		validationErrors = append(validationErrors, err)
	}
	if err := loader.ValidateTopic("topic", config.Topic); err != nil {
		validationErrors = append(validationErrors, err)
	}
	if err := loader.ValidateRequired("message-prefix", config.MessagePrefix); err != nil {
		validationErrors = append(validationErrors, err)
	}
	if len(config.ClientID) > 128 {
		validationErrors = append(validationErrors, ValidationError{
			Field:   "client-id",
			Value:   config.ClientID,
			Message: "must be at most 128 characters",
		})
	}
	if config.CertDir != "" {
		if err := loader.ValidateDirectory("cert-dir", config.CertDir); err != nil {
			validationErrors = append(validationErrors, err)
		}
	}

	if *qos < 0 || *qos > 2 {
		validationErrors = append(validationErrors, ValidationError{
			Field:   "qos",
			Value:   strconv.Itoa(*qos),
			Message: "must be between 0 and 2",
		})
	} else {
		config.QoS = *qos
	}

	for _, d := range []struct {
		field    string
		value    time.Duration
		min, max time.Duration
		dst      *time.Duration
	}{
		{"publish-interval", *publishInterval, time.Second, time.Hour, &config.PublishInterval},
		{"connect-timeout", *connectTimeout, time.Second, 300 * time.Second, &config.ConnectTimeout},
		{"keepalive", *keepAlive, 5 * time.Second, time.Hour, &config.KeepAlive},
		{"netif-timeout", *ifaceTimeout, time.Second, 600 * time.Second, &config.InterfaceTimeout},
	} {
		if err := ValidateDurationRange(d.field, d.value, d.min, d.max); err != nil {
			validationErrors = append(validationErrors, err)
		} else {
			*d.dst = d.value
		}
	}

	if len(validationErrors) > 0 {
		var errMsg strings.Builder
		errMsg.WriteString("Configuration validation failed:\n")
		for _, err := range validationErrors {
			errMsg.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
		}
		return nil, fmt.Errorf("%s", errMsg.String())
	}

	return config, nil
}

// BrokerURL returns the endpoint in the form the MQTT client dials:
// mqtts is rewritten to ssl and the default port is filled in.
func (c *DeviceConfig) BrokerURL() string {
	u, err := url.Parse(c.Endpoint)
	if err != nil {
		return c.Endpoint
	}
	if strings.EqualFold(u.Scheme, "mqtts") {
		u.Scheme = "ssl"
	}
	if u.Port() == "" {
		u.Host = net.JoinHostPort(u.Hostname(), strconv.Itoa(DefaultPort))
	}
	return u.String()
}

// IDSource derives a client identifier from the hardware.
type IDSource interface {
	ClientID(prefix string) (string, error)
}

// ResolveClientID fills in ClientID when none was configured, preferring the
// hardware-derived identifier and falling back to a random one.
func (c *DeviceConfig) ResolveClientID(src IDSource, logger *zap.Logger) {
	if c.ClientID != "" {
		return
	}
	if src != nil {
		id, err := src.ClientID("devlink")
		if err == nil {
			c.ClientID = id
			return
		}
		logger.Warn("Failed to derive client ID from hardware, using a random one", zap.Error(err))
	}
	c.ClientID = "devlink-" + uuid.NewString()
}

// LogConfig logs the effective configuration
func (c *DeviceConfig) LogConfig(logger *zap.Logger) {
	certSource := "embedded"
	if c.CertDir != "" {
		certSource = c.CertDir
	}
	logger.Info("Configuration loaded",
		zap.String("endpoint", c.Endpoint),
		zap.String("client_id", c.ClientID),
		zap.String("topic", c.Topic),
		zap.Int("qos", c.QoS),
		zap.Duration("publish_interval", c.PublishInterval),
		zap.Duration("connect_timeout", c.ConnectTimeout),
		zap.Duration("keepalive", c.KeepAlive),
		zap.String("netif", c.Interface),
		zap.Duration("netif_timeout", c.InterfaceTimeout),
		zap.String("certificates", certSource),
		zap.Bool("attach_system_roots", c.AttachSystemRoots),
		zap.Bool("debug", c.Debug))
}
