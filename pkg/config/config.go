// Package config holds the bridge configuration: defaults, command line flags,
// process environment and an optional .env file, layered in that order of
// increasing precedence below explicit flags.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	TransportBlueZ = "bluez"
	TransportHCI   = "hci"
)

// Config holds application configuration
type Config struct {
	DeviceID   string `default:"mijia-bridge"`
	DeviceName string `default:"Mijia bridge"`
	ClientName string // defaults to DeviceID
	Prefix     string `default:"homie"`

	Host     string `default:"test.mosquitto.org"`
	Port     int    `default:"1883"`
	Username string
	Password string
	UseTLS   bool

	SensorNames string `default:"sensor_names.conf"`
	Transport   string `default:"bluez"`
	Adapter     string `default:"hci0"`

	ScanDuration    time.Duration `default:"15s"`
	ConnectTimeout  time.Duration `default:"4s"`
	IncomingTimeout time.Duration `default:"1s"`
	KeepAlive       time.Duration `default:"5s"`
	PublishTimeout  time.Duration `default:"10s"`

	MetricsAddr string
	LogLevel    string `default:"info"`
}

// Default returns a configuration populated with default values.
func Default() *Config {
	c := &Config{}
	defaults.SetDefaults(c)
	return c
}

type binding struct {
	flag string
	env  string
	// presence marks switches enabled by the mere existence of the variable
	presence bool
}

var bindings = []binding{
	{flag: "device-id", env: "DEVICE_ID"},
	{flag: "device-name", env: "DEVICE_NAME"},
	{flag: "client-name", env: "CLIENT_NAME"},
	{flag: "prefix", env: "MQTT_PREFIX"},
	{flag: "host", env: "HOST"},
	{flag: "port", env: "PORT"},
	{flag: "username", env: "USERNAME"},
	{flag: "password", env: "PASSWORD"},
	{flag: "tls", env: "USE_TLS", presence: true},
	{flag: "sensor-names", env: "SENSOR_NAMES"},
	{flag: "transport", env: "BLE_TRANSPORT"},
	{flag: "adapter", env: "BLE_ADAPTER"},
	{flag: "scan-duration", env: "SCAN_DURATION"},
	{flag: "connect-timeout", env: "CONNECT_TIMEOUT"},
	{flag: "incoming-timeout", env: "INCOMING_TIMEOUT"},
	{flag: "keep-alive", env: "KEEP_ALIVE"},
	{flag: "publish-timeout", env: "PUBLISH_TIMEOUT"},
	{flag: "metrics-addr", env: "METRICS_ADDR"},
	{flag: "log-level", env: "LOG_LEVEL"},
}

// AddFlags registers one flag per field; current field values become flag defaults.
func (c *Config) AddFlags(flags *pflag.FlagSet) {
	flags.StringVar(&c.DeviceID, "device-id", c.DeviceID, "Homie device id")
	flags.StringVar(&c.DeviceName, "device-name", c.DeviceName, "Homie device display name")
	flags.StringVar(&c.ClientName, "client-name", c.ClientName, "MQTT client id (defaults to the device id)")
	flags.StringVar(&c.Prefix, "prefix", c.Prefix, "Homie topic prefix")

	flags.StringVar(&c.Host, "host", c.Host, "MQTT broker host")
	flags.IntVar(&c.Port, "port", c.Port, "MQTT broker port")
	flags.StringVar(&c.Username, "username", c.Username, "MQTT username")
	flags.StringVar(&c.Password, "password", c.Password, "MQTT password")
	flags.BoolVar(&c.UseTLS, "tls", c.UseTLS, "Connect to the broker over TLS")

	flags.StringVar(&c.SensorNames, "sensor-names", c.SensorNames, "File mapping sensor addresses to names")
	flags.StringVar(&c.Transport, "transport", c.Transport, "Bluetooth backend (bluez, hci)")
	flags.StringVar(&c.Adapter, "adapter", c.Adapter, "Bluetooth adapter")

	flags.DurationVar(&c.ScanDuration, "scan-duration", c.ScanDuration, "Discovery duration at startup")
	flags.DurationVar(&c.ConnectTimeout, "connect-timeout", c.ConnectTimeout, "Timeout of one sensor connection attempt")
	flags.DurationVar(&c.IncomingTimeout, "incoming-timeout", c.IncomingTimeout, "Idle time that ends one event drain")
	flags.DurationVar(&c.KeepAlive, "keep-alive", c.KeepAlive, "MQTT keep-alive")
	flags.DurationVar(&c.PublishTimeout, "publish-timeout", c.PublishTimeout, "Timeout of one MQTT publish")

	flags.StringVar(&c.MetricsAddr, "metrics-addr", c.MetricsAddr, "Address to serve Prometheus metrics on (empty disables)")
	flags.StringVar(&c.LogLevel, "log-level", c.LogLevel, "Log level (trace, debug, info, warn, error)")
}

// Load overlays the process environment and the optional envFile onto every
// flag that was not set explicitly, then fills derived defaults.
// Empty values keep the default, except for presence switches which an
// empty value enables. A missing envFile is not an error.
func (c *Config) Load(flags *pflag.FlagSet, v *viper.Viper, envFile string) error {
	// USE_TLS= counts as set
	v.AllowEmptyEnv(true)
	for _, b := range bindings {
		if err := v.BindEnv(envKey(b), b.env); err != nil {
			return fmt.Errorf("bind %s: %w", b.env, err)
		}
	}

	if envFile != "" {
		v.SetConfigFile(envFile)
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to read %s: %w", envFile, err)
		}
	}

	for _, b := range bindings {
		f := flags.Lookup(b.flag)
		if f == nil || f.Changed || !v.IsSet(envKey(b)) {
			continue
		}

		value := v.GetString(envKey(b))
		if value == "" && !b.presence {
			continue
		}
		if b.presence {
			if on, err := strconv.ParseBool(value); err != nil || on {
				value = "true"
			} else {
				value = "false"
			}
		}
		if err := f.Value.Set(value); err != nil {
			return fmt.Errorf("invalid %s=%q: %w", b.env, value, err)
		}
	}

	if c.ClientName == "" {
		c.ClientName = c.DeviceID
	}
	return nil
}

func envKey(b binding) string {
	return strings.ToLower(b.env)
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case c.DeviceID == "":
		return errors.New("device id must not be empty")
	case c.Host == "":
		return errors.New("broker host must not be empty")
	case c.Port <= 0 || c.Port > 65535:
		return fmt.Errorf("broker port %d out of range", c.Port)
	case c.Transport != TransportBlueZ && c.Transport != TransportHCI:
		return fmt.Errorf("unknown transport %q (must be %s or %s)", c.Transport, TransportBlueZ, TransportHCI)
	case c.ScanDuration <= 0, c.ConnectTimeout <= 0, c.IncomingTimeout <= 0, c.KeepAlive <= 0, c.PublishTimeout <= 0:
		return errors.New("durations must be positive")
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// BrokerURL returns the broker address as understood by the MQTT client.
func (c *Config) BrokerURL() *url.URL {
	scheme := "mqtt"
	if c.UseTLS {
		scheme = "mqtts"
	}
	return &url.URL{Scheme: scheme, Host: net.JoinHostPort(c.Host, strconv.Itoa(c.Port))}
}

// BaseTopic returns the Homie topic of the device, e.g. homie/mijia-bridge.
func (c *Config) BaseTopic() string {
	return strings.TrimSuffix(c.Prefix, "/") + "/" + c.DeviceID
}

// ParseLogLevel accepts trace, debug, info, warn and error.
func ParseLogLevel(s string) (logrus.Level, error) {
	switch s {
	case "trace":
		return logrus.TraceLevel, nil
	case "debug":
		return logrus.DebugLevel, nil
	case "info":
		return logrus.InfoLevel, nil
	case "warn":
		return logrus.WarnLevel, nil
	case "error":
		return logrus.ErrorLevel, nil
	default:
		return logrus.PanicLevel, fmt.Errorf("invalid log level: %s (must be trace, debug, info, warn, or error)", s)
	}
}

// NewLogger creates a configured logger instance
func NewLogger(level logrus.Level) *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})
	return logger
}
