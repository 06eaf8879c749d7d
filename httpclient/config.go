/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package httpclient

import (
	"fmt"
	"time"

	"github.com/acronis/go-callthrottle/config"
)

// DefaultClientWaitTimeout is a default timeout for a client to wait for a request,
// including the time spent in the throttle queue.
const DefaultClientWaitTimeout = time.Minute

const (
	cfgDefaultKeyPrefix = "httpclient"

	cfgKeyTimeout                 = "timeout"
	cfgKeyAttemptTimeout          = "attemptTimeout"
	cfgKeyUserAgent               = "userAgent"
	cfgKeyMaxResponseBodySize     = "maxResponseBodySize"
	cfgKeyLogMode                 = "log.mode"
	cfgKeyLogSlowRequestThreshold = "log.slowRequestThreshold"
	cfgKeyMetricsEnabled          = "metrics.enabled"
)

var _ config.Config = (*Config)(nil)
var _ config.KeyPrefixProvider = (*Config)(nil)

// LogConfig represents configuration options for HTTP client logs.
type LogConfig struct {
	// Mode of logging: none, all, failed.
	Mode LoggingMode `mapstructure:"mode" yaml:"mode" json:"mode"`

	// SlowRequestThreshold is a threshold for slow requests.
	SlowRequestThreshold time.Duration `mapstructure:"slowRequestThreshold" yaml:"slowRequestThreshold" json:"slowRequestThreshold"`
}

// MetricsConfig represents configuration options for HTTP client metrics.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
}

// Config represents options for HTTP client configuration.
type Config struct {
	// Timeout is the maximum time to wait for a response, including time in the throttle queue.
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout" json:"timeout"`

	// AttemptTimeout bounds every single upstream round trip.
	AttemptTimeout time.Duration `mapstructure:"attemptTimeout" yaml:"attemptTimeout" json:"attemptTimeout"`

	// UserAgent is set for requests without the User-Agent header. "go-callthrottle/<version>" if empty.
	UserAgent string `mapstructure:"userAgent" yaml:"userAgent" json:"userAgent"`

	// MaxResponseBodySize limits the size of buffered response bodies.
	MaxResponseBodySize config.BytesCount `mapstructure:"maxResponseBodySize" yaml:"maxResponseBodySize" json:"maxResponseBodySize"`

	Log     LogConfig     `mapstructure:"log" yaml:"log" json:"log"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics" json:"metrics"`

	keyPrefix string
}

// NewConfig creates a new instance of the Config.
// keyPrefix is used for parsing configuration parameters ("httpclient" if empty).
func NewConfig(keyPrefix string) *Config {
	return &Config{keyPrefix: keyPrefix}
}

// NewDefaultConfig creates a new instance of the Config with default values.
func NewDefaultConfig() *Config {
	return &Config{
		Timeout:             DefaultClientWaitTimeout,
		AttemptTimeout:      DefaultAttemptTimeout,
		MaxResponseBodySize: DefaultMaxResponseBodySize,
		Log:                 LogConfig{Mode: LoggingModeFailed},
	}
}

// KeyPrefix returns a key prefix with which all configuration parameters should be presented.
func (c *Config) KeyPrefix() string {
	if c.keyPrefix == "" {
		return cfgDefaultKeyPrefix
	}
	return c.keyPrefix
}

// SetProviderDefaults sets default configuration values for HTTP client in config.DataProvider.
func (c *Config) SetProviderDefaults(dp config.DataProvider) {
	dp.SetDefault(cfgKeyTimeout, DefaultClientWaitTimeout.String())
	dp.SetDefault(cfgKeyAttemptTimeout, DefaultAttemptTimeout.String())
	dp.SetDefault(cfgKeyMaxResponseBodySize, "10M")
	dp.SetDefault(cfgKeyLogMode, string(LoggingModeFailed))
	dp.SetDefault(cfgKeyLogSlowRequestThreshold, "0s")
	dp.SetDefault(cfgKeyMetricsEnabled, false)
}

// Set sets HTTP client configuration values from config.DataProvider.
func (c *Config) Set(dp config.DataProvider) error {
	var err error

	if c.Timeout, err = dp.GetDuration(cfgKeyTimeout); err != nil {
		return err
	}
	if c.Timeout < 0 {
		return dp.WrapKeyErr(cfgKeyTimeout, fmt.Errorf("must not be negative"))
	}
	if c.AttemptTimeout, err = dp.GetDuration(cfgKeyAttemptTimeout); err != nil {
		return err
	}
	if c.AttemptTimeout <= 0 {
		return dp.WrapKeyErr(cfgKeyAttemptTimeout, fmt.Errorf("must be positive"))
	}
	if c.UserAgent, err = dp.GetString(cfgKeyUserAgent); err != nil {
		return err
	}
	if c.MaxResponseBodySize, err = dp.GetBytesCount(cfgKeyMaxResponseBodySize); err != nil {
		return err
	}
	if c.MaxResponseBodySize == 0 {
		return dp.WrapKeyErr(cfgKeyMaxResponseBodySize, fmt.Errorf("must be positive"))
	}

	mode, err := dp.GetStringFromSet(cfgKeyLogMode,
		[]string{string(LoggingModeNone), string(LoggingModeAll), string(LoggingModeFailed)}, false)
	if err != nil {
		return err
	}
	c.Log.Mode = LoggingMode(mode)
	if c.Log.SlowRequestThreshold, err = dp.GetDuration(cfgKeyLogSlowRequestThreshold); err != nil {
		return err
	}
	if c.Log.SlowRequestThreshold < 0 {
		return dp.WrapKeyErr(cfgKeyLogSlowRequestThreshold, fmt.Errorf("must not be negative"))
	}

	if c.Metrics.Enabled, err = dp.GetBool(cfgKeyMetricsEnabled); err != nil {
		return err
	}
	return nil
}
