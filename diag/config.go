/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package diag

import (
	"fmt"
	"time"

	"github.com/acronis/go-callthrottle/config"
)

const cfgDefaultKeyPrefix = "diag"

const (
	cfgKeyEnabled          = "enabled"
	cfgKeyAddress          = "address"
	cfgKeyTimeoutsRead     = "timeouts.read"
	cfgKeyTimeoutsWrite    = "timeouts.write"
	cfgKeyTimeoutsIdle     = "timeouts.idle"
	cfgKeyTimeoutsShutdown = "timeouts.shutdown"
	cfgKeyLogRequests      = "log.requests"
	cfgKeyProfiling        = "profiling.enabled"
)

const (
	defaultAddress          = "127.0.0.1:9090"
	defaultTimeoutsRead     = 15 * time.Second
	defaultTimeoutsWrite    = 30 * time.Second
	defaultTimeoutsIdle     = time.Minute
	defaultTimeoutsShutdown = 5 * time.Second
)

// TimeoutsConfig represents a set of timeouts of the diagnostics server.
type TimeoutsConfig struct {
	Read     config.TimeDuration `mapstructure:"read" yaml:"read" json:"read"`
	Write    config.TimeDuration `mapstructure:"write" yaml:"write" json:"write"`
	Idle     config.TimeDuration `mapstructure:"idle" yaml:"idle" json:"idle"`
	Shutdown config.TimeDuration `mapstructure:"shutdown" yaml:"shutdown" json:"shutdown"`
}

// LogConfig represents logging settings of the diagnostics server.
type LogConfig struct {
	// Requests enables logging of every served request. Errors are logged regardless.
	Requests bool `mapstructure:"requests" yaml:"requests" json:"requests"`
}

// ProfilingConfig enables the pprof endpoints of the diagnostics server.
type ProfilingConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
}

// Config represents a set of configuration parameters for the diagnostics HTTP server.
type Config struct {
	Enabled  bool           `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Address  string         `mapstructure:"address" yaml:"address" json:"address"`
	Timeouts TimeoutsConfig `mapstructure:"timeouts" yaml:"timeouts" json:"timeouts"`
	Log      LogConfig      `mapstructure:"log" yaml:"log" json:"log"`
	// Profiling mounts net/http/pprof handlers under /debug/pprof.
	Profiling ProfilingConfig `mapstructure:"profiling" yaml:"profiling" json:"profiling"`

	keyPrefix string
}

var _ config.Config = (*Config)(nil)
var _ config.KeyPrefixProvider = (*Config)(nil)

// NewConfig creates a new instance of the Config.
// keyPrefix is used for parsing configuration parameters ("diag" if empty).
func NewConfig(keyPrefix string) *Config {
	return &Config{keyPrefix: keyPrefix}
}

// NewDefaultConfig creates a new instance of the Config with default values.
func NewDefaultConfig() *Config {
	return &Config{
		Enabled: true,
		Address: defaultAddress,
		Timeouts: TimeoutsConfig{
			Read:     config.TimeDuration(defaultTimeoutsRead),
			Write:    config.TimeDuration(defaultTimeoutsWrite),
			Idle:     config.TimeDuration(defaultTimeoutsIdle),
			Shutdown: config.TimeDuration(defaultTimeoutsShutdown),
		},
	}
}

// KeyPrefix returns a key prefix with which all configuration parameters should be presented.
func (c *Config) KeyPrefix() string {
	if c.keyPrefix == "" {
		return cfgDefaultKeyPrefix
	}
	return c.keyPrefix
}

// SetProviderDefaults sets default configuration values for the diagnostics server in config.DataProvider.
func (c *Config) SetProviderDefaults(dp config.DataProvider) {
	dp.SetDefault(cfgKeyEnabled, true)
	dp.SetDefault(cfgKeyAddress, defaultAddress)
	dp.SetDefault(cfgKeyTimeoutsRead, defaultTimeoutsRead.String())
	dp.SetDefault(cfgKeyTimeoutsWrite, defaultTimeoutsWrite.String())
	dp.SetDefault(cfgKeyTimeoutsIdle, defaultTimeoutsIdle.String())
	dp.SetDefault(cfgKeyTimeoutsShutdown, defaultTimeoutsShutdown.String())
	dp.SetDefault(cfgKeyLogRequests, false)
	dp.SetDefault(cfgKeyProfiling, false)
}

// Set sets diagnostics server configuration values from config.DataProvider.
func (c *Config) Set(dp config.DataProvider) error {
	var err error

	if c.Enabled, err = dp.GetBool(cfgKeyEnabled); err != nil {
		return err
	}
	if c.Address, err = dp.GetString(cfgKeyAddress); err != nil {
		return err
	}
	if c.Enabled && c.Address == "" {
		return dp.WrapKeyErr(cfgKeyAddress, fmt.Errorf("cannot be empty"))
	}

	timeouts := []struct {
		key string
		dst *config.TimeDuration
	}{
		{cfgKeyTimeoutsRead, &c.Timeouts.Read},
		{cfgKeyTimeoutsWrite, &c.Timeouts.Write},
		{cfgKeyTimeoutsIdle, &c.Timeouts.Idle},
		{cfgKeyTimeoutsShutdown, &c.Timeouts.Shutdown},
	}
	for _, t := range timeouts {
		d, dErr := dp.GetDuration(t.key)
		if dErr != nil {
			return dErr
		}
		if d < 0 {
			return dp.WrapKeyErr(t.key, fmt.Errorf("must not be negative"))
		}
		*t.dst = config.TimeDuration(d)
	}

	if c.Log.Requests, err = dp.GetBool(cfgKeyLogRequests); err != nil {
		return err
	}
	if c.Profiling.Enabled, err = dp.GetBool(cfgKeyProfiling); err != nil {
		return err
	}
	return nil
}
