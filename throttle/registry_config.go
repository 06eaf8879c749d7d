/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package throttle

import (
	"github.com/acronis/go-callthrottle/config"
	"github.com/acronis/go-callthrottle/internal/throttleconfig"
)

const (
	cfgDefaultKeyPrefix = "throttle"
	cfgKeyClasses       = "classes"
)

// RegistryConfig is the configuration of all endpoint classes.
//
// Every class listed under "classes" is decoded over its built-in defaults, so only changed
// limits need to be specified. Unknown class names create new classes. Example:
//
//	throttle:
//	  classes:
//	    ethereum_rpc:
//	      rate: 20/s
//	      hosts: ["*.infura.io", "eth-mainnet.*"]
//	    coingecko:
//	      rate: 30/m
//	      maxConcurrent: 2
//	      backoff: {initial: 2s, multiplier: 3, max: 2m}
type RegistryConfig struct {
	Classes map[string]ClassConfig `yaml:"classes" json:"classes"`

	keyPrefix string
}

var _ config.Config = (*RegistryConfig)(nil)
var _ config.KeyPrefixProvider = (*RegistryConfig)(nil)

// NewRegistryConfig creates a RegistryConfig read from keys under keyPrefix ("throttle" if empty).
func NewRegistryConfig(keyPrefix string) *RegistryConfig {
	return &RegistryConfig{keyPrefix: keyPrefix}
}

// NewDefaultRegistryConfig creates a RegistryConfig with the built-in classes.
func NewDefaultRegistryConfig() *RegistryConfig {
	return &RegistryConfig{Classes: DefaultClassConfigs()}
}

// KeyPrefix returns a key prefix with which all configuration parameters should be presented.
func (c *RegistryConfig) KeyPrefix() string {
	if c.keyPrefix == "" {
		return cfgDefaultKeyPrefix
	}
	return c.keyPrefix
}

// SetProviderDefaults does nothing: defaults of the built-in classes are applied in Set.
func (c *RegistryConfig) SetProviderDefaults(_ config.DataProvider) {}

// Set sets class configurations from config.DataProvider.
func (c *RegistryConfig) Set(dp config.DataProvider) error {
	raw, err := dp.GetStringMap(cfgKeyClasses)
	if err != nil {
		return err
	}
	classes := DefaultClassConfigs()
	for name, rawClass := range raw {
		key := cfgKeyClasses + "." + name
		classCfg, err := decodeClassConfig(classes[name], rawClass)
		if err != nil {
			return dp.WrapKeyErr(key, err)
		}
		if err = classCfg.Config.WithDefaults().Validate(); err != nil {
			return dp.WrapKeyErr(key, err)
		}
		classes[name] = classCfg
	}
	c.Classes = classes
	return nil
}

// decodeClassConfig applies raw values over base. "rate: N/unit" is a shorthand
// for maxRequests and window.
func decodeClassConfig(base ClassConfig, raw interface{}) (ClassConfig, error) {
	overlay := struct {
		Rate        throttleconfig.RateLimitValue `mapstructure:"rate"`
		ClassConfig `mapstructure:",squash"`
	}{ClassConfig: base}
	if err := config.Decode(raw, &overlay, config.ErrorUnused()); err != nil {
		return ClassConfig{}, err
	}
	if !overlay.Rate.IsZero() {
		overlay.MaxRequests = overlay.Rate.Count
		overlay.Window = overlay.Rate.Duration
	}
	return overlay.ClassConfig, nil
}
