/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package throttle

import (
	"fmt"
	"time"
)

// Default values used when the corresponding Config fields are zero.
const (
	DefaultInitialBackoff   = time.Second
	DefaultCoalesceWindow   = 100 * time.Millisecond
	DefaultCoalesceGrace    = 5 * time.Second
	DefaultCoalesceMaxKeys  = 10000
	DefaultRateWindowMargin = 10 * time.Millisecond
)

// BackoffConfig configures how an instance slows down after soft failures.
type BackoffConfig struct {
	// Initial is the first delay after a soft failure and the value restored by a success.
	Initial time.Duration `mapstructure:"initial" yaml:"initial" json:"initial"`
	// Multiplier is applied to the delay after each consecutive soft failure.
	Multiplier float64 `mapstructure:"multiplier" yaml:"multiplier" json:"multiplier"`
	// Max caps the delay.
	Max time.Duration `mapstructure:"max" yaml:"max" json:"max"`
	// Jitter randomizes each delay within [d*(1-Jitter), d*(1+Jitter)]. Zero gives exact delays.
	Jitter float64 `mapstructure:"jitter" yaml:"jitter" json:"jitter"`
}

// CoalesceConfig configures sharing of results between calls with the same key.
type CoalesceConfig struct {
	// Window is how long after creation a settled entry keeps being reused.
	// Pending entries are always reused.
	Window time.Duration `mapstructure:"window" yaml:"window" json:"window"`
	// Grace is how long a settled entry is retained before it is dropped.
	Grace time.Duration `mapstructure:"grace" yaml:"grace" json:"grace"`
	// MaxKeys bounds the number of settled entries retained for their grace period. Pending calls are not bounded by it.
	MaxKeys int `mapstructure:"maxKeys" yaml:"maxKeys" json:"maxKeys"`
}

// Config holds the limits of a single Instance. It is not changed after the instance is created.
type Config struct {
	// MaxRequests is the number of admissions allowed within any rolling Window.
	MaxRequests int           `mapstructure:"maxRequests" yaml:"maxRequests" json:"maxRequests"`
	Window      time.Duration `mapstructure:"window" yaml:"window" json:"window"`

	// MaxConcurrent is the number of units of work allowed to run at the same time.
	MaxConcurrent int `mapstructure:"maxConcurrent" yaml:"maxConcurrent" json:"maxConcurrent"`

	Backoff BackoffConfig `mapstructure:"backoff" yaml:"backoff" json:"backoff"`

	// MaxRetries is the number of soft-failure retries allowed per call. Zero means unlimited.
	MaxRetries int `mapstructure:"maxRetries" yaml:"maxRetries" json:"maxRetries"`

	Coalesce CoalesceConfig `mapstructure:"coalesce" yaml:"coalesce" json:"coalesce"`

	// RateWindowMargin is added to every wait for the rate window to free a slot.
	RateWindowMargin time.Duration `mapstructure:"rateWindowMargin" yaml:"rateWindowMargin" json:"rateWindowMargin"`
}

// WithDefaults returns a copy of the config with zero optional fields set to their defaults.
func (c Config) WithDefaults() Config {
	if c.Backoff.Initial == 0 {
		c.Backoff.Initial = DefaultInitialBackoff
	}
	if c.Backoff.Multiplier == 0 {
		c.Backoff.Multiplier = 2
	}
	if c.Backoff.Max == 0 {
		c.Backoff.Max = c.Backoff.Initial
	}
	if c.Coalesce.Window == 0 {
		c.Coalesce.Window = DefaultCoalesceWindow
	}
	if c.Coalesce.Grace == 0 {
		c.Coalesce.Grace = DefaultCoalesceGrace
	}
	if c.Coalesce.MaxKeys == 0 {
		c.Coalesce.MaxKeys = DefaultCoalesceMaxKeys
	}
	if c.RateWindowMargin == 0 {
		c.RateWindowMargin = DefaultRateWindowMargin
	}
	return c
}

// Validate checks the config. Call it on the result of WithDefaults.
func (c Config) Validate() error {
	switch {
	case c.MaxRequests <= 0:
		return fmt.Errorf("maxRequests must be positive, got %d", c.MaxRequests)
	case c.Window <= 0:
		return fmt.Errorf("window must be positive, got %s", c.Window)
	case c.MaxConcurrent <= 0:
		return fmt.Errorf("maxConcurrent must be positive, got %d", c.MaxConcurrent)
	case c.Backoff.Initial <= 0:
		return fmt.Errorf("backoff.initial must be positive, got %s", c.Backoff.Initial)
	case c.Backoff.Multiplier < 1:
		return fmt.Errorf("backoff.multiplier must be >= 1, got %v", c.Backoff.Multiplier)
	case c.Backoff.Max < c.Backoff.Initial:
		return fmt.Errorf("backoff.max (%s) must be >= backoff.initial (%s)", c.Backoff.Max, c.Backoff.Initial)
	case c.Backoff.Jitter < 0 || c.Backoff.Jitter >= 1:
		return fmt.Errorf("backoff.jitter must be in [0, 1), got %v", c.Backoff.Jitter)
	case c.MaxRetries < 0:
		return fmt.Errorf("maxRetries must be >= 0, got %d", c.MaxRetries)
	case c.Coalesce.Window < 0 || c.Coalesce.Grace < 0:
		return fmt.Errorf("coalesce window and grace must be >= 0")
	case c.Coalesce.MaxKeys <= 0:
		return fmt.Errorf("coalesce.maxKeys must be positive, got %d", c.Coalesce.MaxKeys)
	case c.RateWindowMargin < 0:
		return fmt.Errorf("rateWindowMargin must be >= 0, got %s", c.RateWindowMargin)
	}
	return nil
}
