/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package throttleconfig

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// RateLimitValue is a number of requests allowed per period, written as "N/unit".
// The unit is "s", "m", "h" or any positive Go duration ("10/500ms").
type RateLimitValue struct {
	Count    int
	Duration time.Duration
}

// ParseRateLimitValue parses a "N/unit" string.
func ParseRateLimitValue(s string) (RateLimitValue, error) {
	var rl RateLimitValue
	err := rl.unmarshal(s)
	return rl, err
}

// IsZero reports whether the value is unset.
func (rl RateLimitValue) IsZero() bool {
	return rl.Count == 0 && rl.Duration == 0
}

// String returns a string representation of the rate limit value.
func (rl RateLimitValue) String() string {
	if rl.IsZero() {
		return ""
	}
	var unit string
	switch rl.Duration {
	case time.Second:
		unit = "s"
	case time.Minute:
		unit = "m"
	case time.Hour:
		unit = "h"
	default:
		unit = rl.Duration.String()
	}
	return fmt.Sprintf("%d/%s", rl.Count, unit)
}

// UnmarshalText implements the encoding.TextUnmarshaler interface.
func (rl *RateLimitValue) UnmarshalText(text []byte) error {
	return rl.unmarshal(string(text))
}

// UnmarshalJSON implements the json.Unmarshaler interface.
func (rl *RateLimitValue) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err != nil {
		return err
	}
	return rl.unmarshal(text)
}

// UnmarshalYAML implements the yaml.Unmarshaler interface.
func (rl *RateLimitValue) UnmarshalYAML(value *yaml.Node) error {
	var text string
	if err := value.Decode(&text); err != nil {
		return err
	}
	return rl.unmarshal(text)
}

func (rl *RateLimitValue) unmarshal(rate string) error {
	rate = strings.TrimSpace(rate)
	if rate == "" {
		*rl = RateLimitValue{}
		return nil
	}
	formatErr := fmt.Errorf("incorrect format for rate %q, should be N/(s|m|h|<duration>), for example 8/s, 100/m, 5/500ms", rate)
	countStr, unit, found := strings.Cut(rate, "/")
	if !found {
		return formatErr
	}
	count, err := strconv.Atoi(strings.TrimSpace(countStr))
	if err != nil || count <= 0 {
		return formatErr
	}
	var dur time.Duration
	switch unit = strings.TrimSpace(unit); strings.ToLower(unit) {
	case "s":
		dur = time.Second
	case "m":
		dur = time.Minute
	case "h":
		dur = time.Hour
	default:
		if dur, err = time.ParseDuration(unit); err != nil || dur <= 0 {
			return formatErr
		}
	}
	*rl = RateLimitValue{Count: count, Duration: dur}
	return nil
}

// MarshalText implements the encoding.TextMarshaler interface.
func (rl RateLimitValue) MarshalText() ([]byte, error) {
	return []byte(rl.String()), nil
}

// MarshalJSON implements the json.Marshaler interface.
func (rl RateLimitValue) MarshalJSON() ([]byte, error) {
	return json.Marshal(rl.String())
}

// MarshalYAML implements the yaml.Marshaler interface.
func (rl RateLimitValue) MarshalYAML() (interface{}, error) {
	return rl.String(), nil
}
