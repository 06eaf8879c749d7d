/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package throttleconfig

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestParseRateLimitValue(t *testing.T) {
	tests := []struct {
		in      string
		want    RateLimitValue
		wantErr bool
	}{
		{in: "8/s", want: RateLimitValue{Count: 8, Duration: time.Second}},
		{in: "100/M", want: RateLimitValue{Count: 100, Duration: time.Minute}},
		{in: " 3 / h ", want: RateLimitValue{Count: 3, Duration: time.Hour}},
		{in: "5/500ms", want: RateLimitValue{Count: 5, Duration: 500 * time.Millisecond}},
		{in: "", want: RateLimitValue{}},
		{in: "8", wantErr: true},
		{in: "x/s", wantErr: true},
		{in: "0/s", wantErr: true},
		{in: "8/fortnight", wantErr: true},
		{in: "8/-1s", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseRateLimitValue(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestRateLimitValue_Marshaling(t *testing.T) {
	type holder struct {
		Rate RateLimitValue `json:"rate" yaml:"rate"`
	}

	var h holder
	require.NoError(t, yaml.Unmarshal([]byte("rate: 12/s"), &h))
	require.Equal(t, RateLimitValue{Count: 12, Duration: time.Second}, h.Rate)

	out, err := json.Marshal(h)
	require.NoError(t, err)
	require.JSONEq(t, `{"rate":"12/s"}`, string(out))

	require.NoError(t, json.Unmarshal([]byte(`{"rate":"5/250ms"}`), &h))
	require.Equal(t, "5/250ms", h.Rate.String())

	yamlOut, err := yaml.Marshal(holder{})
	require.NoError(t, err)
	require.Equal(t, "rate: \"\"\n", string(yamlOut))
}
