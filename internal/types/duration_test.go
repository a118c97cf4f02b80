package types

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDurationJSON(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    time.Duration
		wantErr bool
	}{
		{name: "string", input: `"90s"`, want: 90 * time.Second},
		{name: "nanoseconds", input: `1500`, want: 1500},
		{name: "bad string", input: `"soon"`, wantErr: true},
		{name: "bad type", input: `true`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var d Duration
			err := json.Unmarshal([]byte(tt.input), &d)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, d.Duration)
		})
	}

	out, err := json.Marshal(Duration{Duration: 2 * time.Minute})
	require.NoError(t, err)
	assert.JSONEq(t, `"2m0s"`, string(out))
}

func TestDurationYAML(t *testing.T) {
	var doc struct {
		Dwell Duration `yaml:"dwell"`
		Raw   Duration `yaml:"raw"`
	}
	require.NoError(t, yaml.Unmarshal([]byte("dwell: 12h\nraw: 42\n"), &doc))
	assert.Equal(t, 12*time.Hour, doc.Dwell.Duration)
	assert.Equal(t, time.Duration(42), doc.Raw.Duration)

	var bad struct {
		Dwell Duration `yaml:"dwell"`
	}
	assert.Error(t, yaml.Unmarshal([]byte("dwell: [1, 2]\n"), &bad))
}
