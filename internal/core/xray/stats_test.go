package xray

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStats(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    map[string]int64
		wantErr bool
	}{
		{
			name:  "numeric values",
			input: `{"stat":[{"name":"outbound>>>proxy>>>traffic>>>uplink","value":1000000},{"name":"outbound>>>proxy>>>traffic>>>downlink","value":42}]}`,
			want:  map[string]int64{UplinkCounter: 1000000, DownlinkCounter: 42},
		},
		{
			name:  "string values",
			input: `{"stat":[{"name":"outbound>>>proxy>>>traffic>>>uplink","value":"12345"}]}`,
			want:  map[string]int64{UplinkCounter: 12345},
		},
		{
			name:  "absent value counts as zero",
			input: `{"stat":[{"name":"outbound>>>proxy>>>traffic>>>downlink"}]}`,
			want:  map[string]int64{DownlinkCounter: 0},
		},
		{
			name:  "empty stat list",
			input: `{"stat":[]}`,
			want:  map[string]int64{},
		},
		{name: "no stat list", input: `{}`, wantErr: true},
		{name: "garbage", input: `connection refused`, wantErr: true},
		{name: "empty output", input: ``, wantErr: true},
		{name: "non numeric", input: `{"stat":[{"name":"x","value":"abc"}]}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseStats([]byte(tt.input))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
