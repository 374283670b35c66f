package xray

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Counter names queried on the proxy outbound.
const (
	UplinkCounter   = "outbound>>>proxy>>>traffic>>>uplink"
	DownlinkCounter = "outbound>>>proxy>>>traffic>>>downlink"
)

// counterValue accepts a JSON number, a quoted number or null. Different
// engine builds print int64 counters either way.
type counterValue int64

func (v *counterValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*v = 0
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			*v = 0
			return nil
		}
		data = []byte(s)
	}
	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid counter value %q: %w", data, err)
	}
	*v = counterValue(n)
	return nil
}

// ParseStats parses the output of `xray api statsquery`:
// {"stat":[{"name":"outbound>>>proxy>>>traffic>>>uplink","value":"12345"}, ...]}
// An entry without a value counts as zero.
func ParseStats(output []byte) (map[string]int64, error) {
	var result struct {
		Stat []struct {
			Name  string       `json:"name"`
			Value counterValue `json:"value"`
		} `json:"stat"`
	}

	if err := json.Unmarshal(output, &result); err != nil {
		return nil, fmt.Errorf("failed to parse stats output: %w", err)
	}
	if result.Stat == nil {
		return nil, fmt.Errorf("stats output has no stat list")
	}

	counters := make(map[string]int64, len(result.Stat))
	for _, s := range result.Stat {
		counters[s.Name] = int64(s.Value)
	}
	return counters, nil
}
