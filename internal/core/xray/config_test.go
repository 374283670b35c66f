package xray

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xrayclient/internal/storage/models"
)

func testProfile() *models.Profile {
	data := models.DefaultProfileData()
	data.General.Address = "edge.example.com"
	data.General.Port = 443
	data.General.ID = "b831381d-6324-4d53-ad4f-8cda48b30811"
	data.General.Level = 1
	data.Log.Level = "warning"
	return &models.Profile{ID: 1, Name: "test", ProfileData: data}
}

// decode renders the config and reads it back as generic JSON so the
// assertions look at the document the engine sees.
func decode(t *testing.T, cfg *XrayConfig) map[string]interface{} {
	t.Helper()
	data, err := cfg.Marshal()
	require.NoError(t, err)
	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &doc))
	return doc
}

func proxyOutboundDoc(t *testing.T, doc map[string]interface{}) map[string]interface{} {
	t.Helper()
	outbounds := doc["outbounds"].([]interface{})
	require.Len(t, outbounds, 3)
	proxy := outbounds[2].(map[string]interface{})
	require.Equal(t, "proxy", proxy["tag"])
	return proxy
}

func TestBuildConfig_Deterministic(t *testing.T) {
	p1 := testProfile()
	p1.Rules.Direct.Domain = []string{"geosite:cn", "example.org"}
	p1.Rules.Reject.Port = []string{"25", "465"}
	p2 := testProfile()
	p2.Rules = p1.Rules

	a, err := BuildConfig(p1, "192.168.1.20", 10085).Marshal()
	require.NoError(t, err)
	b, err := BuildConfig(p2, "192.168.1.20", 10085).Marshal()
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestBuildConfig_Scaffold(t *testing.T) {
	doc := decode(t, BuildConfig(testProfile(), "", 10085))

	assert.Equal(t, map[string]interface{}{}, doc["stats"])
	assert.Equal(t, map[string]interface{}{"tag": "api", "services": []interface{}{"StatsService"}}, doc["api"])
	assert.Equal(t, map[string]interface{}{
		"system": map[string]interface{}{"statsOutboundUplink": true, "statsOutboundDownlink": true},
	}, doc["policy"])
	assert.Equal(t, map[string]interface{}{"loglevel": "warning"}, doc["log"])

	routing := doc["routing"].(map[string]interface{})
	assert.Equal(t, "IPIfNonMatch", routing["domainStrategy"])
	rules := routing["rules"].([]interface{})
	require.Len(t, rules, 2)
	assert.Equal(t, map[string]interface{}{
		"type": "field", "inboundTag": []interface{}{"api"}, "outboundTag": "api",
	}, rules[0])

	inbounds := doc["inbounds"].([]interface{})
	require.Len(t, inbounds, 3)
	assert.Equal(t, map[string]interface{}{
		"protocol": "http", "listen": "127.0.0.1", "port": float64(1081),
		"settings": map[string]interface{}{"timeout": float64(0)},
	}, inbounds[0])
	assert.Equal(t, map[string]interface{}{
		"protocol": "socks", "listen": "127.0.0.1", "port": float64(1080),
		"settings": map[string]interface{}{"udp": true},
	}, inbounds[1])
	assert.Equal(t, map[string]interface{}{
		"tag": "api", "protocol": "dokodemo-door", "listen": "127.0.0.1", "port": float64(10085),
		"settings": map[string]interface{}{"address": "127.0.0.1"},
	}, inbounds[2])

	outbounds := doc["outbounds"].([]interface{})
	assert.Equal(t, map[string]interface{}{
		"tag": "direct", "protocol": "freedom", "settings": map[string]interface{}{},
	}, outbounds[0])
	assert.Equal(t, map[string]interface{}{
		"tag": "reject", "protocol": "blackhole", "settings": map[string]interface{}{},
	}, outbounds[1])
}

func TestBuildConfig_RulesOrderAndOmission(t *testing.T) {
	p := testProfile()
	p.Rules = models.Rules{
		Reject: models.RuleSet{Domain: []string{"ads.example"}, Port: []string{"25", "465"}},
		Proxy:  models.RuleSet{IP: []string{}},
		Direct: models.RuleSet{Domain: []string{"geosite:cn"}, IP: []string{"geoip:private", "10.0.0.0/8"}},
	}

	cfg := BuildConfig(p, "", 10085)
	rules := cfg.Routing.Rules

	require.Len(t, rules, 6)
	assert.Equal(t, RoutingRule{Type: "field", OutboundTag: "reject", Domain: []string{"ads.example"}}, rules[1])
	assert.Equal(t, RoutingRule{Type: "field", OutboundTag: "reject", Port: "25,465"}, rules[2])
	assert.Equal(t, RoutingRule{Type: "field", OutboundTag: "direct", Domain: []string{"geosite:cn"}}, rules[3])
	assert.Equal(t, RoutingRule{Type: "field", OutboundTag: "direct", IP: []string{"geoip:private", "10.0.0.0/8"}}, rules[4])
	assert.Equal(t, RoutingRule{Type: "field", OutboundTag: "proxy", Port: "0-65535"}, rules[len(rules)-1])
}

func TestBuildConfig_CatchAllAlwaysLast(t *testing.T) {
	p := testProfile()
	p.Rules.Proxy.Port = []string{"443"}
	p.Rules.Direct.Port = []string{"53"}

	rules := BuildConfig(p, "", 10085).Routing.Rules
	last := rules[len(rules)-1]
	assert.Equal(t, "0-65535", last.Port)
	assert.Equal(t, "proxy", last.OutboundTag)
	assert.Equal(t, "53", rules[len(rules)-2].Port)
}

func TestBuildConfig_TLSWebSocket(t *testing.T) {
	p := testProfile()
	p.General.Security = "tls"
	p.General.Network = "ws"
	p.General.WSPath = "/x"

	proxy := proxyOutboundDoc(t, decode(t, BuildConfig(p, "", 10085)))

	stream := proxy["streamSettings"].(map[string]interface{})
	assert.Equal(t, "ws", stream["network"])
	assert.Equal(t, "tls", stream["security"])
	assert.Equal(t, map[string]interface{}{"path": "/x"}, stream["wsSettings"])
	assert.Equal(t, map[string]interface{}{"serverName": "edge.example.com"}, stream["tlsSettings"])
	assert.NotContains(t, stream, "xtlsSettings")

	user := proxy["settings"].(map[string]interface{})["vnext"].([]interface{})[0].(map[string]interface{})["users"].([]interface{})[0].(map[string]interface{})
	assert.NotContains(t, user, "flow")
	assert.Equal(t, "none", user["encryption"])
	assert.Equal(t, float64(1), user["level"])
}

func TestBuildConfig_XTLS(t *testing.T) {
	p := testProfile()
	p.General.Security = "xtls"

	proxy := proxyOutboundDoc(t, decode(t, BuildConfig(p, "", 10085)))

	stream := proxy["streamSettings"].(map[string]interface{})
	assert.Equal(t, map[string]interface{}{"serverName": "edge.example.com"}, stream["xtlsSettings"])
	assert.NotContains(t, stream, "tlsSettings")
	assert.NotContains(t, stream, "wsSettings")

	vnext := proxy["settings"].(map[string]interface{})["vnext"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "edge.example.com", vnext["address"])
	assert.Equal(t, float64(443), vnext["port"])
	user := vnext["users"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, FlowXTLSDirect, user["flow"])
	assert.Equal(t, "b831381d-6324-4d53-ad4f-8cda48b30811", user["id"])
}

func TestBuildConfig_NoSecurity(t *testing.T) {
	proxy := proxyOutboundDoc(t, decode(t, BuildConfig(testProfile(), "", 10085)))

	stream := proxy["streamSettings"].(map[string]interface{})
	assert.Equal(t, "tcp", stream["network"])
	assert.Equal(t, "", stream["security"])
	assert.NotContains(t, stream, "tlsSettings")
	assert.NotContains(t, stream, "xtlsSettings")
}

func TestBuildConfig_ListenerWriteBack(t *testing.T) {
	p := testProfile()
	BuildConfig(p, "192.168.1.20", 10085)
	assert.Equal(t, models.Endpoint{Server: "127.0.0.1", Port: 1081}, p.Proxies.HTTP)
	assert.Equal(t, models.Endpoint{Server: "127.0.0.1", Port: 1080}, p.Proxies.Socks)

	p.General.LocalProxy.LANEnabled = true
	cfg := BuildConfig(p, "192.168.1.20", 10085)
	assert.Equal(t, models.Endpoint{Server: "192.168.1.20", Port: 1081}, p.Proxies.HTTP)
	assert.Equal(t, "192.168.1.20", cfg.Inbounds[1].Listen)
	assert.Equal(t, LoopbackIP, cfg.Inbounds[2].Listen)
}

func TestWriteConfig_ReplacesAtomically(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Data", "config.json")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte("stale"), 0600))

	cfg := BuildConfig(testProfile(), "", 10085)
	require.NoError(t, WriteConfig(path, cfg))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	want, err := cfg.Marshal()
	require.NoError(t, err)
	assert.Equal(t, string(want), string(data))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}
