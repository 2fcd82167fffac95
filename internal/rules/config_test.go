package rules

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const originalDefaultContent = `{
  "Listen": ":7890",
  "System": false,
  "Net": "tcp",
  "Cert": ".dev/tls/client/xingbiao_cert.pem",
  "Key": ".dev/tls/client/xingbiao_key.pem",
  "Resolver": [
      {"DNS": "114.114.114.114"},
      {"DoH": "https://223.6.6.6/dns-query"},
      {"DoT": "223.6.6.6"},
      {"DoT": "dns.pub"},
      {"DoH": "https://doh.pub/dns-query"},
      {"DoT": "185.222.222.222"}
  ],
  "Servers": [
      {"Name": "tokyo", "Addr": "localhost:8899"}
  ],
  "Rules": [
      "host-match: ad\\.com, reject",
      "host-match: \\.cn, direct",
      "ip-cidr: 127.0.0.1/8, direct",
      "ip-cidr: 172.16.0.0/12, direct",
      "ip-cidr: 192.168.1.201/16, direct",
      "geoip: CN, direct",
      "match, forward: tokyo"
  ]
}`

func TestDecodeJSONDocument(t *testing.T) {
	cfg, err := Decode([]byte(originalDefaultContent))
	require.NoError(t, err)

	assert.Equal(t, ":7890", cfg.Listen)
	assert.Equal(t, NetworkTCP, cfg.Net)
	require.Len(t, cfg.Resolvers, 6)
	assert.Equal(t, ResolverEntry{Kind: ResolverDNS, Address: "114.114.114.114"}, cfg.Resolvers[0])
	assert.Equal(t, ResolverEntry{Kind: ResolverDoH, Address: "https://223.6.6.6/dns-query"}, cfg.Resolvers[1])
	assert.Equal(t, ResolverEntry{Kind: ResolverDoT, Address: "dns.pub"}, cfg.Resolvers[3])
	assert.Equal(t, []ServerEntry{{Name: "tokyo", Address: "localhost:8899"}}, cfg.Servers)
	require.Len(t, cfg.Rules, 7)
	assert.Equal(t, `host-match: ad\.com, reject`, cfg.Rules[0].String())
	assert.True(t, cfg.HasCatchAll())
	assert.NoError(t, cfg.Validate())
}

func TestDecodeYAMLDocument(t *testing.T) {
	doc := `
Listen: "127.0.0.1:7890"
Net: udp
Resolver:
  - DoT: dns.pub
  - DNS: 8.8.8.8
Servers:
  - Name: osaka
    Addr: osaka.example.net:443
Rules:
  - "host-suffix: .jp, forward: osaka"
  - "match-all, direct"
`
	cfg, err := Decode([]byte(doc))
	require.NoError(t, err)

	assert.Equal(t, NetworkUDP, cfg.Net)
	assert.Equal(t, []ResolverEntry{
		{Kind: ResolverDoT, Address: "dns.pub"},
		{Kind: ResolverDNS, Address: "8.8.8.8"},
	}, cfg.Resolvers)
	require.Len(t, cfg.Rules, 2)
	assert.Equal(t, Action{Kind: ActionForward, Server: "osaka"}, cfg.Rules[0].Action)
	assert.NoError(t, cfg.Validate())
}

func TestDecodeRejectsBadDocuments(t *testing.T) {
	for name, doc := range map[string]string{
		"empty":            "   ",
		"broken json":      `{"Listen": `,
		"bad rule":         `{"Rules": ["nonsense"]}`,
		"resolver 2 keys":  `{"Resolver": [{"DNS": "1.1.1.1", "DoT": "dns.pub"}]}`,
		"resolver unknown": `{"Resolver": [{"DoQ": "dns.pub"}]}`,
		"yaml bad rule":    "Rules:\n  - \"geoip, forward\"\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestJSONRoundTripPreservesOrderAndCatchAll(t *testing.T) {
	cfg := DefaultConfig()
	data, err := cfg.EncodeJSON()
	require.NoError(t, err)

	back, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, cfg, back)
	assert.Equal(t, cfg.HasCatchAll(), back.HasCatchAll())
	for i := range cfg.Rules {
		assert.Equal(t, cfg.Rules[i].String(), back.Rules[i].String())
	}
}

func TestYAMLRoundTripPreservesOrderAndCatchAll(t *testing.T) {
	cfg := DefaultConfig()
	data, err := cfg.EncodeYAML()
	require.NoError(t, err)

	back, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, cfg, back)
	assert.True(t, back.HasCatchAll())
}

func TestRoundTripWithoutCatchAllStaysIncomplete(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Rules = cfg.Rules[:len(cfg.Rules)-1]
	data, err := cfg.EncodeJSON()
	require.NoError(t, err)

	back, err := Decode(data)
	require.NoError(t, err)
	assert.False(t, back.HasCatchAll())
	assert.ErrorIs(t, back.Validate(), ErrMissingCatchAll)
}

func TestEncodeUsesWireFieldNames(t *testing.T) {
	data, err := DefaultConfig().EncodeJSON()
	require.NoError(t, err)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &raw))
	for _, key := range []string{"Listen", "System", "Net", "Cert", "Key", "Resolver", "Servers", "Rules"} {
		assert.Contains(t, raw, key)
	}
	assert.Contains(t, string(raw["Servers"]), `"Addr"`)

	var resolvers []map[string]string
	require.NoError(t, json.Unmarshal(raw["Resolver"], &resolvers))
	assert.Contains(t, resolvers, map[string]string{"DoH": "https://doh.pub/dns-query"})
}
