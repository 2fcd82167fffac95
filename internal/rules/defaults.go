package rules

// DefaultServerName is the single upstream declared by DefaultConfig.
const DefaultServerName = "tokyo"

// DefaultConfig returns the starter configuration used for new local profiles.
func DefaultConfig() *RoutingConfig {
	return &RoutingConfig{
		Listen: ":7890",
		System: false,
		Net:    NetworkTCP,
		Cert:   ".dev/tls/client/client_cert.pem",
		Key:    ".dev/tls/client/client_key.pem",
		Resolvers: []ResolverEntry{
			{Kind: ResolverDNS, Address: "114.114.114.114"},
			{Kind: ResolverDoH, Address: "https://223.6.6.6/dns-query"},
			{Kind: ResolverDoT, Address: "223.6.6.6"},
			{Kind: ResolverDoT, Address: "dns.pub"},
			{Kind: ResolverDoH, Address: "https://doh.pub/dns-query"},
			{Kind: ResolverDoT, Address: "185.222.222.222"},
		},
		Servers: []ServerEntry{
			{Name: DefaultServerName, Address: "localhost:8899"},
		},
		Rules: []RuleLine{
			MustParseRuleLine(`host-match: ad\.com, reject`),
			MustParseRuleLine(`host-match: \.cn, direct`),
			MustParseRuleLine("ip-cidr: 127.0.0.1/8, direct"),
			MustParseRuleLine("ip-cidr: 172.16.0.0/12, direct"),
			MustParseRuleLine("ip-cidr: 192.168.1.201/16, direct"),
			MustParseRuleLine("geoip: CN, direct"),
			MustParseRuleLine("match, forward: " + DefaultServerName),
		},
	}
}
