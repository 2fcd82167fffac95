package rules

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// NetworkMode is the listener network of a RoutingConfig.
type NetworkMode string

const (
	NetworkTCP NetworkMode = "tcp"
	NetworkUDP NetworkMode = "udp"
)

// ResolverKind tags a ResolverEntry.
type ResolverKind string

const (
	ResolverDNS ResolverKind = "DNS"
	ResolverDoH ResolverKind = "DoH"
	ResolverDoT ResolverKind = "DoT"
)

var ErrInvalidResolver = errors.New("invalid resolver entry")

// ResolverEntry is one element of the ordered resolver fallback chain.
// It is encoded as a single-key object such as {"DoH": "https://doh.pub/dns-query"}.
type ResolverEntry struct {
	Kind    ResolverKind
	Address string
}

func parseResolverKind(raw string) (ResolverKind, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "dns":
		return ResolverDNS, true
	case "doh":
		return ResolverDoH, true
	case "dot":
		return ResolverDoT, true
	}
	return "", false
}

func resolverFromMap(m map[string]string) (ResolverEntry, error) {
	if len(m) != 1 {
		return ResolverEntry{}, fmt.Errorf("%w: expected exactly one key, got %d", ErrInvalidResolver, len(m))
	}
	for k, v := range m {
		kind, ok := parseResolverKind(k)
		if !ok {
			return ResolverEntry{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidResolver, k)
		}
		return ResolverEntry{Kind: kind, Address: strings.TrimSpace(v)}, nil
	}
	return ResolverEntry{}, ErrInvalidResolver
}

func (r ResolverEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]string{string(r.Kind): r.Address})
}

func (r *ResolverEntry) UnmarshalJSON(data []byte) error {
	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidResolver, err)
	}
	parsed, err := resolverFromMap(m)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

func (r ResolverEntry) MarshalYAML() (interface{}, error) {
	return map[string]string{string(r.Kind): r.Address}, nil
}

func (r *ResolverEntry) UnmarshalYAML(node *yaml.Node) error {
	var m map[string]string
	if err := node.Decode(&m); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidResolver, err)
	}
	parsed, err := resolverFromMap(m)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// ServerEntry is an upstream server referenced by name from rule lines.
type ServerEntry struct {
	Name    string `json:"Name" yaml:"Name"`
	Address string `json:"Addr" yaml:"Addr"`
}

// RoutingConfig is the parsed shape of a profile's content.
// The field names of the encoded document are shared with the backend and must not change.
type RoutingConfig struct {
	Listen    string          `json:"Listen" yaml:"Listen"`
	System    bool            `json:"System" yaml:"System"`
	Net       NetworkMode     `json:"Net" yaml:"Net"`
	Cert      string          `json:"Cert,omitempty" yaml:"Cert,omitempty"`
	Key       string          `json:"Key,omitempty" yaml:"Key,omitempty"`
	Resolvers []ResolverEntry `json:"Resolver" yaml:"Resolver"`
	Servers   []ServerEntry   `json:"Servers" yaml:"Servers"`
	Rules     []RuleLine      `json:"Rules" yaml:"Rules"`
}

// Decode parses profile content. A document starting with '{' is JSON, anything else
// is read as YAML with the same keys.
func Decode(content []byte) (*RoutingConfig, error) {
	trimmed := bytes.TrimSpace(content)
	if len(trimmed) == 0 {
		return nil, errors.New("routing config is empty")
	}
	var cfg RoutingConfig
	if trimmed[0] == '{' {
		if err := json.Unmarshal(trimmed, &cfg); err != nil {
			return nil, fmt.Errorf("invalid config, err: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(trimmed, &cfg); err != nil {
			return nil, fmt.Errorf("invalid config, err: %w", err)
		}
	}
	return &cfg, nil
}

// EncodeJSON renders the config with two-space indentation, the layout used for stored profiles.
func (c *RoutingConfig) EncodeJSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// EncodeYAML renders the config as a YAML document.
func (c *RoutingConfig) EncodeYAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// HasCatchAll reports whether the final rule matches unconditionally.
func (c *RoutingConfig) HasCatchAll() bool {
	if len(c.Rules) == 0 {
		return false
	}
	return c.Rules[len(c.Rules)-1].IsCatchAll()
}

// Server returns the declared server with the given name.
func (c *RoutingConfig) Server(name string) (ServerEntry, bool) {
	for _, s := range c.Servers {
		if s.Name == name {
			return s, true
		}
	}
	return ServerEntry{}, false
}
