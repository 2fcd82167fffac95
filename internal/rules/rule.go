// Package rules implements the routing rule grammar and the RoutingConfig carried as
// profile content.
//
// A rule line has the textual form
//
//	<predicate>[ && <predicate>]*, <action>
//
// for example `host-suffix: .google.com && geoip: US, forward: tokyo`.
package rules

import (
	"errors"
	"fmt"
	"strings"
)

const predicateSep = " && "

// PredicateKind is a rule predicate keyword.
type PredicateKind string

const (
	HostMatch  PredicateKind = "host-match" // regular expression on the host
	HostSuffix PredicateKind = "host-suffix"
	HostPrefix PredicateKind = "host-prefix"
	IPCIDR     PredicateKind = "ip-cidr"
	GeoIP      PredicateKind = "geoip"
	HasServer  PredicateKind = "has-server"
	Match      PredicateKind = "match"
	MatchAll   PredicateKind = "match-all"
)

// ActionKind is a rule action keyword.
type ActionKind string

const (
	ActionDirect  ActionKind = "direct"
	ActionReject  ActionKind = "reject"
	ActionForward ActionKind = "forward"
)

var (
	ErrInvalidSyntax    = errors.New("invalid rule syntax")
	ErrUnknownPredicate = errors.New("unknown rule predicate")
	ErrUnknownAction    = errors.New("unknown rule action")
)

// Predicate is a single condition of a rule line.
type Predicate struct {
	Kind  PredicateKind
	Param string
}

// Unconditional reports whether the predicate always holds.
func (p Predicate) Unconditional() bool {
	return p.Kind == Match || p.Kind == MatchAll
}

func (p Predicate) String() string {
	if p.Unconditional() || p.Param == "" {
		return string(p.Kind)
	}
	return string(p.Kind) + ": " + p.Param
}

// Action is what happens to traffic matched by a rule line.
type Action struct {
	Kind   ActionKind
	Server string // only for ActionForward
}

func (a Action) String() string {
	if a.Kind == ActionForward {
		return string(a.Kind) + ": " + a.Server
	}
	return string(a.Kind)
}

// RuleLine is one predicate chain plus its action. All predicates must hold for the
// line to match.
type RuleLine struct {
	Predicates []Predicate
	Action     Action
}

// IsCatchAll reports whether the line matches unconditionally.
func (r RuleLine) IsCatchAll() bool {
	if len(r.Predicates) == 0 {
		return false
	}
	for _, p := range r.Predicates {
		if !p.Unconditional() {
			return false
		}
	}
	return true
}

// String returns the canonical text of the line.
func (r RuleLine) String() string {
	parts := make([]string, len(r.Predicates))
	for i, p := range r.Predicates {
		parts[i] = p.String()
	}
	return strings.Join(parts, predicateSep) + ", " + r.Action.String()
}

// ParseRuleLine parses the textual form of a rule line. Keywords are case-insensitive.
// The action is separated at the last comma, so a host-match regex may itself contain commas.
// Predicates are joined by " && " with the surrounding spaces; a bare "&&" stays part of a
// parameter.
func ParseRuleLine(raw string) (RuleLine, error) {
	idx := strings.LastIndex(raw, ",")
	if idx < 0 {
		return RuleLine{}, fmt.Errorf("%w: %q has no action", ErrInvalidSyntax, raw)
	}
	condPart, actionPart := raw[:idx], raw[idx+1:]

	action, err := parseAction(actionPart)
	if err != nil {
		return RuleLine{}, fmt.Errorf("rule %q: %w", raw, err)
	}

	var preds []Predicate
	for _, chunk := range strings.Split(condPart, predicateSep) {
		p, err := parsePredicate(chunk)
		if err != nil {
			return RuleLine{}, fmt.Errorf("rule %q: %w", raw, err)
		}
		preds = append(preds, p)
	}
	return RuleLine{Predicates: preds, Action: action}, nil
}

// MustParseRuleLine is like ParseRuleLine but panics on error. Intended for static tables.
func MustParseRuleLine(raw string) RuleLine {
	r, err := ParseRuleLine(raw)
	if err != nil {
		panic(err)
	}
	return r
}

func parsePredicate(raw string) (Predicate, error) {
	kindStr, param, _ := strings.Cut(raw, ":")
	kind := PredicateKind(strings.ToLower(strings.TrimSpace(kindStr)))
	param = strings.TrimSpace(param)
	switch kind {
	case Match, MatchAll:
		if param != "" {
			return Predicate{}, fmt.Errorf("%w: %q takes no parameter", ErrInvalidSyntax, kind)
		}
	case HostMatch, HostSuffix, HostPrefix, IPCIDR, GeoIP, HasServer:
		if param == "" {
			return Predicate{}, fmt.Errorf("%w: %q requires a parameter", ErrInvalidSyntax, kind)
		}
	case "":
		return Predicate{}, fmt.Errorf("%w: empty predicate", ErrInvalidSyntax)
	default:
		return Predicate{}, fmt.Errorf("%w %q", ErrUnknownPredicate, kind)
	}
	return Predicate{Kind: kind, Param: param}, nil
}

func parseAction(raw string) (Action, error) {
	kindStr, param, _ := strings.Cut(raw, ":")
	kind := ActionKind(strings.ToLower(strings.TrimSpace(kindStr)))
	param = strings.TrimSpace(param)
	switch kind {
	case ActionDirect, ActionReject:
		if param != "" {
			return Action{}, fmt.Errorf("%w: %q takes no parameter", ErrInvalidSyntax, kind)
		}
		return Action{Kind: kind}, nil
	case ActionForward:
		if param == "" {
			return Action{}, fmt.Errorf("%w: forward requires a server name", ErrInvalidSyntax)
		}
		return Action{Kind: kind, Server: param}, nil
	case "":
		return Action{}, fmt.Errorf("%w: empty action", ErrInvalidSyntax)
	default:
		return Action{}, fmt.Errorf("%w %q", ErrUnknownAction, kind)
	}
}

// MarshalText implements encoding.TextMarshaler so rule lines encode as strings in
// both JSON and YAML documents.
func (r RuleLine) MarshalText() ([]byte, error) {
	if len(r.Predicates) == 0 {
		return nil, fmt.Errorf("%w: rule has no predicate", ErrInvalidSyntax)
	}
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *RuleLine) UnmarshalText(text []byte) error {
	parsed, err := ParseRuleLine(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
