package rules

import (
	"net"
	"net/netip"
	"regexp"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/net/idna"
)

const (
	decisionTTL     = time.Minute
	decisionCleanup = 2 * time.Minute
)

// CountryLookup resolves an address to an ISO country code.
type CountryLookup interface {
	Country(ip netip.Addr) (string, bool)
}

// Meta describes the traffic being routed. IP may be the zero Addr when only the host is known.
type Meta struct {
	Host string
	IP   netip.Addr
}

// Decision is the outcome of evaluating a rule set.
type Decision struct {
	Action Action
	Index  int    // position of the matching rule, -1 when nothing matched
	Rule   string // canonical text of the matching rule
}

type matchInput struct {
	host string
	ip   netip.Addr
}

type predicateFunc func(in *matchInput) bool

type compiledRule struct {
	text  string
	line  RuleLine
	preds []predicateFunc
}

// Engine evaluates a validated rule set in order; the first rule whose predicates all
// hold decides the action.
type Engine struct {
	rules     []compiledRule
	geo       CountryLookup
	decisions *cache.Cache
}

// Compile validates cfg and builds an Engine for it. geo may be nil, in which case
// every geoip predicate is false.
func Compile(cfg *RoutingConfig, geo CountryLookup) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	declared := make(map[string]struct{}, len(cfg.Servers))
	for _, s := range cfg.Servers {
		declared[strings.TrimSpace(s.Name)] = struct{}{}
	}

	e := &Engine{
		rules:     make([]compiledRule, 0, len(cfg.Rules)),
		geo:       geo,
		decisions: cache.New(decisionTTL, decisionCleanup),
	}
	for _, line := range cfg.Rules {
		cr := compiledRule{text: line.String(), line: line}
		for _, p := range line.Predicates {
			cr.preds = append(cr.preds, e.compilePredicate(p, declared))
		}
		e.rules = append(e.rules, cr)
	}
	return e, nil
}

func (e *Engine) compilePredicate(p Predicate, declared map[string]struct{}) predicateFunc {
	switch p.Kind {
	case HostMatch:
		re := regexp.MustCompile(hostPattern(p.Param))
		return func(in *matchInput) bool { return in.host != "" && re.MatchString(in.host) }
	case HostSuffix:
		suffix := strings.ToLower(p.Param)
		return func(in *matchInput) bool { return in.host != "" && strings.HasSuffix(in.host, suffix) }
	case HostPrefix:
		prefix := strings.ToLower(p.Param)
		return func(in *matchInput) bool { return in.host != "" && strings.HasPrefix(in.host, prefix) }
	case IPCIDR:
		prefix := netip.MustParsePrefix(p.Param).Masked()
		return func(in *matchInput) bool { return in.ip.IsValid() && prefix.Contains(in.ip) }
	case GeoIP:
		code := strings.ToUpper(p.Param)
		return func(in *matchInput) bool {
			if e.geo == nil || !in.ip.IsValid() {
				return false
			}
			country, ok := e.geo.Country(in.ip)
			return ok && strings.EqualFold(country, code)
		}
	case HasServer:
		_, ok := declared[p.Param]
		return func(*matchInput) bool { return ok }
	case Match, MatchAll:
		return func(*matchInput) bool { return true }
	default:
		return func(*matchInput) bool { return false }
	}
}

// Len returns the number of compiled rules.
func (e *Engine) Len() int {
	return len(e.rules)
}

// Match evaluates the rule set for meta. Results are memoised for a minute per (host, ip).
func (e *Engine) Match(meta Meta) Decision {
	in := normalize(meta)
	key := in.host + "|" + in.ip.String()
	if cached, ok := e.decisions.Get(key); ok {
		return cached.(Decision)
	}

	d := Decision{Action: Action{Kind: ActionDirect}, Index: -1}
	for i := range e.rules {
		if e.rules[i].matches(&in) {
			d = Decision{Action: e.rules[i].line.Action, Index: i, Rule: e.rules[i].text}
			break
		}
	}
	e.decisions.Set(key, d, cache.DefaultExpiration)
	return d
}

func (r *compiledRule) matches(in *matchInput) bool {
	for _, pred := range r.preds {
		if !pred(in) {
			return false
		}
	}
	return true
}

// hostPattern makes a host-match regexp case-insensitive, since hosts are matched lower-cased.
func hostPattern(param string) string {
	return "(?i)" + param
}

func normalize(meta Meta) matchInput {
	host := strings.TrimSpace(meta.Host)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	if ascii, err := idna.Lookup.ToASCII(host); err == nil {
		host = ascii
	}

	ip := meta.IP
	if !ip.IsValid() {
		if parsed, err := netip.ParseAddr(strings.Trim(host, "[]")); err == nil {
			ip = parsed
		}
	}
	return matchInput{host: host, ip: ip.Unmap()}
}
