package rules

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"regexp"
	"strings"
)

var (
	// ErrMissingCatchAll is reported when the last rule is not `match` / `match-all`.
	ErrMissingCatchAll = errors.New("rule set must end with a match / match-all rule")
	// ErrUnknownServer is reported when a rule names a server that is not declared.
	ErrUnknownServer = errors.New("rule references an undeclared server")

	ErrDuplicateServer = errors.New("duplicate server name")
	ErrInvalidParam    = errors.New("invalid rule parameter")
	ErrInvalidNetwork  = errors.New("invalid network mode")
)

// ValidationError collects every problem found in a RoutingConfig.
type ValidationError struct {
	Issues []error
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Issues))
	for i, issue := range e.Issues {
		msgs[i] = issue.Error()
	}
	return "invalid routing config: " + strings.Join(msgs, "; ")
}

// Unwrap exposes the individual issues to errors.Is / errors.As.
func (e *ValidationError) Unwrap() []error {
	return e.Issues
}

// Validate checks the config the way the backend does before applying it.
// It returns nil or a *ValidationError listing every issue.
func (c *RoutingConfig) Validate() error {
	var issues []error
	add := func(err error) { issues = append(issues, err) }

	switch c.Net {
	case NetworkTCP, NetworkUDP:
	case "":
		add(fmt.Errorf("%w: Net is empty", ErrInvalidNetwork))
	default:
		add(fmt.Errorf("%w %q", ErrInvalidNetwork, c.Net))
	}

	if c.Listen != "" {
		if _, _, err := net.SplitHostPort(c.Listen); err != nil {
			add(fmt.Errorf("invalid listen address %q: %v", c.Listen, err))
		}
	}

	for i, r := range c.Resolvers {
		if err := validateResolver(r); err != nil {
			add(fmt.Errorf("resolver #%d: %w", i+1, err))
		}
	}

	seen := make(map[string]struct{}, len(c.Servers))
	for _, s := range c.Servers {
		name := strings.TrimSpace(s.Name)
		if name == "" {
			add(errors.New("server name must not be empty"))
			continue
		}
		if _, dup := seen[name]; dup {
			add(fmt.Errorf("%w %q", ErrDuplicateServer, name))
		}
		seen[name] = struct{}{}
		if strings.TrimSpace(s.Address) == "" {
			add(fmt.Errorf("server %q: address must not be empty", name))
		}
	}

	for i, r := range c.Rules {
		for _, err := range validateRule(r, seen) {
			add(fmt.Errorf("rule #%d %q: %w", i+1, r.String(), err))
		}
	}
	if !c.HasCatchAll() {
		add(ErrMissingCatchAll)
	}

	if len(issues) == 0 {
		return nil
	}
	return &ValidationError{Issues: issues}
}

func validateRule(r RuleLine, servers map[string]struct{}) []error {
	var errs []error
	for _, p := range r.Predicates {
		switch p.Kind {
		case HostMatch:
			if _, err := regexp.Compile(hostPattern(p.Param)); err != nil {
				errs = append(errs, fmt.Errorf("%w: host-match must be a valid regexp: %v", ErrInvalidParam, err))
			}
		case IPCIDR:
			if _, err := netip.ParsePrefix(p.Param); err != nil {
				errs = append(errs, fmt.Errorf("%w: ip-cidr must be a valid CIDR: %v", ErrInvalidParam, err))
			}
		case GeoIP:
			if len(p.Param) != 2 {
				errs = append(errs, fmt.Errorf("%w: geoip expects a two-letter country code, got %q", ErrInvalidParam, p.Param))
			}
		case HasServer:
			if _, ok := servers[p.Param]; !ok {
				errs = append(errs, fmt.Errorf("%w %q", ErrUnknownServer, p.Param))
			}
		case HostSuffix, HostPrefix:
			if p.Param == "" {
				errs = append(errs, fmt.Errorf("%w: %s must not be empty", ErrInvalidParam, p.Kind))
			}
		}
	}
	if r.Action.Kind == ActionForward {
		if _, ok := servers[r.Action.Server]; !ok {
			errs = append(errs, fmt.Errorf("%w %q", ErrUnknownServer, r.Action.Server))
		}
	}
	return errs
}

func validateResolver(r ResolverEntry) error {
	if r.Address == "" {
		return fmt.Errorf("%w: %s address is empty", ErrInvalidResolver, r.Kind)
	}
	switch r.Kind {
	case ResolverDoH:
		u, err := url.Parse(r.Address)
		if err != nil || u.Scheme != "https" || u.Host == "" {
			return fmt.Errorf("%w: DoH expects an https URL, got %q", ErrInvalidResolver, r.Address)
		}
	case ResolverDNS, ResolverDoT:
		if strings.Contains(r.Address, "/") {
			return fmt.Errorf("%w: %s expects a host or address, got %q", ErrInvalidResolver, r.Kind, r.Address)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidResolver, r.Kind)
	}
	return nil
}
