package session

import (
	"net"
	"strings"
)

// Scope defines allowed scanning boundaries.
// An empty Scope (no rules) allows any well-formed target.
type Scope struct {
	// AllowedDomains is a list of domain patterns the target must match.
	// Wildcard prefix ("*.example.com") matches any single-label subdomain.
	// Exact entry ("example.com") matches only that literal value.
	AllowedDomains []string

	// AllowedCIDRs is a list of CIDR ranges an IP or CIDR target must
	// fall within.
	AllowedCIDRs []string
}

// ValidateTarget checks that target is a well-formed IP address, CIDR range,
// or domain name, and that it falls inside the configured scope. Returns an
// *InvalidTargetError on failure; the check happens before any session state
// is touched.
func (s *Scope) ValidateTarget(target string) error {
	target = strings.TrimSpace(target)
	if target == "" {
		return &InvalidTargetError{Target: target, Reason: "target must not be empty"}
	}

	if ip := net.ParseIP(target); ip != nil {
		return s.checkIP(target, ip)
	}
	if _, network, err := net.ParseCIDR(target); err == nil {
		// A CIDR target is in scope when its network address is.
		return s.checkIP(target, network.IP)
	}
	if !isPlausibleDomain(target) {
		return &InvalidTargetError{Target: target, Reason: "not an IP, CIDR, or domain name"}
	}
	return s.checkDomain(target)
}

// checkDomain verifies a domain target against AllowedDomains.
func (s *Scope) checkDomain(target string) error {
	if len(s.AllowedDomains) == 0 {
		return nil
	}
	for _, pattern := range s.AllowedDomains {
		if domainMatches(target, pattern) {
			return nil
		}
	}
	return &InvalidTargetError{
		Target: target,
		Reason: "outside allowed scope (domains: " + strings.Join(s.AllowedDomains, ", ") + ")",
	}
}

// checkIP verifies an IP (or CIDR network address) against AllowedCIDRs.
func (s *Scope) checkIP(target string, ip net.IP) error {
	if len(s.AllowedCIDRs) == 0 {
		return nil
	}
	for _, cidr := range s.AllowedCIDRs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			continue
		}
		if network.Contains(ip) {
			return nil
		}
	}
	return &InvalidTargetError{
		Target: target,
		Reason: "outside allowed CIDR scope (" + strings.Join(s.AllowedCIDRs, ", ") + ")",
	}
}

// isPlausibleDomain applies a light syntactic check: dot-separated labels of
// letters, digits, and hyphens, no empty labels, no leading/trailing hyphen.
func isPlausibleDomain(target string) bool {
	labels := strings.Split(target, ".")
	for _, label := range labels {
		if label == "" || len(label) > 63 {
			return false
		}
		if strings.HasPrefix(label, "-") || strings.HasSuffix(label, "-") {
			return false
		}
		for _, r := range label {
			switch {
			case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			default:
				return false
			}
		}
	}
	return true
}

// domainMatches returns true when target satisfies the scope pattern.
//
//   - "*.example.com" matches "foo.example.com" but not "example.com" or
//     "foo.bar.example.com" (single wildcard label only).
//   - "example.com" matches only the exact string "example.com".
//   - Comparison is case-insensitive.
func domainMatches(target, pattern string) bool {
	target = strings.ToLower(target)
	pattern = strings.ToLower(pattern)

	if !strings.HasPrefix(pattern, "*.") {
		return target == pattern
	}

	// Wildcard: strip "*." prefix and check target ends with the suffix
	// and has exactly one additional label before it.
	suffix := pattern[2:] // e.g. "example.com"
	if !strings.HasSuffix(target, "."+suffix) {
		return false
	}

	// The part before the suffix must be a single label (no dots).
	label := target[:len(target)-len(suffix)-1]
	return len(label) > 0 && !strings.Contains(label, ".")
}
