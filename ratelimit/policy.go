package ratelimit

import (
	"net"
	"strings"
	"time"

	"github.com/petitions-gov-je/signatures-backend/models"
	"github.com/petitions-gov-je/signatures-backend/util"
)

// Policy is the site-wide rate limit configuration. There is one per
// deployment; it is read at the start of every evaluation.
type Policy struct {
	BurstRate       int           `json:"burst_rate"`
	BurstPeriod     time.Duration `json:"burst_period"`
	SustainedRate   int           `json:"sustained_rate"`
	SustainedPeriod time.Duration `json:"sustained_period"`
	// Comma-separated lists of origins that are never limited.
	AllowedDomains string `json:"allowed_domains"`
	AllowedIPs     string `json:"allowed_ips"`
}

// DefaultPolicy applies until an operator stores one.
var DefaultPolicy = Policy{
	BurstRate:       10,
	BurstPeriod:     60 * time.Second,
	SustainedRate:   20,
	SustainedPeriod: 300 * time.Second,
}

// Window is a single rate threshold: at most Rate events per Period.
type Window struct {
	Name   string
	Rate   int
	Period time.Duration
}

// Windows returns the enabled thresholds, burst first. A rate of zero or less
// disables its window.
func (p Policy) Windows() []Window {
	windows := []Window{}
	if p.BurstRate > 0 && p.BurstPeriod > 0 {
		windows = append(windows, Window{Name: "burst", Rate: p.BurstRate, Period: p.BurstPeriod})
	}
	if p.SustainedRate > 0 && p.SustainedPeriod > 0 {
		windows = append(windows, Window{Name: "sustained", Rate: p.SustainedRate, Period: p.SustainedPeriod})
	}
	return windows
}

// Retention is how long events must be kept to evaluate every window.
func (p Policy) Retention() time.Duration {
	if p.SustainedPeriod > p.BurstPeriod {
		return p.SustainedPeriod
	}
	return p.BurstPeriod
}

// AllowList is a parsed form of a policy's allowed domains and IPs.
type AllowList struct {
	domains  map[string]bool
	suffixes []string // from "*.example.com" entries, stored as ".example.com"
	ips      map[string]bool
	networks []*net.IPNet
}

// NewAllowList parses the comma-separated lists of a Policy. Domains may be
// exact or "*."-prefixed wildcards; IPs may be single addresses or CIDR
// ranges. Unparseable IP entries are skipped.
func NewAllowList(domains string, ips string) AllowList {
	list := AllowList{domains: make(map[string]bool), ips: make(map[string]bool)}
	for _, domain := range util.SplitList(domains) {
		if strings.HasPrefix(domain, "*.") {
			list.suffixes = append(list.suffixes, "."+models.ASCIIDomain(domain[2:]))
			continue
		}
		list.domains[models.ASCIIDomain(domain)] = true
	}
	for _, entry := range util.SplitList(ips) {
		if _, network, err := net.ParseCIDR(entry); err == nil {
			list.networks = append(list.networks, network)
			continue
		}
		if ip := net.ParseIP(entry); ip != nil {
			list.ips[ip.String()] = true
		}
	}
	return list
}

// AllowsIP reports whether ip is exempt from limiting.
func (l AllowList) AllowsIP(ip string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	if l.ips[parsed.String()] {
		return true
	}
	for _, network := range l.networks {
		if network.Contains(parsed) {
			return true
		}
	}
	return false
}

// AllowsDomain reports whether an e-mail domain is exempt from limiting.
func (l AllowList) AllowsDomain(domain string) bool {
	if len(domain) == 0 {
		return false
	}
	domain = models.ASCIIDomain(domain)
	if l.domains[domain] {
		return true
	}
	for _, suffix := range l.suffixes {
		if strings.HasSuffix(domain, suffix) {
			return true
		}
	}
	return false
}
