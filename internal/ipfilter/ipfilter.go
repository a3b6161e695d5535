// Package ipfilter provides IP-based access control for partner endpoints
package ipfilter

import (
	"net"
	"net/http"
	"strings"
)

// Guard checks caller addresses against a partner allow-list
type Guard struct {
	enabled     bool
	allowedNets []*net.IPNet
}

// NewGuard creates a guard from a list of IP literals (CIDRs accepted).
// When enabled is false the guard always passes. Unparseable entries are
// skipped: a typo in one allow-list row must not lock out every caller.
func NewGuard(enabled bool, allowedIPs []string) *Guard {
	g := &Guard{enabled: enabled}

	for _, ipStr := range allowedIPs {
		ipStr = strings.TrimSpace(ipStr)
		if ipStr == "" {
			continue
		}

		if strings.Contains(ipStr, "/") {
			_, ipNet, err := net.ParseCIDR(ipStr)
			if err != nil {
				continue
			}
			g.allowedNets = append(g.allowedNets, ipNet)
			continue
		}

		ip := net.ParseIP(ipStr)
		if ip == nil {
			continue
		}
		var mask net.IPMask
		if ip.To4() != nil {
			mask = net.CIDRMask(32, 32)
		} else {
			mask = net.CIDRMask(128, 128)
		}
		g.allowedNets = append(g.allowedNets, &net.IPNet{IP: ip, Mask: mask})
	}

	return g
}

// Allowed reports whether the caller address passes the guard. With
// filtering disabled every address passes; with filtering enabled the
// address must parse and match an allow-list entry.
func (g *Guard) Allowed(ipStr string) bool {
	if !g.enabled {
		return true
	}

	ip := net.ParseIP(strings.TrimSpace(ipStr))
	if ip == nil {
		return false
	}
	for _, ipNet := range g.allowedNets {
		if ipNet.Contains(ip) {
			return true
		}
	}
	return false
}

// ClientIP extracts the caller IP from an HTTP request, preferring proxy
// headers over RemoteAddr.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		if ip := net.ParseIP(strings.TrimSpace(parts[0])); ip != nil {
			return ip.String()
		}
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		if ip := net.ParseIP(strings.TrimSpace(xri)); ip != nil {
			return ip.String()
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
