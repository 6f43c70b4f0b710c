package http

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// IPConfig lists the CIDR ranges whose forwarding headers are believed.
type IPConfig struct {
	TrustedProxies []string
}

func (c *IPConfig) trusts(addr netip.Addr) bool {
	if c == nil || !addr.IsValid() {
		return false
	}
	for _, cidr := range c.TrustedProxies {
		prefix, err := netip.ParsePrefix(cidr)
		if err != nil {
			continue
		}
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// ExtractClientIP returns the address the device key and login history are
// bound to. Forwarding headers count only when the peer is a trusted proxy;
// X-Forwarded-For is walked from the right and the first hop that is not a
// trusted proxy wins. IPv4-mapped IPv6 addresses are unmapped.
func ExtractClientIP(r *http.Request, config *IPConfig) string {
	peer, ok := parseAddr(r.RemoteAddr)
	if !ok {
		if r.RemoteAddr == "" {
			return "unknown"
		}
		return r.RemoteAddr
	}
	if !config.trusts(peer) {
		return peer.String()
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		hops := strings.Split(xff, ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop, ok := parseAddr(strings.TrimSpace(hops[i]))
			if !ok {
				break
			}
			if !config.trusts(hop) {
				return hop.String()
			}
		}
	}

	if xri, ok := parseAddr(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ok {
		return xri.String()
	}

	return peer.String()
}

func parseAddr(s string) (netip.Addr, bool) {
	if s == "" {
		return netip.Addr{}, false
	}
	if host, _, err := net.SplitHostPort(s); err == nil {
		s = host
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap().WithZone(""), true
}
