package httputil

import (
	"fmt"
	"net"
	"net/http"
	"strings"
)

// GetClientIP extracts the real client IP from the request.
// It checks X-Forwarded-For first (taking the first IP in the chain),
// then X-Real-IP, and finally falls back to RemoteAddr.
// Properly handles IPv6 addresses including bracketed notation.
// Only call it for requests from a trusted proxy; see ClientIPResolver.
func GetClientIP(r *http.Request) string {
	// Check X-Forwarded-For header first
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// Take the first IP in the chain
		if ips := strings.Split(xff, ","); len(ips) > 0 {
			if ip := strings.TrimSpace(ips[0]); ip != "" {
				return ip
			}
		}
	}

	// Check X-Real-IP header
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	return RemoteIP(r)
}

// RemoteIP returns the host part of RemoteAddr.
func RemoteIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// ClientIPResolver honours forwarding headers only when the direct peer is a
// configured proxy, so rate limits cannot be dodged with a forged header.
type ClientIPResolver struct {
	trusted []*net.IPNet
}

// NewClientIPResolver parses proxies given as CIDRs or single addresses.
func NewClientIPResolver(proxies []string) (*ClientIPResolver, error) {
	resolver := &ClientIPResolver{}
	for _, p := range proxies {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if !strings.Contains(p, "/") {
			ip := net.ParseIP(p)
			if ip == nil {
				return nil, fmt.Errorf("invalid trusted proxy %q", p)
			}
			bits := 32
			if ip.To4() == nil {
				bits = 128
			}
			p = fmt.Sprintf("%s/%d", ip.String(), bits)
		}
		_, network, err := net.ParseCIDR(p)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", p, err)
		}
		resolver.trusted = append(resolver.trusted, network)
	}
	return resolver, nil
}

// ClientIP returns the client address for r.
func (c *ClientIPResolver) ClientIP(r *http.Request) string {
	peer := RemoteIP(r)
	if c == nil || !c.isTrusted(peer) {
		return peer
	}
	return GetClientIP(r)
}

func (c *ClientIPResolver) isTrusted(addr string) bool {
	ip := net.ParseIP(addr)
	if ip == nil {
		return false
	}
	for _, network := range c.trusted {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}
