package graph

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// validateDownloadURL checks a media URL returned by the provider before the
// bearer token is sent to it. Plain http and private addresses are accepted
// only when the configured base URL itself uses them, as in local fakes.
func (c *GraphClient) validateDownloadURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid media URL: %w", err)
	}
	if u.Host == "" {
		return fmt.Errorf("media URL has no host")
	}

	base, err := url.Parse(c.baseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}

	switch u.Scheme {
	case "https":
	case "http":
		if base.Scheme != "http" {
			return fmt.Errorf("unsupported URL scheme: %s", u.Scheme)
		}
	default:
		return fmt.Errorf("unsupported URL scheme: %s", u.Scheme)
	}

	if isLocalHost(u.Hostname()) && !isLocalHost(base.Hostname()) {
		return fmt.Errorf("download host not allowed: %s", u.Hostname())
	}
	return nil
}

func isLocalHost(hostname string) bool {
	if strings.EqualFold(hostname, "localhost") {
		return true
	}
	ip := net.ParseIP(hostname)
	if ip == nil {
		return false
	}
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsUnspecified()
}
