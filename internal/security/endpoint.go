package security

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ErrUnsafeEndpoint is returned for webhook targets that fail validation.
var ErrUnsafeEndpoint = errors.New("security: unsafe endpoint")

var blockedHosts = []string{"localhost", "metadata.google.internal", "metadata.google"}

// ParseEndpointURL checks the shape of an outbound endpoint without touching
// DNS: http(s) scheme, a host, no known-internal hostname and no private or
// loopback IP literal.
func ParseEndpointURL(rawURL string) (*url.URL, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid URL format", ErrUnsafeEndpoint)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return nil, fmt.Errorf("%w: URL scheme must be http or https", ErrUnsafeEndpoint)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: URL must have a host", ErrUnsafeEndpoint)
	}

	host := u.Hostname()
	for _, b := range blockedHosts {
		if strings.EqualFold(host, b) {
			return nil, fmt.Errorf("%w: URL host %q is not allowed", ErrUnsafeEndpoint, host)
		}
	}
	if ip := net.ParseIP(host); ip != nil {
		if err := checkIP(ip); err != nil {
			return nil, err
		}
	}
	return u, nil
}

// ValidateEndpointURL is ParseEndpointURL plus a DNS check: every resolved
// address of a hostname must be public. Run it right before dialing.
func ValidateEndpointURL(rawURL string) error {
	u, err := ParseEndpointURL(rawURL)
	if err != nil {
		return err
	}
	host := u.Hostname()
	if net.ParseIP(host) != nil {
		return nil
	}

	ips, err := net.LookupHost(host)
	if err != nil {
		return fmt.Errorf("%w: cannot resolve URL host: %s", ErrUnsafeEndpoint, host)
	}
	for _, ipStr := range ips {
		if resolved := net.ParseIP(ipStr); resolved != nil {
			if err := checkIP(resolved); err != nil {
				return fmt.Errorf("URL host %q resolves to blocked address: %w", host, err)
			}
		}
	}
	return nil
}

func checkIP(ip net.IP) error {
	switch {
	case ip.IsLoopback():
		return fmt.Errorf("%w: loopback addresses are not allowed", ErrUnsafeEndpoint)
	case ip.IsPrivate():
		return fmt.Errorf("%w: private addresses are not allowed", ErrUnsafeEndpoint)
	case ip.IsLinkLocalUnicast(), ip.IsLinkLocalMulticast():
		return fmt.Errorf("%w: link-local addresses are not allowed", ErrUnsafeEndpoint)
	case ip.IsUnspecified():
		return fmt.Errorf("%w: unspecified addresses are not allowed", ErrUnsafeEndpoint)
	}
	return nil
}
