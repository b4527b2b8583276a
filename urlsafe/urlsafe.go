// Package urlsafe guards the outbound fetches of the adaptation service
// (storefront pages, payload endpoints, remote workers) and the identifiers
// accepted from callers.
package urlsafe

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/netip"
	"net/url"
	"strings"
)

var (
	// ErrPrivateTarget is returned for URLs reaching loopback, link-local or
	// private networks.
	ErrPrivateTarget = errors.New("urlsafe: URL targets a private or loopback address")

	// ErrScheme is returned for anything but http and https.
	ErrScheme = errors.New("urlsafe: only http and https are allowed")

	// ErrTooLarge is returned by LimitedReadAll when the body exceeds its cap.
	ErrTooLarge = errors.New("urlsafe: body too large")
)

var privatePrefixes = []netip.Prefix{
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("100.64.0.0/10"),
	netip.MustParsePrefix("fc00::/7"),
}

// ValidateURL accepts absolute http(s) URLs whose host is not a private
// address. Hostnames are resolved; a resolution failure is let through and
// surfaces later as a dial error.
func ValidateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("urlsafe: parse: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return ErrScheme
	}
	host := u.Hostname()
	if host == "" {
		return errors.New("urlsafe: URL has no host")
	}
	if addr, err := netip.ParseAddr(host); err == nil {
		if isPrivate(addr) {
			return ErrPrivateTarget
		}
		return nil
	}
	addrs, err := net.LookupHost(host)
	if err != nil {
		return nil
	}
	for _, a := range addrs {
		if addr, err := netip.ParseAddr(a); err == nil && isPrivate(addr) {
			return ErrPrivateTarget
		}
	}
	return nil
}

func isPrivate(addr netip.Addr) bool {
	addr = addr.Unmap()
	if addr.IsLoopback() || addr.IsLinkLocalUnicast() || addr.IsLinkLocalMulticast() || addr.IsUnspecified() {
		return true
	}
	for _, p := range privatePrefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// LimitedReadAll reads r to the end, failing with ErrTooLarge past max bytes.
func LimitedReadAll(r io.Reader, max int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, max+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > max {
		return nil, fmt.Errorf("%w: limit %d bytes", ErrTooLarge, max)
	}
	return data, nil
}

// ValidateIdentifier accepts shop identifiers, variant ids and fingerprints:
// 1 to 256 characters among letters, digits, '_', '-', '.'.
func ValidateIdentifier(s string) error {
	if s == "" {
		return errors.New("urlsafe: empty identifier")
	}
	if len(s) > 256 {
		return errors.New("urlsafe: identifier longer than 256 bytes")
	}
	for _, r := range s {
		ok := r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' ||
			r == '_' || r == '-' || r == '.'
		if !ok {
			return fmt.Errorf("urlsafe: invalid character %q in identifier", r)
		}
	}
	return nil
}
