package security

import (
	"net/netip"
	"net/url"
	"strings"

	"github.com/pkg/errors"
)

var ErrUnsafeBaseURL = errors.New("unsafe provider base URL")

// ValidateBaseURL checks a remote provider endpoint before an API key is sent
// to it. https is always accepted. Plain http is only accepted when the host
// is the local machine or a private network address.
func ValidateBaseURL(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return errors.Wrapf(ErrUnsafeBaseURL, "invalid URL: %v", err)
	}

	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return errors.Wrapf(ErrUnsafeBaseURL, "%q has no host", rawURL)
	}

	// IP literals are checked without DNS lookups
	addr, err := netip.ParseAddr(host)
	isIP := err == nil
	if isIP {
		addr = addr.Unmap()
		if addr.IsUnspecified() || addr.IsMulticast() {
			return errors.Wrapf(ErrUnsafeBaseURL, "disallowed IP address %q", host)
		}
	}

	switch parsed.Scheme {
	case "https":
		return nil
	case "http":
		if isLocalHost(host) || (isIP && isLocalAddr(addr)) {
			return nil
		}
		return errors.Wrapf(ErrUnsafeBaseURL, "plain http to %q", host)
	default:
		return errors.Wrapf(ErrUnsafeBaseURL, "unsupported URL scheme %q", parsed.Scheme)
	}
}

func isLocalHost(host string) bool {
	return host == "localhost" || strings.HasSuffix(host, ".localhost") || strings.HasSuffix(host, ".local")
}

func isLocalAddr(addr netip.Addr) bool {
	return addr.IsLoopback() || addr.IsPrivate() || addr.IsLinkLocalUnicast()
}
