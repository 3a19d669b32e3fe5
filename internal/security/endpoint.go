package security

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// Hostnames that must never be dialed from the server, regardless of what
// they resolve to. Covers cloud metadata services and local aliases.
var blockedHosts = map[string]bool{
	"localhost":                true,
	"metadata.google.internal": true,
	"metadata.google":          true,
}

// ValidateEndpointURL checks that an outbound collaborator URL (such as the
// permissions service) is safe to dial from the server. It rejects non-HTTP
// schemes and any host that is, or resolves to, a loopback, private,
// link-local, or unspecified address, guarding against SSRF through
// operator-supplied configuration.
func ValidateEndpointURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("malformed URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme %q not allowed, use http or https", u.Scheme)
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("URL has no host")
	}

	if blockedHosts[strings.ToLower(host)] {
		return fmt.Errorf("host %q is not allowed", host)
	}

	if ip := net.ParseIP(host); ip != nil {
		return checkDialableIP(ip)
	}

	addrs, err := net.LookupHost(host)
	if err != nil {
		return fmt.Errorf("cannot resolve host %q", host)
	}
	for _, addr := range addrs {
		if ip := net.ParseIP(addr); ip != nil {
			if err := checkDialableIP(ip); err != nil {
				return fmt.Errorf("host %q resolves to blocked address: %w", host, err)
			}
		}
	}
	return nil
}

func checkDialableIP(ip net.IP) error {
	switch {
	case ip.IsLoopback():
		return fmt.Errorf("loopback address not allowed")
	case ip.IsPrivate():
		return fmt.Errorf("private address not allowed")
	case ip.IsLinkLocalUnicast(), ip.IsLinkLocalMulticast():
		return fmt.Errorf("link-local address not allowed")
	case ip.IsUnspecified():
		return fmt.Errorf("unspecified address not allowed")
	}
	return nil
}
