// Package netutil provides shared HTTP/network normalization helpers used
// by both the relay's public dispatch path and the tunnel client's local
// forward path.
package netutil

import (
	"net"
	"net/http"
	"strings"
)

// hopByHopHeaders are the headers spec.md names explicitly: they must
// appear in neither the outbound request to the client nor the response
// to the visitor.
var hopByHopHeaders = []string{
	"Transfer-Encoding",
	"Connection",
	"Keep-Alive",
}

// StripHopByHop removes the hop-by-hop headers listed above from an
// http.Header in place.
func StripHopByHop(h http.Header) {
	for _, k := range hopByHopHeaders {
		h.Del(k)
	}
}

// StripHopByHopMap removes the hop-by-hop headers from a map[string][]string
// as carried over the wire protocol, matching key names case-insensitively.
func StripHopByHopMap(h map[string][]string) {
	for k := range h {
		for _, hop := range hopByHopHeaders {
			if strings.EqualFold(k, hop) {
				delete(h, k)
				break
			}
		}
	}
}

// NormalizeHost lower-cases and strips ports/trailing dots from host values.
func NormalizeHost(raw string) string {
	host := strings.ToLower(strings.TrimSpace(raw))
	if host == "" {
		return ""
	}

	if h, p, err := net.SplitHostPort(host); err == nil && p != "" {
		host = h
	}

	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	return strings.TrimSuffix(host, ".")
}

// RemoteIP extracts the bare IP from a dial-style "host:port" remote
// address string, falling back to the input unchanged if it has no port.
func RemoteIP(remoteAddr string) string {
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		return host
	}
	return strings.TrimSpace(remoteAddr)
}
