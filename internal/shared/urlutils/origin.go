// Package urlutils normalises the origins reported by transports.
package urlutils

import (
	"net/url"
	"strings"
)

var defaultPorts = map[string]string{
	"http":  "80",
	"https": "443",
	"ws":    "80",
	"wss":   "443",
}

// NormalizeOrigin reduces raw to scheme://host[:port], dropping path, query,
// fragment, userinfo and the scheme's default port. It returns "" when raw
// has no scheme or host. The opaque origin "null" is returned unchanged.
func NormalizeOrigin(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "null" {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}

	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if port == defaultPorts[scheme] {
		port = ""
	}

	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if port != "" {
		return scheme + "://" + host + ":" + port
	}
	return scheme + "://" + host
}

// SameOrigin reports whether a and b normalise to the same non-empty origin.
func SameOrigin(a, b string) bool {
	na := NormalizeOrigin(a)
	return na != "" && na == NormalizeOrigin(b)
}

// SocketOrigin maps a ws:// or wss:// endpoint to the http(s) origin of the
// page that serves it.
func SocketOrigin(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil {
		return ""
	}
	switch strings.ToLower(u.Scheme) {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	}
	return NormalizeOrigin(u.String())
}
