// Package security decides which embedding pages may load the widget and its stream.
package security

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ToOrigin returns the scheme://host[:port] origin of an absolute http(s) URL,
// lowercased and without a default port. It returns "" for anything else.
func ToOrigin(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ""
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		port = ""
	}
	if port != "" {
		host = net.JoinHostPort(host, port)
	} else if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	return scheme + "://" + host
}

var (
	ErrEmptyOrigin    = errors.New("cannot be empty")
	ErrWildcardOrigin = errors.New("cannot contain wildcard (*)")
)

// ParseExactOrigin validates a configured origin: absolute http or https,
// no credentials, no path, query or fragment, no wildcard.
func ParseExactOrigin(raw, label string) (string, error) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return "", fmt.Errorf("%s %w", label, ErrEmptyOrigin)
	}
	if strings.Contains(v, "*") {
		return "", fmt.Errorf("%s %w", label, ErrWildcardOrigin)
	}
	u, err := url.Parse(v)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("%s must be a valid absolute origin", label)
	}
	if s := strings.ToLower(u.Scheme); s != "http" && s != "https" {
		return "", fmt.Errorf("%s must use http or https", label)
	}
	if u.User != nil {
		return "", fmt.Errorf("%s cannot contain credentials", label)
	}
	if (u.Path != "" && u.Path != "/") || u.RawQuery != "" || u.Fragment != "" || u.ForceQuery || strings.Contains(v, "#") {
		return "", fmt.Errorf("%s must be an exact origin without path/query/hash", label)
	}
	return ToOrigin(v), nil
}

// Guard holds the origin allowlist.
type Guard struct {
	embed  []string
	allow  map[string]struct{}
	server string
}

func NewGuard(embedOrigins []string, serverOrigin string) *Guard {
	g := &Guard{allow: make(map[string]struct{}), server: ToOrigin(serverOrigin)}
	for _, o := range embedOrigins {
		o = ToOrigin(o)
		if o == "" {
			continue
		}
		if _, dup := g.allow[o]; dup {
			continue
		}
		g.allow[o] = struct{}{}
		g.embed = append(g.embed, o)
	}
	return g
}

// OriginAllowed reports whether origin (already normalized or raw) is
// allowlisted. allowSelf adds the server's own origin.
func (g *Guard) OriginAllowed(origin string, allowSelf bool) bool {
	origin = ToOrigin(origin)
	if origin == "" {
		return false
	}
	if _, ok := g.allow[origin]; ok {
		return true
	}
	return allowSelf && g.server != "" && origin == g.server
}

// Allowed checks the Origin header first and the Referer's origin second.
// A request carrying neither is rejected.
func (g *Guard) Allowed(origin, referer string, allowSelf bool) bool {
	return g.OriginAllowed(origin, allowSelf) || g.OriginAllowed(referer, allowSelf)
}

// FrameAncestors returns the CSP frame-ancestors directive for the embed list.
func (g *Guard) FrameAncestors() string {
	if len(g.embed) == 0 {
		return "frame-ancestors 'self'"
	}
	return "frame-ancestors " + strings.Join(g.embed, " ")
}

// EmbedOrigins returns the normalized embed allowlist in configuration order.
func (g *Guard) EmbedOrigins() []string {
	return append([]string(nil), g.embed...)
}
