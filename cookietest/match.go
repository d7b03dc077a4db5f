// Copyright (C) 2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE.md for licensing terms.

package cookietest

import (
	"net"
	"net/url"
	"strings"
)

// parseURL accepts absolute URLs with a host.
func parseURL(raw string) (*url.URL, bool) {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Hostname() == "" {
		return nil, false
	}
	return u, true
}

func host(u *url.URL) string {
	return strings.ToLower(u.Hostname())
}

func isSecureScheme(scheme string) bool {
	switch strings.ToLower(scheme) {
	case "https", "wss":
		return true
	default:
		return false
	}
}

// isHostOnly reports whether a stored domain names a single host. Domain
// cookies are stored with a leading dot.
func isHostOnly(domain string) bool {
	return !strings.HasPrefix(domain, ".")
}

// domainMatch implements RFC 6265 section 5.1.3.
func domainMatch(host, domain string) bool {
	if host == domain {
		return true
	}
	if net.ParseIP(host) != nil {
		return false
	}
	return strings.HasSuffix(host, "."+domain)
}

// cookieDomainMatch reports whether a cookie stored under domain is sent to
// host.
func cookieDomainMatch(host, domain string) bool {
	if isHostOnly(domain) {
		return host == domain
	}
	return domainMatch(host, strings.TrimPrefix(domain, "."))
}

// pathMatch implements RFC 6265 section 5.1.4.
func pathMatch(requestPath, cookiePath string) bool {
	if requestPath == "" {
		requestPath = "/"
	}
	if requestPath == cookiePath {
		return true
	}
	if !strings.HasPrefix(requestPath, cookiePath) {
		return false
	}
	return strings.HasSuffix(cookiePath, "/") || requestPath[len(cookiePath)] == '/'
}

// defaultPath implements the default-path algorithm of RFC 6265 section
// 5.1.4.
func defaultPath(u *url.URL) string {
	p := u.EscapedPath()
	if p == "" || p[0] != '/' {
		return "/"
	}
	i := strings.LastIndexByte(p, '/')
	if i == 0 {
		return "/"
	}
	return p[:i]
}

// validToken rejects control characters and separators that would corrupt a
// Set-Cookie line.
func validToken(s, forbidden string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < 0x20 || c == 0x7f || strings.IndexByte(forbidden, c) >= 0 {
			return false
		}
	}
	return true
}
