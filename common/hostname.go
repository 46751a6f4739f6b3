package common

import (
	"net/url"
	"strings"
)

// ExtractHostname strips scheme, userinfo, port and path from a host or URL
// string and lowercases the result.
//
//	ExtractHostname("https://example.com:8080/path") // "example.com"
//	ExtractHostname("example.com:5000")              // "example.com"
//	ExtractHostname("localhost")                     // "localhost"
//
// It never fails. Input that url.Parse rejects, such as a non-numeric port, is
// cut down by hand to the same authority.
func ExtractHostname(host string) string {
	host = strings.TrimSpace(host)

	forParse := host
	if !strings.Contains(host, "://") {
		forParse = "//" + host
	}

	if parsed, err := url.Parse(forParse); err == nil {
		if hostname := parsed.Hostname(); hostname != "" {
			return strings.ToLower(hostname)
		}
	}

	return strings.ToLower(hostnameFromAuthority(authorityOf(host)))
}

// authorityOf drops the scheme and everything from the first path, query or
// fragment delimiter.
func authorityOf(s string) string {
	if _, after, ok := strings.Cut(s, "://"); ok {
		s = after
	}
	if i := strings.IndexAny(s, "/?#"); i >= 0 {
		s = s[:i]
	}
	return s
}

func hostnameFromAuthority(authority string) string {
	if i := strings.LastIndex(authority, "@"); i >= 0 {
		authority = authority[i+1:]
	}
	if strings.HasPrefix(authority, "[") {
		if end := strings.Index(authority, "]"); end > 0 {
			return authority[1:end]
		}
	}
	if before, _, ok := strings.Cut(authority, ":"); ok {
		return before
	}
	return authority
}
