// Package safeurl guards the two places a URL can hurt: configured
// endpoints with schemes we should never dial, and API credentials that
// ride in query strings and would otherwise leak through logged errors.
package safeurl

import (
	"net/url"
	"strings"
)

// IsHTTPOrHTTPS reports whether u is a valid URL with scheme http or https.
// Configured endpoints are rejected otherwise; file://, ftp:// and friends
// never name an API server.
func IsHTTPOrHTTPS(u string) bool {
	parsed, err := url.Parse(u)
	if err != nil {
		return false
	}
	s := parsed.Scheme
	return s == "http" || s == "https"
}

// Query parameter names whose values are secrets.
var secretParams = []string{"apikey", "api_key", "token", "password"}

// Redact returns u with secret-carrying query parameter values replaced by
// "***". Unparseable input is returned unchanged; it cannot carry a
// recognizable secret.
func Redact(u string) string {
	parsed, err := url.Parse(u)
	if err != nil || parsed.RawQuery == "" {
		return u
	}
	q := parsed.Query()
	changed := false
	for _, name := range secretParams {
		for key := range q {
			if strings.EqualFold(key, name) {
				q.Set(key, "***")
				changed = true
			}
		}
	}
	if !changed {
		return u
	}
	parsed.RawQuery = q.Encode()
	return parsed.String()
}
