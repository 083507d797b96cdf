// Package cookiestore keeps the cookies replication servers set, so a
// session cookie issued on one connection is presented on the next.
//
// A Store is an http.CookieJar. MemoryStore lives for the process;
// KVStore persists cookies in a key-value bucket such as a NATS JetStream
// KV bucket, so every replicator sharing the bucket sees them.
package cookiestore

import (
	"net/http"
	"net/url"
	"strings"
)

// Store persists cookies set by remotes.
type Store interface {
	http.CookieJar
}

// ParseCookieHeader parses a Cookie header value such as "a=1; b=2".
// Malformed pairs are skipped.
func ParseCookieHeader(header string) []*http.Cookie {
	if strings.TrimSpace(header) == "" {
		return nil
	}
	req := http.Request{Header: http.Header{"Cookie": {header}}}
	return req.Cookies()
}

// FormatCookieHeader joins cookies into a Cookie header value.
func FormatCookieHeader(cookies []*http.Cookie) string {
	parts := make([]string, 0, len(cookies))
	for _, c := range cookies {
		parts = append(parts, c.Name+"="+c.Value)
	}
	return strings.Join(parts, "; ")
}

// Merge returns base followed by the extra cookies whose names base does
// not already hold.
func Merge(base, extra []*http.Cookie) []*http.Cookie {
	seen := make(map[string]struct{}, len(base))
	out := make([]*http.Cookie, 0, len(base)+len(extra))
	for _, c := range base {
		seen[c.Name] = struct{}{}
		out = append(out, c)
	}
	for _, c := range extra {
		if _, ok := seen[c.Name]; ok {
			continue
		}
		seen[c.Name] = struct{}{}
		out = append(out, c)
	}
	return out
}

// httpURL maps websocket schemes onto their http equivalents, which is what
// cookie scoping rules are written against.
func httpURL(u *url.URL) *url.URL {
	cp := *u
	switch strings.ToLower(u.Scheme) {
	case "ws", "blip":
		cp.Scheme = "http"
	case "wss", "blips":
		cp.Scheme = "https"
	}
	return &cp
}
