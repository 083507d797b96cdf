package cookiestore

import (
	"net/http"
	"net/http/cookiejar"
	"net/url"
)

// MemoryStore keeps cookies in process memory.
type MemoryStore struct {
	jar *cookiejar.Jar
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	jar, _ := cookiejar.New(nil) // only fails on a bad PublicSuffixList
	return &MemoryStore{jar: jar}
}

// SetCookies implements http.CookieJar.
func (s *MemoryStore) SetCookies(u *url.URL, cookies []*http.Cookie) {
	s.jar.SetCookies(httpURL(u), cookies)
}

// Cookies implements http.CookieJar.
func (s *MemoryStore) Cookies(u *url.URL) []*http.Cookie {
	return s.jar.Cookies(httpURL(u))
}
