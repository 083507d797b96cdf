package websocket

import (
	"net/http"
	"net/url"

	"github.com/c360/litesync/cookiestore"
)

// handshakeJar supplies the configured cookies plus whatever the store holds
// for the URL, and writes cookies the server sets back to the store. The
// dialer consults it on every handshake, including rejected ones, so a
// session cookie set with a 401 is kept.
type handshakeJar struct {
	configured []*http.Cookie
	store      cookiestore.Store
}

func (j *handshakeJar) Cookies(u *url.URL) []*http.Cookie {
	if j.store == nil {
		return j.configured
	}
	return cookiestore.Merge(j.configured, j.store.Cookies(u))
}

func (j *handshakeJar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	if j.store != nil {
		j.store.SetCookies(u, cookies)
	}
}
