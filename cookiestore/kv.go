package cookiestore

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"

	pkgerrors "github.com/c360/litesync/errors"
	"github.com/c360/litesync/metric"
	"github.com/c360/litesync/pkg/cache"
)

// KV is the bucket a KVStore persists to.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Update(ctx context.Context, key string, fn func(current []byte) ([]byte, error)) error
}

type storedCookie struct {
	Name    string    `json:"name"`
	Value   string    `json:"value"`
	Path    string    `json:"path"`
	Secure  bool      `json:"secure,omitempty"`
	Expires time.Time `json:"expires,omitempty"`
}

func (c storedCookie) expired(now time.Time) bool {
	return !c.Expires.IsZero() && !now.Before(c.Expires)
}

// KVStore keeps cookies in a KV bucket, one entry per host. Domain
// attributes are ignored: a cookie is only returned to the host that set it.
type KVStore struct {
	kv      KV
	timeout time.Duration
	logger  *slog.Logger
	now     func() time.Time
	reads   *cache.TTL[[]byte]
}

// NewKVStore creates a store over kv. timeout bounds every bucket call.
func NewKVStore(kv KV, timeout time.Duration, logger *slog.Logger) *KVStore {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &KVStore{
		kv:      kv,
		timeout: timeout,
		logger:  logger.With("component", "cookiestore"),
		now:     time.Now,
	}
}

// CacheReads keeps bucket entries in memory for ttl, so consecutive
// handshakes to one host read the bucket once. Writes through this store
// invalidate the entry; writes by other processes are seen after ttl.
// registry may be nil.
func (s *KVStore) CacheReads(ttl time.Duration, registry *metric.MetricsRegistry) error {
	c, err := cache.NewTTL[[]byte](ttl, cache.WithMetrics(registry, "cookiestore"), cache.WithClock(s.now))
	if err != nil {
		return err
	}
	s.reads = c
	return nil
}

// hostKey is the bucket key for host. KV keys have a restricted alphabet,
// so hosts are hashed.
func hostKey(host string) string {
	return "cookies." + strconv.FormatUint(xxhash.Sum64String(strings.ToLower(host)), 16)
}

// SetCookies implements http.CookieJar.
func (s *KVStore) SetCookies(u *url.URL, cookies []*http.Cookie) {
	if len(cookies) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	now := s.now()
	err := s.kv.Update(ctx, hostKey(u.Hostname()), func(current []byte) ([]byte, error) {
		stored, err := decode(current)
		if err != nil {
			s.logger.Warn("discarding unreadable cookie entry", "host", u.Hostname(), "error", err)
			stored = nil
		}
		for _, c := range cookies {
			stored = upsert(stored, fromHTTP(u, c, now))
		}
		return json.Marshal(prune(stored, now))
	})
	if s.reads != nil {
		s.reads.Delete(hostKey(u.Hostname()))
	}
	if err != nil {
		s.logger.Warn("failed to persist cookies", "host", u.Hostname(), "error", err)
	}
}

// Cookies implements http.CookieJar.
func (s *KVStore) Cookies(u *url.URL) []*http.Cookie {
	data, ok := s.load(u.Hostname())
	if !ok {
		return nil
	}
	stored, err := decode(data)
	if err != nil {
		s.logger.Warn("unreadable cookie entry", "host", u.Hostname(), "error", err)
		return nil
	}

	now := s.now()
	secure := httpURL(u).Scheme == "https"
	path := u.Path
	if path == "" {
		path = "/"
	}

	var out []*http.Cookie
	for _, c := range stored {
		if c.expired(now) || (c.Secure && !secure) || !pathMatch(c.Path, path) {
			continue
		}
		out = append(out, &http.Cookie{Name: c.Name, Value: c.Value})
	}
	return out
}

// load returns the bucket entry for host. A missing entry is empty, not a
// failure.
func (s *KVStore) load(host string) ([]byte, bool) {
	key := hostKey(host)
	if s.reads != nil {
		if data, ok := s.reads.Get(key); ok {
			return data, true
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	data, err := s.kv.Get(ctx, key)
	switch {
	case errors.Is(err, pkgerrors.ErrKeyNotFound):
		data = nil
	case err != nil:
		s.logger.Warn("failed to load cookies", "host", host, "error", err)
		return nil, false
	}
	if s.reads != nil {
		s.reads.Set(key, data)
	}
	return data, true
}

func decode(data []byte) ([]storedCookie, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var stored []storedCookie
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, err
	}
	return stored, nil
}

func fromHTTP(u *url.URL, c *http.Cookie, now time.Time) storedCookie {
	sc := storedCookie{Name: c.Name, Value: c.Value, Path: c.Path, Secure: c.Secure}
	if sc.Path == "" || !strings.HasPrefix(sc.Path, "/") {
		sc.Path = defaultPath(u.Path)
	}
	switch {
	case c.MaxAge < 0:
		sc.Expires = now
	case c.MaxAge > 0:
		sc.Expires = now.Add(time.Duration(c.MaxAge) * time.Second)
	case !c.Expires.IsZero():
		sc.Expires = c.Expires
	}
	return sc
}

func upsert(stored []storedCookie, c storedCookie) []storedCookie {
	for i := range stored {
		if stored[i].Name == c.Name && stored[i].Path == c.Path {
			stored[i] = c
			return stored
		}
	}
	return append(stored, c)
}

func prune(stored []storedCookie, now time.Time) []storedCookie {
	out := stored[:0]
	for _, c := range stored {
		if !c.expired(now) {
			out = append(out, c)
		}
	}
	return out
}

// defaultPath is the directory of the request path.
func defaultPath(p string) string {
	if p == "" || p[0] != '/' {
		return "/"
	}
	i := strings.LastIndex(p, "/")
	if i == 0 {
		return "/"
	}
	return p[:i]
}

func pathMatch(cookiePath, requestPath string) bool {
	if requestPath == cookiePath {
		return true
	}
	if !strings.HasPrefix(requestPath, cookiePath) {
		return false
	}
	return strings.HasSuffix(cookiePath, "/") || requestPath[len(cookiePath)] == '/'
}
