package cookiestore_test

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"testing"
	"time"

	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/litesync/cookiestore"
	"github.com/c360/litesync/metric"
	"github.com/c360/litesync/testutil"
)

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func names(cookies []*http.Cookie) []string {
	out := make([]string, 0, len(cookies))
	for _, c := range cookies {
		out = append(out, c.Name+"="+c.Value)
	}
	return out
}

func stores() map[string]cookiestore.Store {
	return map[string]cookiestore.Store{
		"memory": cookiestore.NewMemoryStore(),
		"kv":     cookiestore.NewKVStore(testutil.NewMockKVStore(), 0, nil),
	}
}

func TestStore_RoundTrip(t *testing.T) {
	for name, store := range stores() {
		t.Run(name, func(t *testing.T) {
			u := mustURL(t, "ws://sync.example.com:4984/db/_blipsync")
			store.SetCookies(u, []*http.Cookie{
				{Name: "SyncGatewaySession", Value: "abc", Path: "/db"},
				{Name: "other", Value: "x", Path: "/elsewhere"},
			})

			assert.Equal(t, []string{"SyncGatewaySession=abc"}, names(store.Cookies(u)))
			assert.Empty(t, store.Cookies(mustURL(t, "ws://other.example.com:4984/db/_blipsync")))
		})
	}
}

func TestStore_SecureCookiesNeedSecureScheme(t *testing.T) {
	for name, store := range stores() {
		t.Run(name, func(t *testing.T) {
			store.SetCookies(mustURL(t, "wss://sync.example.com/db"), []*http.Cookie{
				{Name: "s", Value: "1", Path: "/", Secure: true},
			})

			assert.Equal(t, []string{"s=1"}, names(store.Cookies(mustURL(t, "blips://sync.example.com/db"))))
			assert.Empty(t, store.Cookies(mustURL(t, "ws://sync.example.com/db")))
		})
	}
}

func TestStore_ReplaceAndExpire(t *testing.T) {
	for name, store := range stores() {
		t.Run(name, func(t *testing.T) {
			u := mustURL(t, "ws://sync.example.com/db/_blipsync")
			store.SetCookies(u, []*http.Cookie{{Name: "a", Value: "1", Path: "/"}})
			store.SetCookies(u, []*http.Cookie{{Name: "a", Value: "2", Path: "/"}})
			assert.Equal(t, []string{"a=2"}, names(store.Cookies(u)))

			store.SetCookies(u, []*http.Cookie{{Name: "a", Value: "", Path: "/", MaxAge: -1}})
			assert.Empty(t, store.Cookies(u))
		})
	}
}

func TestKVStore_SharedBucket(t *testing.T) {
	kv := testutil.NewMockKVStore()
	u := mustURL(t, "wss://sync.example.com/db/_blipsync")

	cookiestore.NewKVStore(kv, 0, nil).SetCookies(u, []*http.Cookie{{Name: "session", Value: "s1", Path: "/db"}})

	assert.Equal(t, []string{"session=s1"}, names(cookiestore.NewKVStore(kv, 0, nil).Cookies(u)))
	require.Len(t, kv.Keys(), 1)
	assert.Contains(t, kv.Keys()[0], "cookies.")
}

func TestKVStore_CacheReads(t *testing.T) {
	kv := testutil.NewMockKVStore()
	registry := metric.NewMetricsRegistry()
	store := cookiestore.NewKVStore(kv, 0, nil)
	require.NoError(t, store.CacheReads(time.Minute, registry))
	u := mustURL(t, "ws://sync.example.com/db")

	assert.Empty(t, store.Cookies(u))
	assert.Empty(t, store.Cookies(u))
	assert.Equal(t, 1, kv.Gets(), "a missing entry is cached too")

	store.SetCookies(u, []*http.Cookie{{Name: "a", Value: "1", Path: "/"}})
	assert.Equal(t, []string{"a=1"}, names(store.Cookies(u)))
	assert.Equal(t, []string{"a=1"}, names(store.Cookies(u)))
	assert.Equal(t, 2, kv.Gets())

	hits, err := promtestutil.GatherAndCount(registry.PrometheusRegistry(), "litesync_cache_hits_total")
	require.NoError(t, err)
	assert.Equal(t, 1, hits)
}

func TestKVStore_CacheReadsRejectsZeroTTL(t *testing.T) {
	store := cookiestore.NewKVStore(testutil.NewMockKVStore(), 0, nil)
	require.Error(t, store.CacheReads(0, nil))
}

type failingKV struct{}

func (failingKV) Get(context.Context, string) ([]byte, error) {
	return nil, errors.New("bucket unavailable")
}

func (failingKV) Update(context.Context, string, func([]byte) ([]byte, error)) error {
	return errors.New("bucket unavailable")
}

func TestKVStore_BucketErrorsAreNotFatal(t *testing.T) {
	store := cookiestore.NewKVStore(failingKV{}, 0, nil)
	u := mustURL(t, "ws://sync.example.com/db")

	assert.NotPanics(t, func() {
		store.SetCookies(u, []*http.Cookie{{Name: "a", Value: "1"}})
	})
	assert.Nil(t, store.Cookies(u))
}

func TestParseAndFormatCookieHeader(t *testing.T) {
	cookies := cookiestore.ParseCookieHeader("a=1; b=2")
	assert.Equal(t, []string{"a=1", "b=2"}, names(cookies))
	assert.Equal(t, "a=1; b=2", cookiestore.FormatCookieHeader(cookies))
	assert.Nil(t, cookiestore.ParseCookieHeader("  "))
}

func TestMerge(t *testing.T) {
	base := cookiestore.ParseCookieHeader("a=1; b=2")
	extra := cookiestore.ParseCookieHeader("b=3; c=4")
	assert.Equal(t, []string{"a=1", "b=2", "c=4"}, names(cookiestore.Merge(base, extra)))
}
