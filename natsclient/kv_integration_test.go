//go:build integration

package natsclient

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/litesync/cookiestore"
	"github.com/c360/litesync/errors"
)

func TestKVStore_Integration(t *testing.T) {
	tc := NewTestClient(t, WithKVBuckets("litesync_test"))
	ctx := context.Background()

	bucket, err := tc.Client.GetKeyValueBucket(ctx, "litesync_test")
	require.NoError(t, err)
	kv := tc.Client.NewKVStore(bucket)

	_, err = kv.Get(ctx, "missing")
	assert.ErrorIs(t, err, errors.ErrKeyNotFound)

	_, err = kv.Put(ctx, "k", []byte("v1"))
	require.NoError(t, err)
	got, err := kv.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), got)

	require.NoError(t, kv.Delete(ctx, "k"))
	_, err = kv.Get(ctx, "k")
	assert.ErrorIs(t, err, errors.ErrKeyNotFound)
}

func TestKVStore_ConcurrentUpdates(t *testing.T) {
	tc := NewTestClient(t, WithKVBuckets("litesync_counter"))
	ctx := context.Background()

	bucket, err := tc.Client.GetKeyValueBucket(ctx, "litesync_counter")
	require.NoError(t, err)
	kv := tc.Client.NewKVStore(bucket, func(o *KVOptions) { o.MaxRetries = 50 })

	const writers = 10
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := kv.Update(ctx, "counter", func(current []byte) ([]byte, error) {
				n := 0
				if current != nil {
					n, _ = strconv.Atoi(string(current))
				}
				return []byte(strconv.Itoa(n + 1)), nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := kv.Get(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(writers), string(got))
}

func TestKVStore_BacksCookieStore(t *testing.T) {
	tc := NewTestClient(t, WithKVBuckets("litesync_cookies"))
	ctx := context.Background()

	bucket, err := tc.Client.GetKeyValueBucket(ctx, "litesync_cookies")
	require.NoError(t, err)
	store := cookiestore.NewKVStore(tc.Client.NewKVStore(bucket), 0, nil)

	u, err := url.Parse("wss://sync.example.com/db/_blipsync")
	require.NoError(t, err)
	store.SetCookies(u, []*http.Cookie{{Name: "SyncGatewaySession", Value: "abc", Path: "/db"}})

	cookies := store.Cookies(u)
	require.Len(t, cookies, 1)
	assert.Equal(t, "abc", cookies[0].Value)
}
