package socket

import (
	"fmt"
	"math"
	"net/http"
	"time"
)

// Option keys understood by transports.
const (
	OptionHeaders              = "headers"
	OptionCookies              = "cookies"
	OptionAuthentication       = "auth"
	OptionPinnedServerCert     = "pinnedCert"
	OptionOnlySelfSignedServer = "onlySelfSignedServer"
	OptionHeartbeat            = "heartbeat"
	OptionWebSocketProtocols   = "WS-Protocols"
)

// Keys inside the OptionAuthentication map.
const (
	OptionAuthType          = "type"
	OptionAuthUsername      = "username"
	OptionAuthPassword      = "password"
	OptionAuthClientCertKey = "clientCertKey"
)

const (
	AuthTypeBasic      = "Basic"
	AuthTypeSession    = "Session"
	AuthTypeClientCert = "ClientCert"
)

// DefaultHeartbeat is the ping interval when none is configured.
const DefaultHeartbeat = 300 * time.Second

// MaxHeartbeat caps configured ping intervals.
const MaxHeartbeat = 24 * time.Hour

// Options are the engine's socket options. Values come from decoded engine
// data, so accessors tolerate the loose types that decoding produces.
type Options map[string]any

// String returns the string under key, or "".
func (o Options) String(key string) string {
	s, _ := o[key].(string)
	return s
}

// Bool returns the bool under key, or false.
func (o Options) Bool(key string) bool {
	b, _ := o[key].(bool)
	return b
}

// Bytes returns the byte slice under key, or nil.
func (o Options) Bytes(key string) []byte {
	b, _ := o[key].([]byte)
	return b
}

// Map returns the nested options under key, or nil.
func (o Options) Map(key string) Options {
	switch m := o[key].(type) {
	case Options:
		return m
	case map[string]any:
		return Options(m)
	default:
		return nil
	}
}

// Int returns the integer under key and whether one was present.
func (o Options) Int(key string) (int64, bool) {
	switch v := o[key].(type) {
	case int:
		return int64(v), true
	case int64:
		return v, true
	case uint64:
		if v > math.MaxInt64 {
			return math.MaxInt64, true
		}
		return int64(v), true
	case float64:
		switch {
		case math.IsNaN(v):
			return 0, false
		case v >= math.MaxInt64:
			return math.MaxInt64, true
		case v <= math.MinInt64:
			return math.MinInt64, true
		}
		return int64(v), true
	default:
		return 0, false
	}
}

// Headers returns the extra request headers.
func (o Options) Headers() http.Header {
	h := http.Header{}
	switch m := o[OptionHeaders].(type) {
	case map[string]string:
		for k, v := range m {
			h.Set(k, v)
		}
	case map[string]any:
		for k, v := range m {
			h.Set(k, fmt.Sprint(v))
		}
	case http.Header:
		for k, vs := range m {
			for _, v := range vs {
				h.Add(k, v)
			}
		}
	}
	return h
}

// Heartbeat returns the ping interval. The option holds seconds.
func (o Options) Heartbeat() time.Duration {
	if secs, ok := o.Int(OptionHeartbeat); ok && secs > 0 {
		if secs > int64(MaxHeartbeat/time.Second) {
			return MaxHeartbeat
		}
		return time.Duration(secs) * time.Second
	}
	return DefaultHeartbeat
}

// BasicCredentials returns the username and password for Basic auth.
func (o Options) BasicCredentials() (user, password string, ok bool) {
	auth := o.Map(OptionAuthentication)
	if auth == nil || auth.String(OptionAuthType) != AuthTypeBasic {
		return "", "", false
	}
	user, uok := auth[OptionAuthUsername].(string)
	password, pok := auth[OptionAuthPassword].(string)
	if !uok || !pok {
		return "", "", false
	}
	return user, password, true
}

// ClientCertKey returns the client certificate token for certificate auth.
func (o Options) ClientCertKey() (uint64, bool) {
	auth := o.Map(OptionAuthentication)
	if auth == nil || auth.String(OptionAuthType) != AuthTypeClientCert {
		return 0, false
	}
	key, ok := auth.Int(OptionAuthClientCertKey)
	if !ok || key <= 0 {
		return 0, false
	}
	return uint64(key), true
}
