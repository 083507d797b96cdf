// Package config loads and validates replicator configuration.
//
// Configuration comes from a JSON or YAML file, chosen by extension, with
// LITESYNC_ environment variables layered on top. Nested keys use
// underscores, so LITESYNC_COOKIE_STORE_MODE overrides cookie_store.mode.
//
// # Basic Usage
//
//	cfg, err := config.Load("replicator.yaml")
//	if err != nil {
//		return err
//	}
//	opts, release, err := cfg.Options()
//	if err != nil {
//		return err
//	}
//	defer release()
//
// Options produces the engine socket options for the configured target and
// authenticator. TransportConfig builds the websocket transport settings,
// and OpenCookieStore the cookie store selected by cookie_store.mode.
//
// # Inspecting Configuration
//
// DumpYAML renders the effective configuration with secrets redacted:
//
//	_ = config.DumpYAML(os.Stdout, cfg)
package config
