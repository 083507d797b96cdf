// Package security holds the client-side TLS settings a replicator carries.
package security

// ClientMTLSConfig holds the client certificate presented to the server.
type ClientMTLSConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	CertFile string `json:"cert_file,omitempty" yaml:"cert_file,omitempty" mapstructure:"cert_file"`
	KeyFile  string `json:"key_file,omitempty" yaml:"key_file,omitempty" mapstructure:"key_file"`
}

// ClientTLSConfig holds TLS configuration for replication connections.
// The system CA bundle is always trusted; CAFiles are additional CAs.
type ClientTLSConfig struct {
	CAFiles            []string `json:"ca_files,omitempty" yaml:"ca_files,omitempty" mapstructure:"ca_files"`
	InsecureSkipVerify bool     `json:"insecure_skip_verify,omitempty" yaml:"insecure_skip_verify,omitempty" mapstructure:"insecure_skip_verify"` // DEV/TEST ONLY
	MinVersion         string   `json:"min_version,omitempty" yaml:"min_version,omitempty" mapstructure:"min_version"`

	MTLS ClientMTLSConfig `json:"mtls,omitempty" yaml:"mtls,omitempty" mapstructure:"mtls"`
}

// TrustPolicy replaces CA verification of the server certificate.
//
// With PinnedCert set, the server's leaf certificate must be byte-for-byte
// equal to it. With OnlySelfSigned set, the server must present a single
// self-signed certificate. Both may be set. Hostnames are not checked while
// either is active.
type TrustPolicy struct {
	PinnedCert     []byte // DER
	OnlySelfSigned bool
}

// Active reports whether the policy overrides default verification.
func (p TrustPolicy) Active() bool {
	return len(p.PinnedCert) > 0 || p.OnlySelfSigned
}
