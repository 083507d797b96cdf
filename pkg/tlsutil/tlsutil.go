// Package tlsutil builds client tls.Config values for replication sockets.
package tlsutil

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/litesync/errors"
	"github.com/c360/litesync/pkg/security"
)

// LoadClientTLSConfig creates a client tls.Config. The system CA bundle is
// used first; CAFiles are additional trusted CAs.
func LoadClientTLSConfig(cfg security.ClientTLSConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion: parseTLSVersion(cfg.MinVersion),
	}

	rootCAs, err := x509.SystemCertPool()
	if err != nil {
		rootCAs = x509.NewCertPool()
	}
	for _, caFile := range cfg.CAFiles {
		caPEM, err := os.ReadFile(caFile)
		if err != nil {
			return nil, errors.WrapFatal(err, "tlsutil", "LoadClientTLSConfig", fmt.Sprintf("read CA file %s", caFile))
		}
		if !rootCAs.AppendCertsFromPEM(caPEM) {
			return nil, errors.WrapFatal(fmt.Errorf("invalid PEM data"), "tlsutil", "LoadClientTLSConfig",
				fmt.Sprintf("parse CA certificate from %s", caFile))
		}
	}
	tlsConfig.RootCAs = rootCAs

	if cfg.InsecureSkipVerify {
		tlsConfig.InsecureSkipVerify = true
	}

	if cfg.MTLS.Enabled {
		clientCert, err := tls.LoadX509KeyPair(cfg.MTLS.CertFile, cfg.MTLS.KeyFile)
		if err != nil {
			return nil, errors.WrapFatal(err, "tlsutil", "LoadClientTLSConfig", "load client certificate")
		}
		tlsConfig.Certificates = []tls.Certificate{clientCert}
	}

	return tlsConfig, nil
}

// LoadCertificateFile reads a PEM or DER certificate and returns its DER
// bytes, suitable for TrustPolicy.PinnedCert.
func LoadCertificateFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapFatal(err, "tlsutil", "LoadCertificateFile", fmt.Sprintf("read %s", path))
	}
	if block, _ := pem.Decode(data); block != nil {
		data = block.Bytes
	}
	if _, err := x509.ParseCertificate(data); err != nil {
		return nil, errors.WrapInvalid(err, "tlsutil", "LoadCertificateFile", fmt.Sprintf("parse %s", path))
	}
	return data, nil
}

// ApplyTrustPolicy installs a peer verifier on tlsConfig.
//
// When policy is active, CA and hostname verification are replaced by the
// policy checks. onCerts, if not nil, receives the server's certificates
// once they are accepted.
func ApplyTrustPolicy(tlsConfig *tls.Config, policy security.TrustPolicy, onCerts func([]*x509.Certificate)) {
	active := policy.Active()
	if active {
		tlsConfig.InsecureSkipVerify = true
	}

	tlsConfig.VerifyPeerCertificate = func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		certs := make([]*x509.Certificate, 0, len(rawCerts))
		for _, raw := range rawCerts {
			cert, err := x509.ParseCertificate(raw)
			if err != nil {
				return fmt.Errorf("tlsutil: parse server certificate: %w", err)
			}
			certs = append(certs, cert)
		}
		if active {
			if err := VerifyServerCertificates(certs, policy, time.Now()); err != nil {
				return err
			}
		}
		if onCerts != nil {
			onCerts(certs)
		}
		return nil
	}
}

// VerifyServerCertificates applies policy to the chain presented by a server.
func VerifyServerCertificates(certs []*x509.Certificate, policy security.TrustPolicy, now time.Time) error {
	if len(certs) == 0 {
		return x509.CertificateInvalidError{Reason: x509.NotAuthorizedToSign, Detail: "no server certificate"}
	}
	leaf := certs[0]

	if now.After(leaf.NotAfter) || now.Before(leaf.NotBefore) {
		return x509.CertificateInvalidError{Cert: leaf, Reason: x509.Expired}
	}

	if len(policy.PinnedCert) > 0 && !bytes.Equal(leaf.Raw, policy.PinnedCert) {
		return x509.UnknownAuthorityError{Cert: leaf}
	}

	if policy.OnlySelfSigned {
		if len(certs) != 1 || !isSelfSigned(leaf) {
			return x509.UnknownAuthorityError{Cert: leaf}
		}
	}
	return nil
}

func isSelfSigned(cert *x509.Certificate) bool {
	if !bytes.Equal(cert.RawIssuer, cert.RawSubject) {
		return false
	}
	return cert.CheckSignature(cert.SignatureAlgorithm, cert.RawTBSCertificate, cert.Signature) == nil
}

func parseTLSVersion(version string) uint16 {
	switch version {
	case "1.3":
		return tls.VersionTLS13
	default:
		return tls.VersionTLS12
	}
}

// Client certificates used for certificate authentication are referenced
// from socket options by token.
var clientCerts = struct {
	sync.RWMutex
	next  atomic.Uint64
	certs map[uint64]tls.Certificate
}{certs: make(map[uint64]tls.Certificate)}

// RegisterClientCertificate stores cert and returns its token.
func RegisterClientCertificate(cert tls.Certificate) uint64 {
	token := clientCerts.next.Add(1)
	clientCerts.Lock()
	clientCerts.certs[token] = cert
	clientCerts.Unlock()
	return token
}

// ClientCertificate returns the certificate registered under token.
func ClientCertificate(token uint64) (tls.Certificate, bool) {
	clientCerts.RLock()
	defer clientCerts.RUnlock()
	cert, ok := clientCerts.certs[token]
	return cert, ok
}

// ReleaseClientCertificate forgets token.
func ReleaseClientCertificate(token uint64) {
	clientCerts.Lock()
	delete(clientCerts.certs, token)
	clientCerts.Unlock()
}
