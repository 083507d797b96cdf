package tlsutil

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/litesync/errors"
	"github.com/c360/litesync/pkg/security"
)

type testCert struct {
	cert *x509.Certificate
	key  *ecdsa.PrivateKey
	der  []byte
}

// newTestCert creates a certificate signed by parent, or self-signed when
// parent is nil.
func newTestCert(t *testing.T, cn string, parent *testCert, notAfter time.Time) *testCert {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber:          big.NewInt(time.Now().UnixNano()),
		Subject:               pkix.Name{CommonName: cn},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              notAfter,
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		IsCA:                  parent == nil,
		DNSNames:              []string{cn},
	}

	signer, signerKey := template, key
	if parent != nil {
		signer, signerKey = parent.cert, parent.key
	}
	der, err := x509.CreateCertificate(rand.Reader, template, signer, &key.PublicKey, signerKey)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return &testCert{cert: cert, key: key, der: der}
}

func writePEM(t *testing.T, dir, name, typ string, der []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: typ, Bytes: der}), 0600))
	return path
}

func TestLoadClientTLSConfig(t *testing.T) {
	dir := t.TempDir()
	ca := newTestCert(t, "ca.local", nil, time.Now().Add(time.Hour))
	caFile := writePEM(t, dir, "ca.pem", "CERTIFICATE", ca.der)

	cfg, err := LoadClientTLSConfig(security.ClientTLSConfig{CAFiles: []string{caFile}, MinVersion: "1.3"})
	require.NoError(t, err)
	assert.Equal(t, uint16(tls.VersionTLS13), cfg.MinVersion)
	assert.NotNil(t, cfg.RootCAs)
	assert.False(t, cfg.InsecureSkipVerify)
	assert.Empty(t, cfg.Certificates)
}

func TestLoadClientTLSConfig_Errors(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.pem")
	require.NoError(t, os.WriteFile(bad, []byte("not pem"), 0600))

	_, err := LoadClientTLSConfig(security.ClientTLSConfig{CAFiles: []string{filepath.Join(dir, "missing.pem")}})
	assert.True(t, errors.IsFatal(err))

	_, err = LoadClientTLSConfig(security.ClientTLSConfig{CAFiles: []string{bad}})
	assert.True(t, errors.IsFatal(err))
}

func TestLoadClientTLSConfig_MTLS(t *testing.T) {
	dir := t.TempDir()
	client := newTestCert(t, "client.local", nil, time.Now().Add(time.Hour))
	keyDER, err := x509.MarshalECPrivateKey(client.key)
	require.NoError(t, err)

	cfg, err := LoadClientTLSConfig(security.ClientTLSConfig{
		MTLS: security.ClientMTLSConfig{
			Enabled:  true,
			CertFile: writePEM(t, dir, "client.pem", "CERTIFICATE", client.der),
			KeyFile:  writePEM(t, dir, "client.key", "EC PRIVATE KEY", keyDER),
		},
	})
	require.NoError(t, err)
	assert.Len(t, cfg.Certificates, 1)
}

func TestLoadCertificateFile(t *testing.T) {
	dir := t.TempDir()
	c := newTestCert(t, "pin.local", nil, time.Now().Add(time.Hour))

	der, err := LoadCertificateFile(writePEM(t, dir, "pin.pem", "CERTIFICATE", c.der))
	require.NoError(t, err)
	assert.Equal(t, c.der, der)

	derPath := filepath.Join(dir, "pin.der")
	require.NoError(t, os.WriteFile(derPath, c.der, 0600))
	der, err = LoadCertificateFile(derPath)
	require.NoError(t, err)
	assert.Equal(t, c.der, der)

	garbage := filepath.Join(dir, "garbage")
	require.NoError(t, os.WriteFile(garbage, []byte{1, 2, 3}, 0600))
	_, err = LoadCertificateFile(garbage)
	assert.True(t, errors.IsInvalid(err))
}

func TestVerifyServerCertificates(t *testing.T) {
	now := time.Now()
	ca := newTestCert(t, "ca.local", nil, now.Add(time.Hour))
	leaf := newTestCert(t, "server.local", ca, now.Add(time.Hour))
	self := newTestCert(t, "self.local", nil, now.Add(time.Hour))
	expired := newTestCert(t, "old.local", nil, now.Add(-time.Minute))

	tests := []struct {
		name    string
		chain   []*x509.Certificate
		policy  security.TrustPolicy
		wantErr any
	}{
		{"pinned match", []*x509.Certificate{leaf.cert, ca.cert}, security.TrustPolicy{PinnedCert: leaf.der}, nil},
		{"pinned mismatch", []*x509.Certificate{leaf.cert}, security.TrustPolicy{PinnedCert: self.der}, x509.UnknownAuthorityError{}},
		{"self-signed accepted", []*x509.Certificate{self.cert}, security.TrustPolicy{OnlySelfSigned: true}, nil},
		{"ca-signed rejected", []*x509.Certificate{leaf.cert, ca.cert}, security.TrustPolicy{OnlySelfSigned: true}, x509.UnknownAuthorityError{}},
		{"pinned and self-signed", []*x509.Certificate{self.cert}, security.TrustPolicy{PinnedCert: self.der, OnlySelfSigned: true}, nil},
		{"expired", []*x509.Certificate{expired.cert}, security.TrustPolicy{OnlySelfSigned: true}, x509.CertificateInvalidError{}},
		{"empty chain", nil, security.TrustPolicy{OnlySelfSigned: true}, x509.CertificateInvalidError{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := VerifyServerCertificates(tt.chain, tt.policy, now)
			switch tt.wantErr.(type) {
			case nil:
				assert.NoError(t, err)
			case x509.UnknownAuthorityError:
				assert.IsType(t, x509.UnknownAuthorityError{}, err)
			case x509.CertificateInvalidError:
				assert.IsType(t, x509.CertificateInvalidError{}, err)
			}
		})
	}

	err := VerifyServerCertificates([]*x509.Certificate{expired.cert}, security.TrustPolicy{OnlySelfSigned: true}, now)
	var invalid x509.CertificateInvalidError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, x509.Expired, invalid.Reason)
}

func TestApplyTrustPolicy_PinnedServer(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	serverCert := srv.Certificate()

	var captured []*x509.Certificate
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	ApplyTrustPolicy(cfg, security.TrustPolicy{PinnedCert: serverCert.Raw}, func(certs []*x509.Certificate) {
		captured = certs
	})
	assert.True(t, cfg.InsecureSkipVerify)

	client := &http.Client{Transport: &http.Transport{TLSClientConfig: cfg}}
	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()
	require.NotEmpty(t, captured)
	assert.Equal(t, serverCert.Raw, captured[0].Raw)

	other := newTestCert(t, "other.local", nil, time.Now().Add(time.Hour))
	cfg = &tls.Config{MinVersion: tls.VersionTLS12}
	ApplyTrustPolicy(cfg, security.TrustPolicy{PinnedCert: other.der}, nil)
	client = &http.Client{Transport: &http.Transport{TLSClientConfig: cfg}}
	_, err = client.Get(srv.URL)
	require.Error(t, err)
	var unknown x509.UnknownAuthorityError
	assert.ErrorAs(t, err, &unknown)
}

func TestApplyTrustPolicy_InactiveKeepsVerification(t *testing.T) {
	cfg := &tls.Config{}
	ApplyTrustPolicy(cfg, security.TrustPolicy{}, nil)
	assert.False(t, cfg.InsecureSkipVerify)
	assert.NotNil(t, cfg.VerifyPeerCertificate)
}

func TestClientCertificateRegistry(t *testing.T) {
	c := newTestCert(t, "client.local", nil, time.Now().Add(time.Hour))
	cert := tls.Certificate{Certificate: [][]byte{c.der}, PrivateKey: c.key}

	token := RegisterClientCertificate(cert)
	got, ok := ClientCertificate(token)
	require.True(t, ok)
	assert.Equal(t, cert.Certificate, got.Certificate)

	other := RegisterClientCertificate(cert)
	assert.NotEqual(t, token, other)

	ReleaseClientCertificate(token)
	_, ok = ClientCertificate(token)
	assert.False(t, ok)
	ReleaseClientCertificate(other)
}
