package certgen

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// writeECCA writes a self-signed EC CA in SEC1 form, as older tooling produced.
func writeECCA(t *testing.T, dir string) (certPath, keyPath string, caKey *ecdsa.PrivateKey) {
	t.Helper()

	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate CA key: %v", err)
	}
	template := &x509.Certificate{
		SerialNumber:          big.NewInt(7),
		Subject:               pkix.Name{CommonName: "Test CA"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &priv.PublicKey, priv)
	if err != nil {
		t.Fatalf("create CA cert: %v", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(priv)
	if err != nil {
		t.Fatalf("marshal CA key: %v", err)
	}

	certPath = filepath.Join(dir, "ca.crt")
	keyPath = filepath.Join(dir, "ca.key")
	if err := os.WriteFile(certPath, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(keyPath, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0o600); err != nil {
		t.Fatal(err)
	}
	return certPath, keyPath, priv
}

func parseCert(t *testing.T, certPEM []byte) *x509.Certificate {
	t.Helper()
	block, _ := pem.Decode(certPEM)
	if block == nil || block.Type != "CERTIFICATE" {
		t.Fatalf("cert PEM invalid")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		t.Fatalf("parse cert: %v", err)
	}
	return cert
}

func TestLoadAuthority_ECKey(t *testing.T) {
	certPath, keyPath, wantKey := writeECCA(t, t.TempDir())

	ca, err := LoadAuthority(certPath, keyPath)
	if err != nil {
		t.Fatalf("LoadAuthority error: %v", err)
	}
	if ca.Cert.Subject.CommonName != "Test CA" {
		t.Errorf("CommonName = %q; want %q", ca.Cert.Subject.CommonName, "Test CA")
	}
	parsedKey, ok := ca.Key.(*ecdsa.PrivateKey)
	if !ok {
		t.Fatalf("key type = %T; want *ecdsa.PrivateKey", ca.Key)
	}
	if !parsedKey.PublicKey.Equal(&wantKey.PublicKey) {
		t.Error("public key mismatch")
	}
}

func TestLoadAuthority_Errors(t *testing.T) {
	dir := t.TempDir()
	certPath, keyPath, _ := writeECCA(t, dir)
	garbage := filepath.Join(dir, "garbage.pem")
	if err := os.WriteFile(garbage, []byte("not pem"), 0o600); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name, cert, key, want string
	}{
		{"missing cert", "/no/such/file.pem", keyPath, "read ca cert"},
		{"missing key", certPath, "/no/such/key.pem", "read ca key"},
		{"bad cert", garbage, keyPath, "invalid CA cert PEM"},
		{"bad key", certPath, garbage, "invalid CA key PEM"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadAuthority(tt.cert, tt.key)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("got %v; want error containing %q", err, tt.want)
			}
		})
	}
}

func TestAuthority_WriteFilesRoundTrip(t *testing.T) {
	ca, err := NewAuthority("Dispenser CA")
	if err != nil {
		t.Fatalf("NewAuthority error: %v", err)
	}
	if !ca.Cert.IsCA || !ca.Cert.BasicConstraintsValid {
		t.Error("authority certificate must be a CA")
	}
	if d := ca.Cert.NotAfter.Sub(ca.Cert.NotBefore); d < 9*365*24*time.Hour {
		t.Errorf("CA validity too short: %v", d)
	}

	dir := filepath.Join(t.TempDir(), "nested", "certs")
	if err := ca.WriteFiles(filepath.Join(dir, "ca.crt"), filepath.Join(dir, "ca.key")); err != nil {
		t.Fatalf("WriteFiles error: %v", err)
	}

	loaded, err := LoadAuthority(filepath.Join(dir, "ca.crt"), filepath.Join(dir, "ca.key"))
	if err != nil {
		t.Fatalf("LoadAuthority error: %v", err)
	}
	if !loaded.Cert.Equal(ca.Cert) {
		t.Error("reloaded certificate differs")
	}
}

func TestIssueClientCertificate(t *testing.T) {
	ca, err := NewAuthority("Dispenser CA")
	if err != nil {
		t.Fatal(err)
	}

	certPEM, keyPEM, err := ca.IssueClientCertificate("alice")
	if err != nil {
		t.Fatalf("IssueClientCertificate error: %v", err)
	}
	cert := parseCert(t, certPEM)
	if cert.Subject.CommonName != "alice" {
		t.Errorf("CommonName = %q; want %q", cert.Subject.CommonName, "alice")
	}
	if err := cert.CheckSignatureFrom(ca.Cert); err != nil {
		t.Errorf("signature check failed: %v", err)
	}
	if len(cert.ExtKeyUsage) != 1 || cert.ExtKeyUsage[0] != x509.ExtKeyUsageClientAuth {
		t.Errorf("ExtKeyUsage = %v; want client auth", cert.ExtKeyUsage)
	}

	block, _ := pem.Decode(keyPEM)
	if block == nil || block.Type != "EC PRIVATE KEY" {
		t.Fatalf("key PEM invalid")
	}
	if _, err := x509.ParseECPrivateKey(block.Bytes); err != nil {
		t.Errorf("parse private key failed: %v", err)
	}
}

func TestIssueServerCertificate(t *testing.T) {
	ca, err := NewAuthority("Dispenser CA")
	if err != nil {
		t.Fatal(err)
	}

	certPEM, _, err := ca.IssueServerCertificate([]string{"localhost", "127.0.0.1"})
	if err != nil {
		t.Fatalf("IssueServerCertificate error: %v", err)
	}
	cert := parseCert(t, certPEM)
	if err := cert.VerifyHostname("localhost"); err != nil {
		t.Errorf("localhost: %v", err)
	}
	if err := cert.VerifyHostname("127.0.0.1"); err != nil {
		t.Errorf("127.0.0.1: %v", err)
	}

	if _, _, err := ca.IssueServerCertificate(nil); err == nil {
		t.Error("expected error for empty hosts")
	}
}
