package storage

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/pem"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// helper: generate a self-signed CA cert and key
func generateCACert(t *testing.T) (certPEM, keyPEM []byte) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	certTmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "Test CA"},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	certDER, err := x509.CreateCertificate(rand.Reader, certTmpl, certTmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("failed to create certificate: %v", err)
	}
	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	return certPEM, keyPEM
}

// tlsTestServer starts an HTTPS test server and writes its certificate as
// the CA file.
func tlsTestServer(t *testing.T, h http.HandlerFunc) (*httptest.Server, string) {
	t.Helper()
	ts := httptest.NewTLSServer(h)
	t.Cleanup(ts.Close)

	caPath := filepath.Join(t.TempDir(), "ca.crt")
	caPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: ts.Certificate().Raw})
	if err := os.WriteFile(caPath, caPEM, 0o600); err != nil {
		t.Fatalf("failed to write CA file: %v", err)
	}
	return ts, caPath
}

func TestRegister_ReadCAError(t *testing.T) {
	err := Register("https://example.com", "user", "nonexistent.pem", t.TempDir())
	if err == nil || !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected file not exist error, got %v", err)
	}
}

func TestRegister_InvalidCA(t *testing.T) {
	caPath := filepath.Join(t.TempDir(), "ca.pem")
	if err := os.WriteFile(caPath, []byte("invalid pem"), 0o600); err != nil {
		t.Fatalf("failed to write CA file: %v", err)
	}
	err := Register("https://example.com", "user", caPath, t.TempDir())
	if err == nil || !strings.Contains(err.Error(), "failed to parse CA cert") {
		t.Errorf("expected parse CA error, got %v", err)
	}
}

func TestRegister_ServerError(t *testing.T) {
	ts, caPath := tlsTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"success":false,"error":"user already exists"}`))
	})

	err := Register(ts.URL, "user", caPath, t.TempDir())
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusConflict || apiErr.Message != "user already exists" {
		t.Errorf("unexpected error: %+v", apiErr)
	}
}

func TestRegister_Success(t *testing.T) {
	ts, caPath := tlsTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/register" {
			http.NotFound(w, r)
			return
		}
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["login"] != "alice" {
			t.Errorf("server got login %q", body["login"])
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "cert": "certdata", "key": "keydata"})
	})

	dir := filepath.Join(t.TempDir(), "certs")
	if err := Register(ts.URL, "alice", caPath, dir); err != nil {
		t.Fatalf("expected success, got %v", err)
	}

	crt, err := os.ReadFile(filepath.Join(dir, CertFileName))
	if err != nil || string(crt) != "certdata" {
		t.Errorf("unexpected cert file content: %s, err: %v", crt, err)
	}
	key, err := os.ReadFile(filepath.Join(dir, KeyFileName))
	if err != nil || string(key) != "keydata" {
		t.Errorf("unexpected key file content: %s, err: %v", key, err)
	}
	info, err := os.Stat(filepath.Join(dir, KeyFileName))
	if err == nil && info.Mode().Perm() != 0o600 {
		t.Errorf("key file mode = %v, want 0600", info.Mode().Perm())
	}
}

func TestLoadClientCertificate(t *testing.T) {
	// use the same self-signed cert as client cert and CA
	certPEM, keyPEM := generateCACert(t)

	tmp := t.TempDir()
	certPath := filepath.Join(tmp, "client.crt")
	keyPath := filepath.Join(tmp, "client.key")
	caPath := filepath.Join(tmp, "ca.pem")
	for path, data := range map[string][]byte{certPath: certPEM, keyPath: keyPEM, caPath: certPEM} {
		if err := os.WriteFile(path, data, 0o600); err != nil {
			t.Fatalf("failed to write %s: %v", path, err)
		}
	}

	client, err := LoadClientCertificate(certPath, keyPath, caPath)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	tcfg := client.Transport.(*http.Transport).TLSClientConfig
	if len(tcfg.Certificates) != 1 {
		t.Errorf("expected 1 client certificate, got %d", len(tcfg.Certificates))
	}
	found := false
	for _, subj := range tcfg.RootCAs.Subjects() {
		if bytes.Contains(subj, []byte("Test CA")) {
			found = true
			break
		}
	}
	if !found {
		t.Error("CA certificate not found in RootCAs")
	}
}

func TestLoadClientCertificate_MissingFiles(t *testing.T) {
	if _, err := LoadClientCertificate("nope.crt", "nope.key", "nope.pem"); err == nil {
		t.Fatal("expected error for missing files")
	}
}
