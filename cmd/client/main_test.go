package main

import (
	"bytes"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/novaxell/dispenser/internal/certgen"
	"github.com/novaxell/dispenser/internal/client/storage"
)

// setup starts a TLS server and writes a client identity for alice.
func setup(t *testing.T, h http.HandlerFunc) options {
	t.Helper()
	ts := httptest.NewTLSServer(h)
	t.Cleanup(ts.Close)

	dir := t.TempDir()
	caFile := filepath.Join(dir, "ca.crt")
	require.NoError(t, os.WriteFile(caFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: ts.Certificate().Raw}), 0o600))

	ca, err := certgen.NewAuthority("Test CA")
	require.NoError(t, err)
	certPEM, keyPEM, err := ca.IssueClientCertificate("alice")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, storage.CertFileName), certPEM, 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, storage.KeyFileName), keyPEM, 0o600))

	return options{
		baseURL: ts.URL,
		certDir: dir,
		caFile:  caFile,
		wallet:  filepath.Join(dir, "wallet.json"),
	}
}

func TestGenerateKeepsCredentialInWallet(t *testing.T) {
	opts := setup(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"id":"g1","service":"netflix",
			"account":{"email":"a@b.com","password":"pw"},
			"generatedAt":"2026-01-02T03:04:05Z","recorded":true}`))
	})
	ctx := t.Context()

	var out bytes.Buffer
	require.NoError(t, run(ctx, &out, opts, []string{"generate", "netflix"}))
	assert.Contains(t, out.String(), "netflix: a@b.com:pw")

	out.Reset()
	require.NoError(t, run(ctx, &out, opts, []string{"wallet"}))
	assert.Contains(t, out.String(), "ID: g1")

	out.Reset()
	require.NoError(t, run(ctx, &out, opts, []string{"show", "g1"}))
	assert.Equal(t, "netflix: a@b.com:pw\n", out.String())

	out.Reset()
	require.NoError(t, run(ctx, &out, opts, []string{"delete", "g1"}))
	assert.Error(t, run(ctx, &out, opts, []string{"show", "g1"}))
}

func TestGenerateWarnsWhenNotRecorded(t *testing.T) {
	opts := setup(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"id":"g2","service":"hulu","account":{"raw":"opaque"},"recorded":false}`))
	})

	var out bytes.Buffer
	require.NoError(t, run(t.Context(), &out, opts, []string{"generate", "hulu"}))
	assert.Contains(t, out.String(), "could not record")
}

func TestRunErrors(t *testing.T) {
	opts := setup(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"success":false,"error":"no account available for this service"}`))
	})
	ctx := t.Context()
	var out bytes.Buffer

	assert.ErrorContains(t, run(ctx, &out, opts, []string{"generate", "hulu"}), "no account available")
	assert.ErrorContains(t, run(ctx, &out, opts, []string{"generate"}), "usage")
	assert.ErrorContains(t, run(ctx, &out, opts, []string{"register"}), "--login")
	assert.ErrorContains(t, run(ctx, &out, opts, []string{"bogus"}), "unknown command")
}
