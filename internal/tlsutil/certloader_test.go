package tlsutil

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"io"
	"log/slog"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/praciller/listing-assistant/internal/config"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// generateTestCert creates a self-signed cert/key pair and writes them to
// the given directory. Returns the file paths.
func generateTestCert(t *testing.T, dir string) (certFile, keyFile string) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "test"},
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(24 * time.Hour),
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create cert: %v", err)
	}

	certFile = filepath.Join(dir, "cert.pem")
	keyFile = filepath.Join(dir, "key.pem")

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})
	if err := os.WriteFile(certFile, certPEM, 0o644); err != nil {
		t.Fatalf("write cert: %v", err)
	}

	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	if err := os.WriteFile(keyFile, keyPEM, 0o644); err != nil {
		t.Fatalf("write key: %v", err)
	}

	return certFile, keyFile
}

func TestCertLoaderInitialLoad(t *testing.T) {
	dir := t.TempDir()
	certFile, keyFile := generateTestCert(t, dir)

	cl, err := New(certFile, keyFile, discardLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer cl.Stop()

	cert, err := cl.GetCertificate(&tls.ClientHelloInfo{})
	if err != nil {
		t.Fatalf("GetCertificate: %v", err)
	}
	if cert == nil {
		t.Fatal("expected non-nil certificate")
	}
}

func TestCertLoaderInvalidCert(t *testing.T) {
	dir := t.TempDir()
	certFile := filepath.Join(dir, "cert.pem")
	keyFile := filepath.Join(dir, "key.pem")

	os.WriteFile(certFile, []byte("invalid"), 0o644)
	os.WriteFile(keyFile, []byte("invalid"), 0o644)

	if _, err := New(certFile, keyFile, discardLogger()); err == nil {
		t.Fatal("expected error for invalid cert")
	}
}

func TestCertLoaderReload(t *testing.T) {
	dir := t.TempDir()
	certFile, keyFile := generateTestCert(t, dir)

	cl, err := New(certFile, keyFile, discardLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer cl.Stop()

	before, _ := cl.GetCertificate(&tls.ClientHelloInfo{})

	// Generate a new cert and overwrite the files.
	generateTestCert(t, dir)

	if err := cl.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}

	after, err := cl.GetCertificate(&tls.ClientHelloInfo{})
	if err != nil {
		t.Fatalf("GetCertificate after reload: %v", err)
	}
	if after == nil {
		t.Fatal("expected non-nil certificate after reload")
	}
	if string(after.Certificate[0]) == string(before.Certificate[0]) {
		t.Error("certificate did not change after reload")
	}
}

func TestServerConfigMinVersion(t *testing.T) {
	dir := t.TempDir()
	certFile, keyFile := generateTestCert(t, dir)

	cl, err := New(certFile, keyFile, discardLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer cl.Stop()

	tests := []struct {
		minVersion string
		want       uint16
	}{
		{"1.2", tls.VersionTLS12},
		{"1.3", tls.VersionTLS13},
		{"", tls.VersionTLS12},
	}
	for _, tt := range tests {
		tc := cl.ServerConfig(config.TLSConfig{Enabled: true, MinVersion: tt.minVersion})
		if tc.MinVersion != tt.want {
			t.Errorf("MinVersion for %q = %d, want %d", tt.minVersion, tc.MinVersion, tt.want)
		}
		if tc.GetCertificate == nil {
			t.Error("GetCertificate callback not wired")
		}
	}
}
