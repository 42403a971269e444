package tls

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"testing"
	"time"

	"identity-service/internal/config"
)

func TestDevCertReusedUntilExpiry(t *testing.T) {
	dir := t.TempDir()
	gen := NewDevCertGenerator(dir)

	first, err := gen.GenerateCert([]string{"pos.local", "127.0.0.1"})
	if err != nil {
		t.Fatalf("GenerateCert: %v", err)
	}
	leaf, err := x509.ParseCertificate(first.Certificate[0])
	if err != nil {
		t.Fatalf("ParseCertificate: %v", err)
	}
	if len(leaf.DNSNames) != 1 || leaf.DNSNames[0] != "pos.local" || len(leaf.IPAddresses) != 1 {
		t.Fatalf("SANs = %v %v", leaf.DNSNames, leaf.IPAddresses)
	}

	second, err := gen.GenerateCert([]string{"pos.local"})
	if err != nil {
		t.Fatalf("GenerateCert: %v", err)
	}
	if !bytes.Equal(first.Certificate[0], second.Certificate[0]) {
		t.Fatal("valid certificate on disk should be reused")
	}

	gen.now = func() time.Time { return time.Now().Add(devCertValidity + time.Hour) }
	third, err := gen.GenerateCert([]string{"pos.local"})
	if err != nil {
		t.Fatalf("GenerateCert: %v", err)
	}
	if bytes.Equal(first.Certificate[0], third.Certificate[0]) {
		t.Fatal("expired certificate should be replaced")
	}
}

func TestManagerFallsBackToSelfSigned(t *testing.T) {
	m := NewTLSManager(config.ServerConfig{
		EnableTLS:   true,
		AutoCertDir: t.TempDir(),
		CertFile:    "/nonexistent/cert.pem",
		KeyFile:     "/nonexistent/key.pem",
	})

	cert, err := m.GetCertificate(&tls.ClientHelloInfo{ServerName: "localhost"})
	if err != nil || cert == nil {
		t.Fatalf("GetCertificate = %v, %v", cert, err)
	}
	again, _ := m.GetCertificate(&tls.ClientHelloInfo{ServerName: "localhost"})
	if again != cert {
		t.Fatal("self-signed certificate should be generated once")
	}

	cfg := m.GetTLSConfig()
	if cfg.MinVersion != tls.VersionTLS12 || cfg.GetCertificate == nil {
		t.Fatalf("tls config = %+v", cfg)
	}
}
