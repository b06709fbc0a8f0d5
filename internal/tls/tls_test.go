package tls

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	standardtls "crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestGenerateSelfSignedPEM(t *testing.T) {
	t.Parallel()

	certPEM, keyPEM, err := GenerateSelfSignedPEM()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(keyPEM) == 0 {
		t.Fatal("key PEM is empty")
	}

	block, _ := pem.Decode(certPEM)
	if block == nil {
		t.Fatal("certificate PEM did not decode")
	}
	leaf, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		t.Fatalf("failed to parse certificate: %v", err)
	}

	if leaf.Subject.CommonName != "localhost" {
		t.Errorf("CN: got %q, want %q", leaf.Subject.CommonName, "localhost")
	}

	foundIP := false
	for _, ip := range leaf.IPAddresses {
		if ip.String() == "127.0.0.1" {
			foundIP = true
			break
		}
	}
	if !foundIP {
		t.Errorf("IP SANs: %v does not contain 127.0.0.1", leaf.IPAddresses)
	}

	validDuration := leaf.NotAfter.Sub(leaf.NotBefore)
	expectedDuration := 365 * 24 * time.Hour
	if validDuration < expectedDuration-time.Hour || validDuration > expectedDuration+time.Hour {
		t.Errorf("validity duration: got %v, want approximately %v", validDuration, expectedDuration)
	}

	ecKey, ok := leaf.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		t.Fatal("public key is not ECDSA")
	}
	if ecKey.Curve != elliptic.P256() {
		t.Errorf("curve: got %v, want P-256", ecKey.Curve.Params().Name)
	}
}

func TestServerConfig(t *testing.T) {
	t.Parallel()

	certPEM, keyPEM, err := GenerateSelfSignedPEM()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cfg, err := ServerConfig(certPEM, keyPEM)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.Certificates) != 1 {
		t.Errorf("certificates: got %d, want 1", len(cfg.Certificates))
	}
	if cfg.MinVersion != standardtls.VersionTLS12 {
		t.Errorf("MinVersion: got %d, want %d", cfg.MinVersion, standardtls.VersionTLS12)
	}

	if _, err := ServerConfig([]byte("bad"), keyPEM); err == nil {
		t.Error("expected error for invalid certificate PEM")
	}
}

func TestClientConfig_SystemRoots(t *testing.T) {
	t.Parallel()

	cfg, err := ClientConfig("smtp.example.com", "", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ServerName != "smtp.example.com" {
		t.Errorf("ServerName: got %q, want %q", cfg.ServerName, "smtp.example.com")
	}
	if cfg.RootCAs != nil {
		t.Error("expected system roots when no CA file is given")
	}
	if cfg.InsecureSkipVerify {
		t.Error("InsecureSkipVerify should be false")
	}
}

func TestClientConfig_CAFile(t *testing.T) {
	t.Parallel()

	certPEM, _, err := GenerateSelfSignedPEM()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	dir := t.TempDir()
	caFile := filepath.Join(dir, "ca.pem")
	if err := os.WriteFile(caFile, certPEM, 0o600); err != nil {
		t.Fatalf("failed to write CA file: %v", err)
	}

	cfg, err := ClientConfig("localhost", caFile, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.RootCAs == nil {
		t.Fatal("expected RootCAs to be populated")
	}

	badFile := filepath.Join(dir, "bad.pem")
	if err := os.WriteFile(badFile, []byte("not a cert"), 0o600); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}
	if _, err := ClientConfig("localhost", badFile, false); err == nil {
		t.Error("expected error for CA file without certificates")
	}

	if _, err := ClientConfig("localhost", filepath.Join(dir, "missing.pem"), false); err == nil {
		t.Error("expected error for missing CA file")
	}
}
