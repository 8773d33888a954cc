package certs

import (
	"crypto/x509"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestGetOrCreateCertificateGenerates(t *testing.T) {
	dir := t.TempDir()
	m := NewFileManager(filepath.Join(dir, "certs"))

	cert, err := m.GetOrCreateCertificate()
	if err != nil {
		t.Fatalf("GetOrCreateCertificate: %v", err)
	}
	if len(cert.Certificate) != 1 {
		t.Fatalf("certificate chain length = %d, want 1", len(cert.Certificate))
	}

	x509Cert, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		t.Fatalf("parse certificate: %v", err)
	}
	if got := x509Cert.Subject.Organization[0]; got != "Tally" {
		t.Errorf("organization = %q, want %q", got, "Tally")
	}
	if err := x509Cert.VerifyHostname("localhost"); err != nil {
		t.Errorf("certificate not valid for localhost: %v", err)
	}
	if !x509Cert.NotAfter.After(time.Now().Add(364 * 24 * time.Hour)) {
		t.Error("certificate should be valid for about a year")
	}

	for _, name := range []string{"localhost.crt", "localhost.key"} {
		if _, statErr := os.Stat(filepath.Join(dir, "certs", name)); statErr != nil {
			t.Errorf("expected %s on disk: %v", name, statErr)
		}
	}
}

func TestGetOrCreateCertificateReuses(t *testing.T) {
	m := NewFileManager(t.TempDir())

	first, err := m.GetOrCreateCertificate()
	if err != nil {
		t.Fatalf("first GetOrCreateCertificate: %v", err)
	}
	second, err := m.GetOrCreateCertificate()
	if err != nil {
		t.Fatalf("second GetOrCreateCertificate: %v", err)
	}

	a, _ := x509.ParseCertificate(first.Certificate[0])
	b, _ := x509.ParseCertificate(second.Certificate[0])
	if a.SerialNumber.Cmp(b.SerialNumber) != 0 {
		t.Error("expected cached certificate to be reused")
	}
}

func TestGetOrCreateCertificateRegeneratesCorrupt(t *testing.T) {
	dir := t.TempDir()
	m := NewFileManager(dir)

	if err := os.WriteFile(filepath.Join(dir, "localhost.crt"), []byte("garbage"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "localhost.key"), []byte("garbage"), 0600); err != nil {
		t.Fatal(err)
	}

	cert, err := m.GetOrCreateCertificate()
	if err != nil {
		t.Fatalf("GetOrCreateCertificate: %v", err)
	}
	if _, err := x509.ParseCertificate(cert.Certificate[0]); err != nil {
		t.Fatalf("regenerated certificate should parse: %v", err)
	}
}
