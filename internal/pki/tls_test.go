// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package pki

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// testPKI holds the paths of a small CA + server + client certificate set
// generated for one test.
type testPKI struct {
	CACertPath     string
	ServerCertPath string
	ServerKeyPath  string
	ClientCertPath string
	ClientKeyPath  string
}

func generateTestPKI(t *testing.T) *testPKI {
	t.Helper()
	dir := t.TempDir()

	caKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generating CA key: %v", err)
	}
	caTemplate := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "Test CA"},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(1 * time.Hour),
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
	}
	caCertDER, err := x509.CreateCertificate(rand.Reader, caTemplate, caTemplate, &caKey.PublicKey, caKey)
	if err != nil {
		t.Fatalf("creating CA certificate: %v", err)
	}
	caCertPath := filepath.Join(dir, "ca.pem")
	writePEM(t, caCertPath, "CERTIFICATE", caCertDER)

	serverKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generating server key: %v", err)
	}
	serverTemplate := &x509.Certificate{
		SerialNumber: big.NewInt(2),
		Subject:      pkix.Name{CommonName: "Test Server"},
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(1 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		IPAddresses:  []net.IP{net.IPv4(127, 0, 0, 1)},
		DNSNames:     []string{"localhost"},
	}
	caCert, err := x509.ParseCertificate(caCertDER)
	if err != nil {
		t.Fatalf("parsing CA certificate: %v", err)
	}
	serverCertDER, err := x509.CreateCertificate(rand.Reader, serverTemplate, caCert, &serverKey.PublicKey, caKey)
	if err != nil {
		t.Fatalf("creating server certificate: %v", err)
	}
	serverCertPath := filepath.Join(dir, "server.pem")
	writePEM(t, serverCertPath, "CERTIFICATE", serverCertDER)
	serverKeyPath := filepath.Join(dir, "server-key.pem")
	writeKeyPEM(t, serverKeyPath, serverKey)

	clientKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generating client key: %v", err)
	}
	clientTemplate := &x509.Certificate{
		SerialNumber: big.NewInt(3),
		Subject:      pkix.Name{CommonName: "Test Desktop Client"},
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(1 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}
	clientCertDER, err := x509.CreateCertificate(rand.Reader, clientTemplate, caCert, &clientKey.PublicKey, caKey)
	if err != nil {
		t.Fatalf("creating client certificate: %v", err)
	}
	clientCertPath := filepath.Join(dir, "client.pem")
	writePEM(t, clientCertPath, "CERTIFICATE", clientCertDER)
	clientKeyPath := filepath.Join(dir, "client-key.pem")
	writeKeyPEM(t, clientKeyPath, clientKey)

	return &testPKI{
		CACertPath:     caCertPath,
		ServerCertPath: serverCertPath,
		ServerKeyPath:  serverKeyPath,
		ClientCertPath: clientCertPath,
		ClientKeyPath:  clientKeyPath,
	}
}

func writePEM(t *testing.T, path, blockType string, data []byte) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("creating file %s: %v", path, err)
	}
	defer f.Close()
	if err := pem.Encode(f, &pem.Block{Type: blockType, Bytes: data}); err != nil {
		t.Fatalf("encoding PEM: %v", err)
	}
}

func writeKeyPEM(t *testing.T, path string, key *ecdsa.PrivateKey) {
	t.Helper()
	der, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatalf("marshaling EC key: %v", err)
	}
	writePEM(t, path, "EC PRIVATE KEY", der)
}

// selfSignedServerConfig builds a bare TLS server config for exercising
// the client dialer, independent of pki's (client-only) API.
func selfSignedServerConfig(t *testing.T, p *testPKI) *tls.Config {
	t.Helper()
	cert, err := tls.LoadX509KeyPair(p.ServerCertPath, p.ServerKeyPath)
	if err != nil {
		t.Fatalf("loading server certificate: %v", err)
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}}
}

func TestNewClientTLSConfig_NoOptionsIsPlainTLS(t *testing.T) {
	cfg, err := NewClientTLSConfig("", "", "")
	if err != nil {
		t.Fatalf("NewClientTLSConfig() error = %v", err)
	}
	if cfg.MinVersion != tls.VersionTLS13 {
		t.Errorf("MinVersion = %d, want TLS 1.3", cfg.MinVersion)
	}
	if len(cfg.Certificates) != 0 {
		t.Errorf("Certificates = %v, want none without mTLS", cfg.Certificates)
	}
	if cfg.RootCAs != nil {
		t.Errorf("RootCAs = %v, want nil (system pool) without a CA override", cfg.RootCAs)
	}
}

func TestNewClientTLSConfig_WithMTLS(t *testing.T) {
	p := generateTestPKI(t)

	cfg, err := NewClientTLSConfig(p.CACertPath, p.ClientCertPath, p.ClientKeyPath)
	if err != nil {
		t.Fatalf("NewClientTLSConfig() error = %v", err)
	}
	if len(cfg.Certificates) != 1 {
		t.Errorf("Certificates = %d, want 1", len(cfg.Certificates))
	}
	if cfg.RootCAs == nil {
		t.Error("RootCAs = nil, want the loaded CA pool")
	}
}

func TestNewClientTLSConfig_RejectsCertWithoutKey(t *testing.T) {
	p := generateTestPKI(t)
	if _, err := NewClientTLSConfig(p.CACertPath, p.ClientCertPath, ""); err == nil {
		t.Fatal("NewClientTLSConfig() error = nil, want error for cert without key")
	}
}

func TestNewClientTLSConfig_InvalidCACert(t *testing.T) {
	dir := t.TempDir()
	fakeCa := filepath.Join(dir, "fake-ca.pem")
	os.WriteFile(fakeCa, []byte("not a certificate"), 0644)

	if _, err := NewClientTLSConfig(fakeCa, "", ""); err == nil {
		t.Fatal("NewClientTLSConfig() error = nil, want error for invalid CA cert")
	}
}

func TestNewClientTLSConfig_MissingCertFile(t *testing.T) {
	if _, err := NewClientTLSConfig("", "/nonexistent/client.pem", "/nonexistent/key.pem"); err == nil {
		t.Fatal("NewClientTLSConfig() error = nil, want error for missing cert file")
	}
}

func TestClientTLSConfig_DialsAServerTrustingThatCA(t *testing.T) {
	p := generateTestPKI(t)
	serverCfg := selfSignedServerConfig(t, p)

	clientCfg, err := NewClientTLSConfig(p.CACertPath, "", "")
	if err != nil {
		t.Fatalf("NewClientTLSConfig() error = %v", err)
	}
	clientCfg.ServerName = "localhost"

	ln, err := tls.Listen("tcp", "127.0.0.1:0", serverCfg)
	if err != nil {
		t.Fatalf("TLS listen: %v", err)
	}
	defer ln.Close()

	done := make(chan error, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			done <- err
			return
		}
		defer conn.Close()
		buf := make([]byte, 64)
		n, err := conn.Read(buf)
		if err != nil {
			done <- err
			return
		}
		_, err = conn.Write(buf[:n])
		done <- err
	}()

	conn, err := tls.Dial("tcp", ln.Addr().String(), clientCfg)
	if err != nil {
		t.Fatalf("TLS dial: %v", err)
	}
	defer conn.Close()

	msg := []byte("hello tls")
	if _, err := conn.Write(msg); err != nil {
		t.Fatalf("writing to TLS conn: %v", err)
	}
	buf := make([]byte, 64)
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("reading from TLS conn: %v", err)
	}
	if string(buf[:n]) != string(msg) {
		t.Errorf("echo = %q, want %q", buf[:n], msg)
	}
	if err := <-done; err != nil {
		t.Fatalf("server error: %v", err)
	}
}
