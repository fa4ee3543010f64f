// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package peer

import (
	"bufio"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/tcpbridge/bridge"
	"github.com/bureau-foundation/tcpbridge/lib/clock"
	"github.com/bureau-foundation/tcpbridge/lib/netutil"
	"github.com/bureau-foundation/tcpbridge/lib/testutil"
)

const testTimeout = 5 * time.Second

var greetingTime = time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)

func startServer(t *testing.T, server *Server) string {
	t.Helper()
	if server.ListenAddr == "" {
		server.ListenAddr = "127.0.0.1:0"
	}
	if server.Hostname == "" {
		server.Hostname = "peer.test"
	}
	if server.Clock == nil {
		server.Clock = clock.Fake(greetingTime)
	}
	if err := server.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(server.Stop)
	return server.Addr().String()
}

// client is a raw line client for exercising the server directly.
type client struct {
	t          *testing.T
	connection net.Conn
	reader     *bufio.Reader
}

func dialClient(t *testing.T, address string) *client {
	t.Helper()
	connection, err := net.DialTimeout("tcp", address, testTimeout)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { connection.Close() })
	connection.SetDeadline(time.Now().Add(testTimeout)) //nolint:realclock test hang prevention
	return &client{t: t, connection: connection, reader: bufio.NewReader(connection)}
}

func (c *client) send(line string) {
	c.t.Helper()
	if _, err := c.connection.Write([]byte(line + "\r\n")); err != nil {
		c.t.Fatalf("write %q: %v", line, err)
	}
}

func (c *client) expect(want string) {
	c.t.Helper()
	got, err := c.reader.ReadString('\n')
	if err != nil {
		c.t.Fatalf("reading reply (want %q): %v", want, err)
	}
	if got != want+"\r\n" {
		c.t.Fatalf("reply = %q, want %q", got, want+"\r\n")
	}
}

func (c *client) expectHangUp() {
	c.t.Helper()
	if line, err := c.reader.ReadString('\n'); err == nil {
		c.t.Fatalf("read %q, want the server to hang up", line)
	}
}

func TestStart_MissingListenAddr(t *testing.T) {
	server := &Server{}
	if err := server.Start(context.Background()); err == nil {
		t.Fatal("Start succeeded without ListenAddr")
	}
}

func TestAddr_BeforeStart(t *testing.T) {
	if (&Server{}).Addr() != nil {
		t.Error("Addr before Start is not nil")
	}
}

func TestServer_Conversation(t *testing.T) {
	server := &Server{}
	c := dialClient(t, startServer(t, server))

	c.expect("+HELLO peer.test 2026-03-14T15:09:26Z")
	c.send("order-1")
	c.expect("+OK")
	c.send("")
	c.expect("-ERR empty message")
	c.send("order-2")
	c.expect("+OK")
	c.send("BYE")
	c.expect("+BYE")
	c.expectHangUp()

	if server.Accepted() != 2 || server.Rejected() != 1 {
		t.Errorf("accepted %d rejected %d, want 2 and 1", server.Accepted(), server.Rejected())
	}
}

func TestServer_BareLineFeed(t *testing.T) {
	c := dialClient(t, startServer(t, &Server{}))
	c.expect("+HELLO peer.test 2026-03-14T15:09:26Z")
	if _, err := c.connection.Write([]byte("unix-style\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	c.expect("+OK")
}

func TestServer_Validation(t *testing.T) {
	server := &Server{Validate: ValidateJSON("orderId")}
	c := dialClient(t, startServer(t, server))
	c.expect("+HELLO peer.test 2026-03-14T15:09:26Z")

	c.send(`{"orderId":"A-1"}`)
	c.expect("+OK")
	c.send(`{"sku":"X"}`)
	c.expect("-ERR missing field orderId")
	c.send(`plain text`)
	c.expect("-ERR invalid JSON object")
	// The sentinel bypasses validation.
	c.send("bye")
	c.expect("+BYE")
}

func TestServer_FrameTooLong(t *testing.T) {
	server := &Server{}
	c := dialClient(t, startServer(t, server))
	c.expect("+HELLO peer.test 2026-03-14T15:09:26Z")

	c.send(strings.Repeat("x", bridge.MaxFrameSize))
	c.expect("-ERR frame too long")
	c.expectHangUp()
}

func TestServer_StopClosesIdleConnections(t *testing.T) {
	server := &Server{}
	c := dialClient(t, startServer(t, server))
	c.expect("+HELLO peer.test 2026-03-14T15:09:26Z")

	stopped := make(chan struct{})
	go func() {
		server.Stop()
		close(stopped)
	}()
	testutil.RequireClosed(t, stopped, testTimeout, "Stop blocked on an idle connection")
	c.expectHangUp()
}

func TestServer_ContextCancelStops(t *testing.T) {
	server := &Server{ListenAddr: "127.0.0.1:0", Hostname: "peer.test"}
	ctx, cancel := context.WithCancel(context.Background())
	if err := server.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	cancel()

	waited := make(chan struct{})
	go func() {
		server.Wait()
		close(waited)
	}()
	testutil.RequireClosed(t, waited, testTimeout, "server did not stop on context cancellation")
}

// The bridge's own connection drives the reference peer through a
// full session.
func TestServer_BridgeSession(t *testing.T) {
	received := make(chan string, 8)
	server := &Server{
		Validate:  ValidateJSON("orderId"),
		OnPayload: func(payload string) { received <- payload },
	}
	address := startServer(t, server)

	forwarder, err := bridge.New(bridge.Config{
		Address:      address,
		Dial:         netutil.DialOptions{Timeout: testTimeout},
		WriteTimeout: testTimeout,
		CloseLinger:  testTimeout,
		PollInterval: 50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("bridge.New: %v", err)
	}

	forwarder.OnMessage(`{"orderId":1}`)
	forwarder.OnMessage(`{"orderId":2}`)
	forwarder.OnMessage(`{"sku":"no order"}`)
	forwarder.OnMessage("bye")

	if err := forwarder.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	for _, want := range []string{`{"orderId":1}`, `{"orderId":2}`} {
		if got := testutil.RequireReceive(t, received, testTimeout, "waiting for %s", want); got != want {
			t.Errorf("peer accepted %q, want %q", got, want)
		}
	}
	if stats := forwarder.Stats(); stats.Rejected != 1 || stats.Forwarded != 3 {
		t.Errorf("bridge stats = %+v, want 3 forwarded and 1 rejected", stats)
	}
}

func TestServer_BridgeSessionOverTLS(t *testing.T) {
	directory := t.TempDir()
	certFile, keyFile := writeSelfSignedCertificate(t, directory)

	serverTLS, err := netutil.ServerTLSConfig(netutil.TLSFiles{CertFile: certFile, KeyFile: keyFile})
	if err != nil {
		t.Fatalf("ServerTLSConfig: %v", err)
	}
	clientTLS, err := netutil.ClientTLSConfig(netutil.TLSFiles{CAFile: certFile, ServerName: "peer.test"})
	if err != nil {
		t.Fatalf("ClientTLSConfig: %v", err)
	}

	received := make(chan string, 8)
	address := startServer(t, &Server{
		TLS:       serverTLS,
		OnPayload: func(payload string) { received <- payload },
	})

	forwarder, err := bridge.New(bridge.Config{
		Address:       address,
		Dial:          netutil.DialOptions{Timeout: testTimeout, TLS: clientTLS},
		WriteTimeout:  testTimeout,
		CloseLinger:   testTimeout,
		ConnectPolicy: bridge.ConnectEager,
	})
	if err != nil {
		t.Fatalf("bridge.New: %v", err)
	}
	forwarder.OnMessage("encrypted order")
	forwarder.OnMessage("Bye")

	if err := forwarder.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := testutil.RequireReceive(t, received, testTimeout, "waiting for payload"); got != "encrypted order" {
		t.Errorf("peer accepted %q", got)
	}
}

func TestServer_TLSRejectsUntrustedClient(t *testing.T) {
	directory := t.TempDir()
	certFile, keyFile := writeSelfSignedCertificate(t, directory)
	serverTLS, err := netutil.ServerTLSConfig(netutil.TLSFiles{CertFile: certFile, KeyFile: keyFile})
	if err != nil {
		t.Fatalf("ServerTLSConfig: %v", err)
	}
	address := startServer(t, &Server{TLS: serverTLS})

	// System roots do not include the self-signed certificate.
	clientTLS, err := netutil.ClientTLSConfig(netutil.TLSFiles{ServerName: "peer.test"})
	if err != nil {
		t.Fatalf("ClientTLSConfig: %v", err)
	}
	forwarder, err := bridge.New(bridge.Config{
		Address:       address,
		Dial:          netutil.DialOptions{Timeout: testTimeout, TLS: clientTLS},
		ConnectPolicy: bridge.ConnectEager,
	})
	if err != nil {
		t.Fatalf("bridge.New: %v", err)
	}
	err = forwarder.Run(context.Background())
	var connectionError *bridge.ConnectionError
	if !errors.As(err, &connectionError) {
		t.Fatalf("Run = %v, want ConnectionError from the failed handshake", err)
	}
}

// writeSelfSignedCertificate writes a certificate for peer.test and
// 127.0.0.1 plus its key, and returns both paths.
func writeSelfSignedCertificate(t *testing.T, directory string) (string, string) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	template := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "peer.test"},
		DNSNames:              []string{"peer.test"},
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1")},
		NotBefore:             time.Now().Add(-time.Hour), //nolint:realclock certificate validity is checked against wall time
		NotAfter:              time.Now().Add(time.Hour),  //nolint:realclock certificate validity is checked against wall time
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("creating certificate: %v", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatalf("marshalling key: %v", err)
	}

	certFile := filepath.Join(directory, "peer.crt")
	keyFile := filepath.Join(directory, "peer.key")
	if err := os.WriteFile(certFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600); err != nil {
		t.Fatalf("writing certificate: %v", err)
	}
	if err := os.WriteFile(keyFile, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0o600); err != nil {
		t.Fatalf("writing key: %v", err)
	}
	return certFile, keyFile
}
