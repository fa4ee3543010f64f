// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package source

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"

	"github.com/bureau-foundation/tcpbridge/lib/testutil"
)

// startNATSServer runs an in-process NATS server on an ephemeral port.
func startNATSServer(t *testing.T) string {
	t.Helper()
	natsServer, err := server.NewServer(&server.Options{
		Host:   "127.0.0.1",
		Port:   -1,
		NoLog:  true,
		NoSigs: true,
	})
	if err != nil {
		t.Fatalf("creating NATS server: %v", err)
	}
	go natsServer.Start()
	if !natsServer.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}
	t.Cleanup(natsServer.Shutdown)
	return natsServer.ClientURL()
}

func publish(t *testing.T, url, subject string, bodies ...[]byte) {
	t.Helper()
	publisher, err := nats.Connect(url)
	if err != nil {
		t.Fatalf("publisher connect: %v", err)
	}
	defer publisher.Close()
	for _, body := range bodies {
		if err := publisher.Publish(subject, body); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	if err := publisher.Flush(); err != nil {
		t.Fatalf("publisher flush: %v", err)
	}
}

// runNATS starts Run and waits until the subscription is live.
func runNATS(t *testing.T, source *NATS, sink Sink) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	go func() { result <- source.Run(ctx, sink) }()

	select {
	case <-source.Ready():
	case err := <-result:
		cancel()
		t.Fatalf("Run returned before subscribing: %v", err)
	case <-time.After(5 * time.Second): //nolint:realclock test hang prevention
		cancel()
		t.Fatal("subscription never confirmed")
	}
	return cancel, result
}

func TestNATS_DeliversInPublishOrder(t *testing.T) {
	url := startNATSServer(t)
	source, err := NewNATS(NATSConfig{URL: url, Subject: "orders", Name: "test"}, NewDecoder(EncodingRaw, nil), nil)
	if err != nil {
		t.Fatalf("NewNATS: %v", err)
	}
	defer source.Close()
	sink := newRecordingSink()
	cancel, result := runNATS(t, source, sink)
	defer cancel()

	publish(t, url, "orders", []byte("order-1"), []byte("order-2"), []byte("bye"))
	for _, want := range []string{"order-1", "order-2", "bye"} {
		if got := testutil.RequireReceive(t, sink.payloads, 5*time.Second, "waiting for %q", want); got != want {
			t.Errorf("delivered %q, want %q", got, want)
		}
	}

	cancel()
	if err := testutil.RequireReceive(t, result, 5*time.Second, "waiting for Run"); err != nil {
		t.Fatalf("Run after cancel = %v, want nil", err)
	}
	if !source.connection.IsClosed() {
		t.Error("connection still open after drain")
	}
}

func TestNATS_QueueGroupAndEncoding(t *testing.T) {
	url := startNATSServer(t)
	decoder := NewDecoder(EncodingJSON, nil)
	source, err := NewNATS(NATSConfig{URL: url, Subject: "orders.*", QueueGroup: "bridges"}, decoder, nil)
	if err != nil {
		t.Fatalf("NewNATS: %v", err)
	}
	defer source.Close()
	sink := newRecordingSink()
	cancel, result := runNATS(t, source, sink)
	defer cancel()

	publish(t, url, "orders.eu", []byte(`"wrapped"`), []byte(`not-json`), []byte(`"next"`))
	for _, want := range []string{"wrapped", "next"} {
		if got := testutil.RequireReceive(t, sink.payloads, 5*time.Second, "waiting for %q", want); got != want {
			t.Errorf("delivered %q, want %q", got, want)
		}
	}
	cancel()
	testutil.RequireReceive(t, result, 5*time.Second, "waiting for Run")
	if decoder.Dropped() != 1 {
		t.Errorf("Dropped = %d, want 1", decoder.Dropped())
	}
}

func TestNATS_ServerShutdownEndsRun(t *testing.T) {
	natsServer, err := server.NewServer(&server.Options{Host: "127.0.0.1", Port: -1, NoLog: true, NoSigs: true})
	if err != nil {
		t.Fatalf("creating NATS server: %v", err)
	}
	go natsServer.Start()
	if !natsServer.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}

	source, err := NewNATS(NATSConfig{
		URL:         natsServer.ClientURL(),
		Subject:     "orders",
		NoReconnect: true,
	}, NewDecoder(EncodingRaw, nil), nil)
	if err != nil {
		t.Fatalf("NewNATS: %v", err)
	}
	cancel, result := runNATS(t, source, newRecordingSink())
	defer cancel()

	natsServer.Shutdown()
	testutil.RequireReceive(t, result, 10*time.Second, "waiting for Run to notice the shutdown")
}

func TestNewNATS_Validation(t *testing.T) {
	decoder := NewDecoder(EncodingRaw, nil)
	if _, err := NewNATS(NATSConfig{Subject: "orders"}, decoder, nil); err == nil {
		t.Error("NewNATS accepted a missing url")
	}
	if _, err := NewNATS(NATSConfig{URL: "nats://127.0.0.1:1"}, decoder, nil); err == nil {
		t.Error("NewNATS accepted a missing subject")
	}
}
