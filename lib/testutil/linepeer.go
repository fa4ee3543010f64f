// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"bufio"
	"bytes"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

// LinePeer is a loopback TCP server speaking the bridge's line
// protocol. Every frame is recorded byte for byte on Frames, terminator
// included. Every non-sentinel line is recorded on Lines and answered
// with "+OK" (or "-ERR rejected" when Reject returns true). The
// sentinel "bye" is answered with "+BYE", reported on Byes, and the
// connection is closed. Each connection end is reported on
// Disconnects.
type LinePeer struct {
	// Reject, when set before the first connection, marks lines that
	// should be answered with an error instead of an acknowledgement.
	Reject func(line string) bool

	listener    net.Listener
	frames      chan string
	lines       chan string
	byes        chan string
	disconnects chan struct{}
	accepted    atomic.Int64
	connections sync.WaitGroup
}

// NewLinePeer starts a LinePeer on 127.0.0.1 with an ephemeral port.
// The listener and all connections are closed when the test ends.
func NewLinePeer(t *testing.T) *LinePeer {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("LinePeer: listen: %v", err)
	}
	peer := &LinePeer{
		listener:    listener,
		frames:      make(chan string, 4096),
		lines:       make(chan string, 4096),
		byes:        make(chan string, 16),
		disconnects: make(chan struct{}, 16),
	}
	go peer.acceptLoop()
	t.Cleanup(func() {
		listener.Close()
		peer.connections.Wait()
	})
	return peer
}

// Addr returns the listener address in host:port form.
func (p *LinePeer) Addr() string { return p.listener.Addr().String() }

// HostPort returns the listener host and port separately.
func (p *LinePeer) HostPort() (string, int) {
	host, portText, _ := net.SplitHostPort(p.Addr())
	port, _ := strconv.Atoi(portText)
	return host, port
}

// Frames delivers each frame exactly as it arrived on the wire,
// including its terminator. A trailing fragment with no terminator
// before the connection ends is delivered as is.
func (p *LinePeer) Frames() <-chan string { return p.frames }

// Lines delivers each recorded payload line, CRLF stripped.
func (p *LinePeer) Lines() <-chan string { return p.lines }

// Byes delivers the sentinel line exactly as received.
func (p *LinePeer) Byes() <-chan string { return p.byes }

// Disconnects receives one value per finished connection.
func (p *LinePeer) Disconnects() <-chan struct{} { return p.disconnects }

// Accepted returns the number of connections accepted so far.
func (p *LinePeer) Accepted() int { return int(p.accepted.Load()) }

func (p *LinePeer) acceptLoop() {
	for {
		connection, err := p.listener.Accept()
		if err != nil {
			return
		}
		p.accepted.Add(1)
		p.connections.Add(1)
		go func() {
			defer p.connections.Done()
			p.serve(connection)
		}()
	}
}

func (p *LinePeer) serve(connection net.Conn) {
	defer func() {
		connection.Close()
		p.disconnects <- struct{}{}
	}()

	scanner := bufio.NewScanner(connection)
	scanner.Split(scanRawLines)
	for scanner.Scan() {
		frame := scanner.Text()
		p.frames <- frame
		line := strings.TrimSuffix(strings.TrimSuffix(frame, "\n"), "\r")
		if strings.EqualFold(line, "bye") {
			connection.Write([]byte("+BYE\r\n"))
			p.byes <- line
			return
		}
		p.lines <- line
		if p.Reject != nil && p.Reject(line) {
			connection.Write([]byte("-ERR rejected\r\n"))
			continue
		}
		connection.Write([]byte("+OK\r\n"))
	}
}

// scanRawLines is bufio.ScanLines without stripping the terminator.
func scanRawLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		return i + 1, data[:i+1], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
