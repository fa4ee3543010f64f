// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// tcpbridge-peer is a reference receiver for tcpbridge. It greets each
// connection, acknowledges every line, answers the sentinel "bye" with
// "+BYE" and hangs up. With --require it accepts only JSON objects
// carrying the named fields.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/tcpbridge/lib/logging"
	"github.com/bureau-foundation/tcpbridge/lib/netutil"
	"github.com/bureau-foundation/tcpbridge/lib/process"
	"github.com/bureau-foundation/tcpbridge/lib/version"
	"github.com/bureau-foundation/tcpbridge/peer"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		listenAddr  string
		certFile    string
		keyFile     string
		clientCA    string
		validate    bool
		required    []string
		echo        bool
		logLevel    string
		logFormat   string
		showVersion bool
		showHelp    bool
	)

	flagSet := pflag.NewFlagSet("tcpbridge-peer", pflag.ContinueOnError)
	flagSet.StringVarP(&listenAddr, "listen", "l", "127.0.0.1:9000", "TCP address to listen on")
	flagSet.StringVar(&certFile, "tls-cert", "", "server certificate (enables TLS together with --tls-key)")
	flagSet.StringVar(&keyFile, "tls-key", "", "server private key")
	flagSet.StringVar(&clientCA, "tls-client-ca", "", "require client certificates signed by this CA bundle")
	flagSet.BoolVar(&validate, "json", false, "accept only JSON objects")
	flagSet.StringSliceVar(&required, "require", nil, "fields a JSON payload must contain (implies --json)")
	flagSet.BoolVar(&echo, "echo", false, "print every accepted payload to stdout")
	flagSet.StringVar(&logLevel, "log-level", "info", "debug, info, warn, or error")
	flagSet.StringVar(&logFormat, "log-format", "auto", "auto, text, or json")
	flagSet.BoolVar(&showVersion, "version", false, "print version and exit")
	flagSet.BoolVarP(&showHelp, "help", "h", false, "show help")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printHelp(flagSet)
			return nil
		}
		return err
	}
	if showHelp {
		printHelp(flagSet)
		return nil
	}
	if showVersion {
		version.Print("tcpbridge-peer")
		return nil
	}

	level, err := logging.ParseLevel(logLevel)
	if err != nil {
		return err
	}
	format, err := logging.ParseFormat(logFormat)
	if err != nil {
		return err
	}
	logger := logging.New(os.Stderr, level, format)

	server := &peer.Server{
		ListenAddr: listenAddr,
		Logger:     logger,
	}
	if validate || len(required) > 0 {
		server.Validate = peer.ValidateJSON(required...)
	}
	if echo {
		server.OnPayload = func(payload string) {
			fmt.Fprintln(os.Stdout, payload)
		}
	}
	if certFile != "" || keyFile != "" {
		tlsConfig, err := netutil.ServerTLSConfig(netutil.TLSFiles{
			CertFile: certFile,
			KeyFile:  keyFile,
			CAFile:   clientCA,
		})
		if err != nil {
			return err
		}
		server.TLS = tlsConfig
	} else if clientCA != "" {
		return fmt.Errorf("--tls-client-ca requires --tls-cert and --tls-key")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := server.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	server.Stop()

	logger.Info("peer stopped",
		"accepted", server.Accepted(),
		"rejected", server.Rejected(),
		"required_fields", strings.Join(required, ","),
	)
	return nil
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `tcpbridge-peer - reference receiver for tcpbridge

USAGE
    tcpbridge-peer [flags]

FLAGS
%s
EXAMPLES
    # Acknowledge everything and print it
    tcpbridge-peer --listen 127.0.0.1:9000 --echo

    # Accept only order documents
    tcpbridge-peer --require orderId,quantity
`, flagSet.FlagUsages())
}
