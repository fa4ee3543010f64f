// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// tcpbridge forwards payloads from a message source (Kafka, NATS, or
// newline-delimited input) to a remote peer over one TCP connection.
//
// The run ends when the payload "bye" arrives (exit 0), when the peer
// cannot be reached or a write fails (exit 1), or on SIGINT/SIGTERM
// (exit 0 after releasing the connection). Nothing reconnects on its
// own; restart policy belongs to the supervisor.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/tcpbridge/bridge"
	"github.com/bureau-foundation/tcpbridge/lib/config"
	"github.com/bureau-foundation/tcpbridge/lib/logging"
	"github.com/bureau-foundation/tcpbridge/lib/netutil"
	"github.com/bureau-foundation/tcpbridge/lib/process"
	"github.com/bureau-foundation/tcpbridge/lib/version"
	"github.com/bureau-foundation/tcpbridge/source"
)

var _ source.Sink = (*bridge.Bridge)(nil)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

// options holds the command-line flags. Zero values leave the
// configuration file's value in place.
type options struct {
	configPath    string
	host          string
	port          int
	connectPolicy string
	sourceKind    string
	encoding      string
	linesPath     string
	logLevel      string
	logFormat     string
	verbose       bool
	showVersion   bool
	showHelp      bool
}

func (o *options) register(flagSet *pflag.FlagSet) {
	flagSet.StringVarP(&o.configPath, "config", "c", "", "path to tcpbridge.yaml (default: $"+config.EnvironmentVariable+")")
	flagSet.StringVar(&o.host, "host", "", "peer host (overrides target.host)")
	flagSet.IntVar(&o.port, "port", 0, "peer port (overrides target.port)")
	flagSet.StringVar(&o.connectPolicy, "connect", "", "connect policy: lazy or eager")
	flagSet.StringVar(&o.sourceKind, "source", "", "message source: kafka, nats, or lines")
	flagSet.StringVar(&o.encoding, "encoding", "", "payload encoding: raw, json, or cbor")
	flagSet.StringVar(&o.linesPath, "input", "", "file for the lines source (default: stdin)")
	flagSet.StringVar(&o.logLevel, "log-level", "", "debug, info, warn, or error")
	flagSet.StringVar(&o.logFormat, "log-format", "", "auto, text, or json")
	flagSet.BoolVarP(&o.verbose, "verbose", "v", false, "shorthand for --log-level=debug")
	flagSet.BoolVar(&o.showVersion, "version", false, "print version and exit")
	flagSet.BoolVarP(&o.showHelp, "help", "h", false, "show help")
}

// loadConfig reads the file named by --config or the environment, or
// starts from defaults when neither is given.
func (o *options) loadConfig() (*config.Config, error) {
	switch {
	case o.configPath != "":
		return config.LoadFile(o.configPath)
	case os.Getenv(config.EnvironmentVariable) != "":
		return config.Load()
	default:
		return config.Default(), nil
	}
}

// apply overlays the flags that were given onto cfg.
func (o *options) apply(cfg *config.Config) {
	if o.host != "" {
		cfg.Target.Host = o.host
	}
	if o.port != 0 {
		cfg.Target.Port = o.port
	}
	if o.connectPolicy != "" {
		cfg.Bridge.ConnectPolicy = o.connectPolicy
	}
	if o.sourceKind != "" {
		cfg.Source.Kind = o.sourceKind
	}
	if o.encoding != "" {
		cfg.Source.Encoding = o.encoding
	}
	if o.linesPath != "" {
		cfg.Source.Lines.Path = o.linesPath
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}
	if o.logFormat != "" {
		cfg.Logging.Format = o.logFormat
	}
	if o.verbose {
		cfg.Logging.Level = "debug"
	}
}

func run() error {
	var flags options
	flagSet := pflag.NewFlagSet("tcpbridge", pflag.ContinueOnError)
	flags.register(flagSet)
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printHelp(flagSet)
			return nil
		}
		return err
	}
	if flags.showHelp {
		printHelp(flagSet)
		return nil
	}
	if flags.showVersion {
		if flags.verbose {
			fmt.Fprintf(os.Stdout, "tcpbridge %s\n", version.Full())
			return nil
		}
		version.Print("tcpbridge")
		return nil
	}
	if flagSet.NArg() > 0 {
		return fmt.Errorf("unexpected argument: %s", flagSet.Arg(0))
	}

	cfg, err := flags.loadConfig()
	if err != nil {
		return err
	}
	flags.apply(cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration:\n%w", err)
	}

	logger, err := newLogger(cfg.Logging)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return forward(ctx, cfg, logger)
}

// forward runs the configured source and the bridge until the sentinel,
// a fatal error, or cancellation of ctx. Cancellation is a clean
// shutdown and returns nil.
func forward(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	bridgeConfig, err := bridgeConfigFrom(cfg, logger)
	if err != nil {
		return err
	}
	forwarder, err := bridge.New(bridgeConfig)
	if err != nil {
		return err
	}

	encoding, err := source.ParseEncoding(cfg.Source.Encoding)
	if err != nil {
		return err
	}
	decoder := source.NewDecoder(encoding, logger)
	upstream, err := newSource(cfg.Source, decoder, logger)
	if err != nil {
		return err
	}
	defer upstream.Close()

	logger.Info("tcpbridge starting",
		"version", version.Info(),
		"environment", cfg.Environment,
		"peer", cfg.Target.Address(),
		"source", cfg.Source.Kind,
		"encoding", cfg.Source.Encoding,
	)

	sourceCtx, cancelSource := context.WithCancel(ctx)
	defer cancelSource()
	bridgeCtx, cancelBridge := context.WithCancel(ctx)
	defer cancelBridge()

	sourceDone := make(chan error, 1)
	go func() {
		err := upstream.Run(sourceCtx, forwarder)
		if err != nil {
			// A broken upstream ends the run; the bridge stops
			// without a termination notice.
			logger.Error("message source failed", "error", err)
			cancelBridge()
		}
		sourceDone <- err
	}()

	runError := forwarder.Run(bridgeCtx)
	cancelSource()
	sourceError := <-sourceDone

	stats := forwarder.Stats()
	logger.Info("tcpbridge finished",
		"enqueued", stats.Enqueued,
		"forwarded", stats.Forwarded,
		"rejected", stats.Rejected,
		"dropped", decoder.Dropped(),
		"abandoned", stats.Pending,
	)

	switch {
	case sourceError != nil:
		return sourceError
	case bridge.IsInterrupt(runError) && ctx.Err() != nil:
		// Operator-requested shutdown.
		return nil
	default:
		return runError
	}
}

func newLogger(settings config.LoggingConfig) (*slog.Logger, error) {
	level, err := logging.ParseLevel(settings.Level)
	if err != nil {
		return nil, err
	}
	format, err := logging.ParseFormat(settings.Format)
	if err != nil {
		return nil, err
	}
	return logging.New(os.Stderr, level, format), nil
}

// bridgeConfigFrom translates the file configuration into a
// bridge.Config, loading TLS material when enabled.
func bridgeConfigFrom(cfg *config.Config, logger *slog.Logger) (bridge.Config, error) {
	policy, err := bridge.ParseConnectPolicy(cfg.Bridge.ConnectPolicy)
	if err != nil {
		return bridge.Config{}, err
	}

	dial := netutil.DialOptions{
		Timeout:     cfg.Target.ConnectTimeout,
		KeepAlive:   cfg.Target.KeepAlive,
		UserTimeout: cfg.Target.UserTimeout,
	}
	if cfg.Target.TLS.Enabled {
		tlsConfig, err := netutil.ClientTLSConfig(netutil.TLSFiles{
			CAFile:             cfg.Target.TLS.CAFile,
			CertFile:           cfg.Target.TLS.CertFile,
			KeyFile:            cfg.Target.TLS.KeyFile,
			ServerName:         cfg.Target.TLS.ServerName,
			InsecureSkipVerify: cfg.Target.TLS.InsecureSkipVerify,
		})
		if err != nil {
			return bridge.Config{}, fmt.Errorf("target TLS: %w", err)
		}
		dial.TLS = tlsConfig
	}

	return bridge.Config{
		Address:       cfg.Target.Address(),
		Dial:          dial,
		WriteTimeout:  cfg.Target.WriteTimeout,
		CloseLinger:   cfg.Bridge.CloseLinger,
		PollInterval:  cfg.Bridge.PollInterval,
		ConnectPolicy: policy,
		Logger:        logger,
	}, nil
}

func newSource(settings config.SourceConfig, decoder *source.Decoder, logger *slog.Logger) (source.Source, error) {
	switch settings.Kind {
	case config.SourceKafka:
		return source.NewKafka(source.KafkaConfig{
			Brokers:    settings.Kafka.Brokers,
			Topic:      settings.Kafka.Topic,
			GroupID:    settings.Kafka.GroupID,
			StartFirst: settings.Kafka.StartOffset == "first",
		}, decoder, logger)
	case config.SourceNATS:
		return source.NewNATS(source.NATSConfig{
			URL:        settings.NATS.URL,
			Subject:    settings.NATS.Subject,
			QueueGroup: settings.NATS.QueueGroup,
			Name:       settings.NATS.Name,
		}, decoder, logger)
	case config.SourceLines:
		return source.OpenLines(settings.Lines.Path, decoder, logger)
	default:
		return nil, fmt.Errorf("unknown source kind %q", settings.Kind)
	}
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `tcpbridge - forward queued messages to a TCP peer

USAGE
    tcpbridge [flags]

Payloads are written to the peer one per CRLF-terminated line, in the
order they arrive. The payload "bye" (any case) ends the session: it is
sent to the peer as a termination notice and the bridge exits.

FLAGS
%s
EXAMPLES
    # Type payloads at the terminal
    tcpbridge --host localhost --port 9000

    # Forward a NATS subject using a config file
    tcpbridge --config /etc/tcpbridge.yaml --source nats
`, flagSet.FlagUsages())
}
