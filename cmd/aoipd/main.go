package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/opd-ai/aoip"
	"github.com/opd-ai/aoip/config"
	"github.com/opd-ai/aoip/stream"
	"github.com/sirupsen/logrus"
)

// CLIConfig holds the command-line options.
type CLIConfig struct {
	configPath string
	logLevel   string
	logFormat  string
	check      bool
	help       bool
}

var validLevels = map[string]bool{
	"": true, "trace": true, "debug": true, "info": true, "warn": true, "error": true,
}

// parseCLIFlags parses args into a CLIConfig.
func parseCLIFlags(args []string) (*CLIConfig, error) {
	cli := &CLIConfig{}
	fs := flag.NewFlagSet("aoipd", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&cli.configPath, "config", "", "Configuration file (default: aoip.yaml in ., /etc/aoip, $HOME/.aoip)")
	fs.StringVar(&cli.logLevel, "log-level", "", "Override logging.level (trace, debug, info, warn, error)")
	fs.StringVar(&cli.logFormat, "log-format", "", "Override logging.format (text, json)")
	fs.BoolVar(&cli.check, "check", false, "Validate the configuration, print transmitter SDP and exit")
	fs.BoolVar(&cli.help, "help", false, "Show help message")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	return cli, nil
}

// validateCLIConfig validates the CLI configuration.
func validateCLIConfig(cli *CLIConfig) error {
	if !validLevels[strings.ToLower(cli.logLevel)] {
		return fmt.Errorf("invalid log level %q", cli.logLevel)
	}
	switch strings.ToLower(cli.logFormat) {
	case "", "text", "json":
	default:
		return fmt.Errorf("invalid log format %q", cli.logFormat)
	}
	return nil
}

// printUsage prints the usage information.
func printUsage(w io.Writer) {
	fmt.Fprintln(w, "aoipd - AES67 / ST2110 audio-over-IP node")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintf(w, "  %s [options]\n", os.Args[0])
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Options:")
	fmt.Fprintln(w, "  -config path      configuration file")
	fmt.Fprintln(w, "  -log-level level  override logging.level")
	fmt.Fprintln(w, "  -log-format fmt   override logging.format")
	fmt.Fprintln(w, "  -check            validate, print transmitter SDP and exit")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Every option of the configuration file can also be set through the")
	fmt.Fprintln(w, "environment, e.g. AOIP_OFFLOAD_DRIVER=loopback.")
}

// loadConfig loads the configuration file and applies the CLI overrides.
func loadConfig(cli *CLIConfig) (*config.Config, error) {
	cfg, err := config.Load(cli.configPath)
	if err != nil {
		return nil, err
	}
	if cli.logLevel != "" {
		cfg.Logging.Level = strings.ToLower(cli.logLevel)
	}
	if cli.logFormat != "" {
		cfg.Logging.Format = strings.ToLower(cli.logFormat)
	}
	if err := config.ApplyLogging(cfg.Logging); err != nil {
		return nil, err
	}
	return cfg, nil
}

// printSDP writes the SDP of every transmitter on the node.
func printSDP(w io.Writer, node *aoip.Node) {
	for _, name := range node.Streams() {
		tx, ok := node.Transmitter(name)
		if !ok {
			continue
		}
		fmt.Fprintf(w, "# %s\n%s\n", name, tx.SDP())
	}
}

// run builds the node and runs it until ctx ends.
func run(ctx context.Context, cli *CLIConfig, stdout io.Writer) error {
	cfg, err := loadConfig(cli)
	if err != nil {
		return fmt.Errorf("configuration: %w", err)
	}

	node, err := aoip.NewNodeFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("node: %w", err)
	}

	if cli.check {
		printSDP(stdout, node)
		return node.Close()
	}

	node.OnServiceAdded(func(svc stream.Service) {
		logrus.WithFields(logrus.Fields{
			"function": "run",
			"service":  svc.Info.Name,
			"source":   svc.Info.Source.String(),
		}).Info("Discovered remote service")
	})
	node.OnServiceRemoved(func(svc stream.Service) {
		logrus.WithFields(logrus.Fields{
			"function": "run",
			"service":  svc.Info.Name,
		}).Info("Remote service withdrawn")
	})

	runErr := node.Run(ctx)
	return errors.Join(runErr, node.Close())
}

func main() {
	cli, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		fmt.Fprintln(os.Stderr, "Use -help for usage information.")
		os.Exit(2)
	}
	if cli.help {
		printUsage(os.Stdout)
		os.Exit(0)
	}
	if err := validateCLIConfig(cli); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cli, os.Stdout); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "main",
			"error":    err.Error(),
		}).Error("aoipd failed")
		os.Exit(1)
	}
}
