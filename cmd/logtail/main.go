package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/lawnchairsociety/logsocket/internal/config"
	"github.com/lawnchairsociety/logsocket/internal/logclient"
	"github.com/lawnchairsociety/logsocket/internal/logger"
	"github.com/lawnchairsociety/logsocket/internal/view"
)

const connectTimeout = 10 * time.Second

var (
	configPath string
	overrides  config.ClientConfig
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "logtail [server]",
	Short: "Follow a service log over the log socket",
	Long: `logtail subscribes to one service log on a logsocketd daemon and prints
rows as they arrive. Press Enter to stop or restart the stream, q to quit.`,
	Args:         cobra.MaximumNArgs(1),
	SilenceUsage: true,
	RunE:         runLogtail,
}

func init() {
	f := rootCmd.Flags()
	f.StringVarP(&configPath, "config", "c", "config.yaml", "Path to config YAML file")
	f.StringVar(&overrides.Host, "host", "", "Daemon address host[:port]")
	f.StringVar(&overrides.Scheme, "scheme", "", "ws or wss")
	f.StringVarP(&overrides.Mode, "mode", "m", "", "Client variant: flowcontrol or dedup")
	f.StringVarP(&overrides.Format, "format", "f", "", "Row output: text or html")
	f.BoolVarP(&verbose, "verbose", "v", false, "Log frame diagnostics to stderr")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runLogtail(cmd *cobra.Command, args []string) error {
	// stdout carries rows only
	logConfig, _ := logger.LoadConfig(configPath)
	logConfig.ConsoleOutput = "stderr"
	if verbose {
		logConfig.Level = "DEBUG"
	}
	logger.Initialize(logConfig)
	defer logger.Close()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	client := cfg.Client
	applyOverrides(cmd.Flags(), &client)
	if len(args) == 1 {
		client.Server = args[0]
	}
	if client.Server == "" {
		return fmt.Errorf("no server given: pass it as an argument or set client.server")
	}

	mode, err := logclient.ParseMode(client.Mode)
	if err != nil {
		return err
	}
	format, err := view.ParseFormat(client.Format)
	if err != nil {
		return err
	}

	term, err := view.NewTerminal(client.Server, os.Stdout, format)
	if err != nil {
		return err
	}
	lc, err := logclient.New(logclient.Config{
		Host:   client.Host,
		Scheme: client.Scheme,
		Mode:   mode,
	}, term, logclient.WithLogger(logger.Logger()))
	if err != nil {
		return err
	}
	cancelEvents := lc.Subscribe(logEvent)
	defer cancelEvents()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Following log", "server", client.Server, "url", lc.URL(), "mode", mode)
	if err := connect(ctx, lc.Connect); err != nil {
		return err
	}

	quit := make(chan struct{})
	term.ShowControl(lc.Label())
	go readControls(ctx, os.Stdin, lc, term, quit)

	select {
	case <-ctx.Done():
	case <-quit:
	}

	if err := lc.Disconnect(); err != nil {
		logger.Debug("Disconnect", "error", err)
	}
	return nil
}

// applyOverrides copies the flags the user actually set over the config.
func applyOverrides(flags *pflag.FlagSet, c *config.ClientConfig) {
	flags.Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "host":
			c.Host = overrides.Host
		case "scheme":
			c.Scheme = overrides.Scheme
		case "mode":
			c.Mode = overrides.Mode
		case "format":
			c.Format = overrides.Format
		}
	})
}

func connect(parent context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(parent, connectTimeout)
	defer cancel()
	return fn(ctx)
}

// readControls toggles the stream on every line read from r and closes quit
// on "q". End of input only ends the controls; the stream keeps running
// until a signal arrives.
func readControls(ctx context.Context, r io.Reader, lc *logclient.Client, term *view.Terminal, quit chan<- struct{}) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if strings.EqualFold(strings.TrimSpace(scanner.Text()), "q") {
			close(quit)
			return
		}
		if err := connect(ctx, lc.StartStop); err != nil {
			logger.Warning("Toggle failed", "error", err)
			continue
		}
		logger.Debug("Stream toggled", "state", lc.State())
		term.ShowControl(lc.Label())
	}
	if err := scanner.Err(); err != nil {
		logger.Warning("Reading controls failed", "error", err)
	}
	logger.Debug("No more controls on stdin, following until interrupted")
}

func logEvent(ev logclient.Event) {
	switch ev.Type {
	case logclient.EventMalformed:
		logger.Debug("Malformed frame", "raw", string(ev.Raw), "error", ev.Err)
	case logclient.EventDuplicate:
		logger.Debug("Duplicate row", "id", ev.Row.ID)
	case logclient.EventClosed:
		if ev.Err != nil {
			logger.Warning("Connection lost, press Enter to restart", "error", ev.Err)
		}
	}
}
