package main

import (
	"bufio"
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vango-dev/duplex/internal/config"
	"github.com/vango-dev/duplex/internal/devserver"
	"github.com/vango-dev/duplex/pkg/codec"
	"github.com/vango-dev/duplex/pkg/envelope"
	"github.com/vango-dev/duplex/pkg/metrics"
)

func serveCmd() *cobra.Command {
	var (
		flags commonFlags
		addr  string
		ping  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a development server",
		Long: `Run a development peer on /ws.

Every connected client is pinged on an interval, alternating JSON and
BERT frames. Replies and streamed logs are printed. Each stdin line is
parsed as a JSON envelope and pushed to all clients; prefix a line with
"bert " to push it as a BERT frame.

Examples:
  duplex serve --addr :8080
  echo '{"type":"redirect_console"}' | duplex serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Dev.Addr = addr
			}
			if cmd.Flags().Changed("ping") {
				cfg.Dev.PingInterval = config.Duration(ping)
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runServe(cfg)
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVarP(&addr, "addr", "a", "", "Listen address (default from config)")
	cmd.Flags().DurationVar(&ping, "ping", 0, "Ping interval, 0 to disable (default 10s)")

	return cmd
}

func runServe(cfg *config.Config) error {
	logger := installLogger(cfg, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := devserver.New(devserver.Config{
		Addr:         cfg.Dev.Addr,
		PingInterval: cfg.Dev.PingInterval.Std(),
		WriteTimeout: cfg.Limits.WriteTimeout.Std(),
		Metrics:      metrics.Default(),
		Logger:       logger,
	})

	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			pushLine(srv, scanner.Text())
		}
	}()

	success("Listening on ws://%s/ws", cfg.Dev.Addr)
	return srv.ListenAndServe(ctx)
}

func pushLine(srv *devserver.Server, line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	format := codec.FormatJSON
	if rest, ok := strings.CutPrefix(line, "bert "); ok {
		format = codec.FormatBERT
		line = rest
	}
	env, err := envelope.DecodeJSON([]byte(line))
	if err != nil {
		errorMsg("invalid envelope: %v", err)
		return
	}
	n, err := srv.Push(env, format)
	if err != nil {
		errorMsg("push: %v", err)
		return
	}
	success("pushed %s to %d peer(s)", env.Type, n)
}
