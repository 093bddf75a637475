package main

import (
	"bufio"
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/vango-dev/duplex/internal/config"
	"github.com/vango-dev/duplex/pkg/client"
	"github.com/vango-dev/duplex/pkg/dispatch"
	"github.com/vango-dev/duplex/pkg/envelope"
	"github.com/vango-dev/duplex/pkg/metrics"
	"github.com/vango-dev/duplex/pkg/outbound"
)

type connectOptions struct {
	commonFlags
	host        string
	path        string
	secure      bool
	mode        string
	delay       time.Duration
	allowEval   bool
	metricsAddr string
	args        []string
}

func connectCmd() *cobra.Command {
	var opts connectOptions

	cmd := &cobra.Command{
		Use:   "connect [start-args...]",
		Short: "Connect to a server and answer its requests",
		Long: `Connect to a duplex server.

Arguments are sent as the ws_start args. Each line read from stdin is
sent as a ws_action message:

  save name=ann age=3     form fields, kind "text"
  !move click 10 20       pointer event at (10,20)

Cookies set by the server are printed. eval requests are rejected unless
--allow-eval is given, in which case their code runs with "sh -c".

Examples:
  duplex connect --host localhost:8080
  duplex connect --mode resocket --reconnect-delay 1s page=/home`,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.args = args
			return runConnect(cmd, &opts)
		},
	}

	opts.register(cmd)
	cmd.Flags().StringVarP(&opts.host, "host", "H", "", "Server host:port (default from config)")
	cmd.Flags().StringVar(&opts.path, "path", "", "WebSocket path (default /ws)")
	cmd.Flags().BoolVar(&opts.secure, "secure", false, "Use wss://")
	cmd.Flags().StringVar(&opts.mode, "mode", "", "Reconnect mode: reload or resocket")
	cmd.Flags().DurationVar(&opts.delay, "reconnect-delay", 0, "Delay before reconnecting (default 5s)")
	cmd.Flags().BoolVar(&opts.allowEval, "allow-eval", false, "Run eval requests with the shell. Only for trusted servers")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")

	return cmd
}

func runConnect(cmd *cobra.Command, opts *connectOptions) error {
	cfg, err := opts.load()
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if opts.host != "" {
		cfg.Server.Host = opts.host
	}
	if opts.path != "" {
		cfg.Server.Path = opts.path
	}
	if flags.Changed("secure") {
		cfg.Server.Secure = opts.secure
	}
	if opts.mode != "" {
		cfg.Reconnect.Mode = opts.mode
	}
	if opts.delay > 0 {
		cfg.Reconnect.Delay = config.Duration(opts.delay)
	}
	if flags.Changed("allow-eval") {
		cfg.Eval.Allow = opts.allowEval
	}
	if opts.metricsAddr != "" {
		cfg.Metrics.Addr = opts.metricsAddr
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := installLogger(cfg, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var m *metrics.Metrics
	if cfg.Metrics.Addr != "" {
		m = metrics.Default()
		go serveMetrics(ctx, cfg.Metrics.Addr)
		info("Metrics on http://%s/metrics", cfg.Metrics.Addr)
	}

	deps := client.Deps{
		Cookies: dispatch.CookieFunc(func(cookie string) error {
			success("cookie %s", cookie)
			return nil
		}),
		Calls: dispatch.CallFunc(func(_ context.Context, env *envelope.Envelope) (any, error) {
			info("call %v", env.Args)
			return env.Args, nil
		}),
		Metrics: m,
	}
	if cfg.Eval.Allow {
		warn("eval enabled: the server can run %s commands on this machine", cfg.Eval.Shell)
		deps.Evaluator = shellEvaluator{shell: cfg.Eval.Shell}
	}

	var startArgs any = opts.args
	if len(opts.args) == 0 {
		startArgs = []string{}
	}
	sess := newSession(cfg.ClientConfig(), deps, startArgs, logger)
	if err := sess.start(ctx); err != nil {
		return err
	}
	defer sess.close()

	builder := &outbound.Builder{Sender: sess, Forms: outbound.TextForm}
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			info("Shutting down...")
			return nil
		case line, ok := <-lines:
			if !ok {
				// stdin closed: keep serving requests until interrupted.
				lines = nil
				continue
			}
			if err := sendLine(ctx, builder, line); err != nil {
				var usage errUsage
				if errors.As(err, &usage) {
					warn("%s", usage)
					continue
				}
				errorMsg("send failed: %v", err)
			}
		}
	}
}

func serveMetrics(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		errorMsg("metrics server: %v", err)
	}
}
