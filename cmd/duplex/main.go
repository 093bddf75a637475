package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	derrors "github.com/vango-dev/duplex/internal/errors"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "duplex",
		Short: "Duplex messaging client and development server",
		Long: `Duplex connects to a server over a WebSocket and answers its requests.

The server sends JSON or BERT envelopes; the client routes each one to a
handler (set_cookie, reload, ping, eval, bundle, redirect_console, call)
and replies when the request carries a continuation token.

Commands:
  connect   run a client, sending stdin lines as ws_action messages
  serve     run a development peer that pings its clients
  init      write a default duplex.json`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		connectCmd(),
		serveCmd(),
		initCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		derrors.PrintError(err)
		os.Exit(1)
	}
}

// success prints a success message.
func success(format string, args ...any) {
	fmt.Printf("\033[32m✓\033[0m %s\n", fmt.Sprintf(format, args...))
}

// info prints an info message.
func info(format string, args ...any) {
	fmt.Printf("  %s\n", fmt.Sprintf(format, args...))
}

// warn prints a warning message.
func warn(format string, args ...any) {
	fmt.Printf("\033[33m⚠\033[0m %s\n", fmt.Sprintf(format, args...))
}

// errorMsg prints an error message.
func errorMsg(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "\033[31m✗\033[0m %s\n", fmt.Sprintf(format, args...))
}
