package main

import (
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/vango-dev/duplex/internal/config"
	"github.com/vango-dev/duplex/pkg/console"
)

// commonFlags are shared by connect and serve.
type commonFlags struct {
	configPath string
	logLevel   string
	logFormat  string
}

func (f *commonFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.configPath, "config", "c", "", "Config file (default ./duplex.json or ./duplex.toml)")
	cmd.Flags().StringVar(&f.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	cmd.Flags().StringVar(&f.logFormat, "log-format", "", "Log format: text or json")
}

// load reads the config and applies flag overrides.
func (f *commonFlags) load() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if f.configPath != "" {
		cfg, err = config.LoadFile(f.configPath)
	} else {
		cfg, err = config.Load(".")
	}
	if err != nil {
		return nil, err
	}
	if f.logLevel != "" {
		cfg.Log.Level = f.logLevel
	}
	if f.logFormat != "" {
		cfg.Log.Format = f.logFormat
	}
	return cfg, nil
}

// installLogger makes the configured logger the process-wide one.
func installLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	logger := cfg.Logger(w)
	slog.SetDefault(logger)
	console.SetLogger(logger)
	return logger
}
