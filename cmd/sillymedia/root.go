package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"sillymedia/internal/config"
	"sillymedia/internal/registry"
)

// options are the command-line overrides; empty values keep the
// file/env configuration.
type options struct {
	configPath string
	addr       string
	dataDir    string
	logLevel   string
	logFormat  string
	natsURL    string
	simulate   bool
	noPreload  bool
}

func newRootCmd() *cobra.Command {
	var opts options
	root := &cobra.Command{
		Use:           "sillymedia",
		Short:         "Local generative media server sharing one GPU across models",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVarP(&opts.configPath, "config", "c", "", "Config file (.yaml, .yml, .json or .toml)")
	pf.StringVar(&opts.dataDir, "data-dir", "", "Directory for the database and generated media")
	pf.StringVar(&opts.logLevel, "log-level", "", "Log level: debug|info|warn|error")
	pf.StringVar(&opts.logFormat, "log-format", "", "Log format: console|json")
	pf.BoolVar(&opts.simulate, "simulate", false, "Serve every model from the in-process simulator")

	serveCmd := &cobra.Command{
		Use:     "serve",
		Short:   "Run the HTTP server",
		Example: "  sillymedia serve --addr :4201\n  sillymedia serve --simulate --data-dir /tmp/silly",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts, config.LookupEnv)
			if err != nil {
				return err
			}
			logger, closer := newLogger(cfg, os.Stderr)
			defer closer.Close()
			return serve(cmd.Context(), cfg, opts.simulate, logger)
		},
	}
	serveCmd.Flags().StringVar(&opts.addr, "addr", "", "HTTP listen address, e.g. :4201")
	serveCmd.Flags().StringVar(&opts.natsURL, "nats-url", "", "Publish lifecycle events to this NATS server")
	serveCmd.Flags().BoolVar(&opts.noPreload, "no-preload", false, "Do not load the default model at startup")

	models := &cobra.Command{
		Use:   "models",
		Short: "List the configured models",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts, config.LookupEnv)
			if err != nil {
				return err
			}
			return listModels(cmd.OutOrStdout(), cfg, opts.simulate)
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "sillymedia", version)
		},
	}

	root.AddCommand(serveCmd, models, versionCmd)
	return root
}

// loadConfig layers defaults, the config file, SILLY_MEDIA_* variables and
// flags, in that order.
func loadConfig(opts options, lookup func(string) (string, bool)) (config.Config, error) {
	cfg := config.Defaults()
	if opts.configPath != "" {
		var err error
		if cfg, err = config.Load(opts.configPath); err != nil {
			return cfg, err
		}
	}
	if err := cfg.ApplyEnv(lookup); err != nil {
		return cfg, err
	}
	if opts.addr != "" {
		cfg.Addr = opts.addr
	}
	if opts.dataDir != "" {
		cfg.DataDir = opts.dataDir
		cfg.DBPath = ""
	}
	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
	}
	if opts.logFormat != "" {
		cfg.LogFormat = opts.logFormat
	}
	if opts.natsURL != "" {
		cfg.NATSURL = opts.natsURL
	}
	if opts.simulate {
		cfg.DefaultBackend = "sim"
	}
	if opts.noPreload {
		cfg.PreloadOnStartup = false
	}
	if err := cfg.Resolve(); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// newLogger writes to out (console or JSON) and, when log_file is set, to a
// rotated JSON file as well.
func newLogger(cfg config.Config, out io.Writer) (zerolog.Logger, io.Closer) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	var console io.Writer = out
	if cfg.LogFormat != "json" {
		console = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	writers := []io.Writer{console}
	var closer io.Closer = nopCloser{}
	if cfg.LogFile != "" {
		lj := &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    cfg.LogMaxSizeMB,
			MaxBackups: cfg.LogMaxBackups,
			Compress:   true,
		}
		writers = append(writers, lj)
		closer = lj
	}
	logger := zerolog.New(zerolog.MultiLevelWriter(writers...)).Level(level).With().Timestamp().Logger()
	return logger, closer
}

func listModels(out io.Writer, cfg config.Config, simulate bool) error {
	reg, err := registry.Build(cfg, registry.Options{Simulate: simulate})
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tKIND\tBACKEND\tVRAM (GB)")
	for _, h := range reg.Handles() {
		d := h.Descriptor()
		fmt.Fprintf(tw, "%s\t%s\t%s\t%.1f\n", d.ID, d.Kind, d.Backend, d.EstimatedVRAMGB)
	}
	return tw.Flush()
}
