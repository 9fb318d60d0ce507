package main

import (
	"bufio"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/nidhogg/nora/internal/config"
	"github.com/nidhogg/nora/internal/ui"
)

var version = "dev"

// options are the persistent flags plus what PersistentPreRunE builds from
// them.
type options struct {
	configPath string
	model      string
	logLevel   string
	logFile    string
	verbose    bool

	logger *zap.Logger
	conf   *config.Manager
	cfg    *config.Config
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, ui.Error("%v", err))
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "nora",
		Short:         "Local coding assistant and agent orchestrator",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.setup(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if opts.logger != nil {
				_ = opts.logger.Sync()
			}
		},
	}
	pf := root.PersistentFlags()
	pf.StringVarP(&opts.configPath, "config", "c", "", "config file (default ~/.nora/config.yaml)")
	pf.StringVarP(&opts.model, "model", "m", "", "model to use (default from config)")
	pf.StringVar(&opts.logLevel, "log-level", "", "log level: debug|info|warn|error")
	pf.StringVar(&opts.logFile, "log-file", "", "write logs to this file")
	pf.BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging on stderr")

	root.AddCommand(
		newChatCmd(opts),
		newRunCmd(opts),
		newAgentCmd(opts),
		newAgentsCmd(opts),
		newTeamCmd(opts),
		newConfigCmd(opts),
		newModelsCmd(opts),
		newIndexCmd(opts),
		newSearchCmd(opts),
		newServeCmd(opts),
		newSetupCmd(opts),
	)
	return root
}

func (o *options) setup(cmd *cobra.Command) error {
	_ = godotenv.Load()

	// Config is read with a bootstrap logger so its problems are visible
	// before the configured one exists.
	boot, err := newLogger(o.logLevel, o.logFile, o.verbose, false)
	if err != nil {
		return err
	}
	o.conf = config.Open(o.configPath, boot)
	cfg, err := o.conf.Config()
	if err != nil {
		return err
	}
	o.cfg = cfg

	level := o.logLevel
	if level == "" {
		level = cfg.Log.Level
	}
	file := o.logFile
	if file == "" {
		file = cfg.Log.File
	}
	// The server has no streamed model text to protect, so it logs at the
	// configured level on stderr.
	logger, err := newLogger(level, file, o.verbose, cmd.Name() == "serve")
	if err != nil {
		return err
	}
	o.logger = logger

	if needsSetup(cmd, o.conf) {
		w := &wizard{in: bufio.NewScanner(cmd.InOrStdin()), out: cmd.OutOrStdout(), conf: o.conf, logger: logger}
		if err := w.run(cmd.Context()); err != nil {
			return fmt.Errorf("first-run setup: %w", err)
		}
		if cfg, err = o.conf.Config(); err != nil {
			return err
		}
		o.cfg = cfg
	}
	if o.model == "" {
		o.model = cfg.Model
	}
	return nil
}

// newLogger builds a production zap logger. Without a file and outside
// server mode, stderr only gets warnings so logs don't interleave with
// streamed replies.
func newLogger(level, file string, verbose, server bool) (*zap.Logger, error) {
	lvl := zapcore.InfoLevel
	if level != "" {
		if err := lvl.UnmarshalText([]byte(level)); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", level, err)
		}
	}
	if verbose {
		lvl = zapcore.DebugLevel
	}

	zc := zap.NewProductionConfig()
	zc.Encoding = "console"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zc.DisableStacktrace = true
	zc.ErrorOutputPaths = []string{"stderr"}
	switch {
	case file != "":
		zc.OutputPaths = []string{file}
	case !verbose && !server && lvl < zapcore.WarnLevel:
		lvl = zapcore.WarnLevel
		zc.OutputPaths = []string{"stderr"}
	default:
		zc.OutputPaths = []string{"stderr"}
	}
	zc.Level = zap.NewAtomicLevelAt(lvl)
	return zc.Build()
}
