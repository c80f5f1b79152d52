// Command jobline runs the job pipeline worker and provisions its topology.
package main

import (
	"fmt"
	"os"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/arloliu/jobline"
	"github.com/arloliu/jobline/internal/logging"
)

type globalFlags struct {
	configPath string
	natsURL    string
	logLevel   string
	logFormat  string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:           "jobline",
		Short:         "Event-driven job pipeline on NATS JetStream",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&flags.natsURL, "nats-url", "", "NATS server URL (overrides config and NATS_URL)")
	rootCmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&flags.logFormat, "log-format", "", "log format: text or json")

	rootCmd.AddCommand(
		newReconcileCmd(flags),
		newWorkerCmd(flags),
		newSubmitCmd(flags),
	)

	return rootCmd
}

// load reads the configuration and applies command-line overrides.
func (f *globalFlags) load() (jobline.Config, error) {
	cfg, err := jobline.LoadConfig(f.configPath)
	if err != nil {
		return jobline.Config{}, err
	}
	if f.natsURL != "" {
		cfg.NATSURL = f.natsURL
	}
	if f.logLevel != "" {
		cfg.Log.Level = f.logLevel
	}
	if f.logFormat != "" {
		cfg.Log.Format = f.logFormat
	}

	return cfg, nil
}

func newLogger(cfg jobline.Config) (jobline.Logger, error) {
	return logging.New(os.Stderr, cfg.Log.Format, cfg.Log.Level)
}

func connect(cfg jobline.Config, logger jobline.Logger) (*nats.Conn, error) {
	nc, err := nats.Connect(cfg.NATSURL,
		nats.Name("jobline"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("disconnected from NATS", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("reconnected to NATS", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATSURL, err)
	}

	return nc, nil
}
