package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/spf13/cobra"

	"github.com/arloliu/jobline/topology"
)

func newReconcileCmd(flags *globalFlags) *cobra.Command {
	var (
		dryRun  bool
		file    string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Create or update the streams and consumers the pipeline needs",
		Long: "Compares the desired topology with the server and creates missing streams and consumers " +
			"or updates differing ones in place. Nothing is ever deleted. With --dry-run the decisions " +
			"are printed without applying them.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("dry-run") {
				cfg.Topology.DryRun = dryRun
			}
			if file != "" {
				cfg.Topology.File = file
			}

			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}

			desired, err := cfg.DesiredTopology()
			if err != nil {
				return err
			}

			nc, err := connect(cfg, logger)
			if err != nil {
				return err
			}
			defer nc.Close()

			js, err := jetstream.New(nc)
			if err != nil {
				return fmt.Errorf("failed to create jetstream context: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			r := topology.NewReconciler(topology.NewJetStreamControlPlane(js), topology.WithLogger(logger))
			report, err := r.Reconcile(ctx, desired, topology.Options{DryRun: cfg.Topology.DryRun})
			if report != nil {
				out := cmd.OutOrStdout()
				for _, d := range report.Decisions {
					fmt.Fprintln(out, d.String())
				}
				counts := report.Counts()
				fmt.Fprintf(out, "create=%d update=%d noop=%d dry-run=%t\n",
					counts[topology.ActionCreate], counts[topology.ActionUpdate], counts[topology.ActionNoop], report.DryRun)
			}

			return err
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report decisions without applying them (overrides DRY_RUN)")
	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML topology file to reconcile instead of the config-derived topology")
	cmd.Flags().DurationVar(&timeout, "timeout", time.Minute, "overall reconcile timeout")

	return cmd
}
