package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/spf13/cobra"

	"github.com/arloliu/jobline/orchestrator"
)

func newSubmitCmd(flags *globalFlags) *cobra.Command {
	var (
		jobID   string
		owner   string
		kind    string
		payload string
		ingest  bool
	)

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Publish a job request to the request subject",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}

			if jobID == "" {
				jobID = uuid.NewString()
			}
			req := orchestrator.Request{JobID: jobID, Owner: owner, Kind: kind}
			if payload != "" {
				if !json.Valid([]byte(payload)) {
					return errors.New("payload is not valid JSON")
				}
				req.Payload = json.RawMessage(payload)
			}

			subject := cfg.Stream.RequestSubject
			var data []byte
			if ingest {
				subject = cfg.Stream.IngestSubject
				data = []byte(payload)
			} else {
				if err := req.Validate(); err != nil {
					return err
				}
				if data, err = json.Marshal(req); err != nil {
					return err
				}
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

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			ack, err := js.Publish(ctx, subject, data, jetstream.WithMsgID(jobID))
			if err != nil {
				return fmt.Errorf("failed to publish request: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "published job %s to %s (stream %s, seq %d, duplicate=%t)\n",
				jobID, subject, ack.Stream, ack.Sequence, ack.Duplicate)

			return nil
		},
	}

	cmd.Flags().StringVar(&jobID, "id", "", "job id (random when empty)")
	cmd.Flags().StringVar(&owner, "owner", "", "job owner and gating key")
	cmd.Flags().StringVar(&kind, "kind", "", "job kind")
	cmd.Flags().StringVar(&payload, "payload", "", "JSON payload passed to the generator")
	cmd.Flags().BoolVar(&ingest, "ingest", false, "publish the raw payload to the ingest subject instead")

	return cmd
}
