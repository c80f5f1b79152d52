package main

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/jobline"
	jltesting "github.com/arloliu/jobline/testing"
)

func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())

	return out.String(), err
}

func TestReconcileCommand(t *testing.T) {
	ns, _ := jltesting.StartEmbeddedNATS(t)
	url := ns.ClientURL()

	out, err := runCmd(t, "reconcile", "--nats-url", url, "--dry-run")
	require.NoError(t, err)
	require.Contains(t, out, "create=3 update=0 noop=0 dry-run=true")

	out, err = runCmd(t, "reconcile", "--nats-url", url)
	require.NoError(t, err)
	require.Contains(t, out, "create=3 update=0 noop=0 dry-run=false")

	out, err = runCmd(t, "reconcile", "--nats-url", url)
	require.NoError(t, err)
	require.Contains(t, out, "create=0 update=0 noop=3")
}

func TestReconcileCommand_BadConfig(t *testing.T) {
	_, err := runCmd(t, "reconcile", "--config", "/nonexistent/jobline.yaml")
	require.Error(t, err)
}

func TestSubmitCommand_RequiresOwner(t *testing.T) {
	ns, _ := jltesting.StartEmbeddedNATS(t)

	_, err := runCmd(t, "submit", "--nats-url", ns.ClientURL(), "--id", "r-1")
	require.ErrorIs(t, err, jobline.ErrValidation)

	_, err = runCmd(t, "submit", "--nats-url", ns.ClientURL(), "--owner", "alice", "--payload", "{not json")
	require.Error(t, err)
}

func TestWorker_ProcessesSubmittedJob(t *testing.T) {
	ns, nc := jltesting.StartEmbeddedNATS(t)
	url := ns.ClientURL()

	events := make(chan *nats.Msg, 4)
	sub, err := nc.ChanSubscribe("jobline.events.>", events)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sub.Unsubscribe() })

	cfg := jobline.DefaultConfig()
	cfg.NATSURL = url
	cfg.MetricsAddr = ""
	cfg.Topology.ReconcileOnStart = true

	logger, err := newLogger(cfg)
	require.NoError(t, err)

	gen := jobline.GeneratorFunc(func(_ context.Context, req jobline.GenerateRequest) ([]byte, error) {
		return []byte(strings.ToUpper(string(req.Payload))), nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runWorker(ctx, cfg, logger, gen) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(10 * time.Second):
			t.Error("worker did not stop")
		}
	})

	// The worker reconciles on start; submit once the stream exists.
	require.Eventually(t, func() bool {
		_, err := runCmd(t, "submit", "--nats-url", url, "--id", "cli-1", "--owner", "alice", "--payload", `"hi"`)
		return err == nil
	}, 10*time.Second, 100*time.Millisecond)

	select {
	case msg := <-events:
		require.Equal(t, "jobline.events.job.completed", msg.Subject)
		var evt jobline.JobEvent
		require.NoError(t, json.Unmarshal(msg.Data, &evt))
		require.Equal(t, "cli-1", evt.JobID)
		require.Equal(t, "alice", evt.Owner)
		require.Equal(t, []byte(`"HI"`), evt.Result)
	case <-time.After(10 * time.Second):
		t.Fatal("no job event received")
	}
}
