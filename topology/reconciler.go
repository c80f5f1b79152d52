package topology

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/arloliu/jobline/internal/kvutil"
	"github.com/arloliu/jobline/internal/logging"
	"github.com/arloliu/jobline/internal/metrics"
	"github.com/arloliu/jobline/internal/natsutil"
	"github.com/arloliu/jobline/types"
)

// Kind identifies the object a decision applies to.
type Kind string

// Action is what the reconciler does for one object.
type Action string

const (
	KindStream   Kind = "stream"
	KindConsumer Kind = "consumer"

	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionNoop   Action = "noop"
)

// errStreamUnavailable marks consumers skipped because their stream could
// not be created or inspected.
var errStreamUnavailable = errors.New("stream unavailable")

// Options controls a single reconcile run.
type Options struct {
	// DryRun reports decisions without mutating the control plane.
	DryRun bool
}

// Decision is the outcome for one stream or consumer.
type Decision struct {
	Kind   Kind
	Stream string
	// Name is the stream name for streams and the durable name for consumers.
	Name    string
	Action  Action
	Changes []string
	// Applied is true when the action was executed successfully. Always false
	// for no-ops and dry runs.
	Applied bool
	Err     error
}

// String renders the decision on one line.
func (d Decision) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", d.Action, d.Kind)
	if d.Kind == KindConsumer {
		fmt.Fprintf(&b, " %s/%s", d.Stream, d.Name)
	} else {
		fmt.Fprintf(&b, " %s", d.Name)
	}
	if len(d.Changes) > 0 {
		fmt.Fprintf(&b, " [%s]", strings.Join(d.Changes, "; "))
	}
	if d.Err != nil {
		fmt.Fprintf(&b, " error: %v", d.Err)
	}

	return b.String()
}

// Report collects the decisions of one reconcile run in definition order.
type Report struct {
	DryRun    bool
	Decisions []Decision
}

// Counts returns the number of decisions per action.
func (r *Report) Counts() map[Action]int {
	counts := make(map[Action]int, 3)
	for _, d := range r.Decisions {
		counts[d.Action]++
	}

	return counts
}

// Changed reports whether any create or update was decided.
func (r *Report) Changed() bool {
	for _, d := range r.Decisions {
		if d.Action != ActionNoop {
			return true
		}
	}

	return false
}

// Err joins the errors of all failed decisions, or returns nil.
func (r *Report) Err() error {
	var errs []error
	for _, d := range r.Decisions {
		if d.Err != nil {
			errs = append(errs, fmt.Errorf("%s %s: %w", d.Kind, d.Name, d.Err))
		}
	}

	return errors.Join(errs...)
}

// Reconciler converges a ControlPlane towards a desired topology.
type Reconciler struct {
	cp         ControlPlane
	logger     types.Logger
	metrics    types.TopologyMetrics
	maxRetries int
}

// ReconcilerOption configures a Reconciler.
type ReconcilerOption func(*Reconciler)

// WithLogger sets the logger.
func WithLogger(l types.Logger) ReconcilerOption {
	return func(r *Reconciler) {
		r.logger = l
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m types.TopologyMetrics) ReconcilerOption {
	return func(r *Reconciler) {
		r.metrics = m
	}
}

// WithMaxRetries sets the attempts made for control-plane calls that fail
// with connectivity errors.
func WithMaxRetries(n int) ReconcilerOption {
	return func(r *Reconciler) {
		r.maxRetries = n
	}
}

// NewReconciler creates a Reconciler for cp.
func NewReconciler(cp ControlPlane, opts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{
		cp:         cp,
		logger:     logging.NewNop(),
		metrics:    metrics.NewNop(),
		maxRetries: kvutil.DefaultMaxRetries,
	}
	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Reconcile brings the control plane in line with desired.
//
// Streams are processed in order, each followed by its consumers. Missing
// objects are created, differing ones updated in place and identical ones
// left alone. Nothing is ever deleted. A failure on one object is recorded
// in its decision and does not stop the run, except that consumers of a
// stream that could not be created or inspected are skipped.
//
// Parameters:
//   - ctx: Context for control-plane calls
//   - desired: Validated desired topology
//   - opts: DryRun to only report
//
// Returns:
//   - *Report: One decision per stream and consumer
//   - error: Validation error, or the joined decision errors
func (r *Reconciler) Reconcile(ctx context.Context, desired Desired, opts Options) (*Report, error) {
	if err := desired.Validate(); err != nil {
		return nil, err
	}

	report := &Report{DryRun: opts.DryRun}
	for _, stream := range desired.Streams {
		sd := r.reconcileStream(ctx, stream, opts)
		report.Decisions = append(report.Decisions, sd)

		for _, consumer := range stream.Consumers {
			var cd Decision
			switch {
			case sd.Err != nil:
				cd = Decision{Kind: KindConsumer, Stream: stream.Name, Name: consumer.Durable, Action: ActionCreate, Err: errStreamUnavailable}
			case sd.Action == ActionCreate:
				// Nothing can exist on a stream that does not exist yet.
				cd = r.apply(ctx, Decision{Kind: KindConsumer, Stream: stream.Name, Name: consumer.Durable, Action: ActionCreate}, opts,
					func(ctx context.Context) error { return r.cp.CreateConsumer(ctx, stream.Name, consumer.normalized()) })
			default:
				cd = r.reconcileConsumer(ctx, stream.Name, consumer, opts)
			}
			report.Decisions = append(report.Decisions, cd)
		}
	}

	for _, d := range report.Decisions {
		r.metrics.RecordReconcileDecision(string(d.Kind), string(d.Action), opts.DryRun)
		if d.Err != nil {
			r.logger.Error("reconcile decision failed", "decision", d.String())
		} else {
			r.logger.Info("reconcile decision", "decision", d.String(), "dryRun", opts.DryRun, "applied", d.Applied)
		}
	}

	return report, report.Err()
}

func (r *Reconciler) reconcileStream(ctx context.Context, spec StreamSpec, opts Options) Decision {
	desired := spec.normalized()
	d := Decision{Kind: KindStream, Stream: spec.Name, Name: spec.Name}

	var actual StreamSpec
	err := r.retry(ctx, func(ctx context.Context) error {
		var err error
		actual, err = r.cp.StreamConfig(ctx, spec.Name)

		return err
	})

	switch {
	case errors.Is(err, ErrNotFound):
		d.Action = ActionCreate
		return r.apply(ctx, d, opts, func(ctx context.Context) error { return r.cp.CreateStream(ctx, desired) })
	case err != nil:
		d.Action = ActionNoop
		d.Err = err

		return d
	}

	d.Changes = diffStream(desired, actual.normalized())
	if len(d.Changes) == 0 {
		d.Action = ActionNoop
		return d
	}

	d.Action = ActionUpdate

	return r.apply(ctx, d, opts, func(ctx context.Context) error { return r.cp.UpdateStream(ctx, desired) })
}

func (r *Reconciler) reconcileConsumer(ctx context.Context, stream string, spec ConsumerSpec, opts Options) Decision {
	desired := spec.normalized()
	d := Decision{Kind: KindConsumer, Stream: stream, Name: spec.Durable}

	var actual ConsumerSpec
	err := r.retry(ctx, func(ctx context.Context) error {
		var err error
		actual, err = r.cp.ConsumerConfig(ctx, stream, spec.Durable)

		return err
	})

	switch {
	case errors.Is(err, ErrNotFound):
		d.Action = ActionCreate
		return r.apply(ctx, d, opts, func(ctx context.Context) error { return r.cp.CreateConsumer(ctx, stream, desired) })
	case err != nil:
		d.Action = ActionNoop
		d.Err = err

		return d
	}

	d.Changes = diffConsumer(desired, actual.normalized())
	if len(d.Changes) == 0 {
		d.Action = ActionNoop
		return d
	}

	d.Action = ActionUpdate

	return r.apply(ctx, d, opts, func(ctx context.Context) error { return r.cp.UpdateConsumer(ctx, stream, desired) })
}

// apply executes fn for a create or update decision unless this is a dry run.
func (r *Reconciler) apply(ctx context.Context, d Decision, opts Options, fn func(context.Context) error) Decision {
	if opts.DryRun {
		return d
	}

	if err := r.retry(ctx, fn); err != nil {
		d.Err = err
		return d
	}
	d.Applied = true

	return d
}

// retry retries connectivity failures and returns other errors at once.
func (r *Reconciler) retry(ctx context.Context, fn func(context.Context) error) error {
	return kvutil.Retry(ctx, r.maxRetries, func(ctx context.Context) error {
		err := fn(ctx)
		if err != nil && !natsutil.IsConnectivityError(err) {
			return &kvutil.Permanent{Err: err}
		}

		return err
	})
}
