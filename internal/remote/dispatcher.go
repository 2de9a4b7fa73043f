package remote

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/felixgeelhaar/warden/internal/command"
	"github.com/felixgeelhaar/warden/internal/errors"
	"github.com/felixgeelhaar/warden/internal/log"
	"github.com/felixgeelhaar/warden/internal/metrics"
	"github.com/felixgeelhaar/warden/internal/telemetry"
)

// Summary classifies the outcome of a dispatch across all hosts.
type Summary string

const (
	SummaryAllSucceeded   Summary = "all-succeeded"
	SummaryPartialFailure Summary = "partial-failure"
	SummaryAllFailed      Summary = "all-failed"
)

// Aggregate holds one result per target host, in target order.
type Aggregate struct {
	Results []*command.Result
	Summary Summary
}

// ByHost returns the result for host.
func (a *Aggregate) ByHost(host string) (*command.Result, bool) {
	for _, r := range a.Results {
		if r.Host == host {
			return r, true
		}
	}
	return nil, false
}

// Failed returns the results that did not succeed.
func (a *Aggregate) Failed() []*command.Result {
	var out []*command.Result
	for _, r := range a.Results {
		if !r.Success {
			out = append(out, r)
		}
	}
	return out
}

// Err is nil when every host succeeded. Otherwise it wraps the first
// failure in target order, so its kind decides retryability.
func (a *Aggregate) Err() error {
	failed := a.Failed()
	if len(failed) == 0 {
		return nil
	}
	return fmt.Errorf("%s on %d of %d hosts: %w", a.Summary, len(failed), len(a.Results), failed[0].Err)
}

func summarize(results []*command.Result) Summary {
	ok := 0
	for _, r := range results {
		if r.Success {
			ok++
		}
	}
	switch ok {
	case len(results):
		return SummaryAllSucceeded
	case 0:
		return SummaryAllFailed
	default:
		return SummaryPartialFailure
	}
}

// DispatchOptions tune a single dispatch.
type DispatchOptions struct {
	// Timeout bounds each host's execution. Zero uses the command's own timeout.
	Timeout time.Duration
	// OnResult is called as each host finishes. Calls are serialized.
	OnResult func(*command.Result)
	// Output returns the writers a host's live output is copied to. Either
	// may be nil.
	Output func(host string) (stdout, stderr io.Writer)
}

// Dispatcher fans a command out to many hosts concurrently.
type Dispatcher struct {
	registry    Registry
	connector   Connector
	maxParallel int
	maxOutput   int
	logger      *log.Logger
	metrics     *metrics.Metrics
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithMaxParallel caps concurrent hosts. Zero or less means one goroutine
// per host.
func WithMaxParallel(n int) DispatcherOption {
	return func(d *Dispatcher) { d.maxParallel = n }
}

// WithMaxOutputBytes bounds the output tail kept per host and stream.
func WithMaxOutputBytes(n int) DispatcherOption {
	return func(d *Dispatcher) { d.maxOutput = n }
}

// WithLogger sets the dispatcher's logger.
func WithLogger(l *log.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) DispatcherOption {
	return func(d *Dispatcher) { d.metrics = m }
}

// NewDispatcher returns a dispatcher resolving names through registry and
// connecting through connector.
func NewDispatcher(registry Registry, connector Connector, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{registry: registry, connector: connector}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = log.OrDefault(d.logger).WithGroup("remote")
	return d
}

// Registry returns the host registry.
func (d *Dispatcher) Registry() Registry { return d.registry }

// Dispatch runs spec on every named host. A failure on one host, including
// an unknown name or a connection error, never affects the others. The
// returned error covers only problems with the request itself.
func (d *Dispatcher) Dispatch(ctx context.Context, spec *command.Spec, hosts []string, opts DispatchOptions) (*Aggregate, error) {
	names := dedupe(hosts)
	if len(names) == 0 {
		return nil, errors.New(errors.KindValidation, errors.ErrCodeValidation, "no target hosts").
			WithCommand(spec.Text())
	}
	if spec.Interactive() {
		return nil, errors.NewCapabilityError(spec.Text()).
			WithSuggestion("Interactive commands cannot be dispatched to remote hosts")
	}

	ctx, span := telemetry.StartDispatchSpan(ctx, spec, len(names))
	defer span.End()

	limit := d.maxParallel
	if limit <= 0 || limit > len(names) {
		limit = len(names)
	}

	var (
		results = make([]*command.Result, len(names))
		notify  sync.Mutex
		g       errgroup.Group
	)
	g.SetLimit(limit)
	for i, name := range names {
		g.Go(func() error {
			res := d.runHost(ctx, spec, name, opts)
			results[i] = res
			if opts.OnResult != nil {
				notify.Lock()
				opts.OnResult(res)
				notify.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	agg := &Aggregate{Results: results, Summary: summarize(results)}
	d.metrics.RecordDispatch(string(agg.Summary))
	if err := agg.Err(); err != nil {
		telemetry.RecordError(span, err)
	} else {
		telemetry.RecordSuccess(span)
	}
	d.logger.InfoContext(ctx, "dispatch finished", "hosts", len(names), "summary", agg.Summary)
	return agg, nil
}

func (d *Dispatcher) runHost(ctx context.Context, spec *command.Spec, name string, opts DispatchOptions) *command.Result {
	ctx, span := telemetry.StartHostSpan(ctx, name)
	defer span.End()

	logger := d.logger.With("host", name)
	res := &command.Result{Spec: spec, Host: name, ExitCode: -1, StartedAt: time.Now()}
	defer func() {
		res.EndedAt = time.Now()
		res.Success = res.Err == nil
		d.metrics.RecordCommand(spec.Tier.String(), "remote", res.Success, res.Duration(), string(errors.KindOf(res.Err)))
		telemetry.RecordResult(span, res)
	}()

	host, ok := d.registry.Lookup(name)
	if !ok {
		res.Err = errors.NewUnknownHostError(name).WithCommand(spec.Text())
		logger.WarnContext(ctx, "unknown host")
		return res
	}

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = spec.Timeout
	}
	hctx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		hctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	sess, err := d.connector.Connect(hctx, host)
	if err != nil {
		res.Err = classify(ctx, hctx, spec, name, timeout, err)
		if errors.IsKind(res.Err, errors.KindConnection) {
			d.metrics.RecordHostConnectFailure(name)
		}
		logger.WithError(res.Err).WarnContext(ctx, "connection failed")
		return res
	}
	defer func() { _ = sess.Close() }()

	stdout := command.NewTailBuffer(d.maxOutput)
	stderr := command.NewTailBuffer(d.maxOutput)
	var outW, errW io.Writer = stdout, stderr
	if opts.Output != nil {
		liveOut, liveErr := opts.Output(name)
		if liveOut != nil {
			outW = io.MultiWriter(stdout, liveOut)
		}
		if liveErr != nil {
			errW = io.MultiWriter(stderr, liveErr)
		}
	}

	logger.DebugContext(ctx, "running remote command", "tier", spec.Tier.String())
	code, err := sess.Run(hctx, spec, outW, errW)

	res.ExitCode = code
	res.Stdout, res.StdoutTruncated = stdout.String(), stdout.Truncated()
	res.Stderr, res.StderrTruncated = stderr.String(), stderr.Truncated()

	switch {
	case err != nil:
		res.Err = classify(ctx, hctx, spec, name, timeout, err)
		logger.WithError(res.Err).WarnContext(ctx, "remote command interrupted")
	case code != 0:
		res.Err = errors.NewExecutionError(spec.Text(), code, res.Stderr).WithHost(name)
	}
	return res
}

// classify maps a connector or session error to the error taxonomy.
func classify(parent, hctx context.Context, spec *command.Spec, host string, timeout time.Duration, err error) error {
	switch {
	case parent.Err() != nil:
		return errors.NewCancelledError(spec.Text()).WithHost(host)
	case stderrors.Is(hctx.Err(), context.DeadlineExceeded):
		return errors.NewTimeoutError(spec.Text(), timeout).WithHost(host)
	default:
		return errors.NewConnectionError(host, err).WithCommand(spec.Text())
	}
}

func dedupe(hosts []string) []string {
	seen := make(map[string]bool, len(hosts))
	out := make([]string, 0, len(hosts))
	for _, h := range hosts {
		if h == "" || seen[h] {
			continue
		}
		seen[h] = true
		out = append(out, h)
	}
	return out
}
