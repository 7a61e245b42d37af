package pipeline

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/c360/transcoder/errors"
	"github.com/c360/transcoder/format"
	"github.com/c360/transcoder/lower"
	"github.com/c360/transcoder/markup"
	"github.com/c360/transcoder/message"
)

// Emitter receives every envelope a run produces.
type Emitter interface {
	Emit(ctx context.Context, env *message.Envelope) error
}

// Driver runs one format through parse, projection, lowering and emission.
type Driver struct {
	adapter   format.Adapter
	flattener format.Flattener
	cfg       Config
	lowerer   *lower.Lowerer
	emitter   Emitter
	logger    *slog.Logger
	metrics   *Metrics
	now       func() time.Time
}

// Option configures a Driver.
type Option func(*Driver)

// WithLogger sets the logger; the default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(d *Driver) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithMetrics records run statistics.
func WithMetrics(m *Metrics) Option {
	return func(d *Driver) {
		d.metrics = m
	}
}

// WithClock overrides the envelope timestamp source.
func WithClock(now func() time.Time) Option {
	return func(d *Driver) {
		if now != nil {
			d.now = now
		}
	}
}

// New creates a driver.
func New(adapter format.Adapter, emitter Emitter, cfg Config, opts ...Option) (*Driver, error) {
	if adapter == nil || emitter == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("adapter and emitter are required: %w", errors.ErrMissingConfig),
			"Driver", "New", "check dependencies")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	d := &Driver{
		adapter: adapter,
		cfg:     cfg,
		lowerer: lower.New(cfg.Lower),
		emitter: emitter,
		logger:  slog.Default(),
		now:     time.Now,
	}
	if cfg.Payload == PayloadText {
		f, ok := adapter.(format.Flattener)
		if !ok {
			return nil, errors.WrapInvalid(fmt.Errorf("format %s has no text payload: %w", adapter.Format(), errors.ErrInvalidConfig),
				"Driver", "New", "check payload")
		}
		d.flattener = f
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With("component", "pipeline", "format", string(adapter.Format()))
	return d, nil
}

// Config returns the effective configuration.
func (d *Driver) Config() Config {
	return d.cfg
}

// run is the per-invocation state. Nothing in it outlives Run.
type run struct {
	*Driver
	res Result
}

// Run processes units until the source is exhausted, the context is cancelled
// or a failure under ScopeRun stops it. The returned error is non-nil only when
// the run ends in StateAborted.
func (d *Driver) Run(ctx context.Context, src Source) (Result, error) {
	start := time.Now()
	r := &run{Driver: d, res: Result{State: StateIdle}}
	d.metrics.startRun(string(d.adapter.Format()))

	err := r.loop(ctx, src)
	r.res.Duration = time.Since(start)
	if err != nil {
		r.res.State = StateAborted
		d.logger.Error("run aborted", "units", r.res.Units, "records", r.res.Records,
			"failures", r.res.Failures, "error", err)
	} else {
		r.res.State = StateDone
		d.logger.Info("run complete", "units", r.res.Units, "records", r.res.Records,
			"failures", r.res.Failures, "skipped", r.res.Skipped, "duration", r.res.Duration)
	}
	d.metrics.recordRun(string(d.adapter.Format()), r.res.State)
	return r.res, err
}

func (r *run) loop(ctx context.Context, src Source) error {
	unitIndex := 0
	for {
		r.res.State = StateFetchUnit
		if err := ctx.Err(); err != nil {
			return err
		}

		unit, err := src.Next(ctx)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "Driver", "Run", "fetch unit")
		}
		if unit == nil || unit.Body == nil {
			r.skip("absent unit")
			continue
		}

		unitIndex++
		r.res.Units++
		r.metrics.recordUnit(string(r.adapter.Format()))
		if err := r.unit(ctx, unit, unitIndex); err != nil {
			return err
		}
	}
}

// emitError marks aborts caused by the emitter rather than by a record.
type emitError struct{ error }

func (e emitError) Unwrap() error { return e.error }

// unit processes one input unit. The body is closed before it returns. A unit
// left unfinished by an emit failure or cancellation is rejected first.
func (r *run) unit(ctx context.Context, unit *message.Unit, unitIndex int) (err error) {
	defer func() {
		var ee emitError
		if err != nil && (ctx.Err() != nil || stderrors.As(err, &ee)) {
			if rj, ok := unit.Body.(Rejecter); ok {
				if rerr := rj.Reject(); rerr != nil {
					r.logger.Warn("reject unit", "unit", unitIndex, "error", rerr)
				} else {
					r.logger.Info("unit handed back for redelivery", "unit", unitIndex)
				}
			}
		}
		if err := unit.Body.Close(); err != nil {
			r.logger.Warn("close unit body", "unit", unitIndex, "error", err)
		}
	}()

	r.res.State = StateParsing
	it, err := r.adapter.Parse(unit.Body)
	if err != nil {
		_, abort := r.fail(ctx, unit, unitIndex, 0, err, true)
		return abort
	}

	for index := 0; ; index++ {
		r.res.State = StateParsing
		if err := ctx.Err(); err != nil {
			return err
		}

		started := time.Now()
		native, err := it.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			next, abort := r.fail(ctx, unit, unitIndex, index, err, errors.KindOf(err) == errors.KindIO)
			if abort != nil || !next {
				return abort
			}
			continue
		}

		r.res.State = StateLowering
		env, err := r.transcode(native, unit.Header, unitIndex, index)
		if err != nil {
			next, abort := r.fail(ctx, unit, unitIndex, index, err, false)
			if abort != nil || !next {
				return abort
			}
			continue
		}

		r.res.State = StateEmitting
		if err := r.emitter.Emit(ctx, env); err != nil {
			return emitError{errors.Wrap(err, "Driver", "Run", "emit record")}
		}
		r.res.Records++
		r.metrics.recordSuccess(string(r.adapter.Format()), time.Since(started))
		r.logger.Debug("record emitted", "unit", unitIndex, "index", index, "envelope", env.ID)
	}
}

// transcode builds the success envelope for one native record.
func (r *run) transcode(native format.Native, header message.Header, unitIndex, index int) (*message.Envelope, error) {
	f := string(r.adapter.Format())
	opts := []message.Option{message.WithPosition(unitIndex, index), message.WithTime(r.now())}

	if r.cfg.Payload == PayloadText {
		data, err := r.flattener.Flatten(native)
		if err != nil {
			return nil, err
		}
		return message.NewDataEnvelope(f, header, data, opts...), nil
	}

	doc, err := r.adapter.Project(native)
	if err != nil {
		return nil, err
	}

	if r.cfg.Payload == PayloadMarkup {
		data, err := markup.Marshal(doc, markup.EncodeOptions{})
		if err != nil {
			return nil, err
		}
		return message.NewDataEnvelope(f, header, data, opts...), nil
	}

	rec, err := r.lowerer.Lower(doc)
	if err != nil {
		return nil, err
	}
	return message.NewRecordEnvelope(f, header, rec, opts...), nil
}

// fail turns a caught error into one failure envelope and applies the scope.
// next reports whether the unit may continue; abort is non-nil when the run
// must stop.
func (r *run) fail(ctx context.Context, unit *message.Unit, unitIndex, index int, cause error, endsUnit bool) (next bool, abort error) {
	if errors.KindOf(cause) == errors.KindEmptyUnit {
		r.skip("empty unit")
		return false, nil
	}

	f := string(r.adapter.Format())
	failure := message.NewFailure(cause)
	env := message.NewFailureEnvelope(f, unit.Header, failure,
		message.WithPosition(unitIndex, index), message.WithTime(r.now()))
	if err := r.emitter.Emit(ctx, env); err != nil {
		return false, emitError{errors.Wrap(err, "Driver", "Run", "emit failure")}
	}
	r.res.Failures++
	r.metrics.recordFailure(f, failure.Kind)
	r.logger.Warn("record failed", "unit", unitIndex, "index", index, "kind", failure.Kind,
		"scope", string(r.cfg.Scope), "error", cause)

	switch {
	case r.cfg.Scope == ScopeRun:
		return false, cause
	case r.cfg.Scope == ScopeRecord && !endsUnit:
		return true, nil
	default:
		return false, nil
	}
}

func (r *run) skip(reason string) {
	r.res.Skipped++
	r.metrics.recordSkip(string(r.adapter.Format()))
	r.logger.Debug("unit skipped", "reason", reason)
}
