package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/panjf2000/ants/v2"

	"github.com/c360/transcoder/config"
	"github.com/c360/transcoder/format"
	"github.com/c360/transcoder/health"
	infile "github.com/c360/transcoder/input/file"
	injetstream "github.com/c360/transcoder/input/jetstream"
	"github.com/c360/transcoder/natsclient"
	"github.com/c360/transcoder/pipeline"
)

// summary totals the results of every driver run.
type summary struct {
	mu       sync.Mutex
	Runs     int
	Aborted  int
	Units    int
	Records  int
	Failures int
	Skipped  int
	errs     []error
}

// add records one run and returns the number of aborted runs so far.
func (s *summary) add(res pipeline.Result, err error) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Runs++
	s.Units += res.Units
	s.Records += res.Records
	s.Failures += res.Failures
	s.Skipped += res.Skipped
	if res.State == pipeline.StateAborted {
		s.Aborted++
	}
	if err != nil {
		s.errs = append(s.errs, err)
	}
	return s.Aborted
}

func (s *summary) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, err)
}

// Err joins the errors of aborted runs and unrunnable inputs.
func (s *summary) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return stderrors.Join(s.errs...)
}

// runner executes driver runs on a bounded worker pool.
type runner struct {
	drivers map[format.Format]*pipeline.Driver
	workers int
	logger  *slog.Logger
	health  *health.Monitor
}

func (r *runner) finish(sum *summary, res pipeline.Result, err error) {
	aborted := sum.add(res, err)
	if r.health != nil && res.State == pipeline.StateAborted {
		r.health.UpdateDegraded("pipeline", fmt.Sprintf("%d runs aborted", aborted))
	}
}

func (r *runner) driver(f format.Format) (*pipeline.Driver, error) {
	d, ok := r.drivers[f]
	if !ok {
		return nil, fmt.Errorf("format %s is not enabled", f)
	}
	return d, nil
}

// submitAll runs each job on the pool and waits for all of them.
func (r *runner) submitAll(jobs []func()) error {
	pool, err := ants.NewPool(r.workers, ants.WithPanicHandler(func(p any) {
		r.logger.Error("driver run panicked", "panic", p)
	}))
	if err != nil {
		return fmt.Errorf("create worker pool: %w", err)
	}
	defer pool.Release()

	var wg sync.WaitGroup
	for _, job := range jobs {
		wg.Add(1)
		if err := pool.Submit(func() {
			defer wg.Done()
			job()
		}); err != nil {
			wg.Done()
			wg.Wait()
			return fmt.Errorf("submit run: %w", err)
		}
	}
	wg.Wait()
	return nil
}

// runFiles runs one driver per input file.
func (r *runner) runFiles(ctx context.Context, in config.InputConfig) (*summary, error) {
	src, err := infile.NewSource(in.File)
	if err != nil {
		return nil, err
	}

	sum := &summary{}
	var jobs []func()
	for _, path := range src.Files() {
		f, err := in.FormatFor(path)
		if err != nil {
			r.logger.Warn("Skipping input", "path", path, "error", err)
			sum.fail(err)
			continue
		}
		d, err := r.driver(f)
		if err != nil {
			r.logger.Warn("Skipping input", "path", path, "error", err)
			sum.fail(err)
			continue
		}
		jobs = append(jobs, func() {
			one, err := infile.NewSource(infile.Config{Paths: []string{path}})
			if err != nil {
				sum.fail(err)
				return
			}
			res, err := d.Run(ctx, one)
			if err != nil {
				err = fmt.Errorf("%s: %w", path, err)
			}
			r.finish(sum, res, err)
		})
	}

	r.logger.Info("Transcoding files", "files", len(jobs), "workers", r.workers)
	if err := r.submitAll(jobs); err != nil {
		return sum, err
	}
	return sum, nil
}

// runJetStream runs workers concurrent drivers over one durable consumer.
func (r *runner) runJetStream(ctx context.Context, in config.InputConfig, client *natsclient.Client) (*summary, error) {
	d, err := r.driver(format.Format(in.Format))
	if err != nil {
		return nil, err
	}
	if sc, ok := in.JetStream.StreamConfig(); ok {
		if _, err := client.CreateStream(ctx, sc); err != nil {
			return nil, err
		}
		r.logger.Info("Stream ensured", "stream", sc.Name, "subjects", sc.Subjects)
	}
	consumer, err := client.Consumer(ctx, in.JetStream.Stream, in.JetStream.ConsumerConfig())
	if err != nil {
		return nil, err
	}
	src, err := injetstream.NewSource(in.JetStream, consumer)
	if err != nil {
		return nil, err
	}

	sum := &summary{}
	jobs := make([]func(), r.workers)
	for i := range jobs {
		jobs[i] = func() {
			res, err := d.Run(ctx, src)
			// Cancellation is how a consuming run shuts down.
			if err != nil && ctx.Err() != nil && stderrors.Is(err, ctx.Err()) {
				res.State, err = pipeline.StateDone, nil
			}
			r.finish(sum, res, err)
		}
	}

	r.logger.Info("Consuming units", "stream", in.JetStream.Stream, "format", in.Format, "workers", r.workers)
	if err := r.submitAll(jobs); err != nil {
		return sum, err
	}
	return sum, nil
}
