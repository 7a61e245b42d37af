package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/transcoder/config"
	"github.com/c360/transcoder/format"
	"github.com/c360/transcoder/format/delim"
	"github.com/c360/transcoder/format/edi"
	"github.com/c360/transcoder/format/hl7"
	"github.com/c360/transcoder/format/marc21"
	"github.com/c360/transcoder/natsclient"
	"github.com/c360/transcoder/output"
	outfile "github.com/c360/transcoder/output/file"
	"github.com/c360/transcoder/output/kvstore"
	"github.com/c360/transcoder/output/natspub"
	"github.com/c360/transcoder/pipeline"
	"github.com/c360/transcoder/pkg/retry"
)

// buildRegistry creates an adapter for every enabled format.
func buildRegistry(cfg *config.Config) (*format.Registry, error) {
	reg := format.NewRegistry()
	for _, f := range cfg.EnabledFormats() {
		fc := cfg.Formats[string(f)]
		var a format.Adapter
		switch f {
		case format.HL7:
			var opts []hl7.Option
			if fc.MaxSegmentSize > 0 {
				opts = append(opts, hl7.WithMaxSegmentSize(fc.MaxSegmentSize))
			}
			a = hl7.New(opts...)
		case format.EDI:
			a = edi.New()
		case format.MARC21:
			a = marc21.New()
		case format.Delim:
			d, err := delim.New(fc.Delimiter, fc.Separator)
			if err != nil {
				return nil, fmt.Errorf("delim adapter: %w", err)
			}
			a = d
		case format.XML:
			a = format.NewXMLAdapter()
		default:
			return nil, fmt.Errorf("no adapter for format %s", f)
		}
		reg.Register(a)
	}
	return reg, nil
}

// buildDrivers creates one driver per registered format, all sharing emitter.
func buildDrivers(
	cfg *config.Config,
	reg *format.Registry,
	emitter pipeline.Emitter,
	logger *slog.Logger,
	metrics *pipeline.Metrics,
) (map[format.Format]*pipeline.Driver, error) {
	drivers := make(map[format.Format]*pipeline.Driver)
	for _, f := range reg.Formats() {
		a, err := reg.Lookup(f)
		if err != nil {
			return nil, err
		}
		d, err := pipeline.New(a, emitter, cfg.Formats[string(f)].Pipeline(),
			pipeline.WithLogger(logger), pipeline.WithMetrics(metrics))
		if err != nil {
			return nil, fmt.Errorf("driver for %s: %w", f, err)
		}
		drivers[f] = d
	}
	return drivers, nil
}

// buildSink creates the configured sinks for one role. Several sinks are
// combined with output.Tee. It returns nil when none are listed.
func buildSink(
	ctx context.Context,
	sc config.SinkConfig,
	client *natsclient.Client,
	logger *slog.Logger,
) (output.Sink, error) {
	var sinks output.Tee
	for _, name := range sc.Sinks {
		var (
			s   output.Sink
			err error
		)
		switch name {
		case config.SinkFile:
			s, err = outfile.NewSink(sc.File, logger)
		case config.SinkNATS:
			if client == nil {
				return nil, fmt.Errorf("nats sink needs a NATS connection")
			}
			s, err = natspub.NewSink(sc.NATS, natspub.ForClient(client, sc.NATS))
		case config.SinkKV:
			if client == nil {
				return nil, fmt.Errorf("kv sink needs a NATS connection")
			}
			var bucket jetstream.KeyValue
			bucket, err = retry.DoWithResult(ctx, retry.DefaultConfig(), func() (jetstream.KeyValue, error) {
				return client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{Bucket: sc.KV.Bucket})
			})
			if err == nil {
				s, err = kvstore.NewSink(sc.KV, client.NewKVStore(bucket))
			}
		default:
			err = fmt.Errorf("unknown sink %q", name)
		}
		if err != nil {
			_ = sinks.Close()
			return nil, fmt.Errorf("%s sink: %w", name, err)
		}
		sinks = append(sinks, s)
	}

	switch len(sinks) {
	case 0:
		return nil, nil
	case 1:
		return sinks[0], nil
	default:
		return sinks, nil
	}
}

// buildEmitter wires the success and failure sinks.
func buildEmitter(
	ctx context.Context,
	cfg *config.Config,
	client *natsclient.Client,
	logger *slog.Logger,
) (*output.Emitter, error) {
	success, err := buildSink(ctx, cfg.Output.Success, client, logger)
	if err != nil {
		return nil, fmt.Errorf("success: %w", err)
	}
	var failure output.Sink
	if !sameFileSinks(cfg.Output.Success, cfg.Output.Failure) {
		failure, err = buildSink(ctx, cfg.Output.Failure, client, logger)
		if err != nil {
			if c, ok := success.(interface{ Close() error }); ok {
				_ = c.Close()
			}
			return nil, fmt.Errorf("failure: %w", err)
		}
	}
	return output.NewEmitter(success, failure)
}

// sameFileSinks reports whether both roles would open the same file, in which
// case failures share the success sink instead of a second writer.
func sameFileSinks(a, b config.SinkConfig) bool {
	if !a.Has(config.SinkFile) || !b.Has(config.SinkFile) || len(b.Sinks) != 1 {
		return false
	}
	return a.File.Path() == b.File.Path()
}

// newNATSClient connects to the configured servers.
func newNATSClient(ctx context.Context, cfg config.NATSConfig, logger *slog.Logger) (*natsclient.Client, error) {
	opts := []natsclient.ClientOption{
		natsclient.WithLogger(logger),
		natsclient.WithName(cfg.Name),
		natsclient.WithTimeout(cfg.Timeout),
		natsclient.WithReconnect(cfg.MaxReconnects, cfg.ReconnectWait),
		natsclient.WithCircuitBreaker(cfg.CircuitThreshold, cfg.MaxBackoff),
		natsclient.WithAuth(natsclient.Auth{Username: cfg.Username, Password: cfg.Password, Token: cfg.Token}),
	}

	client, err := natsclient.NewClient(strings.Join(cfg.URLs, ","), opts...)
	if err != nil {
		return nil, fmt.Errorf("create NATS client: %w", err)
	}

	logger.Info("Connecting to NATS", "urls", cfg.URLs)
	err = retry.Do(ctx, retry.Quick(), func() error {
		if err := client.Connect(ctx); err != nil {
			if stderrors.Is(err, natsclient.ErrCircuitOpen) {
				return retry.Permanent(err)
			}
			logger.Debug("NATS connect attempt failed", "error", err)
			return err
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.WaitForConnection(connCtx); err != nil {
		_ = client.Close(ctx)
		return nil, fmt.Errorf("NATS connection timeout: %w", err)
	}
	return client, nil
}
