package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"golang.org/x/sync/errgroup"

	"github.com/mrzor/exec-tracer/internal/attributes"
	"github.com/mrzor/exec-tracer/internal/config"
	"github.com/mrzor/exec-tracer/internal/envdiff"
	"github.com/mrzor/exec-tracer/internal/event"
	"github.com/mrzor/exec-tracer/internal/eventstream"
	"github.com/mrzor/exec-tracer/internal/log"
	"github.com/mrzor/exec-tracer/internal/otel"
	"github.com/mrzor/exec-tracer/internal/output"
	"github.com/mrzor/exec-tracer/internal/procfs"
	"github.com/mrzor/exec-tracer/internal/tracer"
)

// run traces the configured target and returns the exit code to use.
func run(ctx context.Context, cfg *config.Config, env *config.EnvDefaults) (int, error) {
	log.Init(log.Options{
		Verbose:    cfg.Verbose,
		JSONFormat: cfg.LogJSON,
		File:       cfg.LogFile,
	})
	defer log.Close()
	log.Debug("starting exec-tracer", "version", version, "commit", commit, "built", date)

	dest, err := output.OpenDestination(cfg.Output)
	if err != nil {
		return exitInternal, err
	}
	defer func() {
		if err := dest.Close(); err != nil {
			log.Warn("closing output", "error", err)
		}
	}()

	handler, cleanup, err := setupHandlers(ctx, cfg, env, dest)
	if err != nil {
		return exitInternal, err
	}
	defer cleanup()

	stream := eventstream.New(cfg.QueueSize, handler)
	sup := tracer.NewSupervisor(tracer.Options{
		Fields:     cfg.TracerFields(),
		KillOnExit: cfg.KillOnExit,
	}, stream)

	traceCtx, stop := signalContext(ctx, cfg.PID == 0)
	defer stop()

	status, runErr := pump(traceCtx, sup, stream, tracer.Target{
		Command: cfg.Command,
		Args:    cfg.Args,
		Stdin:   os.Stdin,
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
		PID:     cfg.PID,
	})
	if err := handler.Close(); err != nil {
		log.Warn("closing output handlers", "error", err)
	}
	if handled, failed := stream.Stats(); failed > 0 {
		log.Warn("some events could not be written", "handled", handled, "failed", failed)
	}

	switch {
	case errors.Is(runErr, context.Canceled):
		log.Info("tracing interrupted")
		return exitInternal, nil
	case runErr != nil:
		return exitInternal, runErr
	case status.Unknown:
		return exitInternal, nil
	}
	return status.ShellCode(), nil
}

// session is the part of tracer.Supervisor that run drives.
type session interface {
	Run(ctx context.Context, target tracer.Target) (event.ExitStatus, error)
}

// pump runs the supervisor and the event stream side by side. An error from
// the supervisor stops the stream early; the events it had still queued are
// drained before returning.
func pump(ctx context.Context, sup session, stream *eventstream.Stream, target tracer.Target) (event.ExitStatus, error) {
	var status event.ExitStatus
	g, gctx := errgroup.WithContext(context.Background())
	g.Go(func() error {
		return stream.Run(gctx)
	})
	g.Go(func() error {
		defer stream.Close()
		var err error
		status, err = sup.Run(ctx, target)
		return err
	})
	err := g.Wait()
	stream.Drain()
	return status, err
}

// setupHandlers builds the output pipeline. The returned cleanup shuts the
// OTEL provider down after the handlers have been closed.
func setupHandlers(ctx context.Context, cfg *config.Config, env *config.EnvDefaults, dest *output.Destination) (output.Handler, func(), error) {
	evaluator, err := attributes.NewEvaluator(cfg.CustomAttributes)
	if err != nil {
		return nil, nil, err
	}
	base := baseEnvironment(cfg)

	var handlers output.Multi
	switch cfg.Format {
	case config.FormatJSON:
		handlers = append(handlers, output.NewJSONPrinter(dest, evaluator, base))
	case config.FormatShell:
		handlers = append(handlers, output.NewShellPrinter(dest, base))
	default:
		color := output.UseColor(cfg.Color, dest.IsTerminal(), env.ColorDisabled())
		handlers = append(handlers, output.NewTextPrinter(dest, cfg.Fields, color))
	}
	if cfg.AuditLog != "" {
		handlers = append(handlers, output.NewAuditLog(cfg.AuditLog))
	}

	cleanup := func() {}
	if cfg.OTEL {
		exporter, shutdown, err := setupOTEL(ctx, cfg, evaluator, base)
		if err != nil {
			return nil, nil, err
		}
		handlers = append(handlers, exporter)
		cleanup = shutdown
	}
	return handlers, cleanup, nil
}

// setupOTEL initializes the OTEL provider and returns the span exporter and
// a function flushing it.
func setupOTEL(ctx context.Context, cfg *config.Config, evaluator *attributes.Evaluator, base envdiff.Environment) (*output.OTELExporter, func(), error) {
	otelCfg, err := config.ParseOTELConfig()
	if err != nil {
		return nil, nil, err
	}
	traceIDs, err := attributes.NewTraceIDEvaluator(cfg.TraceID)
	if err != nil {
		return nil, nil, err
	}
	parentIDs, err := attributes.NewParentIDEvaluator(cfg.ParentID)
	if err != nil {
		return nil, nil, err
	}

	ids := &otel.IDGenerator{}
	tp, err := otel.InitProvider(ctx, otelCfg, fmt.Sprintf("%s (%s)", version, commit), sdktrace.WithIDGenerator(ids))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize OTEL provider: %w", err)
	}

	exporter := output.NewOTELExporter(tp.Tracer("exec-tracer"), output.OTELOptions{
		Attributes: evaluator,
		TraceID:    traceIDs,
		ParentID:   parentIDs,
		PinTraceID: ids.PinTraceID,
		BaseEnv:    base,
	})
	shutdown := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otel.ShutdownProvider(shutdownCtx, tp); err != nil {
			log.Warn("shutting down OTEL provider", "error", err)
		}
	}
	return exporter, shutdown, nil
}

// baseEnvironment is the environment of processes whose parent is not
// traced: ours for a spawned root, the target's for an attach.
func baseEnvironment(cfg *config.Config) envdiff.Environment {
	if cfg.PID == 0 {
		return envdiff.Parse(os.Environ())
	}
	data, err := procfs.Default().Environ(cfg.PID)
	if err != nil {
		log.Debug("cannot read environment of attach target", "pid", cfg.PID, "error", err)
		return envdiff.Environment{}
	}
	return envdiff.ParseNul(data)
}

// signalContext is cancelled by termination signals. When the root was
// spawned, the terminal already delivers SIGINT to it, so SIGINT is left
// for the traced command to act on and tracing ends when it exits.
func signalContext(parent context.Context, spawned bool) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case sig := <-sigCh:
				if sig == syscall.SIGINT && spawned {
					log.Debug("SIGINT left to the traced command")
					continue
				}
				log.Info("received signal, stopping", "signal", sig.String())
				cancel()
				return
			}
		}
	}()

	return ctx, func() {
		signal.Stop(sigCh)
		cancel()
	}
}
