package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/trafficlite/trafficlite/internal/api"
	"github.com/trafficlite/trafficlite/internal/auth"
	"github.com/trafficlite/trafficlite/internal/channels"
	"github.com/trafficlite/trafficlite/internal/config"
	"github.com/trafficlite/trafficlite/internal/controller"
	"github.com/trafficlite/trafficlite/internal/coordinator"
	"github.com/trafficlite/trafficlite/internal/database"
	"github.com/trafficlite/trafficlite/internal/eventlog"
	"github.com/trafficlite/trafficlite/internal/hub"
	"github.com/trafficlite/trafficlite/internal/light"
	"github.com/trafficlite/trafficlite/internal/sensor"
	"github.com/trafficlite/trafficlite/internal/transport"
)

const shutdownTimeout = 10 * time.Second

func newRunCmd() *cobra.Command {
	var holdOpen bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the controller for the configured number of iterations",
		Long: `Start the telemetry receiver and producer, run the decision loop for
controller.iterations rounds, then stop every worker and print a summary.
With --hold-open the HTTP API keeps serving until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			logger, closer, err := config.InitLogger(cfg.Logging)
			if err != nil {
				return err
			}
			defer closer.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}

			report, err := a.run(ctx, holdOpen)
			if report != nil {
				printReport(cmd.OutOrStdout(), report)
			}
			return err
		},
	}

	cmd.Flags().BoolVar(&holdOpen, "hold-open", false, "Keep the HTTP API running after the run finishes")
	return cmd
}

// app holds every component of one run and the order they stop in
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	events      *channels.EventChannels
	consumers   []channels.Consumer
	hub         *hub.Hub
	writer      *database.BatchWriter
	pool        *pgxpool.Pool
	coordinator *coordinator.Coordinator
	server      *http.Server
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	runID := uuid.New()
	a := &app{cfg: cfg, logger: logger.With("run_id", runID.String())}

	logWriter, err := eventlog.Open(cfg.EventLog.Path)
	if err != nil {
		return nil, err
	}

	a.events = channels.NewEventChannels(channels.EventChannelsConfig{
		TransitionBufferSize: cfg.Channel.TransitionChannelSize,
		SampleBufferSize:     cfg.Channel.SampleChannelSize,
	}, logger)

	ctrl, err := controller.New(controller.Config{
		Policy: controller.Policy{
			GreenThreshold: cfg.Controller.GreenThreshold,
			RedDuration:    cfg.Controller.RedDuration(),
			YellowDuration: cfg.Controller.YellowDuration(),
			GreenDuration:  cfg.Controller.GreenDuration(),
		},
		Iterations: cfg.Controller.Iterations,
	}, samplers(cfg.Sensors), light.Recorders(logWriter, a.events), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create controller: %w", err)
	}

	// Only sensors are bound by max_vehicles; the receiver accepts any
	// non-negative count
	receiver := transport.NewReceiver(transport.ReceiverConfig{
		Address:         cfg.Transport.Address,
		AcceptTimeout:   cfg.Transport.AcceptTimeout(),
		ReadTimeout:     cfg.Transport.ReadTimeout(),
		MaxPayloadBytes: cfg.Transport.MaxPayloadBytes,
	}, transport.NewCodec(transport.Unbounded), ctrl, logger)
	client := transport.NewClient(cfg.Transport.Address,
		transport.NewCodec(cfg.Sensors.MaxVehicles), cfg.Transport.DialTimeout())

	a.hub = hub.New(logger)
	a.consumers = append(a.consumers, a.hub)

	if cfg.Database.Enabled {
		pool, err := database.Connect(ctx, cfg.Database, logger)
		if err != nil {
			return nil, err
		}
		if err := database.RunMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
		a.pool = pool
		a.writer = database.NewBatchWriter(pool, database.BatchWriterConfig{
			RunID:         runID,
			BatchSize:     cfg.Database.BatchSize,
			FlushInterval: cfg.Database.FlushInterval(),
			MaxRequeue:    cfg.Database.MaxRequeue,
		}, logger)
		a.consumers = append(a.consumers, a.writer)
	}

	a.coordinator = coordinator.New(coordinator.Config{
		ProducerInterval: cfg.Sensors.ProducerInterval(),
		RunID:            runID,
		Publisher:        a.events,
	}, ctrl, samplers(cfg.Sensors), client, receiver, logger)

	if cfg.Server.Enabled {
		deps := api.Dependencies{
			Traffic:      ctrl,
			Run:          a.coordinator,
			Hub:          http.HandlerFunc(a.hub.ServeWs),
			EventLogPath: logWriter.Path(),
			Logger:       logger,
		}
		if a.pool != nil {
			deps.DB = a.pool
		}
		if cfg.Server.AuthSecret != "" {
			svc, err := auth.NewService(cfg.Server.AuthSecret, cfg.Server.TokenExpiry())
			if err != nil {
				a.closePool()
				return nil, err
			}
			deps.Auth = svc
		}
		a.server = &http.Server{
			Addr:         cfg.Server.Address(),
			Handler:      api.NewRouter(deps),
			ReadTimeout:  cfg.Server.ReadTimeout(),
			WriteTimeout: cfg.Server.WriteTimeout(),
		}
	}

	return a, nil
}

// samplers builds a fresh sensor fleet; the decision loop and the producer
// each get their own
func samplers(cfg config.SensorsConfig) []controller.Sampler {
	fleet := sensor.Fleet(cfg.Intersections, cfg.MaxVehicles)
	out := make([]controller.Sampler, len(fleet))
	for i, s := range fleet {
		out[i] = s
	}
	return out
}

func (a *app) run(ctx context.Context, holdOpen bool) (*coordinator.Report, error) {
	hubCtx, hubCancel := context.WithCancel(context.Background())
	defer hubCancel()
	go a.hub.Run(hubCtx)

	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		a.events.Dispatch(context.Background(), a.consumers...)
	}()

	writerCtx, writerCancel := context.WithCancel(context.Background())
	defer writerCancel()
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		if a.writer == nil {
			return
		}
		if err := a.writer.Run(writerCtx); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Error("batch writer stopped", "error", err)
		}
	}()

	if a.server != nil {
		go func() {
			a.logger.Info("HTTP server listening", "addr", a.server.Addr)
			if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("HTTP server failed", "error", err)
			}
		}()
	}

	report, runErr := a.coordinator.Run(ctx)

	if holdOpen && a.server != nil && ctx.Err() == nil {
		a.logger.Info("run finished, API stays up until interrupted")
		<-ctx.Done()
	}

	a.shutdown(writerCancel, dispatchDone, writerDone)
	hubCancel()

	return report, runErr
}

// shutdown stops the API first, then drains events into the consumers and
// flushes the batch writer last
func (a *app) shutdown(writerCancel context.CancelFunc, dispatchDone, writerDone <-chan struct{}) {
	if a.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := a.server.Shutdown(ctx); err != nil {
			a.logger.Error("HTTP server forced to shutdown", "error", err)
		}
		cancel()
	}

	a.events.Close()
	<-dispatchDone

	writerCancel()
	<-writerDone

	if a.writer != nil {
		a.logger.Info("batch writer stopped",
			"written", a.writer.Written(),
			"dropped", a.writer.Dropped(),
		)
	}
	if dropped := a.events.Dropped(); dropped > 0 {
		a.logger.Warn("events dropped on full channels", "count", dropped)
	}

	a.closePool()
}

func (a *app) closePool() {
	if a.pool != nil {
		a.pool.Close()
		a.pool = nil
	}
}

func printReport(w io.Writer, r *coordinator.Report) {
	fmt.Fprintf(w, "Run %s\n", r.RunID)
	fmt.Fprintf(w, "Duration: %s  Evaluations: %d  Samples: %d\n", r.Duration, r.Evaluations, len(r.Samples))
	if r.ActorError != "" {
		fmt.Fprintf(w, "Actor error: %s\n", r.ActorError)
	}
	fmt.Fprintln(w)

	ids := make([]string, 0, len(r.States))
	for id := range r.States {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		fmt.Fprintf(w, "  %-20s  %-6s  observations=%d  last_count=%d\n",
			id, r.States[id], r.ObservationCounts[id], r.LastCounts[id])
	}
}
