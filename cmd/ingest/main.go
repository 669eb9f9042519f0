package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/timmy/factcorpus/internal/app"
	"github.com/timmy/factcorpus/internal/config"
	"github.com/timmy/factcorpus/internal/domain"
	"github.com/timmy/factcorpus/internal/logger"
	"github.com/urfave/cli/v2"
)

func main() {
	cliApp := &cli.App{
		Name:  "ingest",
		Usage: "Run and inspect news ingestion for the fact-check corpus",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to config file",
				EnvVars: []string{"CONFIG_PATH"},
			},
		},
		Before: setup,
		After:  teardown,
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Start an ingestion run and enqueue one task per eligible endpoint",
				Action: runCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "endpoint", Aliases: []string{"e"}, Usage: "Restrict the run to one endpoint ID"},
					&cli.StringFlag{Name: "correlation-id", Usage: "Correlation ID recorded on the run"},
				},
			},
			{
				Name:   "local",
				Usage:  "Run one ingestion cycle in this process and wait for it to finish",
				Action: runCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "endpoint", Aliases: []string{"e"}, Usage: "Restrict the run to one endpoint ID"},
					&cli.StringFlag{Name: "correlation-id", Usage: "Correlation ID recorded on the run"},
				},
			},
			{
				Name:   "worker",
				Usage:  "Consume ingestion tasks from Kafka until interrupted",
				Action: workerCommand,
			},
			{
				Name:   "sweep",
				Usage:  "Fail runs that exceeded the run timeout",
				Action: sweepCommand,
			},
			{
				Name:  "endpoint",
				Usage: "Manage source endpoints",
				Subcommands: []*cli.Command{
					{
						Name:   "add",
						Usage:  "Register a source endpoint",
						Action: addEndpointCommand,
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "id", Usage: "Endpoint ID (generated when empty)"},
							&cli.StringFlag{Name: "publisher", Usage: "Publisher ID", Required: true},
							&cli.StringFlag{Name: "name", Usage: "Display name"},
							&cli.StringFlag{Name: "kind", Usage: "RSS or NEWS_API", Value: string(domain.SourceKindRSS)},
							&cli.StringFlag{Name: "url", Usage: "Feed URL for RSS endpoints"},
							&cli.StringFlag{Name: "provider-source", Usage: "Provider source ID for NEWS_API endpoints"},
							&cli.IntFlag{Name: "interval", Usage: "Fetch interval in minutes", Value: 60},
						},
					},
					{
						Name:      "unblock",
						Usage:     "Clear the block state of an endpoint",
						ArgsUsage: "<endpoint-id>",
						Action:    unblockEndpointCommand,
						Flags: []cli.Flag{
							&cli.BoolFlag{Name: "robots", Usage: "Also clear the robots disallowed flag"},
						},
					},
				},
			},
		},
	}

	if err := cliApp.Run(os.Args); err != nil {
		logger.GetDefault().WithError(err).Fatal("Command failed")
	}
}

// setup loads configuration and wires the application once per invocation.
func setup(c *cli.Context) error {
	switch c.Args().First() {
	case "", "help", "h":
		return nil
	}
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if c.Args().First() == "local" {
		cfg.Ingest.Queue = "memory"
	}

	appLogger := logger.New(&logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		ServiceName: cfg.Log.ServiceName + "-ingest",
		Environment: cfg.Log.Environment,
		File:        cfg.Log.File,
		FileOnly:    cfg.Log.FileOnly,
		MaxSizeMB:   cfg.Log.MaxSizeMB,
		MaxBackups:  cfg.Log.MaxBackups,
		MaxAgeDays:  cfg.Log.MaxAgeDays,
		Compress:    cfg.Log.Compress,
	})
	logger.SetDefaultLogger(appLogger)

	application, err := app.New(c.Context, cfg, appLogger)
	if err != nil {
		return err
	}
	c.App.Metadata = map[string]interface{}{"app": application}
	c.Context = appLogger.WithContext(c.Context)
	return nil
}

func teardown(c *cli.Context) error {
	if application, ok := c.App.Metadata["app"].(*app.App); ok {
		if err := application.Close(); err != nil {
			logger.GetDefault().WithError(err).Warn("Failed to release resources")
		}
	}
	return logger.Sync()
}

func fromContext(c *cli.Context) (*app.App, error) {
	if application, ok := c.App.Metadata["app"].(*app.App); ok {
		return application, nil
	}
	return nil, errors.New("application not initialized")
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext(c *cli.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
}

func runCommand(c *cli.Context) error {
	application, err := fromContext(c)
	if err != nil {
		return err
	}
	ctx, cancel := signalContext(c)
	defer cancel()

	result, err := application.Runner.StartRun(ctx, c.String("correlation-id"), c.String("endpoint"))
	if err != nil {
		return err
	}
	application.Logger.WithFields(logger.Fields{
		logger.FieldRunID:  result.RunID,
		"tasks_enqueued":   result.TasksEnqueued,
		logger.FieldStatus: result.Status,
	}).Info("Run started")

	// With the in-process queue the tasks die with this process, so wait for them.
	if application.Memory != nil && result.TasksEnqueued > 0 {
		application.Memory.Wait()
		run, err := application.Store.Runs.GetByID(ctx, result.RunID)
		if err != nil {
			return err
		}
		application.Logger.WithFields(logger.Fields{
			logger.FieldRunID:  run.ID,
			logger.FieldStatus: run.Status,
		}).Info("Run finished")
		fmt.Fprintf(c.App.Writer, "%s %s\n", run.ID, run.Status)
		return nil
	}
	fmt.Fprintf(c.App.Writer, "%s %s\n", result.RunID, result.Status)
	return nil
}

func workerCommand(c *cli.Context) error {
	application, err := fromContext(c)
	if err != nil {
		return err
	}
	if application.Config.Ingest.Queue != "kafka" {
		return errors.New("worker requires ingest.queue=kafka")
	}
	consumer, err := application.NewConsumer()
	if err != nil {
		return err
	}
	ctx, cancel := signalContext(c)
	defer cancel()

	application.Logger.WithField("topic", application.Config.Kafka.Topic).Info("Worker consuming tasks")
	if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	application.Logger.Info("Worker stopped")
	return nil
}

func sweepCommand(c *cli.Context) error {
	application, err := fromContext(c)
	if err != nil {
		return err
	}
	return application.Runner.SweepStale(c.Context)
}

func addEndpointCommand(c *cli.Context) error {
	application, err := fromContext(c)
	if err != nil {
		return err
	}
	endpoint := &domain.SourceEndpoint{
		ID:                   c.String("id"),
		PublisherID:          c.String("publisher"),
		Name:                 c.String("name"),
		Kind:                 domain.SourceKind(c.String("kind")),
		URL:                  c.String("url"),
		ProviderSourceID:     c.String("provider-source"),
		FetchIntervalMinutes: c.Int("interval"),
		Enabled:              true,
	}
	if endpoint.ID == "" {
		endpoint.ID = uuid.NewString()
	}
	switch endpoint.Kind {
	case domain.SourceKindRSS:
		if endpoint.URL == "" {
			return errors.New("--url is required for RSS endpoints")
		}
	case domain.SourceKindNewsAPI:
		if endpoint.ProviderSourceID == "" {
			return errors.New("--provider-source is required for NEWS_API endpoints")
		}
	default:
		return fmt.Errorf("unknown endpoint kind %q", endpoint.Kind)
	}

	if err := application.Store.Endpoints.Create(c.Context, endpoint); err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, endpoint.ID)
	return nil
}

func unblockEndpointCommand(c *cli.Context) error {
	application, err := fromContext(c)
	if err != nil {
		return err
	}
	id := c.Args().First()
	if id == "" {
		return errors.New("endpoint id is required")
	}
	return application.Store.Endpoints.ClearBlock(c.Context, id, c.Bool("robots"))
}
