package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/peter-kozarec/roundtrip/internal/cfg"
	"github.com/peter-kozarec/roundtrip/internal/dbg"
	"github.com/peter-kozarec/roundtrip/pkg/data/db/psql"
	"github.com/peter-kozarec/roundtrip/pkg/data/duckdb"
	"github.com/peter-kozarec/roundtrip/pkg/data/export"
	"github.com/peter-kozarec/roundtrip/pkg/matching"
	"github.com/peter-kozarec/roundtrip/pkg/middleware"
	"github.com/peter-kozarec/roundtrip/pkg/pipeline"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML configuration file")
	flag.Parse()

	config, err := cfg.Load(*configPath)
	if err == nil {
		err = config.Validate()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger := dbg.MustNewLogger(config.Log.Mode)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	logger.Info("roundtrip started", zap.String("version", Version), zap.String("input", config.Input.Path))
	err = run(ctx, logger, config)
	cancel()

	if err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Warn("roundtrip interrupted")
		} else {
			logger.Error("roundtrip failed", zap.Error(err))
		}
		_ = logger.Sync()
		os.Exit(1)
	}

	logger.Info("done")
	_ = logger.Sync()
}

func run(ctx context.Context, logger *zap.Logger, config *cfg.Config) error {
	// Create
	telemetry := middleware.NewTelemetry(logger)
	performance := middleware.NewPerformance(logger, telemetry)

	wrappers := []func(middleware.PartitionHandler) middleware.PartitionHandler{
		telemetry.WithPartition,
		performance.WithPartition,
	}
	if config.Log.Monitor {
		wrappers = append(wrappers, middleware.NewMonitor(logger, MonitorFlags).WithPartition)
	}

	engine := matching.NewEngine(logger,
		matching.WithClosePolicy(config.Matching.ClosePolicy),
		matching.WithPointValues(config.ContractStore()))

	p := pipeline.NewPipeline(logger, engine,
		pipeline.WithWorkers(config.Matching.Workers),
		pipeline.WithStrict(config.Matching.Strict),
		pipeline.WithAccounts(config.Matching.Accounts...),
		pipeline.WithMiddleware(wrappers...))

	var store *duckdb.Store
	if config.DuckDB.DSN != "" {
		store = duckdb.NewStore(logger, config.DuckDB.DSN)
		if err := store.Connect(ctx); err != nil {
			return err
		}
		defer func(store *duckdb.Store) {
			_ = store.Close()
		}(store)
		if err := store.EnsureSchema(ctx); err != nil {
			return err
		}
	}

	// Initialize
	writerOptions := []export.WriterOption{export.WithIndent(config.Output.Indent)}

	var source pipeline.FillSource
	switch config.Input.Format {
	case cfg.FormatDuckDB:
		source = store
	default:
		reader := export.NewReader(logger, config.Input.Path)
		writerOptions = append(writerOptions, export.WithAccountOf(reader))
		source = reader
		if store != nil {
			source = &archivingSource{logger: logger, source: reader, store: store}
		}
	}

	sinks := []pipeline.TradeSink{export.NewWriter(config.OutputPath(), writerOptions...)}
	if config.DuckDB.Store {
		sinks = append(sinks, store)
	}
	if config.PostgresEnabled() {
		pg, err := psql.Connect(ctx, logger, config.Postgres)
		if err != nil {
			return err
		}
		defer func(pg *psql.Store) {
			_ = pg.Close()
		}(pg)
		if err := pg.EnsureSchema(ctx); err != nil {
			return err
		}
		sinks = append(sinks, pg)
	}

	// Execute
	result, err := p.Execute(ctx, source, sinks...)

	telemetry.PrintStatistics()
	performance.PrintStatistics()
	if config.Log.Textfile != "" {
		if err := telemetry.WriteToTextfile(config.Log.Textfile); err != nil {
			logger.Warn("unable to write metrics textfile", zap.String("path", config.Log.Textfile), zap.Error(err))
		}
	}

	if err != nil {
		return err
	}

	result.Summary.Print(logger)
	if err := result.Err(); err != nil {
		logger.Warn("some partitions were not reconstructed", zap.Error(err))
	}
	logger.Info("report written", append(result.Fields(), zap.String("path", config.OutputPath()))...)

	return nil
}
