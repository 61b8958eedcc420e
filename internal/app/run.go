package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/juju/clock"

	"github.com/nathancread/Moist-Meat/internal/config"
	"github.com/nathancread/Moist-Meat/internal/db"
	"github.com/nathancread/Moist-Meat/internal/errreport"
	"github.com/nathancread/Moist-Meat/internal/firebase"
	"github.com/nathancread/Moist-Meat/internal/httpapi"
	"github.com/nathancread/Moist-Meat/internal/migrate"
	"github.com/nathancread/Moist-Meat/internal/modules/readings"
	"github.com/nathancread/Moist-Meat/internal/modules/readings/repository"
	"github.com/nathancread/Moist-Meat/internal/modules/readings/service"
	readingsviews "github.com/nathancread/Moist-Meat/internal/modules/readings/views"
	"github.com/nathancread/Moist-Meat/internal/mqtt"
	"github.com/nathancread/Moist-Meat/internal/source"
)

const shutdownTimeout = 10 * time.Second

func Run(ctx context.Context, cfg config.Config, version string, logger *slog.Logger) error {
	logger.Info("config loaded",
		"appEnv", cfg.AppEnv,
		"logLevel", cfg.LogLevel.String(),
		"httpAddr", cfg.HTTPAddr,
		"staticDir", cfg.StaticDir,
		"source", cfg.Source,
		"firebaseRefPath", cfg.FirebaseRefPath,
		"streamTimeout", cfg.StreamTimeout,
		"streamWriteTimeout", cfg.StreamWriteTimeout,
		"historyWindow", cfg.HistoryWindow,
		"historyTZ", cfg.HistoryLocation.String(),
		"sentry", cfg.SentryDSN != "",
	)

	reporter := newReporter(cfg, version, logger)
	defer func() {
		if !reporter.Flush(2 * time.Second) {
			logger.Warn("error reports not flushed before exit")
		}
	}()

	if err := readingsviews.LoadTemplates(); err != nil {
		return fmt.Errorf("load templates: %w", err)
	}

	src, closeSource, err := OpenSource(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeSource()

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	if err := src.Ping(pingCtx); err != nil {
		// Keep serving so /healthz can report the outage.
		logger.Warn("data source not reachable at startup", "error", err)
	} else {
		logger.Info("data source reachable", "source", cfg.Source)
	}
	pingCancel()

	mux := httpapi.NewMux(src, cfg.StaticDir, logger)
	readings.RegisterFeature(mux, src, readings.Options{
		StreamTimeout: cfg.StreamTimeout,
		WriteTimeout:  cfg.StreamWriteTimeout,
		HistoryWindow: cfg.HistoryWindow,
		Location:      cfg.HistoryLocation,
		Clock:         clock.WallClock,
		Reporter:      reporter,
		Logger:        logger,
	})

	srv := httpapi.NewServer(cfg, mux, ctx, logger)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listening", "addr", cfg.HTTPAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Streams watch their request context, which derives from ctx, so they
	// are already closing when Shutdown waits for them.
	logger.Info("http shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	err = <-errCh
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return ctx.Err()
}

// OpenSource builds the configured data source. The returned func releases
// it and is safe to call once the server has stopped.
func OpenSource(ctx context.Context, cfg config.Config, logger *slog.Logger) (source.Source, func(), error) {
	switch cfg.Source {
	case config.SourceFirebase:
		src, err := firebase.New(firebase.Config{
			DatabaseURL:     cfg.FirebaseDatabaseURL,
			CredentialsFile: cfg.FirebaseCredentialsFile,
			RefPath:         cfg.FirebaseRefPath,
		}, firebase.WithLogger(logger))
		if err != nil {
			return nil, nil, err
		}
		return src, func() {}, nil

	case config.SourceLocal:
		return openLocal(ctx, cfg, logger)

	default:
		return nil, nil, fmt.Errorf("unknown source %q", cfg.Source)
	}
}

// openLocal opens the SQLite store and starts MQTT ingest into it.
func openLocal(ctx context.Context, cfg config.Config, logger *slog.Logger) (source.Source, func(), error) {
	dbConn, err := db.Open(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	closeDB := func() {
		if closeErr := db.Close(dbConn); closeErr != nil {
			logger.Error("db close", "error", closeErr)
		}
	}

	if _, err := migrate.Run(ctx, dbConn, logger); err != nil {
		closeDB()
		return nil, nil, err
	}

	repo := repository.NewRepository(dbConn, logger)

	// The handler is set before Connect so records delivered right after
	// CONNACK are stored.
	subscriber := mqtt.NewSubscriber(cfg, logger)
	service.RegisterIngest(subscriber, repo, logger)

	connectCtx, connectCancel := context.WithTimeout(ctx, 5*time.Second)
	err = subscriber.Connect(connectCtx)
	connectCancel()
	if err != nil {
		logger.Warn("mqtt not connected yet, retrying in background", "error", err)
	}

	return repo, func() {
		logger.Info("mqtt disconnecting")
		subscriber.Disconnect()
		closeDB()
	}, nil
}

func newReporter(cfg config.Config, version string, logger *slog.Logger) errreport.Reporter {
	if cfg.SentryDSN == "" {
		return errreport.NewLog(logger)
	}
	r, err := errreport.NewSentry(cfg.SentryDSN, cfg.AppEnv, version)
	if err != nil {
		logger.Warn("sentry disabled", "error", err)
		return errreport.NewLog(logger)
	}
	return r
}
