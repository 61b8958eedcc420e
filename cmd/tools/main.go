package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/juju/clock"

	"github.com/nathancread/Moist-Meat/internal/config"
	"github.com/nathancread/Moist-Meat/internal/db"
	"github.com/nathancread/Moist-Meat/internal/firebase"
	"github.com/nathancread/Moist-Meat/internal/logging"
	"github.com/nathancread/Moist-Meat/internal/migrate"
	"github.com/nathancread/Moist-Meat/internal/modules/readings/repository"
	"github.com/nathancread/Moist-Meat/internal/modules/readings/service"
)

const usage = `usage: %s <command>
  migrate  apply pending migrations to the local store
  latest   print the newest reading from the configured source
`

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
		os.Exit(1)
	}
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, usage, os.Args[0])
		os.Exit(1)
	}

	cfg, err := config.LoadFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg, "dev", "moist-meat-tools")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1], cfg, logger, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}

func run(ctx context.Context, command string, cfg config.Config, logger *slog.Logger, out io.Writer) error {
	switch command {
	case "migrate":
		conn, err := db.Open(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer closeDB(conn, logger)
		n, err := migrate.Run(ctx, conn, logger)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(out, "%d migrations applied\n", n)
		return err

	case "latest":
		src, release, err := openFetcher(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer release()

		ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		latest, err := service.NewService(src, clock.WallClock, cfg.HistoryWindow, logger).Latest(ctx)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"reading": latest,
			"time":    latest.Time().Format(time.RFC3339),
		})

	default:
		return errors.New("unknown command (want migrate or latest)")
	}
}

// openFetcher opens the configured source for reading only; the local store
// is opened without MQTT ingest.
func openFetcher(ctx context.Context, cfg config.Config, logger *slog.Logger) (service.Fetcher, func(), error) {
	if cfg.Source == config.SourceFirebase {
		src, err := firebase.New(firebase.Config{
			DatabaseURL:     cfg.FirebaseDatabaseURL,
			CredentialsFile: cfg.FirebaseCredentialsFile,
			RefPath:         cfg.FirebaseRefPath,
		}, firebase.WithLogger(logger))
		if err != nil {
			return nil, nil, err
		}
		return src, func() {}, nil
	}

	conn, err := db.Open(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return repository.NewRepository(conn, logger), func() { closeDB(conn, logger) }, nil
}

func closeDB(conn *sql.DB, logger *slog.Logger) {
	if err := db.Close(conn); err != nil {
		logger.Error("db close", "error", err)
	}
}
