package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // HISTORY_TZ on hosts without a zone database
)

const (
	SourceFirebase = "firebase"
	SourceLocal    = "local"
)

type Config struct {
	AppEnv   string
	LogLevel slog.Level
	HTTPAddr string

	// StaticDir is the absolute path to the directory served at /static/.
	// Set via STATIC_DIR (relative paths are resolved against the process working directory at startup).
	StaticDir string

	// Source selects where readings come from: the hosted Firebase database
	// or the local SQLite store fed by MQTT.
	Source string

	FirebaseDatabaseURL     string
	FirebaseCredentialsFile string
	FirebaseRefPath         string

	StreamTimeout      time.Duration
	StreamWriteTimeout time.Duration
	HistoryWindow      time.Duration
	// HistoryLocation reads zone-less from/to values and labels the charts.
	HistoryLocation *time.Location

	Driver          string
	DSN             string
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration

	MQTTBroker   string
	MQTTPort     int
	MQTTTopic    string
	MQTTClientID string

	SentryDSN string
}

func LoadFromEnv() (Config, error) {
	appEnv := env("APP_ENV", "dev")
	switch appEnv {
	case "dev", "prod":
	default:
		return Config{}, fmt.Errorf("invalid APP_ENV %q (allowed: dev, prod)", appEnv)
	}

	level, err := parseLogLevel(env("LOG_LEVEL", "info"))
	if err != nil {
		return Config{}, err
	}

	staticDir := env("STATIC_DIR", "static")
	staticDir, err = filepath.Abs(staticDir)
	if err != nil {
		return Config{}, fmt.Errorf("STATIC_DIR %q: %w", staticDir, err)
	}

	src := strings.ToLower(env("SOURCE", SourceFirebase))
	switch src {
	case SourceFirebase, SourceLocal:
	default:
		return Config{}, fmt.Errorf("invalid SOURCE %q (allowed: firebase, local)", src)
	}

	firebaseURL := env("FIREBASE_DATABASE_URL", "")
	if src == SourceFirebase && firebaseURL == "" {
		return Config{}, fmt.Errorf("FIREBASE_DATABASE_URL is required when SOURCE=%s", SourceFirebase)
	}

	streamTimeout, err := positiveDuration("STREAM_TIMEOUT", "5m")
	if err != nil {
		return Config{}, err
	}
	streamWriteTimeout, err := positiveDuration("STREAM_WRITE_TIMEOUT", "10s")
	if err != nil {
		return Config{}, err
	}
	historyWindow, err := positiveDuration("HISTORY_WINDOW", "24h")
	if err != nil {
		return Config{}, err
	}

	historyTZ := env("HISTORY_TZ", "UTC")
	historyLocation, err := time.LoadLocation(historyTZ)
	if err != nil {
		return Config{}, fmt.Errorf("invalid HISTORY_TZ %q: %w", historyTZ, err)
	}

	maxOpenConns, err := integer("DB_MAX_OPEN_CONNS", "1")
	if err != nil {
		return Config{}, err
	}
	maxIdleConns, err := integer("DB_MAX_IDLE_CONNS", "1")
	if err != nil {
		return Config{}, err
	}
	connMaxLifetimeStr := env("DB_CONN_MAX_LIFETIME", "0s")
	connMaxLifetime, err := time.ParseDuration(connMaxLifetimeStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid DB_CONN_MAX_LIFETIME %q: %w", connMaxLifetimeStr, err)
	}

	mqttPort, err := integer("MQTT_PORT", "1883")
	if err != nil {
		return Config{}, err
	}
	if mqttPort <= 0 || mqttPort > 65535 {
		return Config{}, fmt.Errorf("invalid MQTT_PORT %d (must be 1-65535)", mqttPort)
	}

	return Config{
		AppEnv:                  appEnv,
		LogLevel:                level,
		HTTPAddr:                env("HTTP_ADDR", ":8080"),
		StaticDir:               staticDir,
		Source:                  src,
		FirebaseDatabaseURL:     firebaseURL,
		FirebaseCredentialsFile: env("FIREBASE_CREDENTIALS_FILE", ""),
		FirebaseRefPath:         env("FIREBASE_REF_PATH", "/sensors/device1"),
		StreamTimeout:           streamTimeout,
		StreamWriteTimeout:      streamWriteTimeout,
		HistoryWindow:           historyWindow,
		HistoryLocation:         historyLocation,
		Driver:                  env("DB_DRIVER", "sqlite3"),
		DSN:                     env("DB_DSN", ""),
		Path:                    env("SQLITE_PATH", "../dev/sqlite/app.db"),
		MaxOpenConns:            maxOpenConns,
		MaxIdleConns:            maxIdleConns,
		ConnMaxLifetime:         connMaxLifetime,
		MQTTBroker:              env("MQTT_BROKER", "localhost"),
		MQTTPort:                mqttPort,
		MQTTTopic:               env("MQTT_TOPIC", "sensors/device1"),
		MQTTClientID:            env("MQTT_CLIENT_ID", "moist-meat-server"),
		SentryDSN:               env("SENTRY_DSN", ""),
	}, nil
}

// env returns the trimmed value of name, or def when it is unset or blank.
func env(name, def string) string {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	return v
}

func integer(name, def string) (int, error) {
	s := env(name, def)
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, s, err)
	}
	return n, nil
}

func positiveDuration(name, def string) (time.Duration, error) {
	s := env(name, def)
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, s, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s %q: must be positive", name, s)
	}
	return d, nil
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL %q (allowed: debug, info, warn, error)", s)
	}
}
