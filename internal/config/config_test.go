package config

import (
	"log/slog"
	"strings"
	"testing"
	"time"
)

var allVars = []string{
	"APP_ENV", "LOG_LEVEL", "HTTP_ADDR", "STATIC_DIR", "SOURCE",
	"FIREBASE_DATABASE_URL", "FIREBASE_CREDENTIALS_FILE", "FIREBASE_REF_PATH",
	"STREAM_TIMEOUT", "STREAM_WRITE_TIMEOUT", "HISTORY_WINDOW", "HISTORY_TZ",
	"DB_DRIVER", "DB_DSN", "SQLITE_PATH", "DB_MAX_OPEN_CONNS", "DB_MAX_IDLE_CONNS", "DB_CONN_MAX_LIFETIME",
	"MQTT_BROKER", "MQTT_PORT", "MQTT_TOPIC", "MQTT_CLIENT_ID", "SENTRY_DSN",
}

// clearEnv blanks every variable LoadFromEnv reads, then applies overrides.
func clearEnv(t *testing.T, overrides map[string]string) {
	t.Helper()
	for _, name := range allVars {
		t.Setenv(name, "")
	}
	for k, v := range overrides {
		t.Setenv(k, v)
	}
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	clearEnv(t, map[string]string{"FIREBASE_DATABASE_URL": "https://demo.firebaseio.com"})

	got, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v, want nil", err)
	}

	if got.AppEnv != "dev" {
		t.Errorf("AppEnv = %q, want %q", got.AppEnv, "dev")
	}
	if got.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel = %v, want %v", got.LogLevel, slog.LevelInfo)
	}
	if got.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q, want %q", got.HTTPAddr, ":8080")
	}
	if got.Source != SourceFirebase {
		t.Errorf("Source = %q, want %q", got.Source, SourceFirebase)
	}
	if got.FirebaseRefPath != "/sensors/device1" {
		t.Errorf("FirebaseRefPath = %q", got.FirebaseRefPath)
	}
	if got.StreamTimeout != 5*time.Minute {
		t.Errorf("StreamTimeout = %v, want 5m", got.StreamTimeout)
	}
	if got.StreamWriteTimeout != 10*time.Second {
		t.Errorf("StreamWriteTimeout = %v, want 10s", got.StreamWriteTimeout)
	}
	if got.HistoryWindow != 24*time.Hour {
		t.Errorf("HistoryWindow = %v, want 24h", got.HistoryWindow)
	}
	if got.HistoryLocation != time.UTC {
		t.Errorf("HistoryLocation = %v, want UTC", got.HistoryLocation)
	}
	if got.Driver != "sqlite3" || got.MaxOpenConns != 1 || got.MaxIdleConns != 1 || got.ConnMaxLifetime != 0 {
		t.Errorf("db defaults = %q %d %d %v", got.Driver, got.MaxOpenConns, got.MaxIdleConns, got.ConnMaxLifetime)
	}
	if got.MQTTBroker != "localhost" || got.MQTTPort != 1883 || got.MQTTTopic != "sensors/device1" || got.MQTTClientID != "moist-meat-server" {
		t.Errorf("mqtt defaults = %q %d %q %q", got.MQTTBroker, got.MQTTPort, got.MQTTTopic, got.MQTTClientID)
	}
	if got.SentryDSN != "" {
		t.Errorf("SentryDSN = %q, want empty", got.SentryDSN)
	}
	if !strings.HasSuffix(got.StaticDir, "static") {
		t.Errorf("StaticDir = %q, want absolute .../static", got.StaticDir)
	}
}

func TestLoadFromEnv_AppEnv_Valid(t *testing.T) {
	tests := []struct {
		name   string
		appEnv string
		want   string
	}{
		{name: "dev", appEnv: "dev", want: "dev"},
		{name: "prod", appEnv: "prod", want: "prod"},
		{name: "dev with whitespace", appEnv: "  dev  ", want: "dev"},
		{name: "prod with whitespace", appEnv: "\nprod\t", want: "prod"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t, map[string]string{"APP_ENV": tt.appEnv, "SOURCE": "local"})

			got, err := LoadFromEnv()
			if err != nil {
				t.Fatalf("LoadFromEnv() error = %v, want nil", err)
			}
			if got.AppEnv != tt.want {
				t.Errorf("AppEnv = %q, want %q", got.AppEnv, tt.want)
			}
		})
	}
}

func TestLoadFromEnv_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{name: "app env staging", env: map[string]string{"APP_ENV": "staging"}, wantErr: "APP_ENV"},
		{name: "app env uppercase", env: map[string]string{"APP_ENV": "DEV"}, wantErr: "APP_ENV"},
		{name: "log level", env: map[string]string{"LOG_LEVEL": "loud"}, wantErr: "LOG_LEVEL"},
		{name: "source", env: map[string]string{"SOURCE": "postgres"}, wantErr: "SOURCE"},
		{name: "firebase without url", env: map[string]string{"SOURCE": "firebase"}, wantErr: "FIREBASE_DATABASE_URL"},
		{name: "stream timeout garbage", env: map[string]string{"STREAM_TIMEOUT": "soon"}, wantErr: "STREAM_TIMEOUT"},
		{name: "stream timeout zero", env: map[string]string{"STREAM_TIMEOUT": "0s"}, wantErr: "STREAM_TIMEOUT"},
		{name: "write timeout negative", env: map[string]string{"STREAM_WRITE_TIMEOUT": "-1s"}, wantErr: "STREAM_WRITE_TIMEOUT"},
		{name: "history window", env: map[string]string{"HISTORY_WINDOW": "a day"}, wantErr: "HISTORY_WINDOW"},
		{name: "history tz", env: map[string]string{"HISTORY_TZ": "Mars/Olympus_Mons"}, wantErr: "HISTORY_TZ"},
		{name: "max open conns", env: map[string]string{"DB_MAX_OPEN_CONNS": "many"}, wantErr: "DB_MAX_OPEN_CONNS"},
		{name: "max idle conns", env: map[string]string{"DB_MAX_IDLE_CONNS": "x"}, wantErr: "DB_MAX_IDLE_CONNS"},
		{name: "conn lifetime", env: map[string]string{"DB_CONN_MAX_LIFETIME": "forever"}, wantErr: "DB_CONN_MAX_LIFETIME"},
		{name: "mqtt port text", env: map[string]string{"MQTT_PORT": "mqtt"}, wantErr: "MQTT_PORT"},
		{name: "mqtt port range", env: map[string]string{"MQTT_PORT": "70000"}, wantErr: "MQTT_PORT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			overrides := map[string]string{"SOURCE": "local"}
			for k, v := range tt.env {
				overrides[k] = v
			}
			clearEnv(t, overrides)

			_, err := LoadFromEnv()
			if err == nil {
				t.Fatalf("LoadFromEnv() error = nil, want non-nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want mention of %s", err, tt.wantErr)
			}
		})
	}
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	clearEnv(t, map[string]string{
		"SOURCE":                    " Local ",
		"HTTP_ADDR":                 "  127.0.0.1:9090 ",
		"STREAM_TIMEOUT":            "90s",
		"STREAM_WRITE_TIMEOUT":      "2s",
		"HISTORY_WINDOW":            "6h",
		"HISTORY_TZ":                "America/Chicago",
		"FIREBASE_CREDENTIALS_FILE": "/etc/creds.json",
		"MQTT_PORT":                 "8883",
		"SENTRY_DSN":                "https://key@sentry.example.com/1",
	})

	got, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}
	if got.Source != SourceLocal {
		t.Errorf("Source = %q, want local", got.Source)
	}
	if got.HTTPAddr != "127.0.0.1:9090" {
		t.Errorf("HTTPAddr = %q", got.HTTPAddr)
	}
	if got.StreamTimeout != 90*time.Second || got.StreamWriteTimeout != 2*time.Second || got.HistoryWindow != 6*time.Hour {
		t.Errorf("durations = %v %v %v", got.StreamTimeout, got.StreamWriteTimeout, got.HistoryWindow)
	}
	if got.HistoryLocation.String() != "America/Chicago" {
		t.Errorf("HistoryLocation = %v, want America/Chicago", got.HistoryLocation)
	}
	if got.FirebaseCredentialsFile != "/etc/creds.json" {
		t.Errorf("FirebaseCredentialsFile = %q", got.FirebaseCredentialsFile)
	}
	if got.MQTTPort != 8883 {
		t.Errorf("MQTTPort = %d", got.MQTTPort)
	}
	if got.SentryDSN != "https://key@sentry.example.com/1" {
		t.Errorf("SentryDSN = %q", got.SentryDSN)
	}
}

func TestParseLogLevel_Valid(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want slog.Level
	}{
		{name: "debug", in: "debug", want: slog.LevelDebug},
		{name: "info", in: "info", want: slog.LevelInfo},
		{name: "warn", in: "warn", want: slog.LevelWarn},
		{name: "warning", in: "warning", want: slog.LevelWarn},
		{name: "error", in: "error", want: slog.LevelError},
		{name: "case insensitive", in: "DeBuG", want: slog.LevelDebug},
		{name: "trims whitespace", in: "  warn \n", want: slog.LevelWarn},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseLogLevel(tt.in)
			if err != nil {
				t.Fatalf("parseLogLevel(%q) error = %v, want nil", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("parseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseLogLevel_Invalid(t *testing.T) {
	for _, in := range []string{"", "nope", "warns", "1"} {
		got, err := parseLogLevel(in)
		if err == nil {
			t.Fatalf("parseLogLevel(%q) error = nil, want non-nil", in)
		}
		// For invalid inputs, function returns LevelInfo along with an error.
		if got != slog.LevelInfo {
			t.Errorf("parseLogLevel(%q) = %v, want %v on error", in, got, slog.LevelInfo)
		}
	}
}
