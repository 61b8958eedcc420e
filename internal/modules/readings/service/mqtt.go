package service

import (
	"context"
	"log/slog"

	"github.com/nathancread/Moist-Meat/internal/mqtt"
	"github.com/nathancread/Moist-Meat/internal/source"
)

// Inserter stores ingested records.
type Inserter interface {
	Insert(ctx context.Context, rec source.RawRecord) error
}

// RegisterIngest stores every record the subscriber receives.
func RegisterIngest(subscriber mqtt.MQTTSubscriber, store Inserter, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	subscriber.SetMessageHandler(func(ctx context.Context, rec source.RawRecord) error {
		logger.Debug("processing telemetry message",
			"key", rec.Key,
			"timestamp", rec.Fields[source.FieldTimestamp],
		)

		if err := store.Insert(ctx, rec); err != nil {
			logger.Error("failed to insert reading",
				"key", rec.Key,
				"error", err,
			)
			return err
		}
		return nil
	})
}
