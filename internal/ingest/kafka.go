package ingest

import (
	"context"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"riskpulse/internal/config"
)

// StartKafka consumes JSON signal events from a topic into q until ctx is done.
func StartKafka(ctx context.Context, cfg config.KafkaConfig, sessionID string, q *Queue, logger *slog.Logger) {
	if logger != nil {
		logger.Info("kafka source enabled", "brokers", cfg.Brokers, "topic", cfg.Topic, "group_id", cfg.GroupID)
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	go func() {
		defer reader.Close()
		for {
			m, err := reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if logger != nil {
					logger.Warn("kafka read error", "err", err)
				}
				if !BackoffSleep(ctx, 0) {
					return
				}
				continue
			}
			events, err := ParseSignals(m.Value)
			if err != nil {
				if logger != nil {
					logger.Warn("kafka decode error", "err", err, "offset", m.Offset, "partition", m.Partition)
				}
				continue
			}
			for _, ev := range events {
				accept(ctx, q, ev, sessionID, "kafka", false, logger)
			}
		}
	}()
}
