package ingest

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	"riskpulse/internal/config"
)

// StartFileReplay feeds recorded JSONL signal events into q, one line per
// event. The queue applies backpressure so a replay advances at tick pace.
func StartFileReplay(ctx context.Context, cfg config.FileConfig, sessionID string, q *Queue, logger *slog.Logger) {
	if logger != nil {
		logger.Info("file replay source enabled", "path", cfg.Path, "loop", cfg.Loop)
	}
	go func() {
		for {
			if err := replayFile(ctx, cfg.Path, sessionID, q, logger); err != nil && logger != nil {
				logger.Warn("file replay failed", "path", cfg.Path, "err", err)
			}
			if !cfg.Loop {
				return
			}
			if !BackoffSleep(ctx, 500*time.Millisecond) {
				return
			}
		}
	}()
}

func replayFile(ctx context.Context, path, sessionID string, q *Queue, logger *slog.Logger) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return replay(ctx, f, sessionID, q, logger)
}

func replay(ctx context.Context, r io.Reader, sessionID string, q *Queue, logger *slog.Logger) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 2<<20)
	line := 0
	for scanner.Scan() {
		line++
		if ctx.Err() != nil {
			return nil
		}
		data := scanner.Bytes()
		if len(data) == 0 {
			continue
		}
		events, err := ParseSignals(data)
		if err != nil {
			if logger != nil {
				logger.Warn("file replay decode error", "line", line, "err", err)
			}
			continue
		}
		for _, ev := range events {
			accept(ctx, q, ev, sessionID, "file", true, logger)
		}
	}
	return scanner.Err()
}
