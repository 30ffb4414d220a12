package events

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/preload-hub/preload-hub/internal/logging"
)

// LogEvents 订阅总线并把事件写入结构化日志，直到 ctx 结束。
func LogEvents(ctx context.Context, bus *Bus, logger *logrus.Logger) {
	ch, cancel := bus.Subscribe(64)
	go func() {
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-ch:
				if !ok {
					return
				}
				fields := logging.BatchFields(evt.BatchID, evt.Finished, evt.Skipped, evt.Total)
				fields["action"] = "preload_" + string(evt.Type)
				if evt.Type == TypeComplete {
					logger.WithFields(fields).Info("preload_batch_complete")
					continue
				}
				logger.WithFields(fields).Debug("preload_progress")
			}
		}
	}()
}
