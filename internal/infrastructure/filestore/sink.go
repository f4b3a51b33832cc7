package filestore

import (
	"context"
	"log/slog"
	"os"

	"fieldsync/internal/bootstrap/logging"
	"fieldsync/internal/errs"
	"fieldsync/internal/ports"
)

// Sink deletes captured media from local storage. Best-effort: missing
// files count as removed, other failures are logged and skipped.
type Sink struct{}

var _ ports.FileSink = Sink{}

func NewSink() Sink { return Sink{} }

func (Sink) DeleteFiles(ctx context.Context, paths []string) int {
	logCtx := logging.WithAttrs(ctx, slog.String("component", "filestore.sink"))

	removed := 0
	for _, path := range paths {
		if path == "" {
			continue
		}
		err := os.Remove(path)
		if err == nil || os.IsNotExist(err) {
			removed++
			continue
		}
		logging.Warn(logCtx, "media file removal failed", slog.String("path", path), slog.Any("err", errs.Loggable(err)))
	}
	return removed
}
