package sync

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	stdsync "sync"
	"time"

	"fieldsync/internal/bootstrap/logging"
	"fieldsync/internal/domain/survey"
	"fieldsync/internal/errs"
	"fieldsync/internal/ports"
)

// Journal keys written after every drain. Best-effort; a failed journal
// write never fails the drain.
const (
	journalKeyLastSyncAt     = "last_sync_at"
	journalKeyLastStopReason = "last_stop_reason"
	journalKeyTotalSucceeded = "total_succeeded"
	journalKeyTotalFailed    = "total_failed"
)

// Config bounds the engine's retry state machine and early-stop policy.
type Config struct {
	MaxRetryCount               int
	ConsecutiveFailureThreshold int
	Backoff                     survey.BackoffSchedule
}

// Engine drains the pending response queue to the remote service, one
// record at a time, oldest first.
//
// At most one drain runs per engine instance: concurrent Sync callers
// attach to the in-flight drain and all receive the identical Result.
type Engine struct {
	repo     ports.ResponseRepository
	uploader ports.Uploader
	sink     ports.FileSink
	clock    ports.Clock
	journal  ports.KV // optional
	cfg      Config

	mu       stdsync.Mutex
	inflight *drainHandle
}

type drainHandle struct {
	done   chan struct{}
	result Result
}

func NewEngine(repo ports.ResponseRepository, uploader ports.Uploader, sink ports.FileSink, clock ports.Clock, journal ports.KV, cfg Config) *Engine {
	return &Engine{
		repo:     repo,
		uploader: uploader,
		sink:     sink,
		clock:    clock,
		journal:  journal,
		cfg:      cfg,
	}
}

// Sync runs one drain, or joins the drain already in flight. Joined
// callers block until it completes and get the same Result.
func (e *Engine) Sync(ctx context.Context) Result {
	e.mu.Lock()
	if h := e.inflight; h != nil {
		e.mu.Unlock()
		// Await outside the gate; the result is published before done closes.
		<-h.done
		return h.result
	}
	h := &drainHandle{done: make(chan struct{})}
	e.inflight = h
	e.mu.Unlock()

	h.result = e.drain(ctx)

	e.mu.Lock()
	e.inflight = nil
	e.mu.Unlock()
	close(h.done)

	return h.result
}

// NextDelay is the advisory backoff before re-attempting a record whose
// retry count is n. The drain itself never sleeps on it.
func (e *Engine) NextDelay(n int) time.Duration {
	return e.cfg.Backoff.Delay(n)
}

func (e *Engine) drain(ctx context.Context) Result {
	logCtx := logging.WithAttrs(ctx, slog.String("component", "sync.engine"))

	pending, err := e.repo.ListPending(ctx)
	if err != nil {
		logging.Error(logCtx, "pending snapshot failed", slog.Any("err", errs.Loggable(err)))
		result := EmptyResult()
		result.Stop = fatalError(survey.NewUnknownError(err))
		e.writeJournal(logCtx, result)
		return result
	}
	if len(pending) == 0 {
		result := EmptyResult()
		e.writeJournal(logCtx, result)
		return result
	}

	logging.Info(logCtx, "drain started", slog.Int("pending", len(pending)))

	result := EmptyResult()
	consecutive := 0

	for i, record := range pending {
		if ctx.Err() != nil {
			result.Stop = cancelled()
			result.Pending = appendIDs(result.Pending, pending[i:])
			break
		}

		uploadErr := e.uploader.Upload(ctx, record)
		attemptAt := e.clock.NowMillis()

		if uploadErr == nil {
			if storeErr := e.repo.MarkSynced(ctx, record.ID); storeErr != nil {
				// The row is still pending on disk; the next drain retries it.
				logging.Error(logCtx, "mark synced failed", slog.String("response_id", record.ID), slog.Any("err", errs.Loggable(storeErr)))
				result.Stop = fatalError(survey.NewUnknownError(storeErr))
				result.Pending = appendIDs(result.Pending, pending[i:])
				break
			}

			result.Succeeded = append(result.Succeeded, record.ID)
			consecutive = 0

			if len(record.MediaPaths) > 0 {
				removed := e.sink.DeleteFiles(ctx, record.MediaPaths)
				if removed < len(record.MediaPaths) {
					logging.Warn(logCtx, "media cleanup incomplete",
						slog.String("response_id", record.ID),
						slog.Int("removed", removed),
						slog.Int("total", len(record.MediaPaths)))
				}
			}
			continue
		}

		if ctx.Err() != nil && (errors.Is(uploadErr, context.Canceled) || errors.Is(uploadErr, context.DeadlineExceeded)) {
			// Interrupted mid-flight: the record keeps its prior status.
			result.Stop = cancelled()
			result.Pending = appendIDs(result.Pending, pending[i:])
			break
		}

		classified := survey.ClassifyUploadError(uploadErr)
		outcome := survey.ApplyFailure(record.RetryCount, classified, e.cfg.MaxRetryCount)

		if storeErr := e.repo.UpdateStatus(ctx, record.ID, outcome.Status, outcome.RetryCount, attemptAt); storeErr != nil {
			logging.Error(logCtx, "status update failed", slog.String("response_id", record.ID), slog.Any("err", errs.Loggable(storeErr)))
			result.Stop = fatalError(survey.NewUnknownError(storeErr))
			result.Pending = appendIDs(result.Pending, pending[i:])
			break
		}

		result.Failed = append(result.Failed, record.ID)
		logging.Warn(logCtx, "upload failed",
			slog.String("response_id", record.ID),
			slog.String("error_kind", classified.Kind.String()),
			slog.String("next_status", string(outcome.Status)),
			slog.Int("retry_count", outcome.RetryCount))

		if classified.IsRetryable() {
			consecutive++
		} else {
			consecutive = 0
		}

		if stop := e.evaluateEarlyStop(classified, consecutive); stop != nil {
			result.Stop = stop
			result.Pending = appendIDs(result.Pending, pending[i+1:])
			break
		}
	}

	e.writeJournal(logCtx, result)

	logging.Info(logCtx, "drain finished",
		slog.Int("succeeded", len(result.Succeeded)),
		slog.Int("failed", len(result.Failed)),
		slog.Int("pending", len(result.Pending)),
		slog.String("stop", stopString(result.Stop)))

	return result
}

// evaluateEarlyStop decides whether to surrender after a failed attempt.
// NoInternet means nothing else can succeed this run; transient transport
// and 5xx errors get threshold consecutive attempts before we concede.
func (e *Engine) evaluateEarlyStop(err *survey.UploadError, consecutive int) *StopReason {
	if err.Kind == survey.KindNoInternet {
		return fatalError(err)
	}
	if !err.IsRetryable() {
		return nil
	}
	if consecutive >= e.cfg.ConsecutiveFailureThreshold {
		return networkDegradation(consecutive)
	}
	return nil
}

func (e *Engine) writeJournal(ctx context.Context, result Result) {
	if e.journal == nil {
		return
	}

	set := func(key, value string) {
		if err := e.journal.Set(ctx, key, value); err != nil {
			logging.Warn(ctx, "journal write failed", slog.String("key", key), slog.Any("err", errs.Loggable(err)))
		}
	}

	set(journalKeyLastSyncAt, strconv.FormatInt(e.clock.NowMillis(), 10))
	set(journalKeyLastStopReason, stopString(result.Stop))
	bumpCounter(ctx, e.journal, journalKeyTotalSucceeded, len(result.Succeeded))
	bumpCounter(ctx, e.journal, journalKeyTotalFailed, len(result.Failed))
}

func bumpCounter(ctx context.Context, journal ports.KV, key string, delta int) {
	if delta == 0 {
		return
	}

	current := int64(0)
	if value, found, err := journal.Get(ctx, key); err == nil && found {
		if parsed, parseErr := strconv.ParseInt(value, 10, 64); parseErr == nil {
			current = parsed
		}
	}
	if err := journal.Set(ctx, key, strconv.FormatInt(current+int64(delta), 10)); err != nil {
		logging.Warn(ctx, "journal counter write failed", slog.String("key", key), slog.Any("err", errs.Loggable(err)))
	}
}

func appendIDs(ids []string, records []survey.Response) []string {
	for _, record := range records {
		ids = append(ids, record.ID)
	}
	return ids
}

func stopString(stop *StopReason) string {
	if stop == nil {
		return "none"
	}
	return stop.Kind.String()
}
