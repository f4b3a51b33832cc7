package capture

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"fieldsync/internal/bootstrap/logging"
	"fieldsync/internal/domain/survey"
	"fieldsync/internal/errs"
	"fieldsync/internal/ports"
)

var (
	errFarmerIDRequired = errors.New("farmer id is required")
	errAnswersRequired  = errors.New("answers document is required")
)

// Service is the producer side of the response queue: it mints PENDING
// records for the sync engine to drain.
type Service struct {
	repo  ports.ResponseRepository
	uow   ports.UnitOfWork
	clock ports.Clock
}

func NewService(repo ports.ResponseRepository, uow ports.UnitOfWork, clock ports.Clock) *Service {
	return &Service{repo: repo, uow: uow, clock: clock}
}

type SubmitInput struct {
	FarmerID    string
	AnswersJSON string
	MediaPaths  []string
}

// Submit stores one freshly captured response in PENDING.
func (s *Service) Submit(ctx context.Context, input SubmitInput) (survey.Response, error) {
	farmerID := strings.TrimSpace(input.FarmerID)
	if farmerID == "" {
		return survey.Response{}, errFarmerIDRequired
	}
	if strings.TrimSpace(input.AnswersJSON) == "" {
		return survey.Response{}, errAnswersRequired
	}
	if !json.Valid([]byte(input.AnswersJSON)) {
		return survey.Response{}, errors.New("answers document is not valid JSON")
	}

	resp := survey.Response{
		ID:          uuid.NewString(),
		FarmerID:    farmerID,
		CreatedAt:   s.clock.NowMillis(),
		AnswersJSON: input.AnswersJSON,
		Status:      survey.StatusPending,
		MediaPaths:  input.MediaPaths,
	}

	if err := s.repo.InsertOrReplace(ctx, resp); err != nil {
		return survey.Response{}, errs.Wrap(err, "store captured response")
	}
	return resp, nil
}

// spoolEntry is the drop-file format the capture app writes while the
// sync process is not running.
type spoolEntry struct {
	FarmerID   string          `json:"farmer_id"`
	CreatedAt  int64           `json:"created_at"`
	Answers    json.RawMessage `json:"answers"`
	MediaPaths []string        `json:"media_paths"`
}

// ImportSpool ingests every *.json drop file in dir into the store and
// removes the files that made it in. The file stem doubles as the
// response id, so re-importing a file the capture app re-wrote is an
// upsert, not a duplicate.
func (s *Service) ImportSpool(ctx context.Context, dir string) (int, error) {
	logCtx := logging.WithAttrs(ctx, slog.String("component", "capture.spool"), slog.String("dir", dir))

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, errs.Wrapf(err, "read spool directory %q", dir)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	imported := 0
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return imported, errs.Wrap(err, "check context")
		}
		if err := s.importFile(ctx, filepath.Join(dir, name)); err != nil {
			logging.Warn(logCtx, "spool file skipped", slog.String("file", name), slog.Any("err", errs.Loggable(err)))
			continue
		}
		imported++
	}

	if imported > 0 {
		logging.Info(logCtx, "spool import finished", slog.Int("imported", imported))
	}
	return imported, nil
}

func (s *Service) importFile(ctx context.Context, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return errs.Wrap(err, "read spool file")
	}

	var entry spoolEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return errs.Wrap(err, "decode spool file")
	}
	if strings.TrimSpace(entry.FarmerID) == "" {
		return errFarmerIDRequired
	}
	if len(entry.Answers) == 0 {
		return errAnswersRequired
	}

	createdAt := entry.CreatedAt
	if createdAt == 0 {
		createdAt = s.clock.NowMillis()
	}

	resp := survey.Response{
		ID:          strings.TrimSuffix(filepath.Base(path), ".json"),
		FarmerID:    strings.TrimSpace(entry.FarmerID),
		CreatedAt:   createdAt,
		AnswersJSON: string(entry.Answers),
		Status:      survey.StatusPending,
		MediaPaths:  entry.MediaPaths,
	}

	// The row commits before the drop file goes away; a crash in
	// between re-imports the same id as an upsert.
	if err := s.uow.WithTx(ctx, func(txCtx context.Context) error {
		return s.repo.InsertOrReplace(txCtx, resp)
	}); err != nil {
		return errs.Wrap(err, "store spool response")
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errs.Wrap(err, "remove imported spool file")
	}
	return nil
}

// Watch imports the existing spool backlog, then keeps ingesting drop
// files as the capture app writes them. Returns when ctx is cancelled.
func (s *Service) Watch(ctx context.Context, dir string) error {
	logCtx := logging.WithAttrs(ctx, slog.String("component", "capture.watch"), slog.String("dir", dir))

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errs.Wrapf(err, "create spool directory %q", dir)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errs.Wrap(err, "create spool watcher")
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(dir); err != nil {
		return errs.Wrapf(err, "watch spool directory %q", dir)
	}

	if _, err := s.ImportSpool(ctx, dir); err != nil {
		return err
	}

	logging.Info(logCtx, "spool watcher started")

	for {
		select {
		case <-ctx.Done():
			logging.Info(logCtx, "spool watcher stopped")
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if !strings.HasSuffix(event.Name, ".json") {
				continue
			}
			if err := s.importFile(ctx, event.Name); err != nil {
				logging.Warn(logCtx, "spool file skipped", slog.String("file", event.Name), slog.Any("err", errs.Loggable(err)))
			}
		case watchErr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logging.Warn(logCtx, "spool watcher error", slog.Any("err", errs.Loggable(watchErr)))
		}
	}
}
