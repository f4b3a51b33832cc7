package ports

import (
	"context"

	"fieldsync/internal/domain/survey"
)

// Uploader pushes one response to the remote service. A nil return means
// the remote accepted it; a non-nil return is classified through
// survey.ClassifyUploadError before it reaches transition logic. The
// uploader owns transport deadlines and must not mutate the record.
type Uploader interface {
	Upload(ctx context.Context, resp survey.Response) error
}

// FileSink removes captured media files. Deletion is best-effort: the
// returned count is how many paths were actually removed, and per-file
// failures never surface as errors.
type FileSink interface {
	DeleteFiles(ctx context.Context, paths []string) int
}

// Clock supplies attempt timestamps. Monotonic within a process is
// sufficient; wall-clock alignment is not required.
type Clock interface {
	NowMillis() int64
}
