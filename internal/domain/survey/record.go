package survey

// Status is the sync lifecycle state of a captured response.
type Status string

const (
	StatusPending         Status = "PENDING"
	StatusSynced          Status = "SYNCED"
	StatusFailedRetryable Status = "FAILED_RETRYABLE"
	StatusFailedPermanent Status = "FAILED_PERMANENT"
)

// IsTerminal reports whether no further transition is allowed out of s.
func IsTerminal(s Status) bool {
	return s == StatusSynced || s == StatusFailedPermanent
}

// Response is one captured survey submission. The engine treats
// AnswersJSON as opaque text and never parses it.
type Response struct {
	ID            string
	FarmerID      string
	CreatedAt     int64 // epoch millis, queue ordering key
	AnswersJSON   string
	Status        Status
	RetryCount    int
	LastAttemptAt *int64
	MediaPaths    []string
}
