package model

// Response is the sqlite row for one captured survey submission. Media
// paths are kept as a JSON array in a text column; the repository maps
// them to []string.
type Response struct {
	ID             string `gorm:"column:id;primaryKey"`
	FarmerID       string `gorm:"column:farmer_id;type:text;not null"`
	CreatedAt      int64  `gorm:"column:created_at;not null;index:idx_responses_status_created,priority:2"`
	AnswersJSON    string `gorm:"column:answers_json;type:text;not null"`
	Status         string `gorm:"column:status;type:text;not null;index:idx_responses_status_created,priority:1"`
	RetryCount     int    `gorm:"column:retry_count;not null;default:0"`
	LastAttemptAt  *int64 `gorm:"column:last_attempt_at"`
	MediaPathsJSON string `gorm:"column:media_paths_json;type:text;not null;default:'[]'"`
}

func (Response) TableName() string {
	return "responses"
}
