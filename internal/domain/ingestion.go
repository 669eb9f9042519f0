package domain

import "time"

// RunStatus represents the status of an ingestion run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "RUNNING"
	RunStatusCompleted RunStatus = "COMPLETED"
	RunStatusPartial   RunStatus = "PARTIAL"
	RunStatusFailed    RunStatus = "FAILED"
)

// LogStatus represents the status of one task attempt.
// STARTED moves to PROCESSING on claim and then to one of the terminal statuses.
type LogStatus string

const (
	LogStatusStarted    LogStatus = "STARTED"
	LogStatusProcessing LogStatus = "PROCESSING"
	LogStatusSuccess    LogStatus = "SUCCESS"
	LogStatusPartial    LogStatus = "PARTIAL"
	LogStatusFailed     LogStatus = "FAILED"
	LogStatusSkipped    LogStatus = "SKIPPED"
)

// IngestionRun represents one scheduling pass.
type IngestionRun struct {
	ID              string     `gorm:"type:text;primaryKey" json:"id"`
	Status          RunStatus  `gorm:"type:text;not null;index" json:"status"`
	CorrelationID   string     `gorm:"type:text" json:"correlation_id"`
	ScopeEndpointID string     `gorm:"type:text" json:"scope_endpoint_id,omitempty"`
	TasksEnqueued   int        `gorm:"not null;default:0" json:"tasks_enqueued"`
	ErrorDetails    string     `gorm:"type:text" json:"error_details,omitempty"`
	StartedAt       time.Time  `gorm:"not null" json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// TableName returns the database table name for IngestionRun.
func (IngestionRun) TableName() string {
	return "ingestion_runs"
}

// IngestionLog is the persisted record of one task attempt for a (run, endpoint) pair.
type IngestionLog struct {
	ID                string     `gorm:"type:text;primaryKey" json:"id"`
	RunID             string     `gorm:"type:text;not null;uniqueIndex:idx_ingestion_logs_run_endpoint" json:"run_id"`
	SourceEndpointID  string     `gorm:"type:text;not null;uniqueIndex:idx_ingestion_logs_run_endpoint" json:"source_endpoint_id"`
	CorrelationID     string     `gorm:"type:text" json:"correlation_id,omitempty"`
	Status            LogStatus  `gorm:"type:text;not null" json:"status"`
	ArticlesFetched   int        `gorm:"not null;default:0" json:"articles_fetched"`
	ArticlesProcessed int        `gorm:"not null;default:0" json:"articles_processed"`
	ArticlesFailed    int        `gorm:"not null;default:0" json:"articles_failed"`
	ErrorDetails      string     `gorm:"type:text" json:"error_details,omitempty"`
	StartedAt         time.Time  `gorm:"not null" json:"started_at"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
	LeaseOwner        string     `gorm:"type:text" json:"lease_owner,omitempty"`
	LeaseExpiresAt    *time.Time `json:"lease_expires_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// TableName returns the database table name for IngestionLog.
func (IngestionLog) TableName() string {
	return "ingestion_logs"
}

// IsCompleted reports whether the log reached a terminal state.
func (l *IngestionLog) IsCompleted() bool {
	return l.CompletedAt != nil
}

// LogCompletion carries the terminal values written when a task attempt ends.
type LogCompletion struct {
	Status            LogStatus
	ArticlesFetched   int
	ArticlesProcessed int
	ArticlesFailed    int
	ErrorDetails      string
}
