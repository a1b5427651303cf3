package database

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	JobQueued    string = "QUEUED"
	JobRunning   string = "RUNNING"
	JobCompleted string = "COMPLETED"
	JobFailed    string = "FAILED"
)

// SliceJob is the audit record for one slicing run, sync or async. The
// in-memory session table owns in-flight chunk accumulation; this ledger only
// records outcomes and serves the async job status endpoint.
type SliceJob struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	SessionId string `gorm:"index"`

	Status      string `gorm:"size:20;not null"`
	ErrorKind   string `gorm:"size:40"`
	ErrorDetail string

	ModelFilename  string
	OutputFilename string

	Settings datatypes.JSON
	Result   datatypes.JSON

	CreationTime   time.Time
	CompletionTime sql.NullTime
}
