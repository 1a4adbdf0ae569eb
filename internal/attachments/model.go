package attachments

import (
	"time"

	"github.com/google/uuid"
)

// Attachment is the metadata row for one uploaded file. Rows are created by
// the upload collaborator; this package only reads and deletes them.
type Attachment struct {
	ID         uuid.UUID `json:"id"`
	UserID     uuid.UUID `json:"user_id"`
	CreatedAt  time.Time `json:"created_at"`
	StorageRef string    `json:"storage_ref"`
}

// SweepSummary reports one completed retention sweep.
type SweepSummary struct {
	Scanned  int `json:"scanned"`
	Deleted  int `json:"deleted"`
	Retained int `json:"retained"`
	Failed   int `json:"failed"`
}
