package domain

import (
	"time"
)

// EmailStatus enumerates outbound queue states.
type EmailStatus string

const (
	EmailQueued  EmailStatus = "QUEUED"
	EmailSending EmailStatus = "SENDING"
	EmailSent    EmailStatus = "SENT"
	EmailFailed  EmailStatus = "FAILED"
)

// EmailRecord is one queued digest email. Upserts are keyed
// (batch_id, user_id) so a user appears in at most one email per run.
type EmailRecord struct {
	BatchID       string      `json:"batch_id" db:"batch_id"`
	UserID        int64       `json:"user_id" db:"user_id"`
	Email         string      `json:"email" db:"email"`
	Subject       string      `json:"subject" db:"subject"`
	BodyText      string      `json:"body_text" db:"body_text"`
	BodyHTML      string      `json:"body_html" db:"body_html"`
	ScheduledFor  time.Time   `json:"scheduled_for" db:"scheduled_for"`
	Status        EmailStatus `json:"status" db:"status"`
	CorrelationID string      `json:"correlation_id" db:"correlation_id"`
	CreatedAt     time.Time   `json:"created_at" db:"created_at"`
}
