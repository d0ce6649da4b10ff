package credit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/taosiq/p2pskillx-sub000/internal/domain/store"
)

// EntryType labels a transaction log entry.
type EntryType string

const (
	EntryCourseEnrollment EntryType = "course_enrollment"
	EntryEnrollmentRefund EntryType = "enrollment_refund"
	EntryGrant            EntryType = "grant"
)

// Entry is an append-only transactions/<id> document. Entries are an audit
// trail; no business rule reads them back.
type Entry struct {
	ID              string    `json:"id"`
	UserID          string    `json:"userId"`
	CourseID        string    `json:"courseId,omitempty"`
	CreditsDeducted int       `json:"creditsDeducted"`
	Timestamp       time.Time `json:"timestamp"`
	Type            EntryType `json:"type"`
}

// Record appends e to the transaction log, assigning an id and timestamp
// when missing. A refund or grant is logged with a negative deduction.
func (l *Ledger) Record(ctx context.Context, e Entry) (string, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	doc, err := store.Encode(e)
	if err != nil {
		return "", err
	}
	if err := l.store.Set(ctx, store.Transactions, e.ID, doc); err != nil {
		return "", fmt.Errorf("failed to append transaction %s: %w", e.ID, err)
	}
	return e.ID, nil
}
