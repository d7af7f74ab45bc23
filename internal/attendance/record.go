package attendance

import (
	"context"
	"time"

	"qrattend/internal/roster"
)

const dateLayout = "2006-01-02"

// Record is the single row kept per student per calendar day. Time holds the
// latest scan that wrote it.
type Record struct {
	ID        string          `json:"id"`
	StudentID string          `json:"student_id"`
	Date      string          `json:"date"`
	Time      string          `json:"time"`
	Status    Status          `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
	Student   *roster.Student `json:"student,omitempty"`
}

// Repository is the attendance persistence boundary. FindByStudentDate
// returns (nil, nil) when no row exists.
type Repository interface {
	FindByStudentDate(ctx context.Context, studentID, date string) (*Record, error)
	Insert(ctx context.Context, rec Record) (Record, error)
	Update(ctx context.Context, id string, status Status, timeOfDay string) (Record, error)
	// ListRange returns rows with from <= date <= to, newest date then newest time first.
	ListRange(ctx context.Context, from, to, studentID string) ([]Record, error)
	CountByStatus(ctx context.Context, date string) (map[Status]int, error)
}

// Upserter is implemented by backends with a native atomic insert-or-update
// keyed on (student_id, date). inserted is false when an existing row changed.
type Upserter interface {
	Upsert(ctx context.Context, rec Record) (out Record, inserted bool, err error)
}

// Clock supplies "now" in the deployment's local zone.
type Clock struct {
	Now      func() time.Time
	Location *time.Location
}

func (c Clock) now() time.Time {
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	loc := c.Location
	if loc == nil {
		loc = time.Local
	}
	return now().In(loc)
}

// Today returns the local calendar date as YYYY-MM-DD.
func (c Clock) Today() string { return c.now().Format(dateLayout) }

// ParseDate checks v is a YYYY-MM-DD calendar date.
func ParseDate(v string) (string, error) {
	t, err := time.Parse(dateLayout, v)
	if err != nil {
		return "", err
	}
	return t.Format(dateLayout), nil
}
