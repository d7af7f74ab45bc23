package attendance

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"qrattend/internal/metrics"
	"qrattend/internal/queue"
	"qrattend/internal/roster"
)

var (
	ErrStudentRequired = errors.New("student id required")
	ErrRecordNotFound  = errors.New("attendance record not found")
)

// Publisher receives a message after each ledger write.
type Publisher interface {
	Publish(ctx context.Context, msg queue.Message) error
}

// Ledger is the authoritative per-student, per-day attendance store.
type Ledger struct {
	repo      Repository
	students  roster.Reader
	clock     Clock
	locks     *keyLocks
	publisher Publisher
	logger    *slog.Logger
}

// LedgerOption customises a Ledger.
type LedgerOption func(*Ledger)

// WithClock overrides the wall clock and zone used for "today".
func WithClock(c Clock) LedgerOption { return func(l *Ledger) { l.clock = c } }

// WithPublisher announces writes on a queue.
func WithPublisher(p Publisher) LedgerOption { return func(l *Ledger) { l.publisher = p } }

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) LedgerOption { return func(l *Ledger) { l.logger = logger } }

// NewLedger creates a ledger backed by repo; students is used to join
// identities onto returned records.
func NewLedger(repo Repository, students roster.Reader, opts ...LedgerOption) *Ledger {
	l := &Ledger{repo: repo, students: students, locks: newKeyLocks()}
	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		l.logger = slog.Default()
	}
	return l
}

// Clock returns the ledger's clock.
func (l *Ledger) Clock() Clock { return l.clock }

// MarkAttendance records status for the student on the current local day.
// The first call of the day inserts a row; later calls overwrite status and
// time on that same row. Calls for one (student, day) never interleave.
func (l *Ledger) MarkAttendance(ctx context.Context, studentID string, status Status) (Record, error) {
	if studentID == "" {
		return Record{}, ErrStudentRequired
	}
	if !status.Valid() {
		return Record{}, ErrInvalidStatus
	}
	start := time.Now()
	defer func() { metrics.LedgerWriteSeconds.Observe(time.Since(start).Seconds()) }()

	var (
		rec      Record
		inserted bool
		err      error
	)
	if up, ok := l.repo.(Upserter); ok {
		now := l.clock.now()
		rec, inserted, err = up.Upsert(ctx, Record{
			ID:        uuid.NewString(),
			StudentID: studentID,
			Date:      now.Format(dateLayout),
			Time:      TimeOfDay(now),
			Status:    status,
		})
	} else {
		rec, inserted, err = l.checkThenWrite(ctx, studentID, status)
	}
	if err != nil {
		return Record{}, err
	}

	op := "update"
	if inserted {
		op = "insert"
	}
	metrics.LedgerWrites.WithLabelValues(op).Inc()

	l.join(ctx, &rec)
	l.announce(ctx, rec, inserted)
	return rec, nil
}

// checkThenWrite serialises the lookup and the write per (student, day).
func (l *Ledger) checkThenWrite(ctx context.Context, studentID string, status Status) (Record, bool, error) {
	now := l.clock.now()
	date, tod := now.Format(dateLayout), TimeOfDay(now)
	unlock := l.locks.Lock(studentID + "|" + date)
	defer unlock()

	existing, err := l.repo.FindByStudentDate(ctx, studentID, date)
	if err != nil {
		return Record{}, false, err
	}
	if existing != nil {
		rec, err := l.repo.Update(ctx, existing.ID, status, tod)
		return rec, false, err
	}
	rec, err := l.repo.Insert(ctx, Record{
		ID:        uuid.NewString(),
		StudentID: studentID,
		Date:      date,
		Time:      tod,
		Status:    status,
	})
	return rec, true, err
}

func (l *Ledger) join(ctx context.Context, rec *Record) {
	if rec.Student != nil || l.students == nil {
		return
	}
	st, err := l.students.GetByID(ctx, rec.StudentID)
	if err != nil {
		l.logger.Warn("join student on attendance record", "student_id", rec.StudentID, "error", err)
		return
	}
	rec.Student = st
}

func (l *Ledger) announce(ctx context.Context, rec Record, inserted bool) {
	if l.publisher == nil {
		return
	}
	evt := queue.MarkedEvent{
		RecordID:  rec.ID,
		StudentID: rec.StudentID,
		Date:      rec.Date,
		Time:      rec.Time,
		Status:    string(rec.Status),
		Inserted:  inserted,
	}
	if rec.Student != nil {
		evt.StudentName, evt.Class = rec.Student.Name, rec.Student.Class
	}
	msg, err := queue.NewMarked(evt)
	if err == nil {
		err = l.publisher.Publish(ctx, msg)
	}
	if err != nil {
		l.logger.Warn("publish attendance event", "record_id", rec.ID, "error", err)
	}
}

// Day lists a date's records, latest scan first. Empty date means today.
func (l *Ledger) Day(ctx context.Context, date string) ([]Record, error) {
	if date == "" {
		date = l.clock.Today()
	}
	return l.Range(ctx, date, date, "")
}

// Range lists records between from and to inclusive, optionally for one
// student, newest date then newest time first.
func (l *Ledger) Range(ctx context.Context, from, to, studentID string) ([]Record, error) {
	recs, err := l.repo.ListRange(ctx, from, to, studentID)
	if err != nil {
		return nil, err
	}
	for i := range recs {
		l.join(ctx, &recs[i])
	}
	return recs, nil
}
