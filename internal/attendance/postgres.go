package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"qrattend/internal/roster"
	"qrattend/internal/store"
)

const recordColumns = `a.id, a.student_id, to_char(a.date, 'YYYY-MM-DD'), a.time, a.status, a.created_at`

// Postgres persists attendance in Postgres. The (student_id, date) unique
// constraint backs Upsert, so concurrent scans collapse into one row.
type Postgres struct {
	db *sql.DB
}

// NewPostgres creates a repo.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var rec Record
	var status string
	if err := row.Scan(&rec.ID, &rec.StudentID, &rec.Date, &rec.Time, &status, &rec.CreatedAt); err != nil {
		return Record{}, err
	}
	rec.Status = Status(status)
	return rec, nil
}

// Upsert inserts or overwrites the day's row in a single statement.
func (r *Postgres) Upsert(ctx context.Context, rec Record) (Record, bool, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO attendance AS a (id, student_id, date, time, status)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (student_id, date) DO UPDATE SET
			status = EXCLUDED.status,
			time = EXCLUDED.time
		RETURNING `+recordColumns+`, (xmax = 0) AS inserted
	`, rec.ID, rec.StudentID, rec.Date, rec.Time, string(rec.Status))

	var out Record
	var status string
	var inserted bool
	if err := row.Scan(&out.ID, &out.StudentID, &out.Date, &out.Time, &status, &out.CreatedAt, &inserted); err != nil {
		return Record{}, false, store.Unavailable("upsert attendance", err)
	}
	out.Status = Status(status)
	return out, inserted, nil
}

func (r *Postgres) FindByStudentDate(ctx context.Context, studentID, date string) (*Record, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM attendance a
		WHERE a.student_id = $1 AND a.date = $2
	`, studentID, date)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, store.Unavailable("find attendance", err)
	}
	return &rec, nil
}

func (r *Postgres) Insert(ctx context.Context, rec Record) (Record, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO attendance AS a (id, student_id, date, time, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+recordColumns,
		rec.ID, rec.StudentID, rec.Date, rec.Time, string(rec.Status))
	out, err := scanRecord(row)
	if err != nil {
		return Record{}, store.Unavailable("insert attendance", err)
	}
	return out, nil
}

func (r *Postgres) Update(ctx context.Context, id string, status Status, timeOfDay string) (Record, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE attendance AS a
		SET status = $2, time = $3
		WHERE a.id = $1
		RETURNING `+recordColumns,
		id, string(status), timeOfDay)
	out, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, ErrRecordNotFound
		}
		return Record{}, store.Unavailable("update attendance", err)
	}
	return out, nil
}

// ListRange joins the student onto every row.
func (r *Postgres) ListRange(ctx context.Context, from, to, studentID string) ([]Record, error) {
	query := `
		SELECT ` + recordColumns + `,
			s.id, s.student_id, s.name, s.class, s.qr_code, s.email, s.phone, s.created_at, s.updated_at
		FROM attendance a
		JOIN students s ON s.id = a.student_id
		WHERE a.date >= $1 AND a.date <= $2`
	args := []any{from, to}
	if studentID != "" {
		args = append(args, studentID)
		query += fmt.Sprintf(" AND a.student_id = $%d", len(args))
	}
	query += " ORDER BY a.date DESC, a.time DESC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, store.Unavailable("list attendance", err)
	}
	defer rows.Close()

	var res []Record
	for rows.Next() {
		var rec Record
		var status string
		var st roster.Student
		if err := rows.Scan(
			&rec.ID, &rec.StudentID, &rec.Date, &rec.Time, &status, &rec.CreatedAt,
			&st.ID, &st.StudentNumber, &st.Name, &st.Class, &st.QRCode, &st.Email, &st.Phone, &st.CreatedAt, &st.UpdatedAt,
		); err != nil {
			return nil, store.Unavailable("list attendance", err)
		}
		rec.Status = Status(status)
		rec.Student = &st
		res = append(res, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, store.Unavailable("list attendance", err)
	}
	return res, nil
}

func (r *Postgres) CountByStatus(ctx context.Context, date string) (map[Status]int, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM attendance WHERE date = $1 GROUP BY status
	`, date)
	if err != nil {
		return nil, store.Unavailable("count attendance", err)
	}
	defer rows.Close()
	counts := make(map[Status]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, store.Unavailable("count attendance", err)
		}
		counts[Status(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, store.Unavailable("count attendance", err)
	}
	return counts, nil
}
