package roster

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"

	"qrattend/internal/store"
)

const studentColumns = `id, student_id, name, class, qr_code, email, phone, created_at, updated_at`

// Postgres persists the roster in the students table.
type Postgres struct {
	db *sql.DB
}

// NewPostgres creates a repo.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanStudent(row scanner) (Student, error) {
	var s Student
	err := row.Scan(&s.ID, &s.StudentNumber, &s.Name, &s.Class, &s.QRCode, &s.Email, &s.Phone, &s.CreatedAt, &s.UpdatedAt)
	return s, err
}

func (r *Postgres) GetByID(ctx context.Context, id string) (*Student, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+studentColumns+` FROM students WHERE id = $1`, id)
	s, err := scanStudent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, store.Unavailable("get student", err)
	}
	return &s, nil
}

func (r *Postgres) List(ctx context.Context, f Filter) ([]Student, error) {
	query := `SELECT ` + studentColumns + ` FROM students`
	var clauses []string
	var args []any
	if f.Class != "" {
		args = append(args, f.Class)
		clauses = append(clauses, "class = $"+strconv.Itoa(len(args)))
	}
	if f.Search != "" {
		args = append(args, "%"+strings.ToLower(f.Search)+"%")
		n := "$" + strconv.Itoa(len(args))
		clauses = append(clauses, "(LOWER(name) LIKE "+n+" OR LOWER(student_id) LIKE "+n+" OR LOWER(class) LIKE "+n+")")
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY name ASC, id ASC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, store.Unavailable("list students", err)
	}
	defer rows.Close()
	var out []Student
	for rows.Next() {
		s, err := scanStudent(rows)
		if err != nil {
			return nil, store.Unavailable("list students", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, store.Unavailable("list students", err)
	}
	return out, nil
}

func (r *Postgres) Create(ctx context.Context, s Student) (Student, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO students (id, student_id, name, class, qr_code, email, phone)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+studentColumns,
		s.ID, s.StudentNumber, s.Name, s.Class, s.QRCode, s.Email, s.Phone)
	created, err := scanStudent(row)
	if err != nil {
		if store.IsUniqueViolation(err, "students_student_id_key") {
			return Student{}, ErrDuplicateNumber
		}
		return Student{}, store.Unavailable("create student", err)
	}
	return created, nil
}

func (r *Postgres) Update(ctx context.Context, s Student) (Student, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE students
		SET student_id = $2, name = $3, class = $4, qr_code = $5, email = $6, phone = $7, updated_at = NOW()
		WHERE id = $1
		RETURNING `+studentColumns,
		s.ID, s.StudentNumber, s.Name, s.Class, s.QRCode, s.Email, s.Phone)
	updated, err := scanStudent(row)
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return Student{}, ErrNotFound
		case store.IsUniqueViolation(err, "students_student_id_key"):
			return Student{}, ErrDuplicateNumber
		}
		return Student{}, store.Unavailable("update student", err)
	}
	return updated, nil
}

func (r *Postgres) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM students WHERE id = $1`, id)
	if err != nil {
		return store.Unavailable("delete student", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Postgres) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM students`).Scan(&n); err != nil {
		return 0, store.Unavailable("count students", err)
	}
	return n, nil
}

func (r *Postgres) Classes(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT class FROM students ORDER BY class`)
	if err != nil {
		return nil, store.Unavailable("list classes", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, store.Unavailable("list classes", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
