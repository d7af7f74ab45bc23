package store

import (
	"context"
	"database/sql"
)

const schema = `
CREATE TABLE IF NOT EXISTS students (
	id          TEXT PRIMARY KEY,
	student_id  TEXT NOT NULL,
	name        TEXT NOT NULL,
	class       TEXT NOT NULL,
	qr_code     TEXT NOT NULL,
	email       TEXT,
	phone       TEXT,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	CONSTRAINT students_student_id_key UNIQUE (student_id)
);

CREATE INDEX IF NOT EXISTS idx_students_name  ON students(name);
CREATE INDEX IF NOT EXISTS idx_students_class ON students(class);

CREATE TABLE IF NOT EXISTS attendance (
	id          TEXT PRIMARY KEY,
	student_id  TEXT NOT NULL REFERENCES students(id) ON DELETE CASCADE,
	date        DATE NOT NULL,
	time        TEXT NOT NULL,
	status      TEXT NOT NULL CHECK (status IN ('present', 'late', 'absent')),
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	CONSTRAINT attendance_student_date_key UNIQUE (student_id, date)
);

CREATE INDEX IF NOT EXISTS idx_attendance_date ON attendance(date, time DESC);
`

// Migrate creates the roster and attendance tables when missing.
func Migrate(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, schema)
	return err
}
