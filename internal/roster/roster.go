// Package roster manages the set of known students.
package roster

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	ErrNotFound        = errors.New("student not found")
	ErrDuplicateNumber = errors.New("student number already registered")
)

// Student is a roster entry. StudentNumber is the school-issued number and
// travels as "student_id" on the wire; ID is the internal identity the QR
// payload refers to.
type Student struct {
	ID            string    `json:"id"`
	StudentNumber string    `json:"student_id"`
	Name          string    `json:"name"`
	Class         string    `json:"class"`
	QRCode        string    `json:"qr_code"`
	Email         *string   `json:"email,omitempty"`
	Phone         *string   `json:"phone,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Filter narrows List results. Search matches name, number or class
// case-insensitively; Class must match exactly.
type Filter struct {
	Search string
	Class  string
}

func (f Filter) match(s Student) bool {
	if f.Class != "" && s.Class != f.Class {
		return false
	}
	if f.Search == "" {
		return true
	}
	q := strings.ToLower(f.Search)
	return strings.Contains(strings.ToLower(s.Name), q) ||
		strings.Contains(strings.ToLower(s.StudentNumber), q) ||
		strings.Contains(strings.ToLower(s.Class), q)
}

// Reader is the read contract the attendance core depends on.
type Reader interface {
	GetByID(ctx context.Context, id string) (*Student, error)
}

// Repository persists students. GetByID returns (nil, nil) on a miss.
type Repository interface {
	Reader
	List(ctx context.Context, f Filter) ([]Student, error)
	Create(ctx context.Context, s Student) (Student, error)
	Update(ctx context.Context, s Student) (Student, error)
	Delete(ctx context.Context, id string) error
	Count(ctx context.Context) (int, error)
	Classes(ctx context.Context) ([]string, error)
}
