package roster

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"qrattend/internal/qrcode"
)

// Input is the editable part of a student.
type Input struct {
	StudentNumber string  `json:"student_id" validate:"required,max=64"`
	Name          string  `json:"name" validate:"required,max=200"`
	Class         string  `json:"class" validate:"required,max=64"`
	Email         *string `json:"email,omitempty" validate:"omitempty,email"`
	Phone         *string `json:"phone,omitempty" validate:"omitempty,max=32"`
}

// ValidationError lists the fields that failed validation.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for f, tag := range e.Fields {
		parts = append(parts, f+" "+tag)
	}
	return "invalid student: " + strings.Join(parts, ", ")
}

// Service applies roster rules on top of a Repository.
type Service struct {
	repo     Repository
	validate *validator.Validate
	now      func() time.Time
}

// NewService creates a service backed by a repository.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, validate: validator.New(), now: time.Now}
}

// Repo exposes the underlying repository for read paths.
func (s *Service) Repo() Repository { return s.repo }

func (s *Service) check(in *Input) error {
	in.StudentNumber = strings.TrimSpace(in.StudentNumber)
	in.Name = strings.TrimSpace(in.Name)
	in.Class = strings.TrimSpace(in.Class)
	in.Email = blankToNil(in.Email)
	in.Phone = blankToNil(in.Phone)

	err := s.validate.Struct(in)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	out := &ValidationError{Fields: make(map[string]string, len(verrs))}
	for _, fe := range verrs {
		out.Fields[fe.Field()] = fe.Tag()
	}
	return out
}

func blankToNil(v *string) *string {
	if v == nil {
		return nil
	}
	t := strings.TrimSpace(*v)
	if t == "" {
		return nil
	}
	return &t
}

func (s *Service) payload(id string, in Input) (string, error) {
	code, err := qrcode.Encode(qrcode.NewStudentPayload(id, in.StudentNumber, in.Name, in.Class, s.now()))
	if err != nil {
		return "", fmt.Errorf("encode qr payload: %w", err)
	}
	return code, nil
}

// Create registers a student. The id is assigned before the QR payload is
// built so the printed code resolves to this record.
func (s *Service) Create(ctx context.Context, in Input) (Student, error) {
	if err := s.check(&in); err != nil {
		return Student{}, err
	}
	id := uuid.NewString()
	code, err := s.payload(id, in)
	if err != nil {
		return Student{}, err
	}
	return s.repo.Create(ctx, Student{
		ID:            id,
		StudentNumber: in.StudentNumber,
		Name:          in.Name,
		Class:         in.Class,
		QRCode:        code,
		Email:         in.Email,
		Phone:         in.Phone,
	})
}

// Update replaces the editable fields and refreshes the advisory QR metadata.
func (s *Service) Update(ctx context.Context, id string, in Input) (Student, error) {
	if err := s.check(&in); err != nil {
		return Student{}, err
	}
	current, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return Student{}, err
	}
	if current == nil {
		return Student{}, ErrNotFound
	}
	code, err := s.payload(id, in)
	if err != nil {
		return Student{}, err
	}
	next := *current
	next.StudentNumber = in.StudentNumber
	next.Name = in.Name
	next.Class = in.Class
	next.QRCode = code
	next.Email = in.Email
	next.Phone = in.Phone
	return s.repo.Update(ctx, next)
}

// Get returns a student or ErrNotFound.
func (s *Service) Get(ctx context.Context, id string) (Student, error) {
	st, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return Student{}, err
	}
	if st == nil {
		return Student{}, ErrNotFound
	}
	return *st, nil
}

func (s *Service) List(ctx context.Context, f Filter) ([]Student, error) {
	return s.repo.List(ctx, f)
}

func (s *Service) Delete(ctx context.Context, id string) error {
	return s.repo.Delete(ctx, id)
}

func (s *Service) Classes(ctx context.Context) ([]string, error) {
	return s.repo.Classes(ctx)
}
