// Package qrcode parses, builds and renders the JSON payload carried by
// student attendance QR codes.
package qrcode

import (
	"encoding/json"
	"errors"
	"time"
)

// TypeStudentAttendance is the discriminant every attendance code carries.
const TypeStudentAttendance = "student_attendance"

var (
	ErrMalformedPayload = errors.New("invalid QR code format")
	ErrWrongType        = errors.New("invalid QR code type")
	ErrMissingStudentID = errors.New("student ID not found in QR code")
)

// InvalidCodeError is returned by Validate for any rejected payload.
type InvalidCodeError struct {
	Reason error
}

func (e *InvalidCodeError) Error() string { return e.Reason.Error() }

func (e *InvalidCodeError) Unwrap() error { return e.Reason }

// Payload is the wire form embedded in a student's QR code. Everything except
// Type and StudentID is display metadata captured when the code was printed.
type Payload struct {
	Type          string `json:"type"`
	StudentID     string `json:"student_id"`
	StudentNumber string `json:"student_number,omitempty"`
	Name          string `json:"name,omitempty"`
	Class         string `json:"class,omitempty"`
	Timestamp     int64  `json:"timestamp,omitempty"`
}

// Validate decodes a scanned payload and returns the student id it names.
// It never touches storage; the roster lookup decides whether the id is real.
func Validate(payload string) (string, error) {
	var decoded any
	if err := json.Unmarshal([]byte(payload), &decoded); err != nil || decoded == nil {
		return "", &InvalidCodeError{Reason: ErrMalformedPayload}
	}
	// Foreign codes that happen to be valid JSON (numbers, arrays) carry no
	// attendance discriminant.
	fields, ok := decoded.(map[string]any)
	if !ok {
		return "", &InvalidCodeError{Reason: ErrWrongType}
	}
	if typ, _ := fields["type"].(string); typ != TypeStudentAttendance {
		return "", &InvalidCodeError{Reason: ErrWrongType}
	}

	raw, present := fields["student_id"]
	if !present || raw == nil {
		return "", &InvalidCodeError{Reason: ErrMissingStudentID}
	}
	id, ok := raw.(string)
	if !ok {
		return "", &InvalidCodeError{Reason: ErrMalformedPayload}
	}
	if id == "" {
		return "", &InvalidCodeError{Reason: ErrMissingStudentID}
	}
	return id, nil
}

// NewStudentPayload builds the payload printed on a student's code.
func NewStudentPayload(id, number, name, class string, now time.Time) Payload {
	return Payload{
		Type:          TypeStudentAttendance,
		StudentID:     id,
		StudentNumber: number,
		Name:          name,
		Class:         class,
		Timestamp:     now.UnixMilli(),
	}
}

// Encode serialises p as compact JSON.
func Encode(p Payload) (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
