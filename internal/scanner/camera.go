package scanner

import (
	"context"
	"errors"
	"time"
)

var (
	ErrCameraUnavailable      = errors.New("camera unavailable")
	ErrCameraPermissionDenied = errors.New("camera permission denied")
	ErrCameraBusy             = errors.New("camera is in use by another scanner")
)

// ScanEvent is one decoded frame. It is consumed once and discarded.
type ScanEvent struct {
	Payload string
	At      time.Time
}

// DecodeSink receives the camera's callbacks. Decode errors (no code in
// frame, unreadable frame) are routine noise; OnFault reports that the
// running capture died.
type DecodeSink interface {
	OnDecode(ev ScanEvent)
	OnDecodeError(err error)
	OnFault(err error)
}

// CameraInfo describes a selectable capture device.
type CameraInfo struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Stream is a running capture acquired from a Camera.
type Stream interface {
	Stop() error
	HasFlash() bool
	ToggleFlash() error
}

// Camera starts capture and frame decoding. Open fails with
// ErrCameraUnavailable or ErrCameraPermissionDenied.
type Camera interface {
	Open(ctx context.Context, sink DecodeSink) (Stream, error)
	ListCameras(ctx context.Context) ([]CameraInfo, error)
}
