package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"qrattend/internal/scanner"
)

// Messages a scanner page sends about its camera.
const (
	MsgCameraStarted = "camera_started"
	MsgCameraError   = "camera_error"
	MsgCameraFault   = "camera_fault"
	MsgDecode        = "decode"
	MsgDecodeError   = "decode_error"
	MsgCameras       = "cameras"
)

// Commands the server sends to a scanner page's camera.
const (
	CmdCameraOpen  = "camera:open"
	CmdCameraClose = "camera:close"
	CmdCameraFlash = "camera:flash"
	CmdCameraList  = "camera:list"
)

// ReasonPermissionDenied marks a camera_error caused by the user refusing access.
const ReasonPermissionDenied = "permission_denied"

// Inbound is a browser-to-server message on the scanner socket.
type Inbound struct {
	Type     string               `json:"type"`
	Payload  string               `json:"payload,omitempty"`
	Reason   string               `json:"reason,omitempty"`
	Message  string               `json:"message,omitempty"`
	HasFlash bool                 `json:"has_flash,omitempty"`
	Cameras  []scanner.CameraInfo `json:"cameras,omitempty"`
}

// FeedCamera is a scanner.Camera whose frames are captured and decoded in
// the browser. The server asks the page to open the camera and receives
// decode events back over the same socket.
type FeedCamera struct {
	deviceID string
	send     func(Frame) error
	timeout  time.Duration
	now      func() time.Time

	mu       sync.Mutex
	sink     scanner.DecodeSink
	stream   *feedStream
	starting chan Inbound
	listing  chan []scanner.CameraInfo
}

// NewFeedCamera creates a camera that issues commands through send. Open
// fails with ErrCameraUnavailable when the page has not confirmed the camera
// within timeout.
func NewFeedCamera(deviceID string, send func(Frame) error, timeout time.Duration) *FeedCamera {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &FeedCamera{deviceID: deviceID, send: send, timeout: timeout, now: time.Now}
}

func (f *FeedCamera) Open(ctx context.Context, sink scanner.DecodeSink) (scanner.Stream, error) {
	reply := make(chan Inbound, 1)
	f.mu.Lock()
	f.starting = reply
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		if f.starting == reply {
			f.starting = nil
		}
		f.mu.Unlock()
	}()

	if err := f.send(Frame{Type: CmdCameraOpen, Payload: map[string]string{"device_id": f.deviceID}}); err != nil {
		return nil, fmt.Errorf("%w: %v", scanner.ErrCameraUnavailable, err)
	}

	timer := time.NewTimer(f.timeout)
	defer timer.Stop()
	select {
	case msg := <-reply:
		if msg.Type == MsgCameraError {
			return nil, cameraError(msg)
		}
		st := &feedStream{cam: f, hasFlash: msg.HasFlash}
		f.mu.Lock()
		f.sink, f.stream = sink, st
		f.mu.Unlock()
		return st, nil
	case <-timer.C:
		_ = f.send(Frame{Type: CmdCameraClose})
		return nil, fmt.Errorf("%w: camera did not start within %s", scanner.ErrCameraUnavailable, f.timeout)
	case <-ctx.Done():
		_ = f.send(Frame{Type: CmdCameraClose})
		return nil, ctx.Err()
	}
}

func (f *FeedCamera) ListCameras(ctx context.Context) ([]scanner.CameraInfo, error) {
	reply := make(chan []scanner.CameraInfo, 1)
	f.mu.Lock()
	f.listing = reply
	f.mu.Unlock()

	if err := f.send(Frame{Type: CmdCameraList}); err != nil {
		return nil, err
	}
	timer := time.NewTimer(f.timeout)
	defer timer.Stop()
	select {
	case cams := <-reply:
		return cams, nil
	case <-timer.C:
		return nil, fmt.Errorf("%w: no camera list from page", scanner.ErrCameraUnavailable)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Deliver routes one camera message from the page. It must not be called
// from the goroutine that is blocked in Open.
func (f *FeedCamera) Deliver(msg Inbound) {
	switch msg.Type {
	case MsgCameraStarted, MsgCameraError:
		f.mu.Lock()
		reply := f.starting
		f.starting = nil
		f.mu.Unlock()
		if reply != nil {
			reply <- msg
		}
	case MsgCameras:
		f.mu.Lock()
		reply := f.listing
		f.listing = nil
		f.mu.Unlock()
		if reply != nil {
			reply <- msg.Cameras
		}
	case MsgDecode:
		if sink := f.currentSink(); sink != nil {
			sink.OnDecode(scanner.ScanEvent{Payload: msg.Payload, At: f.now()})
		}
	case MsgDecodeError:
		if sink := f.currentSink(); sink != nil {
			sink.OnDecodeError(errors.New(msg.Message))
		}
	case MsgCameraFault:
		if sink := f.currentSink(); sink != nil {
			sink.OnFault(cameraError(msg))
		}
	}
}

func (f *FeedCamera) currentSink() scanner.DecodeSink {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sink
}

func cameraError(msg Inbound) error {
	base := scanner.ErrCameraUnavailable
	if msg.Reason == ReasonPermissionDenied {
		base = scanner.ErrCameraPermissionDenied
	}
	if msg.Message == "" {
		return base
	}
	return fmt.Errorf("%w: %s", base, msg.Message)
}

type feedStream struct {
	cam      *FeedCamera
	hasFlash bool
}

func (s *feedStream) Stop() error {
	f := s.cam
	f.mu.Lock()
	if f.stream == s {
		f.stream, f.sink = nil, nil
	}
	f.mu.Unlock()
	return f.send(Frame{Type: CmdCameraClose})
}

func (s *feedStream) HasFlash() bool { return s.hasFlash }

func (s *feedStream) ToggleFlash() error {
	return s.cam.send(Frame{Type: CmdCameraFlash})
}
