// Package scanner turns raw camera decode events into attendance writes.
//
// A Controller owns one camera for the life of a scan session. Each accepted
// decode event runs validate, roster lookup, classify and ledger write in the
// background while the controller sits in Cooldown, so one code held in
// front of the lens produces one write instead of one per frame.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"qrattend/internal/attendance"
	"qrattend/internal/metrics"
	"qrattend/internal/qrcode"
	"qrattend/internal/roster"
)

// State of a scan session.
type State string

const (
	StateIdle     State = "idle"
	StateStarting State = "starting"
	StateActive   State = "active"
	StateCooldown State = "cooldown"
	StateStopping State = "stopping"
	StateError    State = "error"
)

const (
	DefaultCooldown     = 2 * time.Second
	DefaultRestartDelay = 500 * time.Millisecond

	pipelineTimeout = 10 * time.Second
)

// OutcomeKind classifies what happened to an accepted scan.
type OutcomeKind string

const (
	OutcomeMarked         OutcomeKind = "marked"
	OutcomeInvalidCode    OutcomeKind = "invalid_code"
	OutcomeUnknownStudent OutcomeKind = "unknown_student"
	OutcomeStorageFailure OutcomeKind = "storage_failure"
	OutcomeCameraError    OutcomeKind = "camera_error"
)

// Outcome is the user-facing result of a scan or a camera failure.
type Outcome struct {
	Kind    OutcomeKind        `json:"kind"`
	Message string             `json:"message"`
	Payload string             `json:"-"`
	Student *roster.Student    `json:"student,omitempty"`
	Record  *attendance.Record `json:"record,omitempty"`
	Err     error              `json:"-"`
	At      time.Time          `json:"at"`
}

// Notifier receives outcomes and state changes. Calls come from background
// goroutines, StateChanged with the controller lock held: implementations
// must not block or call back into the Controller.
type Notifier interface {
	Notify(o Outcome)
	StateChanged(s State)
}

type nopNotifier struct{}

func (nopNotifier) Notify(Outcome)     {}
func (nopNotifier) StateChanged(State) {}

// Marker writes attendance.
type Marker interface {
	MarkAttendance(ctx context.Context, studentID string, status attendance.Status) (attendance.Record, error)
}

// Timer is the part of *time.Timer the controller needs.
type Timer interface {
	Stop() bool
}

// Config tunes one controller.
type Config struct {
	DeviceID     string
	Cooldown     time.Duration
	RestartDelay time.Duration
	// BlockAllDuringCooldown drops every decode event during the window
	// instead of only repeats of the last accepted payload.
	BlockAllDuringCooldown bool
	Classifier             attendance.Classifier
	Location               *time.Location
}

// Deps are the collaborators a controller drives.
type Deps struct {
	Camera   Camera
	Locker   DeviceLocker
	Students roster.Reader
	Ledger   Marker
	Notifier Notifier
	Logger   *slog.Logger

	Validate  func(payload string) (string, error)
	Now       func() time.Time
	AfterFunc func(d time.Duration, f func()) Timer
}

// Controller is the scan session state machine:
// Idle -> Starting -> Active <-> Cooldown -> Stopping -> Idle, with Error
// reachable from Starting and from a running session whose camera faults.
type Controller struct {
	cfg  Config
	deps Deps

	mu          sync.Mutex
	state       State
	gen         uint64 // bumped by every Start/Stop; stale callbacks compare against it
	cooldownGen uint64
	lastPayload string
	timer       Timer
	stream      Stream
	release     func()
	sessionCtx  context.Context
	cancel      context.CancelFunc
	lastErr     error
	flashOn     bool

	inflight sync.WaitGroup
}

// NewController wires a controller. Camera, Locker, Students and Ledger are required.
func NewController(cfg Config, deps Deps) *Controller {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = DefaultRestartDelay
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if deps.Notifier == nil {
		deps.Notifier = nopNotifier{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Validate == nil {
		deps.Validate = qrcode.Validate
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.AfterFunc == nil {
		deps.AfterFunc = func(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }
	}
	deps.Logger = deps.Logger.With("device_id", cfg.DeviceID)
	return &Controller{cfg: cfg, deps: deps, state: StateIdle}
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastError is the failure that put the controller in StateError.
func (c *Controller) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// DeviceID returns the camera device this controller scans with.
func (c *Controller) DeviceID() string { return c.cfg.DeviceID }

func (c *Controller) setState(s State) {
	c.state = s
	c.deps.Notifier.StateChanged(s)
}

// Start acquires the camera and begins accepting decode events. Calling it
// while a session is starting or running is a no-op. On failure the camera
// is released, the controller enters StateError and a camera_error outcome
// is emitted; a later Start retries.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateStarting, StateActive, StateCooldown:
		c.mu.Unlock()
		return nil
	}
	c.gen++
	gen := c.gen
	c.lastErr = nil
	c.setState(StateStarting)
	c.mu.Unlock()

	release, err := c.deps.Locker.Acquire(ctx, c.cfg.DeviceID)
	if err != nil {
		return c.failStart(gen, err)
	}

	stream, err := c.deps.Camera.Open(ctx, &sessionSink{c: c, gen: gen})
	if err != nil {
		release()
		return c.failStart(gen, err)
	}

	c.mu.Lock()
	if c.gen != gen {
		// Stopped while the camera was starting.
		c.mu.Unlock()
		_ = stream.Stop()
		release()
		return nil
	}
	c.stream = stream
	c.release = release
	c.flashOn = false
	c.sessionCtx, c.cancel = context.WithCancel(context.Background())
	c.setState(StateActive)
	c.mu.Unlock()

	metrics.ActiveScanners.Inc()
	c.deps.Logger.Info("scanner started")
	return nil
}

func (c *Controller) failStart(gen uint64, err error) error {
	if !errors.Is(err, ErrCameraBusy) && !errors.Is(err, ErrCameraPermissionDenied) && !errors.Is(err, ErrCameraUnavailable) {
		err = fmt.Errorf("%w: %v", ErrCameraUnavailable, err)
	}
	c.mu.Lock()
	if c.gen == gen {
		c.lastErr = err
		c.setState(StateError)
	}
	c.mu.Unlock()

	c.deps.Logger.Warn("scanner start failed", "error", err)
	c.emit(Outcome{Kind: OutcomeCameraError, Message: cameraMessage(err), Err: err})
	return err
}

func cameraMessage(err error) string {
	switch {
	case errors.Is(err, ErrCameraPermissionDenied):
		return "Camera permission denied"
	case errors.Is(err, ErrCameraBusy):
		return "Camera is already in use by another scanner"
	default:
		return "Failed to start camera"
	}
}

// Stop releases the camera from any state and returns to Idle. Pending
// cooldown timers and in-flight notifications of the old session are
// discarded. Safe to call repeatedly.
func (c *Controller) Stop() {
	c.mu.Lock()
	c.gen++
	gen := c.gen
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	stream, release := c.stream, c.release
	c.stream, c.release = nil, nil
	c.lastPayload = ""
	c.flashOn = false
	wasIdle := c.state == StateIdle
	if !wasIdle {
		c.setState(StateStopping)
	}
	c.mu.Unlock()

	if stream != nil {
		if err := stream.Stop(); err != nil {
			c.deps.Logger.Warn("stop camera stream", "error", err)
		}
		metrics.ActiveScanners.Dec()
	}
	if release != nil {
		release()
	}

	c.mu.Lock()
	if c.gen == gen && !wasIdle {
		c.setState(StateIdle)
	}
	c.mu.Unlock()
	if stream != nil {
		c.deps.Logger.Info("scanner stopped")
	}
}

// Restart stops, waits the restart delay and starts again.
func (c *Controller) Restart(ctx context.Context) error {
	c.Stop()
	select {
	case <-time.After(c.cfg.RestartDelay):
	case <-ctx.Done():
		return ctx.Err()
	}
	return c.Start(ctx)
}

// HasFlash reports whether the running camera has a torch.
func (c *Controller) HasFlash() bool {
	c.mu.Lock()
	stream := c.stream
	c.mu.Unlock()
	return stream != nil && stream.HasFlash()
}

// ToggleFlash flips the torch and returns the new setting.
func (c *Controller) ToggleFlash() (bool, error) {
	c.mu.Lock()
	stream := c.stream
	c.mu.Unlock()
	if stream == nil || !stream.HasFlash() {
		return false, ErrCameraUnavailable
	}
	if err := stream.ToggleFlash(); err != nil {
		return false, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flashOn = !c.flashOn
	return c.flashOn, nil
}

// ListCameras lists capture devices known to the camera backend.
func (c *Controller) ListCameras(ctx context.Context) ([]CameraInfo, error) {
	return c.deps.Camera.ListCameras(ctx)
}

// Wait blocks until every accepted scan has finished processing.
func (c *Controller) Wait() { c.inflight.Wait() }

type sessionSink struct {
	c   *Controller
	gen uint64
}

func (s *sessionSink) OnDecode(ev ScanEvent) { s.c.handleDecode(s.gen, ev) }

func (s *sessionSink) OnDecodeError(err error) {
	s.c.deps.Logger.Debug("decode error", "error", err)
}

func (s *sessionSink) OnFault(err error) { s.c.fault(s.gen, err) }

// fault tears down a running session after the camera died underneath it.
func (c *Controller) fault(gen uint64, err error) {
	if !errors.Is(err, ErrCameraPermissionDenied) && !errors.Is(err, ErrCameraUnavailable) {
		err = fmt.Errorf("%w: %v", ErrCameraUnavailable, err)
	}
	c.mu.Lock()
	if gen != c.gen || (c.state != StateActive && c.state != StateCooldown) {
		c.mu.Unlock()
		return
	}
	c.gen++
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	stream, release := c.stream, c.release
	c.stream, c.release = nil, nil
	c.lastPayload = ""
	c.lastErr = err
	c.setState(StateError)
	c.mu.Unlock()

	if stream != nil {
		_ = stream.Stop()
		metrics.ActiveScanners.Dec()
	}
	if release != nil {
		release()
	}
	c.deps.Logger.Warn("camera fault", "error", err)
	c.emit(Outcome{Kind: OutcomeCameraError, Message: cameraMessage(err), Err: err})
}

// handleDecode applies the suppression gate and, for an accepted event,
// enters Cooldown before the pipeline starts.
func (c *Controller) handleDecode(gen uint64, ev ScanEvent) {
	c.mu.Lock()
	if gen != c.gen || (c.state != StateActive && c.state != StateCooldown) {
		c.mu.Unlock()
		metrics.ScansSuppressed.WithLabelValues("inactive").Inc()
		return
	}
	if c.state == StateCooldown {
		if c.cfg.BlockAllDuringCooldown {
			c.mu.Unlock()
			metrics.ScansSuppressed.WithLabelValues("cooldown").Inc()
			return
		}
		if ev.Payload == c.lastPayload {
			c.mu.Unlock()
			metrics.ScansSuppressed.WithLabelValues("duplicate").Inc()
			return
		}
	}

	c.lastPayload = ev.Payload
	c.cooldownGen++
	cg := c.cooldownGen
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = c.deps.AfterFunc(c.cfg.Cooldown, func() { c.endCooldown(gen, cg) })
	if c.state != StateCooldown {
		c.setState(StateCooldown)
	}
	ctx := c.sessionCtx
	c.inflight.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.inflight.Done()
		// A write already under way is allowed to finish after Stop; only its
		// notification is dropped.
		workCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), pipelineTimeout)
		defer cancel()
		out := c.process(workCtx, ev)
		if ctx.Err() != nil {
			return
		}
		metrics.ScanOutcomes.WithLabelValues(string(out.Kind)).Inc()
		c.emit(out)
	}()
}

func (c *Controller) endCooldown(gen, cooldownGen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || cooldownGen != c.cooldownGen || c.state != StateCooldown {
		return
	}
	c.timer = nil
	c.lastPayload = ""
	c.setState(StateActive)
}

// process runs validate -> lookup -> classify -> write. Every failure is
// converted to an outcome.
func (c *Controller) process(ctx context.Context, ev ScanEvent) Outcome {
	out := Outcome{Payload: ev.Payload}

	studentID, err := c.deps.Validate(ev.Payload)
	if err != nil {
		out.Kind, out.Message, out.Err = OutcomeInvalidCode, invalidMessage(err), err
		return out
	}

	st, err := c.deps.Students.GetByID(ctx, studentID)
	if err != nil {
		c.deps.Logger.Error("roster lookup failed", "student_id", studentID, "error", err)
		out.Kind, out.Message, out.Err = OutcomeStorageFailure, "Failed to process QR code", err
		return out
	}
	if st == nil {
		out.Kind, out.Message = OutcomeUnknownStudent, "Student not found"
		return out
	}
	out.Student = st

	status := c.cfg.Classifier.Classify(c.deps.Now().In(c.cfg.Location))
	rec, err := c.deps.Ledger.MarkAttendance(ctx, st.ID, status)
	if err != nil {
		c.deps.Logger.Error("mark attendance failed", "student_id", st.ID, "error", err)
		out.Kind, out.Message, out.Err = OutcomeStorageFailure, "Failed to save attendance", err
		return out
	}
	out.Kind = OutcomeMarked
	out.Record = &rec
	out.Message = fmt.Sprintf("%s - %s", st.Name, strings.ToUpper(string(rec.Status)))
	return out
}

func invalidMessage(err error) string {
	var invalid *qrcode.InvalidCodeError
	if errors.As(err, &invalid) {
		return invalid.Error()
	}
	return "Invalid QR code"
}

func (c *Controller) emit(o Outcome) {
	if o.At.IsZero() {
		o.At = c.deps.Now()
	}
	c.deps.Notifier.Notify(o)
}
