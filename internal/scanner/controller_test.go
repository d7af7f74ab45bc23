package scanner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qrattend/internal/attendance"
	"qrattend/internal/qrcode"
	"qrattend/internal/roster"
	"qrattend/internal/store"
)

const anaPayload = `{"type":"student_attendance","student_id":"s1"}`

type fakeStream struct {
	mu      sync.Mutex
	stopped int
	flash   bool
	toggles int
}

func (s *fakeStream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped++
	return nil
}

func (s *fakeStream) HasFlash() bool { return s.flash }

func (s *fakeStream) ToggleFlash() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.toggles++
	return nil
}

type fakeCamera struct {
	mu      sync.Mutex
	sink    DecodeSink
	stream  *fakeStream
	openErr error
	opens   int
}

func (f *fakeCamera) Open(_ context.Context, sink DecodeSink) (Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opens++
	if f.openErr != nil {
		return nil, f.openErr
	}
	f.sink = sink
	f.stream = &fakeStream{flash: true}
	return f.stream, nil
}

func (f *fakeCamera) ListCameras(context.Context) ([]CameraInfo, error) {
	return []CameraInfo{{ID: "back", Label: "Back camera"}}, nil
}

func (f *fakeCamera) decode(payload string) {
	f.mu.Lock()
	sink := f.sink
	f.mu.Unlock()
	sink.OnDecode(ScanEvent{Payload: payload, At: time.Now()})
}

// manualTimers fires cooldown callbacks on demand.
type manualTimers struct {
	mu     sync.Mutex
	timers []*manualTimer
}

type manualTimer struct {
	d       time.Duration
	f       func()
	stopped bool
}

func (t *manualTimer) Stop() bool {
	was := !t.stopped
	t.stopped = true
	return was
}

func (m *manualTimers) AfterFunc(d time.Duration, f func()) Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := &manualTimer{d: d, f: f}
	m.timers = append(m.timers, t)
	return t
}

// fireAll runs every pending timer, including stale ones.
func (m *manualTimers) fireAll() {
	m.mu.Lock()
	timers := m.timers
	m.timers = nil
	m.mu.Unlock()
	for _, t := range timers {
		t.f()
	}
}

type recordingNotifier struct {
	mu       sync.Mutex
	outcomes []Outcome
	states   []State
}

func (r *recordingNotifier) Notify(o Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, o)
}

func (r *recordingNotifier) StateChanged(s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *recordingNotifier) kinds() []OutcomeKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]OutcomeKind, 0, len(r.outcomes))
	for _, o := range r.outcomes {
		out = append(out, o.Kind)
	}
	return out
}

type countingRoster struct {
	roster.Reader
	mu    sync.Mutex
	calls int
	err   error
}

func (c *countingRoster) GetByID(ctx context.Context, id string) (*roster.Student, error) {
	c.mu.Lock()
	c.calls++
	err := c.err
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return c.Reader.GetByID(ctx, id)
}

type harness struct {
	ctrl     *Controller
	camera   *fakeCamera
	timers   *manualTimers
	notifier *recordingNotifier
	roster   *countingRoster
	records  *attendance.Memory
	locker   *MemoryLocker
}

func newHarness(t *testing.T, mutate ...func(*Config)) *harness {
	t.Helper()
	ctx := context.Background()
	students := roster.NewMemory()
	for _, s := range []roster.Student{
		{ID: "s1", StudentNumber: "2024001", Name: "Ana", Class: "10A"},
		{ID: "s2", StudentNumber: "2024002", Name: "Budi", Class: "10A"},
	} {
		_, err := students.Create(ctx, s)
		require.NoError(t, err)
	}
	now := func() time.Time { return time.Date(2026, 10, 19, 7, 45, 0, 0, time.UTC) }
	records := attendance.NewMemory()
	lookup := &countingRoster{Reader: students}
	ledger := attendance.NewLedger(records, students, attendance.WithClock(attendance.Clock{Now: now, Location: time.UTC}))

	h := &harness{
		camera:   &fakeCamera{},
		timers:   &manualTimers{},
		notifier: &recordingNotifier{},
		roster:   lookup,
		records:  records,
		locker:   NewMemoryLocker(),
	}
	cfg := Config{DeviceID: "kiosk-1", Classifier: attendance.Classifier{Cutoff: attendance.DefaultCutoff}, Location: time.UTC, RestartDelay: time.Millisecond}
	for _, m := range mutate {
		m(&cfg)
	}
	h.ctrl = NewController(cfg, Deps{
		Camera:    h.camera,
		Locker:    h.locker,
		Students:  lookup,
		Ledger:    ledger,
		Notifier:  h.notifier,
		Now:       now,
		AfterFunc: h.timers.AfterFunc,
	})
	return h
}

func (h *harness) rows(t *testing.T) []attendance.Record {
	t.Helper()
	rows, err := h.records.ListRange(context.Background(), "2026-10-19", "2026-10-19", "")
	require.NoError(t, err)
	return rows
}

func TestController_StartStop(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.Equal(t, StateIdle, h.ctrl.State())
	require.NoError(t, h.ctrl.Start(ctx))
	assert.Equal(t, StateActive, h.ctrl.State())
	require.NoError(t, h.ctrl.Start(ctx), "second start is a no-op")
	assert.Equal(t, 1, h.camera.opens)

	h.ctrl.Stop()
	h.ctrl.Stop()
	assert.Equal(t, StateIdle, h.ctrl.State())
	assert.Equal(t, 1, h.camera.stream.stopped)

	assert.Equal(t, []State{StateStarting, StateActive, StateStopping, StateIdle}, h.notifier.states)

	// Device lock was released, so another owner can take it.
	release, err := h.locker.Acquire(ctx, "kiosk-1")
	require.NoError(t, err)
	release()
}

func TestController_EndToEndScan(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.ctrl.Start(context.Background()))

	h.camera.decode(anaPayload)
	assert.Equal(t, StateCooldown, h.ctrl.State(), "cooldown starts before the pipeline resolves")
	h.ctrl.Wait()

	rows := h.rows(t)
	require.Len(t, rows, 1)
	assert.Equal(t, "s1", rows[0].StudentID)
	assert.Equal(t, "07:45:00", rows[0].Time)
	assert.Equal(t, attendance.StatusPresent, rows[0].Status)

	require.Equal(t, []OutcomeKind{OutcomeMarked}, h.notifier.kinds())
	assert.Equal(t, "Ana - PRESENT", h.notifier.outcomes[0].Message)

	h.timers.fireAll()
	assert.Equal(t, StateActive, h.ctrl.State())
}

func TestController_DuplicatePayloadSuppressedDuringCooldown(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.ctrl.Start(context.Background()))

	h.camera.decode(anaPayload)
	h.camera.decode(anaPayload) // 500ms later in real life; the window is still open
	h.ctrl.Wait()

	assert.Len(t, h.rows(t), 1)
	assert.Equal(t, []OutcomeKind{OutcomeMarked}, h.notifier.kinds(), "no duplicate notification")
	assert.Equal(t, 1, h.roster.calls)
}

func TestController_SameCodeAcceptedAfterCooldown(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.ctrl.Start(context.Background()))

	h.camera.decode(anaPayload)
	h.ctrl.Wait()
	h.timers.fireAll()
	h.camera.decode(anaPayload)
	h.ctrl.Wait()

	assert.Len(t, h.rows(t), 1, "second scan updates the same row")
	assert.Equal(t, []OutcomeKind{OutcomeMarked, OutcomeMarked}, h.notifier.kinds())
}

func TestController_DifferentCodeAcceptedDuringCooldown(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.ctrl.Start(context.Background()))

	h.camera.decode(anaPayload)
	h.camera.decode(`{"type":"student_attendance","student_id":"s2"}`)
	h.ctrl.Wait()

	assert.Len(t, h.rows(t), 2)
	assert.Equal(t, StateCooldown, h.ctrl.State())

	// The first window's timer is stale; only the latest one ends cooldown.
	h.timers.mu.Lock()
	first := h.timers.timers[0]
	h.timers.mu.Unlock()
	first.f()
	assert.Equal(t, StateCooldown, h.ctrl.State())

	h.timers.fireAll()
	assert.Equal(t, StateActive, h.ctrl.State())
}

func TestController_BlockAllDuringCooldown(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.BlockAllDuringCooldown = true })
	require.NoError(t, h.ctrl.Start(context.Background()))

	h.camera.decode(anaPayload)
	h.camera.decode(`{"type":"student_attendance","student_id":"s2"}`)
	h.ctrl.Wait()

	assert.Len(t, h.rows(t), 1)
}

func TestController_WrongTypeSkipsLookup(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.ctrl.Start(context.Background()))

	h.camera.decode(`{"type":"employee_badge","student_id":"x"}`)
	h.ctrl.Wait()

	require.Equal(t, []OutcomeKind{OutcomeInvalidCode}, h.notifier.kinds())
	assert.ErrorIs(t, h.notifier.outcomes[0].Err, qrcode.ErrWrongType)
	assert.Zero(t, h.roster.calls)
	assert.Empty(t, h.rows(t))
	assert.Equal(t, StateCooldown, h.ctrl.State(), "rejections still take the normal cooldown")
}

func TestController_UnknownStudent(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.ctrl.Start(context.Background()))

	h.camera.decode(`{"type":"student_attendance","student_id":"ghost"}`)
	h.ctrl.Wait()

	require.Equal(t, []OutcomeKind{OutcomeUnknownStudent}, h.notifier.kinds())
	assert.Equal(t, "Student not found", h.notifier.outcomes[0].Message)
	assert.Empty(t, h.rows(t))
}

func TestController_StorageFailureKeepsScanning(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.ctrl.Start(context.Background()))

	h.roster.err = store.Unavailable("get student", errors.New("timeout"))
	h.camera.decode(anaPayload)
	h.ctrl.Wait()
	require.Equal(t, []OutcomeKind{OutcomeStorageFailure}, h.notifier.kinds())
	assert.ErrorIs(t, h.notifier.outcomes[0].Err, store.ErrUnavailable)

	h.timers.fireAll()
	assert.Equal(t, StateActive, h.ctrl.State())

	h.roster.err = nil
	h.camera.decode(anaPayload)
	h.ctrl.Wait()
	assert.Len(t, h.rows(t), 1)
}

func TestController_LateScan(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.Classifier = attendance.Classifier{Cutoff: "07:30:00"} })
	require.NoError(t, h.ctrl.Start(context.Background()))

	h.camera.decode(anaPayload)
	h.ctrl.Wait()
	rows := h.rows(t)
	require.Len(t, rows, 1)
	assert.Equal(t, attendance.StatusLate, rows[0].Status)
}

func TestController_DecodeAfterStopIsDiscarded(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.ctrl.Start(context.Background()))
	h.ctrl.Stop()

	h.camera.decode(anaPayload)
	h.ctrl.Wait()
	assert.Empty(t, h.rows(t))
	assert.Empty(t, h.notifier.kinds())
	assert.Equal(t, StateIdle, h.ctrl.State())

	// A timer from a stopped session must not revive it.
	h.timers.fireAll()
	assert.Equal(t, StateIdle, h.ctrl.State())
}

func TestController_StartFailures(t *testing.T) {
	t.Run("permission denied", func(t *testing.T) {
		h := newHarness(t)
		h.camera.openErr = ErrCameraPermissionDenied

		err := h.ctrl.Start(context.Background())
		assert.ErrorIs(t, err, ErrCameraPermissionDenied)
		assert.Equal(t, StateError, h.ctrl.State())
		require.Equal(t, []OutcomeKind{OutcomeCameraError}, h.notifier.kinds())
		assert.Equal(t, "Camera permission denied", h.notifier.outcomes[0].Message)

		release, err := h.locker.Acquire(context.Background(), "kiosk-1")
		require.NoError(t, err, "lock released after failed start")
		release()

		h.camera.openErr = nil
		require.NoError(t, h.ctrl.Start(context.Background()), "explicit retry")
		assert.Equal(t, StateActive, h.ctrl.State())
	})

	t.Run("unclassified error becomes unavailable", func(t *testing.T) {
		h := newHarness(t)
		h.camera.openErr = errors.New("NotReadableError")
		err := h.ctrl.Start(context.Background())
		assert.ErrorIs(t, err, ErrCameraUnavailable)
	})

	t.Run("device held elsewhere fails fast", func(t *testing.T) {
		h := newHarness(t)
		release, err := h.locker.Acquire(context.Background(), "kiosk-1")
		require.NoError(t, err)
		defer release()

		err = h.ctrl.Start(context.Background())
		assert.ErrorIs(t, err, ErrCameraBusy)
		assert.Equal(t, StateError, h.ctrl.State())
		assert.Zero(t, h.camera.opens)
	})
}

func TestController_FaultMovesToError(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.ctrl.Start(context.Background()))

	h.camera.sink.OnFault(errors.New("track ended"))
	assert.Equal(t, StateError, h.ctrl.State())
	assert.ErrorIs(t, h.ctrl.LastError(), ErrCameraUnavailable)
	assert.Equal(t, 1, h.camera.stream.stopped)

	h.camera.decode(anaPayload)
	h.ctrl.Wait()
	assert.Empty(t, h.rows(t))

	h.ctrl.Stop()
	assert.Equal(t, StateIdle, h.ctrl.State())
}

func TestController_Restart(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.ctrl.Start(ctx))
	first := h.camera.stream

	require.NoError(t, h.ctrl.Restart(ctx))
	assert.Equal(t, StateActive, h.ctrl.State())
	assert.Equal(t, 1, first.stopped)
	assert.Equal(t, 2, h.camera.opens)
}

func TestController_Flash(t *testing.T) {
	h := newHarness(t)
	_, err := h.ctrl.ToggleFlash()
	assert.ErrorIs(t, err, ErrCameraUnavailable)

	require.NoError(t, h.ctrl.Start(context.Background()))
	assert.True(t, h.ctrl.HasFlash())
	on, err := h.ctrl.ToggleFlash()
	require.NoError(t, err)
	assert.True(t, on)
	on, err = h.ctrl.ToggleFlash()
	require.NoError(t, err)
	assert.False(t, on)

	cams, err := h.ctrl.ListCameras(context.Background())
	require.NoError(t, err)
	assert.Len(t, cams, 1)
}
