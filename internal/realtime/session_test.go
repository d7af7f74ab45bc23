package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qrattend/internal/appstate"
	"qrattend/internal/attendance"
	"qrattend/internal/roster"
	"qrattend/internal/scanner"
)

type wireFrame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func dial(t *testing.T, srv *httptest.Server, query string) *ws.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + query
	conn, _, err := ws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil discards frames until one of type typ for which match holds.
func readUntil(t *testing.T, conn *ws.Conn, typ string, match func(json.RawMessage) bool) json.RawMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var f wireFrame
		require.NoError(t, conn.ReadJSON(&f), "waiting for %s", typ)
		if f.Type == typ && (match == nil || match(f.Payload)) {
			return f.Payload
		}
	}
}

func stateIs(want scanner.State) func(json.RawMessage) bool {
	return func(raw json.RawMessage) bool {
		var p struct {
			State scanner.State `json:"state"`
		}
		return json.Unmarshal(raw, &p) == nil && p.State == want
	}
}

type scannerFixture struct {
	srv     *httptest.Server
	manager *scanner.Manager
	locker  *scanner.MemoryLocker
	records *attendance.Memory
	state   *appstate.State
}

func newScannerFixture(t *testing.T) *scannerFixture {
	t.Helper()
	students := roster.NewMemory()
	_, err := students.Create(context.Background(), roster.Student{ID: "s1", StudentNumber: "2024001", Name: "Ana", Class: "10A"})
	require.NoError(t, err)

	now := func() time.Time { return time.Date(2026, 10, 19, 8, 15, 0, 0, time.UTC) }
	records := attendance.NewMemory()
	ledger := attendance.NewLedger(records, students, attendance.WithClock(attendance.Clock{Now: now, Location: time.UTC}))
	locker := scanner.NewMemoryLocker()
	manager := scanner.NewManager(
		scanner.Config{Classifier: attendance.Classifier{Cutoff: attendance.DefaultCutoff}, Location: time.UTC, RestartDelay: time.Millisecond},
		scanner.Deps{Locker: locker, Students: students, Ledger: ledger, Now: now},
	)
	state := appstate.New()
	endpoint := NewScannerEndpoint(manager, time.Second, state, nil)
	srv := httptest.NewServer(http.HandlerFunc(endpoint.ServeWS))
	t.Cleanup(srv.Close)
	return &scannerFixture{srv: srv, manager: manager, locker: locker, records: records, state: state}
}

// startCamera drives a page through start and camera confirmation.
func startCamera(t *testing.T, conn *ws.Conn) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(map[string]string{"type": CmdStart}))
	readUntil(t, conn, CmdCameraOpen, nil)
	require.NoError(t, conn.WriteJSON(Inbound{Type: MsgCameraStarted, HasFlash: true}))
	readUntil(t, conn, FrameScannerState, stateIs(scanner.StateActive))
}

func TestScannerEndpoint_ScanFlow(t *testing.T) {
	fx := newScannerFixture(t)
	conn := dial(t, fx.srv, "?device_id=kiosk-1")
	startCamera(t, conn)

	require.NoError(t, conn.WriteJSON(Inbound{Type: MsgDecode, Payload: `{"type":"student_attendance","student_id":"s1"}`}))
	raw := readUntil(t, conn, FrameScanResult, nil)
	var res struct {
		Kind    scanner.OutcomeKind `json:"kind"`
		Message string              `json:"message"`
	}
	require.NoError(t, json.Unmarshal(raw, &res))
	assert.Equal(t, scanner.OutcomeMarked, res.Kind)
	assert.Equal(t, "Ana - LATE", res.Message)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": CmdToggleFlash}))
	readUntil(t, conn, CmdCameraFlash, nil)
	readUntil(t, conn, FrameFlashState, nil)

	rows, err := fx.records.ListRange(context.Background(), "2026-10-19", "2026-10-19", "")
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestScannerEndpoint_PermissionDenied(t *testing.T) {
	fx := newScannerFixture(t)
	conn := dial(t, fx.srv, "?device_id=kiosk-1")

	require.NoError(t, conn.WriteJSON(map[string]string{"type": CmdStart}))
	readUntil(t, conn, CmdCameraOpen, nil)
	require.NoError(t, conn.WriteJSON(Inbound{Type: MsgCameraError, Reason: ReasonPermissionDenied}))
	readUntil(t, conn, FrameScannerState, stateIs(scanner.StateError))
	raw := readUntil(t, conn, FrameScanResult, nil)
	assert.Contains(t, string(raw), "Camera permission denied")

	// The user may retry once access is granted.
	startCamera(t, conn)
}

func TestScannerEndpoint_DisconnectReleasesCamera(t *testing.T) {
	fx := newScannerFixture(t)
	conn := dial(t, fx.srv, "?device_id=kiosk-1")
	startCamera(t, conn)

	second := dial(t, fx.srv, "?device_id=kiosk-1")
	require.NoError(t, second.WriteJSON(map[string]string{"type": CmdStart}))
	raw := readUntil(t, second, FrameScanResult, nil)
	assert.Contains(t, string(raw), "already in use")

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return len(fx.manager.Sessions()) == 1 }, 2*time.Second, 10*time.Millisecond)

	startCamera(t, second)
}

func TestScannerEndpoint_AnnouncesFlashAndTracksActivity(t *testing.T) {
	fx := newScannerFixture(t)
	conn := dial(t, fx.srv, "?device_id=kiosk-1")
	assert.False(t, fx.state.Snapshot().ScannerActive)

	startCamera(t, conn)
	raw := readUntil(t, conn, FrameScannerState, func(raw json.RawMessage) bool {
		return strings.Contains(string(raw), "has_flash")
	})
	var announced struct {
		State    scanner.State `json:"state"`
		HasFlash bool          `json:"has_flash"`
	}
	require.NoError(t, json.Unmarshal(raw, &announced))
	assert.Equal(t, scanner.StateActive, announced.State)
	assert.True(t, announced.HasFlash)
	assert.True(t, fx.state.Snapshot().ScannerActive)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": CmdStop}))
	readUntil(t, conn, FrameScannerState, stateIs(scanner.StateIdle))
	assert.False(t, fx.state.Snapshot().ScannerActive)

	startCamera(t, conn)
	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return !fx.state.Snapshot().ScannerActive }, 2*time.Second, 10*time.Millisecond)
}
