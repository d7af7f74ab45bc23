package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"qrattend/internal/appstate"
	"qrattend/internal/scanner"
)

// Scanner page commands.
const (
	CmdStart       = "start"
	CmdStop        = "stop"
	CmdRestart     = "restart"
	CmdToggleFlash = "toggle_flash"
	CmdListCameras = "list_cameras"
)

var errSessionClosed = errors.New("scanner session closed")

// DefaultDeviceID is used when a scanner page does not name its camera.
const DefaultDeviceID = "default"

// ScannerEndpoint serves /ws/scanner: one socket is one scan session whose
// camera lives in the connected page.
type ScannerEndpoint struct {
	manager      *scanner.Manager
	startTimeout time.Duration
	state        *appstate.State
	logger       *slog.Logger

	mu     sync.Mutex
	active map[string]bool
}

// NewScannerEndpoint creates the endpoint. startTimeout bounds how long a
// page may take to confirm its camera started. When state is set, its
// scanner-active flag follows the sessions.
func NewScannerEndpoint(manager *scanner.Manager, startTimeout time.Duration, state *appstate.State, logger *slog.Logger) *ScannerEndpoint {
	if logger == nil {
		logger = slog.Default()
	}
	return &ScannerEndpoint{
		manager:      manager,
		startTimeout: startTimeout,
		state:        state,
		logger:       logger,
		active:       make(map[string]bool),
	}
}

// track records whether session is scanning. It runs under the session's
// controller lock, so it must not call back into the controller.
func (e *ScannerEndpoint) track(sessionID string, s scanner.State) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s == scanner.StateActive || s == scanner.StateCooldown {
		e.active[sessionID] = true
	} else {
		delete(e.active, sessionID)
	}
	if e.state != nil {
		e.state.SetScannerActive(len(e.active) > 0)
	}
}

// ServeWS upgrades the request and runs the session until the page disconnects.
func (e *ScannerEndpoint) ServeWS(w http.ResponseWriter, r *http.Request) {
	deviceID := r.URL.Query().Get("device_id")
	if deviceID == "" {
		deviceID = DefaultDeviceID
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		e.logger.Warn("scanner upgrade", "error", err)
		return
	}

	sessionID := uuid.NewString()
	logger := e.logger.With("session_id", sessionID, "device_id", deviceID)
	client := newClient(conn, logger)
	out := &outbox{client: client, logger: logger, onState: func(s scanner.State) { e.track(sessionID, s) }}
	camera := NewFeedCamera(deviceID, out.push, e.startTimeout)

	ctrl, err := e.manager.Open(sessionID, deviceID, camera, out)
	if err != nil {
		logger.Error("open scan session", "error", err)
		conn.Close()
		return
	}
	logger.Info("scanner connected")

	ctx, cancel := context.WithCancel(context.Background())
	commands := make(chan string, 8)
	go client.writePump()
	go runCommands(ctx, ctrl, commands, out, logger)

	client.readPump(func(data []byte) {
		var msg Inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			logger.Debug("ignoring malformed scanner message", "error", err)
			return
		}
		switch msg.Type {
		case CmdStart, CmdStop, CmdRestart, CmdToggleFlash, CmdListCameras:
			select {
			case commands <- msg.Type:
			default:
				logger.Warn("dropping scanner command: queue full", "command", msg.Type)
			}
		default:
			camera.Deliver(msg)
		}
	}, func() {
		cancel()
		e.manager.Close(sessionID)
		e.track(sessionID, scanner.StateIdle)
		out.close()
		logger.Info("scanner disconnected")
	})
}

// runCommands executes page commands one at a time. It runs apart from the
// read loop because Start waits for a reply that the read loop delivers.
func runCommands(ctx context.Context, ctrl *scanner.Controller, commands <-chan string, out *outbox, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-commands:
			switch cmd {
			case CmdStart:
				if err := ctrl.Start(ctx); err == nil {
					announceCamera(ctrl, out)
				}
			case CmdStop:
				ctrl.Stop()
			case CmdRestart:
				if err := ctrl.Restart(ctx); err != nil {
					logger.Debug("restart", "error", err)
					continue
				}
				announceCamera(ctrl, out)
			case CmdToggleFlash:
				on, err := ctrl.ToggleFlash()
				if err != nil {
					_ = out.push(Frame{Type: FrameError, Payload: map[string]string{"message": "Flash is not available"}})
					continue
				}
				_ = out.push(Frame{Type: FrameFlashState, Payload: map[string]bool{"on": on}})
			case CmdListCameras:
				cams, err := ctrl.ListCameras(ctx)
				if err != nil {
					_ = out.push(Frame{Type: FrameError, Payload: map[string]string{"message": "Could not list cameras"}})
					continue
				}
				_ = out.push(Frame{Type: FrameCameras, Payload: cams})
			}
		}
	}
}

// announceCamera tells the page what the camera it just started can do.
func announceCamera(ctrl *scanner.Controller, out *outbox) {
	_ = out.push(Frame{Type: FrameScannerState, Payload: map[string]any{
		"state":     ctrl.State(),
		"has_flash": ctrl.HasFlash(),
	}})
}

// outbox queues frames for one scanner socket. It is the session's
// scanner.Notifier, so pushes never block.
type outbox struct {
	client  *Client
	logger  *slog.Logger
	onState func(scanner.State)

	mu     sync.Mutex
	closed bool
}

func (o *outbox) push(f Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return errSessionClosed
	}
	select {
	case o.client.send <- data:
	default:
		o.logger.Warn("dropping scanner frame: slow client", "type", f.Type)
	}
	return nil
}

func (o *outbox) close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.closed {
		o.closed = true
		close(o.client.send)
	}
}

func (o *outbox) Notify(res scanner.Outcome) {
	_ = o.push(Frame{Type: FrameScanResult, Payload: res})
}

func (o *outbox) StateChanged(s scanner.State) {
	if o.onState != nil {
		o.onState(s)
	}
	_ = o.push(Frame{Type: FrameScannerState, Payload: map[string]scanner.State{"state": s}})
}
