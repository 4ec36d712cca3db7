// Package gateway exposes the interview session orchestrator over HTTP: a
// WebSocket session endpoint that carries controls, session events, and
// device directives; a REST endpoint for interview creation; and the health
// and metrics surfaces.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/md0nahue/inkra-sub002/internal/archive"
	"github.com/md0nahue/inkra-sub002/internal/backend"
	"github.com/md0nahue/inkra-sub002/internal/health"
	"github.com/md0nahue/inkra-sub002/internal/interview"
	"github.com/md0nahue/inkra-sub002/internal/observe"
	"github.com/md0nahue/inkra-sub002/internal/session"
)

// writeTimeout bounds every socket write so a stalled device cannot wedge
// event delivery.
const writeTimeout = 10 * time.Second

// ServerConfig holds the gateway's collaborators.
type ServerConfig struct {
	Manager *session.Manager
	Archive archive.Store
	Metrics *observe.Metrics

	// AutoAdvance is the default for sessions that do not state a preference.
	AutoAdvance bool

	// Checkers back the /readyz endpoint.
	Checkers []health.Checker

	// InsecureOriginPatterns relaxes the WebSocket origin check. Development
	// only.
	InsecureOriginPatterns []string
}

// Server is the gateway HTTP handler set.
type Server struct {
	cfg     ServerConfig
	handler http.Handler
}

// NewServer builds the route table and wraps it in the tracing middleware.
func NewServer(cfg ServerConfig) *Server {
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	s := &Server{cfg: cfg}

	mux := http.NewServeMux()
	health.New(cfg.Checkers...).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("POST /v1/interviews", s.handleCreate)
	mux.HandleFunc("GET /v1/interviews/{id}/segments", s.handleSegments)
	mux.HandleFunc("GET /v1/interviews/{id}/outcome", s.handleOutcome)
	mux.HandleFunc("GET /v1/interviews/{id}/session", s.handleSession)

	s.handler = observe.Middleware(cfg.Metrics)(mux)
	return s
}

// Handler returns the fully wrapped gateway handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ── REST endpoints ──────────────────────────────────────────────────────────

// handleCreate creates an interview project. Duplicate requests inside the
// cool-down window are answered with 429 and no side effect.
func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req backend.CreateInterviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	created, ok, err := s.cfg.Manager.Create(r.Context(), req)
	if err != nil {
		slog.Error("gateway: create interview", "err", err)
		writeError(w, http.StatusBadGateway, "interview creation failed")
		return
	}
	if !ok {
		writeError(w, http.StatusTooManyRequests, "duplicate create suppressed")
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// handleSegments lists the archived segments of an interview.
func (s *Server) handleSegments(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	segs, err := s.cfg.Archive.Segments(r.Context(), id)
	if err != nil {
		slog.Error("gateway: list segments", "interview_id", id, "err", err)
		writeError(w, http.StatusInternalServerError, "archive unavailable")
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Segments []archive.Segment `json:"segments"`
	}{Segments: segs})
}

// handleOutcome returns the terminal record of an interview's session.
func (s *Server) handleOutcome(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	out, err := s.cfg.Archive.Outcome(r.Context(), id)
	if errors.Is(err, archive.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no outcome recorded")
		return
	}
	if err != nil {
		slog.Error("gateway: load outcome", "interview_id", id, "err", err)
		writeError(w, http.StatusInternalServerError, "archive unavailable")
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// ── Session socket ──────────────────────────────────────────────────────────

// wsConn serializes writes to one session socket. Session events and device
// directives share the connection, so interleaving must be prevented here.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.Write(ctx, websocket.MessageText, data)
}

func (c *wsConn) sendDirective(msg serverMessage) error {
	return c.writeJSON(msg)
}

// handleSession upgrades to WebSocket and runs one interview session over it.
// The first client message must be a start command; afterwards the loop
// dispatches controls to the machine and device notifications to the ports.
// The session is torn down when the socket closes, whichever side closes it.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	interviewID := r.PathValue("id")

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.cfg.InsecureOriginPatterns,
	})
	if err != nil {
		slog.Warn("gateway: websocket accept", "interview_id", interviewID, "err", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "session closed")

	wc := &wsConn{conn: conn}

	start, err := readMessage(r.Context(), conn)
	if err != nil || start.Type != msgStart {
		slog.Warn("gateway: session must open with a start command",
			"interview_id", interviewID, "err", err)
		conn.Close(websocket.StatusPolicyViolation, "expected start command")
		return
	}

	mode := interview.Mode(start.Mode)
	if !mode.IsValid() {
		conn.Close(websocket.StatusPolicyViolation, "invalid mode")
		return
	}
	autoAdvance := s.cfg.AutoAdvance
	if start.AutoAdvance != nil {
		autoAdvance = *start.AutoAdvance
	}

	ports := newDevicePorts(wc, interviewID)
	machine, err := s.cfg.Manager.Open(r.Context(), session.OpenRequest{
		InterviewID: interviewID,
		Mode:        mode,
		AutoAdvance: autoAdvance,
		Capture:     ports,
		Playback:    ports,
		Notify: func(ev session.Event) {
			if err := wc.writeJSON(eventMessage(ev)); err != nil {
				slog.Debug("gateway: event write failed",
					"interview_id", interviewID, "err", err)
			}
		},
	})
	if err != nil {
		slog.Warn("gateway: open session", "interview_id", interviewID, "err", err)
		conn.Close(websocket.StatusPolicyViolation, "session already open")
		return
	}
	defer s.cfg.Manager.Close(interviewID)

	for {
		msg, err := readMessage(r.Context(), conn)
		if err != nil {
			if websocket.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled) {
				slog.Debug("gateway: session read", "interview_id", interviewID, "err", err)
			}
			return
		}

		switch msg.Type {
		case msgPause:
			machine.Pause()
		case msgResume:
			machine.Resume()
		case msgNext:
			if err := machine.Next(); err != nil {
				slog.Warn("gateway: next", "interview_id", interviewID, "err", err)
			}
		case msgSkip:
			if err := machine.Skip(); err != nil {
				slog.Warn("gateway: skip", "interview_id", interviewID, "err", err)
			}
		case msgRetry:
			machine.Retry()
		case msgEnd:
			machine.End()
			conn.Close(websocket.StatusNormalClosure, "session ended")
			return
		case msgLevel:
			ports.onLevel(msg.Level, time.Duration(msg.ElapsedMS)*time.Millisecond)
		case msgPlaybackFinished:
			ports.onPlaybackFinished(msg.Error)
		case msgMicStatus:
			ports.setMicDenied(msg.Denied)
		case msgSegmentUploaded:
			if msg.QuestionID == "" {
				break
			}
			if nav := machine.Navigator(); nav != nil {
				nav.MarkUploaded(msg.QuestionID)
			}
			if err := s.cfg.Archive.MarkUploaded(r.Context(), interviewID, msg.QuestionID); err != nil {
				slog.Warn("gateway: mark uploaded",
					"interview_id", interviewID, "question_id", msg.QuestionID, "err", err)
			}
		default:
			slog.Debug("gateway: unknown client message",
				"interview_id", interviewID, "type", msg.Type)
		}
	}
}

// readMessage reads and decodes one client message.
func readMessage(ctx context.Context, conn *websocket.Conn) (clientMessage, error) {
	var msg clientMessage
	_, data, err := conn.Read(ctx)
	if err != nil {
		return msg, err
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		return msg, err
	}
	return msg, nil
}

// ── Helpers ─────────────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("gateway: write response", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, struct {
		Error string `json:"error"`
	}{Error: msg})
}
