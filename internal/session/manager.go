package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/md0nahue/inkra-sub002/internal/archive"
	"github.com/md0nahue/inkra-sub002/internal/backend"
	"github.com/md0nahue/inkra-sub002/internal/config"
	"github.com/md0nahue/inkra-sub002/internal/interview"
	"github.com/md0nahue/inkra-sub002/internal/observe"
	"github.com/md0nahue/inkra-sub002/internal/silence"
	"github.com/md0nahue/inkra-sub002/pkg/audio"
)

// createKey is the guard key for interview creation; creation is a single
// logical action regardless of topic, matching the double-tap it protects
// against.
const createKey = "create_interview"

// Info holds metadata about an open session.
type Info struct {
	// InterviewID is the backend identifier of the interview.
	InterviewID string

	// Mode is the session's interview mode.
	Mode interview.Mode

	// StartedAt is when the session was opened.
	StartedAt time.Time
}

// OpenRequest describes a session to open. Capture and Playback are the
// connection-scoped port implementations (the gateway's ws-backed ports, or
// mocks in tests).
type OpenRequest struct {
	InterviewID string
	Mode        interview.Mode
	AutoAdvance bool
	Capture     audio.CapturePort
	Playback    audio.PlaybackPort
	Notify      Notifier
}

// BackendClient is the backend surface the manager needs: interview creation
// plus the readiness queries the per-session pollers drive. Satisfied by
// [backend.Client].
type BackendClient interface {
	interview.ReadinessClient
	CreateInterview(ctx context.Context, req backend.CreateInterviewRequest) (backend.Interview, error)
}

// ManagerConfig holds the Manager's shared collaborators.
type ManagerConfig struct {
	Client  BackendClient
	Archive archive.Store
	Metrics *observe.Metrics
	Session config.SessionConfig
}

// Manager owns the set of live session machines, at most one per interview.
// It wires each machine with the shared backend client, archive, and
// instrumentation, and enforces that an interview's ports have a single
// owner. All exported methods are safe for concurrent use.
type Manager struct {
	cfg ManagerConfig

	guard *interview.ActionGuard

	mu       sync.Mutex
	sessions map[string]*Machine
	info     map[string]Info
}

// NewManager creates a Manager.
func NewManager(cfg ManagerConfig) *Manager {
	guardOpts := []interview.GuardOption{}
	if d := cfg.Session.ActionCooldown(); d > 0 {
		guardOpts = append(guardOpts, interview.WithCooldown(d))
	}
	return &Manager{
		cfg:      cfg,
		guard:    interview.NewActionGuard(guardOpts...),
		sessions: make(map[string]*Machine),
		info:     make(map[string]Info),
	}
}

// Create creates a new interview project on the backend. Duplicate creation
// requests within the cool-down window are collapsed: only one backend
// request is issued and later duplicates get a zero Interview with ok=false.
func (m *Manager) Create(ctx context.Context, req backend.CreateInterviewRequest) (backend.Interview, bool, error) {
	var created backend.Interview
	suppressed, err := m.guard.Do(createKey, func() error {
		var err error
		created, err = m.cfg.Client.CreateInterview(ctx, req)
		return err
	})
	if suppressed {
		if m.cfg.Metrics != nil {
			m.cfg.Metrics.RecordSuppression(ctx, createKey)
		}
		return backend.Interview{}, false, nil
	}
	if err != nil {
		return backend.Interview{}, false, fmt.Errorf("manager: create interview: %w", err)
	}
	return created, true, nil
}

// Open builds a Machine for req, starts it, and tracks it. Returns an error
// when a session for the interview is already open — ports are exclusive.
func (m *Manager) Open(ctx context.Context, req OpenRequest) (*Machine, error) {
	m.mu.Lock()
	if _, exists := m.sessions[req.InterviewID]; exists {
		m.mu.Unlock()
		return nil, fmt.Errorf("manager: session for interview %s is already open", req.InterviewID)
	}
	// Reserve the slot before the machine construction work below.
	m.sessions[req.InterviewID] = nil
	m.mu.Unlock()

	machine, err := m.build(req)
	if err != nil {
		m.mu.Lock()
		delete(m.sessions, req.InterviewID)
		m.mu.Unlock()
		return nil, err
	}

	if err := machine.Start(ctx); err != nil {
		m.mu.Lock()
		delete(m.sessions, req.InterviewID)
		m.mu.Unlock()
		return nil, fmt.Errorf("manager: start session: %w", err)
	}

	m.mu.Lock()
	m.sessions[req.InterviewID] = machine
	m.info[req.InterviewID] = Info{
		InterviewID: req.InterviewID,
		Mode:        req.Mode,
		StartedAt:   time.Now().UTC(),
	}
	m.mu.Unlock()

	if m.cfg.Metrics != nil {
		m.cfg.Metrics.ActiveSessions.Add(ctx, 1)
	}
	slog.Info("session opened", "interview_id", req.InterviewID, "mode", string(req.Mode))
	return machine, nil
}

// build wires one machine with the manager's shared collaborators.
func (m *Manager) build(req OpenRequest) (*Machine, error) {
	pollerOpts := []interview.PollerOption{}
	if d := m.cfg.Session.PollInterval(); d > 0 {
		pollerOpts = append(pollerOpts, interview.WithInterval(d))
	}
	if m.cfg.Metrics != nil {
		pollerOpts = append(pollerOpts, interview.WithObserver(&pollRecorder{metrics: m.cfg.Metrics}))
	}

	detector, err := silence.New(silence.Config{
		Threshold: m.cfg.Session.SilenceThreshold,
		Window:    m.cfg.Session.SilenceWindow(),
	})
	if err != nil {
		return nil, fmt.Errorf("manager: build detector: %w", err)
	}

	guardOpts := []interview.GuardOption{}
	if d := m.cfg.Session.ActionCooldown(); d > 0 {
		guardOpts = append(guardOpts, interview.WithCooldown(d))
	}

	return NewMachine(Config{
		InterviewID: req.InterviewID,
		Mode:        req.Mode,
		AutoAdvance: req.AutoAdvance,
		Capture:     req.Capture,
		Playback:    req.Playback,
		Client:      m.cfg.Client,
		Poller:      interview.NewPoller(m.cfg.Client, pollerOpts...),
		Detector:    detector,
		Guard:       interview.NewActionGuard(guardOpts...),
		Archive:     m.cfg.Archive,
		Metrics:     m.cfg.Metrics,
		Notify:      req.Notify,
	})
}

// Close ends the session for interviewID and releases its slot. Closing an
// unknown interview is a no-op.
func (m *Manager) Close(interviewID string) {
	m.mu.Lock()
	machine, ok := m.sessions[interviewID]
	delete(m.sessions, interviewID)
	delete(m.info, interviewID)
	m.mu.Unlock()

	if !ok || machine == nil {
		return
	}
	machine.End()
	if m.cfg.Metrics != nil {
		m.cfg.Metrics.ActiveSessions.Add(context.Background(), -1)
	}
	slog.Info("session closed", "interview_id", interviewID)
}

// CloseAll ends every open session. Called during shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.Close(id)
	}
}

// Get returns the open machine for interviewID, if any.
func (m *Manager) Get(interviewID string) (*Machine, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	machine, ok := m.sessions[interviewID]
	return machine, ok && machine != nil
}

// ActiveCount returns the number of open sessions. Slots reserved by an Open
// still in progress are not counted.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, machine := range m.sessions {
		if machine != nil {
			n++
		}
	}
	return n
}

// pollRecorder bridges the poller's observer hooks onto the OTel instruments.
type pollRecorder struct {
	metrics *observe.Metrics
}

func (r *pollRecorder) PollAttempt(_ string, _ error) {
	r.metrics.PollAttempts.Add(context.Background(), 1)
}

func (r *pollRecorder) PollSatisfied(_ string, waited time.Duration, _ int) {
	r.metrics.PollWaitDuration.Record(context.Background(), waited.Seconds())
}
