// Package session implements the interview session orchestrator: the state
// machine that drives a live interview turn by turn, coordinating narration
// playback, microphone capture with silence-based auto-advance, pause/resume,
// skip/next navigation, and readiness polling against a backend that
// generates content asynchronously.
//
// One [Machine] owns one session. Every event — a user control call, a
// playback completion, a silence signal, a poll result — is handled fully
// under a single mutex before the next is processed, so the machine never
// observes two events as simultaneous. Async callbacks carry the epoch they
// were armed under; a callback whose epoch no longer matches is stale (the
// session has since paused, errored, or moved on) and is dropped without
// effect.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/md0nahue/inkra-sub002/internal/archive"
	"github.com/md0nahue/inkra-sub002/internal/interview"
	"github.com/md0nahue/inkra-sub002/internal/observe"
	"github.com/md0nahue/inkra-sub002/internal/silence"
	"github.com/md0nahue/inkra-sub002/pkg/audio"
)

// State is the authoritative session lifecycle state.
type State string

const (
	StateIdle             State = "idle"
	StateInitializing     State = "initializing"
	StateLoadingQuestion  State = "loadingQuestion"
	StatePlayingQuestion  State = "playingQuestion"
	StateListening        State = "listening"
	StateProcessingAnswer State = "processingAnswer"
	StateGeneratingNext   State = "generatingNextQuestion"
	StatePaused           State = "paused"
	StateCompleted        State = "completed"
	StateError            State = "error"
)

// EventType classifies the events a [Machine] publishes.
type EventType string

const (
	// EventState reports a state transition (From → To).
	EventState EventType = "state_changed"

	// EventQuestion reports that a question became the session's current one.
	EventQuestion EventType = "question"

	// EventFollowUps reports that server-generated follow-up questions were
	// merged into the question list.
	EventFollowUps EventType = "follow_ups_merged"

	// EventError carries the message of an unrecoverable failure.
	EventError EventType = "error"

	// EventEnded reports that the session was torn down via End.
	EventEnded EventType = "ended"
)

// Event is one occurrence published to the session's observer.
type Event struct {
	Type     EventType
	From, To State
	Question *interview.Question
	Added    int
	Err      string
}

// Notifier receives session events. Events are delivered one at a time, in
// the order the machine processed them.
type Notifier func(Event)

// Config holds a [Machine]'s identity and collaborators.
type Config struct {
	// InterviewID is the backend identifier of the interview being run.
	InterviewID string

	// Mode selects speech (narrated questions, voice answers) or reading.
	Mode interview.Mode

	// AutoAdvance enables silence-based auto-advance while listening.
	// Only meaningful in speech mode.
	AutoAdvance bool

	// Capture and Playback are the session's exclusively-owned audio ports.
	Capture  audio.CapturePort
	Playback audio.PlaybackPort

	// Client answers readiness queries; the poller drives it.
	Client interview.ReadinessClient

	// Poller waits for asynchronously generated content. Defaults to a
	// 1-second poller over Client.
	Poller *interview.Poller

	// Detector watches capture levels for the end of speech. Defaults to the
	// standard threshold and window.
	Detector *silence.Detector

	// Guard suppresses duplicate skip/next taps. Defaults to the standard
	// 5-second cool-down.
	Guard *interview.ActionGuard

	// Archive persists segments and the session outcome. Optional; archive
	// failures are logged and never break the session.
	Archive archive.Store

	// Metrics instruments transitions and detections. Optional.
	Metrics *observe.Metrics

	// Notify receives session events. Optional.
	Notify Notifier
}

// Machine is the session orchestrator core. All exported methods are safe
// for concurrent use and are no-ops when the requested action is not legal
// in the current state.
type Machine struct {
	cfg Config

	mu          sync.Mutex
	state       State
	resumeState State
	nav         *interview.Navigator
	epoch       uint64
	lifeCtx     context.Context
	lifeCancel  context.CancelFunc
	actCancel   context.CancelFunc
	recording   audio.Recording
	playing     audio.Playing
	listenFrom  time.Time
	playFrom    time.Time
	lastErr     error
	ended       bool
	outcomeSent bool

	// notifyMu serializes event delivery to the observer.
	notifyMu sync.Mutex
}

// NewMachine creates a Machine in the idle state.
func NewMachine(cfg Config) (*Machine, error) {
	if cfg.InterviewID == "" {
		return nil, errors.New("session: interview ID must not be empty")
	}
	if !cfg.Mode.IsValid() {
		return nil, fmt.Errorf("session: invalid mode %q", cfg.Mode)
	}
	if cfg.Capture == nil || cfg.Playback == nil {
		return nil, errors.New("session: capture and playback ports are required")
	}
	if cfg.Client == nil {
		return nil, errors.New("session: readiness client is required")
	}
	if cfg.Poller == nil {
		cfg.Poller = interview.NewPoller(cfg.Client)
	}
	if cfg.Detector == nil {
		d, err := silence.New(silence.Config{})
		if err != nil {
			return nil, err
		}
		cfg.Detector = d
	}
	if cfg.Guard == nil {
		cfg.Guard = interview.NewActionGuard()
	}

	return &Machine{
		cfg:   cfg,
		state: StateIdle,
	}, nil
}

// State returns the current lifecycle state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Err returns the failure that moved the session into the error state, if any.
func (m *Machine) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// Navigator exposes the question list and progress. Nil until the first
// question set has been fetched.
func (m *Machine) Navigator() *interview.Navigator {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nav
}

// ─── Public control surface ──────────────────────────────────────────────────

// Start begins the session: it transitions to initializing and polls until
// the first question (and, in speech mode, its narration audio) exists.
// Calling Start in any state other than idle is a no-op.
func (m *Machine) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.ended || m.state != StateIdle {
		m.mu.Unlock()
		return nil
	}
	m.lifeCtx, m.lifeCancel = context.WithCancel(context.WithoutCancel(ctx))
	evs := []Event{m.toLocked(StateInitializing)}
	m.launchInitLocked()
	m.mu.Unlock()

	m.flush(evs)
	return nil
}

// Pause suspends the session: it cancels the pending poll, stops playback,
// aborts any in-progress capture, and disarms the silence detector before
// the ports are considered free. Pausing while already paused, or in a state
// with nothing to suspend, is a no-op.
func (m *Machine) Pause() {
	m.mu.Lock()
	switch m.state {
	case StateInitializing, StateLoadingQuestion, StatePlayingQuestion, StateListening:
	default:
		m.mu.Unlock()
		return
	}
	if m.ended {
		m.mu.Unlock()
		return
	}

	m.resumeState = m.state
	m.invalidateLocked()
	m.releasePortsLocked()
	evs := []Event{m.toLocked(StatePaused)}
	m.mu.Unlock()

	m.cfg.Detector.Disarm()
	m.flush(evs)
}

// Resume returns a paused session to the state it was in, re-acquiring ports
// and restarting the poll from scratch where needed. A no-op unless paused.
func (m *Machine) Resume() {
	m.mu.Lock()
	if m.ended || m.state != StatePaused {
		m.mu.Unlock()
		return
	}

	var evs []Event
	switch m.resumeState {
	case StateInitializing:
		evs = append(evs, m.toLocked(StateInitializing))
		m.launchInitLocked()
	case StateLoadingQuestion:
		q, ok := m.nav.Current()
		if !ok {
			evs = append(evs, m.failLocked(errors.New("session: resume: no current question"))...)
			break
		}
		evs = append(evs, m.toLocked(StateLoadingQuestion))
		m.launchLoadLocked(q)
	case StatePlayingQuestion:
		q, ok := m.nav.Current()
		if !ok {
			evs = append(evs, m.failLocked(errors.New("session: resume: no current question"))...)
			break
		}
		evs = append(evs, m.presentLocked(q)...)
	case StateListening:
		evs = append(evs, m.startListeningLocked()...)
	default:
		// Nothing suspended; stay paused.
	}
	m.mu.Unlock()

	m.flush(evs)
}

// Next ends the listening phase for the current question, persisting the
// recorded answer and advancing. Duplicate taps within the cool-down window
// are dropped silently. A no-op outside the listening state; the no-op does
// not arm the cool-down, so the first Next after playback ends still runs.
func (m *Machine) Next() error {
	suppressed, err := m.cfg.Guard.Do("next", func() error {
		m.mu.Lock()
		if m.ended || m.state != StateListening {
			m.mu.Unlock()
			return interview.ErrNotApplied
		}
		evs := m.finishAnswerLocked()
		m.mu.Unlock()

		m.cfg.Detector.Disarm()
		m.flush(evs)
		return nil
	})
	if suppressed {
		m.recordSuppression("next")
	}
	return err
}

// Skip abandons the current question without recording a segment and
// advances; FindNextUnanswered will not return to a skipped question.
// Duplicate taps are dropped silently. A no-op outside the listening state.
func (m *Machine) Skip() error {
	suppressed, err := m.cfg.Guard.Do("skip", func() error {
		m.mu.Lock()
		if m.ended || m.state != StateListening {
			m.mu.Unlock()
			return interview.ErrNotApplied
		}

		m.epoch++
		if m.recording != nil {
			if err := m.recording.Abort(); err != nil {
				slog.Warn("session: abort recording on skip", "interview_id", m.cfg.InterviewID, "err", err)
			}
			m.recording = nil
		}
		if q, ok := m.nav.Current(); ok {
			m.nav.MarkSkipped(q.ID)
		}
		evs := []Event{m.toLocked(StateGeneratingNext)}
		evs = append(evs, m.advanceLocked()...)
		m.mu.Unlock()

		m.cfg.Detector.Disarm()
		m.flush(evs)
		return nil
	})
	if suppressed {
		m.recordSuppression("skip")
	}
	return err
}

// Retry leaves the error state: it re-initializes when the first question
// set was never fetched, and otherwise re-loads the current question.
// A no-op outside the error state.
func (m *Machine) Retry() {
	m.mu.Lock()
	if m.ended || m.state != StateError {
		m.mu.Unlock()
		return
	}
	m.lastErr = nil

	var evs []Event
	if m.nav == nil {
		evs = append(evs, m.toLocked(StateInitializing))
		m.launchInitLocked()
	} else if q, ok := m.nav.Current(); ok {
		evs = append(evs, m.toLocked(StateLoadingQuestion))
		m.launchLoadLocked(q)
	}
	m.mu.Unlock()

	m.flush(evs)
}

// End tears the session down. It is legal from every state, including error:
// it cancels all outstanding polls and timers, stops playback, aborts any
// in-progress capture, releases both ports, and archives the outcome.
// Calling End again is a no-op.
func (m *Machine) End() {
	m.mu.Lock()
	if m.ended {
		m.mu.Unlock()
		return
	}
	m.ended = true
	m.invalidateLocked()
	m.releasePortsLocked()
	if m.lifeCancel != nil {
		m.lifeCancel()
	}

	completed := m.state == StateCompleted
	m.saveOutcomeLocked(completed)
	from := m.state
	m.state = StateIdle
	evs := []Event{{Type: EventEnded, From: from, To: StateIdle}}
	m.mu.Unlock()

	m.cfg.Detector.Disarm()
	slog.Info("session ended", "interview_id", m.cfg.InterviewID, "completed", completed)
	m.flush(evs)
}

// ─── Async callbacks ──────────────────────────────────────────────────────────

// initialize polls until the first question is ready, then builds the
// navigator and presents that question. Runs outside the lock; the epoch is
// re-checked before any effect is applied.
func (m *Machine) initialize(ctx context.Context, epoch uint64) {
	var snapshot []interview.Question
	inner := interview.FirstQuestionReady
	if m.cfg.Mode == interview.ModeReading {
		inner = interview.FirstQuestionExists
	}
	pred := func(qs []interview.Question) (interview.Question, bool) {
		snapshot = qs
		return inner(qs)
	}

	q, err := m.cfg.Poller.WaitUntilReady(ctx, m.cfg.InterviewID, pred)
	if err != nil {
		// The poller only returns on cancellation; pause or end already
		// transitioned the machine.
		return
	}

	m.mu.Lock()
	if epoch != m.epoch {
		m.mu.Unlock()
		return
	}
	m.nav = interview.NewNavigator(snapshot)
	for i, qq := range m.nav.Questions() {
		if qq.ID == q.ID {
			m.nav.SetCurrentIndex(i)
			break
		}
	}
	evs := m.presentLocked(q)
	m.mu.Unlock()

	m.flush(evs)
}

// loadQuestion polls until q's content is ready (audio in speech mode, text
// in reading mode), merges any server-appended follow-ups observed along the
// way, and presents the question.
func (m *Machine) loadQuestion(ctx context.Context, epoch uint64, q interview.Question) {
	var snapshot []interview.Question
	inner := interview.QuestionTextReady(q.ID)
	if m.cfg.Mode == interview.ModeSpeech {
		inner = interview.QuestionAudioReady(q.ID)
	}
	pred := func(qs []interview.Question) (interview.Question, bool) {
		snapshot = qs
		return inner(qs)
	}

	ready, err := m.cfg.Poller.WaitUntilReady(ctx, m.cfg.InterviewID, pred)
	if err != nil {
		return
	}

	m.mu.Lock()
	if epoch != m.epoch {
		m.mu.Unlock()
		return
	}
	var evs []Event
	if added := m.nav.MergeFollowUps(snapshot); added > 0 {
		evs = append(evs, Event{Type: EventFollowUps, Added: added})
	}
	evs = append(evs, m.presentLocked(ready)...)
	m.mu.Unlock()

	m.flush(evs)
}

// waitPlayback delivers the playback-finished completion into the machine.
func (m *Machine) waitPlayback(p audio.Playing, epoch uint64) {
	err := <-p.Done()

	m.mu.Lock()
	if epoch != m.epoch {
		m.mu.Unlock()
		return
	}
	m.playing = nil
	if m.cfg.Metrics != nil {
		m.cfg.Metrics.PlaybackDuration.Record(context.Background(), time.Since(m.playFrom).Seconds())
	}

	var evs []Event
	if err != nil {
		evs = m.failLocked(fmt.Errorf("session: playback: %w", err))
	} else if m.state == StatePlayingQuestion {
		evs = m.startListeningLocked()
	}
	m.mu.Unlock()

	m.flush(evs)
}

// onSilence is the detector's speech-ended signal. Detector teardown and
// state transitions are not atomic across goroutines, so the epoch and state
// are both checked before acting.
func (m *Machine) onSilence(epoch uint64) {
	m.mu.Lock()
	if epoch != m.epoch || m.state != StateListening {
		m.mu.Unlock()
		return
	}
	if m.cfg.Metrics != nil {
		m.cfg.Metrics.SilenceDetections.Add(context.Background(), 1)
	}
	evs := m.finishAnswerLocked()
	m.mu.Unlock()

	m.flush(evs)
}

// ─── Locked helpers ───────────────────────────────────────────────────────────

// toLocked transitions to s and returns the corresponding event.
func (m *Machine) toLocked(s State) Event {
	from := m.state
	m.state = s
	if m.cfg.Metrics != nil {
		m.cfg.Metrics.RecordTransition(context.Background(), string(from), string(s))
	}
	slog.Debug("session transition",
		"interview_id", m.cfg.InterviewID, "from", string(from), "to", string(s))
	return Event{Type: EventState, From: from, To: s}
}

// invalidateLocked bumps the epoch and cancels the pending activity, making
// every outstanding async callback stale.
func (m *Machine) invalidateLocked() {
	m.epoch++
	if m.actCancel != nil {
		m.actCancel()
		m.actCancel = nil
	}
}

// releasePortsLocked stops playback and aborts capture. Safe when neither is
// active.
func (m *Machine) releasePortsLocked() {
	if m.playing != nil {
		if err := m.playing.Stop(); err != nil {
			slog.Warn("session: stop playback", "interview_id", m.cfg.InterviewID, "err", err)
		}
		m.playing = nil
	}
	if m.recording != nil {
		if err := m.recording.Abort(); err != nil {
			slog.Warn("session: abort recording", "interview_id", m.cfg.InterviewID, "err", err)
		}
		m.recording = nil
	}
}

// newActivityLocked cancels the previous suspended activity and returns a
// fresh context tied to the session lifetime, plus the epoch callbacks must
// carry.
func (m *Machine) newActivityLocked() (context.Context, uint64) {
	if m.actCancel != nil {
		m.actCancel()
	}
	ctx, cancel := context.WithCancel(m.lifeCtx)
	m.actCancel = cancel
	return ctx, m.epoch
}

func (m *Machine) launchInitLocked() {
	ctx, epoch := m.newActivityLocked()
	go m.initialize(ctx, epoch)
}

func (m *Machine) launchLoadLocked(q interview.Question) {
	ctx, epoch := m.newActivityLocked()
	go m.loadQuestion(ctx, epoch, q)
}

// presentLocked makes q the current question: speech mode plays its
// narration, reading mode goes straight to listening.
func (m *Machine) presentLocked(q interview.Question) []Event {
	evs := []Event{{Type: EventQuestion, Question: &q}}

	if m.cfg.Mode == interview.ModeSpeech && q.HasAudio() {
		if m.recording != nil {
			// Capture must never run during playback.
			slog.Error("session: capture still active at playback start, aborting it",
				"interview_id", m.cfg.InterviewID)
			_ = m.recording.Abort()
			m.recording = nil
		}

		evs = append(evs, m.toLocked(StatePlayingQuestion))
		playing, err := m.cfg.Playback.Play(m.lifeCtx, audio.Narration{
			Text:     q.Text,
			AudioURL: *q.AudioURL,
		})
		if err != nil {
			return append(evs, m.failLocked(fmt.Errorf("session: play narration: %w", err))...)
		}
		m.playing = playing
		m.playFrom = time.Now()
		go m.waitPlayback(playing, m.epoch)
		return evs
	}

	return append(evs, m.startListeningLocked()...)
}

// startListeningLocked acquires the capture port and, in speech mode with
// auto-advance, arms the silence detector on the live level stream.
func (m *Machine) startListeningLocked() []Event {
	if m.playing != nil {
		slog.Error("session: playback still active at capture start, stopping it",
			"interview_id", m.cfg.InterviewID)
		_ = m.playing.Stop()
		m.playing = nil
	}

	evs := []Event{m.toLocked(StateListening)}

	rec, err := m.cfg.Capture.Start(m.lifeCtx)
	if err != nil {
		if errors.Is(err, audio.ErrCaptureDenied) {
			return append(evs, m.failLocked(fmt.Errorf("session: microphone access denied: %w", err))...)
		}
		return append(evs, m.failLocked(fmt.Errorf("session: start capture: %w", err))...)
	}
	m.recording = rec
	m.listenFrom = time.Now()

	if m.cfg.Mode == interview.ModeSpeech && m.cfg.AutoAdvance {
		epoch := m.epoch
		m.cfg.Detector.Arm(m.lifeCtx, rec.Levels(), func() { m.onSilence(epoch) })
	}
	return evs
}

// finishAnswerLocked stops capture, persists the recorded segment, and
// advances to the next unanswered question.
func (m *Machine) finishAnswerLocked() []Event {
	evs := []Event{m.toLocked(StateProcessingAnswer)}
	m.epoch++ // silence signals armed for this question are now stale

	clip, err := m.recording.Stop()
	m.recording = nil
	if err != nil {
		return append(evs, m.failLocked(fmt.Errorf("session: stop recording: %w", err))...)
	}
	if m.cfg.Metrics != nil {
		m.cfg.Metrics.ListeningDuration.Record(context.Background(), time.Since(m.listenFrom).Seconds())
	}

	q, ok := m.nav.Current()
	if !ok {
		return append(evs, m.failLocked(errors.New("session: no current question for segment"))...)
	}
	seg := interview.RecordedSegment{
		QuestionID: q.ID,
		LocalRef:   clip.Ref,
		Duration:   clip.Duration,
		RecordedAt: time.Now(),
	}
	m.nav.RecordSegment(seg)
	m.archiveSegment(seg)

	evs = append(evs, m.toLocked(StateGeneratingNext))
	return append(evs, m.advanceLocked()...)
}

// advanceLocked asks the navigator for the next unanswered question. None
// left means the interview is complete.
func (m *Machine) advanceLocked() []Event {
	idx, ok := m.nav.FindNextUnanswered(m.nav.CurrentIndex())
	if !ok {
		evs := []Event{m.toLocked(StateCompleted)}
		m.invalidateLocked()
		m.releasePortsLocked()
		m.saveOutcomeLocked(true)
		return evs
	}

	m.nav.SetCurrentIndex(idx)
	q, _ := m.nav.QuestionAt(idx)
	evs := []Event{m.toLocked(StateLoadingQuestion)}
	m.launchLoadLocked(q)
	return evs
}

// failLocked promotes an unrecoverable failure to the error state, exactly
// once per root cause: stale callbacks are filtered by epoch before they can
// reach here.
func (m *Machine) failLocked(err error) []Event {
	m.invalidateLocked()
	m.releasePortsLocked()
	m.lastErr = err
	slog.Error("session failed", "interview_id", m.cfg.InterviewID, "err", err)

	evs := []Event{m.toLocked(StateError)}
	return append(evs, Event{Type: EventError, Err: err.Error()})
}

// archiveSegment persists seg without blocking the state transition.
func (m *Machine) archiveSegment(seg interview.RecordedSegment) {
	if m.cfg.Archive == nil {
		return
	}
	rec := archive.Segment{
		InterviewID: m.cfg.InterviewID,
		QuestionID:  seg.QuestionID,
		LocalRef:    seg.LocalRef,
		Duration:    seg.Duration,
		RecordedAt:  seg.RecordedAt,
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := m.cfg.Archive.SaveSegment(ctx, rec); err != nil {
			slog.Warn("session: archive segment",
				"interview_id", rec.InterviewID, "question_id", rec.QuestionID, "err", err)
		}
	}()
}

// saveOutcomeLocked archives the terminal record once.
func (m *Machine) saveOutcomeLocked(completed bool) {
	if m.cfg.Archive == nil || m.outcomeSent || m.nav == nil {
		return
	}
	m.outcomeSent = true
	out := archive.Outcome{
		InterviewID: m.cfg.InterviewID,
		Completed:   completed,
		Answered:    m.nav.AnsweredCount(),
		Skipped:     m.nav.SkippedCount(),
		EndedAt:     time.Now(),
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := m.cfg.Archive.SaveOutcome(ctx, out); err != nil {
			slog.Warn("session: archive outcome", "interview_id", out.InterviewID, "err", err)
		}
	}()
}

func (m *Machine) recordSuppression(action string) {
	if m.cfg.Metrics != nil {
		m.cfg.Metrics.RecordSuppression(context.Background(), action)
	}
}

// flush delivers events to the observer outside the state lock, serialized
// so the observer never sees two events concurrently.
func (m *Machine) flush(evs []Event) {
	if m.cfg.Notify == nil || len(evs) == 0 {
		return
	}
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()
	for _, ev := range evs {
		m.cfg.Notify(ev)
	}
}
