// Package backend provides the REST client for the Inkra content backend:
// interview creation and the readiness queries the poller drives. Question
// text, narration audio, transcription, and follow-up generation all happen
// server-side as asynchronous jobs; this client only observes their results.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/md0nahue/inkra-sub002/internal/interview"
	"github.com/md0nahue/inkra-sub002/internal/resilience"
)

const (
	// defaultCallTimeout bounds every direct network call. Content
	// generation is not bounded by this — only the HTTP round trip is.
	defaultCallTimeout = 20 * time.Second

	// createAttempts is the total attempt budget for interview creation:
	// the initial call plus at most one retry.
	createAttempts = 2
)

// ErrNotFound is returned when the backend reports an unknown interview.
var ErrNotFound = errors.New("backend: interview not found")

// ErrUnauthorized is returned when the backend rejects the client's token.
var ErrUnauthorized = errors.New("backend: unauthorized")

// Recorder receives per-request telemetry. Implemented by the observe
// package; a nil Recorder disables instrumentation.
type Recorder interface {
	BackendRequest(op string, elapsed time.Duration, err error)
}

// Interview is the backend's record of a created interview project.
type Interview struct {
	// ID is the server-assigned interview identifier.
	ID string `json:"id"`

	// Topic is the user-entered interview topic.
	Topic string `json:"topic"`

	// Mode reflects whether the interview was created for speech or reading.
	Mode interview.Mode `json:"mode"`

	// TotalQuestions is the planned outline size at creation time. Follow-up
	// generation can grow the actual question count beyond this.
	TotalQuestions int `json:"total_questions"`

	// CreatedAt is the server-side creation timestamp.
	CreatedAt time.Time `json:"created_at"`
}

// CreateInterviewRequest is the payload for [Client.CreateInterview].
type CreateInterviewRequest struct {
	// Topic is the user-entered subject of the interview.
	Topic string `json:"topic"`

	// SpeechMode requests a narrated interview with voice capture.
	SpeechMode bool `json:"is_speech_interview"`

	// VoiceID selects the narration voice. Only meaningful in speech mode.
	VoiceID string `json:"voice_id,omitempty"`

	// SpeechRate is the narration speed multiplier. Zero means server default.
	SpeechRate float64 `json:"speech_rate,omitempty"`
}

// Option is a functional option for configuring the [Client].
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithToken sets the bearer token sent on every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithCallTimeout overrides the default 20 s per-call bound.
func WithCallTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.callTimeout = d
		}
	}
}

// WithBreaker wraps all requests in the given circuit breaker.
func WithBreaker(b *resilience.Breaker) Option {
	return func(c *Client) { c.breaker = b }
}

// WithRecorder attaches request telemetry.
func WithRecorder(r Recorder) Option {
	return func(c *Client) { c.recorder = r }
}

// Client talks to the Inkra content backend. All exported methods are safe
// for concurrent use.
type Client struct {
	baseURL     string
	token       string
	callTimeout time.Duration
	httpClient  *http.Client
	breaker     *resilience.Breaker
	recorder    Recorder
}

// New creates a Client for the backend at baseURL. baseURL must be non-empty
// and parse as an absolute URL.
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("backend: baseURL must not be empty")
	}
	u, err := url.Parse(baseURL)
	if err != nil || !u.IsAbs() {
		return nil, fmt.Errorf("backend: invalid baseURL %q", baseURL)
	}

	c := &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		callTimeout: defaultCallTimeout,
		httpClient:  &http.Client{},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// CreateInterview creates a new interview project. The call is bounded by
// the per-call timeout and retried at most once — generation of the actual
// questions continues server-side after this returns and is observed via
// [Client.AvailableQuestions].
func (c *Client) CreateInterview(ctx context.Context, req CreateInterviewRequest) (Interview, error) {
	if strings.TrimSpace(req.Topic) == "" {
		return Interview{}, errors.New("backend: topic must not be empty")
	}

	return resilience.BoundedRetry(ctx, c.callTimeout, createAttempts, func(ctx context.Context) (Interview, error) {
		var out Interview
		err := c.do(ctx, "create_interview", http.MethodPost, "/api/interviews", req, &out)
		return out, err
	})
}

// AvailableQuestions implements [interview.ReadinessClient]. It returns the
// interview's current question set; a question's AudioURL stays nil until
// narration generation completes, which is exactly what the readiness
// poller's predicates inspect.
func (c *Client) AvailableQuestions(ctx context.Context, interviewID string) ([]interview.Question, error) {
	if interviewID == "" {
		return nil, errors.New("backend: interviewID must not be empty")
	}

	return resilience.Bounded(ctx, c.callTimeout, func(ctx context.Context) ([]interview.Question, error) {
		var out struct {
			Questions []interview.Question `json:"questions"`
		}
		path := "/api/interviews/" + url.PathEscape(interviewID) + "/questions"
		if err := c.do(ctx, "available_questions", http.MethodGet, path, nil, &out); err != nil {
			return nil, err
		}
		return out.Questions, nil
	})
}

// Ping probes the backend's health endpoint. Used by the readiness checker.
func (c *Client) Ping(ctx context.Context) error {
	_, err := resilience.Bounded(ctx, c.callTimeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.do(ctx, "ping", http.MethodGet, "/up", nil, nil)
	})
	return err
}

// do performs one JSON round trip through the breaker, recording telemetry.
func (c *Client) do(ctx context.Context, op, method, path string, in, out any) error {
	call := func() error {
		var body io.Reader
		if in != nil {
			payload, err := json.Marshal(in)
			if err != nil {
				return fmt.Errorf("backend: encode %s: %w", op, err)
			}
			body = bytes.NewReader(payload)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
		if err != nil {
			return fmt.Errorf("backend: build %s request: %w", op, err)
		}
		req.Header.Set("Accept", "application/json")
		if in != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("backend: %s: %w", op, err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return ErrNotFound
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return ErrUnauthorized
		case resp.StatusCode < 200 || resp.StatusCode >= 300:
			snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return fmt.Errorf("backend: %s: status %d: %s", op, resp.StatusCode, strings.TrimSpace(string(snippet)))
		}

		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("backend: decode %s response: %w", op, err)
		}
		return nil
	}

	start := time.Now()
	var err error
	if c.breaker != nil {
		err = c.breaker.Do(call)
	} else {
		err = call()
	}
	if c.recorder != nil {
		c.recorder.BackendRequest(op, time.Since(start), err)
	}
	return err
}
