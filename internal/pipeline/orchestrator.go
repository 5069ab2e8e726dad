package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/briefly/internal/composer"
	"github.com/kalambet/briefly/internal/extract"
	"github.com/kalambet/briefly/internal/feature"
	"github.com/kalambet/briefly/internal/gateway"
	"github.com/kalambet/briefly/internal/poll"
	"github.com/kalambet/briefly/internal/storage"
)

// Gateway abstracts the agent gateway operations the pipeline needs.
type Gateway interface {
	Dispatch(ctx context.Context, task, label string, runTimeout time.Duration, cleanup string) (gateway.Session, error)
	Transcript(ctx context.Context, handle string, limit int, includeTools bool) ([]gateway.Message, error)
}

// ResultStore persists completed research results.
type ResultStore interface {
	SaveResult(r storage.Result) error
}

// Config holds the timing knobs for a research run.
type Config struct {
	PollBudget   time.Duration
	PollInterval time.Duration
	RunTimeout   time.Duration
	Cleanup      string
}

// DefaultConfig returns the production timing configuration.
func DefaultConfig() Config {
	return Config{
		PollBudget:   55 * time.Second,
		PollInterval: 2500 * time.Millisecond,
		RunTimeout:   8 * time.Minute,
		Cleanup:      "on-success",
	}
}

// transcriptLimit is how many recent messages to fetch per poll probe.
const transcriptLimit = 20

// Request describes one research run.
type Request struct {
	Feature    string
	Topic      string
	Params     feature.Params
	RequestKey string
}

// Response is a completed research run.
type Response struct {
	Payload    json.RawMessage
	ResultID   string
	RequestKey string
}

// Orchestrator drives a research request end to end: validate, compose
// the task prompt, dispatch to the gateway, poll the transcript for a
// structured payload, and persist the result.
type Orchestrator struct {
	gw      Gateway
	store   ResultStore
	watcher *Watcher
	clk     poll.Clock
	cfg     Config
	logger  *slog.Logger
}

// New creates an Orchestrator. watcher may be nil, in which case timed-out
// sessions are abandoned rather than tracked in the background.
func New(gw Gateway, store ResultStore, watcher *Watcher, clk poll.Clock, cfg Config) *Orchestrator {
	if clk == nil {
		clk = poll.RealClock()
	}
	return &Orchestrator{
		gw:      gw,
		store:   store,
		watcher: watcher,
		clk:     clk,
		cfg:     cfg,
		logger:  slog.Default(),
	}
}

// Handle runs one research request. Validation failures return
// ErrInvalidRequest without touching the gateway. On ErrTimedOut the
// session is handed to the background watcher before returning.
func (o *Orchestrator) Handle(ctx context.Context, req Request) (Response, error) {
	f, ok := feature.Lookup(req.Feature)
	if !ok {
		return Response{}, fmt.Errorf("%w: unknown feature %q", ErrInvalidRequest, req.Feature)
	}

	params, err := f.Normalize(req.Params)
	if err != nil {
		return Response{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	requestKey := req.RequestKey
	if requestKey == "" {
		requestKey = uuid.NewString()
	}

	task, err := composer.Build(f, req.Topic, params, requestKey)
	if err != nil {
		return Response{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	session, err := o.gw.Dispatch(ctx, task, sessionLabel(f.Name, req.Topic), o.cfg.RunTimeout, o.cfg.Cleanup)
	if err != nil {
		return Response{}, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}

	o.logger.Info("research dispatched",
		"feature", f.Name, "topic", req.Topic, "session", session.Handle, "request_key", requestKey)

	var payload json.RawMessage
	deadline := o.clk.Now().Add(o.cfg.PollBudget)
	outcome := poll.Until(ctx, o.clk, deadline, o.cfg.PollInterval, func(ctx context.Context) bool {
		p, ok := o.probe(ctx, session.Handle, f.MarkerKey)
		if ok {
			payload = p
		}
		return ok
	})

	if outcome != poll.Completed {
		if o.watcher != nil {
			o.watcher.Track(f, req.Topic, params, requestKey, session.Handle)
		}
		return Response{}, fmt.Errorf("%w: session %s still running after %s",
			ErrTimedOut, session.Handle, o.cfg.PollBudget)
	}

	id := o.persist(f.Name, req.Topic, params, requestKey, payload)
	return Response{Payload: payload, ResultID: id, RequestKey: requestKey}, nil
}

// probe fetches the latest transcript page and tries to extract the
// structured payload from the newest assistant message.
func (o *Orchestrator) probe(ctx context.Context, handle, markerKey string) (json.RawMessage, bool) {
	msgs, err := o.gw.Transcript(ctx, handle, transcriptLimit, false)
	if err != nil {
		o.logger.Warn("transcript fetch failed", "session", handle, "error", err)
		return nil, false
	}

	text, ok := latestAssistantText(msgs)
	if !ok {
		return nil, false
	}

	payload, ok := extract.Payload(text, markerKey)
	if !ok {
		o.logger.Debug("assistant reply lacks structured payload", "session", handle)
		return nil, false
	}
	return payload, true
}

// persist writes the result best effort. Persistence failures are logged
// and never fail the research response; the caller still gets the payload.
func (o *Orchestrator) persist(featureName, topic string, params feature.Params, requestKey string, payload json.RawMessage) string {
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		paramsJSON = []byte("{}")
	}

	id := uuid.NewString()
	r := storage.Result{
		ID:          id,
		Feature:     featureName,
		Topic:       topic,
		ParamsJSON:  string(paramsJSON),
		RequestKey:  requestKey,
		PayloadJSON: string(payload),
	}
	if err := o.store.SaveResult(r); err != nil {
		o.logger.Error("persisting result failed", "feature", featureName, "topic", topic, "error", err)
		return ""
	}
	return id
}

// sessionLabel builds a short human-readable tag for the gateway session.
func sessionLabel(feature, topic string) string {
	const maxTopic = 40
	if len(topic) > maxTopic {
		topic = topic[:maxTopic]
	}
	return fmt.Sprintf("briefly %s: %s", feature, topic)
}

// latestAssistantText returns the newest assistant reply. msgs is ordered
// most recent first, so the first assistant entry wins.
func latestAssistantText(msgs []gateway.Message) (string, bool) {
	for _, m := range msgs {
		if m.Role != gateway.RoleAssistant {
			continue
		}
		if text := m.Text(); text != "" {
			return text, true
		}
	}
	return "", false
}
