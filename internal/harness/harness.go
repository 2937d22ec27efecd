package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/roach88/hgpeer/internal/activities"
	"github.com/roach88/hgpeer/internal/message"
	"github.com/roach88/hgpeer/internal/peer"
	"github.com/roach88/hgpeer/internal/testutil"
	"github.com/roach88/hgpeer/internal/workflow"
)

// Harness is the state of one scenario run.
type Harness struct {
	scenario *Scenario
	logger   *slog.Logger
	observer workflow.Observer
	network  *peer.Network
	trace    *traceRecorder

	peers  map[string]*peer.Peer
	order  []*peer.Peer
	probes map[string]*probe

	futures  map[string]*workflow.Future
	initErrs map[string]error
	stopped  bool
}

// Option configures a run.
type Option func(*Harness)

// WithLogger sets the logger for the peers. Default: discard.
func WithLogger(l *slog.Logger) Option {
	return func(h *Harness) { h.logger = l }
}

// WithObserver also reports every peer's engine events to o.
func WithObserver(o workflow.Observer) Option {
	return func(h *Harness) { h.observer = o }
}

// Run executes a scenario and returns the result.
//
// Execution flow:
// 1. Start every peer on a fresh loopback network
// 2. Execute the steps in order
// 3. Wait for initiated activities and expected replies, up to the timeout
// 4. Stop the peers and collect outcomes, traces and replies
// 5. Check every step's expectations
func Run(scenario *Scenario, opts ...Option) (*Result, error) {
	return RunContext(context.Background(), scenario, opts...)
}

// RunContext is Run with a caller context.
func RunContext(ctx context.Context, scenario *Scenario, opts ...Option) (*Result, error) {
	h := &Harness{
		scenario: scenario,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		trace:    newTraceRecorder(),
		peers:    make(map[string]*peer.Peer),
		probes:   make(map[string]*probe),
		futures:  make(map[string]*workflow.Future),
		initErrs: make(map[string]error),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.network = peer.NewNetwork(peer.WithNetworkLogger(h.logger))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer h.shutdown()

	if err := h.startPeers(ctx); err != nil {
		return nil, err
	}

	waitCtx, cancelWait := context.WithTimeout(ctx, scenario.timeout())
	defer cancelWait()

	result := NewResult()
	for i := range scenario.Steps {
		if err := h.execute(ctx, waitCtx, &scenario.Steps[i], result); err != nil {
			return nil, fmt.Errorf("steps[%d]: %w", i, err)
		}
	}

	h.settle(waitCtx, result)
	h.shutdown()
	h.collect(result)

	for _, msg := range EvaluateExpectations(scenario, result) {
		result.AddError(msg)
	}
	return result, nil
}

func (h *Harness) startPeers(ctx context.Context) error {
	for _, spec := range h.scenario.Peers {
		endpoint, err := h.network.Endpoint(spec.address())
		if err != nil {
			return fmt.Errorf("peer %s: %w", spec.Name, err)
		}
		mopts := []workflow.Option{
			workflow.WithIDGenerator(testutil.NewSequentialIDs(spec.Name)),
			workflow.WithTimeSource(testutil.NewStepTime(testutil.Epoch, time.Millisecond).Now),
			workflow.WithMaxWorkers(h.scenario.MaxWorkers),
			workflow.WithObserver(h.trace.observer(spec.Name)),
		}
		if h.observer != nil {
			mopts = append(mopts, workflow.WithObserver(h.observer))
		}
		p, err := peer.New(peer.NewIdentity(spec.Name, "harness", spec.address()), endpoint,
			peer.WithLogger(h.logger),
			peer.WithAffirmIdentity(h.scenario.AffirmIdentity),
			peer.WithManagerOptions(mopts...))
		if err != nil {
			return fmt.Errorf("peer %s: %w", spec.Name, err)
		}
		if err := activities.Register(p.Manager()); err != nil {
			return fmt.Errorf("peer %s: %w", spec.Name, err)
		}
		if err := p.Start(ctx); err != nil {
			return fmt.Errorf("peer %s: %w", spec.Name, err)
		}
		h.peers[spec.Name] = p
		h.order = append(h.order, p)
	}
	return nil
}

func (h *Harness) execute(ctx, waitCtx context.Context, step *Step, result *Result) error {
	switch {
	case step.Initiate != "":
		h.initiate(ctx, step)
	case step.Send != nil:
		pr, err := h.probe(ctx, step.Send.from())
		if err != nil {
			return err
		}
		if err := pr.send(ctx, step.Send); err != nil {
			result.AddError(fmt.Sprintf("step %s: %v", step.ID, err))
		}
	case step.Wait != "":
		if err := h.wait(waitCtx, step.Wait); err != nil {
			result.AddError(fmt.Sprintf("wait %s: %v", step.Wait, err))
		}
	}
	return nil
}

func (h *Harness) initiate(ctx context.Context, step *Step) {
	p := h.peers[step.Peer]
	var (
		f   *workflow.Future
		err error
	)
	switch step.Initiate {
	case InitiateEcho:
		f, err = p.Manager().Initiate(ctx, activities.NewEcho(step.Target, step.Content))
	case InitiateSurvey:
		f, err = p.Manager().Initiate(ctx, activities.NewSurvey(step.Targets, step.Content))
	case InitiateAffirm:
		f, err = p.AffirmIdentity(ctx, step.Target)
	}
	if err != nil {
		h.initErrs[step.ID] = err
		return
	}
	h.futures[step.ID] = f
}

// wait blocks until the step's activity finishes or, for a send step,
// until its expected replies (at least one) arrived.
func (h *Harness) wait(ctx context.Context, id string) error {
	if f, ok := h.futures[id]; ok {
		_, err := f.Wait(ctx)
		return err
	}
	for _, step := range h.scenario.Steps {
		if step.ID != id || step.Send == nil {
			continue
		}
		pr, ok := h.probes[step.Send.from()]
		if !ok {
			return nil
		}
		n := 1
		if step.Expect != nil && len(step.Expect.Replies) > 0 {
			n = len(step.Expect.Replies)
		}
		return pr.waitFor(ctx, step.Send.ConversationID, n)
	}
	return nil
}

func (h *Harness) settle(ctx context.Context, result *Result) {
	for _, step := range h.scenario.Steps {
		switch {
		case step.Initiate != "":
			f, ok := h.futures[step.ID]
			if !ok {
				continue
			}
			if _, err := f.Wait(ctx); err != nil {
				result.AddError(fmt.Sprintf("step %s: activity did not finish within %s", step.ID, h.scenario.timeout()))
			}
		case step.Send != nil && step.Expect != nil && len(step.Expect.Replies) > 0:
			if pr, ok := h.probes[step.Send.from()]; ok {
				// A short count shows up as a reply mismatch.
				_ = pr.waitFor(ctx, step.Send.ConversationID, len(step.Expect.Replies))
			}
		}
	}
}

// shutdown stops peers in reverse start order, then the probes. Stopping a
// peer waits for its running actions, so traces are complete afterwards.
func (h *Harness) shutdown() {
	if h.stopped {
		return
	}
	h.stopped = true
	for i := len(h.order) - 1; i >= 0; i-- {
		if err := h.order[i].Stop(); err != nil {
			h.logger.Warn("stop peer failed", "peer", h.order[i].Identity().Name, "error", err)
		}
	}
	for _, pr := range h.probes {
		_ = pr.endpoint.Close()
	}
}

func (h *Harness) collect(result *Result) {
	for _, step := range h.scenario.Steps {
		switch {
		case step.Initiate != "":
			out := StepOutcome{Step: step.ID, Peer: step.Peer}
			if err, ok := h.initErrs[step.ID]; ok {
				out.Error = err.Error()
			} else if f := h.futures[step.ID]; f != nil {
				out.ActivityID = f.Activity().ID()
				if f.IsDone() {
					res := f.Result()
					out.State = string(res.State)
					out.Error = errText(res.Err)
				}
			}
			result.Steps = append(result.Steps, out)
		case step.Send != nil:
			replies := []string{}
			if pr, ok := h.probes[step.Send.from()]; ok {
				replies = pr.replies(step.Send.ConversationID)
			}
			result.Replies[step.ID] = replies
		}
	}
	result.Trace = h.trace.snapshot()
}

func (h *Harness) probe(ctx context.Context, address string) (*probe, error) {
	if pr, ok := h.probes[address]; ok {
		return pr, nil
	}
	endpoint, err := h.network.Endpoint(address)
	if err != nil {
		return nil, fmt.Errorf("probe %s: %w", address, err)
	}
	pr := &probe{endpoint: endpoint, changed: make(chan struct{})}
	if err := endpoint.Start(ctx, pr.receive); err != nil {
		return nil, fmt.Errorf("probe %s: %w", address, err)
	}
	h.probes[address] = pr
	return pr, nil
}

// probe is a bare endpoint that sends raw messages and records every
// message it receives.
type probe struct {
	endpoint *peer.Endpoint

	mu       sync.Mutex
	received []message.Message
	changed  chan struct{}
}

func (p *probe) send(ctx context.Context, spec *SendSpec) error {
	msg := message.New(message.Performative(spec.Performative)).
		Set(message.FieldContent, spec.Content)
	for key, value := range map[string]string{
		message.FieldConversationID: spec.ConversationID,
		message.FieldActivityType:   spec.ActivityType,
		message.FieldParentScope:    spec.ParentScope,
	} {
		if value != "" {
			msg.Set(key, value)
		}
	}
	return p.endpoint.Send(ctx, spec.To, msg)
}

func (p *probe) receive(_ context.Context, msg message.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.received = append(p.received, msg)
	close(p.changed)
	p.changed = make(chan struct{})
}

func (p *probe) replies(conversation string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := []string{}
	for _, msg := range p.received {
		if msg.ConversationID() == conversation {
			out = append(out, string(msg.Performative()))
		}
	}
	return out
}

func (p *probe) waitFor(ctx context.Context, conversation string, n int) error {
	for {
		p.mu.Lock()
		count := 0
		for _, msg := range p.received {
			if msg.ConversationID() == conversation {
				count++
			}
		}
		changed := p.changed
		p.mu.Unlock()

		if count >= n {
			return nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// traceRecorder collects per-activity state histories from every peer.
type traceRecorder struct {
	mu         sync.Mutex
	activities map[string]*ActivityTrace
}

func newTraceRecorder() *traceRecorder {
	return &traceRecorder{activities: make(map[string]*ActivityTrace)}
}

func (r *traceRecorder) observer(peerName string) workflow.Observer {
	return workflow.ObserverFunc(func(ev workflow.Event) {
		r.observe(peerName, ev)
	})
}

func (r *traceRecorder) observe(peerName string, ev workflow.Event) {
	if ev.Activity == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	key := peerName + "\x00" + ev.Activity.ID()
	t, ok := r.activities[key]
	if !ok {
		t = &ActivityTrace{Peer: peerName, ID: ev.Activity.ID(), Type: ev.Activity.Type(), States: []string{}}
		r.activities[key] = t
	}
	switch ev.Type {
	case workflow.EventActivityCreated:
		t.Origin = string(ev.Origin)
		if ev.Parent != nil {
			t.Parent = ev.Parent.ID()
		}
	case workflow.EventStateChanged:
		t.States = append(t.States, string(ev.To))
	case workflow.EventActivityFinished:
		t.Error = errText(ev.Err)
	}
}

func (r *traceRecorder) snapshot() []ActivityTrace {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ActivityTrace, 0, len(r.activities))
	for _, t := range r.activities {
		c := *t
		c.States = append([]string{}, t.States...)
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Peer != out[j].Peer {
			return out[i].Peer < out[j].Peer
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
