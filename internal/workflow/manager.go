package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/hgpeer/internal/message"
)

// Manager is the activity engine of one peer.
//
// It owns the registered activity types, the live activities and their
// parent links, and the scheduler that runs their actions.
//
// Thread-safety model:
//   - RegisterType, Initiate, HandleMessage, Cancel: safe from any goroutine
//   - Run: one scheduler loop at a time, usually through Start/Stop
type Manager struct {
	mu         sync.Mutex
	types      map[string]*ActivityType
	activities map[string]Activity
	parents    map[string]Activity

	ready *readyQueue

	peer       PeerInterface
	directory  Directory
	ids        IDGenerator
	clock      *Clock
	observers  []Observer
	observer   Observer
	logger     *slog.Logger
	maxWorkers int
	now        func() time.Time

	runMu   sync.Mutex
	cancel  context.CancelFunc
	stopped chan struct{}
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the structured logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithPeerInterface sets the messaging layer used for outbound messages.
func WithPeerInterface(p PeerInterface) Option {
	return func(m *Manager) { m.peer = p }
}

// WithDirectory sets the identity/network target resolver.
func WithDirectory(d Directory) Option {
	return func(m *Manager) { m.directory = d }
}

// WithIDGenerator sets the generator for locally initiated activity ids.
// Default: UUIDv7Generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(m *Manager) { m.ids = g }
}

// WithObserver adds an event observer. May be given more than once.
func WithObserver(o Observer) Option {
	return func(m *Manager) { m.observers = append(m.observers, o) }
}

// WithMaxWorkers bounds the number of actions running at once.
// Zero (the default) means unbounded.
func WithMaxWorkers(n int) Option {
	return func(m *Manager) { m.maxWorkers = n }
}

// WithClock sets the logical clock used to stamp events.
func WithClock(c *Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithTimeSource replaces time.Now for action timing and hierarchy idle
// ages.
func WithTimeSource(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// New creates a Manager. The scheduler is not running until Start or Run.
func New(opts ...Option) *Manager {
	m := &Manager{
		types:      make(map[string]*ActivityType),
		activities: make(map[string]Activity),
		parents:    make(map[string]Activity),
		ready:      newReadyQueue(),
		ids:        UUIDv7Generator{},
		clock:      NewClock(),
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if len(m.observers) > 0 {
		m.observer = Observers(m.observers...)
	}
	return m
}

// RegisterType registers an activity type. Registering a name twice is an
// error, as is any malformed or conflicting transition declaration.
func (m *Manager) RegisterType(def Definition) error {
	t, err := newActivityType(def)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.types[def.Name]; dup {
		return &RuntimeError{
			Code:         ErrCodeDuplicateType,
			Message:      "activity type already registered",
			ActivityType: def.Name,
		}
	}
	m.types[def.Name] = t
	m.logger.Debug("activity type registered", "type", def.Name, "transitions", t.transitions.Len())
	return nil
}

// Type returns a registered activity type.
func (m *Manager) Type(name string) (*ActivityType, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.types[name]
	return t, ok
}

// Types returns the registered type names in sorted order.
func (m *Manager) Types() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.types))
	for name := range m.types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Activity returns the live activity with the given correlation id.
func (m *Manager) Activity(id string) (Activity, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.activities[id]
	return a, ok
}

// Activities returns a snapshot of the live activities ordered by id.
func (m *Manager) Activities() []Activity {
	m.mu.Lock()
	out := make([]Activity, 0, len(m.activities))
	for _, a := range m.activities {
		out = append(out, a)
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Parent returns the parent of a live child activity.
func (m *Manager) Parent(a Activity) (Activity, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.parents[a.ID()]
	return p, ok
}

// Pending returns the number of hierarchies waiting to be scheduled.
func (m *Manager) Pending() int {
	return m.ready.len()
}

type initiateConfig struct {
	parent   Activity
	listener func(ActivityResult)
}

// InitiateOption configures Initiate.
type InitiateOption func(*initiateConfig)

// WithParent makes the new activity a child of parent. The child shares the
// parent's action queue and its state changes trigger the parent's child
// transitions.
func WithParent(parent Activity) InitiateOption {
	return func(c *initiateConfig) { c.parent = parent }
}

// WithListener registers fn to run once the activity finishes.
func WithListener(fn func(ActivityResult)) InitiateOption {
	return func(c *initiateConfig) { c.listener = fn }
}

// Initiate registers a locally created activity, moves it from Limbo to
// Started and calls its Initiate method.
//
// Registration problems are returned as errors. Failures of the activity's
// own Initiate are recorded on the returned Future and fail the activity.
//
// A top-level activity is initiated on the calling goroutine. A child is
// initiated inline when ctx belongs to an action of the parent's hierarchy,
// otherwise as the next action on that hierarchy.
func (m *Manager) Initiate(ctx context.Context, a Activity, opts ...InitiateOption) (*Future, error) {
	var cfg initiateConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	b := a.base()
	if b.mgr != nil {
		return nil, newActivityError(ErrCodeDuplicateActivity, a, "activity has already been initiated")
	}
	if _, fsm := a.(stateMachine); fsm {
		if _, ok := m.Type(a.Type()); !ok {
			return nil, newActivityError(ErrCodeUnknownType, a, "state machine activity type is not registered")
		}
	}
	if cfg.parent != nil {
		if cfg.parent.base().mgr != m || cfg.parent.State().IsFinished() {
			return nil, newActivityError(ErrCodeUnknownActivity, cfg.parent, "parent is not a live activity of this manager")
		}
	}
	if b.id == "" {
		b.id = m.ids.Generate()
	}

	topLevel := cfg.parent == nil
	inline := !topLevel && hierarchyFrom(ctx) == cfg.parent.base().h

	h, err := m.insert(a, cfg.parent, cfg.listener, OriginLocal, topLevel)
	if err != nil {
		return nil, err
	}

	switch {
	case topLevel:
		m.start(ctx, h, a)
		m.release(h)
	case inline:
		m.start(ctx, h, a)
	default:
		m.enqueue(h, action{
			kind:     "initiate",
			activity: a,
			run: func(ctx context.Context) error {
				m.start(ctx, h, a)
				return nil
			},
		})
	}
	return b.future, nil
}

func (m *Manager) start(ctx context.Context, h *hierarchy, a Activity) {
	ctx = withHierarchy(ctx, h)
	err := m.safely(a, func() error {
		if _, err := a.State().CompareAndAssign(Limbo, Started); err != nil {
			return err
		}
		return a.Initiate(ctx)
	})
	if err != nil {
		m.handleActivityException(ctx, a, err, nil)
	}
}

// insert registers a and wires its completion and parent notifications.
// With claim set, a new hierarchy starts out running so the caller can
// work on it before the scheduler sees any action.
func (m *Manager) insert(a Activity, parent Activity, listener func(ActivityResult), origin Origin, claim bool) (*hierarchy, error) {
	b := a.base()
	id := b.id

	remove := a.State().AddListener(func(from, to State) {
		m.onStateChange(a, parent, listener, from, to)
	})

	m.mu.Lock()
	if _, dup := m.activities[id]; dup {
		m.mu.Unlock()
		remove()
		return nil, newActivityError(ErrCodeDuplicateActivity, a, "an activity with this id is already registered")
	}
	b.mgr = m
	b.future = newFuture(a)
	if parent != nil {
		b.parent = parent
		b.h = parent.base().h
		m.parents[id] = parent
	} else {
		b.h = newHierarchy(a, m.now())
		b.h.running = claim
	}
	m.activities[id] = a
	m.mu.Unlock()

	m.logger.Debug("activity registered", "activity", id, "type", a.Type(), "origin", origin)
	m.emit(Event{Type: EventActivityCreated, Activity: a, Parent: parent, Origin: origin})
	return b.h, nil
}

func (m *Manager) onStateChange(a, parent Activity, listener func(ActivityResult), from, to State) {
	m.emit(Event{Type: EventStateChanged, Activity: a, Parent: parent, From: from, To: to})
	if to.IsTerminal() {
		m.finish(a, to, listener)
	}
	if parent != nil {
		m.enqueue(parent.base().h, action{
			kind:     "child-transition",
			activity: parent,
			run: func(ctx context.Context) error {
				return m.applyChildTransition(ctx, parent, a, to)
			},
		})
	}
}

func (m *Manager) finish(a Activity, final State, listener func(ActivityResult)) {
	id := a.ID()
	m.mu.Lock()
	if m.activities[id] == a {
		delete(m.activities, id)
		delete(m.parents, id)
	}
	m.mu.Unlock()

	res := a.base().future.complete(final)
	m.emit(Event{Type: EventActivityFinished, Activity: a, To: final, Err: res.Err})
	if listener == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("activity listener panicked", "activity", id, "panic", r)
		}
	}()
	listener(res)
}

// HandleMessage is the entry point for inbound messages.
//
// The message is routed by conversation-id. An unknown id creates a new
// activity through the factory of the message's x-activity-type, linking
// it to a live parent named by x-parent-scope when there is one. The
// message then becomes one action on the activity's hierarchy.
func (m *Manager) HandleMessage(ctx context.Context, msg message.Message) error {
	m.emit(Event{Type: EventMessageReceived, Message: msg, Target: message.Sender(msg)})

	id := msg.ConversationID()
	if id == "" {
		return m.notUnderstood(ctx, msg, "missing conversation-id in message")
	}

	a, ok := m.Activity(id)
	if !ok {
		switch msg.Performative() {
		case message.Failure, message.NotUnderstood:
			// Answering would bounce NotUnderstood between two peers that
			// both lost the conversation.
			m.logger.Debug("dropping signal for unknown activity",
				"activity", id, "performative", msg.Performative(), "from", message.Sender(msg))
			return nil
		}
		created, err := m.createRemote(ctx, id, msg)
		if err != nil || created == nil {
			return err
		}
		a = created
	}

	m.enqueue(a.base().h, m.messageAction(a, msg))
	return nil
}

// createRemote builds and registers the activity for an unknown
// conversation. It returns (nil, nil) when the message was answered with a
// refusal instead.
func (m *Manager) createRemote(ctx context.Context, id string, msg message.Message) (Activity, error) {
	var parent Activity
	if scope := msg.ParentScope(); scope != "" {
		parent, _ = m.Activity(scope)
	}

	typ, ok := m.Type(msg.ActivityType())
	if !ok {
		return nil, m.notUnderstood(ctx, msg, fmt.Sprintf("unknown activity type '%s'", msg.ActivityType()))
	}
	a, err := typ.make(id, msg)
	if err != nil {
		m.logger.Warn("activity factory failed", "activity", id, "type", typ.name, "error", err)
		return nil, m.reply(ctx, msg, message.ReplyWithContent(msg, message.Failure, err.Error()))
	}

	h, err := m.insert(a, parent, nil, OriginRemote, parent == nil)
	if err != nil {
		if IsDuplicateActivity(err) {
			// Lost the race against another message for the same conversation.
			existing, ok := m.Activity(id)
			if ok {
				return existing, nil
			}
		}
		return nil, err
	}
	if _, err := a.State().CompareAndAssign(Limbo, Started); err != nil {
		m.logger.Warn("cannot start remote activity", "activity", id, "error", err)
	}
	if parent == nil {
		m.release(h)
	}
	return a, nil
}

func (m *Manager) messageAction(a Activity, msg message.Message) action {
	_, fsm := a.(stateMachine)
	kind := "message"
	if fsm {
		kind = "transition"
	}
	return action{
		kind:     kind,
		activity: a,
		msg:      msg,
		run: func(ctx context.Context) error {
			if a.State().IsFinished() {
				m.logger.Debug("dropping message for finished activity",
					"activity", a.ID(), "performative", msg.Performative())
				return nil
			}
			if fsm {
				return m.applyMessageTransition(ctx, a, msg)
			}
			h, ok := a.(MessageHandler)
			if !ok {
				return newActivityError(ErrCodeNoHandler, a, "activity does not handle messages")
			}
			return h.HandleMessage(ctx, msg)
		},
	}
}

func (m *Manager) applyMessageTransition(ctx context.Context, a Activity, msg message.Message) error {
	typ, ok := m.Type(a.Type())
	if !ok {
		return newActivityError(ErrCodeUnknownType, a, "no local activity type found")
	}
	t, err := typ.transitions.Resolve(a.State().Current(), message.Attributes(msg))
	if err != nil {
		var re *RuntimeError
		if errors.As(err, &re) {
			re.ActivityID, re.ActivityType = a.ID(), a.Type()
		}
		return err
	}
	if t == nil {
		switch msg.Performative() {
		case message.Failure:
			if h, ok := a.(PeerFailureHandler); ok {
				o, err := h.OnPeerFailure(ctx, msg)
				return m.applyOutcome(a, nil, o, err)
			}
		case message.NotUnderstood:
			if h, ok := a.(PeerNotUnderstoodHandler); ok {
				o, err := h.OnPeerNotUnderstood(ctx, msg)
				return m.applyOutcome(a, nil, o, err)
			}
		}
		return m.notUnderstood(ctx, msg, "no state transition defined for this performative")
	}
	o, err := t.message(ctx, a, msg)
	return m.applyOutcome(a, t, o, err)
}

func (m *Manager) applyChildTransition(ctx context.Context, parent, child Activity, childState State) error {
	if parent.State().IsFinished() {
		return nil
	}
	typ, ok := m.Type(parent.Type())
	if !ok {
		return nil
	}
	t := typ.transitions.ResolveChild(parent.State().Current(), child.Type(), childState)
	if t == nil {
		return nil
	}
	o, err := t.child(ctx, parent, child)
	return m.applyOutcome(parent, t, o, err)
}

func (m *Manager) applyOutcome(a Activity, t *Transition, o Outcome, err error) error {
	if err != nil {
		return err
	}
	if t != nil {
		if err := t.checkOutcome(a, o); err != nil {
			return err
		}
	}
	if next, change := o.Next(); change {
		return a.State().Assign(next)
	}
	return nil
}

// Cancel moves a live activity to Canceled. The change is scheduled as an
// action on the activity's hierarchy.
func (m *Manager) Cancel(ctx context.Context, id string) error {
	a, ok := m.Activity(id)
	if !ok {
		return &RuntimeError{Code: ErrCodeUnknownActivity, Message: "no live activity with this id", ActivityID: id}
	}
	m.enqueue(a.base().h, action{
		kind:     "cancel",
		activity: a,
		run: func(ctx context.Context) error {
			if a.State().IsFinished() {
				return nil
			}
			return a.State().Assign(Canceled)
		},
	})
	return nil
}

// handleActivityException records err on the activity's future, fails the
// activity and, when a message triggered the failing action, answers its
// sender with a Failure carrying the error text.
func (m *Manager) handleActivityException(ctx context.Context, a Activity, err error, msg message.Message) {
	m.logger.Error("activity action failed", "activity", a.ID(), "type", a.Type(), "error", err)

	a.base().RecordError(err)
	if !a.State().IsFinished() {
		if assignErr := a.State().Assign(Failed); assignErr != nil && !IsTerminalStateError(assignErr) {
			m.logger.Error("cannot fail activity", "activity", a.ID(), "error", assignErr)
		}
	}
	if msg == nil {
		return
	}
	if replyErr := m.reply(ctx, msg, message.ReplyWithContent(msg, message.Failure, err.Error())); replyErr != nil {
		m.logger.Warn("cannot report failure to peer", "activity", a.ID(), "error", replyErr)
	}
}

func (m *Manager) notUnderstood(ctx context.Context, msg message.Message, why string) error {
	reply := message.ReplyAs(msg, message.NotUnderstood).
		Set(message.FieldContent, msg.Clone()).
		Set(message.FieldWhyNotUnderstood, why)
	if err := m.reply(ctx, msg, reply); err != nil {
		m.logger.Warn("cannot send not-understood", "reason", why, "error", err)
	}
	return nil
}

func (m *Manager) reply(ctx context.Context, to, reply message.Message) error {
	target := message.Sender(to)
	if target == "" {
		m.logger.Warn("message has no sender, reply dropped",
			"performative", reply.Performative(), "conversation", to.ConversationID())
		return nil
	}
	return m.send(ctx, target, reply)
}

func (m *Manager) send(ctx context.Context, target string, msg message.Message) error {
	if m.peer == nil {
		return &RuntimeError{Code: ErrCodeNotAttached, Message: "no peer interface configured"}
	}
	if err := m.peer.Send(ctx, target, msg); err != nil {
		return fmt.Errorf("send %s: %w", msg.Performative(), err)
	}
	m.emit(Event{Type: EventMessageSent, Message: msg, Target: target})
	return nil
}

func (m *Manager) broadcast(ctx context.Context, msg message.Message) error {
	if m.peer == nil {
		return &RuntimeError{Code: ErrCodeNotAttached, Message: "no peer interface configured"}
	}
	if err := m.peer.Broadcast(ctx, msg); err != nil {
		return fmt.Errorf("broadcast %s: %w", msg.Performative(), err)
	}
	m.emit(Event{Type: EventMessageSent, Message: msg, Target: "*"})
	return nil
}

func (m *Manager) networkTarget(peerID string) (string, bool) {
	if m.directory == nil {
		return "", false
	}
	return m.directory.NetworkTarget(peerID)
}

func (m *Manager) peerAt(target string) (string, bool) {
	if m.directory == nil {
		return "", false
	}
	return m.directory.PeerAt(target)
}

func (m *Manager) emit(ev Event) {
	ev.Seq = m.clock.Next()
	if m.observer != nil {
		m.observer.Observe(ev)
	}
}

func (m *Manager) enqueue(h *hierarchy, act action) {
	if h.add(act) {
		m.ready.push(h)
	}
}

func (m *Manager) release(h *hierarchy) {
	if h.release(m.now()) {
		m.ready.push(h)
	}
}

// safely runs fn, converting a panic into a PANIC runtime error.
func (m *Manager) safely(a Activity, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = newPanicError(a, r)
		}
	}()
	return fn()
}

// Run is the scheduler loop. It blocks until ctx is done, then waits for
// running actions to return.
//
// Each iteration pops the highest priority hierarchy and hands exactly one
// of its actions to a worker goroutine. The hierarchy re-enters the ready
// queue only when that action returns.
func (m *Manager) Run(ctx context.Context) error {
	m.logger.Info("activity scheduler starting", "max_workers", m.maxWorkers)

	var g errgroup.Group
	if m.maxWorkers > 0 {
		g.SetLimit(m.maxWorkers)
	}

	for {
		if h, ok := m.ready.tryPop(m.now()); ok {
			act, ok := h.take()
			if !ok {
				continue
			}
			g.Go(func() error {
				m.execute(ctx, h, act)
				return nil
			})
			continue
		}

		select {
		case <-ctx.Done():
			m.logger.Info("activity scheduler stopping")
			_ = g.Wait()
			return ctx.Err()
		case <-m.ready.wait():
		}
	}
}

func (m *Manager) execute(ctx context.Context, h *hierarchy, act action) {
	started := m.now()
	err := m.safely(act.activity, func() error {
		return act.run(withHierarchy(ctx, h))
	})
	if err != nil {
		m.handleActivityException(ctx, act.activity, err, act.msg)
	}
	m.emit(Event{
		Type:     EventActionExecuted,
		Activity: act.activity,
		Action:   act.kind,
		Message:  act.msg,
		Elapsed:  m.now().Sub(started),
		Err:      err,
	})
	m.release(h)
}

// Start runs the scheduler on its own goroutine until Stop.
func (m *Manager) Start(ctx context.Context) error {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.cancel != nil {
		return errors.New("activity manager already started")
	}
	ctx, cancel := context.WithCancel(ctx)
	stopped := make(chan struct{})
	m.cancel, m.stopped = cancel, stopped
	go func() {
		defer close(stopped)
		if err := m.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			m.logger.Error("activity scheduler exited", "error", err)
		}
	}()
	return nil
}

// Stop halts the scheduler started by Start and waits for running actions.
// Queued actions stay queued until the next Start.
func (m *Manager) Stop() {
	m.runMu.Lock()
	cancel, stopped := m.cancel, m.stopped
	m.cancel, m.stopped = nil, nil
	m.runMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-stopped
}

// Clear forgets every activity type, live activity and queued hierarchy.
func (m *Manager) Clear() {
	m.mu.Lock()
	m.types = make(map[string]*ActivityType)
	m.mu.Unlock()
	m.ClearActivities()
}

// ClearActivities forgets live activities and queued hierarchies but keeps
// the registered types. Futures of forgotten activities never resolve.
func (m *Manager) ClearActivities() {
	m.mu.Lock()
	m.activities = make(map[string]Activity)
	m.parents = make(map[string]Activity)
	m.mu.Unlock()
	m.ready.reset()
}

type hierarchyKey struct{}

func withHierarchy(ctx context.Context, h *hierarchy) context.Context {
	return context.WithValue(ctx, hierarchyKey{}, h)
}

func hierarchyFrom(ctx context.Context) *hierarchy {
	h, _ := ctx.Value(hierarchyKey{}).(*hierarchy)
	return h
}
