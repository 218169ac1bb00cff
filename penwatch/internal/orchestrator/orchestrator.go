// Package orchestrator ties the page together: it tracks the active
// editable target, feeds its changes to the monitor, offers the overlay
// when the user pauses, calls the enhancer on accept, and writes the
// rewrite back while ignoring its own echo.
//
// One Orchestrator serves one page. All state is owned by the goroutine
// running Run; remote calls and writes run in helper goroutines that post
// their outcome back to the loop.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hazyhaar/penwatch/enhance"
	"github.com/hazyhaar/penwatch/idgen"
	"github.com/hazyhaar/penwatch/observability"
	"github.com/hazyhaar/penwatch/penwatch/dom"
	"github.com/hazyhaar/penwatch/penwatch/internal/classify"
	"github.com/hazyhaar/penwatch/penwatch/internal/hostadapter"
	"github.com/hazyhaar/penwatch/penwatch/internal/monitor"
	"github.com/hazyhaar/penwatch/penwatch/internal/surface"
	"github.com/hazyhaar/penwatch/penwatch/internal/textio"
	"github.com/hazyhaar/penwatch/penwatch/prompt"
)

var (
	// ErrCancelled answers a message request whose session was superseded or dropped.
	ErrCancelled = errors.New("orchestrator: session cancelled")
	// ErrStopped is returned once Run has exited.
	ErrStopped = errors.New("orchestrator: stopped")
)

// MissingKeyAlert is shown on the page when accept is pressed without credentials.
const MissingKeyAlert = "Please set your API key first (enhance.api_key in the penwatch config, or GEMINI_API_KEY)."

// BlurPolicy decides what happens to an in-flight remote call when the
// target loses focus.
type BlurPolicy string

const (
	// BlurSuppress lets the call finish and discards its result.
	BlurSuppress BlurPolicy = "suppress"
	// BlurCancel cancels the call's context.
	BlurCancel BlurPolicy = "cancel"
)

// PromptSource returns the stored instruction.
type PromptSource interface {
	Prompt() string
}

// EventSink records session outcomes.
type EventSink interface {
	LogEvent(ctx context.Context, e observability.BusinessEvent)
}

// Config wires an Orchestrator.
type Config struct {
	Page     dom.Page
	Enhancer enhance.Enhancer
	Prompts  PromptSource

	// Writer replaces field content. Default: a textio.Writer with the
	// default host adapter strategies.
	Writer *textio.Writer

	// Debounce is the quiet period before an offer. Default: 2s.
	Debounce time.Duration
	// GuardSettle keeps change events tagged programmatic after a write. Default: 100ms.
	GuardSettle time.Duration
	// EnterRelease delays re-enabling the Enter key after a request ends. Default: 1.5s.
	EnterRelease time.Duration
	// ErrorDismiss is how long an error overlay stays up. Default: 3s.
	ErrorDismiss time.Duration

	Overlay    surface.Config
	BlurPolicy BlurPolicy

	// Events receives one business event per finished session. Optional.
	Events EventSink
	// NewID generates session IDs. Default: "ses_" + UUIDv7.
	NewID  idgen.Generator
	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Debounce <= 0 {
		c.Debounce = 2 * time.Second
	}
	if c.GuardSettle <= 0 {
		c.GuardSettle = 100 * time.Millisecond
	}
	if c.EnterRelease <= 0 {
		c.EnterRelease = 1500 * time.Millisecond
	}
	if c.ErrorDismiss <= 0 {
		c.ErrorDismiss = 3 * time.Second
	}
	if c.BlurPolicy == "" {
		c.BlurPolicy = BlurSuppress
	}
	if c.NewID == nil {
		c.NewID = idgen.Prefixed("ses_", idgen.Default)
	}
	if c.Overlay.Logger == nil {
		c.Overlay.Logger = c.Logger
	}
	if c.Writer == nil {
		c.Writer = textio.NewWriter(textio.Config{
			Resolver: hostadapter.New(c.Page, c.Logger),
			Logger:   c.Logger,
		})
	}
}

type enhanceResult struct {
	sessionID string
	raw       string
	err       error
}

type writeResult struct {
	sessionID string
	text      string
	res       textio.Result
}

// Orchestrator is the per-page state machine.
type Orchestrator struct {
	cfg    Config
	page   dom.Page
	logger *slog.Logger

	mon  *monitor.Monitor
	surf *surface.Surface

	// Loop-owned state.
	ctx       context.Context
	target    *Target
	focusedAt time.Time
	session   *Session
	writing   bool // self-write guard

	guard   timer
	enter   timer
	dismiss timer

	results chan enhanceResult
	writes  chan writeResult
	cmds    chan func()
	done    chan struct{}
}

// New creates an Orchestrator. Call Run to start it.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Page == nil {
		return nil, fmt.Errorf("orchestrator: page is required")
	}
	if cfg.Enhancer == nil {
		return nil, fmt.Errorf("orchestrator: enhancer is required")
	}
	if cfg.Prompts == nil {
		return nil, fmt.Errorf("orchestrator: prompt source is required")
	}
	cfg.defaults()
	logger := cfg.Logger.With("url", cfg.Page.URL())
	return &Orchestrator{
		cfg:     cfg,
		page:    cfg.Page,
		logger:  logger,
		mon:     monitor.New(monitor.Config{Window: cfg.Debounce, Logger: logger}),
		surf:    surface.New(cfg.Page, cfg.Overlay),
		results: make(chan enhanceResult, 4),
		writes:  make(chan writeResult, 4),
		cmds:    make(chan func()),
		done:    make(chan struct{}),
	}, nil
}

// Run processes page events until ctx is cancelled or the page's event
// stream closes.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.ctx = ctx
	defer close(o.done)
	defer o.shutdown()

	events := o.page.Events()
	o.logger.Info("orchestrator: started")

	for {
		select {
		case <-ctx.Done():
			o.logger.Info("orchestrator: stopped")
			return ctx.Err()

		case ev, ok := <-events:
			if !ok {
				o.logger.Info("orchestrator: page closed")
				return nil
			}
			o.handleEvent(ctx, ev)

		case <-o.mon.TimerC():
			o.onDebounce(ctx)

		case r := <-o.results:
			o.onResult(ctx, r)

		case w := <-o.writes:
			o.onWriteDone(ctx, w)

		case <-o.guard.c:
			o.guard.fired()
			o.writing = false

		case <-o.enter.c:
			o.enter.fired()
			if err := o.page.BlockEnter(ctx, false); err != nil {
				o.logger.Debug("orchestrator: release enter", "error", err)
			}

		case <-o.dismiss.c:
			o.dismiss.fired()
			o.onDismiss(ctx)

		case fn := <-o.cmds:
			fn()
		}
	}
}

// EnhanceActive rewrites the active field with instruction applied to its
// live text. Without an active field it returns Injected=false.
func (o *Orchestrator) EnhanceActive(ctx context.Context, instruction string) MessageResult {
	reply := make(chan MessageResult, 1)
	if err := o.do(ctx, func() { o.enhanceActive(instruction, reply) }); err != nil {
		return MessageResult{Err: err}
	}
	select {
	case r := <-reply:
		return r
	case <-ctx.Done():
		return MessageResult{Err: ctx.Err()}
	case <-o.done:
		return MessageResult{Err: ErrStopped}
	}
}

// Snapshot returns the current state.
func (o *Orchestrator) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := o.do(ctx, func() {
		snap = Snapshot{
			URL:            o.page.URL(),
			FocusedAt:      o.focusedAt,
			Monitor:        string(o.mon.State()),
			Session:        o.session.info(),
			Writing:        o.writing,
			OverlayVisible: o.surf.Visible(),
			OverlayMode:    string(o.surf.Mode()),
		}
		if o.target != nil {
			snap.TargetID = o.target.Node.ID()
			snap.TargetKind = o.target.Kind.String()
		}
		if last, ok := o.mon.LastEnhanced(); ok {
			snap.LastEnhanced = last
		}
	})
	return snap, err
}

// do runs fn on the loop goroutine and waits for it to finish.
func (o *Orchestrator) do(ctx context.Context, fn func()) error {
	ran := make(chan struct{})
	wrapped := func() {
		defer close(ran)
		fn()
	}
	select {
	case o.cmds <- wrapped:
	case <-ctx.Done():
		return ctx.Err()
	case <-o.done:
		return ErrStopped
	}
	select {
	case <-ran:
		return nil
	case <-o.done:
		return ErrStopped
	}
}

// --- page events ---

func (o *Orchestrator) handleEvent(ctx context.Context, ev dom.Event) {
	switch ev.Kind {
	case dom.EventFocus:
		o.onFocus(ctx, ev)
	case dom.EventBlur:
		o.onBlur(ctx, ev)
	case dom.EventInput, dom.EventMutation:
		o.onChange(ctx, ev)
	case dom.EventDetach:
		o.onDetach(ctx, ev)
	case dom.EventAccept:
		o.onAccept(ctx)
	case dom.EventDecline:
		o.onDecline(ctx)
	}
}

func (o *Orchestrator) isTarget(n dom.Node) bool {
	return o.target != nil && n != nil && n.ID() == o.target.Node.ID()
}

func (o *Orchestrator) onFocus(ctx context.Context, ev dom.Event) {
	if ev.Node == nil || o.writing {
		return
	}
	info := ev.Info
	if info == nil {
		info, _ = ev.Node.Info(ctx)
	}
	if !classify.IsEligible(info) {
		if classify.IsSearchBox(info) {
			o.logger.Debug("orchestrator: ignoring search box", "node", ev.Node.ID())
		}
		return
	}
	if o.isTarget(ev.Node) {
		return
	}

	o.retire(ctx, "refocus")
	o.target = &Target{Node: ev.Node, Kind: classify.KindOf(info)}
	o.focusedAt = ev.At
	if err := o.page.Watch(ctx, ev.Node); err != nil {
		o.logger.Warn("orchestrator: watch target", "node", ev.Node.ID(), "error", err)
	}
	o.mon.Attach(ev.Node, textio.Read(ctx, ev.Node))
	o.logger.Debug("orchestrator: target attached", "node", ev.Node.ID(), "kind", o.target.Kind)
}

func (o *Orchestrator) onBlur(ctx context.Context, ev dom.Event) {
	if o.writing || !o.isTarget(ev.Node) {
		return
	}
	o.mon.Cancel()
	if s := o.session; s != nil && s.Origin == OriginDebounce {
		o.cancelSession(ctx, "blur", o.cfg.BlurPolicy == BlurCancel)
	}
	o.dismiss.stop()
	o.hideOverlay(ctx)
}

func (o *Orchestrator) onDetach(ctx context.Context, ev dom.Event) {
	if o.writing || !o.isTarget(ev.Node) {
		return
	}
	o.logger.Debug("orchestrator: target detached", "node", ev.Node.ID())
	o.retire(ctx, "detached")
}

func (o *Orchestrator) onChange(ctx context.Context, ev dom.Event) {
	if !o.isTarget(ev.Node) {
		return
	}
	origin := monitor.OriginUser
	if o.writing {
		origin = monitor.OriginProgrammatic
	}
	text := textio.Read(ctx, o.target.Node)
	if !o.mon.Observe(monitor.ChangeEvent{Node: o.target.Node, Text: text, At: ev.At, Origin: origin}) {
		return
	}
	if o.session != nil {
		o.cancelSession(ctx, "edited", true)
		o.dismiss.stop()
		o.hideOverlay(ctx)
	}
}

func (o *Orchestrator) onDebounce(ctx context.Context) {
	if o.target == nil {
		o.mon.Expire("")
		return
	}
	live := textio.Read(ctx, o.target.Node)
	text, ok := o.mon.Expire(live)
	if !ok {
		return
	}

	o.cancelSession(ctx, "superseded", true)
	o.dismiss.stop()
	s := o.newSession(o.target.Node, text, OriginDebounce)
	s.Status = StatusArmed

	shown, err := o.surf.Show(ctx, s.Target, text)
	if err != nil {
		o.logger.Warn("orchestrator: show overlay", "error", err)
	}
	if !shown {
		s.Status = StatusCancelled
		o.session = nil
		return
	}
	o.logger.Debug("orchestrator: session armed", "session", s.ID, "chars", len(text))
}

func (o *Orchestrator) onAccept(ctx context.Context) {
	s := o.session
	if s == nil || s.Status != StatusArmed {
		o.logger.Debug("orchestrator: accept ignored", "session", s.info())
		return
	}
	if err := o.cfg.Enhancer.Ready(); err != nil {
		o.logger.Warn("orchestrator: enhancer not ready", "error", err)
		if err := o.page.Alert(ctx, MissingKeyAlert); err != nil {
			o.logger.Debug("orchestrator: alert", "error", err)
		}
		o.cancelSession(ctx, "missing credentials", true)
		o.hideOverlay(ctx)
		return
	}

	out := prompt.Outbound(o.cfg.Prompts.Prompt(), s.Snapshot)
	o.startRequest(ctx, s, out)
	if err := o.surf.Busy(ctx); err != nil {
		o.logger.Warn("orchestrator: busy overlay", "error", err)
	}
}

func (o *Orchestrator) onDecline(ctx context.Context) {
	if s := o.session; s != nil && !s.Status.Terminal() {
		o.cancelSession(ctx, "declined", true)
	}
	o.session = nil
	o.dismiss.stop()
	o.hideOverlay(ctx)
}

func (o *Orchestrator) onDismiss(ctx context.Context) {
	if s := o.session; s != nil && s.Status == StatusFailed {
		o.session = nil
	}
	o.hideOverlay(ctx)
}

// --- remote call and write ---

func (o *Orchestrator) enhanceActive(instruction string, reply chan MessageResult) {
	ctx := o.ctx
	if o.target == nil {
		reply <- MessageResult{}
		return
	}
	if err := o.cfg.Enhancer.Ready(); err != nil {
		reply <- MessageResult{Err: err}
		return
	}

	source := textio.Read(ctx, o.target.Node)
	if strings.TrimSpace(source) == "" {
		source = o.mon.LastProcessed()
	}
	out := prompt.Outbound(instruction, source)

	o.mon.Cancel()
	o.cancelSession(ctx, "superseded", true)
	o.dismiss.stop()
	o.hideOverlay(ctx)

	s := o.newSession(o.target.Node, source, OriginMessage)
	s.reply = reply
	o.startRequest(ctx, s, out)
}

func (o *Orchestrator) startRequest(ctx context.Context, s *Session, out string) {
	s.Status = StatusRequesting
	o.enter.stop()
	if err := o.page.BlockEnter(ctx, true); err != nil {
		o.logger.Debug("orchestrator: block enter", "error", err)
	}

	callCtx, cancel := context.WithCancel(o.ctx)
	s.cancel = cancel
	enh := o.cfg.Enhancer
	id := s.ID
	o.logger.Info("orchestrator: requesting enhancement", "session", id, "origin", s.Origin, "model", enh.Model())

	go func() {
		defer cancel()
		raw, err := enh.Enhance(callCtx, out)
		select {
		case o.results <- enhanceResult{sessionID: id, raw: raw, err: err}:
		case <-o.done:
		}
	}()
}

func (o *Orchestrator) onResult(ctx context.Context, r enhanceResult) {
	s := o.session
	if s == nil || s.ID != r.sessionID || s.Status != StatusRequesting {
		o.logger.Debug("orchestrator: dropping stale result", "session", r.sessionID)
		return
	}
	if r.err != nil {
		o.fail(ctx, s, r.err)
		return
	}
	text := prompt.Parse(r.raw)
	if text == "" {
		o.fail(ctx, s, errors.New("empty response"))
		return
	}

	o.writing = true
	o.guard.stop()
	node := s.Target
	writer := o.cfg.Writer
	id := s.ID
	go func() {
		res := writer.Write(ctx, node, text)
		select {
		case o.writes <- writeResult{sessionID: id, text: text, res: res}:
		case <-o.done:
		}
	}()
}

func (o *Orchestrator) onWriteDone(ctx context.Context, w writeResult) {
	o.guard.reset(o.cfg.GuardSettle)
	o.enter.reset(o.cfg.EnterRelease)

	res := w.res
	s := o.session
	current := s != nil && s.ID == w.sessionID

	if res.Replaced && res.Node != nil && o.target != nil {
		o.logger.Info("orchestrator: target replaced", "old", o.target.Node.ID(), "new", res.Node.ID())
		o.target.Node = res.Node
		o.mon.Retarget(res.Node)
		if current {
			s.Target = res.Node
		}
		if err := o.page.Watch(ctx, res.Node); err != nil {
			o.logger.Warn("orchestrator: watch replacement", "error", err)
		}
	}

	if res.Err != nil {
		o.logger.Warn("orchestrator: write failed", "session", w.sessionID, "tier", res.Tier, "error", res.Err)
		if current {
			o.fail(ctx, s, res.Err)
		}
		return
	}

	if o.target != nil && (!current || o.isTarget(s.Target)) {
		o.mon.MarkEnhanced(w.text)
	}
	if !current {
		return
	}
	s.Status = StatusFulfilled
	o.session = nil
	o.logger.Info("orchestrator: enhancement applied", "session", s.ID, "tier", res.Tier, "replaced", res.Replaced)
	o.record(ctx, s, "")
	o.replyTo(s, MessageResult{Injected: true, Enhanced: true})
	o.hideOverlay(ctx)
}

func (o *Orchestrator) fail(ctx context.Context, s *Session, err error) {
	s.Status = StatusFailed
	o.logger.Warn("orchestrator: enhancement failed", "session", s.ID, "error", err)
	o.record(ctx, s, err.Error())
	o.replyTo(s, MessageResult{Err: err})
	o.enter.reset(o.cfg.EnterRelease)

	if s.Origin != OriginDebounce {
		o.session = nil
		return
	}
	if err := o.surf.Error(ctx, "Error: "+errorMessage(err)); err != nil {
		o.logger.Debug("orchestrator: error overlay", "error", err)
	}
	o.dismiss.reset(o.cfg.ErrorDismiss)
}

// --- helpers ---

func (o *Orchestrator) newSession(target dom.Node, snapshot string, origin Origin) *Session {
	s := &Session{
		ID:       o.cfg.NewID(),
		Target:   target,
		Snapshot: snapshot,
		Status:   StatusIdle,
		Origin:   origin,
		Created:  time.Now(),
	}
	o.session = s
	return s
}

// cancelSession drops the current session. abort also cancels its remote call.
func (o *Orchestrator) cancelSession(ctx context.Context, reason string, abort bool) {
	s := o.session
	if s == nil {
		return
	}
	o.session = nil
	if s.Status.Terminal() {
		return
	}
	wasRequesting := s.Status == StatusRequesting
	s.Status = StatusCancelled
	if abort && s.cancel != nil {
		s.cancel()
	}
	if wasRequesting {
		o.enter.reset(o.cfg.EnterRelease)
	}
	o.logger.Debug("orchestrator: session cancelled", "session", s.ID, "reason", reason)
	o.record(ctx, s, reason)
	o.replyTo(s, MessageResult{Err: ErrCancelled})
}

// retire forgets the active target.
func (o *Orchestrator) retire(ctx context.Context, reason string) {
	if o.target == nil {
		return
	}
	o.cancelSession(ctx, reason, true)
	o.mon.Detach()
	o.dismiss.stop()
	o.hideOverlay(ctx)
	o.target = nil
	if err := o.page.Unwatch(ctx); err != nil {
		o.logger.Debug("orchestrator: unwatch", "error", err)
	}
}

func (o *Orchestrator) hideOverlay(ctx context.Context) {
	if err := o.surf.Hide(ctx); err != nil {
		o.logger.Debug("orchestrator: hide overlay", "error", err)
	}
}

func (o *Orchestrator) replyTo(s *Session, r MessageResult) {
	if s.reply == nil {
		return
	}
	s.reply <- r
	s.reply = nil
}

func (o *Orchestrator) record(ctx context.Context, s *Session, reason string) {
	if o.cfg.Events == nil {
		return
	}
	details, _ := json.Marshal(map[string]string{
		"origin": string(s.Origin),
		"url":    o.page.URL(),
		"model":  o.cfg.Enhancer.Model(),
		"reason": reason,
	})
	o.cfg.Events.LogEvent(ctx, observability.BusinessEvent{
		EventType:   "enhancement",
		ServiceName: "penwatch",
		EntityType:  "session",
		EntityID:    s.ID,
		Action:      string(s.Status),
		Details:     string(details),
		Success:     s.Status == StatusFulfilled,
	})
}

func (o *Orchestrator) shutdown() {
	if s := o.session; s != nil && !s.Status.Terminal() {
		s.Status = StatusCancelled
		if s.cancel != nil {
			s.cancel()
		}
		o.replyTo(s, MessageResult{Err: ErrStopped})
	}
	o.session = nil
	o.guard.stop()
	o.enter.stop()
	o.dismiss.stop()
	o.mon.Detach()
}

func errorMessage(err error) string {
	var apiErr *enhance.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return err.Error()
}

// timer is a restartable one-shot whose channel is nil while idle, so it
// can sit in a select unconditionally.
type timer struct {
	t *time.Timer
	c <-chan time.Time
}

func (t *timer) reset(d time.Duration) {
	t.stop()
	t.t = time.NewTimer(d)
	t.c = t.t.C
}

func (t *timer) stop() {
	if t.t != nil {
		t.t.Stop()
	}
	t.fired()
}

func (t *timer) fired() {
	t.t = nil
	t.c = nil
}
