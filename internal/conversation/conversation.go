// Package conversation runs assistant turns: it streams the reply, hands a
// completed function call to the router and records everything in history.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"momentum/internal/domain"
	"momentum/internal/router"
	"momentum/internal/stream"
)

const DefaultMaxHistory = 50

// Dispatcher runs a parsed function call. *router.Router implements it.
type Dispatcher interface {
	DispatchNamed(ctx context.Context, caller domain.Caller, name string, env domain.Envelope) domain.FunctionCallResult
}

// Materializer persists confirmed previews. *engine.Engine implements it.
type Materializer interface {
	Materialize(ctx context.Context, caller domain.Caller, pending domain.Pending) domain.FunctionCallResult
}

type Deps struct {
	Transport  domain.Transport
	Dispatcher Dispatcher
	Confirmer  Materializer
	Context    domain.ContextBuilder
	// History is optional; without it history lives only in memory.
	History domain.HistoryStore
	Logger  *zap.Logger
}

type Config struct {
	MaxHistory   int
	SystemPrompt string
}

// Reply is what one turn produced. Message is always displayable.
type Reply struct {
	TurnID    string                     `json:"turn_id"`
	Message   string                     `json:"message"`
	Result    *domain.FunctionCallResult `json:"result,omitempty"`
	PendingID string                     `json:"pending_id,omitempty"`
	Cancelled bool                       `json:"cancelled,omitempty"`
	Failed    bool                       `json:"failed,omitempty"`
}

type turn struct {
	id          string
	agg         *stream.Aggregator
	cancel      context.CancelFunc
	done        chan struct{}
	cancelled   bool
	dispatching bool
}

// Orchestrator owns one conversation. At most one turn is in flight; a new
// Send cancels the previous turn and waits for it to wind down.
type Orchestrator struct {
	ID  string
	Now func() time.Time

	deps   Deps
	cfg    Config
	logger *zap.Logger

	mu       sync.Mutex
	messages []domain.Message
	current  *turn
}

func New(id string, deps Deps, cfg Config) *Orchestrator {
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = DefaultMaxHistory
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		ID:     id,
		Now:    time.Now,
		deps:   deps,
		cfg:    cfg,
		logger: logger.With(zap.String("conversation", id)),
	}
}

// Load replaces in-memory history with the persisted one.
func (o *Orchestrator) Load(ctx context.Context) error {
	if o.deps.History == nil {
		return nil
	}
	msgs, err := o.deps.History.ListMessages(ctx, o.ID)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	o.mu.Lock()
	o.messages = msgs
	o.mu.Unlock()
	return nil
}

// History returns a copy of the conversation so far.
func (o *Orchestrator) History() []domain.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	return slices.Clone(o.messages)
}

// Snapshot returns the partial text of the in-flight turn, if any.
func (o *Orchestrator) Snapshot() (turnID, text string, ok bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.current == nil {
		return "", "", false
	}
	return o.current.id, o.current.agg.Snapshot(), true
}

// Cancel stops the in-flight turn. It reports whether there was one.
func (o *Orchestrator) Cancel() bool {
	o.mu.Lock()
	t := o.current
	if t != nil {
		o.stop(t)
	}
	o.mu.Unlock()
	if t == nil {
		return false
	}
	<-t.done
	return true
}

// stop must be called with mu held.
func (o *Orchestrator) stop(t *turn) {
	if t.dispatching {
		return
	}
	t.cancelled = true
	t.agg.Cancel()
	t.cancel()
}

// Send runs one user turn. onText, if non-nil, receives streamed text.
// The returned error reports history persistence problems only.
func (o *Orchestrator) Send(ctx context.Context, caller domain.Caller, text string, onText func(string)) (Reply, error) {
	t, ctx := o.begin(ctx, onText)
	defer func() {
		t.cancel()
		o.mu.Lock()
		if o.current == t {
			o.current = nil
		}
		o.mu.Unlock()
		close(t.done)
	}()
	logger := o.logger.With(zap.String("turn", t.id))
	persist := &saver{o: o, ctx: context.WithoutCancel(ctx)}

	o.ensureSystem(persist)
	persist.append(o.message(domain.RoleUser, text))
	o.refreshContext(ctx, caller, persist, logger)

	req := domain.AssistantRequest{History: o.History(), Context: o.contextText()}
	res := t.agg.Run(ctx, o.deps.Transport.Stream(ctx, req))
	if res.Kind == stream.Failed && t.agg.Snapshot() == "" && !o.isCancelled(t) {
		logger.Info("stream failed, retrying without streaming", zap.Error(res.Err))
		res = o.sendOnce(ctx, req, res)
	}

	reply := Reply{TurnID: t.id}
	switch res.Kind {
	case stream.Cancelled:
		reply.Cancelled = true
		reply.Message = res.Text
		if res.Text != "" {
			m := o.message(domain.RoleAssistant, res.Text)
			m.Terminated = true
			persist.append(m)
		}
	case stream.Failed:
		reply.Failed = true
		reply.Message = res.Text
		m := o.message(domain.RoleAssistant, res.Text)
		m.Terminated = true
		persist.append(m)
	case stream.Text:
		reply.Message = res.Text
		persist.append(o.message(domain.RoleAssistant, res.Text))
	case stream.Call:
		if res.Text != "" {
			persist.append(o.message(domain.RoleAssistant, res.Text))
		}
		result, dispatched := o.dispatch(ctx, t, caller, res.Call, logger)
		if !dispatched {
			reply.Cancelled = true
			reply.Message = res.Text
			break
		}
		m := o.message(domain.RoleFunction, result.Message)
		m.FunctionName = result.FunctionName
		if p, ok := result.Pending(); ok {
			m.Pending = &p
			reply.PendingID = m.ID
		}
		persist.append(m)
		reply.Result = &result
		reply.Message = result.Message
	}
	o.trim(persist)
	return reply, persist.err
}

func (o *Orchestrator) begin(ctx context.Context, onText func(string)) (*turn, context.Context) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for o.current != nil {
		prev := o.current
		o.stop(prev)
		o.mu.Unlock()
		<-prev.done
		o.mu.Lock()
	}
	agg := stream.New(o.logger)
	agg.OnText = onText
	ctx, cancel := context.WithCancel(ctx)
	t := &turn{id: uuid.NewString(), agg: agg, cancel: cancel, done: make(chan struct{})}
	o.current = t
	return t, ctx
}

func (o *Orchestrator) isCancelled(t *turn) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return t.cancelled
}

func (o *Orchestrator) sendOnce(ctx context.Context, req domain.AssistantRequest, failed stream.Result) stream.Result {
	reply, err := o.deps.Transport.SendOnce(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return stream.Result{Kind: stream.Cancelled, Err: ctx.Err()}
		}
		o.logger.Warn("non-streaming send failed", zap.Error(err), zap.NamedError("stream_error", failed.Err))
		terr := domain.TransportError{Op: "send", Err: err}
		return stream.Result{Kind: stream.Failed, Text: stream.Annotate("", terr), Err: terr}
	}
	if reply.FunctionCall != nil {
		return stream.Result{Kind: stream.Call, Text: reply.Message, Call: *reply.FunctionCall}
	}
	return stream.Result{Kind: stream.Text, Text: reply.Message}
}

// dispatch parses and routes a completed call. It reports false when the
// turn was cancelled first; once dispatch starts the turn can no longer be cancelled.
func (o *Orchestrator) dispatch(ctx context.Context, t *turn, caller domain.Caller, call domain.FunctionCall, logger *zap.Logger) (domain.FunctionCallResult, bool) {
	o.mu.Lock()
	if t.cancelled || ctx.Err() != nil {
		o.mu.Unlock()
		return domain.FunctionCallResult{}, false
	}
	t.dispatching = true
	o.mu.Unlock()

	if !call.Valid() {
		logger.Warn("malformed function arguments", zap.String("function", call.Name))
		return domain.FunctionCallResult{
			FunctionName: call.Name,
			Message:      fmt.Sprintf("The %s request was garbled, nothing was changed. Please try again.", call.Name),
		}, true
	}
	env, err := router.ParseCall(call.Name, call.Arguments)
	if err != nil {
		return domain.FunctionCallResult{FunctionName: call.Name, Message: err.Error()}, true
	}
	// handlers run to completion even if the caller goes away
	res := o.deps.Dispatcher.DispatchNamed(context.WithoutCancel(ctx), caller, call.Name, env)
	logger.Info("function call",
		zap.String("function", res.FunctionName),
		zap.Bool("success", res.Success))
	return res, true
}

func (o *Orchestrator) message(role domain.Role, content string) domain.Message {
	return domain.Message{ID: uuid.NewString(), Role: role, Content: content, CreatedAt: o.now()}
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

func (o *Orchestrator) ensureSystem(s *saver) {
	o.mu.Lock()
	has := slices.ContainsFunc(o.messages, func(m domain.Message) bool { return m.Role == domain.RoleSystem })
	o.mu.Unlock()
	if !has {
		s.append(o.message(domain.RoleSystem, o.cfg.SystemPrompt))
	}
}

// refreshContext replaces the context entry with a fresh summary. A failed
// summary keeps the previous one.
func (o *Orchestrator) refreshContext(ctx context.Context, caller domain.Caller, s *saver, logger *zap.Logger) {
	if o.deps.Context == nil {
		return
	}
	text, err := o.deps.Context.BuildContext(ctx, caller.Clock())
	if err != nil {
		logger.Warn("context summary failed", zap.Error(err))
		return
	}
	o.mu.Lock()
	i := slices.IndexFunc(o.messages, func(m domain.Message) bool { return m.Role == domain.RoleContext })
	var m domain.Message
	if i >= 0 {
		m = o.messages[i]
		m.Content, m.CreatedAt = text, o.now()
		o.messages[i] = m
	}
	o.mu.Unlock()
	if i >= 0 {
		s.store(m)
		return
	}
	s.append(o.message(domain.RoleContext, text))
}

func (o *Orchestrator) contextText() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, m := range o.messages {
		if m.Role == domain.RoleContext {
			return m.Content
		}
	}
	return ""
}

// trim drops the oldest entries beyond MaxHistory. System and context
// entries are always kept, as is any entry still holding a preview.
func (o *Orchestrator) trim(s *saver) {
	o.mu.Lock()
	excess := len(o.messages) - o.cfg.MaxHistory
	var dropped []string
	if excess > 0 {
		kept := o.messages[:0]
		for _, m := range o.messages {
			if excess > 0 && !m.Role.Retained() && m.Pending == nil {
				dropped = append(dropped, m.ID)
				excess--
				continue
			}
			kept = append(kept, m)
		}
		o.messages = kept
	}
	o.mu.Unlock()
	if len(dropped) > 0 {
		s.remove(dropped)
	}
}

// Confirm materializes the pending preview on message id, or on the most
// recent one when id is empty.
func (o *Orchestrator) Confirm(ctx context.Context, caller domain.Caller, id string) (domain.FunctionCallResult, error) {
	m, err := o.takePending(id)
	if err != nil {
		return domain.FunctionCallResult{Message: err.Error()}, err
	}
	persist := &saver{o: o, ctx: ctx}
	persist.store(m)
	res := o.deps.Confirmer.Materialize(ctx, caller, *m.Pending)
	if !res.Success {
		// keep the preview so the user can retry
		o.restorePending(m)
		persist.store(m)
	}
	out := o.message(domain.RoleFunction, res.Message)
	out.FunctionName = res.FunctionName
	persist.append(out)
	o.trim(persist)
	return res, persist.err
}

// Discard drops the pending preview on message id, or the most recent one.
func (o *Orchestrator) Discard(ctx context.Context, id string) (domain.FunctionCallResult, error) {
	m, err := o.takePending(id)
	if err != nil {
		return domain.FunctionCallResult{Message: err.Error()}, err
	}
	persist := &saver{o: o, ctx: ctx}
	persist.store(m)
	titles := make([]string, 0, len(m.Pending.Drafts))
	for _, d := range m.Pending.Drafts {
		titles = append(titles, fmt.Sprintf("%q", d.Title))
	}
	res := domain.FunctionCallResult{
		FunctionName: m.FunctionName,
		Success:      true,
		Message:      fmt.Sprintf("Discarded %s; nothing was saved.", joinTitles(titles)),
	}
	persist.append(o.message(domain.RoleAssistant, res.Message))
	return res, persist.err
}

// ErrNoPending is returned when there is no preview to confirm or discard.
var ErrNoPending = errors.New("there is nothing waiting for confirmation")

// takePending clears the preview in history and returns the message as it
// was before clearing, with the cleared copy's id.
func (o *Orchestrator) takePending(id string) (domain.Message, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	idx := -1
	for i := len(o.messages) - 1; i >= 0; i-- {
		m := o.messages[i]
		if m.Pending != nil && (id == "" || m.ID == id) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return domain.Message{}, ErrNoPending
	}
	m := o.messages[idx]
	cleared := m
	cleared.Pending = nil
	o.messages[idx] = cleared
	return m, nil
}

func (o *Orchestrator) restorePending(m domain.Message) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if i := slices.IndexFunc(o.messages, func(x domain.Message) bool { return x.ID == m.ID }); i >= 0 {
		o.messages[i].Pending = m.Pending
	}
}

func joinTitles(ts []string) string {
	switch len(ts) {
	case 0:
		return "the preview"
	case 1:
		return ts[0]
	}
	return fmt.Sprintf("%d events", len(ts))
}

// saver applies history changes in memory and to the HistoryStore,
// remembering the first persistence error.
type saver struct {
	o   *Orchestrator
	ctx context.Context
	err error
}

func (s *saver) append(m domain.Message) {
	s.o.mu.Lock()
	s.o.messages = append(s.o.messages, m)
	s.o.mu.Unlock()
	s.store(m)
}

// store persists m without touching memory. A pending preview is stored as
// cleared once it has been taken.
func (s *saver) store(m domain.Message) {
	h := s.o.deps.History
	if h == nil {
		return
	}
	s.o.mu.Lock()
	if i := slices.IndexFunc(s.o.messages, func(x domain.Message) bool { return x.ID == m.ID }); i >= 0 {
		m = s.o.messages[i]
	}
	s.o.mu.Unlock()
	if err := h.AppendMessage(s.ctx, s.o.ID, m); err != nil && s.err == nil {
		s.err = domain.StoreError{Op: "save message", Err: err}
	}
}

func (s *saver) remove(ids []string) {
	h := s.o.deps.History
	if h == nil {
		return
	}
	if err := h.DeleteMessages(s.ctx, s.o.ID, ids); err != nil && s.err == nil {
		s.err = domain.StoreError{Op: "trim history", Err: err}
	}
}
