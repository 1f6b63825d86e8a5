package interview

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/interview-room/internal/domain"
)

// ChatClient reaches the chat gateway on behalf of one user.
type ChatClient interface {
	Send(ctx context.Context, req domain.ChatRequest) (*domain.ChatReply, error)
	History(ctx context.Context, sessionID string) ([]domain.Message, error)
}

// Config controls turn-taking behavior.
type Config struct {
	// AutoSubmitDelay is the silence after the last transcript change before
	// a listening utterance is submitted.
	AutoSubmitDelay time.Duration
	// AutoListen starts capture whenever nothing is speaking and no reply is
	// outstanding.
	AutoListen bool
	// ResumeListening restarts capture after speech ends if the user had the
	// microphone on.
	ResumeListening bool
	OpeningLine     string
	RequestTimeout  time.Duration
}

// Devices bundles the speech adapters a controller drives. Nil fields mean
// the capability is absent.
type Devices struct {
	Recognizer  Recognizer
	Synthesizer Synthesizer
	Language    string
	Output      OutputOptions
}

// Option customizes a Controller.
type Option func(*Controller)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(ctrl *Controller) { ctrl.clock = c }
}

// WithNotifier registers the observer of state changes and errors.
func WithNotifier(n Notifier) Option {
	return func(ctrl *Controller) { ctrl.notifier = n }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(ctrl *Controller) { ctrl.logger = l }
}

// Controller owns one interview session. All state is mutated by a single
// goroutine started with Run; public methods enqueue events for it.
type Controller struct {
	cfg      Config
	client   ChatClient
	sessions SessionStore
	input    *SpeechInput
	output   *SpeechOutput
	clock    Clock
	notifier Notifier
	logger   *slog.Logger

	events chan event
	done   chan struct{}
	runCtx context.Context

	sessionID      string
	lastSessionMs  int64
	messages       []Message
	msgSeq         int
	pending        string
	inFlight       bool
	restoring      bool
	submitQueued   bool
	listenIntent   bool
	captureBlocked bool
	timer          Timer
	timerGen       uint64
	timerText      string

	mu   sync.RWMutex
	snap Snapshot
}

// NewController builds a controller. It does nothing until Run is called.
func NewController(cfg Config, client ChatClient, sessions SessionStore, dev Devices, opts ...Option) *Controller {
	if cfg.AutoSubmitDelay <= 0 {
		cfg.AutoSubmitDelay = 4 * time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	if sessions == nil {
		sessions = &MemoryStore{}
	}
	out := dev.Output
	if out.Lang == "" {
		out.Lang = dev.Language
	}
	c := &Controller{
		cfg:      cfg,
		client:   client,
		sessions: sessions,
		input:    NewSpeechInput(dev.Recognizer, dev.Language),
		output:   NewSpeechOutput(dev.Synthesizer, out),
		clock:    SystemClock(),
		notifier: nopNotifier{},
		logger:   slog.Default(),
		events:   make(chan event, 64),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.sessionID = c.nextSessionID()
	c.snap = c.snapshot()
	return c
}

// Run processes events until ctx is cancelled.
func (c *Controller) Run(ctx context.Context) error {
	c.runCtx = ctx
	defer close(c.done)
	defer c.shutdown()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-c.events:
			c.handle(ev)
			c.publish()
		}
	}
}

// Done is closed when Run returns.
func (c *Controller) Done() <-chan struct{} { return c.done }

// Snapshot returns the latest published state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap
}

// Start begins a new interview with the scripted opening line.
func (c *Controller) Start() { c.post(evStart{}) }

// Reset abandons the current session and starts an empty one.
func (c *Controller) Reset() { c.post(evReset{}) }

// Restore reloads the stored session, if any, with its messages marked spoken.
// It only applies to a controller that has no conversation yet. Submits made
// while history is loading are held until it arrives.
func (c *Controller) Restore() { c.post(evRestore{}) }

// End closes the interview and forgets the stored session, so the next
// Restore starts empty.
func (c *Controller) End() { c.post(evEnd{}) }

// SetInput replaces the pending input with typed text.
func (c *Controller) SetInput(text string) { c.post(evInput{text: text}) }

// Submit sends the pending input.
func (c *Controller) Submit() { c.post(evSubmit{}) }

// SubmitText replaces the pending input with text and sends it.
func (c *Controller) SubmitText(text string) { c.post(evSubmit{text: text, replace: true}) }

// ToggleListening flips the microphone.
func (c *Controller) ToggleListening() { c.post(evToggle{}) }

// PauseSpeech pauses the current utterance.
func (c *Controller) PauseSpeech() { c.post(evPause{}) }

// ResumeSpeech continues a paused utterance.
func (c *Controller) ResumeSpeech() { c.post(evResume{}) }

// StopSpeech cancels the current utterance.
func (c *Controller) StopSpeech() { c.post(evStopSpeech{}) }

// TranscriptUpdated delivers the full list of recognition segments.
func (c *Controller) TranscriptUpdated(segments []string) {
	c.post(evTranscript{segments: append([]string(nil), segments...)})
}

// RecognitionEnded reports that the recognizer stopped on its own.
func (c *Controller) RecognitionEnded() { c.post(evRecognitionEnd{}) }

// RecognitionFailed reports a recognizer error code.
func (c *Controller) RecognitionFailed(code string) { c.post(evRecognitionError{code: code}) }

// SpeechStarted reports that the synthesizer began utterance id.
func (c *Controller) SpeechStarted(id string) { c.post(evSpeechStart{id: id}) }

// SpeechEnded reports that utterance id finished or was cancelled.
func (c *Controller) SpeechEnded(id string) { c.post(evSpeechEnd{id: id}) }

// VoicesLoaded delivers the synthesizer's voice list.
func (c *Controller) VoicesLoaded(voices []Voice) {
	c.post(evVoices{voices: append([]Voice(nil), voices...)})
}

func (c *Controller) post(ev event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

type event any

type (
	evStart            struct{}
	evReset            struct{}
	evRestore          struct{}
	evEnd              struct{}
	evInput            struct{ text string }
	evToggle           struct{}
	evPause            struct{}
	evResume           struct{}
	evStopSpeech       struct{}
	evRecognitionEnd   struct{}
	evRecognitionError struct{ code string }
	evTranscript       struct{ segments []string }
	evSpeechStart      struct{ id string }
	evSpeechEnd        struct{ id string }
	evVoices           struct{ voices []Voice }
	evTimer            struct{ gen uint64 }
	evCall             func()
	evSubmit           struct {
		text    string
		replace bool
	}
	evReply struct {
		sessionID string
		utterance string
		reply     *domain.ChatReply
		err       error
	}
	evRestored struct {
		sessionID string
		messages  []domain.Message
		err       error
	}
)

//nolint:gocyclo // One reducer keeps every transition in a single place.
func (c *Controller) handle(ev event) {
	switch ev := ev.(type) {
	case evStart:
		c.resetSession()
		if c.cfg.OpeningLine != "" {
			c.appendMessage(domain.RoleAssistant, c.cfg.OpeningLine)
			c.speakLast()
		}
	case evReset:
		c.resetSession()
	case evEnd:
		c.endSession()
	case evRestore:
		c.restore()
	case evRestored:
		c.applyRestored(ev)
	case evInput:
		c.pending = ev.text
	case evSubmit:
		if ev.replace {
			c.pending = ev.text
		}
		c.submit()
	case evToggle:
		c.toggle()
	case evPause:
		c.output.Pause()
	case evResume:
		c.output.Resume()
	case evStopSpeech:
		c.output.Stop()
		c.maybeListen()
	case evTranscript:
		if c.input.HandleResults(ev.segments) && c.input.Transcript() != "" {
			c.pending = c.input.Transcript()
		}
	case evRecognitionEnd:
		c.input.HandleEnd()
		c.maybeListen()
	case evRecognitionError:
		if blocksCapture(ev.code) {
			c.captureBlocked = true
			c.listenIntent = false
		}
		if err := c.input.HandleError(ev.code); err != nil {
			c.notifyError(err)
		}
	case evSpeechStart:
		if c.output.HandleStart(ev.id) {
			c.input.Stop()
		}
	case evSpeechEnd:
		if c.output.HandleEnd(ev.id) {
			c.maybeListen()
		}
	case evVoices:
		c.output.SetVoices(ev.voices)
	case evTimer:
		if ev.gen == c.timerGen && c.timer != nil {
			c.timer = nil
			c.submit()
		}
	case evReply:
		c.applyReply(ev)
	case evCall:
		ev()
	}
	c.reconcileTimer()
}

func (c *Controller) submit() {
	utterance := strings.TrimSpace(c.pending)
	if utterance == "" || c.inFlight {
		return
	}
	if c.restoring {
		c.submitQueued = true
		return
	}

	c.cancelTimer()
	c.input.Reset()
	c.pending = ""
	c.appendMessage(domain.RoleUser, utterance)
	c.inFlight = true

	window := BuildHistory(c.messages, string(domain.RoleAssistant))
	req := domain.ChatRequest{
		Message:   utterance,
		SessionID: c.sessionID,
		History:   window[:len(window)-1],
	}
	if len(req.History) == 0 && len(c.messages) > 0 && c.messages[0].Role == domain.RoleAssistant {
		req.Opening = c.messages[0].Content
	}

	c.logger.Info("submitting utterance", "session_id", c.sessionID, "history_len", len(req.History))
	go c.send(c.runCtx, req)
}

func (c *Controller) send(parent context.Context, req domain.ChatRequest) {
	ctx, cancel := context.WithTimeout(parent, c.cfg.RequestTimeout)
	defer cancel()
	reply, err := c.client.Send(ctx, req)
	c.post(evReply{sessionID: req.SessionID, utterance: req.Message, reply: reply, err: err})
}

func (c *Controller) applyReply(ev evReply) {
	if ev.sessionID != c.sessionID {
		c.logger.Info("discarding reply for stale session", "reply_session_id", ev.sessionID, "session_id", c.sessionID)
		return
	}
	c.inFlight = false

	if ev.err == nil && (ev.reply == nil || strings.TrimSpace(ev.reply.Response) == "") {
		ev.err = errors.New("empty reply")
	}
	if ev.err != nil {
		c.logger.Warn("chat request failed", "session_id", c.sessionID, "error", ev.err)
		if c.pending == "" {
			c.pending = ev.utterance
		}
		c.notifyError(ev.err)
		c.maybeListen()
		return
	}

	c.appendMessage(domain.RoleAssistant, ev.reply.Response)
	c.speakLast()
	c.maybeListen()
}

// speakLast hands the newest message to speech output once.
func (c *Controller) speakLast() {
	if len(c.messages) == 0 {
		return
	}
	m := &c.messages[len(c.messages)-1]
	if m.Role != domain.RoleAssistant || !m.markSpoken() {
		return
	}
	if !c.output.Supported() {
		return
	}
	c.input.Stop()
	if _, err := c.output.Speak(m.Content); err != nil {
		c.notifyError(err)
	}
}

func (c *Controller) toggle() {
	// Capture is suspended while the interviewer has the turn; the toggle
	// only flips whether it resumes afterwards.
	if c.output.Speaking() || c.inFlight {
		c.listenIntent = !c.listenIntent
		if c.listenIntent {
			c.captureBlocked = false
		}
		return
	}
	c.captureBlocked = false
	if err := c.input.Toggle(); err != nil {
		c.listenIntent = false
		c.notifyError(err)
		return
	}
	c.listenIntent = c.input.Listening()
}

// maybeListen starts capture when the turn is free and listening is wanted.
func (c *Controller) maybeListen() {
	if c.output.Speaking() || c.inFlight || c.input.Listening() || c.captureBlocked || !c.input.Supported() {
		return
	}
	if !c.cfg.AutoListen && !(c.cfg.ResumeListening && c.listenIntent) {
		return
	}
	if err := c.input.Start(); err != nil {
		c.captureBlocked = true
		c.notifyError(err)
	}
}

func (c *Controller) resetSession() {
	c.cancelTimer()
	c.output.Stop()
	c.input.Reset()
	c.clearTurn()
	c.sessionID = c.nextSessionID()
	c.persistSession()
	c.maybeListen()
}

// endSession drops the conversation and the stored session id. Capture stays
// off until the user asks for it.
func (c *Controller) endSession() {
	c.cancelTimer()
	c.output.Stop()
	c.input.Reset()
	c.clearTurn()
	c.sessionID = c.nextSessionID()
	if c.runCtx == nil {
		return
	}
	ctx, cancel := context.WithTimeout(c.runCtx, 5*time.Second)
	defer cancel()
	if err := c.sessions.Clear(ctx); err != nil {
		c.logger.Warn("failed to clear stored session", "error", err)
	}
	c.logger.Info("interview ended")
}

func (c *Controller) clearTurn() {
	c.pending = ""
	c.inFlight = false
	c.restoring = false
	c.submitQueued = false
	c.listenIntent = false
	c.messages = nil
}

func (c *Controller) restore() {
	if c.inFlight || c.restoring || len(c.messages) > 0 {
		c.logger.Info("keeping live session instead of restoring", "session_id", c.sessionID)
		c.persistSession()
		return
	}

	ctx, cancel := context.WithTimeout(c.runCtx, 5*time.Second)
	defer cancel()

	id, err := c.sessions.Get(ctx)
	if err != nil {
		c.logger.Warn("failed to read stored session", "error", err)
	}
	if id == "" {
		c.persistSession()
		return
	}

	c.sessionID = id
	c.restoring = true
	go func(parent context.Context, sessionID string) {
		ctx, cancel := context.WithTimeout(parent, c.cfg.RequestTimeout)
		defer cancel()
		msgs, err := c.client.History(ctx, sessionID)
		c.post(evRestored{sessionID: sessionID, messages: msgs, err: err})
	}(c.runCtx, id)
}

func (c *Controller) applyRestored(ev evRestored) {
	if !c.restoring || ev.sessionID != c.sessionID {
		return
	}
	c.restoring = false
	defer c.flushQueuedSubmit()

	if ev.err != nil {
		c.logger.Warn("failed to load session history", "session_id", ev.sessionID, "error", ev.err)
		c.notifyError(ev.err)
		return
	}
	for _, m := range ev.messages {
		c.messages = append(c.messages, Message{
			ID:        m.ID,
			Role:      m.Role,
			Content:   m.Content,
			CreatedAt: m.Timestamp,
			spoken:    true,
		})
	}
	c.logger.Info("restored session", "session_id", ev.sessionID, "messages", len(ev.messages))
}

func (c *Controller) flushQueuedSubmit() {
	if c.submitQueued {
		c.submitQueued = false
		c.submit()
	}
}

func (c *Controller) persistSession() {
	if c.runCtx == nil {
		return
	}
	ctx, cancel := context.WithTimeout(c.runCtx, 5*time.Second)
	defer cancel()
	if err := c.sessions.Set(ctx, c.sessionID); err != nil {
		c.logger.Warn("failed to persist session id", "session_id", c.sessionID, "error", err)
	}
}

func (c *Controller) appendMessage(role domain.Role, content string) {
	c.msgSeq++
	c.messages = append(c.messages, Message{
		ID:        c.sessionID + "-" + strconv.Itoa(c.msgSeq),
		Role:      role,
		Content:   content,
		CreatedAt: c.clock.Now(),
	})
}

// nextSessionID derives "session_<unix-ms>" and keeps IDs strictly increasing
// even when two sessions begin within the same millisecond.
func (c *Controller) nextSessionID() string {
	ms := c.clock.Now().UnixMilli()
	if ms <= c.lastSessionMs {
		ms = c.lastSessionMs + 1
	}
	c.lastSessionMs = ms
	return "session_" + strconv.FormatInt(ms, 10)
}

// reconcileTimer arms the auto-submit timer while a non-empty transcript is
// being captured with the turn free, re-arms it on every transcript change
// and cancels it otherwise.
func (c *Controller) reconcileTimer() {
	text := strings.TrimSpace(c.input.Transcript())
	want := c.input.Listening() && text != "" && !c.output.Speaking() && !c.inFlight && !c.submitQueued
	if !want {
		c.cancelTimer()
		return
	}
	if c.timer != nil && c.timerText == text {
		return
	}
	c.cancelTimer()
	c.timerGen++
	gen := c.timerGen
	c.timerText = text
	c.timer = c.clock.AfterFunc(c.cfg.AutoSubmitDelay, func() {
		c.post(evTimer{gen: gen})
	})
}

func (c *Controller) cancelTimer() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.timerGen++
	c.timerText = ""
}

func (c *Controller) notifyError(err error) {
	c.notifier.OnError(err)
}

func (c *Controller) state() TurnState {
	switch {
	case c.output.Speaking():
		return StateSpeaking
	case c.inFlight:
		return StateAwaitingReply
	case c.input.Listening():
		return StateListening
	default:
		return StateIdle
	}
}

func (c *Controller) snapshot() Snapshot {
	views := make([]MessageView, len(c.messages))
	for i, m := range c.messages {
		views[i] = MessageView{ID: m.ID, Role: m.Role, Content: m.Content, CreatedAt: m.CreatedAt, Spoken: m.spoken}
	}
	return Snapshot{
		SessionID:        c.sessionID,
		State:            c.state(),
		Messages:         views,
		PendingInput:     c.pending,
		Transcript:       c.input.Transcript(),
		Listening:        c.input.Listening(),
		Speaking:         c.output.Speaking(),
		Paused:           c.output.Paused(),
		AwaitingReply:    c.inFlight,
		Restoring:        c.restoring,
		CaptureSupported: c.input.Supported(),
		SpeechSupported:  c.output.Supported(),
	}
}

func (c *Controller) publish() {
	snap := c.snapshot()
	c.mu.Lock()
	c.snap = snap
	c.mu.Unlock()
	c.notifier.OnState(snap)
}

func (c *Controller) shutdown() {
	c.cancelTimer()
	c.output.Stop()
	c.input.Reset()
}
