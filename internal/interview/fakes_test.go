package interview

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/interview-room/internal/domain"
)

// flush blocks until every event posted before it has been handled.
func (c *Controller) flush() {
	done := make(chan struct{})
	c.post(evCall(func() { close(done) }))
	select {
	case <-done:
	case <-c.done:
	}
}

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	fn      func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.UnixMilli(1_700_000_000_000)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), fn: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

// Advance moves time forward and runs due timers in deadline order.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.at.After(c.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()
	sort.Slice(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
	for _, t := range due {
		t.fn()
	}
}

func (c *fakeClock) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

type fakeRecognizer struct {
	mu        sync.Mutex
	supported bool
	starts    int
	stops     int
	aborts    int
	startErr  error
}

func (r *fakeRecognizer) Supported() bool { return r.supported }

func (r *fakeRecognizer) Start(string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.startErr != nil {
		return r.startErr
	}
	r.starts++
	return nil
}

func (r *fakeRecognizer) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stops++
	return nil
}

func (r *fakeRecognizer) Abort() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.aborts++
	return nil
}

func (r *fakeRecognizer) startCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.starts
}

type fakeSynth struct {
	mu      sync.Mutex
	voices  []Voice
	spoken  []Utterance
	cancels int
	pauses  int
	resumes int
}

func (s *fakeSynth) Supported() bool { return true }

func (s *fakeSynth) Voices() []Voice {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.voices
}

func (s *fakeSynth) Speak(u Utterance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spoken = append(s.spoken, u)
	return nil
}

func (s *fakeSynth) Cancel() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancels++
	return nil
}

func (s *fakeSynth) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pauses++
	return nil
}

func (s *fakeSynth) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resumes++
	return nil
}

func (s *fakeSynth) utterances() []Utterance {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Utterance(nil), s.spoken...)
}

func (s *fakeSynth) last() Utterance {
	u := s.utterances()
	if len(u) == 0 {
		return Utterance{}
	}
	return u[len(u)-1]
}

type sendCall struct {
	req   domain.ChatRequest
	reply chan sendResult
}

type sendResult struct {
	reply *domain.ChatReply
	err   error
}

// fakeChat holds each Send until the test answers it.
type fakeChat struct {
	calls   chan sendCall
	history map[string][]domain.Message
	// historyGate, when set, holds History until it is closed.
	historyGate chan struct{}
}

func newFakeChat() *fakeChat {
	return &fakeChat{calls: make(chan sendCall, 8), history: make(map[string][]domain.Message)}
}

func (f *fakeChat) Send(ctx context.Context, req domain.ChatRequest) (*domain.ChatReply, error) {
	call := sendCall{req: req, reply: make(chan sendResult, 1)}
	f.calls <- call
	select {
	case res := <-call.reply:
		return res.reply, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeChat) History(ctx context.Context, sessionID string) ([]domain.Message, error) {
	if f.historyGate != nil {
		select {
		case <-f.historyGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	msgs, ok := f.history[sessionID]
	if !ok {
		return nil, errors.New("unknown session")
	}
	return msgs, nil
}

func (f *fakeChat) next(t *testing.T) sendCall {
	t.Helper()
	select {
	case call := <-f.calls:
		return call
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for chat request")
		return sendCall{}
	}
}

func (f *fakeChat) expectNone(t *testing.T) {
	t.Helper()
	select {
	case call := <-f.calls:
		t.Fatalf("unexpected chat request: %+v", call.req)
	case <-time.After(50 * time.Millisecond):
	}
}

func (c sendCall) answer(text string) {
	c.reply <- sendResult{reply: &domain.ChatReply{Response: text, SessionID: c.req.SessionID}}
}

func (c sendCall) fail(err error) {
	c.reply <- sendResult{err: err}
}

type recordingNotifier struct {
	mu     sync.Mutex
	errs   []error
	states []Snapshot
}

func (n *recordingNotifier) OnState(s Snapshot) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.states = append(n.states, s)
}

func (n *recordingNotifier) OnError(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.errs = append(n.errs, err)
}

func (n *recordingNotifier) errors() []error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]error(nil), n.errs...)
}

func (n *recordingNotifier) allStates() []Snapshot {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Snapshot(nil), n.states...)
}

type harness struct {
	ctrl     *Controller
	clock    *fakeClock
	rec      *fakeRecognizer
	synth    *fakeSynth
	chat     *fakeChat
	notifier *recordingNotifier
	sessions *MemoryStore
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		clock:    newFakeClock(),
		rec:      &fakeRecognizer{supported: true},
		synth:    &fakeSynth{voices: []Voice{{Name: "Google US English", Lang: "en-US"}}},
		chat:     newFakeChat(),
		notifier: &recordingNotifier{},
		sessions: &MemoryStore{},
	}
	h.ctrl = NewController(cfg, h.chat, h.sessions,
		Devices{Recognizer: h.rec, Synthesizer: h.synth, Language: "en-US"},
		WithClock(h.clock), WithNotifier(h.notifier))

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = h.ctrl.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-h.ctrl.Done()
	})
	return h
}

// do posts through fn and waits until the controller has processed it.
func (h *harness) do(fn func(*Controller)) Snapshot {
	fn(h.ctrl)
	h.ctrl.flush()
	return h.ctrl.Snapshot()
}

// waitFor polls the snapshot until cond holds.
func (h *harness) waitFor(t *testing.T, cond func(Snapshot) bool) Snapshot {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		h.ctrl.flush()
		if s := h.ctrl.Snapshot(); cond(s) {
			return s
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met; last snapshot: %+v", h.ctrl.Snapshot())
	return Snapshot{}
}
