package room

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/ashureev/interview-room/internal/interview"
	"github.com/ashureev/interview-room/internal/metrics"
	"github.com/ashureev/interview-room/internal/shared"
)

const outboxSize = 256

var errRoomClosed = errors.New("room closed")

// outbox queues frames for the connection's writer. Sends never block the
// controller goroutine: when the queue is full a state frame is dropped,
// since the next one supersedes it, and any other frame marks the client as
// too slow to keep in sync.
type outbox struct {
	ch      chan Outbound
	metrics *metrics.Metrics
	onStall func()

	mu     sync.Mutex
	closed bool
}

func newOutbox(m *metrics.Metrics, onStall func()) *outbox {
	return &outbox{ch: make(chan Outbound, outboxSize), metrics: m, onStall: onStall}
}

func (o *outbox) send(f Outbound) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return errRoomClosed
	}
	select {
	case o.ch <- f:
		return nil
	default:
	}
	o.metrics.RecordFrameDropped(f.Type)
	if f.Type != FrameState && o.onStall != nil {
		o.closed = true
		go o.onStall()
		return errRoomClosed
	}
	return nil
}

func (o *outbox) close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
}

// remoteRecognizer forwards capture commands to the browser's recognizer.
type remoteRecognizer struct {
	out       *outbox
	supported atomic.Bool
}

func (r *remoteRecognizer) Supported() bool { return r.supported.Load() }

func (r *remoteRecognizer) Start(lang string) error {
	if err := r.out.send(Outbound{Type: FrameRecognitionStart, Lang: lang}); err != nil {
		return shared.NewError(shared.KindCapabilityUnavailable, "speech capture is not connected", err)
	}
	return nil
}

func (r *remoteRecognizer) Stop() error {
	return r.out.send(Outbound{Type: FrameRecognitionStop})
}

func (r *remoteRecognizer) Abort() error {
	return r.out.send(Outbound{Type: FrameRecognitionAbort})
}

// remoteSynthesizer forwards utterances to the browser's speech synthesis.
type remoteSynthesizer struct {
	out       *outbox
	supported atomic.Bool

	mu     sync.Mutex
	voices []interview.Voice
}

func (s *remoteSynthesizer) Supported() bool { return s.supported.Load() }

func (s *remoteSynthesizer) Voices() []interview.Voice {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.voices
}

func (s *remoteSynthesizer) setVoices(v []interview.Voice) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.voices = append([]interview.Voice(nil), v...)
}

func (s *remoteSynthesizer) Speak(u interview.Utterance) error {
	return s.out.send(Outbound{Type: FrameSpeak, Utterance: &u})
}

func (s *remoteSynthesizer) Cancel() error {
	return s.out.send(Outbound{Type: FrameCancelSpeech})
}

func (s *remoteSynthesizer) Pause() error {
	return s.out.send(Outbound{Type: FramePauseSpeech})
}

func (s *remoteSynthesizer) Resume() error {
	return s.out.send(Outbound{Type: FrameResumeSpeech})
}

// frameNotifier publishes controller state and errors as frames.
type frameNotifier struct {
	out *outbox
}

func (n frameNotifier) OnState(s interview.Snapshot) {
	_ = n.out.send(Outbound{Type: FrameState, State: &s})
}

func (n frameNotifier) OnError(err error) {
	_ = n.out.send(Outbound{
		Type:    FrameError,
		Kind:    string(shared.KindOf(err)),
		Message: shared.MessageOf(err),
	})
}
