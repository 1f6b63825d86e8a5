// Package interview implements the turn-taking engine of an interview
// session: it fuses typed and recognized speech input with synthesized
// speech output, decides when an utterance is complete and keeps the
// session's message history.
package interview

import (
	"time"

	"github.com/ashureev/interview-room/internal/domain"
)

// TurnState is the externally visible phase of a session.
type TurnState string

const (
	StateIdle          TurnState = "idle"
	StateListening     TurnState = "listening"
	StateAwaitingReply TurnState = "awaiting_reply"
	StateSpeaking      TurnState = "speaking"
)

// Message is one entry of a session's visible conversation. Only the spoken
// flag changes after creation, and only from false to true.
type Message struct {
	ID        string
	Role      domain.Role
	Content   string
	CreatedAt time.Time
	spoken    bool
}

// Spoken reports whether speech output has been invoked for the message.
func (m *Message) Spoken() bool {
	return m.spoken
}

// markSpoken flips the spoken flag. It returns false if it was already set.
func (m *Message) markSpoken() bool {
	if m.spoken {
		return false
	}
	m.spoken = true
	return true
}

// MessageView is the serializable form of a Message.
type MessageView struct {
	ID        string      `json:"id"`
	Role      domain.Role `json:"role"`
	Content   string      `json:"content"`
	CreatedAt time.Time   `json:"createdAt"`
	Spoken    bool        `json:"spoken"`
}

// Snapshot is an immutable copy of a controller's observable state.
type Snapshot struct {
	SessionID        string        `json:"sessionId"`
	State            TurnState     `json:"state"`
	Messages         []MessageView `json:"messages"`
	PendingInput     string        `json:"pendingInput"`
	Transcript       string        `json:"transcript"`
	Listening        bool          `json:"listening"`
	Speaking         bool          `json:"speaking"`
	Paused           bool          `json:"paused"`
	AwaitingReply    bool          `json:"awaitingReply"`
	Restoring        bool          `json:"restoring"`
	CaptureSupported bool          `json:"captureSupported"`
	SpeechSupported  bool          `json:"speechSupported"`
}

// Notifier receives state changes and surfaced errors. Calls are made from
// the controller goroutine and must not block.
type Notifier interface {
	OnState(Snapshot)
	OnError(error)
}

type nopNotifier struct{}

func (nopNotifier) OnState(Snapshot) {}
func (nopNotifier) OnError(error)    {}
