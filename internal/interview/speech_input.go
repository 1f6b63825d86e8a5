package interview

import (
	"fmt"
	"strings"

	"github.com/ashureev/interview-room/internal/shared"
)

// Recognizer is a continuous speech-to-text device. Implementations deliver
// results and lifecycle changes back through the controller.
type Recognizer interface {
	Supported() bool
	Start(lang string) error
	Stop() error
	Abort() error
}

// Recognition error codes reported by browser speech engines.
const (
	RecognitionNotAllowed        = "not-allowed"
	RecognitionServiceNotAllowed = "service-not-allowed"
	RecognitionNoSpeech          = "no-speech"
	RecognitionAborted           = "aborted"
	RecognitionAudioCapture      = "audio-capture"
	RecognitionNetwork           = "network"
)

// SpeechInput tracks the listening flag and the reconstructed transcript of
// one recognizer. It is owned by a single controller goroutine.
type SpeechInput struct {
	rec        Recognizer
	lang       string
	transcript string
	listening  bool
}

// NewSpeechInput wraps rec. A nil rec means speech capture is unavailable.
func NewSpeechInput(rec Recognizer, lang string) *SpeechInput {
	return &SpeechInput{rec: rec, lang: lang}
}

// Supported reports whether speech capture is available.
func (s *SpeechInput) Supported() bool {
	return s.rec != nil && s.rec.Supported()
}

// Listening reports whether capture is active.
func (s *SpeechInput) Listening() bool { return s.listening }

// Transcript returns the text recognized since the last reset.
func (s *SpeechInput) Transcript() string { return s.transcript }

// Start begins capture. It is a no-op when already listening and fails with
// a capability error when no recognizer is available.
func (s *SpeechInput) Start() error {
	if s.listening {
		return nil
	}
	if !s.Supported() {
		return shared.CapabilityUnavailable("speech recognition is not supported")
	}
	if err := s.rec.Start(s.lang); err != nil {
		return shared.NewError(shared.KindCapabilityUnavailable, "start speech recognition", err)
	}
	s.listening = true
	return nil
}

// Stop ends capture and keeps the transcript.
func (s *SpeechInput) Stop() {
	if !s.listening {
		return
	}
	s.listening = false
	if s.rec != nil {
		_ = s.rec.Stop()
	}
}

// Toggle stops capture when listening and starts it otherwise.
func (s *SpeechInput) Toggle() error {
	if s.listening {
		s.Stop()
		return nil
	}
	return s.Start()
}

// Reset clears the transcript, aborts recognition and forces listening off.
func (s *SpeechInput) Reset() {
	s.transcript = ""
	if s.listening && s.rec != nil {
		_ = s.rec.Abort()
	}
	s.listening = false
}

// HandleResults rebuilds the transcript from every interim and final segment
// of the current recognition session. Results arriving while not listening
// belong to an aborted session and are dropped. It reports whether the
// transcript changed.
func (s *SpeechInput) HandleResults(segments []string) bool {
	if !s.listening {
		return false
	}
	next := strings.Join(segments, "")
	if next == s.transcript {
		return false
	}
	s.transcript = next
	return true
}

// HandleEnd records that the device stopped capturing on its own.
func (s *SpeechInput) HandleEnd() {
	s.listening = false
}

// HandleError forces listening off and classifies the device error code.
// Benign codes return nil.
func (s *SpeechInput) HandleError(code string) error {
	s.listening = false
	switch code {
	case RecognitionNoSpeech, RecognitionAborted:
		return nil
	case RecognitionNotAllowed, RecognitionServiceNotAllowed:
		return shared.CapabilityUnavailable("microphone permission denied")
	case RecognitionAudioCapture:
		return shared.CapabilityUnavailable("no microphone available")
	case RecognitionNetwork:
		return shared.NewError(shared.KindNetwork, "speech recognition service unreachable", nil)
	default:
		return shared.CapabilityUnavailable(fmt.Sprintf("speech recognition error: %s", code))
	}
}

// blocksCapture reports whether an error code means retrying capture is futile.
func blocksCapture(code string) bool {
	return code == RecognitionNotAllowed || code == RecognitionServiceNotAllowed || code == RecognitionAudioCapture
}
