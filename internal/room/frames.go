// Package room hosts interview controllers behind browser WebSocket
// connections. The browser owns the speech devices; a room relays device
// commands to it and feeds device events back into the controller.
package room

import (
	"github.com/ashureev/interview-room/internal/interview"
)

// Inbound frame types sent by the browser.
const (
	FrameCapabilities     = "capabilities"
	FrameTranscript       = "transcript"
	FrameRecognitionEnd   = "recognition_end"
	FrameRecognitionError = "recognition_error"
	FrameSpeechStart      = "speech_start"
	FrameSpeechEnd        = "speech_end"
	FrameVoices           = "voices"
	FrameInput            = "input"
	FrameSubmit           = "submit"
	FrameToggleMic        = "toggle_mic"
	FrameStart            = "start"
	FrameReset            = "reset"
	FrameEnd              = "end"
	FramePause            = "pause"
	FrameResume           = "resume"
	FrameStopSpeech       = "stop_speech"
	FramePing             = "ping"
)

// Outbound frame types sent to the browser.
const (
	FrameState            = "state"
	FrameSpeak            = "speak"
	FrameCancelSpeech     = "cancel_speech"
	FramePauseSpeech      = "pause_speech"
	FrameResumeSpeech     = "resume_speech"
	FrameRecognitionStart = "recognition_start"
	FrameRecognitionStop  = "recognition_stop"
	FrameRecognitionAbort = "recognition_abort"
	FrameError            = "error"
	FramePong             = "pong"
)

// Inbound is a frame received from the browser. Only the fields relevant to
// Type are set.
type Inbound struct {
	Type        string            `json:"type"`
	Text        *string           `json:"text,omitempty"`
	Segments    []string          `json:"segments,omitempty"`
	Code        string            `json:"code,omitempty"`
	ID          string            `json:"id,omitempty"`
	Voices      []interview.Voice `json:"voices,omitempty"`
	Recognition bool              `json:"recognition,omitempty"`
	Synthesis   bool              `json:"synthesis,omitempty"`
}

// Outbound is a frame sent to the browser.
type Outbound struct {
	Type      string               `json:"type"`
	State     *interview.Snapshot  `json:"state,omitempty"`
	Utterance *interview.Utterance `json:"utterance,omitempty"`
	Lang      string               `json:"lang,omitempty"`
	Kind      string               `json:"kind,omitempty"`
	Message   string               `json:"message,omitempty"`
}
