package domain

import "time"

// ChatRequest is one candidate utterance sent for a model reply. History
// holds the turns preceding Message; Opening carries the scripted opening
// line on the first exchange of a session.
type ChatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"sessionId"`
	History   []Turn `json:"history"`
	Opening   string `json:"opening,omitempty"`
}

// ReplyMetadata reports model cost and latency for a reply.
type ReplyMetadata struct {
	ResponseTimeMs int64 `json:"responseTimeMs"`
	TokensUsed     int   `json:"tokensUsed"`
}

// ChatReply is the interviewer's answer to a ChatRequest.
type ChatReply struct {
	Response  string        `json:"response"`
	SessionID string        `json:"sessionId"`
	MessageID string        `json:"messageId"`
	Timestamp time.Time     `json:"timestamp"`
	Metadata  ReplyMetadata `json:"metadata"`
}
