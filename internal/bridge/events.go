package bridge

import "time"

// Event types published to monitor clients.
const (
	EventTurnStarted   = "turn.started"
	EventTurnCompleted = "turn.completed"
	EventTurnFailed    = "turn.failed"
	EventNoReplyArmed  = "noreply.armed"
	EventSessionEnded  = "session.ended"
)

// Event describes something that happened to one user's session.
type Event struct {
	Type      string    `json:"type"`
	UserID    string    `json:"userId"`
	SessionID string    `json:"sessionId,omitempty"`
	Turn      uint64    `json:"turn,omitempty"`
	Timestamp time.Time `json:"timestamp"`

	// turn.started
	Action string `json:"action,omitempty"`

	// turn.completed
	Sent   int `json:"sent,omitempty"`
	Failed int `json:"failed,omitempty"`

	// noreply.armed
	Delay string `json:"delay,omitempty"`

	// turn.failed
	Error string `json:"error,omitempty"`
}

// EventSink receives bridge events. It must not block.
type EventSink func(Event)
