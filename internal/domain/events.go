package domain

import "time"

// EventType names a message pushed to participant channels.
type EventType string

const (
	EventSnapshot         EventType = "snapshot"
	EventLeaderboardDelta EventType = "leaderboard-delta"
	EventQuestionAdvance  EventType = "question-advance"
	EventSessionEnded     EventType = "session-ended"
	EventError            EventType = "error"
	EventAnswerResult     EventType = "answer-result"
)

// Event is the envelope written to participant channels. Seq is assigned
// per session; a snapshot's Seq is the last delta it already reflects.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"sessionId"`
	Seq       uint64    `json:"seq"`
	Payload   any       `json:"payload"`
}

// ActiveQuestion describes the question currently open for answers.
type ActiveQuestion struct {
	Index       int       `json:"index"`
	Total       int       `json:"total"`
	Question    Question  `json:"question"`
	ActivatedAt time.Time `json:"activatedAt"`
	Deadline    time.Time `json:"deadline"`
}

// Snapshot is replayed to a channel when it registers.
type Snapshot struct {
	State       State           `json:"state"`
	Question    *ActiveQuestion `json:"question,omitempty"`
	Leaderboard Leaderboard     `json:"leaderboard"`
	// Reconnect is the backoff schedule clients should follow, in milliseconds.
	Reconnect []int64 `json:"reconnect,omitempty"`
}

// SessionEnded is the payload of the final event of a session.
type SessionEnded struct {
	Reason      string      `json:"reason"`
	EndedAt     time.Time   `json:"endedAt"`
	Leaderboard Leaderboard `json:"leaderboard"`
}

// ErrorPayload carries a client-facing failure.
type ErrorPayload struct {
	Reason  string `json:"reason"`
	Message string `json:"message"`
}
