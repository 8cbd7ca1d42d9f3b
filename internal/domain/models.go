package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// State is the lifecycle state of a live quiz session.
type State string

const (
	StateDraft     State = "draft"
	StateScheduled State = "scheduled"
	StateActive    State = "active"
	StateEnded     State = "ended"
	StateArchived  State = "archived"
)

// AcceptsJoins reports whether participants may join in this state.
func (s State) AcceptsJoins() bool {
	return s == StateScheduled || s == StateActive
}

// QuestionType selects how a question is answered and scored.
type QuestionType string

const (
	QuestionSingleChoice QuestionType = "single_choice"
	QuestionMultiChoice  QuestionType = "multi_choice"
	QuestionFreeText     QuestionType = "free_text"
	QuestionOrdering     QuestionType = "ordering"
	QuestionMatching     QuestionType = "matching"
	// QuestionMedia is a choice question whose prompt is an image, audio or video clip.
	QuestionMedia QuestionType = "media"
)

// Option represents a selectable answer of a choice question.
type Option struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Pair links a left-hand item to a right-hand item of a matching question.
type Pair struct {
	Left  string `json:"left"`
	Right string `json:"right"`
}

// AnswerKey holds the correct answer. Only the field matching
// the question type is used.
type AnswerKey struct {
	Options  []string `json:"options,omitempty"`
	Accepted []string `json:"accepted,omitempty"`
	Order    []string `json:"order,omitempty"`
	Pairs    []Pair   `json:"pairs,omitempty"`
}

// Question is immutable once its session is active.
type Question struct {
	ID               string          `json:"id"`
	Type             QuestionType    `json:"type"`
	Prompt           string          `json:"prompt"`
	MediaURL         string          `json:"mediaUrl,omitempty"`
	Options          []Option        `json:"options,omitempty"`
	Items            []string        `json:"items,omitempty"`
	Key              AnswerKey       `json:"key"`
	Points           decimal.Decimal `json:"points"`
	TimeLimitSeconds int             `json:"timeLimitSeconds,omitempty"`
}

// TimeLimit returns the question's own limit or fallback when unset.
func (q Question) TimeLimit(fallback time.Duration) time.Duration {
	if q.TimeLimitSeconds > 0 {
		return time.Duration(q.TimeLimitSeconds) * time.Second
	}
	return fallback
}

// PointValue defaults to one point when unset.
func (q Question) PointValue() decimal.Decimal {
	if q.Points.IsPositive() {
		return q.Points
	}
	return decimal.NewFromInt(1)
}

// View strips the answer key so the question can be sent to participants.
func (q Question) View() Question {
	q.Key = AnswerKey{}
	return q
}

// SessionDefinition is the authored quiz session as loaded from the store.
type SessionDefinition struct {
	ID                      string     `json:"id"`
	Title                   string     `json:"title"`
	Questions               []Question `json:"questions"`
	DefaultTimeLimitSeconds int        `json:"defaultTimeLimitSeconds,omitempty"`
}

// Question finds a question by ID and returns its position.
func (d SessionDefinition) Question(questionID string) (Question, int, bool) {
	for i := range d.Questions {
		if d.Questions[i].ID == questionID {
			return d.Questions[i], i, true
		}
	}
	return Question{}, -1, false
}

// Participant represents a quiz participant and their session membership.
type Participant struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"displayName"`
	Guest       bool      `json:"guest,omitempty"`
	JoinOrder   int       `json:"joinOrder"`
	JoinedAt    time.Time `json:"joinedAt"`
}

// Submission is one participant's accepted answer to one question.
type Submission struct {
	ID              string    `json:"id"`
	SessionID       string    `json:"sessionId"`
	ParticipantID   string    `json:"participantId"`
	QuestionID      string    `json:"questionId"`
	Answer          Answer    `json:"answer"`
	ClientTimestamp time.Time `json:"clientTimestamp"`
	ReceivedAt      time.Time `json:"receivedAt"`
}

// ScoreRecord is the immutable scored outcome of a submission.
type ScoreRecord struct {
	ID            string          `json:"id"`
	SubmissionID  string          `json:"submissionId"`
	SessionID     string          `json:"sessionId"`
	ParticipantID string          `json:"participantId"`
	QuestionID    string          `json:"questionId"`
	Points        decimal.Decimal `json:"points"`
	Correct       bool            `json:"correct"`
	NeedsReview   bool            `json:"needsReview,omitempty"`
	TimeTaken     time.Duration   `json:"timeTaken"`
	ScoredAt      time.Time       `json:"scoredAt"`
}

// LeaderboardEntry is the cumulative standing of one participant. Rank is
// derived when a snapshot is produced and never stored.
type LeaderboardEntry struct {
	ParticipantID string          `json:"participantId"`
	DisplayName   string          `json:"displayName"`
	Score         decimal.Decimal `json:"score"`
	CorrectCount  int             `json:"correctCount"`
	TimeTaken     time.Duration   `json:"timeTaken"`
	JoinOrder     int             `json:"joinOrder"`
	UpdatedAt     time.Time       `json:"updatedAt"`
	Rank          int             `json:"rank,omitempty"`
}

// Leaderboard captures the ranked scoreboard for a quiz session.
type Leaderboard struct {
	SessionID   string             `json:"sessionId"`
	Entries     []LeaderboardEntry `json:"entries"`
	Unconfirmed bool               `json:"unconfirmed,omitempty"`
	UpdatedAt   time.Time          `json:"updatedAt"`
}

// Receipt summarizes an accepted submission for the submitting participant.
type Receipt struct {
	SubmissionID string           `json:"submissionId"`
	QuestionID   string           `json:"questionId"`
	Awarded      decimal.Decimal  `json:"awarded"`
	Correct      bool             `json:"correct"`
	NeedsReview  bool             `json:"needsReview,omitempty"`
	Entry        LeaderboardEntry `json:"entry"`
}

// SubmissionRequest is an inbound answer as received from a participant.
type SubmissionRequest struct {
	SessionID       string    `json:"sessionId" validate:"required"`
	ParticipantID   string    `json:"participantId" validate:"required"`
	QuestionID      string    `json:"questionId" validate:"required"`
	Answer          Answer    `json:"answer"`
	ClientTimestamp time.Time `json:"clientTimestamp"`
}
