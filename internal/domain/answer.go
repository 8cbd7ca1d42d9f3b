package domain

// AnswerKind tags which variant of Answer is populated.
type AnswerKind string

const (
	AnswerChoice   AnswerKind = "choice"
	AnswerText     AnswerKind = "text"
	AnswerOrdering AnswerKind = "ordering"
	AnswerPairs    AnswerKind = "pairs"
)

// Answer is the tagged answer payload. Exactly the field named by Kind is meaningful.
type Answer struct {
	Kind    AnswerKind `json:"kind" validate:"required,oneof=choice text ordering pairs"`
	Choices []string   `json:"choices,omitempty"`
	Text    string     `json:"text,omitempty"`
	Order   []string   `json:"order,omitempty"`
	Pairs   []Pair     `json:"pairs,omitempty"`
}

// AnswerKind returns the answer variant expected for the question type.
func (t QuestionType) AnswerKind() (AnswerKind, bool) {
	switch t {
	case QuestionSingleChoice, QuestionMultiChoice, QuestionMedia:
		return AnswerChoice, true
	case QuestionFreeText:
		return AnswerText, true
	case QuestionOrdering:
		return AnswerOrdering, true
	case QuestionMatching:
		return AnswerPairs, true
	}
	return "", false
}
