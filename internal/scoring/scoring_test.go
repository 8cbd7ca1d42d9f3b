package scoring

import (
	"errors"
	"testing"

	"live-quiz-engine/internal/domain"

	"github.com/shopspring/decimal"
)

func TestSingleChoiceExactMatch(t *testing.T) {
	q := choiceQuestion(domain.QuestionSingleChoice, []string{"B"}, 10)

	res, err := Score(q, domain.Answer{Kind: domain.AnswerChoice, Choices: []string{"B"}}, Policy{})
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if !res.Correct || !res.Points.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("expected 10 points, got %+v", res)
	}

	res, err = Score(q, domain.Answer{Kind: domain.AnswerChoice, Choices: []string{"A"}}, Policy{})
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if res.Correct || !res.Points.IsZero() {
		t.Fatalf("expected zero for wrong option, got %+v", res)
	}
}

func TestMultiChoicePartialCredit(t *testing.T) {
	q := choiceQuestion(domain.QuestionMultiChoice, []string{"A", "B", "C"}, 6)
	answer := domain.Answer{Kind: domain.AnswerChoice, Choices: []string{"A", "B", "D"}}

	strict, err := Score(q, answer, Policy{})
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if !strict.Points.IsZero() {
		t.Fatalf("expected no credit without partial policy, got %s", strict.Points)
	}

	partial, err := Score(q, answer, Policy{PartialCredit: true})
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	// (2 correct - 1 incorrect) / 3 * 6 = 2
	if partial.Correct || !partial.Points.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("expected 2 partial points, got %+v", partial)
	}

	floored, _ := Score(q, domain.Answer{Kind: domain.AnswerChoice, Choices: []string{"A", "D", "E"}}, Policy{PartialCredit: true})
	if !floored.Points.IsZero() {
		t.Fatalf("expected partial credit floored at zero, got %s", floored.Points)
	}
}

func TestFreeTextMatching(t *testing.T) {
	q := domain.Question{
		ID:     "q1",
		Type:   domain.QuestionFreeText,
		Key:    domain.AnswerKey{Accepted: []string{"Photosynthesis"}},
		Points: decimal.NewFromInt(5),
	}

	exact, _ := Score(q, domain.Answer{Kind: domain.AnswerText, Text: "  photosynthesis "}, Policy{})
	if !exact.Correct || !exact.Points.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("expected case-insensitive trimmed match, got %+v", exact)
	}

	typo := domain.Answer{Kind: domain.AnswerText, Text: "photosynthesys"}
	strict, _ := Score(q, typo, Policy{})
	if strict.Correct || !strict.NeedsReview {
		t.Fatalf("expected unresolved answer flagged for review, got %+v", strict)
	}
	fuzzy, _ := Score(q, typo, Policy{FuzzyText: true, FuzzyDistance: 1})
	if !fuzzy.Correct || fuzzy.NeedsReview {
		t.Fatalf("expected fuzzy match within one edit, got %+v", fuzzy)
	}
}

func TestOrderingAndMatchingProportional(t *testing.T) {
	ordering := domain.Question{
		ID:     "q-order",
		Type:   domain.QuestionOrdering,
		Key:    domain.AnswerKey{Order: []string{"a", "b", "c", "d"}},
		Points: decimal.NewFromInt(8),
	}
	res, _ := Score(ordering, domain.Answer{Kind: domain.AnswerOrdering, Order: []string{"a", "c", "b", "d"}}, Policy{})
	if res.Correct || !res.Points.Equal(decimal.NewFromInt(4)) {
		t.Fatalf("expected 2 of 4 placed = 4 points, got %+v", res)
	}

	matching := domain.Question{
		ID:   "q-match",
		Type: domain.QuestionMatching,
		Key: domain.AnswerKey{Pairs: []domain.Pair{
			{Left: "fr", Right: "Paris"},
			{Left: "de", Right: "Berlin"},
			{Left: "it", Right: "Rome"},
		}},
		Points: decimal.NewFromInt(3),
	}
	res, _ = Score(matching, domain.Answer{Kind: domain.AnswerPairs, Pairs: []domain.Pair{
		{Left: "fr", Right: "Paris"},
		{Left: "de", Right: "Rome"},
		{Left: "it", Right: "Rome"},
	}}, Policy{})
	if res.Correct || !res.Points.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("expected 2 of 3 pairs = 2 points, got %+v", res)
	}
}

func TestScoreIsDeterministic(t *testing.T) {
	q := choiceQuestion(domain.QuestionMultiChoice, []string{"A", "C"}, 7)
	answer := domain.Answer{Kind: domain.AnswerChoice, Choices: []string{"C"}}
	first, _ := Score(q, answer, Policy{PartialCredit: true})
	for i := 0; i < 50; i++ {
		again, _ := Score(q, answer, Policy{PartialCredit: true})
		if !again.Points.Equal(first.Points) || again.Correct != first.Correct {
			t.Fatalf("score changed between runs: %+v vs %+v", first, again)
		}
	}
	if !first.Points.Equal(decimal.RequireFromString("3.5")) {
		t.Fatalf("expected 3.5, got %s", first.Points)
	}
}

func TestValidateRejectsMismatchedPayloads(t *testing.T) {
	q := choiceQuestion(domain.QuestionSingleChoice, []string{"B"}, 1)
	cases := []domain.Answer{
		{Kind: domain.AnswerText, Text: "B"},
		{Kind: domain.AnswerChoice},
		{Kind: domain.AnswerChoice, Choices: []string{"A", "B"}},
		{Kind: domain.AnswerChoice, Choices: []string{"Z"}},
	}
	for _, answer := range cases {
		if err := Validate(q, answer); !errors.Is(err, domain.ErrInvalidAnswer) {
			t.Fatalf("expected invalid answer for %+v, got %v", answer, err)
		}
	}
}

func choiceQuestion(typ domain.QuestionType, correct []string, points int64) domain.Question {
	return domain.Question{
		ID:   "q1",
		Type: typ,
		Options: []domain.Option{
			{ID: "A", Text: "a"},
			{ID: "B", Text: "b"},
			{ID: "C", Text: "c"},
			{ID: "D", Text: "d"},
			{ID: "E", Text: "e"},
		},
		Key:    domain.AnswerKey{Options: correct},
		Points: decimal.NewFromInt(points),
	}
}
