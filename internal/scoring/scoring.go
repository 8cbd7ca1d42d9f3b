// Package scoring maps a submitted answer and its question to awarded points.
// Every function here is pure: identical inputs always give identical results.
package scoring

import (
	"fmt"
	"strings"

	"live-quiz-engine/internal/domain"

	"github.com/agnivade/levenshtein"
	"github.com/shopspring/decimal"
)

// Policy holds the configurable scoring switches.
type Policy struct {
	// PartialCredit awards multi-choice answers proportionally:
	// (correct selections - incorrect selections) / correct options, floored at zero.
	PartialCredit bool
	// FuzzyText accepts free-text answers within FuzzyDistance edits of an accepted answer.
	FuzzyText     bool
	FuzzyDistance int
}

// Result is the outcome of scoring one answer.
type Result struct {
	Points      decimal.Decimal
	Correct     bool
	NeedsReview bool
}

// Validate checks that the answer variant fits the question type and only
// references known options.
func Validate(q domain.Question, a domain.Answer) error {
	want, ok := q.Type.AnswerKind()
	if !ok {
		return fmt.Errorf("%w: unsupported question type %q", domain.ErrInvalidAnswer, q.Type)
	}
	if a.Kind != want {
		return fmt.Errorf("%w: question %s expects %s, got %q", domain.ErrInvalidAnswer, q.ID, want, a.Kind)
	}

	switch a.Kind {
	case domain.AnswerChoice:
		if len(a.Choices) == 0 {
			return fmt.Errorf("%w: no option selected", domain.ErrInvalidAnswer)
		}
		if q.Type != domain.QuestionMultiChoice && len(a.Choices) != 1 {
			return fmt.Errorf("%w: question %s takes exactly one option", domain.ErrInvalidAnswer, q.ID)
		}
		known := make(map[string]struct{}, len(q.Options))
		for _, opt := range q.Options {
			known[opt.ID] = struct{}{}
		}
		seen := make(map[string]struct{}, len(a.Choices))
		for _, choice := range a.Choices {
			if _, dup := seen[choice]; dup {
				return fmt.Errorf("%w: option %s selected twice", domain.ErrInvalidAnswer, choice)
			}
			seen[choice] = struct{}{}
			if len(known) > 0 {
				if _, ok := known[choice]; !ok {
					return fmt.Errorf("%w: unknown option %s", domain.ErrInvalidAnswer, choice)
				}
			}
		}
	case domain.AnswerOrdering:
		if len(a.Order) == 0 {
			return fmt.Errorf("%w: empty ordering", domain.ErrInvalidAnswer)
		}
	case domain.AnswerPairs:
		if len(a.Pairs) == 0 {
			return fmt.Errorf("%w: no pairs", domain.ErrInvalidAnswer)
		}
	}
	return nil
}

// Score dispatches on the question type. The answer must already be valid.
func Score(q domain.Question, a domain.Answer, p Policy) (Result, error) {
	if err := Validate(q, a); err != nil {
		return Result{}, err
	}
	points := q.PointValue()

	switch q.Type {
	case domain.QuestionSingleChoice, domain.QuestionMedia, domain.QuestionMultiChoice:
		return scoreChoice(q, a.Choices, points, p), nil
	case domain.QuestionFreeText:
		return scoreText(q.Key.Accepted, a.Text, points, p), nil
	case domain.QuestionOrdering:
		return scoreOrdering(q.Key.Order, a.Order, points), nil
	case domain.QuestionMatching:
		return scoreMatching(q.Key.Pairs, a.Pairs, points), nil
	}
	return Result{}, fmt.Errorf("%w: unsupported question type %q", domain.ErrInvalidAnswer, q.Type)
}

func scoreChoice(q domain.Question, choices []string, points decimal.Decimal, p Policy) Result {
	correct := make(map[string]struct{}, len(q.Key.Options))
	for _, id := range q.Key.Options {
		correct[id] = struct{}{}
	}
	hits, misses := 0, 0
	for _, choice := range choices {
		if _, ok := correct[choice]; ok {
			hits++
		} else {
			misses++
		}
	}

	if len(correct) > 0 && hits == len(correct) && misses == 0 {
		return Result{Points: points, Correct: true}
	}
	if q.Type != domain.QuestionMultiChoice || !p.PartialCredit || len(correct) == 0 {
		return Result{Points: decimal.Zero}
	}
	net := hits - misses
	if net <= 0 {
		return Result{Points: decimal.Zero}
	}
	return Result{Points: fraction(points, net, len(correct))}
}

func scoreText(accepted []string, text string, points decimal.Decimal, p Policy) Result {
	given := strings.TrimSpace(text)
	if given == "" {
		return Result{Points: decimal.Zero}
	}
	for _, want := range accepted {
		if strings.EqualFold(given, strings.TrimSpace(want)) {
			return Result{Points: points, Correct: true}
		}
	}
	if p.FuzzyText && p.FuzzyDistance > 0 {
		lower := strings.ToLower(given)
		for _, want := range accepted {
			if levenshtein.ComputeDistance(lower, strings.ToLower(strings.TrimSpace(want))) <= p.FuzzyDistance {
				return Result{Points: points, Correct: true}
			}
		}
	}
	// Unresolved free text is left for a human to grade.
	return Result{Points: decimal.Zero, NeedsReview: true}
}

func scoreOrdering(key, order []string, points decimal.Decimal) Result {
	if len(key) == 0 {
		return Result{Points: decimal.Zero}
	}
	placed := 0
	for i := range key {
		if i < len(order) && order[i] == key[i] {
			placed++
		}
	}
	return Result{
		Points:  fraction(points, placed, len(key)),
		Correct: placed == len(key) && len(order) == len(key),
	}
}

func scoreMatching(key, pairs []domain.Pair, points decimal.Decimal) Result {
	if len(key) == 0 {
		return Result{Points: decimal.Zero}
	}
	want := make(map[string]string, len(key))
	for _, pair := range key {
		want[pair.Left] = pair.Right
	}
	matched := 0
	seen := make(map[string]struct{}, len(pairs))
	for _, pair := range pairs {
		if _, dup := seen[pair.Left]; dup {
			continue
		}
		seen[pair.Left] = struct{}{}
		if right, ok := want[pair.Left]; ok && right == pair.Right {
			matched++
		}
	}
	return Result{
		Points:  fraction(points, matched, len(key)),
		Correct: matched == len(key),
	}
}

// fraction returns points * n / d rounded to two decimal places.
func fraction(points decimal.Decimal, n, d int) decimal.Decimal {
	return points.Mul(decimal.NewFromInt(int64(n))).Div(decimal.NewFromInt(int64(d))).Round(2)
}
