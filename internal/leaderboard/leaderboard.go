// Package leaderboard keeps the cumulative standings of one session.
//
// Scores are accumulated per (participant, question): a ScoreRecord that was
// already applied is ignored, and a newer record for the same pair replaces
// the earlier contribution instead of adding to it. Ranking is a total order:
// score descending, then cumulative time ascending, then join order ascending.
package leaderboard

import (
	"sort"
	"sync"
	"time"

	"live-quiz-engine/internal/domain"

	"github.com/shopspring/decimal"
)

type pairKey struct {
	participantID string
	questionID    string
}

// Board is safe for concurrent use. Readers copy entries under a read lock,
// so a snapshot never observes a half-applied score.
type Board struct {
	mu        sync.RWMutex
	entries   map[string]domain.LeaderboardEntry
	applied   map[pairKey]domain.ScoreRecord
	nextOrder int
}

func New() *Board {
	return &Board{
		entries: make(map[string]domain.LeaderboardEntry),
		applied: make(map[pairKey]domain.ScoreRecord),
	}
}

// Join adds a participant with a zero score. Joining again only refreshes the
// display name; the original join order is kept.
func (b *Board) Join(participantID, displayName string, at time.Time) domain.LeaderboardEntry {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry, ok := b.entries[participantID]
	if !ok {
		entry = b.newEntryLocked(participantID, at)
	}
	if displayName != "" {
		entry.DisplayName = displayName
	}
	b.entries[participantID] = entry
	return entry
}

// Apply folds a score record into its participant's entry. It reports false
// when the record was already applied and nothing changed.
func (b *Board) Apply(rec domain.ScoreRecord) (domain.LeaderboardEntry, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := pairKey{participantID: rec.ParticipantID, questionID: rec.QuestionID}
	entry, ok := b.entries[rec.ParticipantID]
	if !ok {
		entry = b.newEntryLocked(rec.ParticipantID, rec.ScoredAt)
	}

	if prev, seen := b.applied[key]; seen {
		if prev.ID == rec.ID {
			return entry, false
		}
		entry.Score = entry.Score.Sub(prev.Points)
		entry.TimeTaken -= prev.TimeTaken
		if prev.Correct {
			entry.CorrectCount--
		}
	}

	entry.Score = entry.Score.Add(rec.Points)
	entry.TimeTaken += rec.TimeTaken
	if rec.Correct {
		entry.CorrectCount++
	}
	entry.UpdatedAt = rec.ScoredAt

	b.applied[key] = rec
	b.entries[rec.ParticipantID] = entry
	return entry, true
}

// Entry returns the current entry of one participant.
func (b *Board) Entry(participantID string) (domain.LeaderboardEntry, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	entry, ok := b.entries[participantID]
	return entry, ok
}

// Snapshot returns all entries ranked. Only the copy happens under the lock.
func (b *Board) Snapshot() []domain.LeaderboardEntry {
	b.mu.RLock()
	entries := make([]domain.LeaderboardEntry, 0, len(b.entries))
	for _, entry := range b.entries {
		entries = append(entries, entry)
	}
	b.mu.RUnlock()

	Rank(entries)
	return entries
}

// Len reports the number of participants on the board.
func (b *Board) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}

func (b *Board) newEntryLocked(participantID string, at time.Time) domain.LeaderboardEntry {
	b.nextOrder++
	return domain.LeaderboardEntry{
		ParticipantID: participantID,
		DisplayName:   participantID,
		Score:         decimal.Zero,
		JoinOrder:     b.nextOrder,
		UpdatedAt:     at,
	}
}

// Less reports whether a ranks above b.
func Less(a, b domain.LeaderboardEntry) bool {
	if cmp := a.Score.Cmp(b.Score); cmp != 0 {
		return cmp > 0
	}
	if a.TimeTaken != b.TimeTaken {
		return a.TimeTaken < b.TimeTaken
	}
	return a.JoinOrder < b.JoinOrder
}

// Rank sorts entries in ranking order and numbers them from 1.
func Rank(entries []domain.LeaderboardEntry) {
	sort.Slice(entries, func(i, j int) bool {
		return Less(entries[i], entries[j])
	})
	for i := range entries {
		entries[i].Rank = i + 1
	}
}
