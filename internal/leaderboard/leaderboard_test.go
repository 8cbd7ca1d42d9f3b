package leaderboard

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"live-quiz-engine/internal/domain"

	"github.com/shopspring/decimal"
)

var epoch = time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)

func TestApplyIsIdempotent(t *testing.T) {
	board := New()
	board.Join("p1", "Alice", epoch)

	rec := record("r1", "p1", "q1", 10, true, 5*time.Second)
	if _, changed := board.Apply(rec); !changed {
		t.Fatalf("expected first apply to change the board")
	}
	entry, changed := board.Apply(rec)
	if changed {
		t.Fatalf("expected reapply to be a no-op")
	}
	if !entry.Score.Equal(decimal.NewFromInt(10)) || entry.CorrectCount != 1 || entry.TimeTaken != 5*time.Second {
		t.Fatalf("expected score counted once, got %+v", entry)
	}
}

func TestApplyReplacesRevisedContribution(t *testing.T) {
	board := New()
	board.Join("p1", "Alice", epoch)

	board.Apply(record("r1", "p1", "q1", 10, true, 5*time.Second))
	entry, _ := board.Apply(record("r2", "p1", "q1", 0, false, 9*time.Second))
	if !entry.Score.IsZero() || entry.CorrectCount != 0 || entry.TimeTaken != 9*time.Second {
		t.Fatalf("expected revision to replace the earlier record, got %+v", entry)
	}

	entry, _ = board.Apply(record("r3", "p1", "q2", 4, true, 2*time.Second))
	if !entry.Score.Equal(decimal.NewFromInt(4)) || entry.TimeTaken != 11*time.Second {
		t.Fatalf("expected independent question to accumulate, got %+v", entry)
	}
}

func TestRankingIsTotal(t *testing.T) {
	board := New()
	board.Join("late", "Late", epoch.Add(time.Second))
	board.Join("early", "Early", epoch)
	board.Join("fast", "Fast", epoch.Add(2*time.Second))

	// Joins are ordered by call, not by timestamp.
	board.Apply(record("r1", "late", "q1", 10, true, 5*time.Second))
	board.Apply(record("r2", "early", "q1", 10, true, 5*time.Second))
	board.Apply(record("r3", "fast", "q1", 10, true, 3*time.Second))

	snap := board.Snapshot()
	got := []string{snap[0].ParticipantID, snap[1].ParticipantID, snap[2].ParticipantID}
	want := []string{"fast", "late", "early"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected order %v, got %v", want, got)
		}
		if snap[i].Rank != i+1 {
			t.Fatalf("expected rank %d, got %d", i+1, snap[i].Rank)
		}
	}
	for i := range snap {
		for j := range snap {
			if i != j && !Less(snap[i], snap[j]) && !Less(snap[j], snap[i]) {
				t.Fatalf("entries %s and %s compare equal", snap[i].ParticipantID, snap[j].ParticipantID)
			}
		}
	}
}

func TestSnapshotNeverTorn(t *testing.T) {
	board := New()
	const participants = 20
	for i := 0; i < participants; i++ {
		board.Join(fmt.Sprintf("p%d", i), "", epoch)
	}

	var wg sync.WaitGroup
	for i := 0; i < participants; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for q := 0; q < 50; q++ {
				board.Apply(record(fmt.Sprintf("r-%d-%d", i, q), fmt.Sprintf("p%d", i), fmt.Sprintf("q%d", q), 2, true, time.Second))
			}
		}(i)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	for {
		for _, entry := range board.Snapshot() {
			// Each application adds 2 points, 1 correct and 1s together.
			if !entry.Score.Equal(decimal.NewFromInt(int64(2 * entry.CorrectCount))) {
				t.Fatalf("torn entry %+v", entry)
			}
			if entry.TimeTaken != time.Duration(entry.CorrectCount)*time.Second {
				t.Fatalf("torn entry %+v", entry)
			}
		}
		select {
		case <-done:
			return
		default:
		}
	}
}

func record(id, participantID, questionID string, points int64, correct bool, taken time.Duration) domain.ScoreRecord {
	return domain.ScoreRecord{
		ID:            id,
		SubmissionID:  "sub-" + id,
		ParticipantID: participantID,
		QuestionID:    questionID,
		Points:        decimal.NewFromInt(points),
		Correct:       correct,
		TimeTaken:     taken,
		ScoredAt:      epoch.Add(taken),
	}
}
