package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"live-quiz-engine/internal/domain"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/driver/pgdriver"
)

// Store is the Postgres app.SessionStore. Definitions are read as JSONB
// through pgx; writes go through bun.
type Store struct {
	pool *pgxpool.Pool
	db   *bun.DB
}

func NewStore(pool *pgxpool.Pool, db *bun.DB) *Store {
	return &Store{pool: pool, db: db}
}

type sessionModel struct {
	bun.BaseModel `bun:"table:quiz_sessions"`

	ID             string                   `bun:"id,pk"`
	Title          string                   `bun:"title"`
	Data           domain.SessionDefinition `bun:"data,type:jsonb"`
	State          domain.State             `bun:"state"`
	StateChangedAt time.Time                `bun:"state_changed_at,nullzero"`
}

type submissionModel struct {
	bun.BaseModel `bun:"table:submissions"`

	ID            string        `bun:"id,pk,type:uuid"`
	SessionID     string        `bun:"session_id"`
	ParticipantID string        `bun:"participant_id"`
	QuestionID    string        `bun:"question_id"`
	Answer        domain.Answer `bun:"answer,type:jsonb"`
	ClientTS      time.Time     `bun:"client_ts,nullzero"`
	ReceivedAt    time.Time     `bun:"received_at"`
}

type scoreRecordModel struct {
	bun.BaseModel `bun:"table:score_records"`

	ID            string          `bun:"id,pk,type:uuid"`
	SubmissionID  string          `bun:"submission_id,type:uuid"`
	SessionID     string          `bun:"session_id"`
	ParticipantID string          `bun:"participant_id"`
	QuestionID    string          `bun:"question_id"`
	Points        decimal.Decimal `bun:"points,type:numeric"`
	Correct       bool            `bun:"correct"`
	NeedsReview   bool            `bun:"needs_review"`
	TimeTakenMS   int64           `bun:"time_taken_ms"`
	ScoredAt      time.Time       `bun:"scored_at"`
}

type leaderboardModel struct {
	bun.BaseModel `bun:"table:leaderboard_snapshots"`

	SessionID   string             `bun:"session_id,pk"`
	Data        domain.Leaderboard `bun:"data,type:jsonb"`
	Unconfirmed bool               `bun:"unconfirmed"`
	UpdatedAt   time.Time          `bun:"updated_at"`
}

type stateModel struct {
	bun.BaseModel `bun:"table:session_states"`

	ID        int64        `bun:"id,pk,autoincrement"`
	SessionID string       `bun:"session_id"`
	State     domain.State `bun:"state"`
	At        time.Time    `bun:"at"`
}

// PutDefinition creates or replaces an authored session definition.
func (s *Store) PutDefinition(ctx context.Context, def domain.SessionDefinition) error {
	m := &sessionModel{ID: def.ID, Title: def.Title, Data: def, State: domain.StateDraft}
	_, err := s.db.NewInsert().
		Model(m).
		On("CONFLICT (id) DO UPDATE").
		Set("title = EXCLUDED.title").
		Set("data = EXCLUDED.data").
		Exec(ctx)
	return classify("put definition", err)
}

func (s *Store) LoadSession(ctx context.Context, sessionID string) (domain.SessionDefinition, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM quiz_sessions WHERE id=$1`, sessionID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.SessionDefinition{}, domain.ErrSessionNotFound
	}
	if err != nil {
		return domain.SessionDefinition{}, fmt.Errorf("%w: load session: %v", domain.ErrStoreUnavailable, err)
	}
	var def domain.SessionDefinition
	if err := json.Unmarshal(raw, &def); err != nil {
		return domain.SessionDefinition{}, fmt.Errorf("%w: unmarshal session: %v", domain.ErrInvalidConfiguration, err)
	}
	def.ID = sessionID
	return def, nil
}

// SaveSubmission is idempotent on the submission ID so a retried write is
// harmless.
func (s *Store) SaveSubmission(ctx context.Context, sub domain.Submission) error {
	m := &submissionModel{
		ID:            sub.ID,
		SessionID:     sub.SessionID,
		ParticipantID: sub.ParticipantID,
		QuestionID:    sub.QuestionID,
		Answer:        sub.Answer,
		ClientTS:      sub.ClientTimestamp,
		ReceivedAt:    sub.ReceivedAt,
	}
	_, err := s.db.NewInsert().Model(m).On("CONFLICT (id) DO NOTHING").Exec(ctx)
	return classify("save submission", err)
}

func (s *Store) SaveScoreRecord(ctx context.Context, rec domain.ScoreRecord) error {
	m := &scoreRecordModel{
		ID:            rec.ID,
		SubmissionID:  rec.SubmissionID,
		SessionID:     rec.SessionID,
		ParticipantID: rec.ParticipantID,
		QuestionID:    rec.QuestionID,
		Points:        rec.Points,
		Correct:       rec.Correct,
		NeedsReview:   rec.NeedsReview,
		TimeTakenMS:   rec.TimeTaken.Milliseconds(),
		ScoredAt:      rec.ScoredAt,
	}
	_, err := s.db.NewInsert().
		Model(m).
		On("CONFLICT (session_id, participant_id, question_id) DO UPDATE").
		Set("id = EXCLUDED.id").
		Set("submission_id = EXCLUDED.submission_id").
		Set("points = EXCLUDED.points").
		Set("correct = EXCLUDED.correct").
		Set("needs_review = EXCLUDED.needs_review").
		Set("time_taken_ms = EXCLUDED.time_taken_ms").
		Set("scored_at = EXCLUDED.scored_at").
		Exec(ctx)
	return classify("save score record", err)
}

// ScoreRecords lists the stored score records of a session.
func (s *Store) ScoreRecords(ctx context.Context, sessionID string) ([]domain.ScoreRecord, error) {
	var rows []scoreRecordModel
	err := s.db.NewSelect().Model(&rows).Where("session_id = ?", sessionID).OrderExpr("scored_at").Scan(ctx)
	if err != nil {
		return nil, classify("list score records", err)
	}
	out := make([]domain.ScoreRecord, 0, len(rows))
	for _, m := range rows {
		out = append(out, domain.ScoreRecord{
			ID:            m.ID,
			SubmissionID:  m.SubmissionID,
			SessionID:     m.SessionID,
			ParticipantID: m.ParticipantID,
			QuestionID:    m.QuestionID,
			Points:        m.Points,
			Correct:       m.Correct,
			NeedsReview:   m.NeedsReview,
			TimeTaken:     time.Duration(m.TimeTakenMS) * time.Millisecond,
			ScoredAt:      m.ScoredAt,
		})
	}
	return out, nil
}

func (s *Store) PersistLeaderboardSnapshot(ctx context.Context, lb domain.Leaderboard) error {
	m := &leaderboardModel{
		SessionID:   lb.SessionID,
		Data:        lb,
		Unconfirmed: lb.Unconfirmed,
		UpdatedAt:   lb.UpdatedAt,
	}
	_, err := s.db.NewInsert().
		Model(m).
		On("CONFLICT (session_id) DO UPDATE").
		Set("data = EXCLUDED.data").
		Set("unconfirmed = EXCLUDED.unconfirmed").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return classify("persist leaderboard", err)
}

func (s *Store) LoadLeaderboardSnapshot(ctx context.Context, sessionID string) (domain.Leaderboard, error) {
	m := new(leaderboardModel)
	err := s.db.NewSelect().Model(m).Where("session_id = ?", sessionID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Leaderboard{}, domain.ErrSessionNotFound
	}
	if err != nil {
		return domain.Leaderboard{}, classify("load leaderboard", err)
	}
	return m.Data, nil
}

// SaveSessionState appends to the transition history and updates the
// session's current state in one transaction.
func (s *Store) SaveSessionState(ctx context.Context, sessionID string, state domain.State, at time.Time) error {
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(&stateModel{SessionID: sessionID, State: state, At: at}).Exec(ctx); err != nil {
			return err
		}
		_, err := tx.NewUpdate().
			Model((*sessionModel)(nil)).
			Set("state = ?", state).
			Set("state_changed_at = ?", at).
			Where("id = ?", sessionID).
			Exec(ctx)
		return err
	})
	return classify("save session state", err)
}

func (s *Store) LoadSessionState(ctx context.Context, sessionID string) (domain.State, error) {
	var state string
	err := s.pool.QueryRow(ctx, `SELECT state FROM quiz_sessions WHERE id=$1`, sessionID).Scan(&state)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", domain.ErrSessionNotFound
	}
	if err != nil {
		return "", fmt.Errorf("%w: load session state: %v", domain.ErrStoreUnavailable, err)
	}
	return domain.State(state), nil
}

// classify maps driver errors onto the store contract: connection, timeout
// and resource failures are ErrStoreUnavailable and get retried; anything
// else, including encoding failures and statements the server rejected,
// is permanent.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var pgErr pgdriver.Error
	if errors.As(err, &pgErr) {
		if transient(pgErr.Field('C')) {
			return fmt.Errorf("%w: %s: %v", domain.ErrStoreUnavailable, op, err)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	if unreachable(err) {
		return fmt.Errorf("%w: %s: %v", domain.ErrStoreUnavailable, op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// unreachable reports whether err means the statement never got an answer
// from the server.
func unreachable(err error) bool {
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, driver.ErrBadConn),
		errors.Is(err, sql.ErrConnDone),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF):
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// transient reports whether a SQLSTATE belongs to the connection exception,
// insufficient resources or operator intervention classes.
func transient(sqlState string) bool {
	if len(sqlState) < 2 {
		return false
	}
	switch sqlState[:2] {
	case "08", "53", "57":
		return true
	}
	return false
}
