// Package history archives finished polls to PostgreSQL. The archive is a
// convenience surface for the admin UI; it is wired only when a database is
// configured and every write is best-effort.
package history

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pulse-overlay/backend/internal/poll"
)

// Record is one archived poll result.
type Record struct {
	ID          string    `json:"id"`
	Question    string    `json:"question"`
	Options     []string  `json:"options"`
	WinnerLabel string    `json:"winner_label"`
	TotalVotes  int       `json:"total_votes"`
	StartedAt   time.Time `json:"started_at"`
	EndedAt     time.Time `json:"ended_at"`
}

// Repository handles poll history persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a history repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Archive implements poll.Archiver: maps a resolved poll state to a record.
func (r *Repository) Archive(ctx context.Context, st *poll.State) error {
	if st.Status != poll.StatusWinner || st.WinnerIndex == nil {
		return nil
	}
	labels := make([]string, len(st.Options))
	for i := range st.Options {
		labels[i] = st.Options[i].Label
	}
	rec := &Record{
		ID:          st.ID,
		Question:    st.Question,
		Options:     labels,
		WinnerLabel: st.Options[*st.WinnerIndex].Label,
		TotalVotes:  st.TotalVotes(),
		StartedAt:   st.StartedAt,
		EndedAt:     time.Now(),
	}
	return r.Insert(ctx, rec)
}

// Insert stores a finished poll. Conflicting IDs update in place so a racing
// double-resolve cannot produce duplicate rows.
func (r *Repository) Insert(ctx context.Context, rec *Record) error {
	options, err := json.Marshal(rec.Options)
	if err != nil {
		return err
	}
	const query = `INSERT INTO poll_history (id, question, options, winner_label, total_votes, started_at, ended_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET winner_label = EXCLUDED.winner_label, total_votes = EXCLUDED.total_votes, ended_at = EXCLUDED.ended_at`
	_, err = r.pool.Exec(ctx, query, rec.ID, rec.Question, options, rec.WinnerLabel, rec.TotalVotes, rec.StartedAt, rec.EndedAt)
	return err
}

// ListRecent returns the most recently finished polls, newest first.
func (r *Repository) ListRecent(ctx context.Context, limit int) ([]*Record, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	const query = `SELECT id, question, options, winner_label, total_votes, started_at, ended_at
		FROM poll_history ORDER BY ended_at DESC LIMIT $1`
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		var rec Record
		var options []byte
		if err := rows.Scan(&rec.ID, &rec.Question, &options, &rec.WinnerLabel, &rec.TotalVotes, &rec.StartedAt, &rec.EndedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(options, &rec.Options); err != nil {
			return nil, err
		}
		records = append(records, &rec)
	}
	return records, rows.Err()
}
