package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/vocero-ai/vocero/pkg/models"
)

// InsertUtteranceInput describes one transcript segment to append.
// DurationMs of zero means "estimate from the text".
type InsertUtteranceInput struct {
	CallID     string
	Speaker    string
	Text       string
	DurationMs int64
	Confidence float64
}

// InsertUtterance appends a segment to the call timeline, reserving its
// start position inside one transaction so concurrent inserts on the
// same call never overlap: a caller utterance starts 100 ms after the
// latest end_ms on record, an agent utterance 120 ms after it. The row
// lock on calls serializes the reservation.
func (s *Store) InsertUtterance(ctx context.Context, in InsertUtteranceInput) (*models.Utterance, error) {
	duration := in.DurationMs
	if duration <= 0 {
		duration = models.EstimateDurationMs(in.Text)
	}
	gap := int64(models.UtteranceGapMs)
	if in.Speaker == models.SpeakerAgent {
		gap = models.AgentReplyDelayMs
	}

	var u models.Utterance
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`SELECT 1 FROM calls WHERE id = $1 FOR UPDATE`, in.CallID); err != nil {
			return fmt.Errorf("lock call: %w", err)
		}

		var lastEnd int64
		if err := tx.QueryRow(ctx, `
			SELECT COALESCE(MAX(end_ms), 0) FROM utterances WHERE call_id = $1`,
			in.CallID).Scan(&lastEnd); err != nil {
			return fmt.Errorf("read timeline position: %w", err)
		}

		start := lastEnd + gap
		row := tx.QueryRow(ctx, `
			INSERT INTO utterances (id, call_id, speaker, text, start_ms, end_ms, confidence)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id, call_id, speaker, text, start_ms, end_ms, confidence, created_at`,
			uuid.New().String(), in.CallID, in.Speaker, in.Text, start, start+duration, in.Confidence)
		if err := scanUtterance(row, &u); err != nil {
			return fmt.Errorf("insert utterance: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// ListUtterances returns the call transcript in timeline order.
func (s *Store) ListUtterances(ctx context.Context, callID string) ([]models.Utterance, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, call_id, speaker, text, start_ms, end_ms, confidence, created_at
		FROM utterances
		WHERE call_id = $1
		ORDER BY start_ms ASC`, callID)
	if err != nil {
		return nil, fmt.Errorf("list utterances: %w", err)
	}
	defer rows.Close()

	var utts []models.Utterance
	for rows.Next() {
		var u models.Utterance
		if err := scanUtterance(rows, &u); err != nil {
			return nil, fmt.Errorf("scan utterance: %w", err)
		}
		utts = append(utts, u)
	}
	return utts, rows.Err()
}

func scanUtterance(row pgx.Row, u *models.Utterance) error {
	return row.Scan(&u.ID, &u.CallID, &u.Speaker, &u.Text,
		&u.StartMs, &u.EndMs, &u.Confidence, &u.CreatedAt)
}
