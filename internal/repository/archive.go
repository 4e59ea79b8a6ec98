package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/set-night/skylog/internal/domain"
)

// DBTX is the subset of pgxpool.Pool the archive needs.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

const (
	insertUpload = `INSERT INTO flight_uploads (session_id, file_name, size_bytes, metadata, anomaly_count, uploaded_at)
VALUES ($1, $2, $3, $4, $5, $6)`

	insertTurn = `INSERT INTO conversation_turns (turn_id, session_id, seq, role, content, tool_name, tool_call, degraded, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (turn_id) DO NOTHING`

	deleteTurns   = `DELETE FROM conversation_turns WHERE session_id = $1`
	deleteUploads = `DELETE FROM flight_uploads WHERE session_id = $1`
)

// Archive writes uploads and turns for later offline review.
type Archive struct {
	db DBTX
}

func NewArchive(db DBTX) *Archive {
	return &Archive{db: db}
}

func (a *Archive) RecordUpload(ctx context.Context, rec domain.UploadRecord) error {
	meta := jsonOrNull(rec.Metadata)
	if meta == nil {
		meta = []byte("{}")
	}
	_, err := a.db.Exec(ctx, insertUpload,
		rec.SessionID,
		rec.FileName,
		rec.SizeBytes,
		meta,
		rec.AnomalyCount,
		timeToPgTimestamptz(rec.UploadedAt),
	)
	if err != nil {
		return fmt.Errorf("insert upload: %w", err)
	}
	return nil
}

// RecordTurns inserts turns in one batch. Re-recording a turn is a no-op.
func (a *Archive) RecordTurns(ctx context.Context, sessionID string, turns []domain.Turn) error {
	if len(turns) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, t := range turns {
		var toolName string
		var toolCall []byte
		if t.ToolCall != nil {
			toolName = t.ToolCall.Name
			raw, err := json.Marshal(t.ToolCall)
			if err != nil {
				return fmt.Errorf("encode tool call %s: %w", t.ToolCall.ID, err)
			}
			toolCall = raw
		}
		batch.Queue(insertTurn,
			t.ID,
			sessionID,
			t.Seq,
			string(t.Role),
			t.Content,
			textOrNull(toolName),
			toolCall,
			t.Degraded,
			timeToPgTimestamptz(t.CreatedAt),
		)
	}

	br := a.db.SendBatch(ctx, batch)
	defer br.Close()
	for range turns {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("insert turn: %w", err)
		}
	}
	return nil
}

func (a *Archive) PurgeSession(ctx context.Context, sessionID string) error {
	batch := &pgx.Batch{}
	batch.Queue(deleteTurns, sessionID)
	batch.Queue(deleteUploads, sessionID)

	br := a.db.SendBatch(ctx, batch)
	defer br.Close()
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("purge session: %w", err)
		}
	}
	return nil
}
