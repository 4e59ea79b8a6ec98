package repository

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/set-night/skylog/internal/domain"
)

type execCall struct {
	sql  string
	args []any
}

type fakeDB struct {
	execs   []execCall
	batches []*pgx.Batch
	failAt  int
}

func (f *fakeDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.execs = append(f.execs, execCall{sql: sql, args: args})
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (f *fakeDB) SendBatch(_ context.Context, b *pgx.Batch) pgx.BatchResults {
	f.batches = append(f.batches, b)
	return &fakeResults{failAt: f.failAt}
}

type fakeResults struct {
	n      int
	failAt int
}

func (r *fakeResults) Exec() (pgconn.CommandTag, error) {
	r.n++
	if r.failAt > 0 && r.n == r.failAt {
		return pgconn.CommandTag{}, errors.New("boom")
	}
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (r *fakeResults) Query() (pgx.Rows, error) { return nil, errors.New("not supported") }
func (r *fakeResults) QueryRow() pgx.Row        { return nil }
func (r *fakeResults) Close() error             { return nil }

func TestRecordUpload(t *testing.T) {
	db := &fakeDB{}
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	err := NewArchive(db).RecordUpload(context.Background(), domain.UploadRecord{
		SessionID: "s1", FileName: "f.bin", SizeBytes: 42, AnomalyCount: 3, UploadedAt: at,
	})
	require.NoError(t, err)

	require.Len(t, db.execs, 1)
	args := db.execs[0].args
	assert.Equal(t, "s1", args[0])
	assert.Equal(t, int64(42), args[2])
	assert.Equal(t, []byte("{}"), args[3])
	assert.Equal(t, pgtype.Timestamptz{Time: at, Valid: true}, args[5])
}

func TestRecordTurnsBatches(t *testing.T) {
	db := &fakeDB{}
	turns := []domain.Turn{
		{ID: "t1", Seq: 1, Role: domain.RoleUser, Content: "hi"},
		{ID: "t2", Seq: 2, Role: domain.RoleTool, Content: "{}", ToolCall: &domain.ToolCallRecord{
			ID: "c1", Name: "detect_anomalies", Arguments: json.RawMessage(`{}`), Output: json.RawMessage(`{}`), Status: domain.ToolStatusOK,
		}},
	}
	require.NoError(t, NewArchive(db).RecordTurns(context.Background(), "s1", turns))

	require.Len(t, db.batches, 1)
	queued := db.batches[0].QueuedQueries
	require.Len(t, queued, 2)
	assert.Equal(t, "t1", queued[0].Arguments[0])
	assert.Equal(t, pgtype.Text{}, queued[0].Arguments[5])
	assert.Nil(t, queued[0].Arguments[6])
	assert.Equal(t, pgtype.Text{String: "detect_anomalies", Valid: true}, queued[1].Arguments[5])
	assert.NotNil(t, queued[1].Arguments[6])
}

func TestRecordTurnsEmptyIsNoop(t *testing.T) {
	db := &fakeDB{}
	require.NoError(t, NewArchive(db).RecordTurns(context.Background(), "s1", nil))
	assert.Empty(t, db.batches)
}

func TestPurgeSession(t *testing.T) {
	db := &fakeDB{}
	require.NoError(t, NewArchive(db).PurgeSession(context.Background(), "s1"))
	require.Len(t, db.batches, 1)
	assert.Equal(t, 2, db.batches[0].Len())

	db = &fakeDB{failAt: 2}
	assert.ErrorContains(t, NewArchive(db).PurgeSession(context.Background(), "s1"), "purge session")
}
