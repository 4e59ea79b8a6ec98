package service

import (
	"context"
	"log/slog"

	"github.com/set-night/skylog/internal/config"
	"github.com/set-night/skylog/internal/domain"
)

// Archive is a write-only audit trail of uploads and conversation turns. It is
// never read back to restore sessions.
type Archive interface {
	RecordUpload(ctx context.Context, rec domain.UploadRecord) error
	RecordTurns(ctx context.Context, sessionID string, turns []domain.Turn) error
	PurgeSession(ctx context.Context, sessionID string) error
}

// NopArchive discards everything. It is used when no database is configured.
type NopArchive struct{}

func (NopArchive) RecordUpload(context.Context, domain.UploadRecord) error { return nil }
func (NopArchive) RecordTurns(context.Context, string, []domain.Turn) error { return nil }
func (NopArchive) PurgeSession(context.Context, string) error { return nil }

// archiveWrite runs fn detached from the caller's cancellation and bounded in
// time. Failures are logged and otherwise ignored.
func archiveWrite(ctx context.Context, what, sessionID string, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), config.ArchiveWriteTimeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		slog.Warn("archive write failed", "what", what, "session_id", sessionID, "error", err)
	}
}
