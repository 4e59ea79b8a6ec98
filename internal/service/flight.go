package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/set-night/skylog/internal/anomaly"
	"github.com/set-night/skylog/internal/domain"
	"github.com/set-night/skylog/internal/telemetry"
)

// FlightService owns the upload pipeline and the session lifecycle calls that
// surround it.
type FlightService struct {
	store         *SessionStore
	detector      *anomaly.Detector
	archive       Archive
	maxBytes      int64
	decodeTimeout time.Duration
}

func NewFlightService(store *SessionStore, detector *anomaly.Detector, archive Archive, maxBytes int64, decodeTimeout time.Duration) *FlightService {
	if archive == nil {
		archive = NopArchive{}
	}
	return &FlightService{
		store:         store,
		detector:      detector,
		archive:       archive,
		maxBytes:      maxBytes,
		decodeTimeout: decodeTimeout,
	}
}

type UploadResult struct {
	SessionID    string             `json:"session_id"`
	Created      bool               `json:"created"`
	FileName     string             `json:"file_name"`
	Metadata     telemetry.Metadata `json:"metadata"`
	AnomalyCount int                `json:"anomaly_count"`
	MessageTypes []string           `json:"message_types"`
}

func (f *FlightService) CreateSession() SessionInfo {
	return f.store.Create().Info()
}

// Upload decodes a log and binds it to the session, creating one when
// sessionID is empty. An unknown sessionID fails with ErrSessionNotFound.
// A session created here is removed again if the upload fails.
func (f *FlightService) Upload(ctx context.Context, sessionID, fileName string, r io.Reader) (*UploadResult, error) {
	created := false
	var sess *Session
	if sessionID == "" {
		sess = f.store.Create()
		created = true
	} else {
		s, err := f.store.Get(sessionID)
		if err != nil {
			return nil, err
		}
		sess = s
	}

	res, err := f.upload(ctx, sess, fileName, r)
	if err != nil {
		if created {
			_ = f.store.Delete(sess.ID())
		}
		return nil, err
	}
	res.Created = created
	return res, nil
}

func (f *FlightService) upload(ctx context.Context, sess *Session, fileName string, r io.Reader) (*UploadResult, error) {
	data, err := io.ReadAll(io.LimitReader(r, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if int64(len(data)) > f.maxBytes {
		return nil, fmt.Errorf("%w: limit is %d bytes", domain.ErrLogTooLarge, f.maxBytes)
	}

	if err := sess.Acquire(ctx); err != nil {
		return nil, err
	}
	defer sess.Release()

	decodeCtx := ctx
	if f.decodeTimeout > 0 {
		var cancel context.CancelFunc
		decodeCtx, cancel = context.WithTimeout(ctx, f.decodeTimeout)
		defer cancel()
	}
	started := time.Now()
	ds, err := telemetry.Decode(decodeCtx, data, telemetry.WithRCLossPWM(f.detector.Thresholds().RCLossPWM))
	if err != nil {
		return nil, err
	}
	anomalies := ds.Anomalies(f.detector.Detect)
	meta := ds.Metadata()

	if sess.Deleted() {
		return nil, domain.ErrSessionNotFound
	}
	sess.bind(ds, fileName, len(anomalies))

	slog.Info("flight log decoded",
		"session_id", sess.ID(),
		"file", fileName,
		"bytes", len(data),
		"messages", meta.TotalMessages,
		"skipped", meta.SkippedRecords,
		"anomalies", len(anomalies),
		"duration", time.Since(started),
	)

	if raw, err := json.Marshal(meta); err == nil {
		rec := domain.UploadRecord{
			SessionID:    sess.ID(),
			FileName:     fileName,
			SizeBytes:    int64(len(data)),
			Metadata:     raw,
			AnomalyCount: len(anomalies),
			UploadedAt:   time.Now().UTC(),
		}
		archiveWrite(ctx, "upload", sess.ID(), func(ctx context.Context) error {
			return f.archive.RecordUpload(ctx, rec)
		})
	}

	return &UploadResult{
		SessionID:    sess.ID(),
		FileName:     fileName,
		Metadata:     meta,
		AnomalyCount: len(anomalies),
		MessageTypes: ds.MessageTypes(),
	}, nil
}

// UploadBytes is Upload for callers that already hold the file in memory.
func (f *FlightService) UploadBytes(ctx context.Context, sessionID, fileName string, data []byte) (*UploadResult, error) {
	return f.Upload(ctx, sessionID, fileName, bytes.NewReader(data))
}

// ActiveSessions reports how many sessions are currently held in memory.
func (f *FlightService) ActiveSessions() int {
	return f.store.Len()
}

func (f *FlightService) Info(id string) (SessionInfo, error) {
	s, err := f.store.Get(id)
	if err != nil {
		return SessionInfo{}, err
	}
	return s.Info(), nil
}

func (f *FlightService) History(id string) ([]domain.Turn, error) {
	s, err := f.store.Get(id)
	if err != nil {
		return nil, err
	}
	return s.History(), nil
}

// Anomalies returns the cached anomaly list of the session's flight.
func (f *FlightService) Anomalies(id string) ([]telemetry.Anomaly, error) {
	s, err := f.store.Get(id)
	if err != nil {
		return nil, err
	}
	ds := s.Dataset()
	if ds == nil {
		return nil, domain.ErrNoDataset
	}
	return ds.Anomalies(f.detector.Detect), nil
}

func (f *FlightService) Reset(ctx context.Context, id string) error {
	return f.store.Reset(ctx, id)
}

// Delete drops the session and purges its archived rows.
func (f *FlightService) Delete(ctx context.Context, id string) error {
	if err := f.store.Delete(id); err != nil {
		return err
	}
	archiveWrite(ctx, "purge", id, func(ctx context.Context) error {
		return f.archive.PurgeSession(ctx, id)
	})
	return nil
}
