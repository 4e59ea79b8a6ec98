package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/set-night/skylog/internal/domain"
	"github.com/set-night/skylog/internal/telemetry"
)

// Session binds one uploaded flight to one conversation. Mutations happen
// only while the holder owns the session permit; reads take mu.
type Session struct {
	id        string
	createdAt time.Time
	permit    chan struct{}

	mu           sync.RWMutex
	lastActive   time.Time
	dataset      *telemetry.Dataset
	fileName     string
	anomalyCount int
	history      []domain.Turn
	seq          int
	usage        domain.Usage
	deleted      bool
	cancelTurn   context.CancelFunc
	now          func() time.Time
}

func (s *Session) ID() string { return s.id }

// Acquire waits for the session permit. It fails with ErrSessionNotFound once
// the session is deleted.
func (s *Session) Acquire(ctx context.Context) error {
	select {
	case s.permit <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	if s.Deleted() {
		s.Release()
		return domain.ErrSessionNotFound
	}
	return nil
}

// TryAcquire takes the permit only if it is free.
func (s *Session) TryAcquire() bool {
	select {
	case s.permit <- struct{}{}:
		return true
	default:
		return false
	}
}

func (s *Session) Release() {
	<-s.permit
}

func (s *Session) Deleted() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.deleted
}

func (s *Session) Dataset() *telemetry.Dataset {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dataset
}

// History returns a copy of the conversation.
func (s *Session) History() []domain.Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Turn, len(s.history))
	copy(out, s.history)
	return out
}

func (s *Session) Usage() domain.Usage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.usage
}

// appendTurn stamps and appends a turn. The caller holds the permit. It fails
// with ErrSessionNotFound once the session is deleted.
func (s *Session) appendTurn(t domain.Turn) (domain.Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleted {
		return domain.Turn{}, domain.ErrSessionNotFound
	}
	s.seq++
	now := s.now()
	if n := len(s.history); n > 0 && now.Before(s.history[n-1].CreatedAt) {
		now = s.history[n-1].CreatedAt
	}
	t.ID = ulid.Make().String()
	t.Seq = s.seq
	t.CreatedAt = now
	s.history = append(s.history, t)
	s.lastActive = now
	return t, nil
}

func (s *Session) addUsage(u domain.Usage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usage = s.usage.Add(u)
}

func (s *Session) bind(ds *telemetry.Dataset, fileName string, anomalies int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dataset = ds
	s.fileName = fileName
	s.anomalyCount = anomalies
	s.lastActive = s.now()
}

func (s *Session) clearHistory() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = nil
	s.lastActive = s.now()
}

func (s *Session) touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActive = s.now()
}

// beginTurn registers the cancel func Delete uses to stop an in-flight turn.
func (s *Session) beginTurn(cancel context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelTurn = cancel
}

func (s *Session) endTurn() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelTurn != nil {
		s.cancelTurn()
		s.cancelTurn = nil
	}
	s.lastActive = s.now()
}

func (s *Session) markDeleted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = true
	if s.cancelTurn != nil {
		s.cancelTurn()
	}
	s.dataset = nil
}

func (s *Session) idleSince() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActive
}

// SessionInfo is a read-only projection of a session.
type SessionInfo struct {
	SessionID    string              `json:"session_id"`
	CreatedAt    time.Time           `json:"created_at"`
	LastActive   time.Time           `json:"last_active"`
	HasDataset   bool                `json:"has_dataset"`
	FileName     string              `json:"file_name,omitempty"`
	Metadata     *telemetry.Metadata `json:"metadata,omitempty"`
	MessageTypes []string            `json:"message_types,omitempty"`
	AnomalyCount int                 `json:"anomaly_count"`
	TurnCount    int                 `json:"turn_count"`
	Usage        domain.Usage        `json:"usage"`
}

func (s *Session) Info() SessionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info := SessionInfo{
		SessionID:    s.id,
		CreatedAt:    s.createdAt,
		LastActive:   s.lastActive,
		HasDataset:   s.dataset != nil,
		FileName:     s.fileName,
		AnomalyCount: s.anomalyCount,
		TurnCount:    len(s.history),
		Usage:        s.usage,
	}
	if s.dataset != nil {
		meta := s.dataset.Metadata()
		info.Metadata = &meta
		info.MessageTypes = s.dataset.MessageTypes()
	}
	return info
}

// SessionStore owns session lifecycle. Sessions live in memory only.
type SessionStore struct {
	mu          sync.RWMutex
	sessions    map[string]*Session
	idleTimeout time.Duration
	now         func() time.Time
	newID       func() string
}

func NewSessionStore(idleTimeout time.Duration) *SessionStore {
	return &SessionStore{
		sessions:    make(map[string]*Session),
		idleTimeout: idleTimeout,
		now:         time.Now,
		newID:       uuid.NewString,
	}
}

func (st *SessionStore) Create() *Session {
	st.mu.Lock()
	defer st.mu.Unlock()

	id := st.newID()
	for st.sessions[id] != nil {
		id = st.newID()
	}
	now := st.now()
	s := &Session{
		id:         id,
		createdAt:  now,
		lastActive: now,
		permit:     make(chan struct{}, 1),
		now:        st.now,
	}
	st.sessions[id] = s
	slog.Debug("session created", "session_id", id)
	return s
}

func (st *SessionStore) Get(id string) (*Session, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s, ok := st.sessions[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return s, nil
}

// BindDataset replaces the session's dataset. History is kept.
func (st *SessionStore) BindDataset(ctx context.Context, id string, ds *telemetry.Dataset, fileName string, anomalies int) error {
	s, err := st.Get(id)
	if err != nil {
		return err
	}
	if err := s.Acquire(ctx); err != nil {
		return err
	}
	defer s.Release()
	s.bind(ds, fileName, anomalies)
	return nil
}

// Reset clears the conversation and keeps the dataset.
func (st *SessionStore) Reset(ctx context.Context, id string) error {
	s, err := st.Get(id)
	if err != nil {
		return err
	}
	if err := s.Acquire(ctx); err != nil {
		return err
	}
	defer s.Release()
	s.clearHistory()
	return nil
}

// Delete removes the session at once. A turn in flight is cancelled and
// fails with ErrSessionNotFound when it next touches the session.
func (st *SessionStore) Delete(id string) error {
	st.mu.Lock()
	s, ok := st.sessions[id]
	delete(st.sessions, id)
	st.mu.Unlock()
	if !ok {
		return domain.ErrSessionNotFound
	}
	s.markDeleted()
	slog.Debug("session deleted", "session_id", id)
	return nil
}

func (st *SessionStore) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// EvictIdle removes sessions idle longer than the timeout. Sessions whose
// permit is held are busy and skipped.
func (st *SessionStore) EvictIdle() int {
	if st.idleTimeout <= 0 {
		return 0
	}
	cutoff := st.now().Add(-st.idleTimeout)

	st.mu.RLock()
	var candidates []*Session
	for _, s := range st.sessions {
		if s.idleSince().Before(cutoff) {
			candidates = append(candidates, s)
		}
	}
	st.mu.RUnlock()

	evicted := 0
	for _, s := range candidates {
		if !s.TryAcquire() {
			continue
		}
		if s.idleSince().Before(cutoff) {
			st.mu.Lock()
			if st.sessions[s.id] == s {
				delete(st.sessions, s.id)
				evicted++
			}
			st.mu.Unlock()
			s.markDeleted()
		}
		s.Release()
	}
	return evicted
}

// Run evicts idle sessions every interval until ctx is done.
func (st *SessionStore) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := st.EvictIdle(); n > 0 {
				slog.Info("evicted idle sessions", "count", n, "remaining", st.Len())
			}
		}
	}
}
