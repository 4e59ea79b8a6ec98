package service

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/set-night/skylog/internal/anomaly"
	"github.com/set-night/skylog/internal/domain"
	"github.com/set-night/skylog/internal/telemetry"
	"github.com/set-night/skylog/internal/testutil"
	"github.com/set-night/skylog/internal/tools"
)

// scriptedModel answers with step(n, req) where n counts calls from zero.
type scriptedModel struct {
	mu    sync.Mutex
	calls int
	reqs  []ModelRequest
	step  func(ctx context.Context, n int, req ModelRequest) (ModelReply, error)
}

func (m *scriptedModel) Submit(ctx context.Context, req ModelRequest) (ModelReply, error) {
	m.mu.Lock()
	n := m.calls
	m.calls++
	m.reqs = append(m.reqs, req)
	m.mu.Unlock()
	return m.step(ctx, n, req)
}

func (m *scriptedModel) Name() string { return "scripted" }

func (m *scriptedModel) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func textReply(s string) ModelReply {
	return ModelReply{Text: s, Usage: domain.Usage{PromptTokens: 100, CompletionTokens: 10}}
}

func toolReply(name, args string) ModelReply {
	return ModelReply{
		ToolRequests: []ToolRequest{{ID: "call_x", Name: name, Arguments: json.RawMessage(args)}},
		Usage:        domain.Usage{PromptTokens: 100, CompletionTokens: 10},
	}
}

func newTestAgent(t *testing.T, model ChatModel, cfg AgentConfig, log []byte) (*Agent, *SessionStore, string) {
	t.Helper()
	store := NewSessionStore(time.Hour)
	detector := anomaly.NewDetector(anomaly.Default())
	sess := store.Create()
	if log != nil {
		ds, err := telemetry.Decode(context.Background(), log)
		require.NoError(t, err)
		require.NoError(t, store.BindDataset(context.Background(), sess.ID(), ds, "flight.bin", len(ds.Anomalies(detector.Detect))))
	}
	a := NewAgent(store, model, tools.NewDispatcher(detector.Detect, nil), nil, cfg)
	a.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	return a, store, sess.ID()
}

func defaultAgentConfig() AgentConfig {
	return AgentConfig{MaxToolRounds: 5, Retries: 2, RetryBackoff: time.Millisecond}
}

func TestChatRunsToolThenAnswers(t *testing.T) {
	model := &scriptedModel{step: func(_ context.Context, n int, req ModelRequest) (ModelReply, error) {
		if n == 0 {
			return toolReply(tools.GetTimeSeries, `{"message_type":"GPS","field":"altitude","start_us":500}`), nil
		}
		last := req.History[len(req.History)-1]
		if last.Role != domain.RoleTool {
			return textReply("no tool result"), nil
		}
		return textReply("Altitude stays between 100 and 102 m."), nil
	}}
	a, store, id := newTestAgent(t, model, defaultAgentConfig(), testutil.ScenarioLog())

	res, err := a.Chat(context.Background(), id, "What was the altitude?")
	require.NoError(t, err)

	assert.Equal(t, "Altitude stays between 100 and 102 m.", res.Message)
	assert.False(t, res.Degraded)
	assert.Equal(t, 1, res.Rounds)
	require.Len(t, res.ToolCalls, 1)
	assert.Equal(t, domain.ToolStatusOK, res.ToolCalls[0].Status)

	var out map[string]any
	require.NoError(t, json.Unmarshal(res.ToolCalls[0].Output, &out))
	assert.Len(t, out["points"], 2)

	sess, err := store.Get(id)
	require.NoError(t, err)
	history := sess.History()
	require.Len(t, history, 3)
	assert.Equal(t, domain.RoleUser, history[0].Role)
	assert.Equal(t, domain.RoleTool, history[1].Role)
	assert.Equal(t, domain.RoleAssistant, history[2].Role)
	for i, turn := range history {
		assert.Equal(t, i+1, turn.Seq)
		assert.NotEmpty(t, turn.ID)
	}
	assert.Equal(t, 200, sess.Usage().PromptTokens)
}

func TestChatSendsCatalogAndFlightContext(t *testing.T) {
	model := &scriptedModel{step: func(context.Context, int, ModelRequest) (ModelReply, error) {
		return textReply("ok"), nil
	}}
	a, _, id := newTestAgent(t, model, defaultAgentConfig(), testutil.FlightLog())

	_, err := a.Chat(context.Background(), id, "hi")
	require.NoError(t, err)

	require.Len(t, model.reqs, 1)
	req := model.reqs[0]
	assert.Len(t, req.Tools, len(tools.Catalog()))
	assert.Contains(t, req.System, "Tool catalog version: "+tools.Version)
	assert.Contains(t, req.System, "Rule-based anomalies: 6")
}

func TestChatRoundLimitForcesDegradedAnswer(t *testing.T) {
	model := &scriptedModel{step: func(_ context.Context, _ int, req ModelRequest) (ModelReply, error) {
		if req.NoToolUse {
			return textReply("Partial: battery sagged to 10.6 V."), nil
		}
		return toolReply(tools.QueryFlightData, `{"field_path":"BAT.Volt"}`), nil
	}}
	cfg := defaultAgentConfig()
	cfg.MaxToolRounds = 3
	a, store, id := newTestAgent(t, model, cfg, testutil.FlightLog())

	res, err := a.Chat(context.Background(), id, "Check everything")
	require.NoError(t, err)

	assert.True(t, res.Degraded)
	assert.Equal(t, 3, res.Rounds)
	assert.Len(t, res.ToolCalls, 3)
	assert.Equal(t, "Partial: battery sagged to 10.6 V.", res.Message)
	assert.Equal(t, 5, model.callCount())
	assert.True(t, model.reqs[4].NoToolUse)
	assert.Len(t, model.reqs[4].Tools, len(tools.Catalog()))
	for _, req := range model.reqs[:4] {
		assert.False(t, req.NoToolUse)
	}
	assert.Contains(t, model.reqs[4].System, "tool budget")

	sess, _ := store.Get(id)
	history := sess.History()
	require.Len(t, history, 5)
	assert.True(t, history[4].Degraded)
}

func TestChatRoundLimitFallsBackToPartialAnswer(t *testing.T) {
	model := &scriptedModel{step: func(context.Context, int, ModelRequest) (ModelReply, error) {
		return toolReply(tools.QueryFlightData, `{"field_path":"metadata"}`), nil
	}}
	cfg := defaultAgentConfig()
	cfg.MaxToolRounds = 2
	a, _, id := newTestAgent(t, model, cfg, testutil.FlightLog())

	res, err := a.Chat(context.Background(), id, "Check everything")
	require.NoError(t, err)

	assert.True(t, res.Degraded)
	assert.Contains(t, res.Message, partialPrefix)
	assert.Contains(t, res.Message, tools.QueryFlightData)
}

func TestChatToolErrorsGoBackToModel(t *testing.T) {
	model := &scriptedModel{step: func(_ context.Context, n int, req ModelRequest) (ModelReply, error) {
		if n == 0 {
			return toolReply(tools.GetTimeSeries, `{"message_type":"NOPE","field":"x"}`), nil
		}
		last := req.History[len(req.History)-1]
		require.NotNil(t, last.ToolCall)
		assert.Equal(t, domain.ToolStatusError, last.ToolCall.Status)
		return textReply("That message type is not in the log."), nil
	}}
	a, _, id := newTestAgent(t, model, defaultAgentConfig(), testutil.FlightLog())

	res, err := a.Chat(context.Background(), id, "Show NOPE")
	require.NoError(t, err)
	assert.False(t, res.Degraded)
	require.Len(t, res.ToolCalls, 1)
	assert.Equal(t, domain.ToolStatusError, res.ToolCalls[0].Status)
}

func TestChatRunsParallelToolsInRequestOrder(t *testing.T) {
	model := &scriptedModel{step: func(_ context.Context, n int, _ ModelRequest) (ModelReply, error) {
		if n > 0 {
			return textReply("done"), nil
		}
		return ModelReply{ToolRequests: []ToolRequest{
			{ID: "a", Name: tools.QueryFlightData, Arguments: json.RawMessage(`{"field_path":"GPS.Alt"}`)},
			{Name: tools.DetectAnomalies, Arguments: json.RawMessage(`{}`)},
			{ID: "c", Name: tools.DescribeMessage, Arguments: json.RawMessage(`{"message_type":"ATT"}`)},
		}}, nil
	}}
	a, _, id := newTestAgent(t, model, defaultAgentConfig(), testutil.FlightLog())

	res, err := a.Chat(context.Background(), id, "overview")
	require.NoError(t, err)
	require.Len(t, res.ToolCalls, 3)
	assert.Equal(t, "a", res.ToolCalls[0].ID)
	assert.Equal(t, "call_1_2", res.ToolCalls[1].ID)
	assert.Equal(t, tools.DetectAnomalies, res.ToolCalls[1].Name)
	assert.Equal(t, "c", res.ToolCalls[2].ID)
}

func TestChatUnknownSession(t *testing.T) {
	model := &scriptedModel{step: func(context.Context, int, ModelRequest) (ModelReply, error) {
		return textReply("x"), nil
	}}
	a, store, _ := newTestAgent(t, model, defaultAgentConfig(), testutil.FlightLog())

	_, err := a.Chat(context.Background(), "missing", "hello")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	assert.Equal(t, 0, model.callCount())
	assert.Equal(t, 1, store.Len())
}

func TestChatWithoutDatasetLeavesHistoryUntouched(t *testing.T) {
	model := &scriptedModel{step: func(context.Context, int, ModelRequest) (ModelReply, error) {
		return textReply("x"), nil
	}}
	a, store, id := newTestAgent(t, model, defaultAgentConfig(), nil)

	_, err := a.Chat(context.Background(), id, "hello")
	assert.ErrorIs(t, err, domain.ErrNoDataset)

	sess, _ := store.Get(id)
	assert.Empty(t, sess.History())
	assert.Equal(t, 0, model.callCount())
}

func TestChatRetriesTransientFailures(t *testing.T) {
	model := &scriptedModel{step: func(_ context.Context, n int, _ ModelRequest) (ModelReply, error) {
		if n < 2 {
			return ModelReply{}, domain.ErrModelUnavailable
		}
		return textReply("recovered"), nil
	}}
	a, _, id := newTestAgent(t, model, defaultAgentConfig(), testutil.FlightLog())

	res, err := a.Chat(context.Background(), id, "hello")
	require.NoError(t, err)
	assert.Equal(t, "recovered", res.Message)
	assert.False(t, res.Degraded)
	assert.Equal(t, 3, model.callCount())
}

func TestChatExhaustedRetriesDegrade(t *testing.T) {
	model := &scriptedModel{step: func(context.Context, int, ModelRequest) (ModelReply, error) {
		return ModelReply{}, domain.ErrModelUnavailable
	}}
	a, store, id := newTestAgent(t, model, defaultAgentConfig(), testutil.FlightLog())

	res, err := a.Chat(context.Background(), id, "hello")
	require.NoError(t, err)
	assert.True(t, res.Degraded)
	assert.Equal(t, apologyMessage, res.Message)
	assert.Equal(t, 3, model.callCount())

	sess, _ := store.Get(id)
	history := sess.History()
	require.Len(t, history, 2)
	assert.Equal(t, domain.RoleAssistant, history[1].Role)
	assert.True(t, history[1].Degraded)
}

func TestChatRejectedRequestIsNotRetried(t *testing.T) {
	model := &scriptedModel{step: func(context.Context, int, ModelRequest) (ModelReply, error) {
		return ModelReply{}, domain.ErrModelRejected
	}}
	a, _, id := newTestAgent(t, model, defaultAgentConfig(), testutil.FlightLog())

	res, err := a.Chat(context.Background(), id, "hello")
	require.NoError(t, err)
	assert.True(t, res.Degraded)
	assert.Equal(t, 1, model.callCount())
}

func TestChatModelTimeoutIsRetried(t *testing.T) {
	model := &scriptedModel{step: func(ctx context.Context, n int, _ ModelRequest) (ModelReply, error) {
		if n == 0 {
			<-ctx.Done()
			return ModelReply{}, ctx.Err()
		}
		return textReply("second try"), nil
	}}
	cfg := defaultAgentConfig()
	cfg.ModelTimeout = 20 * time.Millisecond
	a, _, id := newTestAgent(t, model, cfg, testutil.FlightLog())

	res, err := a.Chat(context.Background(), id, "hello")
	require.NoError(t, err)
	assert.Equal(t, "second try", res.Message)
	assert.Equal(t, 2, model.callCount())
}

func TestChatClientCancelReturnsError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	model := &scriptedModel{step: func(ctx context.Context, _ int, _ ModelRequest) (ModelReply, error) {
		cancel()
		<-ctx.Done()
		return ModelReply{}, ctx.Err()
	}}
	a, _, id := newTestAgent(t, model, defaultAgentConfig(), testutil.FlightLog())

	_, err := a.Chat(ctx, id, "hello")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestChatSerializesTurnsPerSession(t *testing.T) {
	var active, peak int32
	model := &scriptedModel{step: func(context.Context, int, ModelRequest) (ModelReply, error) {
		n := atomic.AddInt32(&active, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&active, -1)
		return textReply("answer"), nil
	}}
	a, store, id := newTestAgent(t, model, defaultAgentConfig(), testutil.FlightLog())

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := a.Chat(context.Background(), id, "question")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&peak))
	sess, _ := store.Get(id)
	history := sess.History()
	require.Len(t, history, 4)
	for i, turn := range history {
		want := domain.RoleUser
		if i%2 == 1 {
			want = domain.RoleAssistant
		}
		assert.Equal(t, want, turn.Role)
	}
}

func TestChatDeleteDuringTurn(t *testing.T) {
	started := make(chan struct{})
	model := &scriptedModel{step: func(ctx context.Context, _ int, _ ModelRequest) (ModelReply, error) {
		close(started)
		<-ctx.Done()
		return ModelReply{}, ctx.Err()
	}}
	a, store, id := newTestAgent(t, model, defaultAgentConfig(), testutil.FlightLog())

	errc := make(chan error, 1)
	go func() {
		_, err := a.Chat(context.Background(), id, "hello")
		errc <- err
	}()

	<-started
	require.NoError(t, store.Delete(id))

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	case <-time.After(2 * time.Second):
		t.Fatal("turn did not stop after delete")
	}
	_, err := store.Get(id)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestChatDeleteBeforeFinalAnswerIsNotRecorded(t *testing.T) {
	var (
		store *SessionStore
		id    string
	)
	model := &scriptedModel{step: func(context.Context, int, ModelRequest) (ModelReply, error) {
		require.NoError(t, store.Delete(id))
		return textReply("late answer"), nil
	}}
	a, st, sid := newTestAgent(t, model, defaultAgentConfig(), testutil.FlightLog())
	store, id = st, sid
	sess, err := store.Get(id)
	require.NoError(t, err)

	res, err := a.Chat(context.Background(), id, "hello")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	assert.Nil(t, res)

	history := sess.History()
	require.Len(t, history, 1)
	assert.Equal(t, domain.RoleUser, history[0].Role)
}

func TestChatPricesUsage(t *testing.T) {
	model := &scriptedModel{step: func(context.Context, int, ModelRequest) (ModelReply, error) {
		return ModelReply{Text: "ok", Usage: domain.Usage{PromptTokens: 1000, CompletionTokens: 500}}, nil
	}}
	cfg := defaultAgentConfig()
	cfg.Pricing = NewPricing(1, 2)
	a, store, id := newTestAgent(t, model, cfg, testutil.FlightLog())

	res, err := a.Chat(context.Background(), id, "hello")
	require.NoError(t, err)
	assert.True(t, res.Usage.Cost.Equal(decimal.RequireFromString("0.002")), res.Usage.Cost.String())

	sess, _ := store.Get(id)
	assert.True(t, sess.Usage().Cost.Equal(decimal.RequireFromString("0.002")))
}

type recordingArchive struct {
	NopArchive
	mu    sync.Mutex
	turns []domain.Turn
}

func (r *recordingArchive) RecordTurns(_ context.Context, _ string, turns []domain.Turn) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.turns = append(r.turns, turns...)
	return nil
}

func TestChatArchivesNewTurns(t *testing.T) {
	model := &scriptedModel{step: func(context.Context, int, ModelRequest) (ModelReply, error) {
		return textReply("ok"), nil
	}}
	a, _, id := newTestAgent(t, model, defaultAgentConfig(), testutil.FlightLog())
	arch := &recordingArchive{}
	a.archive = arch

	_, err := a.Chat(context.Background(), id, "first")
	require.NoError(t, err)
	_, err = a.Chat(context.Background(), id, "second")
	require.NoError(t, err)

	require.Len(t, arch.turns, 4)
	assert.Equal(t, "second", arch.turns[2].Content)
	assert.Equal(t, 3, arch.turns[2].Seq)
}
