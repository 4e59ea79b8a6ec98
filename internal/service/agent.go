package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/set-night/skylog/internal/domain"
	"github.com/set-night/skylog/internal/telemetry"
	"github.com/set-night/skylog/internal/tools"
)

const (
	apologyMessage = "Sorry, the analysis service is not responding right now, so I could not answer. " +
		"Please try again in a moment."
	partialPrefix = "I could not finish the analysis within the tool budget for one question. "
)

type AgentConfig struct {
	MaxToolRounds int
	ModelTimeout  time.Duration
	Retries       int
	RetryBackoff  time.Duration
	Pricing       Pricing
}

// Agent runs one chat turn per call: the model answers or asks for tools,
// tools run and their results go back to the model, until it answers or the
// round budget is spent.
type Agent struct {
	store      *SessionStore
	model      ChatModel
	dispatcher *tools.Dispatcher
	archive    Archive
	cfg        AgentConfig
	sleep      func(ctx context.Context, d time.Duration) error
}

func NewAgent(store *SessionStore, model ChatModel, dispatcher *tools.Dispatcher, archive Archive, cfg AgentConfig) *Agent {
	if archive == nil {
		archive = NopArchive{}
	}
	if cfg.MaxToolRounds < 1 {
		cfg.MaxToolRounds = 1
	}
	return &Agent{
		store:      store,
		model:      model,
		dispatcher: dispatcher,
		archive:    archive,
		cfg:        cfg,
		sleep:      sleepCtx,
	}
}

// ChatResult is the outcome of one turn.
type ChatResult struct {
	SessionID string                  `json:"session_id"`
	Message   string                  `json:"message"`
	Timestamp time.Time               `json:"timestamp"`
	Degraded  bool                    `json:"degraded"`
	ToolCalls []domain.ToolCallRecord `json:"tool_calls"`
	Rounds    int                     `json:"rounds"`
	Usage     domain.Usage            `json:"usage"`
}

// Chat runs one user turn. It fails with ErrSessionNotFound, ErrNoDataset or
// the caller's context error; model failures end in a degraded answer instead.
func (a *Agent) Chat(ctx context.Context, sessionID, message string) (*ChatResult, error) {
	sess, err := a.store.Get(sessionID)
	if err != nil {
		return nil, err
	}
	if err := sess.Acquire(ctx); err != nil {
		return nil, err
	}
	defer sess.Release()

	ds := sess.Dataset()
	if ds == nil {
		return nil, domain.ErrNoDataset
	}

	turnCtx, cancel := context.WithCancel(ctx)
	sess.beginTurn(cancel)
	defer sess.endTurn()

	start := len(sess.History())
	defer func() {
		history := sess.History()
		if sess.Deleted() || len(history) <= start {
			return
		}
		if added := history[start:]; len(added) > 0 {
			archiveWrite(ctx, "turns", sess.ID(), func(ctx context.Context) error {
				return a.archive.RecordTurns(ctx, sess.ID(), added)
			})
		}
	}()

	if _, err := sess.appendTurn(domain.Turn{Role: domain.RoleUser, Content: message}); err != nil {
		return nil, err
	}

	result := &ChatResult{SessionID: sess.ID(), ToolCalls: []domain.ToolCallRecord{}}
	system := BuildSystemPrompt(ds, sess.Info().AnomalyCount)
	catalog := tools.Catalog()

	for {
		reply, err := a.submit(turnCtx, ModelRequest{System: system, History: sess.History(), Tools: catalog})
		if err != nil {
			if sess.Deleted() {
				return nil, domain.ErrSessionNotFound
			}
			if ctx.Err() != nil {
				return nil, fmt.Errorf("chat turn: %w", ctx.Err())
			}
			slog.Error("model call failed", "session_id", sess.ID(), "model", a.model.Name(), "error", err)
			return a.finish(sess, result, apologyMessage, true)
		}
		a.account(sess, result, reply)

		if len(reply.ToolRequests) == 0 {
			return a.finish(sess, result, reply.Text, false)
		}
		if result.Rounds >= a.cfg.MaxToolRounds {
			slog.Warn("tool round limit reached", "session_id", sess.ID(), "rounds", result.Rounds)
			return a.forceFinish(turnCtx, ctx, sess, system, result)
		}

		result.Rounds++
		records := a.runTools(ds, reply.ToolRequests, result.Rounds)
		for _, rec := range records {
			if _, err := sess.appendTurn(domain.Turn{Role: domain.RoleTool, Content: string(rec.Output), ToolCall: &rec}); err != nil {
				return nil, err
			}
			result.ToolCalls = append(result.ToolCalls, rec)
		}
	}
}

// forceFinish asks once more with tool use forbidden and falls back to a canned
// partial answer. Either way the answer is degraded.
func (a *Agent) forceFinish(turnCtx, ctx context.Context, sess *Session, system string, result *ChatResult) (*ChatResult, error) {
	reply, err := a.submit(turnCtx, ModelRequest{
		System:    system + finalRoundInstruction,
		History:   sess.History(),
		Tools:     tools.Catalog(),
		NoToolUse: true,
	})
	if err == nil {
		a.account(sess, result, reply)
		if len(reply.ToolRequests) == 0 && strings.TrimSpace(reply.Text) != "" {
			return a.finish(sess, result, reply.Text, true)
		}
	}
	if sess.Deleted() {
		return nil, domain.ErrSessionNotFound
	}
	if ctx.Err() != nil {
		return nil, fmt.Errorf("chat turn: %w", ctx.Err())
	}
	return a.finish(sess, result, partialAnswer(result.ToolCalls), true)
}

// finish records the assistant answer. A session deleted while the model
// was answering gets nothing appended.
func (a *Agent) finish(sess *Session, result *ChatResult, text string, degraded bool) (*ChatResult, error) {
	turn, err := sess.appendTurn(domain.Turn{Role: domain.RoleAssistant, Content: text, Degraded: degraded})
	if err != nil {
		return nil, err
	}
	result.Message = turn.Content
	result.Timestamp = turn.CreatedAt
	result.Degraded = degraded
	return result, nil
}

func (a *Agent) account(sess *Session, result *ChatResult, reply ModelReply) {
	u := priceReply(reply, a.cfg.Pricing)
	sess.addUsage(u)
	result.Usage = result.Usage.Add(u)
}

// submit calls the model with a per-call timeout, retrying transient
// failures with doubling backoff.
func (a *Agent) submit(ctx context.Context, req ModelRequest) (ModelReply, error) {
	backoff := a.cfg.RetryBackoff
	var lastErr error
	for attempt := 0; attempt <= a.cfg.Retries; attempt++ {
		if attempt > 0 {
			if err := a.sleep(ctx, backoff); err != nil {
				return ModelReply{}, err
			}
			backoff *= 2
		}

		callCtx := ctx
		cancel := context.CancelFunc(func() {})
		if a.cfg.ModelTimeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, a.cfg.ModelTimeout)
		}
		reply, err := a.model.Submit(callCtx, req)
		timedOut := errors.Is(callCtx.Err(), context.DeadlineExceeded)
		cancel()
		if err == nil {
			return reply, nil
		}
		if ctx.Err() != nil {
			return ModelReply{}, ctx.Err()
		}
		if timedOut && !errors.Is(err, domain.ErrModelTimeout) {
			err = fmt.Errorf("%w: %v", domain.ErrModelTimeout, err)
		}
		lastErr = err
		if !domain.IsRetryable(err) {
			break
		}
		slog.Warn("model call failed, retrying", "attempt", attempt+1, "error", err)
	}
	return ModelReply{}, lastErr
}

// runTools dispatches one round of calls concurrently. Tools are pure reads
// and always run to completion; results keep request order.
func (a *Agent) runTools(ds *telemetry.Dataset, reqs []ToolRequest, round int) []domain.ToolCallRecord {
	records := make([]domain.ToolCallRecord, len(reqs))
	var g errgroup.Group
	for i, req := range reqs {
		id := req.ID
		if id == "" {
			id = fmt.Sprintf("call_%d_%d", round, i+1)
		}
		g.Go(func() error {
			rec, err := a.dispatcher.Invoke(tools.Call{ID: id, Name: req.Name, Arguments: req.Arguments}, ds)
			if err != nil {
				slog.Info("tool call failed", "tool", req.Name, "error", err)
			}
			records[i] = rec
			return nil
		})
	}
	_ = g.Wait()
	return records
}

func partialAnswer(calls []domain.ToolCallRecord) string {
	var b strings.Builder
	b.WriteString(partialPrefix)
	if len(calls) == 0 {
		b.WriteString("No data was retrieved. Please ask a narrower question.")
		return b.String()
	}
	b.WriteString("Data retrieved so far:")
	for _, c := range calls {
		fmt.Fprintf(&b, "\n- %s(%s): %s", c.Name, c.Arguments, c.Status)
	}
	b.WriteString("\nPlease ask a narrower question to continue.")
	return b.String()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
