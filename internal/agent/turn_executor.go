package agent

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	agentctx "github.com/haasonsaas/nexus/internal/agent/context"
	"github.com/haasonsaas/nexus/internal/agent/providers"
	"github.com/haasonsaas/nexus/pkg/models"
)

// TurnExecutorConfig groups the tunables SPEC_FULL.md assigns to TurnExecutor.
type TurnExecutorConfig struct {
	MaxSteps        int
	MaxOutputTokens int
	Temperature     float64
	BaseURL         string
}

// DefaultTurnExecutorConfig returns the stated defaults.
func DefaultTurnExecutorConfig() TurnExecutorConfig {
	return TurnExecutorConfig{MaxSteps: 25, MaxOutputTokens: 4096, Temperature: 1.0}
}

// Normalize clamps zero-or-negative fields to their defaults in place.
func (c *TurnExecutorConfig) Normalize() {
	d := DefaultTurnExecutorConfig()
	if c.MaxSteps <= 0 {
		c.MaxSteps = d.MaxSteps
	}
	if c.MaxOutputTokens <= 0 {
		c.MaxOutputTokens = d.MaxOutputTokens
	}
	if c.Temperature <= 0 {
		c.Temperature = d.Temperature
	}
}

// toolSupportCache is the process-wide, write-once/read-many probe cache
// keyed "provider:model:baseURL". A benign race on first write is
// acceptable — see SPEC_FULL.md §5.
var toolSupportCache sync.Map

func toolSupportKey(provider, model, baseURL string) string {
	return provider + ":" + model + ":" + baseURL
}

// ExecuteResult is what one TurnExecutor.Execute call returns.
type ExecuteResult struct {
	Text         string
	StepCount    int
	Usage        *models.TokenUsage
	FinishReason string
}

// TurnExecutor runs one session's turn: the 8-step loop of queue drain,
// overflow check, formatting, tool-support probing, the step call itself,
// usage capture, termination testing, and tool-output pruning.
type TurnExecutor struct {
	SessionID string
	AgentID   string

	Manager  *agentctx.Manager
	Queue    *MessageQueue
	Overflow *agentctx.ReactiveOverflowStrategy
	Provider LLMProvider
	Tools    *ToolManager
	Bus      *EventBus
	Logger   *slog.Logger

	Limits  models.ModelLimits
	Model   string
	System  string
	Config  TurnExecutorConfig
	Pruning agentctx.PruningConfig

	mu      sync.Mutex
	aborted bool
	cancel  context.CancelFunc
}

func (e *TurnExecutor) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

// Abort requests termination of the in-flight Execute call. Idempotent.
func (e *TurnExecutor) Abort() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.aborted {
		return
	}
	e.aborted = true
	if e.cancel != nil {
		e.cancel()
	}
}

func (e *TurnExecutor) isAborted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.aborted
}

// Execute runs a full turn: contributorContext is injected as the initiating
// user message (via the same queue/coalescing path as any message enqueued
// mid-turn), and the loop runs until a terminal finish reason is reached.
func (e *TurnExecutor) Execute(ctx context.Context, contributorContext []models.ContentPart, streaming bool) (*ExecuteResult, error) {
	e.Config.Normalize()
	e.Pruning.Normalize()
	start := time.Now()

	runCtx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.aborted = false
	e.cancel = cancel
	e.mu.Unlock()

	defer func() {
		cancel()
		e.Queue.Clear(ctx)
		e.mu.Lock()
		e.cancel = nil
		e.mu.Unlock()
		if e.Tools != nil && e.Tools.Approval != nil {
			if n := e.Tools.Approval.ExpireSessionApprovals(ctx, e.AgentID, e.SessionID, "turn ended"); n > 0 {
				e.logger().Debug("expired pending approvals at turn end", "session", e.SessionID, "count", n)
			}
		}
	}()

	if len(contributorContext) > 0 {
		e.Queue.Enqueue(runCtx, contributorContext, nil)
	}

	var (
		stepCount    int
		lastUsage    *models.TokenUsage
		lastFinish   string
		lastText     string
		runErr       error
	)

	for {
		// Step 1: drain queue, coalesce, append as one user message.
		if coalesced := e.Queue.DequeueAll(runCtx); coalesced != nil {
			if err := e.Manager.AddMessage(runCtx, &models.Message{Role: models.RoleUser, Content: coalesced.CombinedContent}); err != nil {
				runErr = &StepError{Step: PhaseDrainQueue, StepCount: stepCount, Cause: err}
				break
			}
		}

		// Step 2: overflow check against the prior step's usage.
		if lastUsage != nil && agentctx.IsOverflow(lastUsage, e.Limits, reactiveOverflowConfigOf(e.Overflow)) {
			e.Bus.ContextCompacting(runCtx, models.ContextCompactingPayload{EstimatedTokens: lastUsage.InputTokens + lastUsage.CacheRead()})
			before, _ := e.Manager.GetHistory(runCtx)
			summary, err := e.Overflow.Compact(runCtx)
			if err != nil {
				e.logger().Warn("compaction failed, continuing without it", "session", e.SessionID, "error", err)
			} else if summary != nil {
				after, _ := e.Manager.GetHistory(runCtx)
				reason := "overflow"
				strategy := "reactive"
				if summary.IsRecompaction {
					strategy = "reactive-recompaction"
				}
				e.Bus.ContextCompacted(runCtx, models.ContextCompactedPayload{
					OriginalMessages:  len(before),
					CompactedMessages: len(after),
					Strategy:          strategy,
					Reason:            reason,
				})
			}
		}

		// Step 3: format via ContextManager.
		formatted, err := e.Manager.FormattedView(runCtx)
		if err != nil {
			runErr = &StepError{Step: PhaseFormat, StepCount: stepCount, Cause: err}
			break
		}

		req := &CompletionRequest{
			Model:      e.Model,
			System:     e.System,
			Messages:   toCompletionMessages(formatted),
			MaxTokens:  e.Config.MaxOutputTokens,
		}

		// Step 4: tool-support probe.
		if e.Tools != nil {
			if e.supportsTools(runCtx, req.Model) {
				req.Tools = e.Tools.Registry.AsLLMTools()
			}
		}

		// Step 5: the step call, wrapped in StreamProcessor.
		events, err := e.Provider.Complete(runCtx, req)
		if err != nil {
			classified := classifyStepError(err)
			e.Bus.LLMError(runCtx, models.ErrorPayload{Error: classified.Error(), Context: "step_call", Recoverable: false})
			runErr = classified
			break
		}

		sp := NewStreamProcessor(e.Manager, e.Bus, e.Provider.Name(), req.Model)
		result, err := sp.Process(runCtx, events, streaming)
		if err != nil && result == nil {
			classified := classifyStepError(err)
			runErr = classified
			break
		}
		if err != nil {
			// A stream-level "error" event: StreamProcessor already emitted
			// llm:error and finalized the partial response. Record the
			// finish reason and stop the loop, per the outer-catch/finish
			// reason=error contract.
			lastUsage = result.Usage
			lastFinish = result.FinishReason
			lastText = result.Text
			stepCount++
			runErr = classifyStepError(err)
			break
		}

		// Step 6: capture finish reason + usage.
		lastUsage = result.Usage
		lastFinish = result.FinishReason
		lastText = result.Text
		stepCount++

		if result.HasToolCalls && e.Tools != nil {
			for _, tc := range result.ToolCalls {
				msg := e.Tools.Execute(runCtx, e.AgentID, e.SessionID, tc)
				if msg != nil {
					if err := e.Manager.AddMessage(runCtx, msg); err != nil {
						e.logger().Error("failed to persist tool result", "session", e.SessionID, "error", err)
					}
				}
			}
		}

		// Step 7: termination test, in strict order.
		if result.FinishReason != "tool-calls" {
			if coalesced := e.Queue.DequeueAll(runCtx); coalesced != nil {
				if err := e.Manager.AddMessage(runCtx, &models.Message{Role: models.RoleUser, Content: coalesced.CombinedContent}); err != nil {
					runErr = &StepError{Step: PhaseDrainQueue, StepCount: stepCount, Cause: err}
					break
				}
				continue
			}
			break
		}
		if e.isAborted() {
			lastFinish = "cancelled"
			break
		}
		if stepCount >= e.Config.MaxSteps {
			lastFinish = "max-steps"
			break
		}

		// Step 8: prune old tool outputs, then loop.
		prunedCount, savedTokens, err := e.Manager.PruneOldToolOutputs(runCtx, e.Pruning)
		if err != nil {
			e.logger().Warn("pruning failed, continuing", "session", e.SessionID, "error", err)
		} else if prunedCount > 0 {
			e.Bus.ContextPruned(runCtx, models.ContextPrunedPayload{PrunedCount: prunedCount, SavedTokens: savedTokens})
		}
	}

	finishReason := lastFinish
	errStr := ""
	if runErr != nil {
		if finishReason == "" {
			finishReason = "error"
		}
		errStr = runErr.Error()
	}
	e.Bus.RunComplete(ctx, models.RunCompletePayload{
		FinishReason: finishReason,
		StepCount:    stepCount,
		DurationMs:   time.Since(start).Milliseconds(),
		Error:        errStr,
	})

	if runErr != nil {
		return nil, runErr
	}
	return &ExecuteResult{Text: lastText, StepCount: stepCount, Usage: lastUsage, FinishReason: lastFinish}, nil
}

// supportsTools resolves whether tool definitions should be sent this step,
// consulting the process-wide probe cache. Native providers hit with no
// custom base URL bypass the probe entirely.
func (e *TurnExecutor) supportsTools(ctx context.Context, model string) bool {
	if e.Config.BaseURL == "" {
		return e.Provider.SupportsTools()
	}

	key := toolSupportKey(e.Provider.Name(), model, e.Config.BaseURL)
	if v, ok := toolSupportCache.Load(key); ok {
		return v.(bool)
	}

	prober, ok := e.Provider.(ToolProbe)
	if !ok {
		supported := e.Provider.SupportsTools()
		toolSupportCache.Store(key, supported)
		return supported
	}

	supported, err := prober.ProbeToolSupport(ctx, model)
	if err != nil {
		// Fail open on anything that doesn't clearly indicate the model
		// rejects tool definitions.
		supported = !strings.Contains(strings.ToLower(err.Error()), "unsupported")
	}
	toolSupportCache.Store(key, supported)
	return supported
}

// classifyStepError maps a provider-boundary error to the RuntimeError
// taxonomy when it carries an HTTP status; anything else passes through
// unchanged, per §7's "non-provider errors pass through unchanged" rule.
func classifyStepError(err error) error {
	var pe *providers.ProviderError
	if errors.As(err, &pe) {
		return ClassifyProviderError(err, pe.Status, "", pe.Message)
	}
	return err
}

func toCompletionMessages(history []*models.Message) []CompletionMessage {
	out := make([]CompletionMessage, len(history))
	for i, msg := range history {
		out[i] = CompletionMessage{
			Role:              msg.Role,
			Content:           msg.Content,
			ToolCalls:         msg.ToolCalls,
			ToolCallID:        msg.ToolCallID,
			Name:              msg.ToolName,
			Reasoning:         msg.Reasoning,
			ReasoningMetadata: msg.ReasoningMetadata,
		}
	}
	return out
}

// reactiveOverflowConfigOf reads the config a ReactiveOverflowStrategy was
// constructed with, so the overflow predicate and the summary strategy never
// disagree about OutputTokenMax. Overflow is nil-safe: a nil strategy means
// compaction is disabled for this executor and the predicate always reports
// no overflow via IsOverflow's own nil handling upstream.
func reactiveOverflowConfigOf(s *agentctx.ReactiveOverflowStrategy) agentctx.ReactiveOverflowConfig {
	if s == nil {
		return agentctx.ReactiveOverflowConfig{OutputTokenMax: 1 << 30}
	}
	return s.Config()
}
