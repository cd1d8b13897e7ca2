package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/haasonsaas/nexus/internal/tools/policy"
	"github.com/haasonsaas/nexus/pkg/models"
)

// ToolRegistry manages available tools with thread-safe registration and lookup.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewToolRegistry creates a new empty tool registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]Tool)}
}

// Register adds a tool to the registry by its name, replacing any existing
// tool with the same name.
func (r *ToolRegistry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
}

// Unregister removes a tool from the registry by name.
func (r *ToolRegistry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Get returns a tool by name and whether it was found.
func (r *ToolRegistry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// Tool parameter limits to prevent resource exhaustion.
const (
	MaxToolNameLength = 256
	MaxToolParamsSize = 10 << 20
)

// AsLLMTools returns all registered tools as a slice for passing to a provider.
func (r *ToolRegistry) AsLLMTools() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tools := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		tools = append(tools, t)
	}
	return tools
}

// ToolManager wires a ToolRegistry, approval policy, and result guard into
// the single place tool execution happens, implementing the "emit at
// execution, not at parse" ordering: llm:tool-call is published here, at
// dispatch time, never by StreamProcessor.
type ToolManager struct {
	Registry *ToolRegistry
	Approval *ApprovalChecker
	Guard    ToolResultGuard
	Resolver *policy.Resolver
	Bus      *EventBus

	// Executor runs the actual invocation with concurrency limiting, retry,
	// and timeout handling. If nil, one is built lazily from Registry with
	// DefaultExecutorConfig.
	Executor *Executor

	// ApprovalWait, if set, is called for a pending decision and must
	// return the final decision (typically by waiting on an external
	// approval:response). If nil, pending tool calls are denied — fail
	// closed rather than executing an unreviewed call.
	ApprovalWait func(ctx context.Context, req *ApprovalRequest) (ApprovalDecision, error)
}

func (m *ToolManager) executor() *Executor {
	if m.Executor == nil {
		m.Executor = NewExecutor(m.Registry, DefaultExecutorConfig())
	}
	return m.Executor
}

// Execute runs one tool call end to end: approval gating, execution,
// sanitization, and event emission. The returned Message is tool-role and
// ready to append to history.
func (m *ToolManager) Execute(ctx context.Context, agentID, sessionID string, tc models.ToolCall) *models.Message {
	bus := m.Bus

	var argsRaw json.RawMessage
	if tc.Arguments != "" {
		argsRaw = json.RawMessage(tc.Arguments)
	}
	if bus != nil {
		bus.LLMToolCall(ctx, models.ToolCallPayload{ToolName: tc.Name, Args: argsRaw, CallID: tc.ID})
	}

	decision, reason := m.checkApproval(ctx, agentID, sessionID, tc)
	if decision == ApprovalDenied {
		return m.deniedMessage(ctx, tc, reason)
	}

	if bus != nil {
		bus.ToolRunning(ctx, models.ToolRunningPayload{ToolName: tc.Name, ToolCallID: tc.ID})
	}

	sanitized := m.execute(ctx, tc)
	sanitized.Meta.RequireApprove = decision == ApprovalPending
	sanitized.Meta.ApprovalStatus = string(decision)

	if bus != nil {
		resultPayload := models.ToolResultPayload{
			ToolName:        tc.Name,
			CallID:          tc.ID,
			Success:         sanitized.Meta.Success,
			Sanitized:       &sanitized,
			RequireApproval: sanitized.Meta.RequireApprove,
			ApprovalStatus:  sanitized.Meta.ApprovalStatus,
		}
		if !sanitized.Meta.Success {
			resultPayload.Error = models.ConcatText(sanitized.Content)
		}
		bus.LLMToolResult(ctx, resultPayload)
	}

	return &models.Message{
		Role:       models.RoleTool,
		ToolCallID: tc.ID,
		ToolName:   tc.Name,
		Content:    sanitized.Content,
		ToolResult: &sanitized,
	}
}

func (m *ToolManager) checkApproval(ctx context.Context, agentID, sessionID string, tc models.ToolCall) (ApprovalDecision, string) {
	if m.Approval == nil {
		return ApprovalAllowed, "no approval policy configured"
	}
	decision, reason := m.Approval.Check(ctx, agentID, tc)
	if decision != ApprovalPending {
		return decision, reason
	}

	req, err := m.Approval.CreateApprovalRequest(ctx, agentID, sessionID, tc, reason)
	if err != nil {
		return ApprovalDenied, "failed to create approval request: " + err.Error()
	}
	if m.Bus != nil {
		m.Bus.ApprovalRequest(ctx, models.ApprovalPayload{
			RequestID:  req.ID,
			ToolName:   tc.Name,
			ToolCallID: tc.ID,
			Reason:     reason,
		})
	}
	if m.ApprovalWait == nil {
		return ApprovalDenied, "no approval resolver configured; pending requests are denied"
	}

	final, err := m.ApprovalWait(ctx, req)
	if err != nil {
		return ApprovalDenied, "approval wait failed: " + err.Error()
	}
	if m.Bus != nil {
		m.Bus.ApprovalResponse(ctx, models.ApprovalPayload{
			RequestID:  req.ID,
			ToolName:   tc.Name,
			ToolCallID: tc.ID,
			Decision:   string(final),
		})
	}
	return final, "resolved"
}

func (m *ToolManager) deniedMessage(ctx context.Context, tc models.ToolCall, reason string) *models.Message {
	sanitized := models.SanitizedToolResult{
		Content: models.TextContent("tool call denied: " + reason),
		Meta: models.ToolResultMeta{
			ToolName:       tc.Name,
			ToolCallID:     tc.ID,
			Success:        false,
			RequireApprove: true,
			ApprovalStatus: string(ApprovalDenied),
		},
	}
	if m.Bus != nil {
		m.Bus.LLMToolResult(ctx, models.ToolResultPayload{
			ToolName:        tc.Name,
			CallID:          tc.ID,
			Success:         false,
			Sanitized:       &sanitized,
			Error:           reason,
			RequireApproval: true,
			ApprovalStatus:  string(ApprovalDenied),
		})
	}
	return &models.Message{
		Role:       models.RoleTool,
		ToolCallID: tc.ID,
		ToolName:   tc.Name,
		Content:    sanitized.Content,
		ToolResult: &sanitized,
	}
}

// execute invokes the tool through the Executor (which handles concurrency
// limiting, retry-with-backoff, timeout, and panic recovery), translating
// the outcome and applying the result guard for a sanitized, history-ready
// result.
func (m *ToolManager) execute(ctx context.Context, tc models.ToolCall) models.SanitizedToolResult {
	if len(tc.Name) > MaxToolNameLength {
		return m.validationResult(tc, &ValidationError{
			Field:   "name",
			Message: fmt.Sprintf("tool name exceeds maximum length of %d characters", MaxToolNameLength),
		})
	}
	if len(tc.Arguments) > MaxToolParamsSize {
		return m.validationResult(tc, &ValidationError{
			Field:   "arguments",
			Message: fmt.Sprintf("tool parameters exceed maximum size of %d bytes", MaxToolParamsSize),
		})
	}
	tool, ok := m.Registry.Get(tc.Name)
	if !ok {
		return m.errorResult(tc, "tool not found: "+tc.Name)
	}
	if verr := validateToolArguments(tool, tc.Arguments); verr != nil {
		return m.validationResult(tc, verr)
	}

	result := m.executor().Execute(ctx, tc)

	var sanitized models.SanitizedToolResult
	if result.Error != nil {
		sanitized = m.errorResult(tc, result.Error.Error())
	} else if result.Result != nil {
		sanitized = *result.Result
	} else {
		sanitized = models.SanitizedToolResult{
			Content: models.TextContent(""),
			Meta:    models.ToolResultMeta{ToolName: tc.Name, ToolCallID: tc.ID, Success: true},
		}
	}

	if m.Guard.active() {
		sanitized = m.Guard.Apply(tc.Name, sanitized, m.Resolver)
	}
	return sanitized
}

func (m *ToolManager) errorResult(tc models.ToolCall, message string) models.SanitizedToolResult {
	return models.SanitizedToolResult{
		Content: models.TextContent(message),
		Meta:    models.ToolResultMeta{ToolName: tc.Name, ToolCallID: tc.ID, Success: false},
	}
}

// validationResult turns a pre-dispatch *ValidationError into the structured
// tool-role result the caller sees, rather than collapsing it into a bare
// error string.
func (m *ToolManager) validationResult(tc models.ToolCall, verr *ValidationError) models.SanitizedToolResult {
	return m.errorResult(tc, verr.Error())
}

func normalizeToolName(name string, resolver *policy.Resolver) string {
	if resolver == nil {
		return policy.NormalizeTool(name)
	}
	return resolver.CanonicalName(name)
}

func matchesToolPatterns(patterns []string, toolName string, resolver *policy.Resolver) bool {
	if len(patterns) == 0 {
		return false
	}
	name := normalizeToolName(toolName, resolver)
	for _, pattern := range patterns {
		if matchToolPattern(normalizeToolName(pattern, resolver), name) {
			return true
		}
	}
	return false
}

func matchToolPattern(pattern, toolName string) bool {
	if pattern == "" || toolName == "" {
		return false
	}
	if pattern == "mcp:*" {
		return strings.HasPrefix(toolName, "mcp:")
	}
	if strings.HasSuffix(pattern, ".*") {
		prefix := strings.TrimSuffix(pattern, "*")
		return strings.HasPrefix(toolName, prefix)
	}
	return pattern == toolName
}
