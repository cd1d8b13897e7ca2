package agent

import (
	"errors"
	"fmt"
	"strings"
)

// Common sentinel errors for agent operations
var (
	// ErrMaxIterations indicates the agentic loop exceeded its iteration limit
	ErrMaxIterations = errors.New("max iterations exceeded")

	// ErrMaxSteps is the TurnExecutor-facing alias for ErrMaxIterations.
	ErrMaxSteps = ErrMaxIterations

	// ErrContextCancelled indicates the context was cancelled
	ErrContextCancelled = errors.New("context cancelled")

	// ErrAborted indicates TurnExecutor.Abort() was called.
	ErrAborted = errors.New("turn aborted")

	// ErrNoProvider indicates no LLM provider is configured
	ErrNoProvider = errors.New("no provider configured")

	// ErrToolNotFound indicates a requested tool doesn't exist
	ErrToolNotFound = errors.New("tool not found")

	// ErrToolTimeout indicates a tool execution timed out
	ErrToolTimeout = errors.New("tool execution timed out")

	// ErrToolPanic indicates a tool panicked during execution
	ErrToolPanic = errors.New("tool panicked")

	// ErrBackpressure indicates the system is overloaded
	ErrBackpressure = errors.New("backpressure: system overloaded")
)

// RuntimeErrorCode classifies a provider/runtime failure the way
// TurnExecutor's outer catch maps provider status codes.
type RuntimeErrorCode string

const (
	CodeRateLimitExceeded          RuntimeErrorCode = "RATE_LIMIT_EXCEEDED"
	CodeGenerationFailedTimeout    RuntimeErrorCode = "GENERATION_FAILED_TIMEOUT"
	CodeGenerationFailedThirdParty RuntimeErrorCode = "GENERATION_FAILED_THIRD_PARTY"
)

// RuntimeError is the structured form of ProviderRateLimit / ProviderTimeout /
// ProviderError from the error taxonomy: every provider-status failure that
// reaches TurnExecutor's outer catch is mapped to one of these.
type RuntimeError struct {
	Code       RuntimeErrorCode
	Status     int
	RetryAfter string
	Body       string
	Message    string
	Cause      error
}

func (e *RuntimeError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("[%s] %s", e.Code, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %v", e.Code, e.Cause)
	}
	return string(e.Code)
}

func (e *RuntimeError) Unwrap() error { return e.Cause }

// ClassifyProviderError maps an HTTP status code from a provider response to
// a RuntimeError, per §4.1: 429 -> rate limit, 408 -> timeout, anything else
// -> a generic third-party failure carrying status and body. Status-code
// based, not string-pattern based, since the provider boundary always
// carries a real HTTP status here.
func ClassifyProviderError(err error, status int, retryAfter string, body string) *RuntimeError {
	switch status {
	case 429:
		return &RuntimeError{Code: CodeRateLimitExceeded, Status: status, RetryAfter: retryAfter, Cause: err}
	case 408:
		return &RuntimeError{Code: CodeGenerationFailedTimeout, Status: status, Cause: err}
	default:
		return &RuntimeError{Code: CodeGenerationFailedThirdParty, Status: status, Body: body, Cause: err}
	}
}

// IsRuntimeError checks if an error is or wraps a RuntimeError.
func IsRuntimeError(err error) (*RuntimeError, bool) {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}

// ValidationError represents an input rejected pre-dispatch (shape errors),
// surfaced as structured issues rather than a bare error string.
type ValidationError struct {
	Field   string
	Message string
	Issues  []string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation: %s", e.Message)
}

// AbortError indicates the turn was terminated by a caller-initiated abort;
// finish reason is always "cancelled" when this is the cause.
type AbortError struct {
	Cause error
}

func (e *AbortError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("aborted: %v", e.Cause)
	}
	return "aborted"
}

func (e *AbortError) Unwrap() error { return e.Cause }

// ToolErrorType categorizes tool execution errors for retry logic and error handling.
type ToolErrorType string

const (
	// ToolErrorNotFound indicates the tool doesn't exist
	ToolErrorNotFound ToolErrorType = "not_found"

	// ToolErrorInvalidInput indicates invalid parameters were passed
	ToolErrorInvalidInput ToolErrorType = "invalid_input"

	// ToolErrorTimeout indicates the tool timed out
	ToolErrorTimeout ToolErrorType = "timeout"

	// ToolErrorNetwork indicates a network error
	ToolErrorNetwork ToolErrorType = "network"

	// ToolErrorPermission indicates a permission error
	ToolErrorPermission ToolErrorType = "permission"

	// ToolErrorRateLimit indicates the tool was rate limited
	ToolErrorRateLimit ToolErrorType = "rate_limit"

	// ToolErrorExecution indicates a runtime error during execution
	ToolErrorExecution ToolErrorType = "execution"

	// ToolErrorPanic indicates the tool panicked
	ToolErrorPanic ToolErrorType = "panic"

	// ToolErrorUnknown indicates an unclassified error
	ToolErrorUnknown ToolErrorType = "unknown"
)

// IsRetryable returns true if this error type suggests retrying the operation may succeed.
// Timeout, network, and rate limit errors are considered retryable.
func (t ToolErrorType) IsRetryable() bool {
	switch t {
	case ToolErrorTimeout, ToolErrorNetwork, ToolErrorRateLimit:
		return true
	default:
		return false
	}
}

// ToolError represents a structured error from tool execution with categorization
// for retry logic and detailed context about the failure.
type ToolError struct {
	// Type categorizes the error for retry logic
	Type ToolErrorType

	// ToolName is the name of the tool that failed
	ToolName string

	// ToolCallID is the ID of the tool call that failed
	ToolCallID string

	// Message is the human-readable error message
	Message string

	// Cause is the underlying error
	Cause error

	// Retryable indicates if this error should be retried
	Retryable bool

	// Attempts is the number of attempts made
	Attempts int
}

// Error implements the error interface.
func (e *ToolError) Error() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("[tool:%s]", e.Type))

	if e.ToolName != "" {
		parts = append(parts, e.ToolName)
	}

	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}

	if e.Attempts > 1 {
		parts = append(parts, fmt.Sprintf("(attempts=%d)", e.Attempts))
	}

	return strings.Join(parts, " ")
}

// Unwrap returns the underlying error.
func (e *ToolError) Unwrap() error {
	return e.Cause
}

// NewToolError creates a new ToolError with automatic error classification.
// The error type is inferred from the cause's error message.
func NewToolError(toolName string, cause error) *ToolError {
	err := &ToolError{
		ToolName: toolName,
		Cause:    cause,
		Type:     ToolErrorUnknown,
		Attempts: 1,
	}

	if cause != nil {
		err.Message = cause.Error()
		err.Type = classifyToolError(cause)
		err.Retryable = err.Type.IsRetryable()
	}

	return err
}

// WithType sets the error type and updates retryable status accordingly.
func (e *ToolError) WithType(t ToolErrorType) *ToolError {
	e.Type = t
	e.Retryable = t.IsRetryable()
	return e
}

// WithToolCallID sets the tool call ID for correlating errors with specific calls.
func (e *ToolError) WithToolCallID(id string) *ToolError {
	e.ToolCallID = id
	return e
}

// WithMessage sets a custom human-readable error message.
func (e *ToolError) WithMessage(msg string) *ToolError {
	e.Message = msg
	return e
}

// WithAttempts sets the number of execution attempts that were made.
func (e *ToolError) WithAttempts(n int) *ToolError {
	e.Attempts = n
	return e
}

// classifyToolError determines the error type from the error content.
func classifyToolError(err error) ToolErrorType {
	if err == nil {
		return ToolErrorUnknown
	}

	// Check for sentinel errors
	if errors.Is(err, ErrToolNotFound) {
		return ToolErrorNotFound
	}
	if errors.Is(err, ErrToolTimeout) {
		return ToolErrorTimeout
	}
	if errors.Is(err, ErrToolPanic) {
		return ToolErrorPanic
	}

	errStr := strings.ToLower(err.Error())

	// Timeout patterns
	if strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded") ||
		strings.Contains(errStr, "context deadline") {
		return ToolErrorTimeout
	}

	// Network patterns
	if strings.Contains(errStr, "connection") ||
		strings.Contains(errStr, "network") ||
		strings.Contains(errStr, "dns") ||
		strings.Contains(errStr, "refused") ||
		strings.Contains(errStr, "unreachable") {
		return ToolErrorNetwork
	}

	// Rate limit patterns
	if strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "rate_limit") ||
		strings.Contains(errStr, "too many requests") ||
		strings.Contains(errStr, "429") {
		return ToolErrorRateLimit
	}

	// Permission patterns
	if strings.Contains(errStr, "permission") ||
		strings.Contains(errStr, "forbidden") ||
		strings.Contains(errStr, "unauthorized") ||
		strings.Contains(errStr, "access denied") {
		return ToolErrorPermission
	}

	// Invalid input patterns
	if strings.Contains(errStr, "invalid") ||
		strings.Contains(errStr, "validation") ||
		strings.Contains(errStr, "required") ||
		strings.Contains(errStr, "missing") {
		return ToolErrorInvalidInput
	}

	return ToolErrorExecution
}

// IsToolError checks if an error is or wraps a ToolError.
func IsToolError(err error) bool {
	var toolErr *ToolError
	return errors.As(err, &toolErr)
}

// GetToolError extracts a ToolError from an error chain using errors.As.
func GetToolError(err error) (*ToolError, bool) {
	var toolErr *ToolError
	if errors.As(err, &toolErr) {
		return toolErr, true
	}
	return nil, false
}

// IsToolRetryable checks if a tool error should be retried based on its type.
func IsToolRetryable(err error) bool {
	if toolErr, ok := GetToolError(err); ok {
		return toolErr.Retryable
	}
	return classifyToolError(err).IsRetryable()
}

// StepError represents an error that occurred during one step of
// TurnExecutor's loop, with context about which of the 8 steps and which
// step count the error occurred at.
type StepError struct {
	// Step is the loop step where the error occurred.
	Step StepPhase

	// StepCount is the step index (0-based) where the error occurred.
	StepCount int

	// Message is the human-readable error message
	Message string

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *StepError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("step error at %s (step %d): %s", e.Step, e.StepCount, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("step error at %s (step %d): %v", e.Step, e.StepCount, e.Cause)
	}
	return fmt.Sprintf("step error at %s (step %d)", e.Step, e.StepCount)
}

// Unwrap returns the underlying error.
func (e *StepError) Unwrap() error {
	return e.Cause
}

// StepPhase identifies which of TurnExecutor's 8 per-step phases an error
// occurred in.
type StepPhase string

const (
	PhaseDrainQueue     StepPhase = "drain_queue"
	PhaseOverflowCheck  StepPhase = "overflow_check"
	PhaseFormat         StepPhase = "format"
	PhaseToolProbe      StepPhase = "tool_probe"
	PhaseStepCall       StepPhase = "step_call"
	PhaseCaptureUsage   StepPhase = "capture_usage"
	PhaseTermination    StepPhase = "termination"
	PhasePruneToolOutput StepPhase = "prune_tool_output"
)
