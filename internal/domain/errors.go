package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// Category sentinels.
var (
	ErrNotFound     = fmt.Errorf("not found")
	ErrDuplicate    = fmt.Errorf("duplicate")
	ErrTimeout      = fmt.Errorf("operation timed out")
	ErrInvalidInput = fmt.Errorf("invalid input")
)

// Sentinel errors for the domain layer.
var (
	ErrToolNotFound       = fmt.Errorf("unknown tool")
	ErrDuplicateTool      = fmt.Errorf("tool already registered: %w", ErrDuplicate)
	ErrToolValidation     = fmt.Errorf("tool arguments failed validation: %w", ErrInvalidInput)
	ErrPolicyRejected     = fmt.Errorf("tool call rejected by policy")
	ErrToolFailure        = fmt.Errorf("tool execution failed")
	ErrExternalService    = fmt.Errorf("external service error")
	ErrModelUnavailable   = fmt.Errorf("model unavailable")
	ErrModelResponse      = fmt.Errorf("malformed model response")
	ErrIterationCeiling   = fmt.Errorf("iteration ceiling exceeded")
	ErrConversationClosed = fmt.Errorf("conversation is read-only")
	ErrConversationOrder  = fmt.Errorf("message violates conversation order")
	ErrConversationMiss   = fmt.Errorf("conversation not found: %w", ErrNotFound)
	ErrConfigLoad         = fmt.Errorf("failed to load configuration")
	ErrDecryption         = fmt.Errorf("decryption failed")

	// Resilience errors.
	ErrContextOverflow = fmt.Errorf("context window exceeded")
	ErrRateLimit       = fmt.Errorf("rate limit exceeded")
	ErrAuthInvalid     = fmt.Errorf("authentication failed")

	// Embedding / vector errors.
	ErrEmbeddingFailed = fmt.Errorf("embedding generation failed")
	ErrVectorStore     = fmt.Errorf("vector store operation failed")
	ErrVectorSearch    = fmt.Errorf("vector search failed")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op     string // operation name (e.g., "Registry.Get")
	Err    error  // underlying sentinel or wrapped error
	Detail string // human-readable detail
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// IsRetryableError reports whether err is a transient error that may succeed on retry.
func IsRetryableError(err error) bool {
	return errors.Is(err, ErrRateLimit) || errors.Is(err, ErrTimeout)
}

// ToolErrorKind classifies a failed tool call as seen by the model.
type ToolErrorKind string

const (
	KindUnknownTool     ToolErrorKind = "UnknownToolError"
	KindValidation      ToolErrorKind = "ToolValidationError"
	KindPolicyRejection ToolErrorKind = "PolicyRejection"
	KindExternalService ToolErrorKind = "ExternalServiceError"
	KindNotFound        ToolErrorKind = "NotFoundError"
	KindTimeout         ToolErrorKind = "TimeoutError"
)

// ToolError is a failed tool call. Every tool-level failure ends up as one of
// these before it is turned into a tool_result message.
type ToolError struct {
	Kind   ToolErrorKind
	Tool   string
	Reason string
	Err    error
}

func (e *ToolError) Error() string {
	if e.Reason == "" && e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Tool, e.Err)
	}
	return fmt.Sprintf("%s: %s: %s", e.Kind, e.Tool, e.Reason)
}

func (e *ToolError) Unwrap() error { return e.Err }

// NewToolError creates a ToolError. The sentinel for kind is used when err is nil.
func NewToolError(kind ToolErrorKind, tool, reason string, err error) *ToolError {
	if err == nil {
		err = kindSentinel(kind)
	}
	return &ToolError{Kind: kind, Tool: tool, Reason: reason, Err: err}
}

func kindSentinel(kind ToolErrorKind) error {
	switch kind {
	case KindUnknownTool:
		return ErrToolNotFound
	case KindValidation:
		return ErrToolValidation
	case KindPolicyRejection:
		return ErrPolicyRejected
	case KindNotFound:
		return ErrNotFound
	case KindTimeout:
		return ErrTimeout
	default:
		return ErrExternalService
	}
}

// ToolErrorKindOf returns the kind of a tool failure. Errors that are not
// ToolErrors are classified by sentinel, defaulting to ExternalServiceError.
func ToolErrorKindOf(err error) ToolErrorKind {
	var te *ToolError
	if errors.As(err, &te) {
		return te.Kind
	}
	switch {
	case errors.Is(err, ErrToolNotFound):
		return KindUnknownTool
	case errors.Is(err, ErrToolValidation), errors.Is(err, ErrInvalidInput):
		return KindValidation
	case errors.Is(err, ErrPolicyRejected):
		return KindPolicyRejection
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrTimeout):
		return KindTimeout
	default:
		return KindExternalService
	}
}

// FailureReason names why a run ended in the FAILED state.
type FailureReason string

const (
	ReasonModelUnavailable FailureReason = "ModelUnavailableError"
	ReasonExhausted        FailureReason = "IterationCeilingExceeded"
)

// RunError is the fixed-shape error returned by a FAILED agent run.
type RunError struct {
	Reason     FailureReason
	Iterations int
	Err        error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("the agent could not complete: %s: %v", e.Reason, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

// Is lets errors.Is match the reason sentinels directly.
func (e *RunError) Is(target error) bool {
	switch e.Reason {
	case ReasonModelUnavailable:
		return target == ErrModelUnavailable
	case ReasonExhausted:
		return target == ErrIterationCeiling
	}
	return false
}

// ErrorCode is a machine-parseable error category for monitoring and API payloads.
type ErrorCode string

const (
	CodeUnknown          ErrorCode = "UNKNOWN"
	CodeValidation       ErrorCode = "VALIDATION_ERROR"
	CodeNotFound         ErrorCode = "NOT_FOUND"
	CodeDuplicate        ErrorCode = "DUPLICATE"
	CodeTimeout          ErrorCode = "TIMEOUT"
	CodeToolNotFound     ErrorCode = "UNKNOWN_TOOL"
	CodeDuplicateTool    ErrorCode = "DUPLICATE_TOOL"
	CodePolicyRejected   ErrorCode = "POLICY_REJECTED"
	CodeToolError        ErrorCode = "TOOL_ERROR"
	CodeExternalService  ErrorCode = "EXTERNAL_SERVICE_ERROR"
	CodeLLM              ErrorCode = "LLM_ERROR"
	CodeModelUnavailable ErrorCode = "MODEL_UNAVAILABLE"
	CodeIterationCeiling ErrorCode = "ITERATION_CEILING_EXCEEDED"
	CodeDatabase         ErrorCode = "DATABASE_ERROR"
	CodeVectorStore      ErrorCode = "VECTOR_STORE_ERROR"
	CodeEmbeddingFailed  ErrorCode = "EMBEDDING_FAILED"
	CodeConfigLoad       ErrorCode = "CONFIG_LOAD"
	CodeDecryption       ErrorCode = "DECRYPTION"
	CodeContextOverflow  ErrorCode = "CONTEXT_OVERFLOW"
	CodeRateLimit        ErrorCode = "RATE_LIMIT"
	CodeAuthInvalid      ErrorCode = "AUTH_INVALID"
)

// errorCodeMap maps sentinel errors to their codes. Checked in order so that
// specific sentinels win over the category sentinels they wrap.
var errorCodeMap = []struct {
	err  error
	code ErrorCode
}{
	{ErrModelUnavailable, CodeModelUnavailable},
	{ErrIterationCeiling, CodeIterationCeiling},
	{ErrModelResponse, CodeLLM},
	{ErrToolNotFound, CodeToolNotFound},
	{ErrDuplicateTool, CodeDuplicateTool},
	{ErrToolValidation, CodeValidation},
	{ErrPolicyRejected, CodePolicyRejected},
	{ErrToolFailure, CodeToolError},
	{ErrExternalService, CodeExternalService},
	{ErrConversationMiss, CodeNotFound},
	{ErrConversationOrder, CodeValidation},
	{ErrConversationClosed, CodeValidation},
	{ErrConfigLoad, CodeConfigLoad},
	{ErrDecryption, CodeDecryption},
	{ErrContextOverflow, CodeContextOverflow},
	{ErrRateLimit, CodeRateLimit},
	{ErrAuthInvalid, CodeAuthInvalid},
	{ErrEmbeddingFailed, CodeEmbeddingFailed},
	{ErrVectorStore, CodeVectorStore},
	{ErrVectorSearch, CodeVectorStore},
	{ErrNotFound, CodeNotFound},
	{ErrDuplicate, CodeDuplicate},
	{ErrTimeout, CodeTimeout},
	{ErrInvalidInput, CodeValidation},
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}
	for _, entry := range errorCodeMap {
		if errors.Is(err, entry.err) {
			return entry.code
		}
	}
	return CodeUnknown
}

// Code returns the ErrorCode for this DomainError's underlying sentinel.
func (e *DomainError) Code() ErrorCode { return ErrorCodeOf(e.Err) }

// HTTPStatusOf maps an error to the HTTP status used by the API surface.
func HTTPStatusOf(err error) int {
	switch ErrorCodeOf(err) {
	case CodeValidation, CodeDuplicate, CodeDuplicateTool:
		return http.StatusBadRequest
	case CodeNotFound, CodeToolNotFound:
		return http.StatusNotFound
	case CodeRateLimit:
		return http.StatusTooManyRequests
	case CodeModelUnavailable, CodeLLM, CodeVectorStore, CodeEmbeddingFailed:
		return http.StatusServiceUnavailable
	case CodeExternalService:
		return http.StatusBadGateway
	case CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
