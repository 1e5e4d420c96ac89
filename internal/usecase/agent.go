package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"finagent/internal/domain"
	"finagent/internal/infra/metrics"
	"finagent/internal/infra/tracer"
)

// Recovery loop constants.
const (
	maxLLMRetries  = 3
	baseRetryDelay = 500 * time.Millisecond
	maxRetryDelay  = 10 * time.Second
)

const defaultMaxIterations = 10

// AgentDeps holds injected dependencies for the agent.
type AgentDeps struct {
	LLM            domain.LLMProvider
	Tools          domain.ToolCatalog
	ContextBuilder *ContextBuilder
	Logger         *slog.Logger
	SystemPrompt   string
	// MaxIterations caps how many times a run may enter AWAITING_MODEL.
	MaxIterations int
	ModelTimeout  time.Duration // 0 = no per-call deadline
	ToolTimeout   time.Duration // 0 = no per-call deadline
	// PolicyLimits seeds a fresh Policy for every run.
	PolicyLimits    map[string]int
	ErrorClassifier *ErrorClassifier // optional, nil = no retries
	Metrics         *metrics.Metrics // optional
}

// Agent runs the model/tool loop for one question at a time per conversation.
// An Agent holds no per-run state and may serve concurrent runs.
type Agent struct {
	deps AgentDeps
}

// NewAgent creates an agent with the given dependencies.
func NewAgent(deps AgentDeps) *Agent {
	if deps.MaxIterations <= 0 {
		deps.MaxIterations = defaultMaxIterations
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.ContextBuilder == nil {
		deps.ContextBuilder = NewContextBuilder(ContextBuilderOptions{Logger: deps.Logger})
	}
	return &Agent{deps: deps}
}

// SystemPrompt returns the prompt new conversations are created with.
func (a *Agent) SystemPrompt() string { return a.deps.SystemPrompt }

// RunResult describes a finished run, successful or not.
type RunResult struct {
	ConversationID string
	// Answer is the final assistant message; zero when the run failed.
	Answer domain.Message
	// States is the sequence of loop states visited, starting at AWAITING_MODEL.
	States []domain.RunState
	// Appended holds every message the run added, starting with the question.
	Appended   []domain.Message
	Iterations int
	Usage      domain.Usage
}

// RunAgent answers question given the history that precedes it and returns
// the final assistant message. A failed run returns a *domain.RunError.
func (a *Agent) RunAgent(ctx context.Context, question string, prior []domain.Message) (domain.Message, error) {
	conv, err := NewConversation("", a.deps.SystemPrompt, prior)
	if err != nil {
		return domain.Message{}, err
	}
	res, err := a.Run(ctx, conv, question)
	if err != nil {
		return domain.Message{}, err
	}
	return res.Answer, nil
}

// Run appends question to conv and drives the loop until the model answers
// without tool calls or the run fails. The result is returned in both cases
// so callers can persist what was appended before a failure.
func (a *Agent) Run(ctx context.Context, conv *Conversation, question string) (*RunResult, error) {
	ctx, span := tracer.StartSpan(ctx, "agent.run",
		trace.WithAttributes(tracer.StringAttr("conversation.id", conv.ID())),
	)
	defer span.End()

	start := conv.Len()
	res := &RunResult{ConversationID: conv.ID()}
	log := a.deps.Logger.With("run_id", conv.ID())

	enter := func(s domain.RunState) {
		if n := len(res.States); n > 0 && !domain.CanTransition(res.States[n-1], s) {
			log.Error("illegal loop transition", "from", res.States[n-1], "to", s)
		}
		res.States = append(res.States, s)
		span.AddEvent("state", trace.WithAttributes(tracer.StringAttr("state", string(s))))
	}
	finish := func(outcome string, err error) (*RunResult, error) {
		res.Appended = conv.Since(start)
		a.deps.Metrics.RunFinished(outcome, res.Iterations)
		if err != nil {
			tracer.RecordError(span, err)
			log.Warn("agent run failed", "outcome", outcome, "iterations", res.Iterations, "error", err)
			return res, err
		}
		tracer.SetOK(span)
		log.Info("agent run completed", "iterations", res.Iterations, "tokens", res.Usage.TotalTokens)
		return res, nil
	}

	if err := conv.Append(domain.Message{Role: domain.RoleUser, Content: question}); err != nil {
		return nil, err
	}

	policy := NewPolicy(a.deps.PolicyLimits)
	schemas := a.deps.Tools.Schemas()

	for {
		res.Iterations++
		enter(domain.StateAwaitingModel)

		req := a.deps.ContextBuilder.Build(conv, schemas)
		msg, usage, err := a.callLLMWithRetry(ctx, req)
		if err != nil {
			enter(domain.StateFailed)
			return finish("model_unavailable", &domain.RunError{
				Reason:     domain.ReasonModelUnavailable,
				Iterations: res.Iterations,
				Err:        err,
			})
		}
		res.Usage.Add(usage)

		msg = normalizeAssistant(msg, res.Iterations)
		if err := conv.Append(msg); err != nil {
			enter(domain.StateFailed)
			return finish("model_unavailable", &domain.RunError{
				Reason:     domain.ReasonModelUnavailable,
				Iterations: res.Iterations,
				Err:        fmt.Errorf("%w: %v", domain.ErrModelResponse, err),
			})
		}
		enter(domain.StateModelResponded)
		log.Debug("model responded", "iteration", res.Iterations, "tool_calls", len(msg.ToolCalls), "tokens", usage.TotalTokens)

		if !msg.HasToolCalls() {
			enter(domain.StateDone)
			res.Answer = msg
			return finish("done", nil)
		}

		enter(domain.StateExecutingTools)
		var results []domain.ToolResult
		lastTurn := res.Iterations >= a.deps.MaxIterations
		if lastTurn {
			// No model turn is left to read the results, so the calls are
			// answered without running their executors.
			results = a.skipBatch(log, msg.ToolCalls)
		} else {
			results = a.executeBatch(ctx, log, msg.ToolCalls, policy)
		}
		toolMsgs := make([]domain.Message, len(results))
		for i, r := range results {
			toolMsgs[i] = domain.NewToolResultMessage(msg.ToolCalls[i], r)
		}
		if err := conv.Append(toolMsgs...); err != nil {
			// Results always answer the calls just appended.
			return nil, err
		}

		if lastTurn {
			enter(domain.StateFailed)
			return finish("exhausted", &domain.RunError{
				Reason:     domain.ReasonExhausted,
				Iterations: res.Iterations,
				Err:        fmt.Errorf("%w: %d model turns", domain.ErrIterationCeiling, a.deps.MaxIterations),
			})
		}
	}
}

// normalizeAssistant fixes up fields the model client may leave unset.
// Missing or repeated call ids are replaced with values unique within the
// turn, so every call gets its own result.
func normalizeAssistant(msg domain.Message, iteration int) domain.Message {
	msg.Role = domain.RoleAssistant
	msg.ToolCallID = ""
	msg.Name = ""
	if len(msg.ToolCalls) == 0 {
		return msg
	}

	taken := make(map[string]bool, len(msg.ToolCalls))
	for _, c := range msg.ToolCalls {
		taken[c.ID] = true
	}
	seen := make(map[string]bool, len(msg.ToolCalls))
	msg.ToolCalls = slices.Clone(msg.ToolCalls)
	for i := range msg.ToolCalls {
		id := msg.ToolCalls[i].ID
		if id != "" && !seen[id] {
			seen[id] = true
			continue
		}
		fresh := fmt.Sprintf("call_%d_%d", iteration, i)
		for n := 1; taken[fresh]; n++ {
			fresh = fmt.Sprintf("call_%d_%d_%d", iteration, i, n)
		}
		taken[fresh] = true
		seen[fresh] = true
		msg.ToolCalls[i].ID = fresh
	}
	return msg
}

// skipBatch answers calls that will not run because the run has used its
// last model turn.
func (a *Agent) skipBatch(log *slog.Logger, calls []domain.ToolCall) []domain.ToolResult {
	results := make([]domain.ToolResult, len(calls))
	for i, call := range calls {
		te := domain.NewToolError(domain.KindPolicyRejection, call.Name,
			fmt.Sprintf("not executed: the run reached its limit of %d model turns", a.deps.MaxIterations), nil)
		results[i] = failureResult(call, te)
		a.deps.Metrics.ToolCall(call.Name, "skipped", 0)
	}
	log.Warn("iteration ceiling reached, tool calls not executed", "tool_calls", len(calls))
	return results
}

// executeBatch runs one step's calls. Policy decisions are taken in request
// order before anything is dispatched; permitted calls then run concurrently
// and results are returned in request order.
func (a *Agent) executeBatch(ctx context.Context, log *slog.Logger, calls []domain.ToolCall, policy *Policy) []domain.ToolResult {
	results := make([]domain.ToolResult, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		if !policy.CheckAndIncrement(call.Name) {
			te := domain.NewToolError(domain.KindPolicyRejection, call.Name, policy.RejectionReason(call.Name), nil)
			results[i] = failureResult(call, te)
			a.deps.Metrics.PolicyRejected(call.Name)
			a.deps.Metrics.ToolCall(call.Name, "rejected", 0)
			log.Info("tool call rejected by policy", "tool_name", call.Name, "count", policy.Count(call.Name))
			continue
		}
		wg.Add(1)
		go func(idx int, c domain.ToolCall) {
			defer wg.Done()
			results[idx] = a.executeTool(ctx, log, c)
		}(i, call)
	}
	wg.Wait()
	return results
}

// executeTool looks up, validates and runs a single call. It never fails:
// every problem becomes an error result the model can read.
func (a *Agent) executeTool(ctx context.Context, log *slog.Logger, call domain.ToolCall) domain.ToolResult {
	ctx, span := tracer.StartSpan(ctx, "agent.execute_tool",
		trace.WithAttributes(tracer.StringAttr("tool.name", call.Name)),
	)
	defer span.End()

	fail := func(te *domain.ToolError, outcome string, d time.Duration) domain.ToolResult {
		tracer.RecordError(span, te)
		a.deps.Metrics.ToolCall(call.Name, outcome, d)
		log.Warn("tool call failed", "tool_name", call.Name, "kind", te.Kind, "duration_ms", d.Milliseconds(), "error", te.Reason)
		return failureResult(call, te)
	}

	tool, err := a.deps.Tools.Get(call.Name)
	if err != nil {
		return fail(domain.NewToolError(domain.KindUnknownTool, call.Name,
			fmt.Sprintf("no tool named %q is available", call.Name), err), "unknown", 0)
	}

	args := call.Arguments
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	if err := a.deps.Tools.Validate(call.Name, args); err != nil {
		return fail(domain.NewToolError(domain.KindValidation, call.Name, err.Error(), err), "invalid", 0)
	}

	start := time.Now()
	out, err := runWithTimeout(ctx, a.deps.ToolTimeout, tool, args)
	elapsed := time.Since(start)
	if err != nil {
		return fail(asToolError(call.Name, err), "error", elapsed)
	}

	tracer.SetOK(span)
	a.deps.Metrics.ToolCall(call.Name, "ok", elapsed)
	log.Info("tool executed", "tool_name", call.Name, "duration_ms", elapsed.Milliseconds())
	return domain.ToolResult{ToolCallID: call.ID, Content: out}
}

type toolOutcome struct {
	out string
	err error
}

// runWithTimeout executes tool under its own deadline. An executor that
// ignores its context is abandoned when the deadline passes; a panic is
// recovered and reported as an error.
func runWithTimeout(ctx context.Context, timeout time.Duration, tool domain.Tool, args json.RawMessage) (string, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	done := make(chan toolOutcome, 1)
	go func() {
		defer func() {
			if v := recover(); v != nil {
				done <- toolOutcome{err: fmt.Errorf("%w: panic: %v", domain.ErrToolFailure, v)}
			}
		}()
		out, err := tool.Execute(ctx, args)
		done <- toolOutcome{out: out, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil && ctx.Err() != nil && errors.Is(o.err, ctx.Err()) {
			return "", timeoutError(tool.Name(), timeout, o.err)
		}
		return o.out, o.err
	case <-ctx.Done():
		return "", timeoutError(tool.Name(), timeout, ctx.Err())
	}
}

func timeoutError(tool string, timeout time.Duration, err error) error {
	reason := "call was cancelled"
	if errors.Is(err, context.DeadlineExceeded) {
		reason = fmt.Sprintf("no response within %s", timeout)
	}
	return domain.NewToolError(domain.KindTimeout, tool, reason, fmt.Errorf("%w: %v", domain.ErrTimeout, err))
}

// asToolError keeps *domain.ToolError values and classifies anything else.
func asToolError(tool string, err error) *domain.ToolError {
	var te *domain.ToolError
	if errors.As(err, &te) {
		return te
	}
	return domain.NewToolError(domain.ToolErrorKindOf(err), tool, err.Error(), err)
}

func failureResult(call domain.ToolCall, te *domain.ToolError) domain.ToolResult {
	return domain.ToolResult{
		ToolCallID: call.ID,
		Content:    te.Error(),
		IsError:    true,
		Kind:       te.Kind,
	}
}

// callLLMWithRetry performs the model call, retrying errors the classifier
// marks retryable. Every attempt gets its own ModelTimeout.
func (a *Agent) callLLMWithRetry(ctx context.Context, req domain.ChatRequest) (domain.Message, domain.Usage, error) {
	maxAttempts := 1
	if a.deps.ErrorClassifier != nil {
		maxAttempts = maxLLMRetries
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		resp, err := a.callLLM(ctx, req)
		if err == nil {
			return resp.Message, resp.Usage, nil
		}
		lastErr = err

		if a.deps.ErrorClassifier == nil {
			break
		}
		classified := a.deps.ErrorClassifier.Classify(err)
		if !classified.Retryable() || ctx.Err() != nil {
			break
		}

		if attempt < maxAttempts-1 {
			delay := retryBackoff(attempt)
			a.deps.Logger.Info("retrying model call after error",
				"attempt", attempt+1, "delay", delay, "error", err)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return domain.Message{}, domain.Usage{}, ctx.Err()
			}
		}
	}
	return domain.Message{}, domain.Usage{}, lastErr
}

func (a *Agent) callLLM(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	if a.deps.ModelTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.deps.ModelTimeout)
		defer cancel()
	}
	ctx, span := tracer.StartSpan(ctx, "agent.llm_call")
	defer span.End()

	start := time.Now()
	resp, err := a.deps.LLM.Chat(ctx, req)
	a.deps.Metrics.ModelCall(a.deps.LLM.Name(), req.Model, time.Since(start), err)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}
	if resp == nil {
		err = fmt.Errorf("%w: empty response", domain.ErrModelResponse)
		tracer.RecordError(span, err)
		return nil, err
	}
	a.deps.Metrics.Tokens(a.deps.LLM.Name(), req.Model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	span.SetAttributes(tracer.IntAttr("llm.tokens", resp.Usage.TotalTokens))
	return resp, nil
}

// retryBackoff computes exponential backoff with jitter.
func retryBackoff(attempt int) time.Duration {
	delay := baseRetryDelay * time.Duration(1<<uint(attempt))
	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}
	// Add 0-25% jitter.
	jitter := time.Duration(rand.Int63n(int64(delay/4) + 1))
	return delay + jitter
}
