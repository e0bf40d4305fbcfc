// ABOUTME: Executes tool calls with per-category timeouts and converts every failure into an outcome.
// ABOUTME: Batches run concurrently and always return exactly one outcome per call, in call order.

package toolgate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/2389/relay-gateway/internal/store"
)

// DefaultTimeout is the default timeout for tool execution.
const DefaultTimeout = 30 * time.Second

// DefaultMaxConcurrency bounds how many calls of one batch run at once.
const DefaultMaxConcurrency = 8

// auditTimeout bounds how long recording an outcome may take.
const auditTimeout = 5 * time.Second

// Status is the terminal state of a call.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
	StatusTimeout Status = "timeout"
)

// Call is one tool invocation requested by an agent.
type Call struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	Caller    string          `json:"caller,omitempty"`
}

// Outcome is the result of exactly one Call.
type Outcome struct {
	CallID     string        `json:"call_id"`
	Name       string        `json:"name"`
	Content    string        `json:"content"`
	IsError    bool          `json:"is_error"`
	Diagnostic string        `json:"diagnostic,omitempty"`
	Status     Status        `json:"status"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"-"`
	DurationMS int64         `json:"duration_ms"`
}

// Recorder observes completed calls. Implementations must be safe for
// concurrent use.
type Recorder interface {
	ToolCompleted(ctx context.Context, tool, category string, status Status, d time.Duration)
}

// Config contains configuration options for the Gateway.
type Config struct {
	Registry       *Registry
	DefaultTimeout time.Duration
	Timeouts       map[string]time.Duration // by tool category
	MaxConcurrency int
	Audit          store.InvocationStore
	Recorder       Recorder
	Logger         *slog.Logger
	Tracer         trace.Tracer
}

// Gateway executes tool calls.
type Gateway struct {
	registry       *Registry
	defaultTimeout time.Duration
	timeouts       map[string]time.Duration
	maxConcurrency int
	audit          store.InvocationStore
	recorder       Recorder
	logger         *slog.Logger
	tracer         trace.Tracer
	now            func() time.Time
}

// NewGateway creates a Gateway. A nil Registry is treated as empty.
func NewGateway(cfg Config) *Gateway {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	reg := cfg.Registry
	if reg == nil {
		reg = NewRegistry(logger)
	}
	timeout := cfg.DefaultTimeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	limit := cfg.MaxConcurrency
	if limit <= 0 {
		limit = DefaultMaxConcurrency
	}
	timeouts := make(map[string]time.Duration, len(cfg.Timeouts))
	for k, v := range cfg.Timeouts {
		if v > 0 {
			timeouts[k] = v
		}
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = otel.Tracer("relay-gateway/toolgate")
	}
	return &Gateway{
		registry:       reg,
		defaultTimeout: timeout,
		timeouts:       timeouts,
		maxConcurrency: limit,
		audit:          cfg.Audit,
		recorder:       cfg.Recorder,
		logger:         logger.With("component", "toolgate"),
		tracer:         tracer,
		now:            time.Now,
	}
}

// Registry returns the gateway's tool registry.
func (g *Gateway) Registry() *Registry {
	return g.registry
}

// TimeoutFor returns the timeout applied to tools of category.
func (g *Gateway) TimeoutFor(category string) time.Duration {
	if d, ok := g.timeouts[category]; ok {
		return d
	}
	return g.defaultTimeout
}

type handlerResult struct {
	content string
	err     error
}

// Execute runs a single call. It never returns an error and never panics;
// every failure is reported in the Outcome.
func (g *Gateway) Execute(ctx context.Context, call Call) (out Outcome) {
	if call.ID == "" {
		call.ID = uuid.NewString()
	}
	started := g.now()
	out = Outcome{CallID: call.ID, Name: call.Name, StartedAt: started}
	category := "unknown"

	ctx, span := g.tracer.Start(ctx, "tool.execute", trace.WithAttributes(
		attribute.String("tool.name", call.Name),
		attribute.String("tool.call_id", call.ID),
	))
	defer func() {
		if r := recover(); r != nil {
			out = failed(out, StatusError, "internal error executing tool", fmt.Sprintf("panic: %v", r))
		}
		out.Duration = g.now().Sub(started)
		out.DurationMS = out.Duration.Milliseconds()

		span.SetAttributes(attribute.String("tool.status", string(out.Status)))
		if out.IsError {
			span.SetStatus(codes.Error, out.Diagnostic)
		}
		span.End()

		g.record(ctx, category, out)
	}()

	tool, ok := g.registry.Get(call.Name)
	if !ok {
		return failed(out, StatusError,
			fmt.Sprintf("unknown tool %q", call.Name),
			"tool is not registered")
	}
	category = tool.Category

	args, err := parseArgs(call.Arguments, tool.validator)
	if err != nil {
		return failed(out, StatusError, "invalid arguments for "+call.Name, err.Error())
	}

	timeout := g.TimeoutFor(tool.Category)
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Buffered so an abandoned handler can still deliver and exit.
	done := make(chan handlerResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- handlerResult{err: fmt.Errorf("tool panicked: %v", r)}
			}
		}()
		content, err := tool.Handler(runCtx, call.Caller, args)
		done <- handlerResult{content: content, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			g.logger.Warn("tool error", "tool_name", call.Name, "call_id", call.ID, "error", res.err)
			return failed(out, StatusError, call.Name+" failed", res.err.Error())
		}
		out.Content = res.content
		out.Status = StatusSuccess
		return out
	case <-runCtx.Done():
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			g.logger.Warn("tool timed out", "tool_name", call.Name, "call_id", call.ID, "timeout", timeout)
			return failed(out, StatusTimeout,
				fmt.Sprintf("%s timed out", call.Name),
				fmt.Sprintf("no result within %s", timeout))
		}
		return failed(out, StatusError, call.Name+" cancelled", runCtx.Err().Error())
	}
}

// ExecuteBatch runs calls concurrently. The result has the same length and
// order as calls, and out[i].CallID matches calls[i].ID; calls without an ID
// get a generated one.
func (g *Gateway) ExecuteBatch(ctx context.Context, calls []Call) []Outcome {
	out := make([]Outcome, len(calls))

	var eg errgroup.Group
	eg.SetLimit(g.maxConcurrency)
	for i := range calls {
		call := calls[i]
		if call.ID == "" {
			call.ID = uuid.NewString()
		}
		eg.Go(func() error {
			out[i] = g.Execute(ctx, call)
			return nil
		})
	}
	_ = eg.Wait()
	return out
}

func failed(out Outcome, status Status, content, diagnostic string) Outcome {
	out.Status = status
	out.IsError = true
	out.Content = content
	out.Diagnostic = diagnostic
	return out
}

// record sends the outcome to metrics and the audit trail. Failures are
// logged and never change the outcome.
func (g *Gateway) record(ctx context.Context, category string, out Outcome) {
	if g.recorder != nil {
		g.recorder.ToolCompleted(ctx, out.Name, category, out.Status, out.Duration)
	}
	if g.audit == nil {
		return
	}

	auditCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditTimeout)
	defer cancel()
	err := g.audit.RecordInvocation(auditCtx, &store.Invocation{
		CallID:     out.CallID,
		Tool:       out.Name,
		Category:   category,
		Status:     store.InvocationStatus(out.Status),
		Diagnostic: out.Diagnostic,
		StartedAt:  out.StartedAt,
		Duration:   out.Duration,
	})
	if err != nil {
		g.logger.Warn("failed to record tool invocation", "call_id", out.CallID, "error", err)
	}
}
