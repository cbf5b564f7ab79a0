package temporal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"

	"github.com/happynocode/app-review-analysis/internal/config"
	"github.com/happynocode/app-review-analysis/internal/observability"
)

// DefaultHealthCheckTimeout is the timeout for Temporal server health checks.
const DefaultHealthCheckTimeout = 5 * time.Second

var (
	// ErrWorkflowNotFound indicates the workflow execution was not found.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrWorkflowAlreadyStarted indicates a workflow with the same ID is already running.
	ErrWorkflowAlreadyStarted = errors.New("workflow already started")

	// ErrNamespaceNotFound indicates the namespace does not exist.
	ErrNamespaceNotFound = errors.New("namespace not found")

	// ErrInvalidArgument indicates an invalid argument was provided.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrConnectionFailed indicates a connection failure to the Temporal server.
	ErrConnectionFailed = errors.New("connection failed")

	// ErrDeadlineExceeded indicates the operation deadline was exceeded.
	ErrDeadlineExceeded = errors.New("deadline exceeded")
)

// TemporalError wraps a Temporal error with additional context.
type TemporalError struct {
	Op         string // Operation that failed
	Kind       error  // Category of error (sentinel)
	WorkflowID string
	Err        error
}

// Error returns the error message.
func (e *TemporalError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Op, e.Kind)
	if e.WorkflowID != "" {
		msg += fmt.Sprintf(" [workflowID=%s]", e.WorkflowID)
	}
	if e.Err != nil {
		msg += fmt.Sprintf(": %v", e.Err)
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *TemporalError) Unwrap() error {
	return e.Err
}

// Is reports whether target matches this error's Kind.
func (e *TemporalError) Is(target error) bool {
	return errors.Is(e.Kind, target)
}

// wrapTemporalError maps a Temporal SDK error onto one of the sentinel kinds.
func wrapTemporalError(op string, err error, workflowID string) error {
	if err == nil {
		return nil
	}

	te := &TemporalError{Op: op, WorkflowID: workflowID, Err: err}

	var (
		notFoundErr          *serviceerror.NotFound
		alreadyStartedErr    *serviceerror.WorkflowExecutionAlreadyStarted
		namespaceNotFoundErr *serviceerror.NamespaceNotFound
		invalidArgumentErr   *serviceerror.InvalidArgument
		deadlineExceededErr  *serviceerror.DeadlineExceeded
	)

	switch {
	case errors.As(err, &notFoundErr):
		te.Kind = ErrWorkflowNotFound
	case errors.As(err, &alreadyStartedErr):
		te.Kind = ErrWorkflowAlreadyStarted
	case errors.As(err, &namespaceNotFoundErr):
		te.Kind = ErrNamespaceNotFound
	case errors.As(err, &invalidArgumentErr):
		te.Kind = ErrInvalidArgument
	case errors.As(err, &deadlineExceededErr), errors.Is(err, context.DeadlineExceeded):
		te.Kind = ErrDeadlineExceeded
	default:
		te.Kind = ErrConnectionFailed
	}

	return te
}

// NewClient dials the Temporal server described by cfg, logging through the
// service's zerolog logger.
func NewClient(cfg config.TemporalConfig, logger zerolog.Logger) (client.Client, error) {
	c, err := client.Dial(client.Options{
		HostPort:  cfg.HostPort,
		Namespace: cfg.Namespace,
		Logger:    observability.NewTemporalLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("create Temporal client: %w", err)
	}
	return c, nil
}

// CheckHealth verifies the Temporal frontend is reachable.
func CheckHealth(ctx context.Context, c client.Client) error {
	checkCtx, cancel := context.WithTimeout(ctx, DefaultHealthCheckTimeout)
	defer cancel()

	if _, err := c.CheckHealth(checkCtx, &client.CheckHealthRequest{}); err != nil {
		return wrapTemporalError("CheckHealth", err, "")
	}
	return nil
}

// TickSchedule identifies the cron workflow that drives the pipeline.
type TickSchedule struct {
	// WorkflowID is the fixed ID of the cron workflow.
	WorkflowID string

	// TaskQueue is the queue the pipeline worker polls.
	TaskQueue string

	// CronSchedule is a cron expression or an "@every" interval.
	CronSchedule string
}

// TickScheduleFromConfig builds the tick schedule from the Temporal config.
func TickScheduleFromConfig(cfg config.TemporalConfig) TickSchedule {
	return TickSchedule{
		WorkflowID:   cfg.TickWorkflowID,
		TaskQueue:    cfg.TaskQueue,
		CronSchedule: cfg.TickSchedule,
	}
}

// startOptions returns the options used to start the tick workflow. Starting
// while an execution with the same ID runs yields WorkflowExecutionAlreadyStarted.
func (s TickSchedule) startOptions() client.StartWorkflowOptions {
	return client.StartWorkflowOptions{
		ID:                                       s.WorkflowID,
		TaskQueue:                                s.TaskQueue,
		CronSchedule:                             s.CronSchedule,
		WorkflowIDReusePolicy:                    enumspb.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE,
		WorkflowExecutionErrorWhenAlreadyStarted: true,
	}
}

// EnsureTickWorkflow starts the pipeline tick cron workflow unless an
// execution with the same ID is already running. It returns the run ID of the
// execution now in charge.
func EnsureTickWorkflow(ctx context.Context, c client.Client, s TickSchedule, workflowFunc interface{}, input interface{}) (string, error) {
	if s.WorkflowID == "" || s.TaskQueue == "" || s.CronSchedule == "" {
		return "", &TemporalError{Op: "EnsureTickWorkflow", Kind: ErrInvalidArgument}
	}

	run, err := c.ExecuteWorkflow(ctx, s.startOptions(), workflowFunc, input)
	if err != nil {
		var alreadyStarted *serviceerror.WorkflowExecutionAlreadyStarted
		if errors.As(err, &alreadyStarted) {
			return alreadyStarted.RunId, nil
		}
		return "", wrapTemporalError("EnsureTickWorkflow", err, s.WorkflowID)
	}
	return run.GetRunID(), nil
}
