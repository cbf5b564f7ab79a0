package workflows

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"

	"github.com/happynocode/app-review-analysis/internal/domain"
	"github.com/happynocode/app-review-analysis/internal/temporal/activities"
)

func completeFor(id uuid.UUID) interface{} {
	return mock.MatchedBy(func(in activities.CompleteReportInput) bool { return in.ReportID == id })
}

func TestPipelineTickWorkflow_Success(t *testing.T) {
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestWorkflowEnvironment()

	var act *activities.PipelineActivities
	first, second := uuid.New(), uuid.New()

	env.OnActivity(act.MonitorScraping, mock.Anything).Return(
		&activities.MonitorTickOutput{Checked: 2, Advanced: 1, Forced: 1}, nil,
	)
	env.OnActivity(act.DispatchTasks, mock.Anything).Return(
		&activities.DispatchOutput{Claimed: 3, Completed: 3, Ready: []uuid.UUID{first, second}}, nil,
	)
	env.OnActivity(act.CompleteReport, mock.Anything, completeFor(first)).Return(
		&activities.CompleteReportOutput{ReportID: first, Outcome: domain.CompletionCompleted}, nil,
	)
	env.OnActivity(act.CompleteReport, mock.Anything, completeFor(second)).Return(
		&activities.CompleteReportOutput{ReportID: second, Outcome: domain.CompletionAlreadyCompleted}, nil,
	)

	env.ExecuteWorkflow(PipelineTickWorkflow, PipelineTickInput{})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result PipelineTickResult
	require.NoError(t, env.GetWorkflowResult(&result))
	require.NotNil(t, result.Monitor)
	assert.Equal(t, 1, result.Monitor.Forced)
	require.NotNil(t, result.Dispatch)
	assert.Equal(t, 3, result.Dispatch.Completed)
	assert.Equal(t, map[domain.CompletionOutcome]int{
		domain.CompletionCompleted:        1,
		domain.CompletionAlreadyCompleted: 1,
	}, result.Outcomes)
	assert.Zero(t, result.CompletionErrors)
	assert.Empty(t, result.StageErrors)
}

func TestPipelineTickWorkflow_MonitorFailureStillDispatches(t *testing.T) {
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestWorkflowEnvironment()

	var act *activities.PipelineActivities
	ready := uuid.New()

	env.OnActivity(act.MonitorScraping, mock.Anything).Return(
		(*activities.MonitorTickOutput)(nil), errors.New("database unavailable"),
	)
	env.OnActivity(act.DispatchTasks, mock.Anything).Return(
		&activities.DispatchOutput{Ready: []uuid.UUID{ready}}, nil,
	)
	env.OnActivity(act.CompleteReport, mock.Anything, mock.Anything).Return(
		&activities.CompleteReportOutput{ReportID: ready, Outcome: domain.CompletionCompleted}, nil,
	)

	env.ExecuteWorkflow(PipelineTickWorkflow, PipelineTickInput{})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result PipelineTickResult
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.Nil(t, result.Monitor)
	require.Len(t, result.StageErrors, 1)
	assert.Contains(t, result.StageErrors[0], "monitor")
	assert.Equal(t, 1, result.Outcomes[domain.CompletionCompleted])
}

func TestPipelineTickWorkflow_BothStagesFail(t *testing.T) {
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestWorkflowEnvironment()

	var act *activities.PipelineActivities

	env.OnActivity(act.MonitorScraping, mock.Anything).Return(
		(*activities.MonitorTickOutput)(nil), temporal.NewNonRetryableApplicationError("down", "permanent", nil),
	)
	env.OnActivity(act.DispatchTasks, mock.Anything).Return(
		(*activities.DispatchOutput)(nil), errors.New("database unavailable"),
	)

	env.ExecuteWorkflow(PipelineTickWorkflow, PipelineTickInput{})

	require.True(t, env.IsWorkflowCompleted())
	err := env.GetWorkflowError()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "monitor and dispatch both failed")
}

func TestPipelineTickWorkflow_CompletionFailureSettlesOthers(t *testing.T) {
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestWorkflowEnvironment()

	var act *activities.PipelineActivities
	bad, good := uuid.New(), uuid.New()

	env.OnActivity(act.MonitorScraping, mock.Anything).Return(&activities.MonitorTickOutput{}, nil)
	env.OnActivity(act.DispatchTasks, mock.Anything).Return(
		&activities.DispatchOutput{Ready: []uuid.UUID{bad, good}}, nil,
	)
	env.OnActivity(act.CompleteReport, mock.Anything, completeFor(bad)).Return(
		(*activities.CompleteReportOutput)(nil),
		temporal.NewNonRetryableApplicationError("no completed analysis tasks", "no_completed_tasks", nil),
	)
	env.OnActivity(act.CompleteReport, mock.Anything, completeFor(good)).Return(
		&activities.CompleteReportOutput{ReportID: good, Outcome: domain.CompletionCompleted}, nil,
	)

	env.ExecuteWorkflow(PipelineTickWorkflow, PipelineTickInput{})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result PipelineTickResult
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.Equal(t, 1, result.CompletionErrors)
	assert.Equal(t, 1, result.Outcomes[domain.CompletionCompleted])
}

func TestPipelineTickWorkflow_CompletesInWindows(t *testing.T) {
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestWorkflowEnvironment()

	var act *activities.PipelineActivities
	ready := make([]uuid.UUID, 6)
	for i := range ready {
		ready[i] = uuid.New()
	}

	env.OnActivity(act.MonitorScraping, mock.Anything).Return(&activities.MonitorTickOutput{}, nil)
	env.OnActivity(act.DispatchTasks, mock.Anything).Return(&activities.DispatchOutput{Ready: ready}, nil)
	env.OnActivity(act.CompleteReport, mock.Anything, mock.Anything).Return(
		&activities.CompleteReportOutput{Outcome: domain.CompletionCompleted}, nil,
	)

	env.ExecuteWorkflow(PipelineTickWorkflow, PipelineTickInput{CompletionConcurrency: 4})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result PipelineTickResult
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.Equal(t, 6, result.Outcomes[domain.CompletionCompleted])
	env.AssertNumberOfCalls(t, "CompleteReport", 6)
}
