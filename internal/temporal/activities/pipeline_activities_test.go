package activities

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"

	"github.com/happynocode/app-review-analysis/internal/domain"
	"github.com/happynocode/app-review-analysis/internal/pipeline"
	"github.com/happynocode/app-review-analysis/internal/temporal/resilience"
)

// ---------------------------------------------------------------------------
// Mocks
// ---------------------------------------------------------------------------

type mockMonitor struct {
	mock.Mock
}

func (m *mockMonitor) Tick(ctx context.Context) (pipeline.MonitorResult, error) {
	args := m.Called(ctx)
	return args.Get(0).(pipeline.MonitorResult), args.Error(1)
}

type mockDispatcher struct {
	mock.Mock
}

func (m *mockDispatcher) Dispatch(ctx context.Context) (pipeline.DispatchResult, error) {
	args := m.Called(ctx)
	return args.Get(0).(pipeline.DispatchResult), args.Error(1)
}

type mockCompleter struct {
	mock.Mock
}

func (m *mockCompleter) Complete(ctx context.Context, reportID uuid.UUID) (domain.CompletionOutcome, error) {
	args := m.Called(ctx, reportID)
	return args.Get(0).(domain.CompletionOutcome), args.Error(1)
}

func newTestActivities() (*PipelineActivities, *mockMonitor, *mockDispatcher, *mockCompleter) {
	mon := &mockMonitor{}
	disp := &mockDispatcher{}
	comp := &mockCompleter{}
	return NewPipelineActivities(mon, disp, comp), mon, disp, comp
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestMonitorScraping(t *testing.T) {
	t.Run("returns tick counts", func(t *testing.T) {
		suite := &testsuite.WorkflowTestSuite{}
		env := suite.NewTestActivityEnvironment()
		acts, mon, _, _ := newTestActivities()
		env.RegisterActivity(acts)

		mon.On("Tick", mock.Anything).Return(pipeline.MonitorResult{Checked: 3, Advanced: 1, Forced: 1, Errors: 1}, nil)

		val, err := env.ExecuteActivity(acts.MonitorScraping)
		require.NoError(t, err)

		var out MonitorTickOutput
		require.NoError(t, val.Get(&out))
		assert.Equal(t, MonitorTickOutput{Checked: 3, Advanced: 1, Forced: 1, Errors: 1}, out)
		mon.AssertExpectations(t)
	})

	t.Run("listing failure is retryable", func(t *testing.T) {
		suite := &testsuite.WorkflowTestSuite{}
		env := suite.NewTestActivityEnvironment()
		acts, mon, _, _ := newTestActivities()
		env.RegisterActivity(acts)

		mon.On("Tick", mock.Anything).Return(pipeline.MonitorResult{}, errors.New("connection reset by peer"))

		_, err := env.ExecuteActivity(acts.MonitorScraping)
		require.Error(t, err)

		var appErr *temporal.ApplicationError
		if errors.As(err, &appErr) {
			assert.False(t, appErr.NonRetryable())
		}
	})
}

func TestDispatchTasks(t *testing.T) {
	suite := &testsuite.WorkflowTestSuite{}
	env := suite.NewTestActivityEnvironment()
	acts, _, disp, _ := newTestActivities()
	env.RegisterActivity(acts)

	ready := uuid.New()
	failed := uuid.New()
	disp.On("Dispatch", mock.Anything).Return(pipeline.DispatchResult{
		Claimed:       4,
		Completed:     2,
		Retried:       1,
		Failed:        1,
		Expired:       2,
		Reclaimed:     []uuid.UUID{ready},
		Ready:         []uuid.UUID{ready},
		FailedReports: []uuid.UUID{failed},
	}, nil)

	val, err := env.ExecuteActivity(acts.DispatchTasks)
	require.NoError(t, err)

	var out DispatchOutput
	require.NoError(t, val.Get(&out))
	assert.Equal(t, 4, out.Claimed)
	assert.Equal(t, 2, out.Completed)
	assert.Equal(t, 2, out.Expired)
	assert.Equal(t, []uuid.UUID{ready}, out.Reclaimed)
	assert.Equal(t, []uuid.UUID{ready}, out.Ready)
	assert.Equal(t, []uuid.UUID{failed}, out.FailedReports)
}

func TestCompleteReport(t *testing.T) {
	t.Run("benign outcome succeeds", func(t *testing.T) {
		suite := &testsuite.WorkflowTestSuite{}
		env := suite.NewTestActivityEnvironment()
		acts, _, _, comp := newTestActivities()
		env.RegisterActivity(acts)

		id := uuid.New()
		comp.On("Complete", mock.Anything, id).Return(domain.CompletionAlreadyCompleted, nil)

		val, err := env.ExecuteActivity(acts.CompleteReport, CompleteReportInput{ReportID: id})
		require.NoError(t, err)

		var out CompleteReportOutput
		require.NoError(t, val.Get(&out))
		assert.Equal(t, id, out.ReportID)
		assert.Equal(t, domain.CompletionAlreadyCompleted, out.Outcome)
	})

	t.Run("no completed tasks is non-retryable", func(t *testing.T) {
		suite := &testsuite.WorkflowTestSuite{}
		env := suite.NewTestActivityEnvironment()
		acts, _, _, comp := newTestActivities()
		env.RegisterActivity(acts)

		id := uuid.New()
		comp.On("Complete", mock.Anything, id).Return(domain.CompletionAcquired,
			fmt.Errorf("complete report %s: %w", id, domain.ErrNoCompletedTasks))

		_, err := env.ExecuteActivity(acts.CompleteReport, CompleteReportInput{ReportID: id})
		require.Error(t, err)

		var appErr *temporal.ApplicationError
		require.True(t, errors.As(err, &appErr))
		assert.True(t, appErr.NonRetryable())
		assert.Equal(t, resilience.TypeNoCompletedTasks, appErr.Type())
	})
}
