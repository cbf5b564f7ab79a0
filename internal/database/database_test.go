package database

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/happynocode/app-review-analysis/internal/config"
)

var _ Beginner = (pgxmock.PgxPoolIface)(nil)

func TestRunInTx(t *testing.T) {
	ctx := context.Background()
	logger := zerolog.Nop()

	t.Run("commits when fn succeeds", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectBegin()
		mock.ExpectExec("DELETE FROM themes").
			WithArgs("r1").
			WillReturnResult(pgxmock.NewResult("DELETE", 2))
		mock.ExpectCommit()

		err = RunInTx(ctx, mock, logger, func(tx pgx.Tx) error {
			_, err := tx.Exec(ctx, "DELETE FROM themes WHERE report_id = $1", "r1")
			return err
		})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back and returns fn error", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectBegin()
		mock.ExpectRollback()

		boom := errors.New("insert failed")
		err = RunInTx(ctx, mock, logger, func(pgx.Tx) error { return boom })
		assert.ErrorIs(t, err, boom)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back and re-panics", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectBegin()
		mock.ExpectRollback()

		assert.PanicsWithValue(t, "kaboom", func() {
			_ = RunInTx(ctx, mock, logger, func(pgx.Tx) error { panic("kaboom") })
		})
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("begin failure is wrapped", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectBegin().WillReturnError(errors.New("pool exhausted"))

		called := false
		err = RunInTx(ctx, mock, logger, func(pgx.Tx) error { called = true; return nil })
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to begin transaction")
		assert.False(t, called)
	})

	t.Run("commit failure is wrapped", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectBegin()
		mock.ExpectCommit().WillReturnError(errors.New("serialization failure"))

		err = RunInTx(ctx, mock, logger, func(pgx.Tx) error { return nil })
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to commit transaction")
	})
}

func TestHealthStatus(t *testing.T) {
	t.Run("error omitted when healthy", func(t *testing.T) {
		hs := HealthStatus{Status: "healthy", MaxConns: 20}
		data, err := json.Marshal(hs)
		require.NoError(t, err)
		assert.NotContains(t, string(data), `"error"`)
		assert.True(t, hs.Healthy())
	})

	t.Run("error present when unhealthy", func(t *testing.T) {
		hs := HealthStatus{Status: "unhealthy", Error: "connection refused"}
		data, err := json.Marshal(hs)
		require.NoError(t, err)
		assert.Contains(t, string(data), `"error":"connection refused"`)
		assert.False(t, hs.Healthy())
	})
}

func TestNew_UnreachableHost(t *testing.T) {
	if testing.Short() {
		t.Skip("dials the network")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cfg := &config.DatabaseConfig{
		Host:           "127.0.0.1",
		Port:           1,
		User:           "nobody",
		Name:           "nothing",
		SSLMode:        config.SSLModeDisable,
		MaxConns:       1,
		ConnectTimeout: time.Second,
	}

	db, err := New(ctx, cfg, zerolog.Nop())
	require.Error(t, err)
	assert.Nil(t, db)
}
