package database

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/track360/track360-backend/pkg/errors"
	"github.com/track360/track360-backend/pkg/logger"
)

func newMockDB(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	raw, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { raw.Close() })
	return Wrap(sqlx.NewDb(raw, "postgres"), logger.Nop()), mock
}

func TestMigrate_AppliesInOrder(t *testing.T) {
	db, mock := newMockDB(t)

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS a (id INT)`,
		`CREATE INDEX IF NOT EXISTS idx_a ON a(id)`,
	}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(stmts[0])).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(stmts[1])).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	require.NoError(t, db.Migrate(context.Background(), stmts))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrate_RollsBackOnFailure(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE").WillReturnError(stderrors.New("permission denied"))
	mock.ExpectRollback()

	err := db.Migrate(context.Background(), []string{`CREATE TABLE x (id INT)`})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "migration 1 failed")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMapPQError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantNil    bool
		wantStatus int
		wantMsg    string
	}{
		{
			name:    "non pq error",
			err:     stderrors.New("boom"),
			wantNil: true,
		},
		{
			name:       "duplicate promotion",
			err:        &pq.Error{Code: "23505", Constraint: "processed_videos_unprocessed_id_key"},
			wantStatus: http.StatusConflict,
			wantMsg:    "video has already been processed",
		},
		{
			name:       "wrapped unique violation",
			err:        fmt.Errorf("insert: %w", &pq.Error{Code: "23505", Constraint: "other_key"}),
			wantStatus: http.StatusConflict,
			wantMsg:    "a record with these values already exists",
		},
		{
			name:       "latitude check",
			err:        &pq.Error{Code: "23514", Constraint: "unprocessed_videos_latitude_range"},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "not null",
			err:        &pq.Error{Code: "23502", Column: "video_url"},
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapPQError(tt.err)
			if tt.wantNil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.wantStatus, got.StatusCode)
			if tt.wantMsg != "" {
				assert.Equal(t, tt.wantMsg, got.Message)
			}
		})
	}
}

func TestIsUniqueViolation(t *testing.T) {
	err := &pq.Error{Code: "23505", Constraint: "processed_videos_unprocessed_id_key"}
	assert.True(t, IsUniqueViolation(err, ""))
	assert.True(t, IsUniqueViolation(err, "unprocessed_id"))
	assert.False(t, IsUniqueViolation(err, "title"))
	assert.False(t, IsUniqueViolation(errors.Internal("x"), ""))
}
