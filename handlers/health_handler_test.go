package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/fieldops/field-manager/repositories/postgres"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type checkFunc func(ctx context.Context) error

func (f checkFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

func readiness(t *testing.T, h *HealthHandler) (int, HealthResponse) {
	t.Helper()
	w := httptest.NewRecorder()
	h.HandleReadiness(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	var body struct {
		Data HealthResponse `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	return w.Code, body.Data
}

func TestHandleHealth(t *testing.T) {
	handler := NewHealthHandler(nil, zap.NewNop())

	w := httptest.NewRecorder()
	handler.HandleHealth(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	var response map[string]interface{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	data := response["data"].(map[string]interface{})
	assert.Equal(t, "healthy", data["status"])
	assert.NotEmpty(t, data["timestamp"])
}

func TestHandleReadiness(t *testing.T) {
	logger := zap.NewNop()

	newDB := func(t *testing.T) (*postgres.DB, sqlmock.Sqlmock) {
		conn, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		require.NoError(t, err)
		t.Cleanup(func() { conn.Close() })
		return postgres.NewDBFromConn(conn, logger), mock
	}

	t.Run("healthy when database is available", func(t *testing.T) {
		db, mock := newDB(t)
		mock.ExpectPing()
		mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))

		code, data := readiness(t, NewHealthHandler(db, logger))

		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, "healthy", data.Status)
		assert.Equal(t, "healthy", data.Checks["database"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unhealthy when database ping fails", func(t *testing.T) {
		db, mock := newDB(t)
		mock.ExpectPing().WillReturnError(sql.ErrConnDone)

		code, data := readiness(t, NewHealthHandler(db, logger))

		assert.Equal(t, http.StatusServiceUnavailable, code)
		assert.Equal(t, "unhealthy", data.Status)
		assert.Equal(t, "unhealthy", data.Checks["database"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unhealthy when database query fails", func(t *testing.T) {
		db, mock := newDB(t)
		mock.ExpectPing()
		mock.ExpectQuery("SELECT 1").WillReturnError(sql.ErrConnDone)

		code, data := readiness(t, NewHealthHandler(db, logger))

		assert.Equal(t, http.StatusServiceUnavailable, code)
		assert.Equal(t, "unhealthy", data.Checks["database"])
	})

	t.Run("no database configured is ready", func(t *testing.T) {
		code, data := readiness(t, NewHealthHandler(nil, logger))

		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, "not_configured", data.Checks["database"])
	})

	t.Run("extra checks are reported", func(t *testing.T) {
		h := NewHealthHandler(nil, logger).
			WithCheck("audit_db", checkFunc(func(context.Context) error { return errors.New("down") }))

		code, data := readiness(t, h)

		assert.Equal(t, http.StatusServiceUnavailable, code)
		assert.Equal(t, "unhealthy", data.Checks["audit_db"])
	})
}
