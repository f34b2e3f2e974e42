package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fieldops/field-manager/config"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.ObservabilityConfig
		level   zapcore.Level
		wantErr bool
	}{
		{"json info", config.ObservabilityConfig{LogLevel: "info", LogFormat: "json"}, zapcore.InfoLevel, false},
		{"text debug", config.ObservabilityConfig{LogLevel: "debug", LogFormat: "text"}, zapcore.DebugLevel, false},
		{"upper case level", config.ObservabilityConfig{LogLevel: "WARN"}, zapcore.WarnLevel, false},
		{"bad level", config.ObservabilityConfig{LogLevel: "loud"}, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := NewLogger(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, logger.Core().Enabled(tt.level))
			if tt.level > zapcore.DebugLevel {
				assert.False(t, logger.Core().Enabled(tt.level-1))
			}
		})
	}
}

func TestRequestLogger(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	logger := zap.New(core)

	handler := chimiddleware.RequestID(RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/boom" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte("ok"))
	})))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/dashboard", nil))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/boom", nil))

	entries := logs.All()
	require.Len(t, entries, 2)

	first := entries[0].ContextMap()
	assert.Equal(t, "/dashboard", first["path"])
	assert.Equal(t, int64(http.StatusOK), first["status"])
	assert.NotEmpty(t, first["request_id"])
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)

	assert.Equal(t, zapcore.ErrorLevel, entries[1].Level)
}
