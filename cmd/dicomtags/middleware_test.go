package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	logpkg "github.com/kailas-cloud/dicomtags/internal/logger"
)

func TestWideEventMiddleware_LogsRequest(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	logger := zap.New(core)

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(logger))
	r.Get("/v1/extendedquerytags/{path}", func(w http.ResponseWriter, r *http.Request) {
		logpkg.FromContext(r.Context()).Info("handler")
		w.WriteHeader(http.StatusNotFound)
	})

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/extendedquerytags/00181000", nil))

	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))
	require.Equal(t, 2, logs.Len())

	handlerLine := logs.All()[0]
	assert.Equal(t, rr.Header().Get("X-Request-ID"), handlerLine.ContextMap()["request_id"])

	line := logs.All()[1].ContextMap()
	assert.Equal(t, "http_request", logs.All()[1].Message)
	assert.Equal(t, "/v1/extendedquerytags/{path}", line["route"])
	assert.EqualValues(t, http.StatusNotFound, line["status"])
}

func TestJSONRecoverer(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	h := jsonRecoverer(zap.New(core))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/instances", nil))

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	var body map[string]string
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	assert.Equal(t, "internal_error", body["code"])
	assert.Equal(t, 1, logs.Len())
}
