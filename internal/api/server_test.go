package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"taskbeat/internal/domain"
	"taskbeat/internal/store"
	"taskbeat/internal/worker"
)

type noopHandler struct{}

func (noopHandler) Handle(context.Context, json.RawMessage) error { return nil }

func newTestServer(t *testing.T) (http.Handler, *worker.Group) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := sql.Open("sqlite", dsn)
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, store.EnsureSchema(db))

	grp := worker.NewGroup()
	t.Cleanup(grp.StopAll)
	handlers := map[string]domain.Handler{"noop": noopHandler{}}
	return NewServer(context.Background(), store.NewSQLite(db), grp, handlers), grp
}

const inertTask = `{"handler":"noop","payload":{},"settings":{"version":"v1","cadence":"PT1M","initialDelayDuration":"PT24H"}}`

func doReq(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestStartTask(t *testing.T) {
	srv, grp := newTestServer(t)

	w := doReq(t, srv, "POST", "/api/tasks/t1", inertTask)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	assert.True(t, grp.Contains("t1"))

	// Same id again in the same process gets rejected.
	w = doReq(t, srv, "POST", "/api/tasks/t1", inertTask)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestStartTaskValidation(t *testing.T) {
	srv, grp := newTestServer(t)

	w := doReq(t, srv, "POST", "/api/tasks/t1", `{"payload":{}}`)
	assert.Equal(t, 400, w.Code, "missing handler")

	w = doReq(t, srv, "POST", "/api/tasks/t1", `{"handler":"nope","settings":{}}`)
	assert.Equal(t, 400, w.Code, "unknown handler")

	w = doReq(t, srv, "POST", "/api/tasks/t1", `{"handler":"noop","settings":{"version":"v1"}}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code, "invalid settings")
	assert.False(t, grp.Contains("t1"), "failed start must not leave a registered worker")
}

func TestStopTask(t *testing.T) {
	srv, grp := newTestServer(t)

	require.Equal(t, http.StatusAccepted, doReq(t, srv, "POST", "/api/tasks/t1", inertTask).Code)

	w := doReq(t, srv, "DELETE", "/api/tasks/t1", "")
	assert.Equal(t, 200, w.Code)
	assert.False(t, grp.Contains("t1"))

	w = doReq(t, srv, "DELETE", "/api/tasks/t1", "")
	assert.Equal(t, 404, w.Code)
}

func TestGetAndListTasks(t *testing.T) {
	srv, _ := newTestServer(t)

	require.Equal(t, http.StatusAccepted, doReq(t, srv, "POST", "/api/tasks/t1", inertTask).Code)

	w := doReq(t, srv, "GET", "/api/tasks/t1", "")
	require.Equal(t, 200, w.Code)
	var rec map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	assert.Equal(t, "t1", rec["id"])
	assert.Equal(t, false, rec["claimed"])
	assert.Equal(t, true, rec["running_here"])

	w = doReq(t, srv, "GET", "/api/tasks", "")
	require.Equal(t, 200, w.Code)
	var recs []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &recs))
	require.Len(t, recs, 1)

	w = doReq(t, srv, "GET", "/api/tasks/unknown", "")
	assert.Equal(t, 404, w.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	srv, _ := newTestServer(t)

	assert.Equal(t, 200, doReq(t, srv, "GET", "/health", "").Code)

	w := doReq(t, srv, "GET", "/metrics", "")
	require.Equal(t, 200, w.Code)
	assert.Contains(t, w.Body.String(), "taskbeat_up 1")
}
