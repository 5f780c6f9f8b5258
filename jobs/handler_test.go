package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubInspector struct {
	infos map[string]*asynq.QueueInfo
	err   error
}

func (s stubInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	if s.err != nil {
		return nil, s.err
	}
	info, ok := s.infos[queue]
	if !ok {
		return nil, asynq.ErrQueueNotFound
	}
	return info, nil
}

type healthBody struct {
	Queues []queueStatus `json:"queues"`
}

func serveHealth(t *testing.T, inspector QueueInspector) (*httptest.ResponseRecorder, healthBody) {
	t.Helper()
	r := chi.NewRouter()
	NewHandler(inspector, slog.New(slog.NewTextHandler(io.Discard, nil))).MountRoutes(r)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	var body healthBody
	if rec.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func TestHealthReportsEveryQueue(t *testing.T) {
	rec, body := serveHealth(t, stubInspector{infos: map[string]*asynq.QueueInfo{
		QueueMail: {Queue: QueueMail, Pending: 3, Retry: 1},
	}})

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, body.Queues, 2)
	assert.Equal(t, queueStatus{Queue: QueueDefault}, body.Queues[0])
	assert.Equal(t, queueStatus{Queue: QueueMail, Pending: 3, Retry: 1}, body.Queues[1])
}

func TestHealthWithoutInspector(t *testing.T) {
	rec, body := serveHealth(t, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body.Queues, len(Queues))
}

func TestHealthInspectorFailure(t *testing.T) {
	rec, _ := serveHealth(t, stubInspector{err: errors.New("redis down")})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestNewWorkerValidatesHandlers(t *testing.T) {
	noop := func(_ context.Context, _ *asynq.Task) error { return nil }
	opts := asynq.RedisClientOpt{Addr: "127.0.0.1:0"}

	_, err := NewWorker(WorkerConfig{RedisOpts: opts, Handlers: []TaskHandler{
		{Type: TaskTypeSendEmail, Handler: noop},
		{Type: TaskTypeSendEmail, Handler: noop},
	}})
	assert.ErrorContains(t, err, "duplicate handler")

	_, err = NewWorker(WorkerConfig{RedisOpts: opts, Handlers: []TaskHandler{{Type: TaskTypeSendEmail}}})
	assert.Error(t, err)

	_, err = NewWorker(WorkerConfig{
		RedisOpts: opts,
		Handlers:  []TaskHandler{{Type: TaskTypeSendEmail, Handler: noop}},
		Cron:      []CronRegistration{{Spec: "17 * * * *", Task: NewPruneTask()}},
	})
	assert.ErrorContains(t, err, "has no handler")

	worker, err := NewWorker(WorkerConfig{RedisOpts: opts, Handlers: []TaskHandler{{Type: TaskTypeSendEmail, Handler: noop}}})
	require.NoError(t, err)
	assert.NotNil(t, worker)
}
