package jobs

import (
	"errors"
	"log/slog"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"

	"github.com/caseflow/caseflow/internal/platform/httpx"
)

// QueueInspector is the slice of asynq.Inspector the health endpoint reads.
type QueueInspector interface {
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
}

// Handler exposes queue health to administrators.
type Handler struct {
	inspector QueueInspector
	logger    *slog.Logger
}

// NewHandler constructs the jobs HTTP handler. A nil inspector reports empty queues.
func NewHandler(inspector QueueInspector, logger *slog.Logger) *Handler {
	return &Handler{inspector: inspector, logger: logger}
}

// MountRoutes attaches job routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/health", h.health)
}

type queueStatus struct {
	Queue    string `json:"queue"`
	Pending  int    `json:"pending"`
	Active   int    `json:"active"`
	Retry    int    `json:"retry"`
	Archived int    `json:"archived"`
	Paused   bool   `json:"paused"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0, len(Queues))
	for name := range Queues {
		names = append(names, name)
	}
	sort.Strings(names)

	statuses := make([]queueStatus, 0, len(names))
	for _, name := range names {
		status := queueStatus{Queue: name}
		if h.inspector != nil {
			info, err := h.inspector.GetQueueInfo(name)
			switch {
			case errors.Is(err, asynq.ErrQueueNotFound):
				// Queues appear in Redis with their first task.
			case err != nil:
				h.logger.Warn("jobs health", slog.String("queue", name), slog.Any("error", err))
				httpx.Problem(w, http.StatusServiceUnavailable, "Service Unavailable", "queue inspection failed")
				return
			case info != nil:
				status = queueStatus{
					Queue:    info.Queue,
					Pending:  info.Pending,
					Active:   info.Active,
					Retry:    info.Retry,
					Archived: info.Archived,
					Paused:   info.Paused,
				}
			}
		}
		statuses = append(statuses, status)
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"queues": statuses})
}
