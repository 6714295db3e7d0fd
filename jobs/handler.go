package jobs

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"

	"github.com/aerarium-app/aerarium/internal/authz"
	"github.com/aerarium-app/aerarium/internal/platform/httpx"
	"github.com/aerarium-app/aerarium/internal/shared"
	"github.com/aerarium-app/aerarium/internal/view"
)

// Handler exposes queue observability endpoints.
type Handler struct {
	inspector *asynq.Inspector
	logger    *slog.Logger
	templates *view.Engine
	csrf      *shared.CSRFManager
	authz     authz.Middleware
}

// NewHandler constructs a Handler instance.
func NewHandler(inspector *asynq.Inspector, logger *slog.Logger, templates *view.Engine, csrf *shared.CSRFManager, az authz.Middleware) *Handler {
	return &Handler{inspector: inspector, logger: logger, templates: templates, csrf: csrf, authz: az}
}

// MountStatusPage registers the queue status page. Mounted under
// /administration by the router.
func (h *Handler) MountStatusPage(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.authz.RequireAny(authz.EditGlobalSettings))
		r.Get("/queues", h.showQueues)
	})
}

// MountHealth registers the JSON health endpoint for probes.
func (h *Handler) MountHealth(r chi.Router) {
	r.Get("/health", h.health)
}

// QueueStatus is one row of the queue status page.
type QueueStatus struct {
	Queue     string
	Size      int
	Active    int
	Pending   int
	Retry     int
	Archived  int
	Processed int
	Failed    int
}

func (h *Handler) showQueues(w http.ResponseWriter, r *http.Request) {
	var rows []QueueStatus
	if h.inspector != nil {
		names, err := h.inspector.Queues()
		if err != nil {
			h.logger.Error("list queues", slog.Any("error", err))
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
			return
		}
		for _, name := range names {
			info, err := h.inspector.GetQueueInfo(name)
			if err != nil {
				h.logger.Warn("queue info", slog.String("queue", name), slog.Any("error", err))
				continue
			}
			rows = append(rows, QueueStatus{
				Queue:     info.Queue,
				Size:      info.Size,
				Active:    info.Active,
				Pending:   info.Pending,
				Retry:     info.Retry,
				Archived:  info.Archived,
				Processed: info.Processed,
				Failed:    info.Failed,
			})
		}
	}

	sess := shared.SessionFromContext(r.Context())
	csrfToken, _ := h.csrf.EnsureToken(r.Context(), sess)
	var flash *shared.FlashMessage
	if sess != nil {
		flash = sess.PopFlash()
	}
	var granted authz.Permission
	if userID, ok := shared.CurrentUserID(r.Context()); ok && h.authz.Resolver != nil {
		granted, _ = h.authz.Resolver.PermissionsForUser(r.Context(), userID)
	}
	data := view.TemplateData{
		Title:       "Background queues",
		CSRFToken:   csrfToken,
		Flash:       flash,
		CurrentPath: r.URL.Path,
		Permissions: granted,
		Data:        map[string]any{"Queues": rows},
	}
	if err := h.templates.Render(w, "pages/queues.html", data); err != nil {
		h.logger.Error("render queues", slog.Any("error", err))
	}
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if h.inspector == nil {
		httpx.JSON(w, http.StatusOK, map[string]any{"queue": QueueDefault, "pending": 0})
		return
	}
	info, err := h.inspector.GetQueueInfo(QueueDefault)
	if err != nil {
		h.logger.Warn("jobs health", slog.Any("error", err))
		httpx.Problem(w, http.StatusServiceUnavailable, "queue unavailable", err.Error())
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"queue": info.Queue, "pending": info.Pending})
}
