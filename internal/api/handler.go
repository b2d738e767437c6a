package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Kamar-Folarin/mobile-sync/internal/config"
	"github.com/Kamar-Folarin/mobile-sync/internal/errors"
	"github.com/Kamar-Folarin/mobile-sync/internal/models"
	"github.com/Kamar-Folarin/mobile-sync/internal/syncer"
)

// Handler serves the sync administration endpoints
type Handler struct {
	manager *syncer.Manager
	// runs started without ?wait=true outlive the request and use this context
	runCtx context.Context
	logger *logrus.Logger
	tracer trace.Tracer
}

// NewHandler creates a new API handler
func NewHandler(runCtx context.Context, manager *syncer.Manager, logger *logrus.Logger) *Handler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Handler{
		manager: manager,
		runCtx:  runCtx,
		logger:  logger,
		tracer:  otel.Tracer("github.com/Kamar-Folarin/mobile-sync/internal/api"),
	}
}

// ListSyncs returns every registered sync
// @Summary List syncs
// @Description Get every registered sync with the state of its latest run
// @Tags syncs
// @Produce json
// @Success 200 {object} SyncListResponse
// @Failure 500 {object} ErrorResponse
// @Router /syncs [get]
func (h *Handler) ListSyncs(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "api.list_syncs")
	defer span.End()

	states, err := h.manager.ListSyncs(ctx)
	if err != nil {
		h.respondWithError(c, span, err)
		return
	}

	span.SetAttributes(attribute.Int("syncs_count", len(states)))
	c.JSON(http.StatusOK, SyncListResponse{Syncs: states, Total: len(states)})
}

// CreateSync registers a new sync
// @Summary Create a sync
// @Description Register a new named down-sync or up-sync in status NEW
// @Tags syncs
// @Accept json
// @Produce json
// @Param request body CreateSyncRequest true "Sync definition"
// @Success 201 {object} SyncState
// @Failure 400 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /syncs [post]
func (h *Handler) CreateSync(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "api.create_sync")
	defer span.End()

	var req CreateSyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.RecordError(err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "INVALID_REQUEST",
			Details: fmt.Sprintf("Invalid request body: %v", err),
		})
		return
	}
	span.SetAttributes(
		attribute.String("sync.name", req.SyncName),
		attribute.String("sync.type", req.SyncType),
	)

	def := config.SyncDefinition{
		SyncType: models.SyncType(req.SyncType),
		SyncName: req.SyncName,
		SoupName: req.SoupName,
		Target:   req.Target,
		Options:  req.Options,
	}
	built, err := def.Build()
	if err != nil {
		h.respondWithError(c, span, errors.NewValidationError(err.Error(), err))
		return
	}

	state, err := h.manager.CreateSync(ctx, built.Type, built.Target, built.Options, built.SoupName, built.Name)
	if err != nil {
		h.respondWithError(c, span, err)
		return
	}

	c.JSON(http.StatusCreated, state)
}

// GetSync returns one sync
// @Summary Get a sync
// @Description Get a sync and the state of its latest run
// @Tags syncs
// @Produce json
// @Param id path int true "Sync ID"
// @Success 200 {object} SyncState
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /syncs/{id} [get]
func (h *Handler) GetSync(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "api.get_sync")
	defer span.End()

	id, ok := h.syncID(c)
	if !ok {
		return
	}
	span.SetAttributes(attribute.Int64("sync.id", id))

	state, err := h.manager.GetSyncStatus(ctx, id)
	if err != nil {
		h.respondWithError(c, span, err)
		return
	}

	c.JSON(http.StatusOK, state)
}

// ResyncSync runs a sync
// @Summary Run a sync
// @Description Start a run of the sync. Without wait the run continues in the background.
// @Tags syncs
// @Produce json
// @Param id path int true "Sync ID"
// @Param wait query bool false "Block until the run ends" default(false)
// @Success 200 {object} SyncState "Final state when waiting"
// @Success 202 {object} SyncState "Run started"
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /syncs/{id}/resync [post]
func (h *Handler) ResyncSync(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "api.resync")
	defer span.End()

	id, ok := h.syncID(c)
	if !ok {
		return
	}
	span.SetAttributes(attribute.Int64("sync.id", id))

	h.resync(c, ctx, span, func(runCtx context.Context) (*syncer.Run, error) {
		return h.manager.Start(runCtx, id, nil)
	})
}

// ResyncSyncByName runs a named sync
// @Summary Run a sync by name
// @Description Start a run of the named sync. Without wait the run continues in the background.
// @Tags syncs
// @Produce json
// @Param name path string true "Sync name"
// @Param wait query bool false "Block until the run ends" default(false)
// @Success 200 {object} SyncState "Final state when waiting"
// @Success 202 {object} SyncState "Run started"
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /sync-names/{name}/resync [post]
func (h *Handler) ResyncSyncByName(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "api.resync_by_name")
	defer span.End()

	name := c.Param("name")
	span.SetAttributes(attribute.String("sync.name", name))

	h.resync(c, ctx, span, func(runCtx context.Context) (*syncer.Run, error) {
		return h.manager.StartByName(runCtx, name, nil)
	})
}

func (h *Handler) resync(c *gin.Context, ctx context.Context, span trace.Span, start func(context.Context) (*syncer.Run, error)) {
	wait := false
	if raw := c.Query("wait"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "INVALID_REQUEST",
				Details: fmt.Sprintf("Invalid wait parameter: %q", raw),
			})
			return
		}
		wait = parsed
	}

	runCtx := ctx
	if !wait {
		runCtx = trace.ContextWithSpanContext(h.runCtx, span.SpanContext())
	}

	run, err := start(runCtx)
	if err != nil {
		h.respondWithError(c, span, err)
		return
	}

	if wait {
		state, err := run.Wait()
		if err != nil {
			h.respondWithError(c, span, err)
			return
		}
		c.JSON(http.StatusOK, state)
		return
	}

	state, err := h.manager.GetSyncStatus(ctx, run.SyncID())
	if err != nil {
		h.respondWithError(c, span, err)
		return
	}
	c.JSON(http.StatusAccepted, state)
}

// StopSync asks the running sync to stop
// @Summary Stop a sync
// @Description Ask the in-flight run to end as STOPPED at its next checkpoint
// @Tags syncs
// @Produce json
// @Param id path int true "Sync ID"
// @Success 202 {object} StopResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /syncs/{id}/stop [post]
func (h *Handler) StopSync(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "api.stop_sync")
	defer span.End()

	id, ok := h.syncID(c)
	if !ok {
		return
	}
	span.SetAttributes(attribute.Int64("sync.id", id))

	if _, err := h.manager.GetSyncStatus(ctx, id); err != nil {
		h.respondWithError(c, span, err)
		return
	}

	if !h.manager.Stop(id) {
		c.JSON(http.StatusConflict, ErrorResponse{
			Error:   "SYNC_NOT_RUNNING",
			Details: fmt.Sprintf("sync %d is not running", id),
		})
		return
	}

	h.logger.WithField("sync_id", id).Info("Stop requested")
	c.JSON(http.StatusAccepted, StopResponse{SyncID: id, Stopped: true})
}

// CleanGhosts removes locally cached records deleted remotely
// @Summary Clean ghost records
// @Description Delete the clean local records of a down-sync that no longer exist remotely
// @Tags syncs
// @Produce json
// @Param id path int true "Sync ID"
// @Success 200 {object} CleanGhostsResponse
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /syncs/{id}/clean-ghosts [post]
func (h *Handler) CleanGhosts(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "api.clean_ghosts")
	defer span.End()

	id, ok := h.syncID(c)
	if !ok {
		return
	}
	span.SetAttributes(attribute.Int64("sync.id", id))

	removed, err := h.manager.CleanResyncGhosts(ctx, id)
	if err != nil {
		h.respondWithError(c, span, err)
		return
	}

	span.SetAttributes(attribute.Int("ghosts_removed", removed))
	c.JSON(http.StatusOK, CleanGhostsResponse{SyncID: id, Removed: removed})
}

func (h *Handler) syncID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "INVALID_ID",
			Details: fmt.Sprintf("Invalid sync id: %q", c.Param("id")),
		})
		return 0, false
	}
	return id, true
}

func (h *Handler) respondWithError(c *gin.Context, span trace.Span, err error) {
	span.RecordError(err)

	status, code := http.StatusInternalServerError, "INTERNAL_ERROR"
	switch {
	case errors.IsSyncInProgress(err):
		status, code = http.StatusConflict, "SYNC_IN_PROGRESS"
	case errors.IsNotFound(err):
		status, code = http.StatusNotFound, "NOT_FOUND"
	case errors.IsValidationError(err):
		status, code = http.StatusBadRequest, "INVALID_REQUEST"
	}

	if status == http.StatusInternalServerError {
		internal := errors.NewInternalError("the request could not be completed", err)
		h.logger.WithError(internal).WithField("path", c.FullPath()).Error("Request failed")
		c.JSON(status, ErrorResponse{Error: code, Details: internal.Message})
		return
	}
	c.JSON(status, ErrorResponse{Error: code, Details: err.Error()})
}
