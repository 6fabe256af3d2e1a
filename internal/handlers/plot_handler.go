package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	apierrors "github.com/ardhilink/plotsync/internal/errors"
	"github.com/ardhilink/plotsync/internal/middleware"
	"github.com/ardhilink/plotsync/internal/models"
	"github.com/ardhilink/plotsync/internal/orders"
	"github.com/ardhilink/plotsync/internal/session"
	"github.com/ardhilink/plotsync/internal/source"
)

// PlotHandler handles plot and reservation HTTP requests.
type PlotHandler struct {
	session     *session.Session
	coordinator *orders.Coordinator
}

// NewPlotHandler creates a new PlotHandler instance.
func NewPlotHandler(sess *session.Session, coordinator *orders.Coordinator) *PlotHandler {
	return &PlotHandler{
		session:     sess,
		coordinator: coordinator,
	}
}

// PlotSetResponse represents the response for the plot list endpoint.
type PlotSetResponse struct {
	Plots        []models.Plot      `json:"plots"`
	Stats        session.Statistics `json:"stats"`
	Connectivity string             `json:"connectivity"`
	LastSync     string             `json:"last_sync,omitempty"`
	Count        int                `json:"count"`
}

// PlotResponse represents the response for single plot endpoints.
type PlotResponse struct {
	Plot models.Plot `json:"plot"`
}

// OrderResponse represents the response for the reserve endpoint.
type OrderResponse struct {
	Order *models.Order `json:"order"`
}

// List handles GET /api/v1/plots.
// It returns the session's current plot set together with aggregate
// statistics and connectivity state. An empty set with healthy connectivity
// means the source genuinely has no data; it is not an error.
func (h *PlotHandler) List(c *gin.Context) {
	plots := h.session.Plots()

	resp := PlotSetResponse{
		Plots:        plots,
		Stats:        h.session.Stats(),
		Connectivity: string(h.session.ConnectivityStatus()),
		Count:        len(plots),
	}
	if last := h.session.LastSync(); !last.IsZero() {
		resp.LastSync = last.Format(time.RFC3339)
	}

	c.JSON(http.StatusOK, resp)
}

// Get handles GET /api/v1/plots/:id.
// Plots missing locally are fetched from the source on demand.
func (h *PlotHandler) Get(c *gin.Context) {
	id := c.Param("id")

	plot, err := h.session.Lookup(c.Request.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrPlotNotFound):
			apierrors.NotFound(c, "No plot found with this id")
		case errors.Is(err, session.ErrPlotMalformed):
			apierrors.NoData(c, "The source record for this plot is unusable")
		case errors.Is(err, source.ErrTransport):
			apierrors.SourceUnreachable(c, "Cannot reach the land registry, try again")
		default:
			apierrors.InternalServerError(c, "Failed to look up plot", err)
		}
		return
	}

	c.JSON(http.StatusOK, PlotResponse{Plot: plot})
}

// Reserve handles POST /api/v1/plots/:id/reserve.
// Applicant fields are validated before any optimistic mutation or remote
// call; failure categories map to distinct error codes.
func (h *PlotHandler) Reserve(c *gin.Context) {
	log := middleware.GetLogger(c)
	id := c.Param("id")

	var applicant models.Applicant
	if err := c.ShouldBindJSON(&applicant); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			apierrors.ValidationError(c, validationErrors)
			return
		}
		apierrors.BadRequest(c, "Invalid applicant payload", nil)
		return
	}

	if log != nil {
		log.Info("Processing reservation", map[string]interface{}{
			"plot_id": id,
		})
	}

	order, err := h.coordinator.Reserve(c.Request.Context(), id, applicant)
	if err != nil {
		switch {
		case errors.Is(err, orders.ErrInvalidApplicant):
			apierrors.BadRequest(c, err.Error(), nil)
		case errors.Is(err, orders.ErrPlotNotFound):
			apierrors.NotFound(c, "No plot found with this id")
		case errors.Is(err, orders.ErrPlotUnavailable), errors.Is(err, source.ErrRejected):
			apierrors.PlotUnavailable(c, err.Error())
		case errors.Is(err, orders.ErrReservationInFlight):
			apierrors.Conflict(c, err.Error())
		case errors.Is(err, source.ErrTransport):
			apierrors.SourceUnreachable(c, "Cannot reach the land registry, try again")
		default:
			apierrors.InternalServerError(c, "Failed to reserve plot", err)
		}
		return
	}

	c.JSON(http.StatusCreated, OrderResponse{Order: order})
}

// Refresh handles POST /api/v1/refresh.
// Triggers one synchronization cycle against the source.
func (h *PlotHandler) Refresh(c *gin.Context) {
	if err := h.session.Refresh(c.Request.Context()); err != nil {
		if errors.Is(err, source.ErrTransport) {
			apierrors.SourceUnreachable(c, "Cannot reach the land registry, try again")
			return
		}
		apierrors.InternalServerError(c, "Refresh failed", err)
		return
	}

	h.List(c)
}
