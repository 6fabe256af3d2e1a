package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	apierrors "github.com/ardhilink/plotsync/internal/errors"
	"github.com/ardhilink/plotsync/internal/render"
	"github.com/ardhilink/plotsync/internal/session"
)

// RenderHandler serves derived render instructions for the map widget.
// The renderer never receives raw geometry responsibilities; centroids and
// styles are precomputed here.
type RenderHandler struct {
	session *session.Session
}

// NewRenderHandler creates a new RenderHandler instance.
func NewRenderHandler(sess *session.Session) *RenderHandler {
	return &RenderHandler{session: sess}
}

// RenderRequest represents the query parameters for the render endpoint.
// Zoom is a pointer so that zoom=0 (fully zoomed out) passes the required
// check; required on a plain float64 treats the zero value as absent.
type RenderRequest struct {
	Zoom     *float64 `form:"zoom" binding:"required,gte=0,lte=22"`
	Hover    string   `form:"hover"`
	Selected string   `form:"selected"`
}

// RenderResponse represents the render instruction set for the current view.
type RenderResponse struct {
	Instructions map[string]render.Instruction `json:"instructions"`
	Labels       []render.Label                `json:"labels"`
	Count        int                           `json:"count"`
}

// Render handles GET /api/v1/render.
func (h *RenderHandler) Render(c *gin.Context) {
	var req RenderRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			apierrors.ValidationError(c, validationErrors)
			return
		}
		apierrors.BadRequest(c, "Invalid query parameters", nil)
		return
	}

	state := h.session.Render(render.ViewState{
		Zoom:       *req.Zoom,
		HoverID:    req.Hover,
		SelectedID: req.Selected,
	})

	c.JSON(http.StatusOK, RenderResponse{
		Instructions: state.Instructions,
		Labels:       state.Labels,
		Count:        len(state.Instructions),
	})
}
