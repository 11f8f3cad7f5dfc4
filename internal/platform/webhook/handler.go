package webhook

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/lims/lims/internal/platform/apperr"
	"github.com/lims/lims/pkg/pagination"
)

type Handler struct {
	mgr *Manager
}

func NewHandler(mgr *Manager) *Handler {
	return &Handler{mgr: mgr}
}

// RegisterRoutes mounts the webhook admin API. g is expected to be
// restricted to administrators already.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/webhooks", h.Create)
	g.GET("/webhooks", h.List)
	g.GET("/webhooks/:id", h.Get)
	g.PUT("/webhooks/:id", h.Update)
	g.DELETE("/webhooks/:id", h.Delete)
	g.POST("/webhooks/:id/pause", h.Pause)
	g.POST("/webhooks/:id/resume", h.Resume)
	g.POST("/webhooks/:id/test", h.Test)
	g.GET("/webhooks/:id/deliveries", h.Deliveries)
	g.POST("/webhooks/deliveries/:id/retry", h.Retry)
}

type endpointRequest struct {
	URL         string      `json:"url"`
	Secret      string      `json:"secret"`
	Kinds       []string    `json:"kinds"`
	HospitalIDs []uuid.UUID `json:"hospital_ids"`
	Description string      `json:"description"`
	Status      string      `json:"status"`
}

func (r endpointRequest) endpoint() *Endpoint {
	return &Endpoint{
		URL:         r.URL,
		Secret:      r.Secret,
		Kinds:       r.Kinds,
		HospitalIDs: r.HospitalIDs,
		Description: r.Description,
		Status:      r.Status,
	}
}

// createResponse is the only response that carries the secret.
type createResponse struct {
	*Endpoint
	Secret string `json:"secret"`
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func (h *Handler) Create(c echo.Context) error {
	var req endpointRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	ep := req.endpoint()
	if err := h.mgr.Register(c.Request().Context(), ep); err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusCreated, createResponse{Endpoint: ep, Secret: ep.Secret})
}

func (h *Handler) List(c echo.Context) error {
	p := pagination.FromContext(c)
	endpoints, total, err := h.mgr.List(c.Request().Context(), p.Limit, p.Offset)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(endpoints, total, p.Limit, p.Offset))
}

func (h *Handler) Get(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	ep, err := h.mgr.Get(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, ep)
}

func (h *Handler) Update(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req endpointRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	ep := req.endpoint()
	ep.ID = id
	if err := h.mgr.Update(c.Request().Context(), ep); err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, ep)
}

func (h *Handler) Delete(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.mgr.Delete(c.Request().Context(), id); err != nil {
		return apperr.HTTP(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) Pause(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	ep, err := h.mgr.Pause(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, ep)
}

func (h *Handler) Resume(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	ep, err := h.mgr.Resume(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, ep)
}

func (h *Handler) Test(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	d, err := h.mgr.Test(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) Deliveries(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	p := pagination.FromContext(c)
	deliveries, total, err := h.mgr.Deliveries(c.Request().Context(), id, p.Limit, p.Offset)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(deliveries, total, p.Limit, p.Offset))
}

func (h *Handler) Retry(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	d, err := h.mgr.Retry(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, d)
}
