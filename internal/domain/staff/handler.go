package staff

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/lims/lims/internal/platform/apperr"
	"github.com/lims/lims/internal/platform/auth"
	"github.com/lims/lims/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole(auth.RoleAdmin, auth.RoleTechnician, auth.RoleDoctor))
	read.GET("/technicians", h.ListTechnicians)
	read.GET("/technicians/:id", h.GetTechnician)
	read.GET("/nodals/:id/technicians", h.ListTechniciansByNodal)

	write := api.Group("", auth.RequireRole(auth.RoleAdmin))
	write.POST("/technicians", h.CreateTechnician)
	write.PUT("/technicians/:id", h.UpdateTechnician)
	write.DELETE("/technicians/:id", h.DeleteTechnician)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func (h *Handler) CreateTechnician(c echo.Context) error {
	var t Technician
	if err := c.Bind(&t); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := h.svc.CreateTechnician(c.Request().Context(), &t); err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusCreated, t)
}

func (h *Handler) GetTechnician(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	t, err := h.svc.GetTechnician(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) ListTechnicians(c echo.Context) error {
	p := pagination.FromContext(c)
	techs, total, err := h.svc.ListTechnicians(c.Request().Context(), pagination.Query(c), p.Limit, p.Offset)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(techs, total, p.Limit, p.Offset))
}

func (h *Handler) ListTechniciansByNodal(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	p := pagination.FromContext(c)
	techs, total, err := h.svc.ListTechniciansByNodal(c.Request().Context(), id, p.Limit, p.Offset)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(techs, total, p.Limit, p.Offset))
}

func (h *Handler) UpdateTechnician(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var t Technician
	if err := c.Bind(&t); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	t.ID = id
	if err := h.svc.UpdateTechnician(c.Request().Context(), &t); err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) DeleteTechnician(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteTechnician(c.Request().Context(), id); err != nil {
		return apperr.HTTP(err)
	}
	return c.NoContent(http.StatusNoContent)
}
