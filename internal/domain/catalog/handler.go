package catalog

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
	read := api.Group("", auth.RequireRole(auth.Roles...))
	read.GET("/kits", h.ListKits)
	read.GET("/kits/:id", h.GetKit)
	read.GET("/investigations", h.ListInvestigations)
	read.GET("/investigations/:id", h.GetInvestigation)
	read.GET("/profiles", h.ListProfiles)
	read.GET("/profiles/:id", h.GetProfile)
	read.POST("/catalog/expand", h.Expand)

	write := api.Group("", auth.RequireRole(auth.RoleAdmin))
	write.POST("/kits", h.CreateKit)
	write.PUT("/kits/:id", h.UpdateKit)
	write.DELETE("/kits/:id", h.DeleteKit)
	write.POST("/investigations", h.CreateInvestigation)
	write.PUT("/investigations/:id", h.UpdateInvestigation)
	write.DELETE("/investigations/:id", h.DeleteInvestigation)
	write.POST("/profiles", h.CreateProfile)
	write.PUT("/profiles/:id", h.UpdateProfile)
	write.DELETE("/profiles/:id", h.DeleteProfile)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func badBody() error {
	return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
}

// -- Kit Handlers --

func (h *Handler) CreateKit(c echo.Context) error {
	var k Kit
	if err := c.Bind(&k); err != nil {
		return badBody()
	}
	if err := h.svc.CreateKit(c.Request().Context(), &k); err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusCreated, k)
}

func (h *Handler) GetKit(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	k, err := h.svc.GetKit(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, k)
}

func (h *Handler) ListKits(c echo.Context) error {
	p := pagination.FromContext(c)
	kits, total, err := h.svc.ListKits(c.Request().Context(), pagination.Query(c), p.Limit, p.Offset)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(kits, total, p.Limit, p.Offset))
}

func (h *Handler) UpdateKit(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var k Kit
	if err := c.Bind(&k); err != nil {
		return badBody()
	}
	k.ID = id
	if err := h.svc.UpdateKit(c.Request().Context(), &k); err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, k)
}

func (h *Handler) DeleteKit(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteKit(c.Request().Context(), id); err != nil {
		return apperr.HTTP(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// -- Investigation Handlers --

func (h *Handler) CreateInvestigation(c echo.Context) error {
	var inv Investigation
	if err := c.Bind(&inv); err != nil {
		return badBody()
	}
	if err := h.svc.CreateInvestigation(c.Request().Context(), &inv); err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusCreated, inv)
}

func (h *Handler) GetInvestigation(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	inv, err := h.svc.GetInvestigation(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, inv)
}

func (h *Handler) ListInvestigations(c echo.Context) error {
	p := pagination.FromContext(c)
	invs, total, err := h.svc.ListInvestigations(c.Request().Context(), pagination.Query(c), p.Limit, p.Offset)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(invs, total, p.Limit, p.Offset))
}

func (h *Handler) UpdateInvestigation(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var inv Investigation
	if err := c.Bind(&inv); err != nil {
		return badBody()
	}
	inv.ID = id
	if err := h.svc.UpdateInvestigation(c.Request().Context(), &inv); err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, inv)
}

func (h *Handler) DeleteInvestigation(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteInvestigation(c.Request().Context(), id); err != nil {
		return apperr.HTTP(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// -- Profile Handlers --

func (h *Handler) CreateProfile(c echo.Context) error {
	var p Profile
	if err := c.Bind(&p); err != nil {
		return badBody()
	}
	if err := h.svc.CreateProfile(c.Request().Context(), &p); err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) GetProfile(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	p, err := h.svc.GetProfile(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ListProfiles(c echo.Context) error {
	p := pagination.FromContext(c)
	profiles, total, err := h.svc.ListProfiles(c.Request().Context(), pagination.Query(c), p.Limit, p.Offset)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(profiles, total, p.Limit, p.Offset))
}

func (h *Handler) UpdateProfile(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var p Profile
	if err := c.Bind(&p); err != nil {
		return badBody()
	}
	p.ID = id
	if err := h.svc.UpdateProfile(c.Request().Context(), &p); err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) DeleteProfile(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteProfile(c.Request().Context(), id); err != nil {
		return apperr.HTTP(err)
	}
	return c.NoContent(http.StatusNoContent)
}

type expandRequest struct {
	ProfileIDs       []uuid.UUID `json:"profile_ids"`
	InvestigationIDs []uuid.UUID `json:"investigation_ids"`
}

type expandResponse struct {
	Investigations []*Investigation `json:"investigations"`
	Total          float64          `json:"total_price"`
}

// Expand previews the investigations an order would run and what the
// individual tests cost.
func (h *Handler) Expand(c echo.Context) error {
	var req expandRequest
	if err := c.Bind(&req); err != nil {
		return badBody()
	}
	invs, err := h.svc.ExpandProfiles(c.Request().Context(), req.ProfileIDs, req.InvestigationIDs)
	if err != nil {
		return apperr.HTTP(err)
	}
	resp := expandResponse{Investigations: invs}
	for _, inv := range invs {
		resp.Total += inv.Price
	}
	return c.JSON(http.StatusOK, resp)
}
