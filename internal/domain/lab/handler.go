package lab

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
	read.GET("/patients", h.ListPatients)
	read.GET("/patients/:id", h.GetPatient)
	read.GET("/samples", h.ListSamples)
	read.GET("/samples/barcode/:barcode", h.GetSampleByBarcode)
	read.GET("/samples/:id", h.GetSample)
	read.GET("/samples/:id/events", h.ListEvents)
	read.GET("/samples/:id/report", h.GetReport)

	reception := api.Group("", auth.RequireRole(auth.RoleReception))
	reception.POST("/patients", h.CreatePatient)
	reception.PUT("/patients/:id", h.UpdatePatient)
	reception.POST("/samples", h.RegisterSample)
	reception.POST("/samples/:id/cancel", h.Cancel)

	phlebotomist := api.Group("", auth.RequireRole(auth.RolePhlebotomist))
	phlebotomist.POST("/samples/:id/collect", h.Collect)
	phlebotomist.POST("/samples/:id/recollect", h.Recollect)

	technician := api.Group("", auth.RequireRole(auth.RoleTechnician))
	technician.POST("/samples/:id/receive", h.Receive)
	technician.POST("/samples/:id/reject", h.Reject)
	technician.PUT("/samples/:id/results", h.EnterResults)

	doctor := api.Group("", auth.RequireRole(auth.RoleDoctor))
	doctor.POST("/samples/:id/approve", h.Approve)

	rerun := api.Group("", auth.RequireRole(auth.RoleDoctor, auth.RoleTechnician))
	rerun.POST("/samples/:id/rerun", h.Rerun)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func optionalID(c echo.Context, name string) (*uuid.UUID, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return &id, nil
}

// -- Patients --

func (h *Handler) CreatePatient(c echo.Context) error {
	var p Patient
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := h.svc.CreatePatient(c.Request().Context(), &p); err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) GetPatient(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	p, err := h.svc.GetPatient(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) UpdatePatient(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var p Patient
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	p.ID = id
	if err := h.svc.UpdatePatient(c.Request().Context(), &p); err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ListPatients(c echo.Context) error {
	hospitalID, err := optionalID(c, "hospital_id")
	if err != nil {
		return err
	}
	p := pagination.FromContext(c)
	patients, total, err := h.svc.ListPatients(c.Request().Context(), hospitalID, pagination.Query(c), p.Limit, p.Offset)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(patients, total, p.Limit, p.Offset))
}

// -- Samples --

func (h *Handler) RegisterSample(c echo.Context) error {
	var req RegisterRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	s, err := h.svc.RegisterSample(c.Request().Context(), &req)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusCreated, s)
}

func (h *Handler) GetSample(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	s, err := h.svc.GetSample(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, s)
}

func (h *Handler) GetSampleByBarcode(c echo.Context) error {
	s, err := h.svc.GetSampleByBarcode(c.Request().Context(), c.Param("barcode"))
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, s)
}

func (h *Handler) ListSamples(c echo.Context) error {
	p := pagination.FromContext(c)
	f := SampleFilter{
		Status: Status(c.QueryParam("status")),
		Q:      pagination.Query(c),
		Limit:  p.Limit,
		Offset: p.Offset,
	}
	var err error
	if f.HospitalID, err = optionalID(c, "hospital_id"); err != nil {
		return err
	}
	if f.NodalID, err = optionalID(c, "nodal_id"); err != nil {
		return err
	}
	if f.PatientID, err = optionalID(c, "patient_id"); err != nil {
		return err
	}
	samples, total, err := h.svc.ListSamples(c.Request().Context(), f)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(samples, total, p.Limit, p.Offset))
}

func (h *Handler) ListEvents(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	events, err := h.svc.Events(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, events)
}

func (h *Handler) GetReport(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	r, err := h.svc.Report(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, r)
}

// -- Workflow --

type stepRequest struct {
	Notes  string `json:"notes"`
	Reason string `json:"reason"`
}

// step binds the optional body of a workflow action and runs fn.
func (h *Handler) step(c echo.Context, fn func(id uuid.UUID, req stepRequest) (*Sample, error)) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req stepRequest
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
		}
	}
	s, err := fn(id, req)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, s)
}

func (h *Handler) Collect(c echo.Context) error {
	return h.step(c, func(id uuid.UUID, req stepRequest) (*Sample, error) {
		return h.svc.Collect(c.Request().Context(), id, req.Notes)
	})
}

func (h *Handler) Recollect(c echo.Context) error {
	return h.step(c, func(id uuid.UUID, req stepRequest) (*Sample, error) {
		return h.svc.Recollect(c.Request().Context(), id, req.Notes)
	})
}

func (h *Handler) Receive(c echo.Context) error {
	return h.step(c, func(id uuid.UUID, _ stepRequest) (*Sample, error) {
		return h.svc.Receive(c.Request().Context(), id)
	})
}

func (h *Handler) Reject(c echo.Context) error {
	return h.step(c, func(id uuid.UUID, req stepRequest) (*Sample, error) {
		return h.svc.Reject(c.Request().Context(), id, req.Reason)
	})
}

func (h *Handler) Approve(c echo.Context) error {
	return h.step(c, func(id uuid.UUID, _ stepRequest) (*Sample, error) {
		return h.svc.Approve(c.Request().Context(), id)
	})
}

func (h *Handler) Cancel(c echo.Context) error {
	return h.step(c, func(id uuid.UUID, req stepRequest) (*Sample, error) {
		return h.svc.Cancel(c.Request().Context(), id, req.Reason)
	})
}

func (h *Handler) Rerun(c echo.Context) error {
	return h.step(c, func(id uuid.UUID, req stepRequest) (*Sample, error) {
		return h.svc.Rerun(c.Request().Context(), id, req.Reason)
	})
}

type resultsRequest struct {
	Results []ResultInput `json:"results"`
}

type resultsResponse struct {
	Sample  *Sample   `json:"sample"`
	Results []*Result `json:"results"`
}

func (h *Handler) EnterResults(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req resultsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	s, results, err := h.svc.EnterResults(c.Request().Context(), id, req.Results)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, resultsResponse{Sample: s, Results: results})
}
