package alerts

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/lims/lims/internal/domain/account"
	"github.com/lims/lims/internal/platform/apperr"
	"github.com/lims/lims/internal/platform/auth"
	"github.com/lims/lims/internal/platform/db"
	"github.com/lims/lims/internal/platform/websocket"
)

// defaultLookback is how far back a feed reaches when no since is given.
const defaultLookback = 24 * time.Hour

type Handler struct {
	svc *Service
	now func() time.Time
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc, now: time.Now}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/alerts", auth.RequireRole(auth.Roles...))
	g.GET("/results", h.feed(KindResults))
	g.GET("/rejections", h.feed(KindRejections))
}

// primaryRole picks the role used for scoping. Admin wins when present.
func primaryRole(roles []string) string {
	for _, r := range roles {
		if r == auth.RoleAdmin {
			return r
		}
	}
	if len(roles) > 0 {
		return roles[0]
	}
	return ""
}

func (h *Handler) feed(kind Kind) echo.HandlerFunc {
	return func(c echo.Context) error {
		since := h.now().Add(-defaultLookback)
		if raw := c.QueryParam("since"); raw != "" {
			t, err := time.Parse(time.RFC3339Nano, raw)
			if err != nil {
				return echo.NewHTTPError(http.StatusBadRequest, "since must be an RFC3339 timestamp")
			}
			since = t
		}
		limit := 0
		if raw := c.QueryParam("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive number")
			}
			limit = n
		}

		ctx := c.Request().Context()
		page, err := h.svc.FeedFor(ctx, auth.UserUUIDFromContext(ctx), primaryRole(auth.RolesFromContext(ctx)), kind, since, limit)
		if err != nil {
			return apperr.HTTP(err)
		}
		return c.JSON(http.StatusOK, page)
	}
}

// Authorize decides at websocket connect time which topics the caller may
// join: only topics of their own tenant, and for users without full scope
// only the per-hospital topics of hospitals they are mapped to.
func (h *Handler) Authorize(c echo.Context) (websocket.TopicFilter, error) {
	ctx := c.Request().Context()
	tenant := db.TenantFromContext(ctx)
	if tenant == "" {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "tenant is required")
	}
	scope, err := h.svc.scopes.HospitalScope(ctx, auth.UserUUIDFromContext(ctx), primaryRole(auth.RolesFromContext(ctx)))
	if err != nil {
		return nil, apperr.HTTP(err)
	}
	return TopicFilter(tenant, scope), nil
}

// TopicFilter admits <tenant>:<kind> for full scope and
// <tenant>:<kind>:<hospital id> for hospitals within scope.
func TopicFilter(tenant string, scope account.Scope) websocket.TopicFilter {
	return func(topic string) bool {
		parts := strings.Split(topic, ":")
		if len(parts) < 2 || len(parts) > 3 || parts[0] != tenant || !ValidKind(Kind(parts[1])) {
			return false
		}
		if len(parts) == 2 {
			return scope.All
		}
		id, err := uuid.Parse(parts[2])
		if err != nil {
			return false
		}
		return scope.Allows(id)
	}
}
