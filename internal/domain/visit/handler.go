package visit

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/opd/internal/platform/apperr"
	"github.com/ehr/opd/internal/platform/auth"
	"github.com/ehr/opd/internal/platform/etag"
	"github.com/ehr/opd/pkg/pagination"
)

const dateLayout = "2006-01-02"

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole(auth.RoleReceptionist, auth.RoleDoctor, auth.RoleNurse, auth.RoleCashier))
	read.GET("/visits", h.ListVisits)
	read.GET("/visits/queue", h.GetQueue)
	read.GET("/visits/:id", h.GetVisit)
	read.GET("/visits/:id/status-history", h.GetStatusHistory)

	register := api.Group("", auth.RequireRole(auth.RoleReceptionist, auth.RoleNurse))
	register.POST("/visits", h.CreateVisit)

	flow := api.Group("", auth.RequireRole(auth.RoleReceptionist, auth.RoleDoctor, auth.RoleNurse))
	flow.PATCH("/visits/:id/status", h.UpdateStatus)
	flow.POST("/visits/queue/call-next", h.CallNext)
}

func (h *Handler) CreateVisit(c echo.Context) error {
	var req CreateRequest
	if err := c.Bind(&req); err != nil {
		return apperr.HTTPError(apperr.InvalidInput("malformed request body"))
	}
	v, err := h.svc.CreateVisit(c.Request().Context(), req)
	if err != nil {
		return apperr.HTTPError(err)
	}
	etag.Set(c, v.VersionID)
	return c.JSON(http.StatusCreated, v)
}

func (h *Handler) GetVisit(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperr.HTTPError(apperr.InvalidInput("invalid id"))
	}
	v, err := h.svc.GetVisit(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	etag.Set(c, v.VersionID)
	return c.JSON(http.StatusOK, Detail{Visit: v, AllowedTransitions: AllowedTransitions(v.Status)})
}

func (h *Handler) ListVisits(c echo.Context) error {
	var f ListFilter
	if s := c.QueryParam("status"); s != "" {
		st, err := ParseStatus(s)
		if err != nil {
			return apperr.HTTPError(err)
		}
		f.Status = &st
	}
	if d := c.QueryParam("doctor_id"); d != "" {
		id, err := uuid.Parse(d)
		if err != nil {
			return apperr.HTTPError(apperr.InvalidInput("invalid doctor_id"))
		}
		f.DoctorID = &id
	}
	if d := c.QueryParam("date"); d != "" {
		day, err := time.Parse(dateLayout, d)
		if err != nil {
			return apperr.HTTPError(apperr.InvalidInput("date must be YYYY-MM-DD"))
		}
		f.Date = &day
	}

	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListVisits(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) UpdateStatus(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperr.HTTPError(apperr.InvalidInput("invalid id"))
	}
	var req TransitionRequest
	if err := c.Bind(&req); err != nil {
		return apperr.HTTPError(apperr.InvalidInput("malformed request body"))
	}
	version, err := etag.Expected(c, req.Version)
	if err != nil {
		return apperr.HTTPError(err)
	}

	ctx := c.Request().Context()
	v, err := h.svc.TransitionVisit(ctx, id, req.Status, version, auth.UserIDFromContext(ctx))
	if err != nil {
		return apperr.HTTPError(err)
	}
	etag.Set(c, v.VersionID)
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) GetQueue(c echo.Context) error {
	f, err := queueFilter(c)
	if err != nil {
		return apperr.HTTPError(err)
	}
	q, err := h.svc.Queue(c.Request().Context(), f)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, q)
}

func (h *Handler) CallNext(c echo.Context) error {
	f, err := queueFilter(c)
	if err != nil {
		return apperr.HTTPError(err)
	}
	ctx := c.Request().Context()
	v, err := h.svc.CallNext(ctx, f, auth.UserIDFromContext(ctx))
	if err != nil {
		return apperr.HTTPError(err)
	}
	etag.Set(c, v.VersionID)
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) GetStatusHistory(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperr.HTTPError(apperr.InvalidInput("invalid id"))
	}
	history, err := h.svc.GetStatusHistory(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	if history == nil {
		history = []*StatusHistory{}
	}
	return c.JSON(http.StatusOK, history)
}

func queueFilter(c echo.Context) (QueueFilter, error) {
	var f QueueFilter
	if d := c.QueryParam("doctor_id"); d != "" {
		id, err := uuid.Parse(d)
		if err != nil {
			return f, apperr.InvalidInput("invalid doctor_id")
		}
		f.DoctorID = &id
	}
	if d := c.QueryParam("date"); d != "" {
		day, err := time.Parse(dateLayout, d)
		if err != nil {
			return f, apperr.InvalidInput("date must be YYYY-MM-DD")
		}
		f.Day = day
	}
	return f, nil
}
