package billing

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/opd/internal/platform/apperr"
	"github.com/ehr/opd/internal/platform/auth"
	"github.com/ehr/opd/internal/platform/etag"
	"github.com/ehr/opd/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole(auth.RoleCashier, auth.RoleReceptionist, auth.RoleDoctor))
	read.GET("/opd-bills", h.ListBills)
	read.GET("/opd-bills/:id", h.GetBill)
	read.GET("/opd-bills/:id/payments", h.ListPayments)

	write := api.Group("", auth.RequireRole(auth.RoleCashier, auth.RoleReceptionist))
	write.POST("/opd-bills", h.CreateBill)
	write.POST("/opd-bills/preview", h.Preview)
	write.PATCH("/opd-bills/:id", h.UpdateBill)
	write.POST("/opd-bills/:id/payments", h.RecordPayment)
}

func (h *Handler) CreateBill(c echo.Context) error {
	var req CreateRequest
	if err := c.Bind(&req); err != nil {
		return apperr.HTTPError(apperr.InvalidInput("malformed request body"))
	}
	b, err := h.svc.CreateBill(c.Request().Context(), req)
	if err != nil {
		return apperr.HTTPError(err)
	}
	etag.Set(c, b.VersionID)
	return c.JSON(http.StatusCreated, b)
}

func (h *Handler) GetBill(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperr.HTTPError(apperr.InvalidInput("invalid id"))
	}
	b, err := h.svc.GetBill(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	etag.Set(c, b.VersionID)
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) ListBills(c echo.Context) error {
	var f ListFilter
	if v := c.QueryParam("visit_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return apperr.HTTPError(apperr.InvalidInput("invalid visit_id"))
		}
		f.VisitID = &id
	}
	if v := c.QueryParam("payment_status"); v != "" {
		st, err := ParsePaymentStatus(v)
		if err != nil {
			return apperr.HTTPError(err)
		}
		f.PaymentStatus = &st
	}

	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListBills(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) UpdateBill(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperr.HTTPError(apperr.InvalidInput("invalid id"))
	}
	var req UpdateRequest
	if err := c.Bind(&req); err != nil {
		return apperr.HTTPError(apperr.InvalidInput("malformed request body"))
	}
	if req.Version, err = etag.Expected(c, req.Version); err != nil {
		return apperr.HTTPError(err)
	}
	b, err := h.svc.UpdateBill(c.Request().Context(), id, req)
	if err != nil {
		return apperr.HTTPError(err)
	}
	etag.Set(c, b.VersionID)
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) RecordPayment(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperr.HTTPError(apperr.InvalidInput("invalid id"))
	}
	var req PaymentRequest
	if err := c.Bind(&req); err != nil {
		return apperr.HTTPError(apperr.InvalidInput("malformed request body"))
	}
	if req.Version, err = etag.Expected(c, req.Version); err != nil {
		return apperr.HTTPError(err)
	}

	ctx := c.Request().Context()
	b, _, err := h.svc.RecordPayment(ctx, id, req, auth.UserIDFromContext(ctx))
	if err != nil {
		return apperr.HTTPError(err)
	}
	etag.Set(c, b.VersionID)
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) ListPayments(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperr.HTTPError(apperr.InvalidInput("invalid id"))
	}
	payments, err := h.svc.ListPayments(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	if payments == nil {
		payments = []*Payment{}
	}
	return c.JSON(http.StatusOK, payments)
}

func (h *Handler) Preview(c echo.Context) error {
	var req PreviewRequest
	if err := c.Bind(&req); err != nil {
		return apperr.HTTPError(apperr.InvalidInput("malformed request body"))
	}
	bd, err := h.svc.Preview(req)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, bd)
}
