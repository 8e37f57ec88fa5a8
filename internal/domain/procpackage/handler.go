package procpackage

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
	read := api.Group("", auth.RequireRole(auth.RoleReceptionist, auth.RoleDoctor, auth.RoleNurse, auth.RoleCashier))
	read.GET("/procedures", h.ListProcedures)
	read.GET("/packages", h.ListPackages)
	read.GET("/packages/:id", h.GetPackage)

	write := api.Group("", auth.RequireRole(auth.RoleCashier))
	write.POST("/procedures", h.CreateProcedure)
	write.POST("/packages", h.CreatePackage)
	write.PATCH("/packages/:id", h.UpdatePackage)
}

func (h *Handler) CreateProcedure(c echo.Context) error {
	var req CreateProcedureRequest
	if err := c.Bind(&req); err != nil {
		return apperr.HTTPError(apperr.InvalidInput("malformed request body"))
	}
	p, err := h.svc.CreateProcedure(c.Request().Context(), req)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) ListProcedures(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListProcedures(c.Request().Context(), listFilter(c), pg.Limit, pg.Offset)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) CreatePackage(c echo.Context) error {
	var req CreatePackageRequest
	if err := c.Bind(&req); err != nil {
		return apperr.HTTPError(apperr.InvalidInput("malformed request body"))
	}
	p, err := h.svc.CreatePackage(c.Request().Context(), req)
	if err != nil {
		return apperr.HTTPError(err)
	}
	etag.Set(c, p.VersionID)
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) GetPackage(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperr.HTTPError(apperr.InvalidInput("invalid id"))
	}
	p, err := h.svc.GetPackage(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	etag.Set(c, p.VersionID)
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ListPackages(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListPackages(c.Request().Context(), listFilter(c), pg.Limit, pg.Offset)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) UpdatePackage(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperr.HTTPError(apperr.InvalidInput("invalid id"))
	}
	var req UpdatePackageRequest
	if err := c.Bind(&req); err != nil {
		return apperr.HTTPError(apperr.InvalidInput("malformed request body"))
	}
	if req.Version, err = etag.Expected(c, req.Version); err != nil {
		return apperr.HTTPError(err)
	}
	p, err := h.svc.UpdatePackage(c.Request().Context(), id, req)
	if err != nil {
		return apperr.HTTPError(err)
	}
	etag.Set(c, p.VersionID)
	return c.JSON(http.StatusOK, p)
}

func listFilter(c echo.Context) ListFilter {
	return ListFilter{ActiveOnly: c.QueryParam("active") == "true"}
}
