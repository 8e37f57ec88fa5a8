// Package etag carries row versions in weak ETags and If-Match headers.
package etag

import (
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/ehr/opd/internal/platform/apperr"
)

// Format renders version as a weak ETag, W/"3".
func Format(version int) string {
	return `W/"` + strconv.Itoa(version) + `"`
}

// Set writes the ETag response header.
func Set(c echo.Context, version int) {
	c.Response().Header().Set("ETag", Format(version))
}

// Parse accepts 3, "3" and W/"3". An empty header or * means no check.
func Parse(h string) (*int, error) {
	h = strings.TrimSpace(h)
	if h == "" || h == "*" {
		return nil, nil
	}
	h = strings.TrimPrefix(h, "W/")
	h = strings.Trim(h, `"`)
	n, err := strconv.Atoi(h)
	if err != nil {
		return nil, apperr.InvalidInput("If-Match must carry a version number")
	}
	return &n, nil
}

// Expected returns the version a write is conditioned on. A version in the
// body wins over the If-Match header.
func Expected(c echo.Context, body *int) (*int, error) {
	if body != nil {
		return body, nil
	}
	return Parse(c.Request().Header.Get("If-Match"))
}
