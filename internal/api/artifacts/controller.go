// Package artifacts exposes the pass-through administrative surface over
// the object store: listing and deleting stored artefacts. No orchestration
// logic lives here.
package artifacts

import (
	"context"
	"net/http"

	"github.com/hbomb79/Iris/internal/storage"
	"github.com/labstack/echo/v4"
)

type (
	Store interface {
		List(ctx context.Context) ([]storage.ObjectInfo, error)
		Remove(ctx context.Context, key string) error
	}

	Controller struct {
		store Store
	}
)

// New constructs the artifacts controller. The store may be nil when no
// object store is configured; all routes then report 503.
func New(store Store) *Controller {
	return &Controller{store: store}
}

func (controller *Controller) SetRoutes(eg *echo.Group) {
	eg.GET("/", controller.list)
	eg.DELETE("/:key/", controller.remove)
}

func (controller *Controller) list(ec echo.Context) error {
	if controller.store == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "object store is not configured")
	}

	objects, err := controller.store.List(ec.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}

	return ec.JSON(http.StatusOK, objects)
}

func (controller *Controller) remove(ec echo.Context) error {
	if controller.store == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "object store is not configured")
	}

	key := ec.Param("key")
	if key == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "object key is required")
	}

	if err := controller.store.Remove(ec.Request().Context(), key); err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}

	return ec.NoContent(http.StatusOK)
}
