package resources

import (
	"net/http"

	"github.com/caseway/caseway/internal/ledger"
	"github.com/labstack/echo/v4"
)

type Controller struct {
	ledger *ledger.Ledger
}

func New(ldg *ledger.Ledger) *Controller {
	return &Controller{ledger: ldg}
}

func (ctrl *Controller) List(c echo.Context) error {
	out, err := ctrl.ledger.List(c.Request().Context())
	if err != nil {
		return echo.ErrInternalServerError.SetInternal(err)
	}

	return c.JSON(http.StatusOK, out)
}
