package stats

import (
	"net/http"

	"github.com/caseway/caseway/internal/cases"
	"github.com/caseway/caseway/internal/ledger"
	"github.com/caseway/caseway/internal/models"
	"github.com/labstack/echo/v4"
)

type Controller struct {
	store  *cases.Store
	ledger *ledger.Ledger
}

func New(store *cases.Store, ldg *ledger.Ledger) *Controller {
	return &Controller{store: store, ledger: ldg}
}

// Response aggregates case and resource counts for the dashboard.
type Response struct {
	Cases     map[models.CaseStatus]int64     `json:"cases"`
	Resources map[models.ResourceStatus]int64 `json:"resources"`
}

func (ctrl *Controller) Get(c echo.Context) error {
	ctx := c.Request().Context()

	caseCounts, err := ctrl.store.CountByStatus(ctx)
	if err != nil {
		return echo.ErrInternalServerError.SetInternal(err)
	}

	resourceCounts, err := ctrl.ledger.CountByStatus(ctx)
	if err != nil {
		return echo.ErrInternalServerError.SetInternal(err)
	}

	return c.JSON(http.StatusOK, Response{
		Cases:     caseCounts,
		Resources: resourceCounts,
	})
}
