package cases

import (
	"net/http"
	"strconv"

	casesvc "github.com/caseway/caseway/internal/cases"
	"github.com/labstack/echo/v4"
)

type Controller struct {
	store *casesvc.Store
}

func New(store *casesvc.Store) *Controller {
	return &Controller{store: store}
}

func (ctrl *Controller) List(c echo.Context) error {
	req, err := parseListRequest(c)
	if err != nil {
		return echo.ErrBadRequest.SetInternal(err)
	}

	out, err := ctrl.store.List(c.Request().Context(), req)
	if err != nil {
		return echo.ErrInternalServerError.SetInternal(err)
	}

	return c.JSON(http.StatusOK, out)
}

func parseListRequest(c echo.Context) (req casesvc.ListRequest, err error) {
	req = casesvc.ListRequest{
		Status: c.QueryParam("status"),
	}

	if limit := c.QueryParam("limit"); limit != "" {
		if req.Limit, err = strconv.Atoi(limit); err != nil {
			return req, err
		}
	}

	if offset := c.QueryParam("offset"); offset != "" {
		if req.Offset, err = strconv.Atoi(offset); err != nil {
			return req, err
		}
	}

	return req, nil
}
