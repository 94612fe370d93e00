package api

import (
	"context"
	"fmt"

	"github.com/caseway/caseway/api/rest"
	"github.com/caseway/caseway/internal/cases"
	"github.com/caseway/caseway/internal/event"
	"github.com/caseway/caseway/internal/ledger"
	"github.com/caseway/caseway/pkg/env"
	"github.com/labstack/echo-contrib/prometheus"
	"github.com/labstack/echo/v4"
)

// API is the read-only reporting surface: case and resource listings,
// lifecycle event stream, health, and metrics. It never writes state.
type API struct {
	echo *echo.Echo
	port int
}

func New(vars env.Environment, store *cases.Store, ldg *ledger.Ledger, bus event.Bus) *API {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// health
	e.GET("/health", Health)

	// metrics
	prometheus.NewPrometheus("caseway", nil).Use(e)

	// REST
	rest.Bind(e.Group("/v1"), store, ldg, bus)

	return &API{echo: e, port: vars.Port}
}

// Start serves the API until Shutdown is called.
func (a *API) Start() error {
	return a.echo.Start(fmt.Sprintf(":%v", a.port))
}

// Shutdown stops the API gracefully.
func (a *API) Shutdown(ctx context.Context) error {
	return a.echo.Shutdown(ctx)
}
