package rest

import (
	casectl "github.com/caseway/caseway/api/rest/controller/cases"
	eventctl "github.com/caseway/caseway/api/rest/controller/events"
	resourcectl "github.com/caseway/caseway/api/rest/controller/resources"
	statsctl "github.com/caseway/caseway/api/rest/controller/stats"
	"github.com/caseway/caseway/internal/cases"
	"github.com/caseway/caseway/internal/event"
	"github.com/caseway/caseway/internal/ledger"
	"github.com/labstack/echo/v4"
)

// Bind the REST endpoints to the versioned endpoint group.
func Bind(group *echo.Group, store *cases.Store, ldg *ledger.Ledger, bus event.Bus) {
	caseCtrl := casectl.New(store)
	group.GET("/cases", caseCtrl.List)
	group.GET("/cases/:id", caseCtrl.Get)

	resourceCtrl := resourcectl.New(ldg)
	group.GET("/resources", resourceCtrl.List)

	statsCtrl := statsctl.New(store, ldg)
	group.GET("/stats", statsCtrl.Get)

	eventCtrl := eventctl.New(bus)
	group.GET("/events", eventCtrl.Stream)
}
