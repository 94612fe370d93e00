package start

import (
	"context"
	"os"
	"os/signal"
	"runtime/pprof"
	"syscall"
	"time"

	"github.com/caseway/caseway/api"
	"github.com/caseway/caseway/internal/cases"
	"github.com/caseway/caseway/internal/event"
	"github.com/caseway/caseway/internal/hpc/pueue"
	"github.com/caseway/caseway/internal/ledger"
	"github.com/caseway/caseway/internal/metrics"
	"github.com/caseway/caseway/internal/monitor"
	"github.com/caseway/caseway/internal/orchestrator"
	"github.com/caseway/caseway/internal/scanner"
	"github.com/caseway/caseway/internal/submit"
	"github.com/caseway/caseway/pkg/db"
	"github.com/caseway/caseway/pkg/env"
	"github.com/caseway/caseway/pkg/log"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

const (
	usage   = "start"
	short   = "Start a caseway orchestration instance"
	long    = "This command starts a caseway case orchestration instance"
	example = "caseway start"
)

var (
	// Cmd is the start command.
	Cmd = &cobra.Command{
		Use:        usage,
		Short:      short,
		Long:       long,
		Aliases:    []string{"s"},
		SuggestFor: []string{"launch", "boot", "up", "run", "begin"},
		Example:    example,
		RunE:       start,
	}
)

var (
	cancel      context.CancelFunc
	shutdownAPI func()
)

func start(cmd *cobra.Command, args []string) error {
	signalChan := make(chan os.Signal, 1)

	go func() {
		for s := range signalChan {
			switch s {
			case syscall.SIGUSR1:
				log.Info("dumping stack traces due to SIGUSR1 signal")
				if profile := pprof.Lookup("goroutine"); profile != nil {
					if err := profile.WriteTo(os.Stdout, 1); err != nil {
						log.Error("write goroutine profile", "error", err)
					}
				}
			case syscall.SIGINT, syscall.SIGTERM:
				log.Info("gracefully shutting down", "signal", s.String())
				shutdown()
				os.Exit(0)
			}
		}
	}()

	signal.Notify(signalChan, syscall.SIGUSR1, syscall.SIGINT, syscall.SIGTERM)

	var errs = make(chan error)
	ctx, cancelFunc := context.WithCancel(context.Background())
	cancel = cancelFunc

	vars, err := env.Process()
	if err != nil {
		return err
	}

	gdb, err := db.Connection(vars)
	if err != nil {
		return errors.Wrap(err, "failed to connect to database")
	}

	log.Info("migrating database")
	if err := db.Migrate(gdb); err != nil {
		return errors.Wrap(err, "database migration failure")
	}

	metrics.Register()

	var (
		store = cases.New(gdb)
		ldg   = ledger.New(gdb)
		bus   = event.NewBus()
	)

	groups := vars.Groups()
	if len(groups) == 0 {
		return errors.New("config error: resource groups must be a non-empty list")
	}
	for _, group := range groups {
		if err := ldg.Ensure(ctx, group); err != nil {
			return errors.Wrapf(err, "failed to ensure resource %q", group)
		}
		log.Info("ensured execution resource", "resource", group)
	}

	var (
		client    = pueue.New(vars)
		submitter = submit.New(store, ldg, client, bus)
		monitorer = monitor.New(store, ldg, client, bus, vars.RunningTimeout)
		loop      = orchestrator.New(submitter, monitorer, store, ldg, vars.PollInterval)
		watcher   = scanner.New(vars.WatchPath, vars.IgnorePatterns(), vars.ScanInterval, store, bus)
		server    = api.New(vars, store, ldg, bus)
	)

	shutdownAPI = func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("api shutdown failure", "error", err)
		}
	}

	go func() {
		log.Info("starting case scanner", "watch_path", vars.WatchPath)
		errs <- watcher.Run(ctx)
	}()

	go func() {
		log.Info("spinning up api", "port", vars.Port)
		errs <- server.Start()
	}()

	go func() {
		log.Info("launching orchestration loop")
		errs <- loop.Run(ctx)
	}()

	defer shutdown()

	return <-errs
}

func shutdown() {
	if cancel != nil {
		cancel()
	}
	if shutdownAPI != nil {
		shutdownAPI()
	}
}
