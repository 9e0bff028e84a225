package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	cmdutil "github.com/qt-creator/qt-creator-sub115/internal/commands"
	"github.com/qt-creator/qt-creator-sub115/internal/dbgctl/commands"
	"github.com/qt-creator/qt-creator-sub115/internal/telemetry"
	"github.com/qt-creator/qt-creator-sub115/pkg/logger"
	"github.com/qt-creator/qt-creator-sub115/pkg/osutil"
	"github.com/qt-creator/qt-creator-sub115/pkg/resiliency"
)

const (
	errCommandError = 1
	errSetup        = 2
	errPanic        = 3
)

func main() {
	log := logger.New("dbgctl").WithName("dbgctl")
	defer func() {
		panicErr := resiliency.MakePanicError(recover(), log.Logger)
		if panicErr != nil {
			os.Stderr.WriteString(panicErr.Error() + string(osutil.LineSep()))
			log.Flush()
			os.Exit(errPanic)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	telemetrySystem := telemetry.GetTelemetrySystem("dbgctl")

	root, err := commands.NewRootCommand(log)
	if err != nil {
		cmdutil.ErrorExit(log, err, errSetup)
	}

	err = root.ExecuteContext(ctx)
	_ = telemetrySystem.Shutdown(context.WithoutCancel(ctx))
	if err != nil {
		cmdutil.ErrorExit(log, err, errCommandError)
	} else {
		log.Flush()
	}
}
