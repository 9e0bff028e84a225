package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	ps "github.com/shirou/gopsutil/v4/process"
	"github.com/spf13/cobra"
	"k8s.io/apimachinery/pkg/util/wait"
)

const (
	unknownPID             = int64(-1)
	defaultMonitorInterval = time.Second
)

var (
	monitorPidInt64 int64 = unknownPID
	monitorInterval uint8
)

func AddMonitorFlags(cmd *cobra.Command) {
	cmd.Flags().Int64VarP(&monitorPidInt64, "monitor", "m", unknownPID, "If present, monitor the given process ID (PID), typically the IDE, and shut down gracefully when it exits for any reason.")
	cmd.Flags().Uint8VarP(&monitorInterval, "monitor-interval", "i", 0, "If present, specifies the time in seconds between checks for the monitored PID.")
}

// MonitorPid returns a context that is cancelled when the process with the given PID exits.
func MonitorPid(ctx context.Context, pid int64, pollInterval time.Duration, log logr.Logger) (context.Context, error) {
	if pid == unknownPID {
		return ctx, fmt.Errorf("no PID to monitor")
	}
	if pid <= 0 || pid > int64(^uint32(0)>>1) {
		return ctx, fmt.Errorf("invalid PID to monitor: %d", pid)
	}
	if pollInterval <= 0 {
		pollInterval = defaultMonitorInterval
	}

	monitorCtx, monitorCtxCancel := context.WithCancel(ctx)

	go func() {
		defer monitorCtxCancel()

		waitErr := wait.PollUntilContextCancel(monitorCtx, pollInterval, true, func(pollCtx context.Context) (bool, error) {
			return !processRunning(pollCtx, int32(pid), log), nil
		})
		if waitErr != nil {
			if errors.Is(waitErr, context.Canceled) || errors.Is(waitErr, context.DeadlineExceeded) {
				log.V(1).Info("Monitoring cancelled by context", "pid", pid)
			} else {
				log.Error(waitErr, "Error waiting for process", "pid", pid)
			}
			return
		}
		log.Info("Monitored process exited, shutting down", "pid", pid)
	}()

	return monitorCtx, nil
}

// Monitor applies the --monitor flag: the returned context ends when the monitored process exits.
// Without the flag, ctx is returned unchanged.
func Monitor(ctx context.Context, log logr.Logger) context.Context {
	if monitorPidInt64 == unknownPID {
		return ctx
	}

	monitorCtx, err := MonitorPid(ctx, monitorPidInt64, time.Duration(monitorInterval)*time.Second, log)
	if err != nil {
		log.Error(err, "Cannot monitor process", "pid", monitorPidInt64)
	}
	return monitorCtx
}

// processRunning reports whether pid still exists. Errors are logged and the process is assumed alive.
func processRunning(ctx context.Context, pid int32, log logr.Logger) bool {
	exists, err := ps.PidExistsWithContext(ctx, pid)
	if err != nil {
		log.V(1).Info("Could not check whether the monitored process is running", "pid", pid, "error", err.Error())
		return true
	}
	return exists
}
