package commands

import (
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	cmds "github.com/qt-creator/qt-creator-sub115/internal/commands"
	"github.com/qt-creator/qt-creator-sub115/internal/config"
	"github.com/qt-creator/qt-creator-sub115/internal/enginerpc"
	"github.com/qt-creator/qt-creator-sub115/internal/telemetry"
	"github.com/qt-creator/qt-creator-sub115/pkg/logger"
)

type runFlags struct {
	profilePath     string
	breakpoints     []string
	stopCommands    []string
	breakOnMain     bool
	keepStopped     bool
	teardownTimeout time.Duration
}

func NewRunCommand(log logr.Logger) *cobra.Command {
	runConfig := &runFlags{}
	runCmd := &cobra.Command{
		Use:   "run [--profile file] [--break location]... [--on-stop command]... [executable [arguments...]]",
		Short: "Runs a program under a debugger backend",
		Long: `Runs a program under a debugger backend.

	The connection profile selects how the backend host is reached. Without a profile the simulated engine runs in process.
	The executable and its arguments, if given, replace the inferior from the profile.
	Whenever the program stops, the --on-stop debugger commands are executed and the program is continued,
	unless --keep-stopped is set.`,
		RunE: runSession(log, runConfig),
	}

	runCmd.Flags().StringVarP(&runConfig.profilePath, "profile", "p", "", "Path to the connection profile (YAML). If not set, the simulated engine runs in process.")
	runCmd.Flags().StringArrayVarP(&runConfig.breakpoints, "break", "b", nil, "Breakpoint location, either file:line or a function name. May be repeated.")
	runCmd.Flags().StringArrayVar(&runConfig.stopCommands, "on-stop", nil, "Debugger command to execute whenever the program stops. May be repeated.")
	runCmd.Flags().BoolVar(&runConfig.breakOnMain, "break-on-main", false, "Stop when the program enters its main function.")
	runCmd.Flags().BoolVar(&runConfig.keepStopped, "keep-stopped", false, "Do not continue the program after it stops; the session then ends on interrupt.")
	runCmd.Flags().DurationVar(&runConfig.teardownTimeout, "teardown-timeout", 0, "How long to wait for the engine to shut down. Overrides the profile.")
	cmds.AddMonitorFlags(runCmd)

	return runCmd
}

func runSession(log logr.Logger, runConfig *runFlags) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		log = log.WithName("run")

		profile, profileErr := loadProfile(cmd, runConfig, args)
		if profileErr != nil {
			log.Error(profileErr, "Connection profile is invalid", "profile", runConfig.profilePath)
			return profileErr
		}

		breakpoints := make([]enginerpc.BreakpointParams, 0, len(runConfig.breakpoints))
		for _, spec := range runConfig.breakpoints {
			params, parseErr := parseBreakpoint(spec)
			if parseErr != nil {
				return parseErr
			}
			breakpoints = append(breakpoints, params)
		}

		ctx := cmds.Monitor(cmd.Context(), log)
		metrics := telemetry.NewProtocolMetrics(otel.GetMeterProvider(), otel.GetTracerProvider())

		conn, connectErr := connect(ctx, profile, logger.GetVerbosityArgs(cmd.Flags()), metrics, log)
		if connectErr != nil {
			log.Error(connectErr, "Could not connect to the debugger backend", "transport", profile.Transport)
			return connectErr
		}
		defer func() {
			if releaseErr := conn.release(); releaseErr != nil {
				log.V(1).Info("Connection to the debugger backend was not released cleanly", "error", releaseErr.Error())
			}
		}()

		out := &console{
			out:          cmd.OutOrStdout(),
			log:          log.WithName("console"),
			breakpoints:  breakpoints,
			stopCommands: runConfig.stopCommands,
			keepStopped:  runConfig.keepStopped,
		}
		session := enginerpc.NewSession(conn.transport, enginerpc.SessionConfig{
			Controller: enginerpc.ControllerConfig{
				ByteOrder:       profile.HeaderByteOrder(),
				Log:             log,
				Listener:        out,
				Messages:        out,
				Metrics:         metrics,
				TeardownTimeout: profile.TeardownTimeout,
			},
			Inferior: profile.InferiorParams(),
		})
		out.controller = session.Controller()

		log.V(1).Info("Running debugger session", "session", session.ID(), "carrier", conn.transport.Carrier())
		if runErr := session.Run(ctx); runErr != nil {
			return fmt.Errorf("debugger session failed: %w", runErr)
		}
		return nil
	}
}

func loadProfile(cmd *cobra.Command, runConfig *runFlags, args []string) (*config.Profile, error) {
	var profile *config.Profile
	if runConfig.profilePath != "" {
		loaded, loadErr := config.Load(runConfig.profilePath)
		if loadErr != nil {
			return nil, loadErr
		}
		profile = loaded
	} else {
		profile = config.Default()
	}

	if len(args) > 0 {
		profile.Inferior.Executable = args[0]
		profile.Inferior.Arguments = args[1:]
	}
	if cmd.Flags().Changed("break-on-main") {
		profile.Inferior.BreakOnMain = runConfig.breakOnMain
	}
	if cmd.Flags().Changed("teardown-timeout") {
		profile.TeardownTimeout = runConfig.teardownTimeout
	}

	if validationErr := profile.Validate(); validationErr != nil {
		return nil, validationErr
	}
	return profile, nil
}
