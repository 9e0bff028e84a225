package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"

	"github.com/qt-creator/qt-creator-sub115/internal/version"
)

// DBG_LOGGING_CONTEXT is logged verbatim at startup when set, e.g. by an IDE to tie the logs to its own session.
const DBG_LOGGING_CONTEXT = "DBG_LOGGING_CONTEXT"

func NewVersionCommand(log logr.Logger) (*cobra.Command, error) {
	return &cobra.Command{
		Use:   "version",
		Short: "Prints version information",
		Long:  `Prints version information as JSON.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			versionJson, err := json.Marshal(version.Version())
			if err != nil {
				log.WithName("version").Error(err, "Could not serialize version information")
				return err
			}

			// A backend host keeps stdout for the protocol, but "version" runs instead of serving.
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(versionJson))
			return err
		},
	}, nil
}

// LogVersion returns a PersistentPreRun hook that logs the program version, its arguments
// and, if set, the DBG_LOGGING_CONTEXT value.
func LogVersion(log logr.Logger, programStartMsg string) func(_ *cobra.Command, _ []string) {
	return func(_ *cobra.Command, _ []string) {
		v := version.Version()

		exe, exeErr := os.Executable()
		if exeErr != nil {
			exe = os.Args[0]
		}

		log.V(1).Info(programStartMsg,
			"PID", os.Getpid(),
			"Exe", exe,
			"Args", os.Args[1:],
			"Version", v.Version,
			"Commit", v.CommitHash,
			"Platform", v.Platform,
		)

		if logContext := os.Getenv(DBG_LOGGING_CONTEXT); logContext != "" {
			log.V(1).Info(logContext)
		}
	}
}
