package logger

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/qt-creator/qt-creator-sub115/pkg/osutil"
	"github.com/qt-creator/qt-creator-sub115/pkg/resiliency"
)

const (
	DBG_DIAGNOSTICS_LOG_FOLDER = "DBG_DIAGNOSTICS_LOG_FOLDER" // Folder for diagnostics logs and telemetry (defaults to <tmp>/dbgrpc/logs)
	DBG_DIAGNOSTICS_LOG_LEVEL  = "DBG_DIAGNOSTICS_LOG_LEVEL"  // Enables the diagnostics log at the given level
	DBG_LOG_FILE_NAME_SUFFIX   = "DBG_LOG_FILE_NAME_SUFFIX"   // Log file name suffix (defaults to the process ID)
	DBG_LOG_SESSION_ID         = "DBG_LOG_SESSION_ID"         // Log file name prefix, inherited by launched backends

	logFolderPermissions fs.FileMode = 0700
)

var (
	errDiagnosticsLogNotEnabled = errors.New("diagnostics log not enabled")
	sessionId                   = initialSessionId()
)

func initialSessionId() string {
	if inherited := os.Getenv(DBG_LOG_SESSION_ID); inherited != "" {
		return inherited
	}
	return strconv.FormatInt(time.Now().Unix(), 10) + strconv.Itoa(os.Getpid())
}

// SessionId identifies the logs of a controller and every backend it launched.
func SessionId() string {
	return sessionId
}

// SessionIdEnv returns the environment entry that makes a launched backend log under the same session ID.
func SessionIdEnv() string {
	return DBG_LOG_SESSION_ID + "=" + sessionId
}

// GetDiagnosticsLogLevel returns the level set by DBG_DIAGNOSTICS_LOG_LEVEL,
// or errDiagnosticsLogNotEnabled if the variable is not set.
func GetDiagnosticsLogLevel() (zapcore.Level, error) {
	value, found := os.LookupEnv(DBG_DIAGNOSTICS_LOG_LEVEL)
	if !found {
		return zapcore.InvalidLevel, errDiagnosticsLogNotEnabled
	}

	level, parseErr := ParseLevel(value)
	if parseErr != nil {
		return zapcore.InvalidLevel, fmt.Errorf("%s: %w", DBG_DIAGNOSTICS_LOG_LEVEL, parseErr)
	}
	return level, nil
}

// EnsureDiagnosticsLogsFolder returns the folder to write diagnostics logs and telemetry to, creating it if necessary.
func EnsureDiagnosticsLogsFolder() (string, error) {
	folder := os.Getenv(DBG_DIAGNOSTICS_LOG_FOLDER)
	if folder == "" {
		folder = filepath.Join(os.TempDir(), "dbgrpc", "logs")
	}

	info, statErr := os.Stat(folder)
	switch {
	case errors.Is(statErr, fs.ErrNotExist):
		if mkdirErr := os.MkdirAll(folder, logFolderPermissions); mkdirErr != nil {
			return "", fmt.Errorf("could not create the diagnostics log folder '%s': %w", folder, mkdirErr)
		}
	case statErr != nil:
		return "", fmt.Errorf("could not access the diagnostics log folder '%s': %w", folder, statErr)
	case !info.IsDir():
		return "", fmt.Errorf("'%s' is not a directory and cannot hold diagnostics logs", folder)
	}

	return folder, nil
}

// newDiagnosticsCore returns a JSON core writing to <session>-<name>-<unix ms>-<suffix>.log in the diagnostics folder.
func newDiagnosticsCore(name string, encoderConfig zapcore.EncoderConfig) (zapcore.Core, error) {
	level, levelErr := GetDiagnosticsLogLevel()
	if levelErr != nil {
		return nil, levelErr
	}

	folder, folderErr := EnsureDiagnosticsLogsFolder()
	if folderErr != nil {
		return nil, folderErr
	}

	suffix := os.Getenv(DBG_LOG_FILE_NAME_SUFFIX)
	if suffix == "" {
		suffix = strconv.Itoa(os.Getpid())
	}

	// Two processes sharing a custom suffix may start within the same millisecond, so creation is retried.
	file, openErr := resiliency.RetryGet(context.Background(), resiliency.DialBackoff(2*time.Second), func() (*os.File, error) {
		fileName := fmt.Sprintf("%s-%s-%d-%s.log", sessionId, name, time.Now().UnixMilli(), suffix)
		return os.OpenFile(filepath.Join(folder, fileName), os.O_RDWR|os.O_CREATE|os.O_EXCL, osutil.PermissionOnlyOwnerReadWrite)
	})
	if openErr != nil {
		return nil, fmt.Errorf("could not create the diagnostics log file: %w", openErr)
	}

	return zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.AddSync(file), zap.NewAtomicLevelAt(level)), nil
}
