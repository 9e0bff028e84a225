package osutil

import "os"

const (
	// For diagnostics files (logs, telemetry) that may contain program arguments and paths.
	PermissionOnlyOwnerReadWrite os.FileMode = 0600
)
