package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/qt-creator/qt-creator-sub115/pkg/osutil"
)

// DBG_TEST_CONTEXT_TIMEOUT replaces the timeout of every test context, e.g. "30m" while stepping through a test in a debugger.
const DBG_TEST_CONTEXT_TIMEOUT = "DBG_TEST_CONTEXT_TIMEOUT"

// GetTestContext returns a context that ends after testTimeout, or earlier if the test binary deadline comes first.
// A zero testTimeout only applies the test binary deadline, if any.
func GetTestContext(t *testing.T, testTimeout time.Duration) (context.Context, context.CancelFunc) {
	if override := osutil.EnvVarDurationValWithDefault(DBG_TEST_CONTEXT_TIMEOUT, 0); override > 0 {
		return context.WithTimeout(context.Background(), override)
	}

	var deadline time.Time
	if testTimeout > 0 {
		deadline = time.Now().Add(testTimeout)
	}
	if binaryDeadline, hasDeadline := t.Deadline(); hasDeadline && (deadline.IsZero() || binaryDeadline.Before(deadline)) {
		deadline = binaryDeadline
	}

	if deadline.IsZero() {
		return context.WithCancel(context.Background())
	}
	return context.WithDeadline(context.Background(), deadline)
}
