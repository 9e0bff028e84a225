package testutil

import (
	"flag"
	"os"
	"testing"

	"github.com/go-logr/logr"
	"go.uber.org/zap/zapcore"

	"github.com/qt-creator/qt-creator-sub115/pkg/logger"
)

// DBG_TEST_LOG_LEVEL sets the console log level of tests, e.g. "frames" to see every frame exchanged.
const DBG_TEST_LOG_LEVEL = "DBG_TEST_LOG_LEVEL"

// NewLogForTesting returns a logger named after the test. It only shows errors unless tests run with -v
// (debug level) or DBG_TEST_LOG_LEVEL is set.
func NewLogForTesting(name string) logr.Logger {
	if !flag.Parsed() {
		flag.Parse() // testing.Verbose() panics before flags are parsed.
	}

	level := zapcore.ErrorLevel
	if testing.Verbose() {
		level = zapcore.DebugLevel
	}
	if value, found := os.LookupEnv(DBG_TEST_LOG_LEVEL); found {
		if parsed, err := logger.ParseLevel(value); err == nil {
			level = parsed
		}
	}

	log := logger.New("test").WithName(name)
	log.SetLevel(level)
	return log.Logger
}
