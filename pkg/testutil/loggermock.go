package testutil

import (
	"sync"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/mock"
)

type MockLoggerSink struct {
	mock.Mock

	lock   sync.Mutex
	logged []loggedMessage
}

type loggedMessage struct {
	level int // -1 for errors
	msg   string
}

// NewMockLogger returns a logger backed by a MockLoggerSink that accepts every call at every verbosity.
// Loggers derived with WithName/WithValues share the sink, so tests can assert on any message
// logged through them, e.g. sink.AssertCalled(t, "Info", 1, "Dropping stale notification", mock.Anything).
func NewMockLogger() (logr.Logger, *MockLoggerSink) {
	sink := &MockLoggerSink{}
	sink.On("Init", mock.Anything).Maybe()
	sink.On("Enabled", mock.Anything).Return(true).Maybe()
	sink.On("Info", mock.Anything, mock.Anything, mock.Anything).Maybe()
	sink.On("Error", mock.Anything, mock.Anything, mock.Anything).Maybe()
	sink.On("WithName", mock.Anything).Return(sink).Maybe()
	sink.On("WithValues", mock.Anything).Return(sink).Maybe()
	return logr.New(sink), sink
}

func (m *MockLoggerSink) Enabled(level int) bool {
	args := m.Called(level)
	return args.Bool(0)
}

func (m *MockLoggerSink) Error(err error, msg string, keysAndValues ...interface{}) {
	m.record(-1, msg)
	m.Called(err, msg, keysAndValues)
}

func (m *MockLoggerSink) Info(level int, msg string, keysAndValues ...interface{}) {
	m.record(level, msg)
	m.Called(level, msg, keysAndValues)
}

func (m *MockLoggerSink) Init(info logr.RuntimeInfo) {
	m.Called(info)
}

func (m *MockLoggerSink) WithName(name string) logr.LogSink {
	args := m.Called(name)
	return args.Get(0).(logr.LogSink)
}

func (m *MockLoggerSink) WithValues(keysAndValues ...interface{}) logr.LogSink {
	args := m.Called(keysAndValues)
	return args.Get(0).(logr.LogSink)
}

func (m *MockLoggerSink) record(level int, msg string) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.logged = append(m.logged, loggedMessage{level: level, msg: msg})
}

// Logged returns true if msg was logged at the given verbosity, or as an error if level is negative.
// It is safe to call while other goroutines are logging.
func (m *MockLoggerSink) Logged(level int, msg string) bool {
	m.lock.Lock()
	defer m.lock.Unlock()

	for _, lm := range m.logged {
		if lm.msg != msg {
			continue
		}
		if (level < 0 && lm.level < 0) || (level >= 0 && lm.level == level) {
			return true
		}
	}
	return false
}

var _ logr.LogSink = (*MockLoggerSink)(nil)
