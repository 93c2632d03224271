package ros

import (
	"io"

	modular "github.com/edwinhayes/logrus-modular"
	"github.com/sirupsen/logrus"
)

// Logger is the logging surface every long-lived entity in this package
// holds. It is satisfied directly by *modular.ModuleLogger, matching the
// teacher's own usage in ros/subscription.go and ros/service_client.go.
type Logger interface {
	Debug(args ...interface{})
	Debugf(format string, args ...interface{})
	Info(args ...interface{})
	Infof(format string, args ...interface{})
	Warn(args ...interface{})
	Warnf(format string, args ...interface{})
	Error(args ...interface{})
	Errorf(format string, args ...interface{})
	WithFields(fields logrus.Fields) *logrus.Entry
}

// loggerRoot backs every module-scoped Logger handed out by a Node. It wraps
// a single shared *logrus.Logger with logrus-modular the same way
// ros/subscription.go and ros/service_client.go consume a *modular.ModuleLogger.
type loggerRoot struct {
	base *logrus.Logger
}

// NewDefaultLogger constructs the root logger used by a Node when the caller
// does not supply one via WithLogger. It writes structured text to stderr at
// Info level.
func NewDefaultLogger() *loggerRoot {
	base := logrus.New()
	base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	base.SetLevel(logrus.InfoLevel)
	return &loggerRoot{base: base}
}

// NewDiscardLogger constructs a root logger that writes nowhere; used by
// tests that want the production logging call paths exercised without
// polluting test output.
func NewDiscardLogger() *loggerRoot {
	base := logrus.New()
	base.SetOutput(io.Discard)
	return &loggerRoot{base: base}
}

// Module returns a named sub-logger, e.g. "node", "pub:/scan", "sub:/scan".
// Every component in this package requests its own module so log lines are
// attributable, the same convention the teacher follows.
func (r *loggerRoot) Module(name string) *modular.ModuleLogger {
	return modular.NewModuleLogger(name, r.base)
}
