// Package logging defines the minimal structured-logging seam used by
// the core hudlink packages. Core packages depend only on this
// interface; the cmd/ binaries supply a logrus-backed implementation.
package logging

// Logger is satisfied by *logrus.Entry / *logrus.Logger, among others.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// Nop is a Logger that discards everything. It is the default used by
// constructors that don't receive one explicitly.
type Nop struct{}

func (Nop) Debugf(string, ...interface{}) {}
func (Nop) Infof(string, ...interface{})  {}
func (Nop) Warnf(string, ...interface{})  {}
func (Nop) Errorf(string, ...interface{}) {}
