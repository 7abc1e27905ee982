package protocol

import (
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// LogProvider RFC5424 log message levels only Debug and Error.
// *logrus.Logger and *logrus.Entry satisfy it.
type LogProvider interface {
	Errorf(format string, v ...interface{})
	Debugf(format string, v ...interface{})
}

var _ LogProvider = (*logrus.Logger)(nil)
var _ LogProvider = (*logrus.Entry)(nil)

// Clogs gates a LogProvider behind LogMode.
type Clogs struct {
	provider LogProvider
	// is log output enabled,1: enable, 0: disable
	has uint32
}

// NewClogs new clogs, output defaults to the logrus standard logger with the given component field.
func NewClogs(component string) Clogs {
	return Clogs{provider: logrus.WithField("component", component)}
}

// LogMode set enable or disable log output when you has set logger
func (sf *Clogs) LogMode(enable bool) {
	if enable {
		atomic.StoreUint32(&sf.has, 1)
	} else {
		atomic.StoreUint32(&sf.has, 0)
	}
}

// SetLogProvider set logger provider
func (sf *Clogs) SetLogProvider(p LogProvider) {
	if p != nil {
		sf.provider = p
	}
}

// Errorf Log ERROR level message.
func (sf *Clogs) Errorf(format string, v ...interface{}) {
	if atomic.LoadUint32(&sf.has) == 1 {
		sf.provider.Errorf(format, v...)
	}
}

// Debugf Log DEBUG level message.
func (sf *Clogs) Debugf(format string, v ...interface{}) {
	if atomic.LoadUint32(&sf.has) == 1 {
		sf.provider.Debugf(format, v...)
	}
}
