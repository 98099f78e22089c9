// Package besteffort runs side effects whose failure must not change the
// outcome of the surrounding operation.
package besteffort

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// Run calls fn and logs, rather than returns, any error or panic. It reports
// whether fn succeeded.
func Run(logger logrus.FieldLogger, action string, fn func() error) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			logger.WithField("action", action).Errorf("side effect panicked: %v", r)
			ok = false
		}
	}()
	if err := fn(); err != nil {
		logger.WithError(err).WithField("action", action).Warn("side effect failed")
		return false
	}
	return true
}

// Runf is Run with a formatted action name.
func Runf(logger logrus.FieldLogger, fn func() error, format string, args ...any) bool {
	return Run(logger, fmt.Sprintf(format, args...), fn)
}
