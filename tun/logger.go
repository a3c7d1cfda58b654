package tun

import "github.com/sirupsen/logrus"

var log logrus.FieldLogger = logrus.StandardLogger()

// SetLogger updates the logger this package uses. If l is nil, the logrus
// standard logger is restored.
func SetLogger(l logrus.FieldLogger) {
	if l == nil {
		log = logrus.StandardLogger()
	} else {
		log = l
	}
}
