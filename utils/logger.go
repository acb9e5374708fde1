package utils

import "github.com/sirupsen/logrus"

// GetModuleLogger 返回带有 module 字段的logger
func GetModuleLogger(name string) logrus.FieldLogger {
	return logrus.WithField("module", name)
}
