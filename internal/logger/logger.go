package logger

import (
	"os"

	"github.com/sirupsen/logrus"
)

var log *logrus.Logger

// LogLevel represents the logging level
type LogLevel string

const (
	DebugLevel LogLevel = "debug"
	InfoLevel  LogLevel = "info"
	WarnLevel  LogLevel = "warn"
	ErrorLevel LogLevel = "error"
	FatalLevel LogLevel = "fatal"
)

var levels = map[LogLevel]logrus.Level{
	DebugLevel: logrus.DebugLevel,
	InfoLevel:  logrus.InfoLevel,
	WarnLevel:  logrus.WarnLevel,
	ErrorLevel: logrus.ErrorLevel,
	FatalLevel: logrus.FatalLevel,
}

// Init initializes the logger with the specified level
func Init(level LogLevel) {
	log = logrus.New()
	log.SetOutput(os.Stdout)
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})

	if lvl, ok := levels[level]; ok {
		log.SetLevel(lvl)
	} else {
		log.SetLevel(logrus.InfoLevel)
	}
}

// Get returns the logger instance
func Get() *logrus.Logger {
	if log == nil {
		Init(ErrorLevel)
	}
	return log
}

func Debug(args ...interface{})                 { Get().Debug(args...) }
func Debugf(format string, args ...interface{}) { Get().Debugf(format, args...) }
func Info(args ...interface{})                  { Get().Info(args...) }
func Infof(format string, args ...interface{})  { Get().Infof(format, args...) }
func Warn(args ...interface{})                  { Get().Warn(args...) }
func Warnf(format string, args ...interface{})  { Get().Warnf(format, args...) }
func Error(args ...interface{})                 { Get().Error(args...) }
func Errorf(format string, args ...interface{}) { Get().Errorf(format, args...) }
func Fatalf(format string, args ...interface{}) { Get().Fatalf(format, args...) }

// WithField returns a logger entry with a field attached
func WithField(key string, value interface{}) *logrus.Entry {
	return Get().WithField(key, value)
}
