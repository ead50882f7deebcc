package interfaces

// Fields постоянные поля дочернего логгера
type Fields = map[string]interface{}

// SimpleLogger уровни debug, info, warn, error в двух формах: как fmt.Sprint и как fmt.Sprintf.
// Этого достаточно воркерам и фоновым задачам
type SimpleLogger interface {
	Debug(args ...interface{})
	Info(args ...interface{})
	Warn(args ...interface{})
	Error(args ...interface{})

	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// Logger SimpleLogger со стектрейсами и полями
type Logger interface {
	SimpleLogger
	ErrorWithStack(err error, msg string)
	WithFields(fields Fields) Logger
}
