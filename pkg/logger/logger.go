package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"newsletterapp/pkg/logger/interfaces"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/pkgerrors"
)

// Config конфигурация логгера
// Level - уровень (debug, info, warn, error)
// LogDir - директория для файла логов. Пустая строка - только stdout
// LogTimeFormat, LogFilePattern - имя файла: fmt.Sprintf(pattern, time.Now().Format(format))
// Console - человекочитаемый вывод в stdout
type Config struct {
	Level          string
	LogDir         string
	LogTimeFormat  string
	LogFilePattern string
	Console        bool
}

// ZerologLogger пишет JSON-строки через zerolog. Каждая запись получает поле service
type ZerologLogger struct {
	log zerolog.Logger
}

// serviceName значение поля service во всех записях
const serviceName = "newsletter"

func init() {
	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack
	zerolog.TimeFieldFormat = time.RFC3339Nano
}

// openLogFile открывает файл лога на дозапись
func openLogFile(cfg Config) (io.Writer, error) {
	if err := os.MkdirAll(cfg.LogDir, 0755); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию для логов: %w", err)
	}

	pattern, stamp := cfg.LogFilePattern, cfg.LogTimeFormat
	if pattern == "" {
		pattern = serviceName + "_%s.log"
	}
	if stamp == "" {
		stamp = time.DateOnly
	}
	name := fmt.Sprintf(pattern, time.Now().Format(stamp))

	file, err := os.OpenFile(filepath.Join(cfg.LogDir, name), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть файл логов: %w", err)
	}
	return file, nil
}

// New создает логгер на основе конфигурации
func New(cfg Config) (*ZerologLogger, error) {
	var stdout io.Writer = os.Stdout
	if cfg.Console {
		stdout = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.DateTime}
	}

	writer := stdout
	if cfg.LogDir != "" {
		file, err := openLogFile(cfg)
		if err != nil {
			return nil, err
		}
		writer = io.MultiWriter(file, stdout)
	}

	level := zerolog.InfoLevel
	if cfg.Level != "" {
		parsed, err := zerolog.ParseLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("неизвестный уровень логирования %q: %w", cfg.Level, err)
		}
		level = parsed
	}

	return NewWithWriter(writer, level), nil
}

// NewWithWriter создает логгер, пишущий в w. Удобно для тестов
func NewWithWriter(w io.Writer, level zerolog.Level) *ZerologLogger {
	return &ZerologLogger{
		log: zerolog.New(w).Level(level).With().Timestamp().Str("service", serviceName).Logger(),
	}
}

// print пишет сообщение на уровне lvl. Аргументы склеиваются как в fmt.Sprint
func (l *ZerologLogger) print(lvl zerolog.Level, args []interface{}) {
	if e := l.log.WithLevel(lvl); e != nil {
		e.Msg(fmt.Sprint(args...))
	}
}

func (l *ZerologLogger) printf(lvl zerolog.Level, format string, args []interface{}) {
	if e := l.log.WithLevel(lvl); e != nil {
		e.Msgf(format, args...)
	}
}

func (l *ZerologLogger) Debug(args ...interface{}) { l.print(zerolog.DebugLevel, args) }
func (l *ZerologLogger) Info(args ...interface{}) { l.print(zerolog.InfoLevel, args) }
func (l *ZerologLogger) Warn(args ...interface{}) { l.print(zerolog.WarnLevel, args) }
func (l *ZerologLogger) Error(args ...interface{}) { l.print(zerolog.ErrorLevel, args) }

func (l *ZerologLogger) Debugf(format string, args ...interface{}) {
	l.printf(zerolog.DebugLevel, format, args)
}

func (l *ZerologLogger) Infof(format string, args ...interface{}) {
	l.printf(zerolog.InfoLevel, format, args)
}

func (l *ZerologLogger) Warnf(format string, args ...interface{}) {
	l.printf(zerolog.WarnLevel, format, args)
}

func (l *ZerologLogger) Errorf(format string, args ...interface{}) {
	l.printf(zerolog.ErrorLevel, format, args)
}

// ErrorWithStack пишет ошибку со стеком, если он есть у err (pkg/errors)
func (l *ZerologLogger) ErrorWithStack(err error, msg string) {
	l.log.Error().Stack().Err(err).Msg(msg)
}

// WithFields дочерний логгер с постоянными полями, например newsletter_id
func (l *ZerologLogger) WithFields(fields interfaces.Fields) interfaces.Logger {
	return &ZerologLogger{log: l.log.With().Fields(fields).Logger()}
}
