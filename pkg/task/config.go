package task

import (
	"time"

	"newsletterapp/pkg/logger/interfaces"
)

// Config определяет параметры конфигурации Runner.
type Config struct {
	// Workers количество одновременно выполняемых задач.
	Workers int

	// BufferSize размер очереди задач. Задача, не поместившаяся в очередь, сразу завершается с ErrQueueFull.
	BufferSize int

	// StatusTTL сколько хранится статус завершенной задачи.
	StatusTTL time.Duration

	// Logger логгер задач. nil отключает логирование.
	Logger interfaces.SimpleLogger
}

// DefaultConfig возвращает конфигурацию со стандартными настройками.
func DefaultConfig() Config {
	return Config{
		Workers:    2,
		BufferSize: 100,
		StatusTTL:  24 * time.Hour,
	}
}
