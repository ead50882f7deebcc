package newsletter

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound возвращается хранилищем, если запись не найдена
var ErrNotFound = errors.New("запись не найдена")

// ErrorType тип ошибки операции
type ErrorType int

const (
	ErrorValidation ErrorType = iota
	ErrorNotFound
	ErrorInvalidTransition
	ErrorForbidden
)

// Error ошибка операции над рассылкой, подписчиком или отправкой.
// Field - поле или сущность, к которой относится ошибка. Value - значение, вызвавшее ошибку
type Error struct {
	Type  ErrorType
	Field string
	Value interface{}
	Err   error
}

func (e *Error) Error() string {
	switch e.Type {
	case ErrorValidation:
		if list, ok := e.Value.([]string); ok && len(list) > 0 {
			return fmt.Sprintf("ошибка валидации поля %s: %v: %s", e.Field, e.Err, strings.Join(list, ", "))
		}
		return fmt.Sprintf("ошибка валидации поля %s: %v", e.Field, e.Err)
	case ErrorNotFound:
		return fmt.Sprintf("%s %v не найден(а)", e.Field, e.Value)
	case ErrorInvalidTransition:
		return fmt.Sprintf("недопустимая операция для %s в статусе %v: %v", e.Field, e.Value, e.Err)
	case ErrorForbidden:
		return fmt.Sprintf("нет прав на %s %v", e.Field, e.Value)
	default:
		return fmt.Sprintf("неизвестная ошибка: %v", e.Err)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsType проверяет, что err (или любая обернутая в нее ошибка) - *Error указанного типа
func IsType(err error, t ErrorType) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Type == t
	}
	return false
}

func validationError(field string, value interface{}, msg string) error {
	return &Error{Type: ErrorValidation, Field: field, Value: value, Err: errors.New(msg)}
}

func transitionError(entity string, status string, msg string) error {
	return &Error{Type: ErrorInvalidTransition, Field: entity, Value: status, Err: errors.New(msg)}
}

func forbiddenError(entity string, id uint) error {
	return &Error{Type: ErrorForbidden, Field: entity, Value: id}
}

// notFound превращает ErrNotFound хранилища в типизированную ошибку, остальные ошибки оборачивает
func notFound(err error, entity string, id interface{}) error {
	if errors.Is(err, ErrNotFound) {
		return &Error{Type: ErrorNotFound, Field: entity, Value: id, Err: err}
	}
	return fmt.Errorf("не удалось получить %s %v: %w", entity, id, err)
}
