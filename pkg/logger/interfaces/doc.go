// Пакет interfaces описывает интерфейсы логирования, от которых зависят
// пакеты из pkg/ и internal/.
//
// Компонентам достаточно принять самый узкий интерфейс:
//
//	type Runner struct {
//	    log interfaces.SimpleLogger
//	}
//
// Logger нужен только там, где требуется стектрейс или поля контекста.
package interfaces
