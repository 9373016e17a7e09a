// Package content содержит доменную модель учебного контента Stepwise.
//
// Пакет определяет:
//
//   - Section - размеченное объединение (tagged union) блоков контента
//   - Item - урок или глава книги: упорядоченный неизменяемый список секций
//   - Step - группа секций, открываемая читателю целиком
//   - Source - порт, через который приложение получает контент из каталога
//
// # Архитектурные принципы
//
//  1. Нулевые внешние зависимости - только стандартная библиотека Go
//  2. Контент неизменяем во время работы: его загружают один раз из каталога
//  3. Секция не может объявить тип без обязательных данных этого типа:
//     валидация выполняется на границе декодирования (см. infrastructure/catalog)
//
// # Разбиение на шаги
//
// Новый шаг начинается с каждого заголовка (heading), если текущий шаг уже
// не пуст. Остальные секции присоединяются к текущему шагу:
//
//	item, err := content.NewItem(content.NewItemParams{
//	    ID:       "budgeting-101",
//	    Kind:     content.ItemKindLesson,
//	    Title:    "Budgeting basics",
//	    Sections: sections,
//	})
//	steps := item.Steps() // всегда хотя бы один шаг
//
// Шаг 0 может не иметь заголовка (например, урок начинается с intro).
package content
