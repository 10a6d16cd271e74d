package wizard

import "errors"

// Validation errors are shown to the user as transient warnings; the session
// stays on the same step with its staged fields intact.
var (
	ErrInvalidName  = errors.New("name contains disallowed characters")
	ErrInvalidPrice = errors.New("price must be a positive number")
	ErrInvalidDelay = errors.New("delay must be a positive number of minutes")
	ErrEmptyStore   = errors.New("store must not be empty")
	ErrTextOnly     = errors.New("only text is accepted at this step")
	ErrPhotoOnly    = errors.New("only a photo is accepted at this step")
	ErrCannotSkip   = errors.New("this step cannot be skipped")
)

var (
	// ErrNoSession is returned when the user has no entry in progress.
	ErrNoSession = errors.New("no wizard session")
	// ErrWrongStep is returned for an action that does not apply to the
	// current step, such as a stale delay button.
	ErrWrongStep = errors.New("action does not apply to the current step")
)

// IsValidation reports whether err is a user input problem.
func IsValidation(err error) bool {
	for _, v := range []error{
		ErrInvalidName, ErrInvalidPrice, ErrInvalidDelay, ErrEmptyStore,
		ErrTextOnly, ErrPhotoOnly, ErrCannotSkip,
	} {
		if errors.Is(err, v) {
			return true
		}
	}
	return false
}

// Warning is the user-facing text for a validation error.
func Warning(err error) string {
	switch {
	case errors.Is(err, ErrInvalidName):
		return "❌ <b>Неверное название!</b>\n\nИспользуй только буквы, цифры и символы - _ . , ! ? ( )"
	case errors.Is(err, ErrInvalidPrice):
		return "❌ <b>Неверная цена!</b>\n\nВведи число. Примеры: 1500, 1 000 000, 1.500.000"
	case errors.Is(err, ErrInvalidDelay):
		return "❌ <b>Неверное время!</b>\n\nВведи число минут (например: 5, 30, 1440) или выбери кнопкой."
	case errors.Is(err, ErrEmptyStore):
		return "❌ Напиши <b>название магазина</b> текстом."
	case errors.Is(err, ErrTextOnly):
		return "❌ <b>Только текст!</b>\n\n📎 Файлы, фото и видео на этом шаге не принимаются."
	case errors.Is(err, ErrPhotoOnly):
		return "❌ <b>Только фото вещи!</b>\n\n📷 Отправь изображение или нажми «Пропустить»."
	case errors.Is(err, ErrCannotSkip):
		return "❌ Этот шаг нельзя пропустить."
	}
	return "⚠️ Не получилось обработать ввод."
}
