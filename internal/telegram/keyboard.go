package telegram

import "github.com/go-telegram/bot/models"

// Callback data of the session keyboard.
const (
	CallbackAnomalies = "flight_anomalies"
	CallbackReset     = "flight_reset"
	CallbackDelete    = "flight_delete"
)

func InlineButton(text, callbackData string) models.InlineKeyboardButton {
	return models.InlineKeyboardButton{
		Text:         text,
		CallbackData: callbackData,
	}
}

func InlineKeyboard(rows ...[]models.InlineKeyboardButton) *models.InlineKeyboardMarkup {
	return &models.InlineKeyboardMarkup{
		InlineKeyboard: rows,
	}
}

// SessionKeyboard is attached to the upload summary.
func SessionKeyboard() *models.InlineKeyboardMarkup {
	return InlineKeyboard(
		[]models.InlineKeyboardButton{InlineButton("⚠️ Anomalies", CallbackAnomalies)},
		[]models.InlineKeyboardButton{
			InlineButton("🔄 Reset chat", CallbackReset),
			InlineButton("🗑 Delete", CallbackDelete),
		},
	)
}
