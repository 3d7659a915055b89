package adapter

import "context"

// InlineButton is one keyboard button. URL wins over Data when both are set.
type InlineButton struct {
	Text string
	Data string
	URL  string
}

// TelegramBotAdapter sends messages to a chat. Used by notifiers and the poller.
type TelegramBotAdapter interface {
	SendMessage(ctx context.Context, telegramID int64, text string) error
	SendButtons(ctx context.Context, telegramID int64, text string, rows [][]InlineButton) error
}
