package commander

import "context"

// Commander is the chat transport the bot talks through.
type Commander interface {
	GetUpdates(ctx context.Context, offset int64, timeout int) ([]Update, error)
	// SendMessage sends plain text and returns the new message id.
	SendMessage(ctx context.Context, chatID int64, text string) (int64, error)
	// SendHTML sends text with parse_mode=HTML and an optional inline keyboard.
	SendHTML(ctx context.Context, chatID int64, text string, kb Keyboard) (int64, error)
	// EditHTML replaces the text and keyboard of a message the bot sent.
	EditHTML(ctx context.Context, chatID, messageID int64, text string, kb Keyboard) error
	SendTyping(ctx context.Context, chatID int64) error
	AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error
}

// Update represents an incoming message or inline button press.
type Update struct {
	UpdateID int64     `json:"update_id"`
	Message  *Message  `json:"message,omitempty"`
	Callback *Callback `json:"callback_query,omitempty"`
}

// Message represents a chat message.
type Message struct {
	MessageID int64   `json:"message_id"`
	From      *User   `json:"from,omitempty"`
	Chat      Chat    `json:"chat"`
	Text      *string `json:"text,omitempty"`
	Date      int64   `json:"date"`
}

// Callback is a press of an inline keyboard button.
type Callback struct {
	ID      string   `json:"id"`
	From    User     `json:"from"`
	Data    string   `json:"data"`
	Message *Message `json:"message,omitempty"`
}

// User identifies the sender.
type User struct {
	ID           int64  `json:"id"`
	Username     string `json:"username,omitempty"`
	FirstName    string `json:"first_name,omitempty"`
	LanguageCode string `json:"language_code,omitempty"`
}

// Chat identifies a conversation.
type Chat struct {
	ID int64 `json:"id"`
}

// Button is an inline keyboard button carrying callback data.
type Button struct {
	Text string `json:"text"`
	Data string `json:"callback_data"`
}

// Keyboard is an inline keyboard, one slice per row. nil means none.
type Keyboard [][]Button

// Sender returns the user an update came from, or nil.
func (u Update) Sender() *User {
	if u.Callback != nil {
		return &u.Callback.From
	}
	if u.Message != nil {
		return u.Message.From
	}
	return nil
}

// ChatID returns the chat the update belongs to.
func (u Update) ChatID() int64 {
	if u.Callback != nil && u.Callback.Message != nil {
		return u.Callback.Message.Chat.ID
	}
	if u.Message != nil {
		return u.Message.Chat.ID
	}
	return 0
}
