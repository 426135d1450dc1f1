package bot

import "context"

// Button is one inline keyboard button. Data is the callback payload.
type Button struct {
	Text string
	Data string
}

// Keyboard is rows of inline buttons. A nil Keyboard removes any markup.
type Keyboard [][]Button

// Audio is an audio message. Exactly one of Data or FileID is set: Data
// uploads new bytes, FileID resends a file Telegram already holds.
type Audio struct {
	FileName string
	Data     []byte
	FileID   string
	Caption  string // MarkdownV2
	Title    string
}

// Callback is a button press.
type Callback struct {
	ID        string
	ChatID    int64
	MessageID int
	Data      string
}

// Messenger is the transport capability the bot needs. All text arguments
// are MarkdownV2.
type Messenger interface {
	SendText(ctx context.Context, chatID int64, text string, kb Keyboard) (messageID int, err error)
	EditText(ctx context.Context, chatID int64, messageID int, text string, kb Keyboard) error
	DeleteMessage(ctx context.Context, chatID int64, messageID int) error
	// SendAudio returns the file id Telegram assigned to the audio.
	SendAudio(ctx context.Context, chatID int64, a Audio) (fileID string, err error)
	AnswerCallback(ctx context.Context, callbackID, text string) error
}
