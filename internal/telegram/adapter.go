// Package telegram connects the conversation controller to the Telegram Bot
// API: it long-polls updates, hands them to the per-chat dispatcher and
// implements bot.Messenger for outbound calls.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/batalabs/soundgrab/internal/bot"
	"github.com/batalabs/soundgrab/internal/config"
	"github.com/batalabs/soundgrab/internal/metrics"
	"github.com/batalabs/soundgrab/internal/session"
)

const (
	// MaxMessageLen is the maximum Telegram message length.
	MaxMessageLen = 4096

	// DefaultSendRate paces outbound Bot API calls below Telegram's global
	// limit of about 30 per second.
	DefaultSendRate  = rate.Limit(25)
	DefaultSendBurst = 5

	maxFloodRetries = 2
)

// Handler consumes inbound events. bot.Controller implements it.
type Handler interface {
	HandleText(ctx context.Context, chatID int64, text string) error
	HandleCallback(ctx context.Context, cb bot.Callback) error
}

// botAPI is the subset of *tgbotapi.BotAPI the adapter uses.
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Options configure an Adapter. Dispatcher is required.
type Options struct {
	Dispatcher *session.Dispatcher
	Metrics    *metrics.Metrics
	Log        *zap.Logger
	SendRate   rate.Limit
	SendBurst  int
}

// Adapter implements bot.Messenger on top of the Bot API.
type Adapter struct {
	api      botAPI
	name     string
	limiter  *rate.Limiter
	dispatch *session.Dispatcher
	metrics  *metrics.Metrics
	log      *zap.Logger

	retryUnit time.Duration // scale of Telegram's retry_after
}

var _ bot.Messenger = (*Adapter)(nil)

type telegramBotLogger struct {
	log *zap.SugaredLogger
}

func (l *telegramBotLogger) Println(v ...interface{}) {
	if l == nil || l.log == nil {
		return
	}
	l.log.Warn("telegram_api: " + strings.TrimSpace(fmt.Sprintln(v...)))
}

func (l *telegramBotLogger) Printf(format string, v ...interface{}) {
	if l == nil || l.log == nil {
		return
	}
	l.log.Warnf("telegram_api: "+format, v...)
}

// NewAdapter connects to Telegram with the configured token.
func NewAdapter(cfg config.TelegramConfig, opts Options) (*Adapter, error) {
	api, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("connecting to Telegram: %w", err)
	}
	a := newAdapter(api, api.Self.UserName, opts)
	// Route the library's polling errors into our logger.
	if err := tgbotapi.SetLogger(&telegramBotLogger{log: a.log.Sugar()}); err != nil {
		a.log.Warn("telegram: set logger", zap.Error(err))
	}
	return a, nil
}

func newAdapter(api botAPI, name string, opts Options) *Adapter {
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	if opts.SendRate <= 0 {
		opts.SendRate = DefaultSendRate
	}
	if opts.SendBurst <= 0 {
		opts.SendBurst = DefaultSendBurst
	}
	return &Adapter{
		api:       api,
		name:      name,
		limiter:   rate.NewLimiter(opts.SendRate, opts.SendBurst),
		dispatch:  opts.Dispatcher,
		metrics:   opts.Metrics,
		log:       opts.Log.Named("telegram"),
		retryUnit: time.Second,
	}
}

// BotName returns the bot's username (without the @ prefix).
func (a *Adapter) BotName() string {
	return a.name
}

// SetCommands registers the command menu shown by Telegram clients.
func (a *Adapter) SetCommands(ctx context.Context) error {
	if err := a.request(ctx, tgbotapi.NewSetMyCommands(menuCommands()...)); err != nil {
		return fmt.Errorf("setting bot commands: %w", err)
	}
	return nil
}

// Run starts the long-polling loop and feeds every update to h through the
// dispatcher. Blocks until ctx is cancelled or the updates channel closes.
func (a *Adapter) Run(ctx context.Context, h Handler) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	u.AllowedUpdates = []string{"message", "callback_query"}

	updates := a.api.GetUpdatesChan(u)

	go func() {
		<-ctx.Done()
		a.api.StopReceivingUpdates()
	}()

	a.log.Info("polling for updates", zap.String("bot", a.name))
	for update := range updates {
		a.route(ctx, update, h)
	}
	return ctx.Err()
}

func (a *Adapter) route(ctx context.Context, update tgbotapi.Update, h Handler) {
	switch {
	case update.Message != nil:
		msg := update.Message
		if msg.Chat == nil || strings.TrimSpace(msg.Text) == "" {
			a.metrics.Update("ignored")
			return
		}
		a.metrics.Update("message")
		chatID, text := msg.Chat.ID, msg.Text
		a.submit(chatID, func(ctx context.Context) {
			a.logHandlerError(chatID, h.HandleText(ctx, chatID, text))
		})

	case update.CallbackQuery != nil:
		cq := update.CallbackQuery
		a.metrics.Update("callback")
		if cq.Message == nil || cq.Message.Chat == nil {
			// Inline-mode buttons carry no chat; there is no session to act on.
			if err := a.AnswerCallback(ctx, cq.ID, ""); err != nil {
				a.log.Debug("answer chatless callback", zap.Error(err))
			}
			return
		}
		cb := bot.Callback{
			ID:        cq.ID,
			ChatID:    cq.Message.Chat.ID,
			MessageID: cq.Message.MessageID,
			Data:      cq.Data,
		}
		a.submit(cb.ChatID, func(ctx context.Context) {
			a.logHandlerError(cb.ChatID, h.HandleCallback(ctx, cb))
		})

	default:
		a.metrics.Update("ignored")
	}
}

func (a *Adapter) submit(chatID int64, job session.Job) {
	if !a.dispatch.Submit(chatID, job) {
		a.log.Debug("dropped update after shutdown", zap.Int64("chat_id", chatID))
	}
}

func (a *Adapter) logHandlerError(chatID int64, err error) {
	switch {
	case err == nil:
	case bot.IsUserError(err):
		a.log.Debug("handler", zap.Int64("chat_id", chatID), zap.Error(err))
	default:
		a.log.Warn("handler", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

// SendText sends MarkdownV2 text, splitting it when it exceeds
// MaxMessageLen. The keyboard goes on the last part, whose id is returned.
func (a *Adapter) SendText(ctx context.Context, chatID int64, text string, kb bot.Keyboard) (int, error) {
	parts := SplitMessage(text, MaxMessageLen)
	markup := inlineKeyboard(kb)
	var id int
	for i, part := range parts {
		msg := tgbotapi.NewMessage(chatID, part)
		msg.ParseMode = tgbotapi.ModeMarkdownV2
		msg.DisableWebPagePreview = true
		if i == len(parts)-1 && markup != nil {
			msg.ReplyMarkup = *markup
		}
		sent, err := a.send(ctx, msg)
		if err != nil {
			return 0, fmt.Errorf("send message %q: %w", summarizeTelegramText(part), err)
		}
		id = sent.MessageID
	}
	return id, nil
}

// EditText replaces a message's text and keyboard. An edit that changes
// nothing is not an error.
func (a *Adapter) EditText(ctx context.Context, chatID int64, messageID int, text string, kb bot.Keyboard) error {
	var edit tgbotapi.EditMessageTextConfig
	if markup := inlineKeyboard(kb); markup != nil {
		edit = tgbotapi.NewEditMessageTextAndMarkup(chatID, messageID, text, *markup)
	} else {
		edit = tgbotapi.NewEditMessageText(chatID, messageID, text)
	}
	edit.ParseMode = tgbotapi.ModeMarkdownV2
	edit.DisableWebPagePreview = true
	if _, err := a.send(ctx, edit); err != nil && !isNotModified(err) {
		return fmt.Errorf("edit message %d: %w", messageID, err)
	}
	return nil
}

// DeleteMessage removes a message.
func (a *Adapter) DeleteMessage(ctx context.Context, chatID int64, messageID int) error {
	if err := a.request(ctx, tgbotapi.NewDeleteMessage(chatID, messageID)); err != nil {
		return fmt.Errorf("delete message %d: %w", messageID, err)
	}
	return nil
}

// SendAudio uploads audio bytes, or resends by file id when FileID is set.
// It returns the file id Telegram assigned.
func (a *Adapter) SendAudio(ctx context.Context, chatID int64, au bot.Audio) (string, error) {
	var file tgbotapi.RequestFileData
	if au.FileID != "" {
		file = tgbotapi.FileID(au.FileID)
	} else {
		file = tgbotapi.FileBytes{Name: au.FileName, Bytes: au.Data}
	}
	cfg := tgbotapi.NewAudio(chatID, file)
	cfg.Caption = au.Caption
	cfg.ParseMode = tgbotapi.ModeMarkdownV2
	cfg.Title = au.Title

	sent, err := a.send(ctx, cfg)
	if err != nil {
		return "", fmt.Errorf("send audio %q: %w", au.Title, err)
	}
	if sent.Audio != nil {
		return sent.Audio.FileID, nil
	}
	if sent.Document != nil {
		return sent.Document.FileID, nil
	}
	return au.FileID, nil
}

// AnswerCallback acknowledges a button press, optionally with a toast.
func (a *Adapter) AnswerCallback(ctx context.Context, callbackID, text string) error {
	if err := a.request(ctx, tgbotapi.NewCallback(callbackID, text)); err != nil {
		return fmt.Errorf("answer callback: %w", err)
	}
	return nil
}

func (a *Adapter) send(ctx context.Context, c tgbotapi.Chattable) (tgbotapi.Message, error) {
	var msg tgbotapi.Message
	err := a.do(ctx, func() error {
		var err error
		msg, err = a.api.Send(c)
		return err
	})
	return msg, err
}

func (a *Adapter) request(ctx context.Context, c tgbotapi.Chattable) error {
	return a.do(ctx, func() error {
		_, err := a.api.Request(c)
		return err
	})
}

// do paces fn through the shared limiter and retries it when Telegram
// answers with flood control.
func (a *Adapter) do(ctx context.Context, fn func() error) error {
	for attempt := 0; ; attempt++ {
		if err := a.limiter.Wait(ctx); err != nil {
			return err
		}
		err := fn()
		retryAfter, ok := floodWait(err)
		if !ok || attempt >= maxFloodRetries {
			return err
		}
		wait := time.Duration(retryAfter) * a.retryUnit
		a.log.Warn("flood control", zap.Duration("retry_after", wait), zap.Int("attempt", attempt+1))
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// floodWait returns Telegram's retry_after for a 429 response.
func floodWait(err error) (int, bool) {
	var tgErr *tgbotapi.Error
	if errors.As(err, &tgErr) && tgErr.Code == 429 && tgErr.RetryAfter > 0 {
		return tgErr.RetryAfter, true
	}
	return 0, false
}

func isNotModified(err error) bool {
	return err != nil && strings.Contains(err.Error(), "message is not modified")
}
