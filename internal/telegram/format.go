package telegram

import (
	"strings"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/batalabs/soundgrab/internal/bot"
	"github.com/batalabs/soundgrab/internal/domain"
)

// inlineKeyboard converts a bot keyboard to Bot API markup. It returns nil
// for an empty keyboard.
func inlineKeyboard(kb bot.Keyboard) *tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, row := range kb {
		if len(row) == 0 {
			continue
		}
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(b.Text, b.Data))
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(buttons...))
	}
	if len(rows) == 0 {
		return nil
	}
	markup := tgbotapi.NewInlineKeyboardMarkup(rows...)
	return &markup
}

// menuCommands lists the commands shown in the client's command menu.
func menuCommands() []tgbotapi.BotCommand {
	defs := domain.MenuCommands()
	cmds := make([]tgbotapi.BotCommand, 0, len(defs))
	for _, c := range defs {
		cmds = append(cmds, tgbotapi.BotCommand{
			Command:     strings.TrimPrefix(c.Name, "/"),
			Description: c.Description,
		})
	}
	return cmds
}

// SplitMessage splits MarkdownV2 text into chunks of at most maxLen bytes.
// It prefers newline boundaries and never splits an escape sequence or a
// bold span.
func SplitMessage(text string, maxLen int) []string {
	return splitMessageInternal(text, maxLen, true)
}

func splitMessageInternal(text string, maxLen int, markdownAware bool) []string {
	if maxLen <= 0 {
		maxLen = MaxMessageLen
	}
	if len(text) <= maxLen {
		return []string{text}
	}

	var parts []string
	remaining := text
	for len(remaining) > 0 {
		if len(remaining) <= maxLen {
			parts = append(parts, remaining)
			break
		}

		chunk := remaining[:maxLen]
		splitIdx := strings.LastIndex(chunk, "\n")
		if splitIdx < maxLen/2 {
			splitIdx = maxLen
		} else {
			splitIdx++ // keep the newline with the first part
		}
		splitIdx = safeSplitIndex(remaining, splitIdx, maxLen/2, markdownAware)

		parts = append(parts, remaining[:splitIdx])
		remaining = remaining[splitIdx:]
	}
	return parts
}

func safeSplitIndex(text string, candidate int, min int, markdownAware bool) int {
	if candidate <= 0 {
		return 1
	}
	if candidate > len(text) {
		candidate = len(text)
	}
	if min < 1 {
		min = 1
	}
	idx := candidate
	for idx > min {
		prefix := text[:idx]
		if !utf8.ValidString(prefix) {
			idx--
			continue
		}
		if markdownAware && !isSafeMarkdownBoundary(prefix) {
			idx--
			continue
		}
		return idx
	}
	return candidate
}

// isSafeMarkdownBoundary reports whether a MarkdownV2 message may end after
// prefix: no dangling backslash and no open bold span.
func isSafeMarkdownBoundary(prefix string) bool {
	open := false
	escaped := false
	for i := 0; i < len(prefix); i++ {
		switch c := prefix[i]; {
		case escaped:
			escaped = false
		case c == '\\':
			escaped = true
		case c == '*':
			open = !open
		}
	}
	return !escaped && !open
}

// summarizeTelegramText shortens outbound text for log lines.
func summarizeTelegramText(s string) string {
	s = strings.TrimSpace(strings.ReplaceAll(s, "\n", " "))
	if utf8.RuneCountInString(s) <= 72 {
		return s
	}
	return string([]rune(s)[:72]) + "..."
}
