package config

import "fmt"

// TelegramConfig holds Telegram bot configuration.
type TelegramConfig struct {
	BotToken string `json:"bot_token"`
}

// LoadTelegramConfig builds a TelegramConfig from Preferences.
func LoadTelegramConfig(prefs Preferences) (TelegramConfig, error) {
	if prefs.TelegramBotToken == "" {
		return TelegramConfig{}, fmt.Errorf("telegram bot token not set: set %s or run `soundgrab config set telegram.bot_token <token>`", EnvBotToken)
	}
	return TelegramConfig{BotToken: prefs.TelegramBotToken}, nil
}
