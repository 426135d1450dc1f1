package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variables that override values from config.json.
const (
	EnvBotToken         = "SOUNDGRAB_BOT_TOKEN"
	EnvBotTokenFallback = "TELEGRAM_BOT_TOKEN"
	EnvYtdlpPath        = "SOUNDGRAB_YTDLP_PATH"
	EnvProxy            = "SOUNDGRAB_PROXY"
	EnvMetricsAddr      = "SOUNDGRAB_METRICS_ADDR"
)

// configDirOverride is set by tests to redirect ConfigDir.
var configDirOverride string

// dataDirOverride is set by tests to redirect DataDir.
var dataDirOverride string

// ConfigDir returns the config directory for soundgrab.
func ConfigDir() string {
	if configDirOverride != "" {
		return configDirOverride
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "soundgrab")
}

// DataDir returns ~/.local/share/soundgrab, creating it if needed.
func DataDir() (string, error) {
	dir := dataDirOverride
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dir = filepath.Join(home, ".local", "share", "soundgrab")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return dir, nil
}

// LoadDotEnv loads a .env file from the working directory and then from the
// config directory. Variables already present in the environment win.
func LoadDotEnv() {
	for _, p := range []string{".env", filepath.Join(ConfigDir(), ".env")} {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		_ = godotenv.Load(p)
	}
}

// ApplyEnv overlays environment variables onto prefs. Env values are not
// persisted by SavePreferences unless the caller saves the returned copy.
func ApplyEnv(p Preferences) Preferences {
	if v := firstEnv(EnvBotToken, EnvBotTokenFallback); v != "" {
		p.TelegramBotToken = v
	}
	if v := firstEnv(EnvYtdlpPath); v != "" {
		p.YtdlpPath = v
	}
	if v := firstEnv(EnvProxy); v != "" {
		p.YtdlpProxy = v
	}
	if v := firstEnv(EnvMetricsAddr); v != "" {
		p.MetricsAddr = v
	}
	return p
}

func firstEnv(names ...string) string {
	for _, n := range names {
		if v := strings.TrimSpace(os.Getenv(n)); v != "" {
			return SanitizeValue(v)
		}
	}
	return ""
}
