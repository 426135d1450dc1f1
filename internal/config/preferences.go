package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// Preferences holds user-configurable bot settings.
// Persisted to ~/.config/soundgrab/config.json.
type Preferences struct {
	TelegramBotToken string `json:"telegram_bot_token,omitempty"`

	// yt-dlp
	YtdlpPath  string `json:"ytdlp_path,omitempty"`
	YtdlpProxy string `json:"ytdlp_proxy,omitempty"`

	// Listing
	SearchLimit int `json:"search_limit"`
	LikesLimit  int `json:"likes_limit"`
	PageSize    int `json:"page_size"`

	// Timeouts (Go duration strings, e.g. "30s", "5m")
	SearchTimeout   string `json:"search_timeout"`
	LikesTimeout    string `json:"likes_timeout"`
	DownloadTimeout string `json:"download_timeout"`
	SessionTTL      string `json:"session_ttl"`

	// Runtime
	MetricsAddr string `json:"metrics_addr,omitempty"`
	StorePath   string `json:"store_path,omitempty"`
	LogDebug    bool   `json:"log_debug"`
}

// PrefEntry holds a single key-value preference entry for display.
type PrefEntry struct {
	Key   string
	Value string
}

// ConfigGroup holds a named group of preference entries for display.
type ConfigGroup struct {
	Name    string
	Entries []PrefEntry
}

// ConfigGroupDef defines a single group with a name and its keys.
type ConfigGroupDef struct {
	Name string
	Keys []string
}

// ConfigGroupDefs defines the preference key groupings and their display order.
var ConfigGroupDefs = []ConfigGroupDef{
	{
		Name: "telegram",
		Keys: []string{"telegram.bot_token"},
	},
	{
		Name: "ytdlp",
		Keys: []string{"ytdlp.path", "ytdlp.proxy"},
	},
	{
		Name: "listing",
		Keys: []string{"search.limit", "likes.limit", "page.size"},
	},
	{
		Name: "timeouts",
		Keys: []string{"timeout.search", "timeout.likes", "timeout.download", "session.ttl"},
	},
	{
		Name: "runtime",
		Keys: []string{"metrics.addr", "store.path", "log.debug"},
	},
}

// ConfigGroupNames returns the list of valid group names.
func ConfigGroupNames() []string {
	names := make([]string, len(ConfigGroupDefs))
	for i, g := range ConfigGroupDefs {
		names[i] = g.Name
	}
	return names
}

// ValidConfigKeys returns all config keys accepted by Set().
func ValidConfigKeys() []string {
	var keys []string
	for _, g := range ConfigGroupDefs {
		keys = append(keys, g.Keys...)
	}
	return keys
}

// DefaultPreferences returns the default set of preferences.
func DefaultPreferences() Preferences {
	return Preferences{
		SearchLimit:     10,
		LikesLimit:      50,
		PageSize:        10,
		SearchTimeout:   "30s",
		LikesTimeout:    "90s",
		DownloadTimeout: "5m",
		SessionTTL:      "1h",
	}
}

// LoadPreferences reads preferences from ~/.config/soundgrab/config.json.
// Missing or zero fields fall back to defaults.
func LoadPreferences() Preferences {
	p := DefaultPreferences()
	path := ConfigFilePath()
	if path == "" {
		return p
	}

	if data, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(data, &p); err != nil {
			fmt.Fprintf(os.Stderr, "config: parse %s: %v\n", path, err)
		}
		warnInsecurePermissions(path)
	}

	if sanitizePreferences(&p) {
		// Persist cleaned values so control characters don't accumulate across restarts.
		if err := SavePreferences(p); err != nil {
			fmt.Fprintf(os.Stderr, "config: save sanitized config: %v\n", err)
		}
	}
	fillDefaults(&p)
	return p
}

// fillDefaults replaces zero values with their defaults.
func fillDefaults(p *Preferences) {
	d := DefaultPreferences()
	if p.SearchLimit <= 0 {
		p.SearchLimit = d.SearchLimit
	}
	if p.LikesLimit <= 0 {
		p.LikesLimit = d.LikesLimit
	}
	if p.PageSize <= 0 {
		p.PageSize = d.PageSize
	}
	if p.SearchTimeout == "" {
		p.SearchTimeout = d.SearchTimeout
	}
	if p.LikesTimeout == "" {
		p.LikesTimeout = d.LikesTimeout
	}
	if p.DownloadTimeout == "" {
		p.DownloadTimeout = d.DownloadTimeout
	}
	if p.SessionTTL == "" {
		p.SessionTTL = d.SessionTTL
	}
}

// SavePreferences writes preferences to ~/.config/soundgrab/config.json.
func SavePreferences(p Preferences) error {
	dir := ConfigDir()
	if dir == "" {
		return fmt.Errorf("could not determine config directory")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, "config.json"), data, 0o600)
}

// warnInsecurePermissions prints a warning to stderr if the config file is
// readable by group or others. On Windows, file permission bits don't map
// to ACLs, so the check is skipped.
func warnInsecurePermissions(path string) {
	if runtime.GOOS == "windows" {
		return
	}
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	if info.Mode().Perm()&0o077 != 0 {
		fmt.Fprintf(os.Stderr, "WARNING: %s is readable by others (mode %o). Run: chmod 600 %s\n",
			path, info.Mode().Perm(), path)
	}
}

// ---------------------------------------------------------------------------
// Typed accessors
// ---------------------------------------------------------------------------

// SearchTimeoutDuration returns the search subprocess timeout.
func (p Preferences) SearchTimeoutDuration() time.Duration {
	return durationOr(p.SearchTimeout, 30*time.Second)
}

// LikesTimeoutDuration returns the likes-listing subprocess timeout.
func (p Preferences) LikesTimeoutDuration() time.Duration {
	return durationOr(p.LikesTimeout, 90*time.Second)
}

// DownloadTimeoutDuration returns the audio fetch subprocess timeout.
func (p Preferences) DownloadTimeoutDuration() time.Duration {
	return durationOr(p.DownloadTimeout, 5*time.Minute)
}

// SessionTTLDuration returns how long an idle chat session is kept.
func (p Preferences) SessionTTLDuration() time.Duration {
	return durationOr(p.SessionTTL, time.Hour)
}

// ResolvedStorePath returns the SQLite path, defaulting into DataDir.
func (p Preferences) ResolvedStorePath() (string, error) {
	if p.StorePath != "" {
		return p.StorePath, nil
	}
	dir, err := DataDir()
	if err != nil {
		return "", fmt.Errorf("data dir: %w", err)
	}
	return filepath.Join(dir, "soundgrab.db"), nil
}

func durationOr(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// ---------------------------------------------------------------------------
// Display / Get / Set
// ---------------------------------------------------------------------------

// Grouped returns all preferences organized into named groups.
// Values are display-ready: secrets are masked, empty values are annotated.
func (p Preferences) Grouped() []ConfigGroup {
	var groups []ConfigGroup
	for _, def := range ConfigGroupDefs {
		var entries []PrefEntry
		for _, key := range def.Keys {
			entries = append(entries, PrefEntry{Key: key, Value: AnnotateValue(p.Get(key))})
		}
		groups = append(groups, ConfigGroup{Name: def.Name, Entries: entries})
	}
	return groups
}

// GroupByName returns entries for a single config group, or nil if not found.
func (p Preferences) GroupByName(name string) *ConfigGroup {
	for _, g := range p.Grouped() {
		if g.Name == name {
			return &g
		}
	}
	return nil
}

// All returns all preference entries as a flat list.
func (p Preferences) All() []PrefEntry {
	var out []PrefEntry
	for _, key := range ValidConfigKeys() {
		out = append(out, PrefEntry{Key: key, Value: p.Get(key)})
	}
	return out
}

// Get returns the display value for a single preference key.
func (p Preferences) Get(key string) string {
	switch key {
	case "telegram.bot_token":
		return MaskKey(p.TelegramBotToken)
	case "ytdlp.path":
		return p.YtdlpPath
	case "ytdlp.proxy":
		return p.YtdlpProxy
	case "search.limit":
		return strconv.Itoa(p.SearchLimit)
	case "likes.limit":
		return strconv.Itoa(p.LikesLimit)
	case "page.size":
		return strconv.Itoa(p.PageSize)
	case "timeout.search":
		return p.SearchTimeout
	case "timeout.likes":
		return p.LikesTimeout
	case "timeout.download":
		return p.DownloadTimeout
	case "session.ttl":
		return p.SessionTTL
	case "metrics.addr":
		return p.MetricsAddr
	case "store.path":
		return p.StorePath
	case "log.debug":
		return strconv.FormatBool(p.LogDebug)
	default:
		return ""
	}
}

// Set updates a single preference key to the given value.
func (p *Preferences) Set(key, value string) error {
	value = SanitizeValue(value)
	switch key {
	case "telegram.bot_token":
		p.TelegramBotToken = value
	case "ytdlp.path":
		p.YtdlpPath = value
	case "ytdlp.proxy":
		p.YtdlpProxy = value
	case "search.limit":
		return setPositiveInt(&p.SearchLimit, key, value, 50)
	case "likes.limit":
		return setPositiveInt(&p.LikesLimit, key, value, 500)
	case "page.size":
		return setPositiveInt(&p.PageSize, key, value, 50)
	case "timeout.search":
		return setDuration(&p.SearchTimeout, key, value)
	case "timeout.likes":
		return setDuration(&p.LikesTimeout, key, value)
	case "timeout.download":
		return setDuration(&p.DownloadTimeout, key, value)
	case "session.ttl":
		return setDuration(&p.SessionTTL, key, value)
	case "metrics.addr":
		p.MetricsAddr = value
	case "store.path":
		p.StorePath = value
	case "log.debug":
		b, err := ParseBoolish(value)
		if err != nil {
			return err
		}
		p.LogDebug = b
	default:
		return fmt.Errorf("unknown key: %s", key)
	}
	return nil
}

func setPositiveInt(dst *int, key, value string, max int) error {
	n, err := strconv.Atoi(value)
	if err != nil || n <= 0 || n > max {
		return fmt.Errorf("invalid value for %s: %q (want 1-%d)", key, value, max)
	}
	*dst = n
	return nil
}

func setDuration(dst *string, key, value string) error {
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fmt.Errorf("invalid duration for %s: %q (e.g. 30s, 5m)", key, value)
	}
	*dst = value
	return nil
}

// SanitizeValue strips null bytes, ASCII control characters (< 32 except
// \n and \t), and DEL (0x7F) from a string value and trims surrounding
// whitespace. Tokens pasted from a clipboard often carry these.
func SanitizeValue(s string) string {
	return strings.Map(func(r rune) rune {
		if (r < 32 && r != '\n' && r != '\t') || r == 0x7F {
			return -1
		}
		return r
	}, strings.TrimSpace(s))
}

// sanitizePreferences strips control characters from all string fields in
// an already-loaded Preferences struct. Returns true if any field was modified.
func sanitizePreferences(p *Preferences) bool {
	changed := false
	sanitize := func(s *string) {
		cleaned := SanitizeValue(*s)
		if cleaned != *s {
			*s = cleaned
			changed = true
		}
	}
	sanitize(&p.TelegramBotToken)
	sanitize(&p.YtdlpPath)
	sanitize(&p.YtdlpProxy)
	sanitize(&p.MetricsAddr)
	sanitize(&p.StorePath)
	return changed
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// MaskKey masks a secret for display, showing only the last 4 characters.
func MaskKey(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}

// ParseBoolish parses common truthy/falsy spellings.
func ParseBoolish(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "true", "on", "yes", "1":
		return true, nil
	case "false", "off", "no", "0":
		return false, nil
	default:
		return false, fmt.Errorf("invalid boolean value: %s (use true/false, on/off, yes/no)", s)
	}
}

// AnnotateValue returns a display string for an empty value.
func AnnotateValue(value string) string {
	if value == "" {
		return "(not set)"
	}
	return value
}

// ConfigFilePath returns the absolute path to config.json.
func ConfigFilePath() string {
	dir := ConfigDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "config.json")
}

// ---------------------------------------------------------------------------
// Config actions
// ---------------------------------------------------------------------------

// ExecuteConfigAction runs a `config` subcommand against prefs and returns
// the text to print.
func ExecuteConfigAction(prefs *Preferences, args []string) (string, error) {
	sub := "show"
	if len(args) > 0 {
		sub = strings.ToLower(args[0])
	}

	switch sub {
	case "show":
		return FormatConfigGroups(prefs.Grouped()), nil

	case "telegram", "ytdlp", "listing", "timeouts", "runtime":
		group := prefs.GroupByName(sub)
		if group == nil {
			return "", fmt.Errorf("unknown config group: %s", sub)
		}
		return FormatConfigGroups([]ConfigGroup{*group}), nil

	case "get":
		if len(args) < 2 {
			return "", fmt.Errorf("usage: config get <key>")
		}
		return AnnotateValue(prefs.Get(args[1])), nil

	case "set":
		if len(args) < 3 {
			return "", fmt.Errorf("usage: config set <key> <value>")
		}
		key := args[1]
		value := strings.Join(args[2:], " ")
		if err := prefs.Set(key, value); err != nil {
			return "", err
		}
		if err := SavePreferences(*prefs); err != nil {
			return "", fmt.Errorf("failed to save: %w", err)
		}
		return fmt.Sprintf("Set %s = %s", key, prefs.Get(key)), nil

	case "reset":
		*prefs = DefaultPreferences()
		if err := SavePreferences(*prefs); err != nil {
			return "", fmt.Errorf("failed to save: %w", err)
		}
		return "Preferences reset to defaults.", nil

	default:
		return "", fmt.Errorf("usage: config [show|%s|get <key>|set <key> <value>|reset]", strings.Join(ConfigGroupNames(), "|"))
	}
}

// FormatConfigGroups renders config groups as plain text.
func FormatConfigGroups(groups []ConfigGroup) string {
	var lines []string
	for i, g := range groups {
		if i > 0 {
			lines = append(lines, "")
		}
		lines = append(lines, strings.ToUpper(g.Name[:1])+g.Name[1:]+":")
		for _, e := range g.Entries {
			lines = append(lines, fmt.Sprintf("  %-20s %s", e.Key, e.Value))
		}
	}
	lines = append(lines, "")
	lines = append(lines, "  Use `soundgrab config set <key> <value>` to change")
	return strings.Join(lines, "\n")
}
