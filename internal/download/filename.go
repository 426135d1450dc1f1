package download

import (
	"strings"
	"unicode"
)

// MaxFilenameRunes bounds the base name of a delivered file.
const MaxFilenameRunes = 64

// filenameStrip holds characters that are unsafe in file names on common
// platforms.
const filenameStrip = `/:*?"<>|`

// SanitizeFilename turns a track title into a safe file base name: backslash
// becomes U+29F5, path-unsafe characters and control characters are dropped,
// and the result is cut to MaxFilenameRunes. A title with nothing left
// becomes "track".
func SanitizeFilename(title string) string {
	var b strings.Builder
	n := 0
	for _, r := range title {
		if n == MaxFilenameRunes {
			break
		}
		switch {
		case r == '\\':
			r = '⧵'
		case strings.ContainsRune(filenameStrip, r), unicode.IsControl(r):
			continue
		}
		b.WriteRune(r)
		n++
	}
	out := b.String()
	if strings.TrimSpace(out) == "" {
		return "track"
	}
	return out
}

// AssetName returns the delivered file name for a title.
func AssetName(title string) string {
	return SanitizeFilename(title) + ".mp3"
}
