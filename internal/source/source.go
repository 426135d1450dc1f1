// Package source fetches track listings and audio from SoundCloud through
// the yt-dlp extraction tool.
package source

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/batalabs/soundgrab/internal/domain"
)

// Source is the capability the bot needs from the audio platform.
// An empty listing is not an error.
type Source interface {
	Search(ctx context.Context, query string, limit int) ([]domain.Track, error)
	Likes(ctx context.Context, username string, max int) ([]domain.Track, error)
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// ErrTimeout is returned when the extraction tool does not finish before
// the operation's deadline.
var ErrTimeout = errors.New("extraction tool timed out")

// ErrorKind classifies a tool failure from its diagnostic output.
type ErrorKind int

const (
	KindFailed ErrorKind = iota
	KindNotFound
	KindUnavailable
)

// String returns a short name for logs and metrics labels.
func (k ErrorKind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindUnavailable:
		return "unavailable"
	default:
		return "failed"
	}
}

// ToolError is a non-zero exit of the extraction tool.
type ToolError struct {
	Op       string
	ExitCode int
	Stderr   string
	Kind     ErrorKind
	Err      error
}

func (e *ToolError) Error() string {
	msg := fmt.Sprintf("yt-dlp %s: exit %d (%s)", e.Op, e.ExitCode, e.Kind)
	if line := lastLine(e.Stderr); line != "" {
		msg += ": " + line
	}
	return msg
}

func (e *ToolError) Unwrap() error { return e.Err }

// IsNotFound reports whether err is a ToolError for a missing resource,
// e.g. an unknown SoundCloud user.
func IsNotFound(err error) bool {
	var te *ToolError
	return errors.As(err, &te) && te.Kind == KindNotFound
}

// IsUnavailable reports whether err is a ToolError caused by the platform or
// network being unreachable.
func IsUnavailable(err error) bool {
	var te *ToolError
	return errors.As(err, &te) && te.Kind == KindUnavailable
}

var notFoundMarkers = []string{
	"http error 404",
	"404: not found",
	"does not exist",
	"unable to find user",
	"no such user",
}

var unavailableMarkers = []string{
	"timed out",
	"name resolution",
	"getaddrinfo",
	"nodename nor servname",
	"connection refused",
	"connection reset",
	"network is unreachable",
	"http error 5",
	"http error 429",
	"temporary failure",
	"ssl:",
}

// Classify maps tool diagnostic output to an ErrorKind.
func Classify(stderr string) ErrorKind {
	s := strings.ToLower(stderr)
	for _, m := range notFoundMarkers {
		if strings.Contains(s, m) {
			return KindNotFound
		}
	}
	for _, m := range unavailableMarkers {
		if strings.Contains(s, m) {
			return KindUnavailable
		}
	}
	return KindFailed
}

// GroupRecords groups lines into consecutive tuples of size. Trailing blank
// lines are dropped first; blank lines inside the output keep their slot so
// a missing field does not shift later records. A trailing partial tuple is
// discarded.
func GroupRecords(lines []string, size int) [][]string {
	if size <= 0 {
		return nil
	}
	kept := make([]string, 0, len(lines))
	for _, l := range lines {
		kept = append(kept, strings.TrimRight(l, "\r"))
	}
	for len(kept) > 0 && strings.TrimSpace(kept[len(kept)-1]) == "" {
		kept = kept[:len(kept)-1]
	}
	n := len(kept) / size
	out := make([][]string, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, kept[i*size:(i+1)*size])
	}
	return out
}

// SplitLines splits raw tool output into lines.
func SplitLines(out string) []string {
	if out == "" {
		return nil
	}
	return strings.Split(out, "\n")
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			if len(l) > 200 {
				l = l[:200] + "..."
			}
			return l
		}
	}
	return ""
}
