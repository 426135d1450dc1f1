package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/lrstanley/go-ytdlp"
	"go.uber.org/zap"

	"github.com/batalabs/soundgrab/internal/domain"
)

// Default per-operation deadlines.
const (
	DefaultSearchTimeout = 30 * time.Second
	DefaultLikesTimeout  = 90 * time.Second
	DefaultFetchTimeout  = 5 * time.Minute
)

const (
	searchFields = 3 // id, title, webpage_url
	likesFields  = 2 // title, webpage_url
)

// runFunc executes a prepared yt-dlp command against target and returns the
// raw stdout and stderr.
type runFunc func(ctx context.Context, cmd *ytdlp.Command, target string) (stdout []byte, stderr string, err error)

// YTDLPConfig configures the yt-dlp backed Source.
type YTDLPConfig struct {
	Path          string // executable; empty means "yt-dlp" on PATH
	Proxy         string
	SearchTimeout time.Duration
	LikesTimeout  time.Duration
	FetchTimeout  time.Duration
}

// YTDLP implements Source by shelling out to yt-dlp.
type YTDLP struct {
	cfg YTDLPConfig
	log *zap.Logger
	run runFunc
}

// NewYTDLP returns a yt-dlp backed Source. Zero timeouts take defaults.
func NewYTDLP(cfg YTDLPConfig, log *zap.Logger) *YTDLP {
	if cfg.SearchTimeout <= 0 {
		cfg.SearchTimeout = DefaultSearchTimeout
	}
	if cfg.LikesTimeout <= 0 {
		cfg.LikesTimeout = DefaultLikesTimeout
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &YTDLP{cfg: cfg, log: log, run: runCommand}
}

// newCommand returns a quiet yt-dlp command with the configured executable
// and proxy.
func (y *YTDLP) newCommand() *ytdlp.Command {
	cmd := ytdlp.New().
		Quiet().
		NoWarnings().
		IgnoreConfig()
	if y.cfg.Path != "" {
		cmd.SetExecutable(y.cfg.Path)
	}
	if y.cfg.Proxy != "" {
		cmd.Proxy(y.cfg.Proxy)
	}
	return cmd
}

// Search queries SoundCloud for up to limit tracks matching query.
func (y *YTDLP) Search(ctx context.Context, query string, limit int) ([]domain.Track, error) {
	if limit <= 0 {
		limit = 10
	}
	target := fmt.Sprintf("scsearch%d:%s", limit, query)
	cmd := y.newCommand().
		Print("%(id)s\n%(title)s\n%(webpage_url)s")

	out, err := y.exec(ctx, "search", y.cfg.SearchTimeout, cmd, target)

	var tracks []domain.Track
	for _, rec := range GroupRecords(SplitLines(string(out)), searchFields) {
		t := domain.Track{ID: naToEmpty(rec[0]), Title: naToEmpty(rec[1]), URL: naToEmpty(rec[2])}
		if t.URL == "" {
			continue
		}
		tracks = append(tracks, t)
	}
	return y.listing("search", tracks, err)
}

// Likes lists up to max tracks from username's public likes.
func (y *YTDLP) Likes(ctx context.Context, username string, max int) ([]domain.Track, error) {
	if max <= 0 {
		max = 50
	}
	target := LikesURL(username)
	cmd := y.newCommand().
		Print("%(title)s\n%(webpage_url)s").
		PlaylistItems(fmt.Sprintf("1-%d", max))

	out, err := y.exec(ctx, "likes", y.cfg.LikesTimeout, cmd, target)

	var tracks []domain.Track
	for _, rec := range GroupRecords(SplitLines(string(out)), likesFields) {
		t := domain.Track{Title: naToEmpty(rec[0]), URL: naToEmpty(rec[1])}
		if t.URL == "" {
			continue
		}
		tracks = append(tracks, t)
	}
	return y.listing("likes", tracks, err)
}

// listing resolves a listing run. yt-dlp exits non-zero when a single
// playlist entry fails (removed or geo-blocked) yet still prints the rest,
// so a tool failure only counts when nothing usable was printed.
func (y *YTDLP) listing(op string, tracks []domain.Track, err error) ([]domain.Track, error) {
	if err == nil {
		return tracks, nil
	}
	var te *ToolError
	if errors.As(err, &te) && len(tracks) > 0 {
		y.log.Warn("yt-dlp reported errors, keeping partial listing",
			zap.String("op", op),
			zap.Int("tracks", len(tracks)),
			zap.Int("exit_code", te.ExitCode),
			zap.Stringer("kind", te.Kind),
		)
		return tracks, nil
	}
	return nil, err
}

// Fetch downloads the audio at trackURL as MP3 bytes.
func (y *YTDLP) Fetch(ctx context.Context, trackURL string) ([]byte, error) {
	cmd := y.newCommand().
		ExtractAudio().
		AudioFormat("mp3").
		Output("-").
		NoPlaylist()

	out, err := y.exec(ctx, "fetch", y.cfg.FetchTimeout, cmd, trackURL)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// LikesURL returns the public likes page of a SoundCloud user.
func LikesURL(username string) string {
	return "https://soundcloud.com/" + url.PathEscape(strings.TrimPrefix(strings.TrimSpace(username), "@")) + "/likes"
}

// exec runs cmd under a deadline and maps failures to ErrTimeout or *ToolError.
// On a *ToolError the captured stdout is returned alongside it.
func (y *YTDLP) exec(ctx context.Context, op string, timeout time.Duration, cmd *ytdlp.Command, target string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	out, stderr, err := y.run(ctx, cmd, target)
	elapsed := time.Since(start)

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		y.log.Warn("yt-dlp timed out", zap.String("op", op), zap.Duration("timeout", timeout))
		return nil, fmt.Errorf("%s: %w", op, ErrTimeout)
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%s: %w", op, ctxErr)
		}
		te := &ToolError{
			Op:       op,
			ExitCode: exitCode(err),
			Stderr:   stderr,
			Kind:     Classify(stderr),
			Err:      err,
		}
		y.log.Warn("yt-dlp failed",
			zap.String("op", op),
			zap.Int("exit_code", te.ExitCode),
			zap.Stringer("kind", te.Kind),
			zap.String("stderr", lastLine(stderr)),
			zap.Duration("elapsed", elapsed),
		)
		return out, te
	}

	y.log.Debug("yt-dlp finished",
		zap.String("op", op),
		zap.Int("bytes", len(out)),
		zap.Duration("elapsed", elapsed),
	)
	return out, nil
}

// runCommand builds the exec.Cmd and captures stdout as raw bytes, which
// keeps binary audio intact.
func runCommand(ctx context.Context, cmd *ytdlp.Command, target string) ([]byte, string, error) {
	c := cmd.BuildCommand(ctx, target)
	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr
	err := c.Run()
	return stdout.Bytes(), stderr.String(), err
}

func exitCode(err error) int {
	var ec interface{ ExitCode() int }
	if errors.As(err, &ec) {
		return ec.ExitCode()
	}
	return -1
}

// naToEmpty maps yt-dlp's placeholder for missing fields to "".
func naToEmpty(s string) string {
	s = strings.TrimSpace(s)
	if s == "NA" {
		return ""
	}
	return s
}
