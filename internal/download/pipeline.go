// Package download delivers a single track to a chat: fetch the audio,
// name it safely and send it, reporting progress and failures in the chat.
package download

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/batalabs/soundgrab/internal/bot"
	"github.com/batalabs/soundgrab/internal/domain"
	"github.com/batalabs/soundgrab/internal/metrics"
	"github.com/batalabs/soundgrab/internal/source"
)

// MaxUploadBytes is the largest file the Bot API accepts for upload.
const MaxUploadBytes = 50 << 20

const (
	textDownloadError   = "❌ Download error."
	textDownloadTimeout = "❌ Download timed out."
	textUnexpected      = "❌ Something went wrong. Please try again."
)

// Cache is the persistent side of the pipeline: Telegram file ids of tracks
// already uploaded, and the delivery history.
type Cache interface {
	CachedFileID(url string) (fileID string, ok bool, err error)
	SaveFileID(url, fileID, title string, size int64) error
	ForgetFileID(url string) error
	RecordDelivery(d domain.Delivery) (domain.Delivery, error)
}

// Pipeline implements bot.Deliverer.
type Pipeline struct {
	msg     bot.Messenger
	src     source.Source
	cache   Cache // optional
	metrics *metrics.Metrics
	log     *zap.Logger

	fetches singleflight.Group
	now     func() time.Time
}

// NewPipeline wires a Pipeline. cache and m may be nil.
func NewPipeline(msg bot.Messenger, src source.Source, cache Cache, m *metrics.Metrics, log *zap.Logger) *Pipeline {
	if log == nil {
		log = zap.NewNop()
	}
	return &Pipeline{
		msg:     msg,
		src:     src,
		cache:   cache,
		metrics: m,
		log:     log,
		now:     time.Now,
	}
}

// Deliver sends t to chatID. Progress and failures are shown in the chat;
// nothing is returned to the caller except the outcome.
func (p *Pipeline) Deliver(ctx context.Context, chatID int64, t domain.Track) (outcome domain.Outcome) {
	title := t.DisplayTitle()
	log := p.log.With(zap.Int64("chat_id", chatID), zap.String("url", t.URL))

	noticeID, err := p.msg.SendText(ctx, chatID, bot.Bold("⬇️ Downloading: "+title), nil)
	if err != nil {
		log.Warn("send download notice", zap.Error(err))
		noticeID = 0
	}

	var size int64
	defer func() {
		if r := recover(); r != nil {
			log.Error("delivery panicked",
				zap.String("panic", fmt.Sprint(r)),
				zap.ByteString("stack", debug.Stack()),
			)
			p.editNotice(ctx, chatID, noticeID, textUnexpected)
			outcome = domain.OutcomeUnexpected
		}
		p.record(chatID, t, size, outcome)
	}()

	if p.sendCached(ctx, chatID, t, title, log) {
		p.deleteNotice(ctx, chatID, noticeID)
		return domain.OutcomeCached
	}

	start := time.Now()
	data, err := p.fetch(ctx, t.URL)
	p.metrics.Fetch(time.Since(start))
	switch {
	case errors.Is(err, source.ErrTimeout):
		log.Warn("fetch timed out", zap.Error(err))
		p.editNotice(ctx, chatID, noticeID, textDownloadTimeout)
		return domain.OutcomeTimedOut
	case err != nil:
		log.Warn("fetch failed", zap.Error(err))
		p.editNotice(ctx, chatID, noticeID, textDownloadError)
		return domain.OutcomeFailed
	case len(data) == 0:
		log.Warn("fetch returned no audio")
		p.editNotice(ctx, chatID, noticeID, textDownloadError)
		return domain.OutcomeFailed
	}
	size = int64(len(data))

	if size > MaxUploadBytes {
		log.Warn("audio too large", zap.Int64("bytes", size))
		p.editNotice(ctx, chatID, noticeID, fmt.Sprintf("❌ Track is too large to send (%s).", humanize.Bytes(uint64(size))))
		return domain.OutcomeFailed
	}

	fileID, err := p.msg.SendAudio(ctx, chatID, bot.Audio{
		FileName: AssetName(title),
		Data:     data,
		Caption:  "🎧 " + bot.Bold(title),
		Title:    bot.Truncate(title, MaxFilenameRunes),
	})
	if err != nil {
		log.Warn("send audio", zap.Error(err))
		p.editNotice(ctx, chatID, noticeID, textDownloadError)
		return domain.OutcomeFailed
	}

	if p.cache != nil && fileID != "" {
		if err := p.cache.SaveFileID(t.URL, fileID, title, size); err != nil {
			log.Warn("save file id", zap.Error(err))
		}
	}
	p.deleteNotice(ctx, chatID, noticeID)
	log.Info("track delivered", zap.String("size", humanize.Bytes(uint64(size))))
	return domain.OutcomeDelivered
}

// sendCached resends a track Telegram already holds. A rejected file id is
// forgotten so the next attempt downloads again.
func (p *Pipeline) sendCached(ctx context.Context, chatID int64, t domain.Track, title string, log *zap.Logger) bool {
	if p.cache == nil || t.URL == "" {
		return false
	}
	fileID, ok, err := p.cache.CachedFileID(t.URL)
	if err != nil {
		log.Warn("lookup file id", zap.Error(err))
		return false
	}
	if !ok {
		return false
	}
	if _, err := p.msg.SendAudio(ctx, chatID, bot.Audio{
		FileID:  fileID,
		Caption: "🎧 " + bot.Bold(title),
		Title:   bot.Truncate(title, MaxFilenameRunes),
	}); err != nil {
		log.Info("cached file id rejected, downloading again", zap.Error(err))
		if err := p.cache.ForgetFileID(t.URL); err != nil {
			log.Warn("forget file id", zap.Error(err))
		}
		return false
	}
	return true
}

// fetchPanic carries a panic out of the shared fetch goroutine so it is
// raised again in the caller and handled by Deliver.
type fetchPanic struct{ value any }

func (e *fetchPanic) Error() string { return fmt.Sprintf("fetch panicked: %v", e.value) }

// fetch downloads url, sharing one extraction between concurrent requests
// for the same track. The shared extraction ignores the cancellation of
// whichever caller started it and is bounded only by the source's own fetch
// timeout; each caller stops waiting when its own ctx is done.
func (p *Pipeline) fetch(ctx context.Context, url string) ([]byte, error) {
	ch := p.fetches.DoChan(url, func() (v any, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = &fetchPanic{value: r}
			}
		}()
		return p.src.Fetch(context.WithoutCancel(ctx), url)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Shared {
			p.log.Debug("fetch shared between chats", zap.String("url", url))
		}
		var fp *fetchPanic
		if errors.As(res.Err, &fp) {
			panic(fp.value)
		}
		if res.Err != nil {
			return nil, res.Err
		}
		data, _ := res.Val.([]byte)
		return data, nil
	}
}

func (p *Pipeline) record(chatID int64, t domain.Track, size int64, o domain.Outcome) {
	p.metrics.Delivery(o, size)
	if p.cache == nil {
		return
	}
	if _, err := p.cache.RecordDelivery(domain.Delivery{
		ChatID:    chatID,
		Title:     t.DisplayTitle(),
		URL:       t.URL,
		Bytes:     size,
		Outcome:   o,
		CreatedAt: p.now(),
	}); err != nil {
		p.log.Warn("record delivery", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

func (p *Pipeline) editNotice(ctx context.Context, chatID int64, noticeID int, text string) {
	text = bot.Bold(text)
	if noticeID == 0 {
		if _, err := p.msg.SendText(ctx, chatID, text, nil); err != nil {
			p.log.Warn("send failure notice", zap.Int64("chat_id", chatID), zap.Error(err))
		}
		return
	}
	if err := p.msg.EditText(ctx, chatID, noticeID, text, nil); err != nil {
		p.log.Warn("edit notice", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

func (p *Pipeline) deleteNotice(ctx context.Context, chatID int64, noticeID int) {
	if noticeID == 0 {
		return
	}
	if err := p.msg.DeleteMessage(ctx, chatID, noticeID); err != nil {
		p.log.Debug("delete notice", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}
